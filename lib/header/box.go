package header

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/phil-mansfield/stitch/lib/eq"
)

// Box is a rectangular region of index space. Lo and Hi are inclusive cell
// indices and Type gives the centering of each dimension (0 for
// cell-centered, 1 for node-centered). All three have one entry per spatial
// dimension.
type Box struct {
	Lo, Hi, Type []int
}

// NewBox returns a cell-centered box with the given corners.
func NewBox(lo, hi []int) Box {
	return Box{
		Lo: append([]int{}, lo...),
		Hi: append([]int{}, hi...),
		Type: make([]int, len(lo)),
	}
}

// Dim returns the number of spatial dimensions of the box.
func (b Box) Dim() int { return len(b.Lo) }

// Equal returns true if the two boxes have identical corners and types.
func (b Box) Equal(o Box) bool {
	return eq.Ints(b.Lo, o.Lo) && eq.Ints(b.Hi, o.Hi) && eq.Ints(b.Type, o.Type)
}

// Union returns the smallest box containing both b and o. The centering of b
// is kept.
func (b Box) Union(o Box) Box {
	u := b.clone()
	for i := range u.Lo {
		if o.Lo[i] < u.Lo[i] { u.Lo[i] = o.Lo[i] }
		if o.Hi[i] > u.Hi[i] { u.Hi[i] = o.Hi[i] }
	}
	return u
}

func (b Box) clone() Box {
	return Box{
		append([]int{}, b.Lo...),
		append([]int{}, b.Hi...),
		append([]int{}, b.Type...),
	}
}

// Valid returns true if the box has one entry per dimension in Lo, Hi, and
// Type, Lo <= Hi everywhere, and every Type is 0 or 1.
func (b Box) Valid() bool {
	if len(b.Lo) == 0 || len(b.Lo) != len(b.Hi) || len(b.Lo) != len(b.Type) {
		return false
	}
	for i := range b.Lo {
		if b.Lo[i] > b.Hi[i] || (b.Type[i] != 0 && b.Type[i] != 1) {
			return false
		}
	}
	return true
}

// String writes the box in the form ((0,0,0) (7,7,7) (0,0,0)).
func (b Box) String() string {
	return "(" + intTuple(b.Lo) + " " + intTuple(b.Hi) + " " +
		intTuple(b.Type) + ")"
}

func intTuple(x []int) string {
	s := make([]string, len(x))
	for i := range x { s[i] = strconv.Itoa(x[i]) }
	return "(" + strings.Join(s, ",") + ")"
}

// ParseBox parses the output of Box.String.
func ParseBox(s string) (Box, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '(' || s[len(s)-1] != ')' {
		return Box{}, fmt.Errorf("box '%s' is not enclosed in parentheses", s)
	}

	body := strings.TrimSpace(s[1 : len(s)-1])
	tuples := [][]int{}
	for len(body) > 0 {
		if body[0] != '(' {
			return Box{}, fmt.Errorf("box '%s' has text outside of a tuple", s)
		}
		end := strings.IndexByte(body, ')')
		if end == -1 {
			return Box{}, fmt.Errorf("box '%s' has an unclosed tuple", s)
		}

		tup, err := parseIntTuple(body[1:end])
		if err != nil {
			return Box{}, errors.Wrapf(err, "box '%s'", s)
		}
		tuples = append(tuples, tup)
		body = strings.TrimSpace(body[end+1:])
	}

	if len(tuples) != 3 {
		return Box{}, fmt.Errorf("box '%s' has %d tuples instead of 3",
			s, len(tuples))
	}
	b := Box{tuples[0], tuples[1], tuples[2]}
	if !b.Valid() {
		return Box{}, fmt.Errorf("box '%s' has tuples of different lengths, "+
			"a lower corner above its upper corner, or an unknown type", s)
	}
	return b, nil
}

func parseIntTuple(s string) ([]int, error) {
	tok := strings.Split(s, ",")
	out := make([]int, len(tok))
	for i := range tok {
		n, err := strconv.Atoi(strings.TrimSpace(tok[i]))
		if err != nil {
			return nil, fmt.Errorf("'%s' is not an integer", tok[i])
		}
		out[i] = n
	}
	return out, nil
}
