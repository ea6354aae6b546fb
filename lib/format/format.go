/*package format handles stitch's two miniature formatting languages, the ones
used in config files to say which buffers should be merged:

   BufferFormat = diags/lab_frame_data/buffer{%05d}
   Buffers = 0..100 - 63

Sequence formats are a generic way to specify non-contiguous sequences of
natural numbers. They consist of a series of n tokens separated by "+" or "-".
Each token can be either a number or two numbers separted by "..". E.g.:

  100
  0..100
  0..10 + 100
  0..100 - 63 - 10..20

These strings build up sequences of numbers by adding/removing individual
numbers and contiguous sequences. For example, 1, 2, 3, 15, 16, 17 could be
written as 1..17 - 4..14. This is useful for skipping buffers which were
never flushed.

Path formats are fixed text with exactly one variable, written as {verb},
where verb is a printf() integer verb (e.g. %d, %05d). The variable is
replaced by each number in the sequence.

All spaces around "-", "+", and ".." symbols are ignored.
*/
package format

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const (
	// Any expanded formats which would have more than BigNumber elements are
	// assumed to be bugs.
	BigNumber = 1 << 20
)

// ExpandSequenceFormat expands a sequence format string into a sorted sequence
// of integers.
func ExpandSequenceFormat(format string) ([]int, error) {
	tok, err := tokeniseSequenceFormat(format)
	if err != nil { return nil, err }
	adds, subs, err := addsSubsSequenceFormat(tok)
	if err != nil { return nil, err }

	m := map[int]bool{}
	for i := range adds {
		for _, n := range parseSequenceFormatToken(adds[i]) {
			if m[n] {
				return nil, fmt.Errorf("the number %d is added more than once", n)
			}
			m[n] = true
			if len(m) > BigNumber {
				return nil, fmt.Errorf("the sequence '%s' has more than %d "+
					"elements, which is almost certainly a bug", format, BigNumber)
			}
		}
	}

	for i := range subs {
		for _, n := range parseSequenceFormatToken(subs[i]) {
			if !m[n] {
				return nil, fmt.Errorf("the number %d is removed more times "+
					"than it was inserted", n)
			}
			delete(m, n)
		}
	}

	out := make([]int, 0, len(m))
	for n := range m { out = append(out, n) }
	sort.Ints(out)
	return out, nil
}

// tokeniseSequenceFormat splits a sequence format string into numbers, ranges,
// and operators.
func tokeniseSequenceFormat(format string) ([]string, error) {
	formatClean := strings.ReplaceAll(format, "+", " + ")
	formatClean = strings.ReplaceAll(formatClean, "-", " - ")
	formatClean = strings.ReplaceAll(formatClean, "..", " .. ")

	// Glue ranges back together so that "0 .. 10" is one token.
	raw := strings.Fields(formatClean)
	tok := []string{}
	for i := 0; i < len(raw); i++ {
		if raw[i] == ".." && len(tok) > 0 && i+1 < len(raw) {
			tok[len(tok)-1] += ".." + raw[i+1]
			i++
			continue
		}
		tok = append(tok, raw[i])
	}

	if len(tok) == 0 {
		return nil, fmt.Errorf("the format string is empty")
	}
	return tok, nil
}

func addsSubsSequenceFormat(tok []string) (adds, subs []string, err error) {
	if len(tok) == 0 {
		return nil, nil, fmt.Errorf("the format string is empty")
	}

	// Handle the case where the starting "+" is dropped.
	adds, subs = []string{}, []string{}
	start := 0
	if tok[0] != "+" && tok[0] != "-" {
		if err := isSequenceFormatToken(tok[0]); err != nil {
			return nil, nil, fmt.Errorf(
				"element number %d, '%s', cannot be parsed because %s",
				1, tok[0], err.Error(),
			)
		}
		adds = append(adds, tok[0])
		start = 1
	}

	for i := start; i < len(tok); i += 2 {
		if tok[i] != "-" && tok[i] != "+" {
			return nil, nil, fmt.Errorf(
				"element number %d, '%s', should be a '-' or '+', but isn't",
				i+1, tok[i])
		}
		if i+1 >= len(tok) {
			return nil, nil, fmt.Errorf(
				"the format string ends in a trailing '%s'", tok[i])
		}
		if err := isSequenceFormatToken(tok[i+1]); err != nil {
			return nil, nil, fmt.Errorf(
				"element number %d, '%s', cannot be parsed because %s",
				i+2, tok[i+1], err.Error(),
			)
		}

		if tok[i] == "+" {
			adds = append(adds, tok[i+1])
		} else {
			subs = append(subs, tok[i+1])
		}
	}

	return adds, subs, nil
}

// isSequenceFormatToken returns a nil error is tok is a valid token for
// a sequence format and an error describing the problem otherwise. The error
// message assumes it is printed after a trailing "because".
func isSequenceFormatToken(tok string) error {
	bounds := strings.Split(tok, "..")

	switch len(bounds) {
	case 1:
		if _, err := strconv.Atoi(bounds[0]); err != nil {
			return fmt.Errorf("'%s' is not an integer", bounds[0])
		}
		return nil
	case 2:
		start, err := strconv.Atoi(bounds[0])
		if err != nil {
			return fmt.Errorf("'%s' is not an integer", bounds[0])
		}
		end, err := strconv.Atoi(bounds[1])
		if err != nil {
			return fmt.Errorf("'%s' is not an integer", bounds[1])
		}
		if end < start {
			return fmt.Errorf("lower bound %d is larger than upper bound %d",
				start, end)
		}
		if end-start >= BigNumber {
			return fmt.Errorf("the range %d..%d is too long", start, end)
		}
		return nil
	}
	return fmt.Errorf("it has more than one '..'")
}

// parseSequenceFormatToken parses a single token which has already passed
// isSequenceFormatToken and returns the corresponding array of numbers.
func parseSequenceFormatToken(tok string) []int {
	bounds := strings.Split(tok, "..")
	if len(bounds) == 1 {
		n, _ := strconv.Atoi(tok)
		return []int{n}
	}

	start, _ := strconv.Atoi(bounds[0])
	end, _ := strconv.Atoi(bounds[1])
	out := make([]int, 0, end-start+1)
	for n := start; n <= end; n++ { out = append(out, n) }
	return out
}

// PathFormat is a parsed path format string.
type PathFormat struct {
	prefix, verb, suffix string
}

// ParsePathFormat parses a path format with exactly one {verb} variable.
func ParsePathFormat(format string) (*PathFormat, error) {
	starts, ends, err := pathFormatStartsEnds(format)
	if err != nil { return nil, err }
	if len(starts) != 1 {
		return nil, fmt.Errorf("the path format '%s' has %d variables, but "+
			"it needs exactly one", format, len(starts))
	}

	verb := format[starts[0]+1 : ends[0]-1]
	if !isIntVerb(verb) {
		return nil, fmt.Errorf("the path format '%s' has the variable '{%s}', "+
			"but variables must be integer printf verbs like %%d or %%05d",
			format, verb)
	}

	return &PathFormat{format[:starts[0]], verb, format[ends[0]:]}, nil
}

// Path returns the path for the number n.
func (pf *PathFormat) Path(n int) string {
	return pf.prefix + fmt.Sprintf(pf.verb, n) + pf.suffix
}

// Paths returns the path for every number in a sequence format.
func (pf *PathFormat) Paths(sequence string) ([]string, error) {
	seq, err := ExpandSequenceFormat(sequence)
	if err != nil { return nil, err }
	out := make([]string, len(seq))
	for i, n := range seq { out[i] = pf.Path(n) }
	return out, nil
}

// pathFormatStartsEnds returns the indices of the beginning and end of each
// format variable.
func pathFormatStartsEnds(format string) (starts, ends []int, err error) {
	starts, ends = []int{}, []int{}
	nestedLevel := 0

	ending := "Make sure variables in path formats are enclosed in matching " +
		"{ ... } pairs."

	for i := range format {
		if format[i] == '{' {
			nestedLevel++
			starts = append(starts, i)
		} else if format[i] == '}' {
			nestedLevel--
			ends = append(ends, i+1)
		}

		if nestedLevel > 1 {
			end := len(starts) - 1
			return nil, nil, fmt.Errorf("the path format '%s' has nested '{' "+
				"characters at indices %d and %d. "+ending,
				format, starts[end-1], starts[end])
		} else if nestedLevel < 0 {
			return nil, nil, fmt.Errorf("the path format '%s' has a '}' that "+
				"doesn't come after a '{' at index %d. "+ending, format, i)
		}
	}

	if len(ends) != len(starts) {
		return nil, nil, fmt.Errorf("the path format '%s' has a '{' without "+
			"a matching '}' at index %d. "+ending, format, starts[len(starts)-1])
	}

	return starts, ends, nil
}

// isIntVerb returns true for printf verbs of the form %d, %5d, %05d.
func isIntVerb(verb string) bool {
	if len(verb) < 2 || verb[0] != '%' || verb[len(verb)-1] != 'd' {
		return false
	}
	for _, c := range verb[1 : len(verb)-1] {
		if c < '0' || c > '9' { return false }
	}
	return true
}
