package header

/* text.go contains the plain-text codec shared by all four catalogs. Every
catalog is written as a sequence of lines where each line holds either a
single value or a whitespace-separated list. Readers must know how many
entries each list has from an earlier count, which is what lets us detect
both inconsistent and truncated files. */

import (
	"bytes"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

type lineReader struct {
	path string
	lines []string
	i int
}

// readLines reads the whole file at path. Missing files are reported with
// ErrNotFound.
func readLines(path string) (*lineReader, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(ErrNotFound, "%s", path)
	} else if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}

	text := string(b)
	if len(text) == 0 {
		return nil, errors.Wrapf(ErrPartialWrite, "%s is empty", path)
	}
	complete := strings.HasSuffix(text, "\n")
	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	if !complete {
		// The final line was cut off mid-write, so it can't be trusted.
		lines = lines[:len(lines)-1]
	}

	return &lineReader{path: path, lines: lines}, nil
}

func (r *lineReader) next(what string) (string, error) {
	if r.i >= len(r.lines) {
		return "", errors.Wrapf(ErrPartialWrite,
			"%s ends before %s (line %d)", r.path, what, r.i+1)
	}
	line := r.lines[r.i]
	r.i++
	return strings.TrimSpace(line), nil
}

func (r *lineReader) str(what string) (string, error) {
	s, err := r.next(what)
	if err != nil { return "", err }
	if s == "" {
		return "", malformedf(r.path, "%s on line %d is empty", what, r.i)
	}
	return s, nil
}

func (r *lineReader) int(what string) (int, error) {
	s, err := r.next(what)
	if err != nil { return 0, err }
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, malformedf(r.path, "%s on line %d, '%s', is not an integer",
			what, r.i, s)
	}
	return n, nil
}

// count reads a non-negative integer.
func (r *lineReader) count(what string) (int, error) {
	n, err := r.int(what)
	if err != nil { return 0, err }
	if n < 0 {
		return 0, malformedf(r.path, "%s on line %d is negative (%d)",
			what, r.i, n)
	}
	return n, nil
}

func (r *lineReader) int64(what string) (int64, error) {
	s, err := r.next(what)
	if err != nil { return 0, err }
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, malformedf(r.path, "%s on line %d, '%s', is not an integer",
			what, r.i, s)
	}
	return n, nil
}

func (r *lineReader) float(what string) (float64, error) {
	s, err := r.next(what)
	if err != nil { return 0, err }
	x, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, malformedf(r.path, "%s on line %d, '%s', is not a number",
			what, r.i, s)
	}
	return x, nil
}

// fields reads a line which must contain exactly n whitespace-separated
// tokens.
func (r *lineReader) fields(what string, n int) ([]string, error) {
	s, err := r.next(what)
	if err != nil { return nil, err }
	tok := strings.Fields(s)
	if len(tok) != n {
		return nil, malformedf(r.path,
			"%s on line %d has %d entries, but %d were declared",
			what, r.i, len(tok), n)
	}
	return tok, nil
}

func (r *lineReader) floats(what string, n int) ([]float64, error) {
	tok, err := r.fields(what, n)
	if err != nil { return nil, err }
	out := make([]float64, n)
	for i := range tok {
		if out[i], err = strconv.ParseFloat(tok[i], 64); err != nil {
			return nil, malformedf(r.path, "%s on line %d, '%s', is not a number",
				what, r.i, tok[i])
		}
	}
	return out, nil
}

func (r *lineReader) int64s(what string, n int) ([]int64, error) {
	tok, err := r.fields(what, n)
	if err != nil { return nil, err }
	out := make([]int64, n)
	for i := range tok {
		if out[i], err = strconv.ParseInt(tok[i], 10, 64); err != nil {
			return nil, malformedf(r.path,
				"%s on line %d, '%s', is not an integer", what, r.i, tok[i])
		}
	}
	return out, nil
}

func (r *lineReader) box(what string, dim int) (Box, error) {
	s, err := r.next(what)
	if err != nil { return Box{}, err }
	b, err := ParseBox(s)
	if err != nil {
		return Box{}, malformedf(r.path, "%s on line %d: %s", what, r.i, err)
	}
	if dim > 0 && b.Dim() != dim {
		return Box{}, malformedf(r.path, "%s on line %d is %d-dimensional, not %d",
			what, r.i, b.Dim(), dim)
	}
	return b, nil
}

// end checks that nothing but blank lines follow the last field.
func (r *lineReader) end() error {
	for ; r.i < len(r.lines); r.i++ {
		if strings.TrimSpace(r.lines[r.i]) != "" {
			return malformedf(r.path, "unexpected trailing data on line %d",
				r.i+1)
		}
	}
	return nil
}

type lineWriter struct {
	bytes.Buffer
}

func (w *lineWriter) line(s string) {
	w.WriteString(s)
	w.WriteByte('\n')
}

func (w *lineWriter) int(n int) { w.line(strconv.Itoa(n)) }

func (w *lineWriter) int64(n int64) { w.line(strconv.FormatInt(n, 10)) }

func (w *lineWriter) float(x float64) { w.line(formatFloat(x)) }

func (w *lineWriter) floats(x []float64) {
	s := make([]string, len(x))
	for i := range x { s[i] = formatFloat(x[i]) }
	w.line(strings.Join(s, " "))
}

func (w *lineWriter) int64s(x []int64) {
	s := make([]string, len(x))
	for i := range x { s[i] = strconv.FormatInt(x[i], 10) }
	w.line(strings.Join(s, " "))
}

// formatFloat uses the shortest representation that parses back to exactly
// the same value.
func formatFloat(x float64) string {
	return strconv.FormatFloat(x, 'g', -1, 64)
}
