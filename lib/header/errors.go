package header

import (
	"github.com/pkg/errors"
)

/* errors.go contains the error values returned by the catalogs. Every error a
catalog returns wraps exactly one of these, so callers should compare with
errors.Is rather than by message. */

var (
	// ErrNotFound is returned by the Load* functions when the header file does
	// not exist. Callers that are building a new dataset should fall back to
	// the matching Create* function.
	ErrNotFound = errors.New("header not found")
	// ErrMalformedHeader means that the file on disk could not be parsed, has
	// an unrecognized version, or declares counts which don't match the
	// lists which follow them.
	ErrMalformedHeader = errors.New("malformed header")
	// ErrPartialWrite means the file ended before all the entries its own
	// counts promised were read. It wraps ErrMalformedHeader.
	ErrPartialWrite = errors.Wrap(ErrMalformedHeader, "partial write detected")

	// ErrUnknownBox is returned when a box index is outside of the range of
	// boxes appended so far.
	ErrUnknownBox = errors.New("unknown box")
	// ErrInvalidLevel is returned when a refinement level is referenced before
	// it has been registered.
	ErrInvalidLevel = errors.New("invalid level")
	// ErrOffsetRegression is returned when a new entry would point to a byte
	// offset before an earlier entry in the same data file.
	ErrOffsetRegression = errors.New("byte offset regression")
	// ErrComponentCount is returned when per-component statistics have the
	// wrong length.
	ErrComponentCount = errors.New("wrong number of components")
	// ErrDimension is returned when a coordinate array or box has the wrong
	// number of spatial dimensions.
	ErrDimension = errors.New("wrong number of dimensions")
)

// malformedf wraps ErrMalformedHeader with a description of what was wrong in
// which file.
func malformedf(path, format string, a ...interface{}) error {
	return errors.Wrapf(ErrMalformedHeader, "%s: "+format,
		append([]interface{}{path}, a...)...)
}
