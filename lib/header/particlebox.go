package header

import (
	"fmt"

	"github.com/pkg/errors"
)

// ParticleBoxes is the box list that species catalog entries index into. It
// holds no statistics.
type ParticleBoxes struct {
	file
	boxes []Box
}

// CreateParticleBoxes initializes an empty box list which will be written to
// path.
func CreateParticleBoxes(path string) *ParticleBoxes {
	return &ParticleBoxes{ file: file{path: path, state: Created} }
}

// LoadParticleBoxes reads the box list at path.
func LoadParticleBoxes(path string) (*ParticleBoxes, error) {
	r, err := readLines(path)
	if err != nil { return nil, err }

	pb := &ParticleBoxes{ file: file{path: path, state: Loaded} }
	n, err := r.count("box array size")
	if err != nil { return nil, err }

	pb.boxes = make([]Box, n)
	for i := range pb.boxes {
		dim := 0
		if i > 0 { dim = pb.boxes[0].Dim() }
		pb.boxes[i], err = r.box(fmt.Sprintf("box %d", i), dim)
		if err != nil { return nil, err }
	}

	if err := r.end(); err != nil { return nil, err }
	return pb, nil
}

// AppendBoxes appends boxes to the list, in order. If any of them is
// malformed nothing is appended.
func (pb *ParticleBoxes) AppendBoxes(boxes []Box) error {
	dim := 0
	if len(pb.boxes) > 0 { dim = pb.boxes[0].Dim() }
	for i, b := range boxes {
		if !b.Valid() {
			return errors.Wrapf(ErrDimension, "box %d, %s, is malformed", i, b)
		}
		if dim == 0 { dim = b.Dim() }
		if b.Dim() != dim {
			return errors.Wrapf(ErrDimension, "box %d is %d-dimensional, "+
				"but the list is %d-dimensional", i, b.Dim(), dim)
		}
	}

	for _, b := range boxes { pb.boxes = append(pb.boxes, b.clone()) }
	if len(boxes) > 0 { pb.touch() }
	return nil
}

// Persist atomically replaces the file at Path() with the current state.
func (pb *ParticleBoxes) Persist() error {
	w := &lineWriter{}
	w.int(len(pb.boxes))
	for _, b := range pb.boxes { w.line(b.String()) }
	return pb.commit(w.Bytes())
}

// BoxArraySize returns the number of boxes in the list.
func (pb *ParticleBoxes) BoxArraySize() int { return len(pb.boxes) }

// Box returns box i.
func (pb *ParticleBoxes) Box(i int) (Box, error) {
	if i < 0 || i >= len(pb.boxes) {
		return Box{}, errors.Wrapf(ErrUnknownBox, "particle box %d of %d in %s",
			i, len(pb.boxes), pb.path)
	}
	return pb.boxes[i].clone(), nil
}
