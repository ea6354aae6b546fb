package header

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	// MultiFabVersion is the only block catalog version we know how to read.
	MultiFabVersion = 1
	// DefaultFabPrefix is the tag which starts every on-disk file reference.
	DefaultFabPrefix = "FabOnDisk:"

	multiFabHow = 0
)

// FabOnDisk says where the bulk data of one block lives: the data file Name,
// relative to the catalog's directory, and the byte Offset the block starts
// at. Prefix is the tag written in front of the reference.
type FabOnDisk struct {
	Prefix, Name string
	Offset int64
}

// Valid returns true if Name, and Prefix when it is set, can each be written
// as a single field.
func (fab FabOnDisk) Valid() bool {
	return isToken(fab.Name) && (fab.Prefix == "" || isToken(fab.Prefix))
}

func (fab FabOnDisk) String() string {
	return fab.Prefix + " " + fab.Name + " " + strconv.FormatInt(fab.Offset, 10)
}

// MultiFab is the catalog of the grid blocks on one refinement level: their
// boxes, where their data lives on disk, and the minimum and maximum of every
// component in every block.
//
// Appending a box is a pure list append. Existing boxes are never
// re-indexed, which is what allows many small flushes to be stitched into a
// single dataset without touching bulk data which has already been written.
type MultiFab struct {
	file

	version, how int
	nComp, nGhost int
	level int
	boxes []Box
	fabs []FabOnDisk
	min, max [][]float64

	// lastOffset is the largest offset referenced in each data file.
	lastOffset map[string]int64
}

// CreateMultiFab initializes an empty block catalog for the given level which
// will be written to path.
func CreateMultiFab(path string, level, nComp, nGhost int) (*MultiFab, error) {
	if nComp < 1 {
		return nil, errors.Wrapf(ErrComponentCount,
			"block catalog needs at least one component, got %d", nComp)
	} else if nGhost < 0 {
		return nil, fmt.Errorf("negative number of ghost cells, %d", nGhost)
	} else if level < 0 {
		return nil, errors.Wrapf(ErrInvalidLevel, "level %d", level)
	}

	return &MultiFab{
		file: file{path: path, state: Created},
		version: MultiFabVersion, how: multiFabHow,
		nComp: nComp, nGhost: nGhost, level: level,
		lastOffset: map[string]int64{},
	}, nil
}

// LoadMultiFab reads the block catalog at path.
func LoadMultiFab(path string) (*MultiFab, error) {
	r, err := readLines(path)
	if err != nil { return nil, err }

	mf := &MultiFab{
		file: file{path: path, state: Loaded},
		lastOffset: map[string]int64{},
	}
	if err := mf.read(r); err != nil { return nil, err }
	return mf, nil
}

func (mf *MultiFab) read(r *lineReader) error {
	var err error
	if mf.version, err = r.int("version"); err != nil { return err }
	if mf.version != MultiFabVersion {
		return malformedf(r.path, "unrecognized version %d", mf.version)
	}
	if mf.how, err = r.int("how"); err != nil { return err }
	if mf.how != multiFabHow {
		return malformedf(r.path, "unrecognized layout %d", mf.how)
	}
	if mf.nComp, err = r.count("number of components"); err != nil {
		return err
	}
	if mf.nComp == 0 {
		return malformedf(r.path, "catalog has no components")
	}
	if mf.nGhost, err = r.count("number of ghost cells"); err != nil {
		return err
	}
	if mf.level, err = r.count("level"); err != nil { return err }

	n, err := r.count("box array size")
	if err != nil { return err }

	mf.boxes = make([]Box, n)
	for i := range mf.boxes {
		dim := 0
		if i > 0 { dim = mf.boxes[0].Dim() }
		mf.boxes[i], err = r.box(fmt.Sprintf("box %d", i), dim)
		if err != nil { return err }
	}

	mf.fabs = make([]FabOnDisk, n)
	for i := range mf.fabs {
		tok, err := r.fields(fmt.Sprintf("file reference %d", i), 3)
		if err != nil { return err }
		off, err := strconv.ParseInt(tok[2], 10, 64)
		if err != nil || off < 0 {
			return malformedf(r.path, "file reference %d has offset '%s'",
				i, tok[2])
		}
		fab := FabOnDisk{tok[0], tok[1], off}
		if last, ok := mf.lastOffset[fab.Name]; ok && off < last {
			return malformedf(r.path,
				"offset %d of block %d comes before offset %d in %s",
				off, i, last, fab.Name)
		}
		mf.fabs[i], mf.lastOffset[fab.Name] = fab, off
	}

	if mf.min, err = mf.readStats(r, "minimum", n); err != nil { return err }
	if mf.max, err = mf.readStats(r, "maximum", n); err != nil { return err }
	return r.end()
}

func (mf *MultiFab) readStats(
	r *lineReader, what string, n int,
) ([][]float64, error) {
	s, err := r.str(what + " shape")
	if err != nil { return nil, err }
	if s != fmt.Sprintf("%d,%d", n, mf.nComp) {
		return nil, malformedf(r.path, "%s shape is '%s', but there are %d "+
			"boxes with %d components", what, s, n, mf.nComp)
	}

	out := make([][]float64, n)
	for i := range out {
		line, err := r.next(fmt.Sprintf("%s of box %d", what, i))
		if err != nil { return nil, err }
		tok := strings.Split(strings.TrimSuffix(line, ","), ",")
		if len(tok) != mf.nComp || line == "" {
			return nil, malformedf(r.path, "%s of box %d has %d entries, "+
				"but there are %d components", what, i, len(tok), mf.nComp)
		}

		out[i] = make([]float64, mf.nComp)
		for j := range tok {
			out[i][j], err = strconv.ParseFloat(strings.TrimSpace(tok[j]), 64)
			if err != nil {
				return nil, malformedf(r.path, "%s of box %d, '%s', is not a "+
					"number", what, i, tok[j])
			}
		}
	}
	return out, nil
}

func (mf *MultiFab) write() []byte {
	w := &lineWriter{}
	w.int(mf.version)
	w.int(mf.how)
	w.int(mf.nComp)
	w.int(mf.nGhost)
	w.int(mf.level)
	w.int(len(mf.boxes))
	for _, b := range mf.boxes { w.line(b.String()) }
	for _, fab := range mf.fabs { w.line(fab.String()) }
	writeStats(w, mf.min, mf.nComp)
	writeStats(w, mf.max, mf.nComp)
	return w.Bytes()
}

func writeStats(w *lineWriter, x [][]float64, nComp int) {
	w.line(fmt.Sprintf("%d,%d", len(x), nComp))
	for i := range x {
		var sb strings.Builder
		for j := range x[i] {
			sb.WriteString(formatFloat(x[i][j]))
			sb.WriteByte(',')
		}
		w.line(sb.String())
	}
}

// Persist atomically replaces the file at Path() with the current state.
func (mf *MultiFab) Persist() error {
	return mf.commit(mf.write())
}

// AppendBox appends a box, the location of its data on disk, and
// zero-initialized statistics. It returns the index of the new box.
func (mf *MultiFab) AppendBox(level int, b Box, fab FabOnDisk) (int, error) {
	if level != mf.level {
		return 0, errors.Wrapf(ErrInvalidLevel,
			"box for level %d appended to the level %d catalog %s",
			level, mf.level, mf.path)
	} else if !b.Valid() {
		return 0, errors.Wrapf(ErrDimension, "box %s is malformed", b)
	} else if len(mf.boxes) > 0 && b.Dim() != mf.boxes[0].Dim() {
		return 0, errors.Wrapf(ErrDimension,
			"%d-dimensional box appended to %d-dimensional catalog",
			b.Dim(), mf.boxes[0].Dim())
	}

	if fab.Prefix == "" { fab.Prefix = DefaultFabPrefix }
	if !isToken(fab.Prefix) || !isToken(fab.Name) {
		return 0, fmt.Errorf("file reference '%s' has an empty field or "+
			"a field with spaces", fab)
	}
	if fab.Offset < 0 {
		return 0, errors.Wrapf(ErrOffsetRegression,
			"negative offset %d in %s", fab.Offset, fab.Name)
	}
	if last, ok := mf.lastOffset[fab.Name]; ok && fab.Offset < last {
		return 0, errors.Wrapf(ErrOffsetRegression,
			"offset %d in %s comes before the already-recorded offset %d",
			fab.Offset, fab.Name, last)
	}

	mf.boxes = append(mf.boxes, b.clone())
	mf.fabs = append(mf.fabs, fab)
	mf.min = append(mf.min, make([]float64, mf.nComp))
	mf.max = append(mf.max, make([]float64, mf.nComp))
	mf.lastOffset[fab.Name] = fab.Offset

	mf.touch()
	return len(mf.boxes) - 1, nil
}

// SetStats records the per-component minimum and maximum of box i.
func (mf *MultiFab) SetStats(i int, min, max []float64) error {
	if i < 0 || i >= len(mf.boxes) {
		return errors.Wrapf(ErrUnknownBox, "box %d of %d in %s",
			i, len(mf.boxes), mf.path)
	} else if len(min) != mf.nComp || len(max) != mf.nComp {
		return errors.Wrapf(ErrComponentCount,
			"got %d minima and %d maxima for %d components",
			len(min), len(max), mf.nComp)
	}

	copy(mf.min[i], min)
	copy(mf.max[i], max)
	mf.touch()
	return nil
}

func (mf *MultiFab) NComp() int { return mf.nComp }
func (mf *MultiFab) NGhost() int { return mf.nGhost }
func (mf *MultiFab) Level() int { return mf.level }

// BoxArraySize returns the number of boxes appended so far.
func (mf *MultiFab) BoxArraySize() int { return len(mf.boxes) }

// Box returns box i.
func (mf *MultiFab) Box(i int) (Box, error) {
	if err := mf.checkIndex(i); err != nil { return Box{}, err }
	return mf.boxes[i].clone(), nil
}

// Fab returns the on-disk reference of box i.
func (mf *MultiFab) Fab(i int) (FabOnDisk, error) {
	if err := mf.checkIndex(i); err != nil { return FabOnDisk{}, err }
	return mf.fabs[i], nil
}

// Stats returns the per-component minimum and maximum of box i.
func (mf *MultiFab) Stats(i int) (min, max []float64, err error) {
	if err := mf.checkIndex(i); err != nil { return nil, nil, err }
	return append([]float64{}, mf.min[i]...),
		append([]float64{}, mf.max[i]...), nil
}

func (mf *MultiFab) checkIndex(i int) error {
	if i < 0 || i >= len(mf.boxes) {
		return errors.Wrapf(ErrUnknownBox, "box %d of %d in %s",
			i, len(mf.boxes), mf.path)
	}
	return nil
}

// isToken is true for non-empty strings which can be written as a single
// whitespace-separated field.
func isToken(s string) bool {
	return s != "" && len(strings.Fields(s)) == 1 && strings.TrimSpace(s) == s
}
