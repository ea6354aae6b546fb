package stitch

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/phil-mansfield/stitch/lib/header"
	"github.com/phil-mansfield/stitch/lib/stats"
)

// GridBlock is one block of grid data produced by a flush. Its bulk data has
// already been written to File.
type GridBlock struct {
	Box header.Box
	// Lo and Hi are the physical corners of the block.
	Lo, Hi []float64
	File header.FabOnDisk
	// Min and Max hold one value per component.
	Min, Max []float64
}

// NewGridBlock creates a GridBlock and computes its statistics from the
// block's values. data[c] holds every value of component c.
func NewGridBlock(
	box header.Box, lo, hi []float64, fab header.FabOnDisk, data [][]float64,
) (GridBlock, error) {
	min, max, err := stats.Components(data)
	if err != nil { return GridBlock{}, errors.Wrapf(err, "block %s", box) }
	return GridBlock{
		Box: box, Lo: append([]float64{}, lo...), Hi: append([]float64{}, hi...),
		File: fab, Min: min, Max: max,
	}, nil
}

// ParticleBatch is the part of a flush belonging to one species in one box.
// Its Count particles start at byte Offset of the species' DataIndex-th data
// file.
type ParticleBatch struct {
	Species string
	Level int
	Box header.Box
	DataIndex int
	Count, Offset int64
}

// Flush is everything one flush of the diagnostic adds to a dataset. Blocks
// and Particles are applied in the order given.
type Flush struct {
	Time float64
	Step int
	// Level is the refinement level of Blocks.
	Level int
	// CellSize is optional. If set, it overwrites the dataset's cell size.
	CellSize []float64
	Blocks []GridBlock
	Particles []ParticleBatch
}

// check catches flushes which could never be merged into ds before any
// catalog is touched.
func (f *Flush) check(ds *Dataset) error {
	if f.Level < 0 {
		return errors.Wrapf(header.ErrInvalidLevel, "flush level %d", f.Level)
	} else if f.CellSize != nil && len(f.CellSize) != ds.SpaceDim {
		return errors.Wrapf(header.ErrDimension,
			"cell size has %d entries in a %d-dimensional dataset",
			len(f.CellSize), ds.SpaceDim)
	}

	nComp := len(ds.Components)
	for i, b := range f.Blocks {
		if b.Box.Dim() != ds.SpaceDim || len(b.Lo) != ds.SpaceDim ||
			len(b.Hi) != ds.SpaceDim {
			return errors.Wrapf(header.ErrDimension,
				"block %d of a %d-dimensional dataset has box %s, lo %v, hi %v",
				i, ds.SpaceDim, b.Box, b.Lo, b.Hi)
		} else if !b.Box.Valid() {
			return errors.Wrapf(header.ErrDimension,
				"block %d has the malformed box %s", i, b.Box)
		} else if !b.File.Valid() {
			return fmt.Errorf("block %d has the file reference '%s', which "+
				"has an empty field or a field with spaces", i, b.File)
		} else if len(b.Min) != nComp || len(b.Max) != nComp {
			return errors.Wrapf(header.ErrComponentCount,
				"block %d has %d minima and %d maxima for %d components",
				i, len(b.Min), len(b.Max), nComp)
		}
	}

	for i, p := range f.Particles {
		if _, ok := ds.species(p.Species); !ok {
			return fmt.Errorf("particle batch %d belongs to unknown "+
				"species '%s'", i, p.Species)
		} else if p.Level < 0 {
			return errors.Wrapf(header.ErrInvalidLevel,
				"particle batch %d has level %d", i, p.Level)
		} else if p.Box.Dim() != ds.SpaceDim || !p.Box.Valid() {
			return errors.Wrapf(header.ErrDimension,
				"particle batch %d has box %s in a %d-dimensional dataset",
				i, p.Box, ds.SpaceDim)
		}
	}
	return nil
}

// bySpecies splits the particle batches by species, keeping arrival order
// within each species.
func (f *Flush) bySpecies() map[string][]ParticleBatch {
	out := map[string][]ParticleBatch{}
	for _, p := range f.Particles {
		out[p.Species] = append(out[p.Species], p)
	}
	return out
}
