/*package header reads, modifies, and writes the four metadata files of a
back-transformed diagnostic dataset:

   Header                          Plotfile: components, time, global extents
   Level_<n>/Cell_H                MultiFab: block boxes, files, and statistics
   <species>/Header                Species: particle counts, offsets, and ids
   <species>/Level_<n>/Particle_H  ParticleBoxes: particle box list

Each catalog is created or loaded from an explicit path, mutated in memory by
append-only operations, and written back with Persist. Persist writes to a
temporary file and renames it over the old one, so the file on disk is always
either the previous valid state or the new one.
*/
package header

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

const (
	// PlotfileVersion is the only top-level header version we know how to
	// read and write.
	PlotfileVersion = "HyperCLaw-V1.1"
	// DefaultCellPath is the location of the level 0 block data, relative to
	// the dataset directory.
	DefaultCellPath = "Level_0/Cell"
	// MaxSpaceDim is the largest dimensionality a dataset can have.
	MaxSpaceDim = 3
)

// Plotfile is the top-level descriptor of a dataset: its components, the
// simulation time and step, the global domain, and the physical extent of
// every grid block which has been stitched into it so far.
//
// Blocks are only ever appended. A new plotfile's extents and domain start at
// the origin, and every append widens them to their union with the new
// blocks, so they can only grow.
type Plotfile struct {
	file

	version string
	names []string
	spaceDim int
	time float64
	finestLevel int
	probLo, probHi []float64
	domain Box
	cellSize []float64
	coordSys int
	blockLo, blockHi [][]float64
	step int
	cellPath string
}

// CreatePlotfile initializes an empty descriptor which will be written to
// path. Nothing touches the disk until Persist is called.
func CreatePlotfile(
	path, version string, names []string, spaceDim int,
) (*Plotfile, error) {
	if version != PlotfileVersion {
		return nil, errors.Wrapf(ErrMalformedHeader,
			"unrecognized plotfile version '%s'", version)
	} else if spaceDim < 1 || spaceDim > MaxSpaceDim {
		return nil, errors.Wrapf(ErrDimension,
			"space dimension %d is not in [1, %d]", spaceDim, MaxSpaceDim)
	} else if len(names) == 0 {
		return nil, errors.Wrapf(ErrComponentCount,
			"a plotfile needs at least one component")
	}
	for _, name := range names {
		if strings.TrimSpace(name) != name || name == "" {
			return nil, errors.Wrapf(ErrComponentCount,
				"component name '%s' is empty or has surrounding spaces", name)
		}
	}

	return &Plotfile{
		file: file{path: path, state: Created},
		version: version,
		names: append([]string{}, names...),
		spaceDim: spaceDim,
		probLo: make([]float64, spaceDim),
		probHi: make([]float64, spaceDim),
		domain: NewBox(make([]int, spaceDim), make([]int, spaceDim)),
		cellSize: make([]float64, spaceDim),
		cellPath: DefaultCellPath,
	}, nil
}

// LoadPlotfile reads the descriptor at path.
func LoadPlotfile(path string) (*Plotfile, error) {
	r, err := readLines(path)
	if err != nil { return nil, err }

	p := &Plotfile{ file: file{path: path, state: Loaded} }
	if err := p.read(r); err != nil { return nil, err }
	return p, nil
}

func (p *Plotfile) read(r *lineReader) error {
	var err error
	if p.version, err = r.str("version"); err != nil { return err }
	if p.version != PlotfileVersion {
		return malformedf(r.path, "unrecognized version '%s'", p.version)
	}

	nComp, err := r.count("number of components")
	if err != nil { return err }
	p.names = make([]string, nComp)
	for i := range p.names {
		if p.names[i], err = r.str("component name"); err != nil { return err }
	}

	if p.spaceDim, err = r.int("space dimension"); err != nil { return err }
	if p.spaceDim < 1 || p.spaceDim > MaxSpaceDim {
		return malformedf(r.path, "space dimension %d is not in [1, %d]",
			p.spaceDim, MaxSpaceDim)
	}
	dim := p.spaceDim

	if p.time, err = r.float("time"); err != nil { return err }
	if p.finestLevel, err = r.count("finest level"); err != nil { return err }
	if p.probLo, err = r.floats("problo", dim); err != nil { return err }
	if p.probHi, err = r.floats("probhi", dim); err != nil { return err }
	if p.domain, err = r.box("domain", dim); err != nil { return err }
	if p.cellSize, err = r.floats("cell size", dim); err != nil { return err }
	if p.coordSys, err = r.int("coordinate system"); err != nil { return err }

	nBlocks, err := r.count("number of blocks")
	if err != nil { return err }
	p.blockLo = make([][]float64, nBlocks)
	p.blockHi = make([][]float64, nBlocks)
	for i := 0; i < nBlocks; i++ {
		x, err := r.floats(fmt.Sprintf("extent of block %d", i), 2*dim)
		if err != nil { return err }
		p.blockLo[i], p.blockHi[i] = x[:dim:dim], x[dim:]
	}

	if p.step, err = r.int("timestep"); err != nil { return err }
	if p.cellPath, err = r.str("cell path"); err != nil { return err }
	return r.end()
}

func (p *Plotfile) write() []byte {
	w := &lineWriter{}
	w.line(p.version)
	w.int(len(p.names))
	for _, name := range p.names { w.line(name) }
	w.int(p.spaceDim)
	w.float(p.time)
	w.int(p.finestLevel)
	w.floats(p.probLo)
	w.floats(p.probHi)
	w.line(p.domain.String())
	w.floats(p.cellSize)
	w.int(p.coordSys)
	w.int(len(p.blockLo))
	for i := range p.blockLo {
		w.floats(append(append([]float64{}, p.blockLo[i]...), p.blockHi[i]...))
	}
	w.int(p.step)
	w.line(p.cellPath)
	return w.Bytes()
}

// Persist atomically replaces the file at Path() with the current state.
func (p *Plotfile) Persist() error {
	return p.commit(p.write())
}

// AppendBlocks appends the physical extents of new blocks, in the order
// given, and widens the global extents to cover them. If any block is
// invalid, nothing is appended.
func (p *Plotfile) AppendBlocks(lo, hi [][]float64) error {
	if len(lo) != len(hi) {
		return errors.Wrapf(ErrDimension,
			"%d lower corners given with %d upper corners", len(lo), len(hi))
	}
	for i := range lo {
		if len(lo[i]) != p.spaceDim || len(hi[i]) != p.spaceDim {
			return errors.Wrapf(ErrDimension,
				"block %d has %d/%d-dimensional corners in a %d-dimensional "+
					"plotfile", i, len(lo[i]), len(hi[i]), p.spaceDim)
		}
		for d := range lo[i] {
			if lo[i][d] > hi[i][d] {
				return errors.Wrapf(ErrDimension,
					"block %d has lower corner %g above upper corner %g in "+
						"dimension %d", i, lo[i][d], hi[i][d], d)
			}
		}
	}
	if len(lo) == 0 { return nil }

	for i := range lo {
		bLo := append([]float64{}, lo[i]...)
		bHi := append([]float64{}, hi[i]...)
		p.blockLo = append(p.blockLo, bLo)
		p.blockHi = append(p.blockHi, bHi)

		for d := range bLo {
			if bLo[d] < p.probLo[d] { p.probLo[d] = bLo[d] }
			if bHi[d] > p.probHi[d] { p.probHi[d] = bHi[d] }
		}
	}

	p.touch()
	return nil
}

// WidenDomain grows the index-space domain to the union of itself and b.
func (p *Plotfile) WidenDomain(b Box) error {
	if b.Dim() != p.spaceDim || !b.Valid() {
		return errors.Wrapf(ErrDimension,
			"domain box %s is not %d-dimensional", b, p.spaceDim)
	}
	p.domain = p.domain.Union(b)
	p.touch()
	return nil
}

// SetTime overwrites the simulation time. The most recent flush wins.
func (p *Plotfile) SetTime(t float64) { p.time = t; p.touch() }

// SetStep overwrites the simulation step. The most recent flush wins.
func (p *Plotfile) SetStep(n int) { p.step = n; p.touch() }

// SetCellSize overwrites the cell size.
func (p *Plotfile) SetCellSize(dx []float64) error {
	if len(dx) != p.spaceDim {
		return errors.Wrapf(ErrDimension, "cell size has %d entries, not %d",
			len(dx), p.spaceDim)
	}
	p.cellSize = append([]float64{}, dx...)
	p.touch()
	return nil
}

// RaiseFinestLevel records that data exists on the given level. The finest
// level never decreases.
func (p *Plotfile) RaiseFinestLevel(level int) {
	if level > p.finestLevel {
		p.finestLevel = level
		p.touch()
	}
}

// SetCellPath changes where the block data lives relative to the dataset.
func (p *Plotfile) SetCellPath(path string) error {
	if strings.TrimSpace(path) == "" || strings.ContainsAny(path, "\n") {
		return fmt.Errorf("invalid cell path '%s'", path)
	}
	p.cellPath = path
	p.touch()
	return nil
}

func (p *Plotfile) Version() string { return p.version }
func (p *Plotfile) Names() []string { return append([]string{}, p.names...) }
func (p *Plotfile) SpaceDim() int { return p.spaceDim }
func (p *Plotfile) Time() float64 { return p.time }
func (p *Plotfile) Step() int { return p.step }
func (p *Plotfile) FinestLevel() int { return p.finestLevel }
func (p *Plotfile) CoordSys() int { return p.coordSys }
func (p *Plotfile) CellPath() string { return p.cellPath }
func (p *Plotfile) ProbDomain() Box { return p.domain.clone() }
func (p *Plotfile) NumBlocks() int { return len(p.blockLo) }

func (p *Plotfile) ProbLo() []float64 { return append([]float64{}, p.probLo...) }
func (p *Plotfile) ProbHi() []float64 { return append([]float64{}, p.probHi...) }

func (p *Plotfile) CellSize() []float64 {
	return append([]float64{}, p.cellSize...)
}

// BlockLo returns the lower physical corner of block i.
func (p *Plotfile) BlockLo(i int) ([]float64, error) {
	if i < 0 || i >= len(p.blockLo) {
		return nil, errors.Wrapf(ErrUnknownBox, "block %d of %d", i,
			len(p.blockLo))
	}
	return append([]float64{}, p.blockLo[i]...), nil
}

// BlockHi returns the upper physical corner of block i.
func (p *Plotfile) BlockHi(i int) ([]float64, error) {
	if i < 0 || i >= len(p.blockHi) {
		return nil, errors.Wrapf(ErrUnknownBox, "block %d of %d", i,
			len(p.blockHi))
	}
	return append([]float64{}, p.blockHi[i]...), nil
}
