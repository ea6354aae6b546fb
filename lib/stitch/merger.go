package stitch

import (
	"context"
	"io"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/phil-mansfield/stitch/lib/eq"
	"github.com/phil-mansfield/stitch/lib/header"
)

// Merger applies flushes to one dataset. Calls to Merge must be serialized by
// the caller: a Merger assumes it is the only writer of its dataset.
type Merger struct {
	ds Dataset
	logger logrus.FieldLogger
	threads int
}

// Option configures a Merger.
type Option func(*Merger)

// WithLogger sets the logger a Merger reports to. By default nothing is
// logged.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(m *Merger) { m.logger = logger }
}

// WithThreads limits the number of catalogs which are merged at the same time.
// n <= 0 means no limit.
func WithThreads(n int) Option {
	return func(m *Merger) { m.threads = n }
}

// NewMerger creates a Merger for ds.
func NewMerger(ds Dataset, opts ...Option) (*Merger, error) {
	if err := ds.Validate(); err != nil { return nil, err }

	quiet := logrus.New()
	quiet.Out = io.Discard
	m := &Merger{ds: ds, logger: quiet}
	for _, opt := range opts { opt(m) }
	return m, nil
}

// Dataset returns the dataset the Merger writes to.
func (m *Merger) Dataset() Dataset { return m.ds }

// Result summarizes what one Merge added to the dataset.
type Result struct {
	// FirstBlock is the index in the block catalog of the flush's first block
	// and Blocks is the number of blocks which were added.
	FirstBlock, Blocks int
	// Particles maps species names to the number of particles added.
	Particles map[string]int64
	// FirstIDs maps species names to the first particle id reserved for the
	// flush. The flush's particles own the ids
	// [FirstIDs[name], FirstIDs[name] + Particles[name]).
	FirstIDs map[string]int64
}

type speciesResult struct {
	name string
	count, firstID int64
}

// gridUpdate is a flush applied in memory to the grid catalogs.
type gridUpdate struct {
	mf *header.MultiFab
	p *header.Plotfile
	first int
}

// speciesUpdate is a flush applied in memory to one species' catalogs. sp is
// nil when the species is left alone.
type speciesUpdate struct {
	res speciesResult
	sp *header.Species
	pbs []*header.ParticleBoxes
}

// catalog is one metadata file which Merge writes.
type catalog interface {
	Path() string
	Persist() error
}

// Merge applies f to the dataset. Catalogs which don't exist yet are created.
//
// Merge first applies f to every catalog in memory. The grid catalogs and the
// catalogs of each species are independent, so this is done concurrently.
// Only if every catalog accepted f are they persisted, leaves first. If one of
// them fails to persist, the ones already written are restored, so a failed
// Merge leaves the dataset as it was.
func (m *Merger) Merge(ctx context.Context, f Flush) (Result, error) {
	res, err := m.merge(ctx, &f)
	if err != nil {
		m.logger.WithField("action", "merge").WithField("dir", m.ds.Dir).
			WithError(err).Error("merge failed")
		return Result{}, err
	}

	m.logger.WithFields(logrus.Fields{
		"action": "merge",
		"dir": m.ds.Dir,
		"step": f.Step,
		"time": f.Time,
		"blocks": len(f.Blocks),
		"first_block": res.FirstBlock,
		"particles": len(f.Particles),
	}).Info("merged flush")
	return res, nil
}

func (m *Merger) merge(ctx context.Context, f *Flush) (Result, error) {
	if err := f.check(&m.ds); err != nil { return Result{}, err }
	if err := m.removeOrphans(f); err != nil { return Result{}, err }

	g, gctx := errgroup.WithContext(ctx)
	if m.threads > 0 { g.SetLimit(m.threads) }

	var grid *gridUpdate
	g.Go(func() error {
		if err := gctx.Err(); err != nil { return err }
		u, err := m.stageGrid(f)
		grid = u
		return err
	})

	batches := f.bySpecies()
	species := make([]*speciesUpdate, len(m.ds.Species))
	for i := range m.ds.Species {
		i, def := i, m.ds.Species[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil { return err }
			u, err := m.stageSpecies(def, batches[def.Name])
			species[i] = u
			return err
		})
	}

	if err := g.Wait(); err != nil { return Result{}, err }
	if err := ctx.Err(); err != nil { return Result{}, err }

	leaves, roots := []catalog{grid.mf}, []catalog{}
	for _, u := range species {
		if u.sp == nil { continue }
		for _, pb := range u.pbs { leaves = append(leaves, pb) }
		roots = append(roots, u.sp)
	}
	roots = append(roots, grid.p)
	if err := m.commit(append(leaves, roots...)); err != nil {
		return Result{}, err
	}

	res := Result{
		FirstBlock: grid.first, Blocks: len(f.Blocks),
		Particles: map[string]int64{}, FirstIDs: map[string]int64{},
	}
	for _, u := range species {
		res.Particles[u.res.name] = u.res.count
		res.FirstIDs[u.res.name] = u.res.firstID
	}
	return res, nil
}

// commit persists catalogs in order. If one fails, every catalog written
// before it is put back the way it was.
func (m *Merger) commit(catalogs []catalog) error {
	backups := make([]header.Backup, len(catalogs))
	for i, c := range catalogs {
		var err error
		if backups[i], err = header.BackupFile(c.Path()); err != nil {
			return err
		}
	}

	for i, c := range catalogs {
		if err := c.Persist(); err != nil {
			return m.rollback(backups[:i], err)
		}
		m.logger.WithField("action", persistAction(c)).
			WithField("path", c.Path()).Debug("persisted catalog")
	}
	return nil
}

// rollback restores backups, newest first, after err stopped a commit.
func (m *Merger) rollback(backups []header.Backup, err error) error {
	var result error = err
	for i := len(backups) - 1; i >= 0; i-- {
		if rerr := backups[i].Restore(); rerr != nil {
			result = multierror.Append(result, rerr)
			continue
		}
		m.logger.WithField("action", "rollback").
			WithField("path", backups[i].Path()).Warn("restored catalog")
	}
	return result
}

func persistAction(c catalog) string {
	switch c.(type) {
	case *header.MultiFab: return "persist_block_catalog"
	case *header.Plotfile: return "persist_grid_header"
	case *header.ParticleBoxes: return "persist_particle_boxes"
	case *header.Species: return "persist_species"
	}
	return "persist"
}

// removeOrphans clears temporary files left behind by an earlier merge which
// crashed.
func (m *Merger) removeOrphans(f *Flush) error {
	dirs := []string{m.ds.Dir, m.ds.LevelDir(f.Level)}
	for _, sp := range m.ds.Species {
		dirs = append(dirs, filepath.Dir(m.ds.SpeciesHeaderPath(sp.Name)),
			m.ds.SpeciesLevelDir(sp.Name, 0))
	}
	for _, b := range f.Particles {
		dirs = append(dirs, m.ds.SpeciesLevelDir(b.Species, b.Level))
	}

	seen := map[string]bool{}
	for _, dir := range dirs {
		if seen[dir] { continue }
		seen[dir] = true

		n, err := header.RemoveOrphans(dir)
		if err != nil { return err }
		if n > 0 {
			m.logger.WithField("action", "remove_orphans").
				WithField("dir", dir).WithField("removed", n).
				Warn("removed temporary files left by an interrupted merge")
		}
	}
	return nil
}

// stageGrid appends the flush's blocks to the block catalog of its level and
// to the grid header, in memory.
func (m *Merger) stageGrid(f *Flush) (*gridUpdate, error) {
	mf, err := m.openMultiFab(f.Level)
	if err != nil { return nil, err }
	p, err := m.openPlotfile()
	if err != nil { return nil, err }

	first := mf.BoxArraySize()
	lo := make([][]float64, len(f.Blocks))
	hi := make([][]float64, len(f.Blocks))
	for j, b := range f.Blocks {
		i, err := mf.AppendBox(f.Level, b.Box, b.File)
		if err != nil { return nil, errors.Wrapf(err, "block %d", j) }
		if err := mf.SetStats(i, b.Min, b.Max); err != nil {
			return nil, errors.Wrapf(err, "block %d", j)
		}
		lo[j], hi[j] = b.Lo, b.Hi
	}

	if err := p.AppendBlocks(lo, hi); err != nil { return nil, err }
	if f.Level == 0 {
		for _, b := range f.Blocks {
			if err := p.WidenDomain(b.Box); err != nil { return nil, err }
		}
	}
	if f.CellSize != nil {
		if err := p.SetCellSize(f.CellSize); err != nil { return nil, err }
	}
	p.RaiseFinestLevel(f.Level)
	p.SetTime(f.Time)
	p.SetStep(f.Step)

	return &gridUpdate{mf: mf, p: p, first: first}, nil
}

// stageSpecies appends one species' batches to its particle box catalogs and
// to its species catalog, in memory. Levels must be reached in order: a batch
// may start the level just above the species' finest one, but not skip any.
func (m *Merger) stageSpecies(
	def SpeciesDef, batches []ParticleBatch,
) (*speciesUpdate, error) {
	u := &speciesUpdate{res: speciesResult{name: def.Name}}
	sp, err := m.openSpecies(def)
	if err != nil { return nil, errors.Wrapf(err, "species %s", def.Name) }

	// A species which already exists and gets nothing from this flush is
	// left alone.
	if len(batches) == 0 && sp.State() == header.Loaded {
		u.res.firstID = sp.NextID()
		return u, nil
	}

	boxes := map[int][]header.Box{}
	for _, b := range batches {
		if b.Level > sp.FinestLevel() {
			if err := sp.RegisterLevel(b.Level); err != nil { return nil, err }
		}
		err := sp.AppendBox(b.Level, b.DataIndex, b.Count, b.Offset)
		if err != nil { return nil, err }
		boxes[b.Level] = append(boxes[b.Level], b.Box)
		u.res.count += b.Count
	}

	// Every level gets a box list, even one which is still empty.
	for lev := 0; lev <= sp.FinestLevel(); lev++ {
		pb, err := m.openParticleBoxes(def.Name, lev)
		if err != nil { return nil, err }
		if err := pb.AppendBoxes(boxes[lev]); err != nil { return nil, err }
		u.pbs = append(u.pbs, pb)
	}

	if err := sp.AddParticles(u.res.count); err != nil { return nil, err }
	if u.res.firstID, err = sp.ReserveIDs(u.res.count); err != nil {
		return nil, err
	}
	u.sp = sp
	return u, nil
}

func (m *Merger) openPlotfile() (*header.Plotfile, error) {
	path := m.ds.HeaderPath()
	p, err := header.LoadPlotfile(path)
	if errors.Is(err, header.ErrNotFound) {
		return header.CreatePlotfile(path, header.PlotfileVersion,
			m.ds.Components, m.ds.SpaceDim)
	} else if err != nil {
		return nil, err
	}

	if !eq.Strings(p.Names(), m.ds.Components) {
		return nil, errors.Wrapf(header.ErrComponentCount,
			"%s has components %v, but the dataset has %v",
			path, p.Names(), m.ds.Components)
	} else if p.SpaceDim() != m.ds.SpaceDim {
		return nil, errors.Wrapf(header.ErrDimension,
			"%s is %d-dimensional, but the dataset is %d-dimensional",
			path, p.SpaceDim(), m.ds.SpaceDim)
	}
	return p, nil
}

func (m *Merger) openMultiFab(level int) (*header.MultiFab, error) {
	path := m.ds.CellHeaderPath(level)
	mf, err := header.LoadMultiFab(path)
	if errors.Is(err, header.ErrNotFound) {
		return header.CreateMultiFab(path, level,
			len(m.ds.Components), m.ds.NGhost)
	} else if err != nil {
		return nil, err
	}

	if mf.NComp() != len(m.ds.Components) {
		return nil, errors.Wrapf(header.ErrComponentCount,
			"%s has %d components, but the dataset has %d",
			path, mf.NComp(), len(m.ds.Components))
	} else if mf.Level() != level {
		return nil, errors.Wrapf(header.ErrInvalidLevel,
			"%s is the catalog of level %d", path, mf.Level())
	}
	return mf, nil
}

func (m *Merger) openSpecies(def SpeciesDef) (*header.Species, error) {
	path := m.ds.SpeciesHeaderPath(def.Name)
	sp, err := header.LoadSpecies(path, def.Name)
	if errors.Is(err, header.ErrNotFound) {
		return header.CreateSpecies(path, def.Name, def.RealNames,
			def.IntNames, def.IsCheckpoint, m.ds.SpaceDim)
	} else if err != nil {
		return nil, err
	}

	if !eq.Strings(sp.RealNames(), def.RealNames) ||
		!eq.Strings(sp.IntNames(), def.IntNames) {
		return nil, errors.Wrapf(header.ErrComponentCount,
			"%s has attributes %v %v, but species %s has %v %v", path,
			sp.RealNames(), sp.IntNames(), def.Name,
			def.RealNames, def.IntNames)
	} else if sp.SpaceDim() != m.ds.SpaceDim {
		return nil, errors.Wrapf(header.ErrDimension,
			"%s is %d-dimensional, but the dataset is %d-dimensional",
			path, sp.SpaceDim(), m.ds.SpaceDim)
	}
	return sp, nil
}

func (m *Merger) openParticleBoxes(
	species string, level int,
) (*header.ParticleBoxes, error) {
	path := m.ds.ParticleBoxPath(species, level)
	pb, err := header.LoadParticleBoxes(path)
	if errors.Is(err, header.ErrNotFound) {
		return header.CreateParticleBoxes(path), nil
	}
	return pb, err
}
