package stitch

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/phil-mansfield/stitch/lib/eq"
	"github.com/phil-mansfield/stitch/lib/header"
)

// ErrIncompatibleBuffer is returned by Ingest when a buffer holds different
// components, attributes, or dimensions than the dataset it is being merged
// into. Nothing is moved when it is returned.
var ErrIncompatibleBuffer = errors.New("incompatible buffer")

// buffer is a buffer directory which has been read and checked, but not yet
// moved into the dataset.
type buffer struct {
	ds Dataset
	flush Flush
	// cellFiles lists the distinct block data files in order of first use.
	cellFiles []string
	// dataFiles lists the distinct particle data files of every species and
	// level, in order of first use.
	dataFiles map[dataDir][]int
}

type dataDir struct {
	species string
	level int
}

// Ingest merges a buffer written by the diagnostic into the dataset. A buffer
// is a small dataset with the same layout: its bulk files are renamed into
// the dataset under fresh names, and its metadata is merged as one Flush.
//
// The buffer is checked completely before anything is moved. If the merge
// itself fails, the moved bulk files stay in the dataset without being
// referenced by any catalog.
func (m *Merger) Ingest(ctx context.Context, dir string) (Result, error) {
	buf, err := m.readBuffer(dir)
	if err != nil { return Result{}, err }
	if err := ctx.Err(); err != nil { return Result{}, err }
	if err := m.moveData(buf); err != nil { return Result{}, err }

	m.logger.WithField("action", "ingest").WithField("buffer", dir).
		WithField("cell_files", len(buf.cellFiles)).
		Debug("moved buffer data into dataset")

	return m.Merge(ctx, buf.flush)
}

func (m *Merger) readBuffer(dir string) (*buffer, error) {
	buf := &buffer{ds: m.ds, dataFiles: map[dataDir][]int{}}
	buf.ds.Dir = dir

	if err := m.readGridBuffer(buf); err != nil {
		return nil, errors.Wrapf(err, "buffer %s", dir)
	}
	for _, def := range m.ds.Species {
		if err := m.readSpeciesBuffer(buf, def); err != nil {
			return nil, errors.Wrapf(err, "buffer %s", dir)
		}
	}
	return buf, nil
}

func (m *Merger) readGridBuffer(buf *buffer) error {
	p, err := header.LoadPlotfile(buf.ds.HeaderPath())
	if err != nil { return err }

	if !eq.Strings(p.Names(), m.ds.Components) {
		return errors.Wrapf(ErrIncompatibleBuffer,
			"buffer has components %v, but the dataset has %v",
			p.Names(), m.ds.Components)
	} else if p.SpaceDim() != m.ds.SpaceDim {
		return errors.Wrapf(ErrIncompatibleBuffer,
			"buffer is %d-dimensional, but the dataset is %d-dimensional",
			p.SpaceDim(), m.ds.SpaceDim)
	} else if p.FinestLevel() != 0 {
		return errors.Wrapf(ErrIncompatibleBuffer,
			"buffer has refinement level %d, but only level 0 buffers can "+
				"be ingested", p.FinestLevel())
	}

	buf.flush = Flush{Time: p.Time(), Step: p.Step(), CellSize: p.CellSize()}

	mf, err := header.LoadMultiFab(buf.ds.CellHeaderPath(0))
	if errors.Is(err, header.ErrNotFound) && p.NumBlocks() == 0 {
		return nil
	} else if err != nil {
		return err
	}

	if mf.NComp() != len(m.ds.Components) {
		return errors.Wrapf(ErrIncompatibleBuffer,
			"buffer block catalog has %d components, but the dataset has %d",
			mf.NComp(), len(m.ds.Components))
	} else if mf.BoxArraySize() != p.NumBlocks() {
		return errors.Wrapf(header.ErrMalformedHeader,
			"buffer header lists %d blocks, but its block catalog has %d",
			p.NumBlocks(), mf.BoxArraySize())
	}

	seen := map[string]bool{}
	for i := 0; i < mf.BoxArraySize(); i++ {
		b := GridBlock{}
		if b.Box, err = mf.Box(i); err != nil { return err }
		if b.File, err = mf.Fab(i); err != nil { return err }
		if b.Min, b.Max, err = mf.Stats(i); err != nil { return err }
		if b.Lo, err = p.BlockLo(i); err != nil { return err }
		if b.Hi, err = p.BlockHi(i); err != nil { return err }
		buf.flush.Blocks = append(buf.flush.Blocks, b)

		if seen[b.File.Name] { continue }
		seen[b.File.Name] = true
		path := filepath.Join(buf.ds.LevelDir(0), b.File.Name)
		if err := checkExists(path); err != nil { return err }
		buf.cellFiles = append(buf.cellFiles, b.File.Name)
	}
	return nil
}

func (m *Merger) readSpeciesBuffer(buf *buffer, def SpeciesDef) error {
	sp, err := header.LoadSpecies(buf.ds.SpeciesHeaderPath(def.Name), def.Name)
	if errors.Is(err, header.ErrNotFound) {
		return nil
	} else if err != nil {
		return err
	}

	if !eq.Strings(sp.RealNames(), def.RealNames) ||
		!eq.Strings(sp.IntNames(), def.IntNames) {
		return errors.Wrapf(ErrIncompatibleBuffer,
			"buffer species %s has attributes %v %v, but the dataset has "+
				"%v %v", def.Name, sp.RealNames(), sp.IntNames(),
			def.RealNames, def.IntNames)
	} else if sp.SpaceDim() != m.ds.SpaceDim {
		return errors.Wrapf(ErrIncompatibleBuffer,
			"buffer species %s is %d-dimensional, but the dataset is "+
				"%d-dimensional", def.Name, sp.SpaceDim(), m.ds.SpaceDim)
	}

	for lev := 0; lev <= sp.FinestLevel(); lev++ {
		n, err := sp.BoxArraySize(lev)
		if err != nil { return err }
		if n == 0 { continue }

		pb, err := header.LoadParticleBoxes(buf.ds.ParticleBoxPath(def.Name, lev))
		if err != nil { return err }
		if pb.BoxArraySize() != n {
			return errors.Wrapf(header.ErrMalformedHeader,
				"buffer species %s lists %d boxes on level %d, but its "+
					"particle box catalog has %d",
				def.Name, n, lev, pb.BoxArraySize())
		}

		key := dataDir{def.Name, lev}
		seen := map[int]bool{}
		for i := 0; i < n; i++ {
			e, err := sp.Entry(lev, i)
			if err != nil { return err }
			box, err := pb.Box(i)
			if err != nil { return err }
			buf.flush.Particles = append(buf.flush.Particles, ParticleBatch{
				Species: def.Name, Level: lev, Box: box,
				DataIndex: e.DataIndex, Count: e.Count, Offset: e.Offset,
			})

			if seen[e.DataIndex] { continue }
			seen[e.DataIndex] = true
			path := filepath.Join(buf.ds.SpeciesLevelDir(def.Name, lev),
				DataFileName(e.DataIndex))
			if err := checkExists(path); err != nil { return err }
			buf.dataFiles[key] = append(buf.dataFiles[key], e.DataIndex)
		}
	}
	return nil
}

// moveData renames the buffer's bulk files into the dataset and points the
// buffer's flush at their new names.
func (m *Merger) moveData(buf *buffer) error {
	if len(buf.cellFiles) > 0 {
		dst := m.ds.LevelDir(0)
		next, err := nextIndex(dst, "Cell_D_")
		if err != nil { return err }

		names := map[string]string{}
		for i, name := range buf.cellFiles {
			names[name] = CellFileName(next + i)
			err := moveFile(filepath.Join(buf.ds.LevelDir(0), name),
				filepath.Join(dst, names[name]))
			if err != nil { return err }
		}
		for i := range buf.flush.Blocks {
			buf.flush.Blocks[i].File.Name = names[buf.flush.Blocks[i].File.Name]
		}
	}

	for key, indices := range buf.dataFiles {
		dst := m.ds.SpeciesLevelDir(key.species, key.level)
		next, err := nextIndex(dst, "DATA_")
		if err != nil { return err }

		remap := map[int]int{}
		for i, idx := range indices {
			remap[idx] = next + i
			err := moveFile(
				filepath.Join(buf.ds.SpeciesLevelDir(key.species, key.level),
					DataFileName(idx)),
				filepath.Join(dst, DataFileName(remap[idx])),
			)
			if err != nil { return err }
		}

		for i := range buf.flush.Particles {
			b := &buf.flush.Particles[i]
			if b.Species == key.species && b.Level == key.level {
				b.DataIndex = remap[b.DataIndex]
			}
		}
	}
	return nil
}

// nextIndex returns one more than the largest numbered file with the given
// prefix in dir, or 0 if there are none.
func nextIndex(dir, prefix string) (int, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	} else if err != nil {
		return 0, errors.Wrapf(err, "list %s", dir)
	}

	next := 0
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, prefix) { continue }
		n, err := strconv.Atoi(name[len(prefix):])
		if err != nil || n < 0 { continue }
		if n+1 > next { next = n + 1 }
	}
	return next, nil
}

func moveFile(from, to string) error {
	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return errors.Wrapf(err, "create directory for %s", to)
	}
	if _, err := os.Stat(to); err == nil {
		return errors.Errorf("cannot move %s: %s already exists", from, to)
	}
	return errors.Wrapf(os.Rename(from, to), "move %s", from)
}

func checkExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return errors.Wrapf(header.ErrNotFound, "data file %s", path)
	} else if err != nil {
		return errors.Wrapf(err, "data file %s", path)
	}
	return nil
}
