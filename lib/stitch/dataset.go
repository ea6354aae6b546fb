/*package stitch merges the flushes of a back-transformed diagnostic into a
single persisted dataset.

A diagnostic writes its output a few blocks and particles at a time, and the
flushes do not arrive in the order of the final snapshot. Merger applies one
flush at a time by appending to the dataset's metadata catalogs (see package
header): the bulk data files are never rewritten, and every catalog is
replaced atomically, so a crash in the middle of a merge leaves a dataset
which is still readable.
*/
package stitch

import (
	"fmt"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/phil-mansfield/stitch/lib/header"
)

// SpeciesDef describes one particle species of a dataset.
type SpeciesDef struct {
	Name string
	RealNames, IntNames []string
	IsCheckpoint bool
}

// Dataset is the explicit handle for one snapshot on disk: where it lives and
// what it contains. Every path the merger touches is derived from it.
type Dataset struct {
	Dir string
	Components []string
	SpaceDim int
	NGhost int
	Species []SpeciesDef
}

// Validate checks that the description of the dataset is usable.
func (ds *Dataset) Validate() error {
	if ds.Dir == "" {
		return fmt.Errorf("dataset has no directory")
	} else if len(ds.Components) == 0 {
		return errors.Wrapf(header.ErrComponentCount,
			"dataset %s has no components", ds.Dir)
	} else if ds.SpaceDim < 1 || ds.SpaceDim > header.MaxSpaceDim {
		return errors.Wrapf(header.ErrDimension,
			"dataset %s has space dimension %d", ds.Dir, ds.SpaceDim)
	}

	seen := map[string]bool{}
	for _, sp := range ds.Species {
		if sp.Name == "" || filepath.Base(sp.Name) != sp.Name ||
			sp.Name == "Header" || sp.Name[0] == '.' {
			return fmt.Errorf("'%s' is not a valid species name", sp.Name)
		} else if len(sp.Name) > 6 && sp.Name[:6] == "Level_" {
			return fmt.Errorf("species name '%s' collides with a level "+
				"directory", sp.Name)
		} else if seen[sp.Name] {
			return fmt.Errorf("species '%s' is defined twice", sp.Name)
		}
		seen[sp.Name] = true
	}
	return nil
}

// species returns the definition of the named species.
func (ds *Dataset) species(name string) (SpeciesDef, bool) {
	for _, sp := range ds.Species {
		if sp.Name == name { return sp, true }
	}
	return SpeciesDef{}, false
}

// HeaderPath returns the location of the top-level grid header.
func (ds *Dataset) HeaderPath() string {
	return filepath.Join(ds.Dir, "Header")
}

// LevelDir returns the directory holding the block data of a level.
func (ds *Dataset) LevelDir(level int) string {
	return filepath.Join(ds.Dir, LevelName(level))
}

// CellHeaderPath returns the location of the block catalog of a level.
func (ds *Dataset) CellHeaderPath(level int) string {
	return filepath.Join(ds.LevelDir(level), "Cell_H")
}

// SpeciesHeaderPath returns the location of a species catalog.
func (ds *Dataset) SpeciesHeaderPath(species string) string {
	return filepath.Join(ds.Dir, species, "Header")
}

// SpeciesLevelDir returns the directory holding a species' particle data on
// one level.
func (ds *Dataset) SpeciesLevelDir(species string, level int) string {
	return filepath.Join(ds.Dir, species, LevelName(level))
}

// ParticleBoxPath returns the location of a species' particle box catalog on
// one level.
func (ds *Dataset) ParticleBoxPath(species string, level int) string {
	return filepath.Join(ds.SpeciesLevelDir(species, level), "Particle_H")
}

// LevelName returns the name of the directory of a refinement level.
func LevelName(level int) string { return fmt.Sprintf("Level_%d", level) }

// CellFileName returns the name of the i-th block data file of a level.
func CellFileName(i int) string { return fmt.Sprintf("Cell_D_%05d", i) }

// DataFileName returns the name of the particle data file with the given data
// index.
func DataFileName(i int) string { return fmt.Sprintf("DATA_%05d", i) }
