package stitch

import (
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/phil-mansfield/stitch/lib/eq"
	"github.com/phil-mansfield/stitch/lib/header"
)

// Verify loads every catalog of ds and checks that they agree with each other
// and with the bulk files on disk. It returns every problem it finds, not
// just the first, as a *multierror.Error. Each problem wraps one of the
// header package's errors.
func Verify(ds Dataset) error {
	if err := ds.Validate(); err != nil { return err }
	var result *multierror.Error

	p, err := header.LoadPlotfile(ds.HeaderPath())
	if err != nil {
		result = multierror.Append(result, err)
	} else {
		result = multierror.Append(result, verifyGrid(&ds, p))
	}

	for _, def := range ds.Species {
		result = multierror.Append(result, verifySpecies(&ds, def))
	}

	return result.ErrorOrNil()
}

func verifyGrid(ds *Dataset, p *header.Plotfile) error {
	var result *multierror.Error
	if !eq.Strings(p.Names(), ds.Components) {
		result = multierror.Append(result, errors.Wrapf(
			header.ErrComponentCount, "%s has components %v, expected %v",
			p.Path(), p.Names(), ds.Components))
	}
	if p.SpaceDim() != ds.SpaceDim {
		result = multierror.Append(result, errors.Wrapf(header.ErrDimension,
			"%s is %d-dimensional, expected %d", p.Path(), p.SpaceDim(),
			ds.SpaceDim))
	}

	blocks := 0
	for lev := 0; lev <= p.FinestLevel(); lev++ {
		mf, err := header.LoadMultiFab(ds.CellHeaderPath(lev))
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		blocks += mf.BoxArraySize()

		if mf.NComp() != len(p.Names()) {
			result = multierror.Append(result, errors.Wrapf(
				header.ErrComponentCount, "%s has %d components, but %s has %d",
				mf.Path(), mf.NComp(), p.Path(), len(p.Names())))
		}

		seen := map[string]bool{}
		for i := 0; i < mf.BoxArraySize(); i++ {
			fab, _ := mf.Fab(i)
			if seen[fab.Name] { continue }
			seen[fab.Name] = true
			path := filepath.Join(filepath.Dir(mf.Path()), fab.Name)
			result = multierror.Append(result, checkExists(path))
		}
	}

	if blocks != p.NumBlocks() {
		result = multierror.Append(result, errors.Wrapf(
			header.ErrMalformedHeader, "%s lists %d blocks, but the block "+
				"catalogs hold %d", p.Path(), p.NumBlocks(), blocks))
	}
	return result.ErrorOrNil()
}

func verifySpecies(ds *Dataset, def SpeciesDef) error {
	sp, err := header.LoadSpecies(ds.SpeciesHeaderPath(def.Name), def.Name)
	if err != nil { return err }

	var result *multierror.Error
	if !eq.Strings(sp.RealNames(), def.RealNames) ||
		!eq.Strings(sp.IntNames(), def.IntNames) {
		result = multierror.Append(result, errors.Wrapf(
			header.ErrComponentCount, "%s has attributes %v %v, expected %v %v",
			sp.Path(), sp.RealNames(), sp.IntNames(),
			def.RealNames, def.IntNames))
	}
	if sp.SpaceDim() != ds.SpaceDim {
		result = multierror.Append(result, errors.Wrapf(header.ErrDimension,
			"%s is %d-dimensional, expected %d", sp.Path(), sp.SpaceDim(),
			ds.SpaceDim))
	}
	if sp.NextID() <= sp.TotalParticles() {
		result = multierror.Append(result, errors.Wrapf(
			header.ErrMalformedHeader, "%s has next particle id %d but "+
				"holds %d particles", sp.Path(), sp.NextID(),
			sp.TotalParticles()))
	}

	for lev := 0; lev <= sp.FinestLevel(); lev++ {
		n, _ := sp.BoxArraySize(lev)
		pb, err := header.LoadParticleBoxes(ds.ParticleBoxPath(def.Name, lev))
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if pb.BoxArraySize() != n {
			result = multierror.Append(result, errors.Wrapf(
				header.ErrMalformedHeader, "%s has %d boxes, but %s lists %d "+
					"on level %d", pb.Path(), pb.BoxArraySize(), sp.Path(),
				n, lev))
		}

		seen := map[int]bool{}
		for i := 0; i < n; i++ {
			e, _ := sp.Entry(lev, i)
			if seen[e.DataIndex] || e.Count == 0 { continue }
			seen[e.DataIndex] = true
			path := filepath.Join(ds.SpeciesLevelDir(def.Name, lev),
				DataFileName(e.DataIndex))
			result = multierror.Append(result, checkExists(path))
		}
	}
	return result.ErrorOrNil()
}
