package lib

/* modes.go contains the core functions of the "merge", "inspect", and "pack"
modes. */

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/DataDog/zstd"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/phil-mansfield/stitch/lib/header"
	"github.com/phil-mansfield/stitch/lib/pack"
	"github.com/phil-mansfield/stitch/lib/stats"
	"github.com/phil-mansfield/stitch/lib/stitch"
)

// Merge runs the "merge" mode: every buffer is ingested into the snapshot in
// order. If Archive is set, the snapshot's metadata is archived afterwards.
func Merge(ctx context.Context, args *Args, logger logrus.FieldLogger) error {
	if err := Check(args, CrashOnError, logger); err != nil { return err }

	m, err := stitch.NewMerger(args.Dataset, stitch.WithLogger(logger),
		stitch.WithThreads(args.Threads))
	if err != nil { return err }

	for i, dir := range args.BufferDirs {
		res, err := m.Ingest(ctx, dir)
		if err != nil { return errors.Wrapf(err, "buffer %s", dir) }

		logger.WithFields(logrus.Fields{
			"action": "ingest",
			"buffer": dir,
			"index": i,
			"first_block": res.FirstBlock,
			"blocks": res.Blocks,
		}).Info("ingested buffer")
		for name, n := range res.Particles {
			logger.WithFields(logrus.Fields{
				"action": "ingest",
				"buffer": dir,
				"species": name,
				"particles": n,
				"first_id": res.FirstIDs[name],
			}).Debug("ingested particles")
		}
	}

	if err := stitch.Verify(args.Dataset); err != nil { return err }
	if args.Archive != "" { return Pack(args, logger) }
	return nil
}

// Pack runs the "pack" mode, which writes an archive of the snapshot's
// metadata to Archive.
func Pack(args *Args, logger logrus.FieldLogger) error {
	if args.Archive == "" {
		return errors.Wrap(ErrConfig, "pack mode needs Archive to be set.")
	}

	f, err := os.Create(args.Archive)
	if err != nil { return errors.Wrap(err, "create archive") }
	species := make([]string, len(args.Dataset.Species))
	for i, sp := range args.Dataset.Species { species[i] = sp.Name }
	n, err := pack.Write(args.Dataset.Dir, species, f, zstd.DefaultCompression)
	if err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "close archive")
	}

	logger.WithField("action", "pack").WithField("archive", args.Archive).
		WithField("catalogs", n).Info("wrote metadata archive")
	return nil
}

// Inspect runs the "inspect" mode, which prints a summary of the snapshot to
// w and reports any inconsistencies in it.
func Inspect(args *Args, w io.Writer) error {
	ds := &args.Dataset
	p, err := header.LoadPlotfile(ds.HeaderPath())
	if err != nil { return err }

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "snapshot\t%s\n", ds.Dir)
	fmt.Fprintf(tw, "time\t%g (step %d)\n", p.Time(), p.Step())
	fmt.Fprintf(tw, "components\t%s\n", strings.Join(p.Names(), " "))
	fmt.Fprintf(tw, "blocks\t%d on levels 0..%d\n",
		p.NumBlocks(), p.FinestLevel())
	fmt.Fprintf(tw, "extent\t%v to %v\n", p.ProbLo(), p.ProbHi())
	fmt.Fprintf(tw, "domain\t%s\n", p.ProbDomain())

	if mf, err := header.LoadMultiFab(ds.CellHeaderPath(0)); err == nil &&
		mf.BoxArraySize() > 0 {
		min, max, err := stats.Summarize(mf)
		if err != nil { return err }
		for c, name := range p.Names() {
			fmt.Fprintf(tw, "%s\tmin %g\tmax %g\n", name, min[c], max[c])
		}
	}

	for _, def := range ds.Species {
		sp, err := header.LoadSpecies(ds.SpeciesHeaderPath(def.Name), def.Name)
		if err != nil {
			fmt.Fprintf(tw, "species %s\tmissing\n", def.Name)
			continue
		}
		fmt.Fprintf(tw, "species %s\t%d particles on levels 0..%d, "+
			"next id %d\n", def.Name, sp.TotalParticles(), sp.FinestLevel(),
			sp.NextID())
	}
	if err := tw.Flush(); err != nil { return err }

	err = stitch.Verify(*ds)
	if merr, ok := err.(*multierror.Error); ok {
		fmt.Fprintf(w, "%d problems found:\n", len(merr.Errors))
		for _, e := range merr.Errors { fmt.Fprintf(w, "  %s\n", e) }
	} else if err == nil {
		fmt.Fprintln(w, "No errors detected.")
	}
	return err
}

// PrintHelp prints the usage message and an example config file.
func PrintHelp(w io.Writer) {
	fmt.Fprintf(w, `stitch %s merges the buffers of a back-transformed diagnostic
into a single snapshot without rewriting any bulk data.

Usage:
    $ stitch <mode> <config file> [--<Key> <Value>]...

Modes:
    help     print this message
    check    check the config file, the buffers, and the snapshot
    merge    merge every buffer into the snapshot
    inspect  print a summary of the snapshot and check it
    pack     write an archive of the snapshot's metadata

Any variable in the [stitch] section can be overridden on the command line,
e.g. --Buffers 10..20. An example config file:

%s`, Version, ExampleConfig)
}
