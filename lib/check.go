package lib

/* check.go contains the core functions of stitch's "check" mode. */

import (
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/phil-mansfield/stitch/lib/header"
	"github.com/phil-mansfield/stitch/lib/stitch"
)

// Check runs the "check" mode on the provided Args: it makes sure that every
// buffer which would be merged exists and that the snapshot, if it has
// already been started, is consistent. With CrashOnError, Check returns the
// first problem it finds. With WarnOnError, it logs every problem as a
// warning and returns all of them together.
func Check(
	args *Args, strictness CheckStrictness, logger logrus.FieldLogger,
) error {
	var result *multierror.Error
	report := func(err error) bool {
		if err == nil { return false }
		result = multierror.Append(result, err)
		if strictness == WarnOnError {
			logger.WithField("action", "check").Warn(err.Error())
			return false
		}
		return true
	}

	for _, dir := range args.BufferDirs {
		path := filepath.Join(dir, "Header")
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if report(errors.Wrapf(header.ErrNotFound,
				"buffer %s has no Header", dir)) {
				return result.ErrorOrNil()
			}
		}
	}

	_, err := os.Stat(args.Dataset.HeaderPath())
	if err == nil {
		err = stitch.Verify(args.Dataset)
		if merr, ok := err.(*multierror.Error); ok {
			for _, e := range merr.Errors {
				if report(e) { return result.ErrorOrNil() }
			}
		} else if report(err) {
			return result.ErrorOrNil()
		}
	} else if !os.IsNotExist(err) {
		report(err)
	}

	return result.ErrorOrNil()
}
