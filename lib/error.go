package lib

import (
	"context"
	"os"

	"github.com/pkg/errors"

	g_error "github.com/phil-mansfield/stitch/lib/error"
	"github.com/phil-mansfield/stitch/lib/header"
	"github.com/phil-mansfield/stitch/lib/pack"
	"github.com/phil-mansfield/stitch/lib/stitch"
)

/* error.go file contains functions related to error reporting. */

// externalErrors are the errors a user can fix by changing their config file,
// their data, or their environment.
var externalErrors = []error{
	ErrConfig,
	header.ErrNotFound,
	header.ErrMalformedHeader,
	stitch.ErrIncompatibleBuffer,
	pack.ErrNotArchive,
	context.Canceled,
	os.ErrNotExist,
	os.ErrPermission,
}

// IsExternal returns true if err is something a user could reasonably be
// expected to fix. Anything else points to a bug in stitch or in the program
// which wrote the data.
func IsExternal(err error) bool {
	for _, target := range externalErrors {
		if errors.Is(err, target) { return true }
	}
	return false
}

// Fail reports err and kills the program.
func Fail(err error) {
	if IsExternal(err) {
		g_error.External("%s", err.Error())
	} else {
		g_error.Internal("%s", err.Error())
	}
}
