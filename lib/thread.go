package lib

/* thread.go contains functions useful for multi-threading. */

import (
	"runtime"

	"github.com/pkg/errors"
)

// SetThreads sets the number of threads stitch runs on and returns it. n = -1
// uses every core.
func SetThreads(n int) (int, error) {
	cores := runtime.NumCPU()
	if n == -1 {
		n = cores
	} else if n < 1 {
		return 0, errors.Wrapf(ErrConfig, "%d threads requested. Threads "+
			"must be positive or -1.", n)
	} else if n > cores {
		return 0, errors.Wrapf(ErrConfig, "%d threads requested, but your "+
			"system only has %d cores. If you want stitch to use the maximum "+
			"number of threads, set Threads=-1.", n, cores)
	}

	runtime.GOMAXPROCS(n)
	return n, nil
}
