/*package error contains simple functions for reporting stitch errors.
*/
package error

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/sirupsen/logrus"
)

var (
	// Logger is where errors are reported. It can be replaced by the main
	// program once the user's log settings are known.
	Logger logrus.FieldLogger = logrus.StandardLogger()
	// exit is swapped out by tests.
	exit = os.Exit
)

// External reports an error and kills the program. It should be used when an
// error is something a user could reasonbly be expected to fix through
// changes in configuration/data/environement. It has the same signature as the
// standard fmt.*printf() functions.
func External(format string, a ...interface{}) {
	Logger.Error("stitch exited early with the following error:\n" +
		fmt.Sprintf(format, a...))
	exit(1)
}

// Internal reports an error along with a stack trace and kills the program.
// It should be used when the error requires a code dive to fix. It has the
// same signature as the standard fmt.*printf() functions.
func Internal(format string, a ...interface{}) {
	Logger.WithField("stack", string(debug.Stack())).
		Error("stitch exited early with the following internal error:\n" +
			fmt.Sprintf(format, a...))
	exit(1)
}
