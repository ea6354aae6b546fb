/*package lib contains the command line and config file handling of stitch,
along with the functions behind each of its modes. Almost all of the heavy
lifting is done by lib/'s subpackages.
*/
package lib

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Version is the version of the software.
var Version = "1.0.0"

// NewLogger creates the logger used by every mode.
func NewLogger(level logrus.Level, out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return logger
}
