package lib

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/gcfg.v1"

	"github.com/phil-mansfield/stitch/lib/format"
	"github.com/phil-mansfield/stitch/lib/stitch"
)

// ErrConfig is wrapped by every error caused by the command line or config
// file.
var ErrConfig = errors.New("invalid configuration")

// ExampleConfig is a config file with every variable set, as printed by the
// "help" mode.
const ExampleConfig = `[stitch]
# The dataset which buffers are merged into. It's created if it doesn't exist.
Snapshot = diags/lab_frame_data/snapshot00000
# Where the buffers written by the diagnostic are, outside of Snapshot.
# {%05d} is replaced by each number in Buffers.
BufferFormat = diags/lab_frame_data/buffers/snapshot00000/buffer{%05d}
Buffers = 0..99
# Comma-separated grid components.
Components = Ex, Ey, Ez, Bx, By, Bz, jx, jy, jz, rho
SpaceDim = 3
NGhost = 0
# Number of threads. -1 means every core.
Threads = -1
# One of panic, fatal, error, warn, info, debug, trace.
LogLevel = info
# Optional. If set, merge and pack write a metadata archive here.
Archive = diags/lab_frame_data/snapshot00000.stitch

# One section for each particle species.
[species "electrons"]
RealNames = w, ux, uy, uz
IsCheckpoint = false
`

// RawArgs stores the unprocessed values which the user assigned to each config
// variable.
type RawArgs struct {
	Stitch struct {
		Snapshot string
		BufferFormat, Buffers string
		Components string
		SpaceDim, NGhost int
		Threads int
		LogLevel string
		Archive string
	}
	Species map[string]*RawSpecies
}

// RawSpecies is one [species "<name>"] section of the config file.
type RawSpecies struct {
	RealNames, IntNames string
	IsCheckpoint bool
}

// Args stores configuration information. It is a post-processed version of
// RawArgs.
type Args struct {
	Dataset stitch.Dataset
	BufferDirs []string
	Threads int
	LogLevel logrus.Level
	Archive string
}

// Override is a --<Key> <Value> pair from the command line.
type Override struct {
	Key, Value string
}

// DefaultRawArgs returns the values variables have when the config file
// doesn't set them.
func DefaultRawArgs() *RawArgs {
	args := &RawArgs{}
	args.Stitch.SpaceDim = 3
	args.Stitch.Threads = -1
	args.Stitch.LogLevel = "info"
	return args
}

// ParseCommandLine parses the command line arguments and returns the mode
// stitch is being run in, the name of the config file, and any arguments
// which were set. Expects that the arguments are presented in the order:
// $ stitch <mode> <config file> [--<Arg1> <Value1>] [--<Arg2> <Value2>]
// The config file may only be left out in help mode.
func ParseCommandLine(
	argv []string,
) (mode Mode, configFile string, overrides []Override, err error) {
	if len(argv) == 0 { return HelpMode, "", nil, nil }

	mode, err = ParseMode(argv[0])
	if err != nil { return HelpMode, "", nil, err }
	rest := argv[1:]

	if len(rest) > 0 && !strings.HasPrefix(rest[0], "--") {
		configFile, rest = rest[0], rest[1:]
	} else if mode.NeedsConfig() {
		return mode, "", nil, errors.Wrapf(ErrConfig,
			"The '%s' mode needs a config file. Run 'stitch help' to see "+
				"an example.", mode)
	}

	for i := 0; i < len(rest); i += 2 {
		key := strings.TrimPrefix(rest[i], "--")
		if key == rest[i] || key == "" {
			return mode, "", nil, errors.Wrapf(ErrConfig,
				"Expected a --<Key> argument, but got '%s'.", rest[i])
		} else if i+1 >= len(rest) {
			return mode, "", nil, errors.Wrapf(ErrConfig,
				"The argument '%s' has no value.", rest[i])
		}
		overrides = append(overrides, Override{key, rest[i+1]})
	}

	return mode, configFile, overrides, nil
}

// ParseConfigFile parses arguements from a config file.
func ParseConfigFile(fileName string) (*RawArgs, error) {
	args := DefaultRawArgs()
	if err := gcfg.ReadFileInto(args, fileName); err != nil {
		return nil, errors.Wrapf(ErrConfig, "could not parse the config "+
			"file '%s': %s", fileName, err.Error())
	}
	return args, nil
}

// Overwrite sets the [stitch] variables named in overrides.
func (args *RawArgs) Overwrite(overrides []Override) error {
	for _, o := range overrides {
		if strings.ContainsAny(o.Value, "\n\r") {
			return errors.Wrapf(ErrConfig,
				"the value of --%s contains a newline", o.Key)
		}
		text := fmt.Sprintf("[stitch]\n%s = %s\n", o.Key, quote(o.Value))
		if err := gcfg.ReadStringInto(args, text); err != nil {
			return errors.Wrapf(ErrConfig, "could not set --%s: %s",
				o.Key, err.Error())
		}
	}
	return nil
}

// quote turns a value into a gcfg string literal.
func quote(s string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}

// Process converts the raw user input to a format which is more useful for
// internal functions. Very simple validation will be done here, but nothing
// which requires interacting with external files.
func (args *RawArgs) Process() (*Args, error) {
	raw := &args.Stitch
	out := &Args{Threads: raw.Threads, Archive: raw.Archive}

	if raw.Snapshot == "" {
		return nil, errors.Wrap(ErrConfig, "Snapshot was not set.")
	}

	level, err := logrus.ParseLevel(raw.LogLevel)
	if err != nil {
		return nil, errors.Wrapf(ErrConfig, "LogLevel: %s", err.Error())
	}
	out.LogLevel = level

	if raw.BufferFormat != "" || raw.Buffers != "" {
		pf, err := format.ParsePathFormat(raw.BufferFormat)
		if err != nil {
			return nil, errors.Wrapf(ErrConfig, "BufferFormat: %s", err.Error())
		}
		out.BufferDirs, err = pf.Paths(raw.Buffers)
		if err != nil {
			return nil, errors.Wrapf(ErrConfig, "Buffers: %s", err.Error())
		}
	}

	out.Dataset = stitch.Dataset{
		Dir: raw.Snapshot,
		Components: splitList(raw.Components),
		SpaceDim: raw.SpaceDim,
		NGhost: raw.NGhost,
	}
	if raw.NGhost < 0 {
		return nil, errors.Wrapf(ErrConfig, "NGhost is %d", raw.NGhost)
	}

	names := []string{}
	for name := range args.Species { names = append(names, name) }
	sort.Strings(names)
	for _, name := range names {
		sp := args.Species[name]
		out.Dataset.Species = append(out.Dataset.Species, stitch.SpeciesDef{
			Name: name,
			RealNames: splitList(sp.RealNames),
			IntNames: splitList(sp.IntNames),
			IsCheckpoint: sp.IsCheckpoint,
		})
	}

	if err := out.Dataset.Validate(); err != nil {
		return nil, errors.Wrap(ErrConfig, err.Error())
	}
	return out, nil
}

// splitList splits a comma-separated list, ignoring empty elements.
func splitList(s string) []string {
	var out []string
	for _, tok := range strings.Split(s, ",") {
		if tok = strings.TrimSpace(tok); tok != "" { out = append(out, tok) }
	}
	return out
}
