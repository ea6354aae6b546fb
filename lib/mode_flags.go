package lib

import (
	"github.com/pkg/errors"
)

// Mode is one of the ways stitch can be run.
type Mode int
const (
	HelpMode Mode = iota
	CheckMode
	MergeMode
	InspectMode
	PackMode
)

var modeNames = []string{"help", "check", "merge", "inspect", "pack"}

// ParseMode converts the name of a mode into a Mode.
func ParseMode(name string) (Mode, error) {
	for i := range modeNames {
		if modeNames[i] == name { return Mode(i), nil }
	}
	return HelpMode, errors.Wrapf(ErrConfig, "You attempted to run stitch in "+
		"the mode '%s', but the only valid modes are 'help', 'check', "+
		"'merge', 'inspect', and 'pack'.", name)
}

func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) { return "unknown" }
	return modeNames[m]
}

// NeedsConfig returns true if the mode must be given a config file.
func (m Mode) NeedsConfig() bool { return m != HelpMode }

// CheckStrictness indicates how functions related to the "check" mode
// should behave when they encounter an error.
type CheckStrictness int
const (
	CrashOnError CheckStrictness = iota
	WarnOnError
)
