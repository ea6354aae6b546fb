package lib

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phil-mansfield/stitch/lib/stitch"
)

func writeConfig(t *testing.T, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stitch.config")
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
	return path
}

func TestParseCommandLine(t *testing.T) {
	tests := []struct {
		argv []string
		mode Mode
		config string
		overrides []Override
		valid bool
	} {
		{nil, HelpMode, "", nil, true},
		{[]string{"help"}, HelpMode, "", nil, true},
		{[]string{"merge", "a.config"}, MergeMode, "a.config", nil, true},
		{[]string{"check", "a.config", "--Threads", "2", "--Buffers", "0..3"},
			CheckMode, "a.config",
			[]Override{{"Threads", "2"}, {"Buffers", "0..3"}}, true},
		{[]string{"inspect", "a.config", "--LogLevel", "-"}, InspectMode,
			"a.config", []Override{{"LogLevel", "-"}}, true},
		{[]string{"pack"}, PackMode, "", nil, false},
		{[]string{"merge", "--Threads", "2"}, MergeMode, "", nil, false},
		{[]string{"convert", "a.config"}, HelpMode, "", nil, false},
		{[]string{"merge", "a.config", "Threads", "2"}, MergeMode, "", nil, false},
		{[]string{"merge", "a.config", "--Threads"}, MergeMode, "", nil, false},
		{[]string{"merge", "a.config", "--", "2"}, MergeMode, "", nil, false},
	}

	for i := range tests {
		mode, config, overrides, err := ParseCommandLine(tests[i].argv)
		if !tests[i].valid {
			assert.True(t, errors.Is(err, ErrConfig), "%d) got %v", i, err)
			continue
		}
		require.NoError(t, err, "%d)", i)
		assert.Equal(t, tests[i].mode, mode, "%d) mode", i)
		assert.Equal(t, tests[i].config, config, "%d) config", i)
		assert.Equal(t, tests[i].overrides, overrides, "%d) overrides", i)
	}
}

func TestExampleConfig(t *testing.T) {
	raw, err := ParseConfigFile(writeConfig(t, ExampleConfig))
	require.NoError(t, err)
	args, err := raw.Process()
	require.NoError(t, err)

	assert.Equal(t, "diags/lab_frame_data/snapshot00000", args.Dataset.Dir)
	assert.Len(t, args.Dataset.Components, 10)
	assert.Equal(t, 3, args.Dataset.SpaceDim)
	require.Len(t, args.BufferDirs, 100)
	assert.Equal(t, "diags/lab_frame_data/buffers/snapshot00000/buffer00042",
		args.BufferDirs[42])
	assert.Equal(t, -1, args.Threads)
	assert.Equal(t, logrus.InfoLevel, args.LogLevel)
	assert.Equal(t, []stitch.SpeciesDef{{
		Name: "electrons", RealNames: []string{"w", "ux", "uy", "uz"},
	}}, args.Dataset.Species)
}

func TestConfigDefaultsAndSpecies(t *testing.T) {
	raw, err := ParseConfigFile(writeConfig(t, `
[stitch]
Snapshot = snap
Components = rho

[species "ions"]
RealNames = w
IntNames = charge, tag
IsCheckpoint = true

[species "electrons"]
RealNames = w,ux
`))
	require.NoError(t, err)
	args, err := raw.Process()
	require.NoError(t, err)

	assert.Empty(t, args.BufferDirs)
	assert.Equal(t, 3, args.Dataset.SpaceDim)
	assert.Equal(t, []string{"rho"}, args.Dataset.Components)
	require.Len(t, args.Dataset.Species, 2)
	assert.Equal(t, "electrons", args.Dataset.Species[0].Name)
	assert.Equal(t, []string{"w", "ux"}, args.Dataset.Species[0].RealNames)
	assert.Equal(t, "ions", args.Dataset.Species[1].Name)
	assert.Equal(t, []string{"charge", "tag"}, args.Dataset.Species[1].IntNames)
	assert.True(t, args.Dataset.Species[1].IsCheckpoint)
}

func TestOverwrite(t *testing.T) {
	raw, err := ParseConfigFile(writeConfig(t, ExampleConfig))
	require.NoError(t, err)

	err = raw.Overwrite([]Override{
		{"Buffers", "3 + 7..8"},
		{"threads", "2"},
		{"Snapshot", `odd "name"; # here`},
		{"LogLevel", "debug"},
	})
	require.NoError(t, err)
	assert.Equal(t, `odd "name"; # here`, raw.Stitch.Snapshot)

	args, err := raw.Process()
	require.NoError(t, err)
	assert.Len(t, args.BufferDirs, 3)
	assert.Equal(t, 2, args.Threads)
	assert.Equal(t, logrus.DebugLevel, args.LogLevel)
	assert.Equal(t, []string{"w", "ux", "uy", "uz"},
		args.Dataset.Species[0].RealNames, "species section was lost")

	bad := []Override{
		{"NoSuchVariable", "1"},
		{"Threads", "two"},
		{"Snapshot", "a\nb"},
	}
	for i := range bad {
		err := raw.Overwrite(bad[i:i+1])
		assert.True(t, errors.Is(err, ErrConfig), "%d) got %v", i, err)
	}
}

func TestProcessErrors(t *testing.T) {
	tests := []string{
		"[stitch]\nComponents = rho\n",
		"[stitch]\nSnapshot = snap\n",
		"[stitch]\nSnapshot = snap\nComponents = rho\nLogLevel = loud\n",
		"[stitch]\nSnapshot = snap\nComponents = rho\nSpaceDim = 4\n",
		"[stitch]\nSnapshot = snap\nComponents = rho\nNGhost = -1\n",
		"[stitch]\nSnapshot = snap\nComponents = rho\nBuffers = 0..3\n",
		"[stitch]\nSnapshot = snap\nComponents = rho\n" +
			"BufferFormat = buffer{%05d}\nBuffers = 3 - 4\n",
		"[stitch]\nSnapshot = snap\nComponents = rho\n" +
			"BufferFormat = buffer\nBuffers = 3\n",
		"[stitch]\nSnapshot = snap\nComponents = rho\n" +
			"[species \"Level_1\"]\nRealNames = w\n",
	}

	for i := range tests {
		raw, err := ParseConfigFile(writeConfig(t, tests[i]))
		require.NoError(t, err, "%d)", i)
		_, err = raw.Process()
		assert.True(t, errors.Is(err, ErrConfig), "%d) got %v", i, err)
	}

	_, err := ParseConfigFile(filepath.Join(t.TempDir(), "missing.config"))
	assert.True(t, errors.Is(err, ErrConfig), "got %v", err)
	_, err = ParseConfigFile(writeConfig(t, "[stitch]\nSnapshots = x\n"))
	assert.True(t, errors.Is(err, ErrConfig), "got %v", err)
}

func TestModes(t *testing.T) {
	for i, name := range modeNames {
		mode, err := ParseMode(name)
		require.NoError(t, err)
		assert.Equal(t, Mode(i), mode)
		assert.Equal(t, name, mode.String())
		assert.Equal(t, mode != HelpMode, mode.NeedsConfig())
	}
	assert.Equal(t, "unknown", Mode(-1).String())
	_, err := ParseMode("confirm")
	assert.True(t, errors.Is(err, ErrConfig))
}

func TestSetThreads(t *testing.T) {
	defer runtime.GOMAXPROCS(runtime.GOMAXPROCS(0))

	n, err := SetThreads(-1)
	require.NoError(t, err)
	assert.True(t, n >= 1)

	n, err = SetThreads(1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	for _, bad := range []int{0, -2, 1 << 20} {
		_, err := SetThreads(bad)
		assert.True(t, errors.Is(err, ErrConfig), "%d) got %v", bad, err)
	}
}
