package stitch

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phil-mansfield/stitch/lib/header"
	"github.com/phil-mansfield/stitch/lib/stats"
)

func testDataset(t *testing.T) Dataset {
	return Dataset{
		Dir: filepath.Join(t.TempDir(), "snapshot00000"),
		Components: []string{"Ex", "By"},
		SpaceDim: 3,
		Species: []SpeciesDef{
			{Name: "electrons", RealNames: []string{"w", "ux", "uy", "uz"}},
			{Name: "ions", RealNames: []string{"w"}, IntNames: []string{"tag"}},
		},
	}
}

// cellBox returns the i-th 8^3 box along the x axis.
func cellBox(i int) header.Box {
	return header.NewBox([]int{8 * i, 0, 0}, []int{8*i + 7, 7, 7})
}

// block returns the i-th unit-cube block along the x axis.
func block(i int) GridBlock {
	x := float64(i)
	return GridBlock{
		Box: cellBox(i),
		Lo: []float64{x, 0, 0}, Hi: []float64{x + 1, 1, 1},
		File: header.FabOnDisk{Name: CellFileName(0), Offset: int64(1000 * i)},
		Min: []float64{-x, 0}, Max: []float64{x, 1},
	}
}

func batch(species string, box, dataIndex int, count, offset int64) ParticleBatch {
	return ParticleBatch{
		Species: species, Box: cellBox(box),
		DataIndex: dataIndex, Count: count, Offset: offset,
	}
}

func firstFlush() Flush {
	return Flush{
		Time: 1.5, Step: 10,
		Blocks: []GridBlock{block(0), block(1)},
		Particles: []ParticleBatch{
			batch("electrons", 0, 0, 10, 0),
			batch("ions", 0, 0, 5, 0),
			batch("electrons", 1, 0, 20, 800),
		},
	}
}

func secondFlush() Flush {
	return Flush{
		Time: 2.5, Step: 20,
		Blocks: []GridBlock{block(2), block(3), block(4)},
		Particles: []ParticleBatch{batch("electrons", 2, 1, 7, 0)},
	}
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("bulk"), 0o644))
}

// touchBulk creates the bulk files referenced by firstFlush and secondFlush.
func touchBulk(t *testing.T, ds Dataset) {
	touch(t, filepath.Join(ds.LevelDir(0), CellFileName(0)))
	touch(t, filepath.Join(ds.SpeciesLevelDir("electrons", 0), DataFileName(0)))
	touch(t, filepath.Join(ds.SpeciesLevelDir("electrons", 0), DataFileName(1)))
	touch(t, filepath.Join(ds.SpeciesLevelDir("ions", 0), DataFileName(0)))
}

func TestMergeTwoFlushes(t *testing.T) {
	ds := testDataset(t)
	m, err := NewMerger(ds)
	require.NoError(t, err)
	ctx := context.Background()

	res, err := m.Merge(ctx, firstFlush())
	require.NoError(t, err)
	assert.Equal(t, 0, res.FirstBlock)
	assert.Equal(t, 2, res.Blocks)
	assert.Equal(t, map[string]int64{"electrons": 30, "ions": 5}, res.Particles)
	assert.Equal(t, map[string]int64{"electrons": 1, "ions": 1}, res.FirstIDs)

	p, err := header.LoadPlotfile(ds.HeaderPath())
	require.NoError(t, err)
	assert.Equal(t, 2, p.NumBlocks())
	assert.Equal(t, []float64{0, 0, 0}, p.ProbLo())
	assert.Equal(t, []float64{2, 1, 1}, p.ProbHi())
	assert.Equal(t, "((0,0,0) (15,7,7) (0,0,0))", p.ProbDomain().String())
	assert.Equal(t, 1.5, p.Time())
	assert.Equal(t, 10, p.Step())

	res, err = m.Merge(ctx, secondFlush())
	require.NoError(t, err)
	assert.Equal(t, 2, res.FirstBlock)
	assert.Equal(t, map[string]int64{"electrons": 7, "ions": 0}, res.Particles)
	assert.Equal(t, map[string]int64{"electrons": 31, "ions": 6}, res.FirstIDs)

	p, err = header.LoadPlotfile(ds.HeaderPath())
	require.NoError(t, err)
	require.Equal(t, 5, p.NumBlocks())
	for i := 0; i < 5; i++ {
		lo, err := p.BlockLo(i)
		require.NoError(t, err)
		assert.Equal(t, block(i).Lo, lo, "%d) lo", i)
	}
	assert.Equal(t, []float64{5, 1, 1}, p.ProbHi())
	assert.Equal(t, "((0,0,0) (39,7,7) (0,0,0))", p.ProbDomain().String())
	assert.Equal(t, 2.5, p.Time())
	assert.Equal(t, 20, p.Step())

	mf, err := header.LoadMultiFab(ds.CellHeaderPath(0))
	require.NoError(t, err)
	require.Equal(t, 5, mf.BoxArraySize())
	for i := 0; i < 5; i++ {
		b, err := mf.Box(i)
		require.NoError(t, err)
		assert.True(t, b.Equal(cellBox(i)), "%d) box %s", i, b)
		fab, err := mf.Fab(i)
		require.NoError(t, err)
		assert.Equal(t, int64(1000*i), fab.Offset, "%d) offset", i)
	}
	min, max, err := stats.Summarize(mf)
	require.NoError(t, err)
	assert.Equal(t, []float64{-4, 0}, min)
	assert.Equal(t, []float64{4, 1}, max)

	sp, err := header.LoadSpecies(ds.SpeciesHeaderPath("electrons"), "electrons")
	require.NoError(t, err)
	assert.Equal(t, int64(37), sp.TotalParticles())
	assert.Equal(t, int64(38), sp.NextID())
	n, err := sp.BoxArraySize(0)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	e, err := sp.Entry(0, 2)
	require.NoError(t, err)
	assert.Equal(t, header.ParticleEntry{DataIndex: 1, Count: 7}, e)

	pb, err := header.LoadParticleBoxes(ds.ParticleBoxPath("electrons", 0))
	require.NoError(t, err)
	assert.Equal(t, 3, pb.BoxArraySize())

	sp, err = header.LoadSpecies(ds.SpeciesHeaderPath("ions"), "ions")
	require.NoError(t, err)
	assert.Equal(t, int64(5), sp.TotalParticles())
	assert.Equal(t, []string{"tag"}, sp.IntNames())

	touchBulk(t, ds)
	assert.NoError(t, Verify(ds))
}

func TestMergeEmptyFlushCreatesDataset(t *testing.T) {
	ds := testDataset(t)
	m, err := NewMerger(ds)
	require.NoError(t, err)

	_, err = m.Merge(context.Background(), Flush{Time: 0.5, Step: 1})
	require.NoError(t, err)

	p, err := header.LoadPlotfile(ds.HeaderPath())
	require.NoError(t, err)
	assert.Equal(t, 0, p.NumBlocks())
	assert.Equal(t, 0.5, p.Time())

	for _, def := range ds.Species {
		sp, err := header.LoadSpecies(ds.SpeciesHeaderPath(def.Name), def.Name)
		require.NoError(t, err, def.Name)
		assert.Equal(t, int64(0), sp.TotalParticles(), def.Name)
		assert.Equal(t, int64(1), sp.NextID(), def.Name)
	}
	assert.NoError(t, Verify(ds))

	_, err = m.Merge(context.Background(), firstFlush())
	require.NoError(t, err)
	p, err = header.LoadPlotfile(ds.HeaderPath())
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0}, p.ProbLo())
	assert.Equal(t, []float64{2, 1, 1}, p.ProbHi())
	assert.Equal(t, "((0,0,0) (15,7,7) (0,0,0))", p.ProbDomain().String())
}

func TestMergeRejectsBadFlush(t *testing.T) {
	wrongDim := block(0)
	wrongDim.Lo = []float64{0, 0}
	wrongStats := block(0)
	wrongStats.Max = []float64{1, 2, 3}
	reversed := block(0)
	reversed.Box = header.NewBox([]int{8, 0, 0}, []int{7, 7, 7})
	untyped := block(0)
	untyped.Box.Type = nil
	unnamed := block(0)
	unnamed.File.Name = " "

	tests := []struct {
		flush Flush
		target error
	} {
		{Flush{Blocks: []GridBlock{wrongDim}}, header.ErrDimension},
		{Flush{Blocks: []GridBlock{wrongStats}}, header.ErrComponentCount},
		{Flush{Blocks: []GridBlock{reversed}}, header.ErrDimension},
		{Flush{Blocks: []GridBlock{untyped}}, header.ErrDimension},
		{Flush{Blocks: []GridBlock{unnamed}}, nil},
		{Flush{Particles: []ParticleBatch{
			{Species: "ions", Box: header.Box{Lo: []int{0, 0, 0},
				Hi: []int{1, 1, 1}}}}},
			header.ErrDimension},
		{Flush{Level: -1}, header.ErrInvalidLevel},
		{Flush{CellSize: []float64{1}}, header.ErrDimension},
		{Flush{Particles: []ParticleBatch{
			{Species: "ions", Level: -1, Box: cellBox(0)}}},
			header.ErrInvalidLevel},
		{Flush{Particles: []ParticleBatch{
			{Species: "ions", Box: header.NewBox([]int{0}, []int{1})}}},
			header.ErrDimension},
		{Flush{Particles: []ParticleBatch{batch("muons", 0, 0, 1, 0)}}, nil},
	}

	for i := range tests {
		ds := testDataset(t)
		m, err := NewMerger(ds)
		require.NoError(t, err)

		_, err = m.Merge(context.Background(), tests[i].flush)
		require.Error(t, err, "%d)", i)
		if tests[i].target != nil {
			assert.True(t, errors.Is(err, tests[i].target), "%d) got %v", i, err)
		}

		_, err = os.Stat(ds.Dir)
		assert.True(t, os.IsNotExist(err), "%d) dataset was created", i)
	}
}

func TestMergeOffsetRegressionLeavesGridUntouched(t *testing.T) {
	ds := testDataset(t)
	m, err := NewMerger(ds)
	require.NoError(t, err)
	_, err = m.Merge(context.Background(), firstFlush())
	require.NoError(t, err)

	paths := []string{ds.HeaderPath(), ds.CellHeaderPath(0)}
	before := map[string][]byte{}
	for _, path := range paths {
		before[path], err = os.ReadFile(path)
		require.NoError(t, err)
	}

	f := Flush{Blocks: []GridBlock{block(2), block(0)}}
	_, err = m.Merge(context.Background(), f)
	assert.True(t, errors.Is(err, header.ErrOffsetRegression), "got %v", err)

	for _, path := range paths {
		after, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, before[path], after, path)
	}
}

func TestMergeParticleOffsetRegression(t *testing.T) {
	ds := testDataset(t)
	m, err := NewMerger(ds)
	require.NoError(t, err)
	_, err = m.Merge(context.Background(), firstFlush())
	require.NoError(t, err)

	f := Flush{Particles: []ParticleBatch{batch("electrons", 3, 0, 1, 10)}}
	_, err = m.Merge(context.Background(), f)
	assert.True(t, errors.Is(err, header.ErrOffsetRegression), "got %v", err)

	sp, err := header.LoadSpecies(ds.SpeciesHeaderPath("electrons"), "electrons")
	require.NoError(t, err)
	assert.Equal(t, int64(30), sp.TotalParticles())
	assert.Equal(t, int64(31), sp.NextID())
}

// readCatalogs returns the contents of every catalog of ds which exists.
func readCatalogs(t *testing.T, ds Dataset) map[string][]byte {
	t.Helper()
	paths := []string{ds.HeaderPath(), ds.CellHeaderPath(0)}
	for _, sp := range ds.Species {
		paths = append(paths, ds.SpeciesHeaderPath(sp.Name),
			ds.ParticleBoxPath(sp.Name, 0))
	}

	out := map[string][]byte{}
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) { continue }
		require.NoError(t, err)
		out[path] = data
	}
	return out
}

func TestMergeFailureLeavesEveryCatalogUntouched(t *testing.T) {
	for _, threads := range []int{1, 0} {
		ds := testDataset(t)
		m, err := NewMerger(ds, WithThreads(threads))
		require.NoError(t, err)
		_, err = m.Merge(context.Background(), firstFlush())
		require.NoError(t, err)
		before := readCatalogs(t, ds)

		// The grid part is fine, but the electrons regress.
		f := Flush{
			Time: 9, Step: 99,
			Blocks: []GridBlock{block(2)},
			Particles: []ParticleBatch{
				batch("ions", 1, 0, 4, 100),
				batch("electrons", 3, 0, 1, 10),
			},
		}
		_, err = m.Merge(context.Background(), f)
		assert.True(t, errors.Is(err, header.ErrOffsetRegression),
			"%d) got %v", threads, err)
		assert.Equal(t, before, readCatalogs(t, ds), "%d) threads", threads)

		// Retrying without the bad batch appends the blocks exactly once.
		f.Particles = f.Particles[:1]
		res, err := m.Merge(context.Background(), f)
		require.NoError(t, err, "%d)", threads)
		assert.Equal(t, 2, res.FirstBlock, "%d)", threads)
		p, err := header.LoadPlotfile(ds.HeaderPath())
		require.NoError(t, err)
		assert.Equal(t, 3, p.NumBlocks(), "%d)", threads)
		assert.Equal(t, 99, p.Step(), "%d)", threads)
	}
}

// failingCatalog refuses to persist.
type failingCatalog struct{ path string }

func (c failingCatalog) Path() string { return c.path }
func (c failingCatalog) Persist() error { return errors.New("disk full") }

func TestCommitRollsBack(t *testing.T) {
	ds := testDataset(t)
	logger, hook := test.NewNullLogger()
	m, err := NewMerger(ds, WithLogger(logger))
	require.NoError(t, err)
	_, err = m.Merge(context.Background(), firstFlush())
	require.NoError(t, err)
	before := readCatalogs(t, ds)

	mf, err := header.LoadMultiFab(ds.CellHeaderPath(0))
	require.NoError(t, err)
	_, err = mf.AppendBox(0, cellBox(2), block(2).File)
	require.NoError(t, err)
	fresh := header.CreateParticleBoxes(ds.ParticleBoxPath("ions", 1))

	err = m.commit([]catalog{
		mf, fresh, failingCatalog{ds.HeaderPath()},
	})
	assert.EqualError(t, err, "disk full")
	assert.Equal(t, before, readCatalogs(t, ds))
	_, err = os.Stat(ds.ParticleBoxPath("ions", 1))
	assert.True(t, os.IsNotExist(err), "new catalog was left behind")
	assert.Equal(t, "rollback", hook.LastEntry().Data["action"])
}

func TestMergeRefinedLevels(t *testing.T) {
	ds := testDataset(t)
	m, err := NewMerger(ds)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = m.Merge(ctx, firstFlush())
	require.NoError(t, err)

	fine := block(0)
	fine.Box = header.NewBox([]int{0, 0, 0}, []int{15, 15, 15})
	fine.Hi = []float64{0.5, 0.5, 0.5}
	fine.File.Offset = 0
	mid := batch("ions", 0, 0, 2, 0)
	mid.Level = 1
	deep := batch("ions", 0, 0, 3, 0)
	deep.Level = 2

	// Levels can't be skipped.
	_, err = m.Merge(ctx, Flush{Particles: []ParticleBatch{deep}})
	assert.True(t, errors.Is(err, header.ErrInvalidLevel), "got %v", err)
	_, err = os.Stat(ds.ParticleBoxPath("ions", 1))
	assert.True(t, os.IsNotExist(err), "skipped level was registered")

	res, err := m.Merge(ctx, Flush{
		Time: 3, Step: 30, Level: 1,
		Blocks: []GridBlock{fine},
		Particles: []ParticleBatch{mid, deep},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.FirstBlock)
	assert.Equal(t, int64(6), res.FirstIDs["ions"])

	p, err := header.LoadPlotfile(ds.HeaderPath())
	require.NoError(t, err)
	assert.Equal(t, 1, p.FinestLevel())
	assert.Equal(t, 3, p.NumBlocks())
	assert.Equal(t, "((0,0,0) (15,7,7) (0,0,0))", p.ProbDomain().String(),
		"fine boxes widened the coarse domain")

	mf, err := header.LoadMultiFab(ds.CellHeaderPath(1))
	require.NoError(t, err)
	assert.Equal(t, 1, mf.Level())
	assert.Equal(t, 1, mf.BoxArraySize())

	sp, err := header.LoadSpecies(ds.SpeciesHeaderPath("ions"), "ions")
	require.NoError(t, err)
	assert.Equal(t, 2, sp.FinestLevel())
	assert.Equal(t, int64(10), sp.TotalParticles())
	for lev, size := range []int{1, 1, 1} {
		pb, err := header.LoadParticleBoxes(ds.ParticleBoxPath("ions", lev))
		require.NoError(t, err, "%d)", lev)
		assert.Equal(t, size, pb.BoxArraySize(), "%d)", lev)
	}

	touchBulk(t, ds)
	touch(t, filepath.Join(ds.LevelDir(1), CellFileName(0)))
	touch(t, filepath.Join(ds.SpeciesLevelDir("ions", 1), DataFileName(0)))
	touch(t, filepath.Join(ds.SpeciesLevelDir("ions", 2), DataFileName(0)))
	assert.NoError(t, Verify(ds))
}

func TestMergeCancelled(t *testing.T) {
	ds := testDataset(t)
	m, err := NewMerger(ds, WithThreads(1))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Merge(ctx, firstFlush())
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)

	_, err = header.LoadPlotfile(ds.HeaderPath())
	assert.True(t, errors.Is(err, header.ErrNotFound), "got %v", err)
}

func TestMergeIncompatibleDataset(t *testing.T) {
	ds := testDataset(t)
	m, err := NewMerger(ds)
	require.NoError(t, err)
	_, err = m.Merge(context.Background(), firstFlush())
	require.NoError(t, err)

	other := ds
	other.Components = []string{"Ex", "Ey"}
	m, err = NewMerger(other)
	require.NoError(t, err)
	_, err = m.Merge(context.Background(), Flush{})
	assert.True(t, errors.Is(err, header.ErrComponentCount), "got %v", err)

	other = ds
	other.Species = []SpeciesDef{{Name: "electrons", RealNames: []string{"w"}}}
	m, err = NewMerger(other)
	require.NoError(t, err)
	_, err = m.Merge(context.Background(), Flush{})
	assert.True(t, errors.Is(err, header.ErrComponentCount), "got %v", err)
}

func TestMergeRemovesOrphans(t *testing.T) {
	ds := testDataset(t)
	orphans := []string{
		filepath.Join(ds.Dir, ".Header.tmp-1234"),
		filepath.Join(ds.LevelDir(0), ".Cell_H.tmp-1234"),
		filepath.Join(ds.Dir, "ions", ".Header.tmp-1234"),
		filepath.Join(ds.SpeciesLevelDir("ions", 0), ".Particle_H.tmp-1234"),
	}
	for _, path := range orphans { touch(t, path) }

	logger, hook := test.NewNullLogger()
	m, err := NewMerger(ds, WithLogger(logger))
	require.NoError(t, err)
	_, err = m.Merge(context.Background(), firstFlush())
	require.NoError(t, err)

	for _, path := range orphans {
		_, err := os.Stat(path)
		assert.True(t, os.IsNotExist(err), "%s still exists", path)
	}

	warnings := 0
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			assert.Equal(t, "remove_orphans", e.Data["action"])
			warnings++
		}
	}
	assert.Equal(t, len(orphans), warnings)
}

func TestMergeLogs(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	ds := testDataset(t)
	m, err := NewMerger(ds, WithLogger(logger))
	require.NoError(t, err)
	_, err = m.Merge(context.Background(), firstFlush())
	require.NoError(t, err)

	last := hook.LastEntry()
	require.NotNil(t, last)
	assert.Equal(t, logrus.InfoLevel, last.Level)
	assert.Equal(t, "merged flush", last.Message)
	assert.Equal(t, "merge", last.Data["action"])
	assert.Equal(t, 2, last.Data["blocks"])

	actions := map[interface{}]int{}
	for _, e := range hook.AllEntries() { actions[e.Data["action"]]++ }
	assert.Equal(t, 1, actions["persist_block_catalog"])
	assert.Equal(t, 1, actions["persist_grid_header"])
	assert.Equal(t, 2, actions["persist_species"])

	hook.Reset()
	_, err = m.Merge(context.Background(), Flush{Level: -1})
	require.Error(t, err)
	assert.Empty(t, hook.AllEntries())
}

func TestNewMergerValidatesDataset(t *testing.T) {
	good := testDataset(t)
	bad := []func(ds *Dataset){
		func(ds *Dataset) { ds.Dir = "" },
		func(ds *Dataset) { ds.Components = nil },
		func(ds *Dataset) { ds.SpaceDim = 4 },
		func(ds *Dataset) { ds.Species[0].Name = "a/b" },
		func(ds *Dataset) { ds.Species[0].Name = "Level_0" },
		func(ds *Dataset) { ds.Species[0].Name = "Header" },
		func(ds *Dataset) { ds.Species[1].Name = ds.Species[0].Name },
	}

	for i := range bad {
		ds := good
		ds.Species = append([]SpeciesDef{}, good.Species...)
		bad[i](&ds)
		_, err := NewMerger(ds)
		assert.Error(t, err, "%d)", i)
	}

	_, err := NewMerger(good)
	assert.NoError(t, err)
}

func TestNewGridBlock(t *testing.T) {
	data := [][]float64{{1, -2, 3}, {0.5, 0.25}}
	b, err := NewGridBlock(cellBox(1), []float64{1, 0, 0}, []float64{2, 1, 1},
		header.FabOnDisk{Name: CellFileName(3), Offset: 64}, data)
	require.NoError(t, err)
	assert.Equal(t, []float64{-2, 0.25}, b.Min)
	assert.Equal(t, []float64{3, 0.5}, b.Max)
	assert.Equal(t, int64(64), b.File.Offset)

	_, err = NewGridBlock(cellBox(1), nil, nil, header.FabOnDisk{}, nil)
	assert.Error(t, err)
}
