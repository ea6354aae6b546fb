package stats

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phil-mansfield/stitch/lib/header"
)

func TestComponents(t *testing.T) {
	nan := math.NaN()
	data := [][]float64{
		{3, -1, 4, 1, 5},
		{2.5},
		{nan, 7, -7, nan},
	}

	min, max, err := Components(data)
	require.NoError(t, err)
	assert.Equal(t, []float64{-1, 2.5, -7}, min)
	assert.Equal(t, []float64{5, 2.5, 7}, max)

	min, max, err = Components([][]float64{{nan, nan}})
	require.NoError(t, err)
	assert.True(t, math.IsNaN(min[0]) && math.IsNaN(max[0]))

	_, _, err = Components(nil)
	assert.Error(t, err)
	_, _, err = Components([][]float64{{1}, {}})
	assert.Error(t, err)
}

func TestSummarize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Cell_H")
	mf, err := header.CreateMultiFab(path, 0, 2, 0)
	require.NoError(t, err)

	_, _, err = Summarize(mf)
	assert.Error(t, err)

	stats := [][2][]float64{
		{{0, -3}, {1, 3}},
		{{-2, 0}, {0.5, 9}},
		{{1, 1}, {2, 2}},
	}
	for i := range stats {
		b := header.NewBox([]int{i, 0}, []int{i, 0})
		_, err := mf.AppendBox(0, b, header.FabOnDisk{Name: "Cell_D_00000",
			Offset: int64(i)})
		require.NoError(t, err)
		require.NoError(t, mf.SetStats(i, stats[i][0], stats[i][1]))
	}

	min, max, err := Summarize(mf)
	require.NoError(t, err)
	assert.Equal(t, []float64{-2, -3}, min)
	assert.Equal(t, []float64{2, 9}, max)
}
