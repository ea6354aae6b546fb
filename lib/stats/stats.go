/*package stats computes the summary statistics stored alongside grid blocks:
the minimum and maximum of every component within a block, and the same
quantities over a whole level of a dataset.*/
package stats

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/phil-mansfield/stitch/lib/header"
)

// Components returns the minimum and maximum of each component. data[c] holds
// every value of component c within the block. NaN values are skipped; a
// component that is entirely NaN has NaN statistics.
func Components(data [][]float64) (min, max []float64, err error) {
	if len(data) == 0 {
		return nil, nil, fmt.Errorf("no components were given")
	}

	min, max = make([]float64, len(data)), make([]float64, len(data))
	buf := []float64{}
	for c := range data {
		if len(data[c]) == 0 {
			return nil, nil, fmt.Errorf("component %d has no values", c)
		}

		buf = finite(data[c], buf[:0])
		if len(buf) == 0 {
			min[c], max[c] = math.NaN(), math.NaN()
			continue
		}
		min[c], max[c] = floats.Min(buf), floats.Max(buf)
	}
	return min, max, nil
}

// finite appends every non-NaN element of x to buf.
func finite(x, buf []float64) []float64 {
	if !floats.HasNaN(x) { return append(buf, x...) }
	for _, v := range x {
		if !math.IsNaN(v) { buf = append(buf, v) }
	}
	return buf
}

// Summarize returns the minimum and maximum of each component over every
// block in the catalog.
func Summarize(mf *header.MultiFab) (min, max []float64, err error) {
	n := mf.BoxArraySize()
	if n == 0 {
		return nil, nil, fmt.Errorf("%s has no blocks", mf.Path())
	}

	lo := make([][]float64, mf.NComp())
	hi := make([][]float64, mf.NComp())
	for i := 0; i < n; i++ {
		bMin, bMax, err := mf.Stats(i)
		if err != nil { return nil, nil, err }
		for c := range lo {
			lo[c] = append(lo[c], bMin[c])
			hi[c] = append(hi[c], bMax[c])
		}
	}

	min, _, err = Components(lo)
	if err != nil { return nil, nil, err }
	_, max, err = Components(hi)
	if err != nil { return nil, nil, err }
	return min, max, nil
}
