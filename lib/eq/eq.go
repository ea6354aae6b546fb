/*package eq is a simple package for telling whether two arrays are equal to
one another. The catalogs use it to compare boxes and the merger uses it to
decide whether a buffer can be stitched onto an existing snapshot.*/
package eq

// Slices returns true if two arrays have the same length and the same values
// and false otherwise.
func Slices[T comparable](x, y []T) bool {
	if len(x) != len(y) { return false }
	for i := range x {
		if x[i] != y[i] { return false }
	}
	return true
}

// Strings returns true if two []string arrays are the same and false otherwise.
func Strings(x, y []string) bool { return Slices(x, y) }

// Ints returns true if two []int arrays are the same and false otherwise.
func Ints(x, y []int) bool { return Slices(x, y) }

// Int64s returns true if two []int64 arrays are the same and false otherwise.
func Int64s(x, y []int64) bool { return Slices(x, y) }

// Float64s returns true if two []float64 arrays are the same and false
// otherwise. NaN values are never equal to anything, including themselves.
func Float64s(x, y []float64) bool { return Slices(x, y) }

// Float64sEps returns true if the two []float64 arrays are within eps of one
// another and false otherwise.
func Float64sEps(x, y []float64, eps float64) bool {
	if len(x) != len(y) { return false }
	for i := range x {
		if x[i] + eps < y[i] || x[i] - eps > y[i] {
			return false
		}
	}
	return true
}

// Float64Grids returns true if two [][]float64 arrays have the same shape and
// the same values and false otherwise.
func Float64Grids(x, y [][]float64) bool {
	if len(x) != len(y) { return false }
	for i := range x {
		if !Float64s(x[i], y[i]) { return false }
	}
	return true
}
