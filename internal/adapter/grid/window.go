package grid

import (
	"math"

	"github.com/Global-Water-Security-Center/data-exploration/internal/adapter/dataset"
	"github.com/Global-Water-Security-Center/data-exploration/internal/domain"
)

// Window is a pixel rectangle within a resolved grid.
type Window struct {
	Col, Row      int
	Width, Height int
}

// Full returns the window covering the whole grid.
func (r *Resolution) Full() Window {
	return Window{Width: r.Width(), Height: r.Height()}
}

// WindowForBounds returns the smallest window containing the bounding box,
// grown by buffer pixels on every side and clamped to the grid.
func (r *Resolution) WindowForBounds(minX, minY, maxX, maxY float64, buffer int) (Window, error) {
	if minX > maxX || minY > maxY {
		return Window{}, domain.Configf("invalid bounds [%g %g %g %g]", minX, minY, maxX, maxY)
	}
	if !overlaps(r.X.Values, minX, maxX) || !overlaps(r.Y.Values, minY, maxY) {
		return Window{}, domain.Configf("bounds [%g %g %g %g] do not intersect the grid", minX, minY, maxX, maxY)
	}

	c0, c1 := indexRange(r.X.Values, minX, maxX)
	r0, r1 := indexRange(r.Y.Values, minY, maxY)

	c0 = clamp(c0-buffer, 0, r.Width()-1)
	c1 = clamp(c1+buffer, 0, r.Width()-1)
	r0 = clamp(r0-buffer, 0, r.Height()-1)
	r1 = clamp(r1+buffer, 0, r.Height()-1)

	return Window{Col: c0, Row: r0, Width: c1 - c0 + 1, Height: r1 - r0 + 1}, nil
}

// Wrap180 rotates an X axis defined on 0..360 so that it spans -180..180.
// Axes that do not need wrapping are returned unchanged.
func (r *Resolution) Wrap180() *Resolution {
	if !lonAxisRequiresWrap(r.X.Values) || r.Roll != 0 {
		return r
	}
	n := r.X.Len()
	split := n
	for i, v := range r.X.Values {
		if v >= 180 {
			split = i
			break
		}
	}
	if split == n {
		return r
	}

	values := make([]float64, 0, n)
	for _, v := range r.X.Values[split:] {
		values = append(values, v-360)
	}
	values = append(values, r.X.Values[:split]...)

	x := r.X
	x.Values = values
	wrapped := newResolution(x, r.Y)
	wrapped.Roll = split
	return wrapped
}

// lonAxisRequiresWrap reports whether an ascending longitude axis uses the
// 0..360 convention.
func lonAxisRequiresWrap(lons []float64) bool {
	if len(lons) == 0 {
		return false
	}
	minVal := lons[0]
	maxVal := lons[len(lons)-1]
	if minVal > maxVal {
		return false
	}
	return minVal >= 0 && maxVal > 180
}

// NormalizeLon maps lon onto the convention of the given axis.
func NormalizeLon(axis dataset.Axis, lon float64) float64 {
	if lonAxisRequiresWrap(axis.Values) {
		lon = math.Mod(lon, 360)
		if lon < 0 {
			lon += 360
		}
	}
	return lon
}

func overlaps(values []float64, lo, hi float64) bool {
	if len(values) == 0 {
		return false
	}
	a, b := values[0], values[len(values)-1]
	if a > b {
		a, b = b, a
	}
	return hi >= a && lo <= b
}

// indexRange returns the first and last indices whose values are nearest to
// lo and hi, in ascending index order. Works for both axis directions.
func indexRange(values []float64, lo, hi float64) (int, int) {
	i := findNearestIndex(values, lo)
	j := findNearestIndex(values, hi)
	if i > j {
		i, j = j, i
	}
	return i, j
}

// findNearestIndex finds the index of the value closest to target in a
// monotonic array.
func findNearestIndex(arr []float64, target float64) int {
	if len(arr) == 0 {
		return 0
	}
	descending := arr[0] > arr[len(arr)-1]
	less := func(v float64) bool {
		if descending {
			return v > target
		}
		return v < target
	}

	// Binary search for efficiency with large arrays.
	left, right := 0, len(arr)-1
	for left < right {
		mid := (left + right) / 2
		if less(arr[mid]) {
			left = mid + 1
		} else {
			right = mid
		}
	}

	// Check if left-1 is closer.
	if left > 0 && math.Abs(arr[left-1]-target) < math.Abs(arr[left]-target) {
		return left - 1
	}
	return left
}

// clamp ensures value is within [lo, hi].
func clamp(value, lo, hi int) int {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}
