// Package interp samples gridded fields at arbitrary points.
package interp

import (
	"fmt"
	"math"
)

// GridCell is one rectangle of a grid with the field value at its corners.
// X0 < X1 and Y0 < Y1. V00 is at (X0, Y0), V10 at (X1, Y0), V01 at (X0, Y1)
// and V11 at (X1, Y1). NaN corners are treated as missing.
type GridCell struct {
	X0, X1             float64
	Y0, Y1             float64
	V00, V10, V01, V11 float64
}

// BilinearInterpolate interpolates within a cell:
//
//	f(x,y) ≈ (1-t)(1-u)f(x0,y0) + t(1-u)f(x1,y0) + (1-t)u*f(x0,y1) + tu*f(x1,y1)
//
// with t = (x-x0)/(x1-x0) and u = (y-y0)/(y1-y0). Missing corners are dropped
// and the remaining weights renormalized; NaN is returned when no corner with
// a non-zero weight has a value.
func BilinearInterpolate(cell GridCell, x, y float64) (float64, error) {
	if cell.X1 <= cell.X0 {
		return 0, fmt.Errorf("invalid grid cell: X1 must be > X0")
	}
	if cell.Y1 <= cell.Y0 {
		return 0, fmt.Errorf("invalid grid cell: Y1 must be > Y0")
	}

	const epsilon = 1e-9
	if x < cell.X0-epsilon || x > cell.X1+epsilon {
		return 0, fmt.Errorf("x coordinate %.6f is outside grid cell [%.6f, %.6f]", x, cell.X0, cell.X1)
	}
	if y < cell.Y0-epsilon || y > cell.Y1+epsilon {
		return 0, fmt.Errorf("y coordinate %.6f is outside grid cell [%.6f, %.6f]", y, cell.Y0, cell.Y1)
	}

	t := math.Max(0, math.Min(1, (x-cell.X0)/(cell.X1-cell.X0)))
	u := math.Max(0, math.Min(1, (y-cell.Y0)/(cell.Y1-cell.Y0)))

	corners := [4]struct{ w, v float64 }{
		{(1 - t) * (1 - u), cell.V00},
		{t * (1 - u), cell.V10},
		{(1 - t) * u, cell.V01},
		{t * u, cell.V11},
	}
	var sum, weight float64
	for _, c := range corners {
		if c.w == 0 || math.IsNaN(c.v) {
			continue
		}
		sum += c.w * c.v
		weight += c.w
	}
	if weight == 0 {
		return math.NaN(), nil
	}
	return sum / weight, nil
}

// Grid2D is a regular grid. Values is row-major with len(Y) rows of len(X)
// columns. Either axis may be ascending or descending.
type Grid2D struct {
	X      []float64
	Y      []float64
	Values []float32
}

// NewGrid2D builds and validates a grid.
func NewGrid2D(x, y []float64, values []float32) (*Grid2D, error) {
	g := &Grid2D{X: x, Y: y, Values: values}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// Validate checks if the grid is valid.
func (g *Grid2D) Validate() error {
	if len(g.X) < 2 {
		return fmt.Errorf("grid must have at least 2 X coordinates")
	}
	if len(g.Y) < 2 {
		return fmt.Errorf("grid must have at least 2 Y coordinates")
	}
	if len(g.Values) != len(g.X)*len(g.Y) {
		return fmt.Errorf("grid has %d values, expected %d", len(g.Values), len(g.X)*len(g.Y))
	}
	if !monotonic(g.X) {
		return fmt.Errorf("X coordinates must be strictly monotonic")
	}
	if !monotonic(g.Y) {
		return fmt.Errorf("Y coordinates must be strictly monotonic")
	}
	return nil
}

// At returns the value at a grid node.
func (g *Grid2D) At(col, row int) float64 {
	return float64(g.Values[row*len(g.X)+col])
}

// InterpolateAt performs bilinear interpolation at a given point.
func (g *Grid2D) InterpolateAt(x, y float64) (float64, error) {
	if err := g.Validate(); err != nil {
		return 0, fmt.Errorf("invalid grid: %w", err)
	}

	xi, ok := bracket(g.X, x)
	if !ok {
		return 0, fmt.Errorf("x coordinate %.6f is outside grid range [%.6f, %.6f]", x, g.X[0], g.X[len(g.X)-1])
	}
	yi, ok := bracket(g.Y, y)
	if !ok {
		return 0, fmt.Errorf("y coordinate %.6f is outside grid range [%.6f, %.6f]", y, g.Y[0], g.Y[len(g.Y)-1])
	}

	// Order the bracketing nodes so the cell runs low to high on both axes.
	c0, c1 := xi, xi+1
	if g.X[c1] < g.X[c0] {
		c0, c1 = c1, c0
	}
	r0, r1 := yi, yi+1
	if g.Y[r1] < g.Y[r0] {
		r0, r1 = r1, r0
	}

	cell := GridCell{
		X0:  g.X[c0],
		X1:  g.X[c1],
		Y0:  g.Y[r0],
		Y1:  g.Y[r1],
		V00: g.At(c0, r0),
		V10: g.At(c1, r0),
		V01: g.At(c0, r1),
		V11: g.At(c1, r1),
	}
	return BilinearInterpolate(cell, x, y)
}

// bracket returns i such that v lies between axis[i] and axis[i+1].
func bracket(axis []float64, v float64) (int, bool) {
	for i := 0; i < len(axis)-1; i++ {
		lo, hi := axis[i], axis[i+1]
		if lo > hi {
			lo, hi = hi, lo
		}
		if v >= lo && v <= hi {
			return i, true
		}
	}
	return -1, false
}

func monotonic(v []float64) bool {
	asc := v[1] > v[0]
	for i := 1; i < len(v); i++ {
		if asc && v[i] <= v[i-1] || !asc && v[i] >= v[i-1] {
			return false
		}
	}
	return true
}
