// Package domain holds the core types shared by the conversion pipeline.
package domain

import "math"

// GeoTransform is the six-parameter affine mapping from pixel (col, row) to
// geographic coordinates, in GDAL order:
//
//	x = gt[0] + col*gt[1] + row*gt[2]
//	y = gt[3] + col*gt[4] + row*gt[5]
type GeoTransform [6]float64

// NewGeoTransform builds translation(originX, originY) * scale(resX, resY).
func NewGeoTransform(originX, originY, resX, resY float64) GeoTransform {
	return GeoTransform{originX, resX, 0, originY, 0, resY}
}

// Apply maps a pixel position to geographic coordinates.
func (g GeoTransform) Apply(col, row float64) (float64, float64) {
	x := g[0] + col*g[1] + row*g[2]
	y := g[3] + col*g[4] + row*g[5]
	return x, y
}

// Origin returns the coordinates of pixel (0, 0).
func (g GeoTransform) Origin() (float64, float64) {
	return g[0], g[3]
}

// Offset returns the transform of a window starting at (col, row).
func (g GeoTransform) Offset(col, row int) GeoTransform {
	x, y := g.Apply(float64(col), float64(row))
	out := g
	out[0] = x
	out[3] = y
	return out
}

// AlmostEqual reports whether two transforms match within tol on every term.
func (g GeoTransform) AlmostEqual(o GeoTransform, tol float64) bool {
	for i := range g {
		if math.Abs(g[i]-o[i]) > tol {
			return false
		}
	}
	return true
}
