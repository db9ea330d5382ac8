// Package grid maps dataset axes onto raster grids: it resolves the spatial
// axes and their geotransform, enumerates selectors over the remaining axes,
// and extracts pixel windows from dataset slabs.
package grid

import (
	"github.com/Global-Water-Security-Center/data-exploration/internal/adapter/dataset"
	"github.com/Global-Water-Security-Center/data-exploration/internal/domain"
)

// Candidates lists accepted coordinate names for the X and Y axes, in
// priority order.
type Candidates struct {
	X []string
	Y []string
}

// DefaultCandidates matches the common CF names for longitude and latitude.
var DefaultCandidates = Candidates{
	X: []string{"longitude", "long", "lon"},
	Y: []string{"latitude", "lat"},
}

// Source is the read-only view of a dataset needed to resolve axes.
type Source interface {
	Path() string
	Axis(name string) (dataset.Axis, bool)
	AxisNames() []string
}

// Resolution is the resolved spatial grid of a dataset.
type Resolution struct {
	X, Y       dataset.Axis
	ResX, ResY float64
	Transform  domain.GeoTransform
	// Roll is the number of source columns rotated from the front to the
	// back when the X axis was wrapped to -180..180.
	Roll int
}

// Width returns the number of columns.
func (r *Resolution) Width() int {
	return r.X.Len()
}

// Height returns the number of rows.
func (r *Resolution) Height() int {
	return r.Y.Len()
}

// Resolve finds the first matching X and Y coordinate axes of src and
// derives the per-pixel resolution as (last-first)/count and the transform
// with origin at the first coordinate values.
func Resolve(src Source, c Candidates) (*Resolution, error) {
	x, xOK := firstAxis(src, c.X)
	y, yOK := firstAxis(src, c.Y)
	if !xOK || !yOK || x.Name == y.Name {
		var resolved []string
		if xOK {
			resolved = append(resolved, x.Name)
		}
		if yOK && (!xOK || x.Name != y.Name) {
			resolved = append(resolved, y.Name)
		}
		return nil, &domain.MissingCoordinateError{
			Path:      src.Path(),
			Tried:     [2][]string{c.X, c.Y},
			Resolved:  resolved,
			Available: src.AxisNames(),
		}
	}

	if x.Len() == 0 || y.Len() == 0 {
		return nil, domain.Configf("spatial axes %s=%d %s=%d must not be empty", x.Name, x.Len(), y.Name, y.Len())
	}

	return newResolution(x, y), nil
}

func newResolution(x, y dataset.Axis) *Resolution {
	resX := axisResolution(x.Values)
	resY := axisResolution(y.Values)
	return &Resolution{
		X:         x,
		Y:         y,
		ResX:      resX,
		ResY:      resY,
		Transform: domain.NewGeoTransform(x.Values[0], y.Values[0], resX, resY),
	}
}

func axisResolution(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	return (values[n-1] - values[0]) / float64(n)
}

func firstAxis(src Source, names []string) (dataset.Axis, bool) {
	for _, name := range names {
		if a, ok := src.Axis(name); ok {
			return a, true
		}
	}
	return dataset.Axis{}, false
}
