// Package rastercalc combines single-band rasters pixel by pixel. The nodata
// value of the first input defines the output mask.
package rastercalc

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/Global-Water-Security-Center/data-exploration/internal/adapter/store/geotiff"
	"github.com/Global-Water-Security-Center/data-exploration/internal/domain"
)

// Average returns the per-pixel mean of the first band of every raster in
// paths. Pixels that are nodata in the first raster stay nodata.
func Average(paths []string) (*geotiff.Tile, error) {
	if len(paths) == 0 {
		return nil, domain.Configf("no rasters to average")
	}
	first, err := geotiff.Read(paths[0])
	if err != nil {
		return nil, err
	}
	mask := validMask(first)
	sum := band64(first)
	for _, p := range paths[1:] {
		t, err := geotiff.Read(p)
		if err != nil {
			return nil, err
		}
		if err := sameGrid(first, t); err != nil {
			return nil, err
		}
		floats.Add(sum, band64(t))
	}
	floats.Scale(1/float64(len(paths)), sum)
	return result(first, sum, mask), nil
}

// Subtract returns a - b on the first band of each raster.
func Subtract(pathA, pathB string) (*geotiff.Tile, error) {
	a, err := geotiff.Read(pathA)
	if err != nil {
		return nil, err
	}
	b, err := geotiff.Read(pathB)
	if err != nil {
		return nil, err
	}
	if err := sameGrid(a, b); err != nil {
		return nil, err
	}
	diff := make([]float64, a.Width*a.Height)
	floats.SubTo(diff, band64(a), band64(b))
	return result(a, diff, validMask(a)), nil
}

func band64(t *geotiff.Tile) []float64 {
	n := t.Width * t.Height
	out := make([]float64, n)
	for i, v := range t.Data[:n] {
		out[i] = float64(v)
	}
	return out
}

func validMask(t *geotiff.Tile) []bool {
	n := t.Width * t.Height
	mask := make([]bool, n)
	for i, v := range t.Data[:n] {
		f := float64(v)
		mask[i] = !math.IsNaN(f) && (t.NoData == nil || f != float64(float32(*t.NoData)))
	}
	return mask
}

func sameGrid(a, b *geotiff.Tile) error {
	if a.Width != b.Width || a.Height != b.Height {
		return domain.Configf("raster %s is %dx%d, %s is %dx%d",
			b.Path, b.Width, b.Height, a.Path, a.Width, a.Height)
	}
	if !a.Transform.AlmostEqual(b.Transform, 1e-9) {
		return domain.Configf("raster %s is not aligned with %s", b.Path, a.Path)
	}
	return nil
}

// result builds a single-band tile on ref's grid. Masked pixels are NaN and
// become ref's nodata when written.
func result(ref *geotiff.Tile, values []float64, mask []bool) *geotiff.Tile {
	data := make([]float32, len(values))
	for i, v := range values {
		if !mask[i] {
			data[i] = float32(math.NaN())
			continue
		}
		data[i] = float32(v)
	}
	var nodata *float64
	if ref.NoData != nil {
		nd := *ref.NoData
		nodata = &nd
	}
	return &geotiff.Tile{
		Width:     ref.Width,
		Height:    ref.Height,
		Bands:     1,
		Transform: ref.Transform,
		Data:      data,
		NoData:    nodata,
	}
}
