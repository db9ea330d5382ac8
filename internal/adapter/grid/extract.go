package grid

import (
	"github.com/Global-Water-Security-Center/data-exploration/internal/adapter/dataset"
	"github.com/Global-Water-Security-Center/data-exploration/internal/domain"
)

// Raster is a band-sequential float32 pixel block ready to be written.
type Raster struct {
	Width, Height int
	Bands         int
	Transform     domain.GeoTransform
	Data          []float32
}

// Extract copies window win out of slab into a north-up raster layout.
// The slab must contain exactly the two spatial dimensions plus, when band
// is set, the band dimension. Dimension lengths must match the resolved
// axes; any mismatch is a ConfigurationError.
func (r *Resolution) Extract(slab dataset.Slab, band string, win Window) (Raster, error) {
	xi, yi, bi := -1, -1, -1
	for i, d := range slab.Dims {
		switch {
		case d == r.X.Name:
			xi = i
		case d == r.Y.Name:
			yi = i
		case band != "" && d == band:
			bi = i
		default:
			return Raster{}, domain.Configf("slab has unselected dimension %s", d)
		}
	}
	if xi < 0 || yi < 0 {
		return Raster{}, domain.Configf("slab dims %v do not contain %s and %s", slab.Dims, r.X.Name, r.Y.Name)
	}
	if band != "" && bi < 0 {
		return Raster{}, domain.Configf("band dimension %s not in slab dims %v", band, slab.Dims)
	}
	if slab.Shape[xi] != r.Width() || slab.Shape[yi] != r.Height() {
		return Raster{}, domain.Configf("slab is %dx%d but axes %s/%s are %dx%d",
			slab.Shape[xi], slab.Shape[yi], r.X.Name, r.Y.Name, r.Width(), r.Height())
	}
	if win.Width <= 0 || win.Height <= 0 || win.Col < 0 || win.Row < 0 ||
		win.Col+win.Width > r.Width() || win.Row+win.Height > r.Height() {
		return Raster{}, domain.Configf("window %+v outside %dx%d grid", win, r.Width(), r.Height())
	}
	if len(slab.Data) != slab.Len() {
		return Raster{}, domain.Configf("slab holds %d values for shape %v", len(slab.Data), slab.Shape)
	}

	// Row-major strides of the slab.
	strides := make([]int, len(slab.Shape))
	s := 1
	for i := len(slab.Shape) - 1; i >= 0; i-- {
		strides[i] = s
		s *= slab.Shape[i]
	}

	bands := 1
	bandStride := 0
	if bi >= 0 {
		bands = slab.Shape[bi]
		bandStride = strides[bi]
	}

	nx := r.Width()
	out := make([]float32, bands*win.Width*win.Height)
	k := 0
	for b := 0; b < bands; b++ {
		for row := 0; row < win.Height; row++ {
			base := b*bandStride + (win.Row+row)*strides[yi]
			for col := 0; col < win.Width; col++ {
				src := (win.Col + col + r.Roll) % nx
				out[k] = slab.Data[base+src*strides[xi]]
				k++
			}
		}
	}

	return Raster{
		Width:     win.Width,
		Height:    win.Height,
		Bands:     bands,
		Transform: r.Transform.Offset(win.Col, win.Row),
		Data:      out,
	}, nil
}
