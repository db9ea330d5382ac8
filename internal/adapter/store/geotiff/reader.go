package geotiff

import (
	"fmt"

	"github.com/airbusgeo/godal"

	"github.com/Global-Water-Security-Center/data-exploration/internal/domain"
)

// Read loads every band of a raster file as float32. The returned tile's
// NoData is taken from the first band.
func Read(path string) (*Tile, error) {
	Register()
	ds, err := godal.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = ds.Close() }()

	st := ds.Structure()
	gt, err := ds.GeoTransform()
	if err != nil {
		return nil, fmt.Errorf("failed to read geotransform of %s: %w", path, err)
	}

	t := &Tile{
		Path:      path,
		Width:     st.SizeX,
		Height:    st.SizeY,
		Bands:     st.NBands,
		Transform: domain.GeoTransform(gt),
		Data:      make([]float32, st.SizeX*st.SizeY*st.NBands),
	}

	n := st.SizeX * st.SizeY
	for i, band := range ds.Bands() {
		if i == 0 {
			if nd, ok := band.NoData(); ok {
				t.NoData = &nd
			}
		}
		if err := band.Read(0, 0, t.Data[i*n:(i+1)*n], st.SizeX, st.SizeY); err != nil {
			return nil, fmt.Errorf("failed to read band %d of %s: %w", i+1, path, err)
		}
	}
	return t, nil
}

// ReadMetadata returns the value of a dataset metadata item.
func ReadMetadata(path, key string) (string, error) {
	Register()
	ds, err := godal.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = ds.Close() }()
	return ds.Metadata(key), nil
}
