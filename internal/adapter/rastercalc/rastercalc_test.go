package rastercalc

import (
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/Global-Water-Security-Center/data-exploration/internal/adapter/store/geotiff"
	"github.com/Global-Water-Security-Center/data-exploration/internal/domain"
)

const nodata = -9999.0

func writeRaster(t *testing.T, w *geotiff.Writer, path string, width int, data []float32) {
	t.Helper()
	nd := nodata
	_, _, err := w.Write(geotiff.Tile{
		Path:      path,
		Width:     width,
		Height:    len(data) / width,
		Bands:     1,
		Transform: domain.NewGeoTransform(30, 10, 0.5, -0.5),
		Data:      data,
		NoData:    &nd,
	})
	if err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestAverage(t *testing.T) {
	dir := t.TempDir()
	w := geotiff.NewWriter()
	a := filepath.Join(dir, "a.tif")
	b := filepath.Join(dir, "b.tif")
	c := filepath.Join(dir, "c.tif")
	writeRaster(t, w, a, 2, []float32{1, 2, nodata, 4})
	writeRaster(t, w, b, 2, []float32{3, 4, 5, 6})
	writeRaster(t, w, c, 2, []float32{5, 6, 7, 8})

	got, err := Average([]string{a, b, c})
	if err != nil {
		t.Fatalf("Average: %v", err)
	}
	want := []float64{3, 4, math.NaN(), 6}
	for i, v := range got.Data {
		if math.IsNaN(want[i]) {
			if !math.IsNaN(float64(v)) {
				t.Errorf("pixel %d = %v, want nodata", i, v)
			}
			continue
		}
		if math.Abs(float64(v)-want[i]) > 1e-6 {
			t.Errorf("pixel %d = %v, want %v", i, v, want[i])
		}
	}
	if got.NoData == nil || *got.NoData != nodata {
		t.Errorf("nodata = %v, want %v", got.NoData, nodata)
	}

	out := got
	out.Path = filepath.Join(dir, "avg.tif")
	if _, _, err := w.Write(*out); err != nil {
		t.Fatalf("write average: %v", err)
	}
	back, err := geotiff.Read(out.Path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if back.Data[2] != nodata {
		t.Errorf("masked pixel written as %v, want %v", back.Data[2], nodata)
	}
}

func TestSubtract(t *testing.T) {
	dir := t.TempDir()
	w := geotiff.NewWriter()
	a := filepath.Join(dir, "a.tif")
	b := filepath.Join(dir, "b.tif")
	writeRaster(t, w, a, 3, []float32{10, nodata, 30, 40, 50, 60})
	writeRaster(t, w, b, 3, []float32{1, 2, 3, 4, 5, 6})

	got, err := Subtract(a, b)
	if err != nil {
		t.Fatalf("Subtract: %v", err)
	}
	want := []float32{9, 0, 27, 36, 45, 54}
	for i, v := range got.Data {
		if i == 1 {
			if !math.IsNaN(float64(v)) {
				t.Errorf("pixel 1 = %v, want nodata", v)
			}
			continue
		}
		if v != want[i] {
			t.Errorf("pixel %d = %v, want %v", i, v, want[i])
		}
	}
}

func TestMismatchedGrids(t *testing.T) {
	dir := t.TempDir()
	w := geotiff.NewWriter()
	a := filepath.Join(dir, "a.tif")
	b := filepath.Join(dir, "b.tif")
	writeRaster(t, w, a, 2, []float32{1, 2, 3, 4})
	writeRaster(t, w, b, 4, []float32{1, 2, 3, 4})

	_, err := Subtract(a, b)
	var ce *domain.ConfigurationError
	if !errors.As(err, &ce) {
		t.Fatalf("Subtract error = %v, want ConfigurationError", err)
	}
	if _, err := Average(nil); err == nil {
		t.Fatal("expected error for empty input")
	}
}
