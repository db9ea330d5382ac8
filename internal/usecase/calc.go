package usecase

import (
	"path/filepath"
	"sort"

	"github.com/Global-Water-Security-Center/data-exploration/internal/adapter/rastercalc"
	"github.com/Global-Water-Security-Center/data-exploration/internal/adapter/store/geotiff"
	"github.com/Global-Water-Security-Center/data-exploration/internal/domain"
)

// AverageRasters averages every raster matching pattern into target.
func AverageRasters(w *geotiff.Writer, pattern, target string) (string, error) {
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return "", domain.Configf("invalid pattern %q: %v", pattern, err)
	}
	if len(paths) == 0 {
		return "", domain.Configf("no rasters match %q", pattern)
	}
	sort.Strings(paths)
	t, err := rastercalc.Average(paths)
	if err != nil {
		return "", err
	}
	t.Path = target
	path, _, err := w.Write(*t)
	return path, err
}

// SubtractRasters writes a - b to target.
func SubtractRasters(w *geotiff.Writer, a, b, target string) (string, error) {
	t, err := rastercalc.Subtract(a, b)
	if err != nil {
		return "", err
	}
	t.Path = target
	path, _, err := w.Write(*t)
	return path, err
}
