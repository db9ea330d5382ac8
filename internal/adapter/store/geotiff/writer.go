// Package geotiff writes and reads float32 GeoTIFF tiles through GDAL.
package geotiff

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/airbusgeo/godal"

	"github.com/Global-Water-Security-Center/data-exploration/internal/domain"
)

// EPSGGeographic is the CRS every tile is written in (WGS84 lon/lat).
const EPSGGeographic = 4326

// DefaultCreationOptions are the GTiff options used for every tile.
var DefaultCreationOptions = []string{"TILED=YES", "COMPRESS=LZW", "PREDICTOR=2"}

var registerOnce sync.Once

// Register loads the GDAL drivers. It is safe to call more than once.
func Register() {
	registerOnce.Do(godal.RegisterAll)
}

// Tile is a raster ready to be written. Data is band-sequential, row-major,
// north-up, Width*Height*Bands long.
type Tile struct {
	Path      string
	Width     int
	Height    int
	Bands     int
	Transform domain.GeoTransform
	Data      []float32
	NoData    *float64
	Metadata  map[string]string
}

// Writer writes tiles atomically: pixels go to a temporary sibling file that
// is renamed over the target once GDAL has closed it. Targets that already
// exist, or are being written by another goroutine, are skipped.
type Writer struct {
	options []string
	epsg    int

	mu       sync.Mutex
	inflight map[string]bool

	writes atomic.Int64
	skips  atomic.Int64
}

// NewWriter creates a Writer with the default creation options.
func NewWriter() *Writer {
	Register()
	return &Writer{
		options:  DefaultCreationOptions,
		epsg:     EPSGGeographic,
		inflight: make(map[string]bool),
	}
}

// Writes returns the number of tiles actually written.
func (w *Writer) Writes() int64 {
	return w.writes.Load()
}

// Skips returns the number of writes skipped because the target existed.
func (w *Writer) Skips() int64 {
	return w.skips.Load()
}

// Write writes t to t.Path and returns the path. skipped is true when the
// target already existed. Failures are returned as *domain.IOWriteError.
func (w *Writer) Write(t Tile) (path string, skipped bool, err error) {
	if err := t.validate(); err != nil {
		return "", false, err
	}

	if _, err := os.Stat(t.Path); err == nil {
		w.skips.Add(1)
		return t.Path, true, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", false, &domain.IOWriteError{Path: t.Path, Err: err}
	}

	if !w.claim(t.Path) {
		w.skips.Add(1)
		return t.Path, true, nil
	}
	defer w.release(t.Path)
	// Another goroutine may have finished the target since the first check.
	if _, err := os.Stat(t.Path); err == nil {
		w.skips.Add(1)
		return t.Path, true, nil
	}

	if err := os.MkdirAll(filepath.Dir(t.Path), 0o755); err != nil {
		return "", false, &domain.IOWriteError{Path: t.Path, Err: err}
	}

	tmp, err := tempSibling(t.Path)
	if err != nil {
		return "", false, &domain.IOWriteError{Path: t.Path, Err: err}
	}
	if err := w.writeGDAL(tmp, t); err != nil {
		_ = os.Remove(tmp)
		return "", false, &domain.IOWriteError{Path: t.Path, Err: err}
	}
	if err := os.Rename(tmp, t.Path); err != nil {
		_ = os.Remove(tmp)
		return "", false, &domain.IOWriteError{Path: t.Path, Err: err}
	}

	w.writes.Add(1)
	return t.Path, false, nil
}

func (w *Writer) claim(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.inflight[path] {
		return false
	}
	w.inflight[path] = true
	return true
}

func (w *Writer) release(path string) {
	w.mu.Lock()
	delete(w.inflight, path)
	w.mu.Unlock()
}

func (t Tile) validate() error {
	if t.Path == "" {
		return domain.Configf("tile has no target path")
	}
	if t.Width <= 0 || t.Height <= 0 || t.Bands <= 0 {
		return domain.Configf("tile %s has invalid size %dx%dx%d", t.Path, t.Width, t.Height, t.Bands)
	}
	if len(t.Data) != t.Width*t.Height*t.Bands {
		return domain.Configf("tile %s holds %d values, expected %dx%dx%d",
			t.Path, len(t.Data), t.Width, t.Height, t.Bands)
	}
	return nil
}

// tempSibling reserves a unique file name next to path.
func tempSibling(path string) (string, error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return "", err
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		return "", err
	}
	return name, nil
}

func (w *Writer) writeGDAL(path string, t Tile) (err error) {
	ds, err := godal.Create(godal.GTiff, path, t.Bands, godal.Float32, t.Width, t.Height,
		godal.CreationOption(w.options...))
	if err != nil {
		return fmt.Errorf("failed to create dataset: %w", err)
	}
	defer func() {
		if cerr := ds.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close dataset: %w", cerr)
		}
	}()

	if err := ds.SetGeoTransform([6]float64(t.Transform)); err != nil {
		return fmt.Errorf("failed to set geotransform: %w", err)
	}
	sr, err := godal.NewSpatialRefFromEPSG(w.epsg)
	if err != nil {
		return fmt.Errorf("failed to build EPSG:%d: %w", w.epsg, err)
	}
	defer sr.Close()
	if err := ds.SetSpatialRef(sr); err != nil {
		return fmt.Errorf("failed to set spatial reference: %w", err)
	}

	keys := make([]string, 0, len(t.Metadata))
	for k := range t.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := ds.SetMetadata(k, t.Metadata[k]); err != nil {
			return fmt.Errorf("failed to set metadata %s: %w", k, err)
		}
	}

	n := t.Width * t.Height
	buf := make([]float32, n)
	for i, band := range ds.Bands() {
		copy(buf, t.Data[i*n:(i+1)*n])
		if t.NoData != nil {
			nd := float32(*t.NoData)
			for j, v := range buf {
				if math.IsNaN(float64(v)) {
					buf[j] = nd
				}
			}
			if err := band.SetNoData(*t.NoData); err != nil {
				return fmt.Errorf("failed to set nodata: %w", err)
			}
		}
		if err := band.Write(0, 0, buf, t.Width, t.Height); err != nil {
			return fmt.Errorf("failed to write band %d: %w", i+1, err)
		}
	}
	return nil
}
