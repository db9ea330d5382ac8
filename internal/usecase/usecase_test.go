package usecase

import (
	"archive/zip"
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Global-Water-Security-Center/data-exploration/internal/adapter/aoi"
	"github.com/Global-Water-Security-Center/data-exploration/internal/adapter/dataset"
	"github.com/Global-Water-Security-Center/data-exploration/internal/adapter/fetch"
	"github.com/Global-Water-Security-Center/data-exploration/internal/adapter/grid"
	"github.com/Global-Water-Security-Center/data-exploration/internal/adapter/store"
	"github.com/Global-Water-Security-Center/data-exploration/internal/adapter/store/csv"
	"github.com/Global-Water-Security-Center/data-exploration/internal/adapter/store/geotiff"
	"github.com/Global-Water-Security-Center/data-exploration/internal/adapter/store/registry"
	"github.com/Global-Water-Security-Center/data-exploration/internal/config"
	"github.com/Global-Water-Security-Center/data-exploration/internal/dispatch"
	"github.com/Global-Water-Security-Center/data-exploration/internal/domain"
	"github.com/Global-Water-Security-Center/data-exploration/internal/retry"
)

const fill = float32(1e20)

// writePrecip writes pr(time=2, lat=4, lon=4) with pr = t*100 + y*10 + x and
// the last value of the second step missing.
func writePrecip(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "pr_day_test.nc")
	data := make([]float32, 0, 32)
	for ti := 0; ti < 2; ti++ {
		for y := 0; y < 4; y++ {
			for x := 0; x < 4; x++ {
				data = append(data, float32(ti*100+y*10+x))
			}
		}
	}
	data[31] = fill
	f := fill
	err := dataset.WriteNetCDF(path, dataset.Synthetic{
		Axes: []dataset.SyntheticAxis{
			{Name: "time", Values: []float64{0, 1}, Units: "days since 2001-01-01", Calendar: "noleap"},
			{Name: "bnds", Len: 2},
			{Name: "lat", Values: []float64{-1.5, -0.5, 0.5, 1.5}, Units: "degrees_north"},
			{Name: "lon", Values: []float64{10, 11, 12, 13}, Units: "degrees_east"},
		},
		Vars: []dataset.SyntheticVar{
			{Name: "time_bnds", Dims: []string{"time", "bnds"}, Data: []float32{0, 1, 1, 2}},
			{Name: "pr", Dims: []string{"time", "lat", "lon"}, Data: data, Units: "kg m-2 s-1", FillValue: &f},
		},
	})
	require.NoError(t, err)
	return path
}

func newConverter() *Converter {
	return NewConverter(dataset.BackendCDF, geotiff.NewWriter())
}

func TestConvert_PrecipTwoTiles(t *testing.T) {
	dir := t.TempDir()
	input := writePrecip(t, dir)
	out := filepath.Join(dir, "out")
	conv := newConverter()

	res, err := conv.Convert(context.Background(), ConvertRequest{
		Input: input, OutDir: out, Mode: dispatch.BestEffort, Workers: 2,
	})
	require.NoError(t, err)
	require.Equal(t, 2, res.Written)
	require.Zero(t, res.Failed)

	first := filepath.Join(out, "pr", "pr_day_test_pr_time2001-01-01.tif")
	second := filepath.Join(out, "pr", "pr_day_test_pr_time2001-01-02.tif")
	paths := append([]string(nil), res.Paths...)
	sort.Strings(paths)
	require.Equal(t, []string{first, second}, paths)

	tile, err := geotiff.Read(first)
	require.NoError(t, err)
	require.Equal(t, 4, tile.Width)
	require.Equal(t, 4, tile.Height)
	require.True(t, tile.Transform.AlmostEqual(domain.NewGeoTransform(10, -1.5, 0.75, 0.75), 1e-9), "%v", tile.Transform)
	x, y := tile.Transform.Apply(0, 0)
	require.Equal(t, 10.0, x)
	require.Equal(t, -1.5, y)
	require.EqualValues(t, 12, tile.Data[1*4+2])
	require.NotNil(t, tile.NoData)
	require.EqualValues(t, fill, *tile.NoData)

	tile2, err := geotiff.Read(second)
	require.NoError(t, err)
	require.EqualValues(t, 132, tile2.Data[3*4+2])
	require.EqualValues(t, fill, tile2.Data[15])

	md, err := geotiff.ReadMetadata(second, "time")
	require.NoError(t, err)
	require.Equal(t, "2001-01-02", md)

	// A second run finds both targets and rewrites nothing.
	res, err = conv.Convert(context.Background(), ConvertRequest{
		Input: input, OutDir: out, Mode: dispatch.FailFast, Workers: 2,
	})
	require.NoError(t, err)
	require.Equal(t, 2, res.Skipped)
	require.Zero(t, res.Written)
}

func TestConvert_BandFieldAndWindow(t *testing.T) {
	dir := t.TempDir()
	input := writePrecip(t, dir)
	out := filepath.Join(dir, "out")
	nodata := -9999.0

	res, err := newConverter().Convert(context.Background(), ConvertRequest{
		Input:     input,
		OutDir:    out,
		Variables: []string{"pr"},
		BandField: "time",
		NoData:    &nodata,
		Bounds:    &aoi.Bounds{MinX: 11, MinY: -0.5, MaxX: 11, MaxY: -0.5},
		Mode:      dispatch.FailFast,
		Workers:   1,
	})
	require.NoError(t, err)
	require.Len(t, res.Paths, 1)
	require.Equal(t, filepath.Join(out, "pr", "pr_day_test_pr.tif"), res.Paths[0])

	tile, err := geotiff.Read(res.Paths[0])
	require.NoError(t, err)
	require.Equal(t, 2, tile.Bands)
	require.Equal(t, 3, tile.Width)
	require.Equal(t, 3, tile.Height)
	require.EqualValues(t, nodata, *tile.NoData)
	// Band 2, row 1, col 2.
	require.EqualValues(t, 112, tile.Data[9+1*3+2])
}

func TestConvert_Errors(t *testing.T) {
	dir := t.TempDir()
	input := writePrecip(t, dir)
	conv := newConverter()

	_, err := conv.Convert(context.Background(), ConvertRequest{
		Input: input, OutDir: dir, Variables: []string{"tas"}, Mode: dispatch.FailFast,
	})
	var ce *domain.ConfigurationError
	require.ErrorAs(t, err, &ce)

	_, err = conv.Convert(context.Background(), ConvertRequest{
		Input: input, OutDir: dir, Candidates: grid.Candidates{X: []string{"x"}, Y: []string{"y"}}, Mode: dispatch.FailFast,
	})
	var me *domain.MissingCoordinateError
	require.ErrorAs(t, err, &me)

	_, err = conv.Convert(context.Background(), ConvertRequest{Input: input, OutDir: dir})
	require.ErrorAs(t, err, &ce)
}

func TestConvertGlob(t *testing.T) {
	dir := t.TempDir()
	writePrecip(t, dir)
	results, err := newConverter().ConvertGlob(context.Background(), filepath.Join(dir, "*.nc"), ConvertRequest{
		OutDir: filepath.Join(dir, "out"), Mode: dispatch.BestEffort, Workers: 4,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, 2, results[0].Written)

	_, err = newConverter().ConvertGlob(context.Background(), filepath.Join(dir, "*.nc4"), ConvertRequest{Mode: dispatch.BestEffort})
	require.Error(t, err)
}

func TestDaily_TilesAndYearArchive(t *testing.T) {
	dir := t.TempDir()
	input := writePrecip(t, dir)
	out := filepath.Join(dir, "out")

	res, err := newConverter().Daily(context.Background(), DailyRequest{
		Input:    input,
		Variable: "pr",
		OutDir:   out,
		Vars:     map[string]string{"scenario": "historical", "model": "SAM0-UNICON", "variant": "r1i1p1f1"},
		Zip:      true,
		Mode:     dispatch.FailFast,
		Workers:  2,
	})
	require.NoError(t, err)
	require.Equal(t, 2, res.Written)

	base := filepath.Join(out, "cmip6", "pr", "historical", "SAM0-UNICON", "r1i1p1f1")
	require.Equal(t, map[string][]string{"2001": {
		filepath.Join(base, "cmip6-pr-historical-SAM0-UNICON-r1i1p1f1-2001-01-01.tif"),
		filepath.Join(base, "cmip6-pr-historical-SAM0-UNICON-r1i1p1f1-2001-01-02.tif"),
	}}, res.ByYear)

	archive := filepath.Join(base, "cmip6-pr-historical-SAM0-UNICON-r1i1p1f1-2001.zip")
	require.Equal(t, []string{archive}, res.Archives)
	zr, err := zip.OpenReader(archive)
	require.NoError(t, err)
	defer zr.Close()
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	require.Equal(t, []string{
		"cmip6-pr-historical-SAM0-UNICON-r1i1p1f1-2001-01-01.tif",
		"cmip6-pr-historical-SAM0-UNICON-r1i1p1f1-2001-01-02.tif",
	}, names)
}

func TestDaily_MissingPatternValue(t *testing.T) {
	dir := t.TempDir()
	_, err := newConverter().Daily(context.Background(), DailyRequest{
		Input: writePrecip(t, dir), Variable: "pr", OutDir: dir, Mode: dispatch.FailFast,
	})
	var ce *domain.ConfigurationError
	require.ErrorAs(t, err, &ce)
}

func fastFetcher(dir string) *fetch.Fetcher {
	return fetch.New(dir, fetch.Options{Policy: &retry.Policy{MaxAttempts: 2, Initial: time.Millisecond, Max: time.Millisecond, Multiplier: 2}})
}

func serveFile(t *testing.T, path string) *httptest.Server {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if filepath.Ext(r.URL.Path) != ".nc" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(b)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestProcessURLList(t *testing.T) {
	dir := t.TempDir()
	srv := serveFile(t, writePrecip(t, dir))

	entries := []csv.URLEntry{
		{Variable: "pr", Scenario: "historical", Model: "M1", Variant: "r1i1p1f1", URL: srv.URL + "/pr_day_M1.nc"},
		{Variable: "pr", Scenario: "ssp245", Model: "M2", Variant: "r1i1p1f1", URL: srv.URL + "/pr_day_M2.nc"},
		{Variable: "pr", Scenario: "ssp245", Model: "M3", Variant: "r1i1p1f1", URL: srv.URL + "/missing.txt"},
	}
	done := store.NewMemoryKV()
	p := NewPipeline(fastFetcher(filepath.Join(dir, "cache")), newConverter(), done)
	opts := URLListOptions{OutDir: filepath.Join(dir, "out"), Zip: true, Files: 2, TileWorkers: 2, Mode: dispatch.BestEffort}

	results, err := p.ProcessURLList(context.Background(), entries, opts)
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.NoError(t, results[0].Err)
	require.Equal(t, 2, results[0].Daily.Written)
	require.NoError(t, results[1].Err)
	var fe *domain.FetchError
	require.True(t, errors.As(results[2].Err, &fe))

	_, ok, err := done.Get(context.Background(), doneKey(entries[0].URL))
	require.NoError(t, err)
	require.True(t, ok)

	// Completed URLs are skipped on the next run.
	p = NewPipeline(fastFetcher(filepath.Join(dir, "cache")), newConverter(), done)
	results, err = p.ProcessURLList(context.Background(), entries[:2], opts)
	require.NoError(t, err)
	require.True(t, results[0].Done)
	require.True(t, results[1].Done)

	// FailFast returns the fetch failure.
	opts.Mode = dispatch.FailFast
	_, err = p.ProcessURLList(context.Background(), entries[2:], opts)
	require.ErrorAs(t, err, &fe)
}

func TestFileFetcher(t *testing.T) {
	dir := t.TempDir()
	var hits atomic.Int32
	fixture := writePrecip(t, dir)
	b, err := os.ReadFile(fixture)
	require.NoError(t, err)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/era5/reanalysis-era5-sfc-daily-2021-05-01.nc" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(b)
	}))
	defer srv.Close()

	reg, err := registry.Open(filepath.Join(dir, "file_registry.sqlite"))
	require.NoError(t, err)
	defer reg.Close()

	cfg := &config.Config{Datasets: map[string]config.Dataset{
		"era5_daily": {BaseURI: srv.URL + "/era5", FileFormat: "reanalysis-era5-sfc-daily-{date}.nc"},
	}}
	ff := NewFileFetcher(cfg, reg, fastFetcher(filepath.Join(dir, "cache")))

	p1, err := ff.Fetch(context.Background(), "era5_daily", "sum_tp_mm", "2021-05-01")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "cache", "era5_daily", "reanalysis-era5-sfc-daily-2021-05-01.nc"), p1)

	p2, err := ff.Fetch(context.Background(), "era5_daily", "sum_tp_mm", "2021-05-01")
	require.NoError(t, err)
	require.Equal(t, p1, p2)
	require.EqualValues(t, 1, hits.Load())

	rec, ok, err := reg.LookupFile(context.Background(), "era5_daily", "sum_tp_mm", "2021-05-01")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, p1, rec)

	cached, err := ff.Cached(context.Background(), "era5_daily")
	require.NoError(t, err)
	require.Equal(t, []store.FileRecord{{
		DatasetID: "era5_daily", VariableID: "sum_tp_mm", DateStr: "2021-05-01", FilePath: p1,
	}}, cached)

	_, err = ff.Fetch(context.Background(), "gdm", "x", "2021-05-01")
	var ce *domain.ConfigurationError
	require.ErrorAs(t, err, &ce)
	_, err = ff.Cached(context.Background(), "gdm")
	require.ErrorAs(t, err, &ce)
}

func TestDescribe(t *testing.T) {
	info, err := Describe(writePrecip(t, t.TempDir()), dataset.BackendCDF)
	require.NoError(t, err)
	require.Len(t, info.Axes, 4)
	require.Equal(t, "time", info.Axes[0].Name)
	require.Equal(t, "2001-01-01", info.Axes[0].First)
	require.Equal(t, "2001-01-02", info.Axes[0].Last)
	require.NotNil(t, info.Grid)
	require.Equal(t, "lon", info.Grid.X)
	require.Equal(t, 4, info.Grid.Width)

	var names []string
	for _, v := range info.Variables {
		names = append(names, v.Name)
	}
	require.Contains(t, names, "pr")
}

func TestSeries(t *testing.T) {
	res, err := Series(context.Background(), dataset.BackendCDF, SeriesRequest{
		Input: writePrecip(t, t.TempDir()), Variable: "pr", Lat: 0, Lon: 11.5,
	})
	require.NoError(t, err)
	require.Len(t, res.Points, 2)
	require.Equal(t, "2001-01-01", res.Points[0].Date)
	require.InDelta(t, 16.5, res.Points[0].Value, 1e-4)
	require.InDelta(t, 116.5, res.Points[1].Value, 1e-4)
	require.Equal(t, 2, res.Summary.Count)
	require.InDelta(t, 66.5, res.Summary.Mean, 1e-4)

	_, err = Series(context.Background(), dataset.BackendCDF, SeriesRequest{
		Input: writePrecip(t, t.TempDir()), Variable: "pr", Lat: 40, Lon: 11.5,
	})
	require.Error(t, err)
}

func TestSummarize(t *testing.T) {
	s := Summarize([]csv.Point{{Value: 1}, {Value: math.NaN()}, {Value: 3}})
	require.Equal(t, 2, s.Count)
	require.Equal(t, 2.0, s.Mean)
	require.Equal(t, 1.0, s.Min)
	require.Equal(t, 3.0, s.Max)

	require.True(t, math.IsNaN(Summarize(nil).Mean))
}

func TestRenames(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"GDM_QL20230101-v1.tif",
		"GDM_QL20230201-v1.tif",
		"other.tif",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}

	_, err := PlanRenames([]string{dir}, "2023")
	require.Error(t, err)

	// Both files would land on the same name.
	_, err = PlanRenames([]string{dir}, "20240101")
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)

	require.NoError(t, os.Remove(filepath.Join(dir, "GDM_QL20230201-v1.tif")))
	plan, err := PlanRenames([]string{dir}, "20240101")
	require.NoError(t, err)
	require.Equal(t, []Rename{{
		From: filepath.Join(dir, "GDM_QL20230101-v1.tif"),
		To:   filepath.Join(dir, "GDM_QL20240101-v1.tif"),
	}}, plan)

	require.NoError(t, ApplyRenames(plan))
	_, err = os.Stat(filepath.Join(dir, "GDM_QL20240101-v1.tif"))
	require.NoError(t, err)

	plan, err = PlanRenames([]string{dir}, "20240101")
	require.NoError(t, err)
	require.True(t, plan[0].Same())
}

func TestJobRunner(t *testing.T) {
	dir := t.TempDir()
	input := writePrecip(t, dir)
	r := NewJobRunner(context.Background(), newConverter())

	job := r.Submit(ConvertRequest{Input: input, OutDir: filepath.Join(dir, "out"), Mode: dispatch.BestEffort, Workers: 2})
	require.NotEmpty(t, job.ID)
	require.Equal(t, JobQueued, job.Status)
	r.Wait()

	got, ok := r.Get(job.ID)
	require.True(t, ok)
	require.Equal(t, JobSucceeded, got.Status)
	require.Equal(t, 2, got.Result.Written)

	// A file where the variable directory belongs fails every tile.
	blocked := filepath.Join(dir, "blocked")
	require.NoError(t, os.MkdirAll(blocked, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(blocked, "pr"), nil, 0o644))
	partial := r.Submit(ConvertRequest{Input: input, OutDir: blocked, Mode: dispatch.BestEffort, Workers: 2})
	r.Wait()
	got, _ = r.Get(partial.ID)
	require.Equal(t, JobPartial, got.Status)
	require.Equal(t, 2, got.Result.Failed)
	require.Equal(t, "2 of 2 tiles failed", got.Error)

	bad := r.Submit(ConvertRequest{Input: filepath.Join(dir, "nope.nc"), Mode: dispatch.BestEffort})
	r.Wait()
	got, _ = r.Get(bad.ID)
	require.Equal(t, JobFailed, got.Status)
	require.NotEmpty(t, got.Error)

	_, ok = r.Get("unknown")
	require.False(t, ok)
}

func TestSanitizeFilename(t *testing.T) {
	require.Equal(t, "pr_time2001-01-01T12_00_00", SanitizeFilename("pr_time2001-01-01T12:00:00"))
	require.Equal(t, "a_b_c.tif", SanitizeFilename("a b/c.tif"))
}
