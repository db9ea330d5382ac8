package usecase

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/golang/glog"

	"github.com/Global-Water-Security-Center/data-exploration/internal/adapter/dataset"
	"github.com/Global-Water-Security-Center/data-exploration/internal/adapter/grid"
	"github.com/Global-Water-Security-Center/data-exploration/internal/dispatch"
	"github.com/Global-Water-Security-Center/data-exploration/internal/domain"
)

// CMIP6Pattern is the default target layout of the daily pipeline.
const CMIP6Pattern = "cmip6/{variable}/{scenario}/{model}/{variant}/cmip6-{variable}-{scenario}-{model}-{variant}-{date}.tif"

// DailyRequest describes a one-tile-per-time-step conversion of a single
// variable.
type DailyRequest struct {
	Input    string
	Variable string
	OutDir   string
	// Pattern is formatted with Vars plus {variable} and {date}
	// (YYYY-MM-DD) and joined to OutDir.
	Pattern string
	Vars    map[string]string
	// Zip bundles each year's tiles into one archive named after Pattern
	// with {date} set to the year and .tif replaced by .zip.
	Zip        bool
	NoData     *float64
	Wrap180    bool
	Candidates grid.Candidates

	Mode     dispatch.Mode
	Workers  int
	Progress bool
}

// DailyResult summarizes a daily run.
type DailyResult struct {
	ConvertResult
	ByYear   map[string][]string `json:"by_year"`
	Archives []string            `json:"archives"`
}

// Daily writes one tile per step of the variable's time axis.
func (c *Converter) Daily(ctx context.Context, req DailyRequest) (*DailyResult, error) {
	pattern := req.Pattern
	if pattern == "" {
		pattern = CMIP6Pattern
	}

	ds, err := dataset.Open(req.Input, c.backend)
	if err != nil {
		return nil, err
	}
	defer func() { _ = ds.Close() }()

	g, err := prepareGrid(ds, req.Candidates, req.Wrap180, nil, "")
	if err != nil {
		return nil, err
	}
	v, ok := ds.Variable(req.Variable)
	if !ok {
		return nil, domain.Configf("variable %s not found in %s", req.Variable, ds.Path())
	}
	timeAxis, fixed, err := dailyAxes(ds, g.res, v)
	if err != nil {
		return nil, err
	}

	// Every tile path is computed up front so that years can be bundled
	// even when some tiles already existed.
	vars := make(map[string]string, len(req.Vars)+2)
	for k, val := range req.Vars {
		vars[k] = val
	}
	vars["variable"] = req.Variable

	var work []domain.WorkItem
	byYear := map[string][]string{}
	for i := range timeAxis.Values {
		d, ok := timeAxis.Date(i)
		if !ok {
			return nil, domain.Configf("cannot decode %s[%d] of %s", timeAxis.Name, i, ds.Path())
		}
		date := fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
		vars["date"] = date
		rel, err := domain.FormatPattern(pattern, vars)
		if err != nil {
			return nil, err
		}
		target := filepath.Join(req.OutDir, rel)
		year := date[:4]
		if n := len(byYear[year]); n > 0 && byYear[year][n-1] == target {
			// Sub-daily steps map onto the same daily tile.
			continue
		}
		byYear[year] = append(byYear[year], target)

		sel := domain.Selector{{Axis: timeAxis.Name, Index: i, Value: timeAxis.Values[i], Label: date}}
		for axis, idx := range fixed {
			a, _ := ds.Axis(axis)
			sel = append(sel, domain.AxisValue{Axis: axis, Index: idx, Value: a.Values[idx], Label: a.Label(idx)})
		}
		work = append(work, domain.WorkItem{Variable: v.Name, Selector: sel, TargetPath: target})
	}
	glog.Infof("daily %s: %s has %d steps in %d years", req.Input, v.Name, len(work), len(byYear))

	nodata := outputNoData(v, req.NoData)
	task := func(_ context.Context, item domain.WorkItem) (string, bool, error) {
		return c.writeTile(ds, g, v, item, "", nodata)
	}
	outcomes, runErr := c.run(ctx, dispatch.Items(work), task, req.Mode, req.Workers,
		progressFor(req.Progress, len(work), filepath.Base(req.Input)))

	res := &DailyResult{ConvertResult: *summarize(req.Input, outcomes), ByYear: byYear}
	if runErr != nil {
		return res, runErr
	}
	if !req.Zip {
		return res, nil
	}

	years := make([]string, 0, len(byYear))
	for y := range byYear {
		years = append(years, y)
	}
	sort.Strings(years)
	for _, year := range years {
		vars["date"] = year
		rel, err := domain.FormatPattern(pattern, vars)
		if err != nil {
			return res, err
		}
		archive := filepath.Join(req.OutDir, strings.TrimSuffix(rel, filepath.Ext(rel))+".zip")
		if err := ZipFiles(byYear[year], archive); err != nil {
			if req.Mode == dispatch.FailFast {
				return res, err
			}
			glog.Errorf("zip %s: %v", archive, err)
			continue
		}
		res.Archives = append(res.Archives, archive)
	}
	return res, nil
}

// dailyAxes finds the time axis of v. Other non-spatial dimensions must have
// length one and are pinned to index 0.
func dailyAxes(ds *dataset.Dataset, res *grid.Resolution, v dataset.Variable) (dataset.Axis, map[string]int, error) {
	var timeAxis dataset.Axis
	found := false
	fixed := map[string]int{}
	for _, a := range grid.ExpansionAxes(ds, v, res, "") {
		if !found && a.IsTime() {
			timeAxis, found = a, true
			continue
		}
		if a.Len() != 1 {
			return dataset.Axis{}, nil, domain.Configf("variable %s has extra dimension %s of length %d", v.Name, a.Name, a.Len())
		}
		fixed[a.Name] = 0
	}
	if !found {
		return dataset.Axis{}, nil, domain.Configf("variable %s has no decodable time dimension", v.Name)
	}
	return timeAxis, fixed, nil
}

// ZipFiles bundles the existing files among paths into archive, flat, under
// their base names. The archive is written to a temporary sibling and
// renamed into place.
func ZipFiles(paths []string, archive string) error {
	if err := os.MkdirAll(filepath.Dir(archive), 0o755); err != nil {
		return &domain.IOWriteError{Path: archive, Err: err}
	}
	tmp, err := os.CreateTemp(filepath.Dir(archive), "."+filepath.Base(archive)+".*.tmp")
	if err != nil {
		return &domain.IOWriteError{Path: archive, Err: err}
	}
	tmpName := tmp.Name()

	zw := zip.NewWriter(tmp)
	n := 0
	for _, p := range paths {
		if err := addToZip(zw, p); err != nil {
			if os.IsNotExist(err) {
				glog.Warningf("zip %s: %s missing, not bundled", archive, p)
				continue
			}
			_ = zw.Close()
			_ = tmp.Close()
			_ = os.Remove(tmpName)
			return &domain.IOWriteError{Path: archive, Err: err}
		}
		n++
	}
	if err := zw.Close(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return &domain.IOWriteError{Path: archive, Err: err}
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return &domain.IOWriteError{Path: archive, Err: err}
	}
	if err := os.Rename(tmpName, archive); err != nil {
		_ = os.Remove(tmpName)
		return &domain.IOWriteError{Path: archive, Err: err}
	}
	glog.V(1).Infof("zipped %d files into %s", n, archive)
	return nil
}

func addToZip(zw *zip.Writer, path string) error {
	//nolint:gosec // G304: paths are tiles written by this process.
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	w, err := zw.CreateHeader(&zip.FileHeader{Name: filepath.Base(path), Method: zip.Deflate})
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}
