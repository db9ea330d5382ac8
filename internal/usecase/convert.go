package usecase

import (
	"context"
	"fmt"
	"iter"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/golang/glog"

	"github.com/Global-Water-Security-Center/data-exploration/internal/adapter/aoi"
	"github.com/Global-Water-Security-Center/data-exploration/internal/adapter/dataset"
	"github.com/Global-Water-Security-Center/data-exploration/internal/adapter/grid"
	"github.com/Global-Water-Security-Center/data-exploration/internal/adapter/store/geotiff"
	"github.com/Global-Water-Security-Center/data-exploration/internal/dispatch"
	"github.com/Global-Water-Security-Center/data-exploration/internal/domain"
)

// ConvertRequest describes a netCDF to GeoTIFF conversion.
type ConvertRequest struct {
	Input  string
	OutDir string

	// Variables restricts the converted data variables. Empty converts every
	// variable that spans both spatial axes.
	Variables []string
	// BandField keeps one axis as raster bands instead of separate tiles.
	BandField string
	// NoData overrides the variable's fill value in the output.
	NoData     *float64
	Wrap180    bool
	AOIPath    string      // Shapefile restricting the written window.
	Bounds     *aoi.Bounds // Explicit bounds; takes precedence over AOIPath.
	Candidates grid.Candidates

	Mode     dispatch.Mode
	Workers  int
	Progress bool
}

// ConvertResult summarizes a conversion.
type ConvertResult struct {
	Input    string           `json:"input"`
	Outcomes []domain.Outcome `json:"-"`
	Written  int              `json:"written"`
	Skipped  int              `json:"skipped"`
	Failed   int              `json:"failed"`
	Paths    []string         `json:"paths"`
}

// Converter turns netCDF variables into GeoTIFF tiles.
type Converter struct {
	backend dataset.Backend
	writer  *geotiff.Writer
}

// NewConverter creates a Converter reading with backend and writing through w.
func NewConverter(backend dataset.Backend, w *geotiff.Writer) *Converter {
	return &Converter{backend: backend, writer: w}
}

// Writer returns the tile writer.
func (c *Converter) Writer() *geotiff.Writer {
	return c.writer
}

// Convert writes one tile per data variable and selector of req.Input to
// <OutDir>/<variable>/<basename>_<variable><selector suffix>.tif.
func (c *Converter) Convert(ctx context.Context, req ConvertRequest) (*ConvertResult, error) {
	ds, err := dataset.Open(req.Input, c.backend)
	if err != nil {
		return nil, err
	}
	defer func() { _ = ds.Close() }()

	g, err := prepareGrid(ds, req.Candidates, req.Wrap180, req.Bounds, req.AOIPath)
	if err != nil {
		return nil, err
	}

	vars, err := selectVariables(ds, g.res, req.Variables, req.BandField)
	if err != nil {
		return nil, err
	}

	base := strings.TrimSuffix(filepath.Base(req.Input), filepath.Ext(req.Input))
	total := 0
	for _, v := range vars {
		total += grid.Count(grid.ExpansionAxes(ds, v, g.res, req.BandField))
	}
	glog.Infof("converting %s: %d variables, %d tiles, window %+v", req.Input, len(vars), total, g.win)

	items := func(yield func(domain.WorkItem) bool) {
		for _, v := range vars {
			for sel := range grid.Expand(grid.ExpansionAxes(ds, v, g.res, req.BandField)) {
				name := SanitizeFilename(base + "_" + v.Name + sel.Suffix())
				item := domain.WorkItem{
					Variable:   v.Name,
					Selector:   sel,
					TargetPath: filepath.Join(req.OutDir, SanitizeFilename(v.Name), name+".tif"),
				}
				if !yield(item) {
					return
				}
			}
		}
	}

	byName := make(map[string]dataset.Variable, len(vars))
	for _, v := range vars {
		byName[v.Name] = v
	}
	task := func(_ context.Context, item domain.WorkItem) (string, bool, error) {
		v := byName[item.Variable]
		return c.writeTile(ds, g, v, item, req.BandField, outputNoData(v, req.NoData))
	}

	outcomes, err := c.run(ctx, items, task, req.Mode, req.Workers, progressFor(req.Progress, total, base))
	res := summarize(req.Input, outcomes)
	return res, err
}

// ConvertGlob converts every file matching pattern with the same settings.
// Files are processed one after another; tiles within a file are written
// concurrently.
func (c *Converter) ConvertGlob(ctx context.Context, pattern string, req ConvertRequest) ([]*ConvertResult, error) {
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, domain.Configf("invalid pattern %q: %v", pattern, err)
	}
	if len(paths) == 0 {
		return nil, domain.Configf("no files match %q", pattern)
	}
	var results []*ConvertResult
	for _, p := range paths {
		r := req
		r.Input = p
		res, err := c.Convert(ctx, r)
		if res != nil {
			results = append(results, res)
		}
		if err != nil {
			if req.Mode == dispatch.FailFast {
				return results, fmt.Errorf("convert %s: %w", p, err)
			}
			glog.Errorf("convert %s: %v", p, err)
		}
	}
	return results, nil
}

// gridPlan is the resolved spatial layout shared by every tile of a dataset.
type gridPlan struct {
	res *grid.Resolution
	win grid.Window
}

func prepareGrid(ds *dataset.Dataset, cands grid.Candidates, wrap bool, bounds *aoi.Bounds, aoiPath string) (gridPlan, error) {
	if len(cands.X) == 0 && len(cands.Y) == 0 {
		cands = grid.DefaultCandidates
	}
	res, err := grid.Resolve(ds, cands)
	if err != nil {
		return gridPlan{}, err
	}
	if wrap {
		res = res.Wrap180()
	}

	win := res.Full()
	if bounds == nil && aoiPath != "" {
		b, err := aoi.ReadShapefileBounds(aoiPath)
		if err != nil {
			return gridPlan{}, err
		}
		bounds = &b
	}
	if bounds != nil {
		minX := grid.NormalizeLon(res.X, bounds.MinX)
		maxX := grid.NormalizeLon(res.X, bounds.MaxX)
		win, err = res.WindowForBounds(minX, bounds.MinY, maxX, bounds.MaxY, 1)
		if err != nil {
			return gridPlan{}, err
		}
	}
	return gridPlan{res: res, win: win}, nil
}

func selectVariables(ds *dataset.Dataset, res *grid.Resolution, names []string, band string) ([]dataset.Variable, error) {
	var vars []dataset.Variable
	if len(names) == 0 {
		vars = ds.DataVariables(res.X.Name, res.Y.Name)
	} else {
		for _, n := range names {
			v, ok := ds.Variable(n)
			if !ok || ds.IsCoordinate(n) {
				return nil, domain.Configf("variable %s not found in %s", n, ds.Path())
			}
			if !v.HasDims(res.X.Name, res.Y.Name) {
				return nil, domain.Configf("variable %s does not span %s and %s", n, res.X.Name, res.Y.Name)
			}
			vars = append(vars, v)
		}
	}
	if len(vars) == 0 {
		return nil, domain.Configf("no data variables over %s/%s in %s", res.X.Name, res.Y.Name, ds.Path())
	}
	if band != "" {
		for _, v := range vars {
			if !v.HasDims(band) {
				return nil, domain.Configf("band field %s is not a dimension of %s %v", band, v.Name, v.Dims)
			}
		}
	}
	return vars, nil
}

func (c *Converter) writeTile(ds *dataset.Dataset, g gridPlan, v dataset.Variable, item domain.WorkItem, band string, nodata *float64) (string, bool, error) {
	slab, err := ds.Read(v.Name, item.Selector.Indices())
	if err != nil {
		return "", false, err
	}
	raster, err := g.res.Extract(slab, band, g.win)
	if err != nil {
		return "", false, err
	}

	md := item.Selector.Metadata()
	md["variable"] = v.Name
	md["source"] = filepath.Base(ds.Path())
	if v.Units != "" {
		md["units"] = v.Units
	}
	return c.writer.Write(geotiff.Tile{
		Path:      item.TargetPath,
		Width:     raster.Width,
		Height:    raster.Height,
		Bands:     raster.Bands,
		Transform: raster.Transform,
		Data:      raster.Data,
		NoData:    nodata,
		Metadata:  md,
	})
}

func (c *Converter) run(ctx context.Context, items iter.Seq[domain.WorkItem], task dispatch.Task, mode dispatch.Mode, workers int, p *progress) ([]domain.Outcome, error) {
	opts := dispatch.Options{Workers: workers, Mode: mode}
	if p != nil {
		opts.OnDone = p.done
		defer p.finish()
	}
	return dispatch.Run(ctx, items, task, opts)
}

// outputNoData picks the nodata value written to a tile: the override, or
// the variable's fill value.
func outputNoData(v dataset.Variable, override *float64) *float64 {
	if override != nil {
		nd := *override
		return &nd
	}
	if v.HasFill {
		nd := float64(float32(v.FillValue))
		return &nd
	}
	return nil
}

func summarize(input string, outcomes []domain.Outcome) *ConvertResult {
	res := &ConvertResult{Input: input, Outcomes: outcomes}
	res.Written, res.Skipped, res.Failed = dispatch.Summarize(outcomes)
	for _, o := range outcomes {
		if o.State == domain.StateSucceeded {
			res.Paths = append(res.Paths, o.Path)
		}
	}
	return res
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// SanitizeFilename replaces every character outside [A-Za-z0-9._-] with '_'.
func SanitizeFilename(name string) string {
	return unsafeChars.ReplaceAllString(name, "_")
}
