package usecase

import (
	"context"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/Global-Water-Security-Center/data-exploration/internal/adapter/dataset"
	"github.com/Global-Water-Security-Center/data-exploration/internal/adapter/grid"
	"github.com/Global-Water-Security-Center/data-exploration/internal/adapter/interp"
	"github.com/Global-Water-Security-Center/data-exploration/internal/adapter/store/csv"
	"github.com/Global-Water-Security-Center/data-exploration/internal/domain"
)

// SeriesRequest asks for the values of a variable at one point.
type SeriesRequest struct {
	Input    string
	Variable string
	Lat      float64
	Lon      float64
	// Candidates defaults to grid.DefaultCandidates.
	Candidates grid.Candidates
}

// SeriesSummary holds statistics over the non-missing samples.
type SeriesSummary struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	Std   float64 `json:"std"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	P95   float64 `json:"p95"`
}

// SeriesResult is a point time series.
type SeriesResult struct {
	Variable string        `json:"variable"`
	Units    string        `json:"units,omitempty"`
	Lat      float64       `json:"lat"`
	Lon      float64       `json:"lon"`
	Points   []csv.Point   `json:"points"`
	Summary  SeriesSummary `json:"summary"`
}

// Series bilinearly samples req.Variable at (Lat, Lon) for every step of its
// non-spatial axis. Variables without one yield a single point.
func Series(ctx context.Context, backend dataset.Backend, req SeriesRequest) (*SeriesResult, error) {
	if req.Lat < -90 || req.Lat > 90 {
		return nil, domain.Configf("latitude must be between -90 and 90")
	}
	ds, err := dataset.Open(req.Input, backend)
	if err != nil {
		return nil, err
	}
	defer func() { _ = ds.Close() }()

	cands := req.Candidates
	if len(cands.X) == 0 || len(cands.Y) == 0 {
		cands = grid.DefaultCandidates
	}
	res, err := grid.Resolve(ds, cands)
	if err != nil {
		return nil, err
	}
	res = res.Wrap180()
	v, ok := ds.Variable(req.Variable)
	if !ok {
		return nil, domain.Configf("variable %s not found in %s", req.Variable, ds.Path())
	}
	axes := grid.ExpansionAxes(ds, v, res, "")
	if len(axes) > 1 {
		return nil, domain.Configf("variable %s has %d non-spatial dimensions, expected at most one", v.Name, len(axes))
	}
	lon := grid.NormalizeLon(res.X, req.Lon)

	out := &SeriesResult{Variable: v.Name, Units: v.Units, Lat: req.Lat, Lon: req.Lon}
	for sel := range grid.Expand(axes) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		slab, err := ds.Read(v.Name, sel.Indices())
		if err != nil {
			return nil, err
		}
		raster, err := res.Extract(slab, "", res.Full())
		if err != nil {
			return nil, err
		}
		g, err := interp.NewGrid2D(res.X.Values, res.Y.Values, raster.Data)
		if err != nil {
			return nil, domain.Configf("cannot interpolate %s: %v", v.Name, err)
		}
		val, err := g.InterpolateAt(lon, req.Lat)
		if err != nil {
			return nil, domain.Configf("point (%g, %g) is outside the grid of %s", req.Lat, req.Lon, ds.Path())
		}
		date := ""
		if len(sel) > 0 {
			date = sel[0].Label
		}
		out.Points = append(out.Points, csv.Point{Date: date, Value: val})
	}
	out.Summary = Summarize(out.Points)
	return out, nil
}

// Summarize computes statistics over the non-NaN values of points.
func Summarize(points []csv.Point) SeriesSummary {
	vals := make([]float64, 0, len(points))
	for _, p := range points {
		if !math.IsNaN(p.Value) {
			vals = append(vals, p.Value)
		}
	}
	s := SeriesSummary{Count: len(vals)}
	if len(vals) == 0 {
		s.Mean, s.Std, s.Min, s.Max, s.P95 = math.NaN(), math.NaN(), math.NaN(), math.NaN(), math.NaN()
		return s
	}
	sort.Float64s(vals)
	s.Mean = stat.Mean(vals, nil)
	s.Std = 0
	if len(vals) > 1 {
		s.Std = stat.StdDev(vals, nil)
	}
	s.Min = vals[0]
	s.Max = vals[len(vals)-1]
	s.P95 = stat.Quantile(0.95, stat.Empirical, vals, nil)
	return s
}
