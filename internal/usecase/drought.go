package usecase

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/golang/glog"

	"github.com/Global-Water-Security-Center/data-exploration/internal/adapter/aoi"
	"github.com/Global-Water-Security-Center/data-exploration/internal/adapter/dataset"
	"github.com/Global-Water-Security-Center/data-exploration/internal/adapter/grid"
	"github.com/Global-Water-Security-Center/data-exploration/internal/adapter/store/csv"
	"github.com/Global-Water-Security-Center/data-exploration/internal/domain"
)

// DroughtCategories are the drought monitor classes, indexed by pixel value.
var DroughtCategories = []string{
	"D0 - Abnormally Dry",
	"D1 - Moderate Drought",
	"D2 - Severe Drought",
	"D3 - Extreme Drought",
	"D4 - Exceptional Drought",
}

// DroughtThresholds are the area shares checked for every month.
var DroughtThresholds = []struct {
	Name  string
	Share float64
}{
	{"1/3", 1.0 / 3},
	{"1/2", 1.0 / 2},
	{"2/3", 2.0 / 3},
}

// droughtSevere is the first category counted against the thresholds.
const droughtSevere = 3

// DroughtRequest asks for the drought categories of an area over time.
type DroughtRequest struct {
	Input    string
	Variable string // Defaults to "drought".
	AOIPath  string
	// Start and End bound the months, as YYYY-MM-DD. Empty means open.
	Start, End string
	Candidates grid.Candidates
}

// DroughtResult holds one row per month and one per year.
type DroughtResult struct {
	Variable string
	Pixels   int // Pixel centres inside the area.
	Months   []csv.CategoryRow
	Years    []csv.ThresholdRow
}

// Drought counts, for the first time step of every month in range, the
// pixels of the area of interest in each drought category. A year row
// counts the months whose extreme and exceptional pixels together cover at
// least each share in DroughtThresholds. Pixels are in the area when their
// centre is inside or on the edge of one of its polygons.
func Drought(ctx context.Context, backend dataset.Backend, req DroughtRequest) (*DroughtResult, error) {
	if req.Variable == "" {
		req.Variable = "drought"
	}
	start, end, err := parseDateRange(req.Start, req.End)
	if err != nil {
		return nil, err
	}
	area, err := aoi.ReadShapefile(req.AOIPath)
	if err != nil {
		return nil, err
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
	if len(axes) != 1 || !axes[0].IsTime() {
		return nil, domain.Configf("variable %s must have exactly one time dimension besides %s and %s",
			v.Name, res.X.Name, res.Y.Name)
	}
	tAxis := axes[0]

	b := area.Bounds
	win, err := res.WindowForBounds(grid.NormalizeLon(res.X, b.MinX), b.MinY, grid.NormalizeLon(res.X, b.MaxX), b.MaxY, 0)
	if err != nil {
		return nil, err
	}
	mask, pixels := areaMask(res, win, area)
	if pixels == 0 {
		return nil, domain.Configf("area of interest %s contains no pixel centre of %s", req.AOIPath, ds.Path())
	}
	glog.Infof("drought %s: %d pixels in %s, window %+v", ds.Path(), pixels, req.AOIPath, win)

	out := &DroughtResult{Variable: v.Name, Pixels: pixels}
	seen := make(map[string]bool)
	years := make(map[int][]int)
	for i := 0; i < tAxis.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d, _ := tAxis.Date(i)
		month := fmt.Sprintf("%04d-%02d", d.Year, d.Month)
		if seen[month] || !inRange(d.Time(), start, end) {
			continue
		}
		seen[month] = true

		slab, err := ds.Read(v.Name, map[string]int{tAxis.Name: i})
		if err != nil {
			return nil, err
		}
		raster, err := res.Extract(slab, "", win)
		if err != nil {
			return nil, err
		}

		counts := make([]int, len(DroughtCategories))
		for k, val := range raster.Data {
			if !mask[k] || math.IsNaN(float64(val)) {
				continue
			}
			if c := int(math.Round(float64(val))); c >= 0 && c < len(counts) {
				counts[c]++
			}
		}
		out.Months = append(out.Months, csv.CategoryRow{Date: month, Total: pixels, Counts: counts})

		if years[d.Year] == nil {
			years[d.Year] = make([]int, len(DroughtThresholds))
		}
		severe := 0
		for _, n := range counts[droughtSevere:] {
			severe += n
		}
		share := float64(severe) / float64(pixels)
		for j, th := range DroughtThresholds {
			if share >= th.Share {
				years[d.Year][j]++
			}
		}
	}

	for y, counts := range years {
		out.Years = append(out.Years, csv.ThresholdRow{Year: y, Counts: counts})
	}
	sort.Slice(out.Years, func(i, j int) bool { return out.Years[i].Year < out.Years[j].Year })
	return out, nil
}

// WriteTables writes the monthly and yearly tables to
// dir/drought_info_raw_<name>.csv and dir/drought_info_by_year_<name>.csv.
func (r *DroughtResult) WriteTables(dir, name string) (monthly, yearly string, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("failed to create %s: %w", dir, err)
	}
	monthly = filepath.Join(dir, "drought_info_raw_"+SanitizeFilename(name)+".csv")
	yearly = filepath.Join(dir, "drought_info_by_year_"+SanitizeFilename(name)+".csv")

	columns := make([]string, len(DroughtThresholds))
	for i, th := range DroughtThresholds {
		columns[i] = fmt.Sprintf("n months with %s drought in region", th.Name)
	}
	if err := writeTable(monthly, func(f *os.File) error {
		return csv.WriteCategoryCounts(f, DroughtCategories, r.Months)
	}); err != nil {
		return "", "", err
	}
	if err := writeTable(yearly, func(f *os.File) error {
		return csv.WriteThresholdCounts(f, columns, r.Years)
	}); err != nil {
		return "", "", err
	}
	return monthly, yearly, nil
}

func writeTable(path string, write func(*os.File) error) error {
	f, err := os.Create(path) //nolint:gosec // G304: path is built from the output directory
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

// areaMask flags the pixels of win whose centre is in the area, in raster
// order, and counts them.
func areaMask(res *grid.Resolution, win grid.Window, area *aoi.Area) ([]bool, int) {
	mask := make([]bool, win.Width*win.Height)
	n := 0
	for row := 0; row < win.Height; row++ {
		lat := res.Y.Values[win.Row+row]
		for col := 0; col < win.Width; col++ {
			lon := res.X.Values[win.Col+col]
			if lon > 180 {
				lon -= 360
			}
			if area.Contains(lon, lat) {
				mask[row*win.Width+col] = true
				n++
			}
		}
	}
	return mask, n
}

func parseDateRange(start, end string) (time.Time, time.Time, error) {
	var s, e time.Time
	var err error
	if strings.TrimSpace(start) != "" {
		if s, err = time.Parse("2006-01-02", start); err != nil {
			return s, e, domain.Configf("invalid start date %q, want YYYY-MM-DD", start)
		}
	}
	if strings.TrimSpace(end) != "" {
		if e, err = time.Parse("2006-01-02", end); err != nil {
			return s, e, domain.Configf("invalid end date %q, want YYYY-MM-DD", end)
		}
	}
	if !s.IsZero() && !e.IsZero() && e.Before(s) {
		return s, e, domain.Configf("end date %s is before start date %s", end, start)
	}
	return s, e, nil
}

// inRange reports whether t falls on a day between start and end inclusive.
// Zero bounds are open.
func inRange(t, start, end time.Time) bool {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	if !start.IsZero() && day.Before(start) {
		return false
	}
	if !end.IsZero() && day.After(end) {
		return false
	}
	return true
}
