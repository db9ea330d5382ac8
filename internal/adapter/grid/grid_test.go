package grid

import (
	"errors"
	"math"
	"testing"

	"github.com/Global-Water-Security-Center/data-exploration/internal/adapter/dataset"
	"github.com/Global-Water-Security-Center/data-exploration/internal/domain"
)

type fakeSource struct {
	axes []dataset.Axis
}

func (f fakeSource) Path() string { return "fake.nc" }

func (f fakeSource) Axis(name string) (dataset.Axis, bool) {
	for _, a := range f.axes {
		if a.Name == name {
			return a, true
		}
	}
	return dataset.Axis{}, false
}

func (f fakeSource) AxisNames() []string {
	out := make([]string, len(f.axes))
	for i, a := range f.axes {
		out[i] = a.Name
	}
	return out
}

func linspace(start, step float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func TestResolve_TransformReproducesFirstCoordinate(t *testing.T) {
	cases := []struct {
		name   string
		xName  string
		yName  string
		x0, dx float64
		y0, dy float64
		nx, ny int
	}{
		{"lon/lat ascending", "lon", "lat", -180, 0.25, -90, 0.25, 1440, 720},
		{"longitude/latitude descending", "longitude", "latitude", 0, 0.1, 89.95, -0.1, 10, 5},
		{"long/lat minimal", "long", "lat", 10, 1, 50, -1, 2, 2},
	}

	for _, tc := range cases {
		src := fakeSource{axes: []dataset.Axis{
			{Name: "time", Values: []float64{0, 1}},
			{Name: tc.yName, Values: linspace(tc.y0, tc.dy, tc.ny)},
			{Name: tc.xName, Values: linspace(tc.x0, tc.dx, tc.nx)},
		}}
		res, err := Resolve(src, DefaultCandidates)
		if err != nil {
			t.Fatalf("%s: Resolve: %v", tc.name, err)
		}
		x, y := res.Transform.Apply(0, 0)
		if math.Abs(x-tc.x0) > 1e-9 || math.Abs(y-tc.y0) > 1e-9 {
			t.Errorf("%s: pixel (0,0) -> (%v, %v), expected (%v, %v)", tc.name, x, y, tc.x0, tc.y0)
		}
		wantResX := (src.axes[2].Values[tc.nx-1] - tc.x0) / float64(tc.nx)
		if math.Abs(res.ResX-wantResX) > 1e-12 {
			t.Errorf("%s: resX expected %v, got %v", tc.name, wantResX, res.ResX)
		}
		if res.Width() != tc.nx || res.Height() != tc.ny {
			t.Errorf("%s: size expected %dx%d, got %dx%d", tc.name, tc.nx, tc.ny, res.Width(), res.Height())
		}
	}
}

func TestResolve_MissingCoordinate(t *testing.T) {
	src := fakeSource{axes: []dataset.Axis{
		{Name: "time", Values: []float64{0}},
		{Name: "lat", Values: []float64{0, 1}},
		{Name: "x", Values: []float64{0, 1}},
	}}
	_, err := Resolve(src, DefaultCandidates)
	var missing *domain.MissingCoordinateError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingCoordinateError, got %v", err)
	}
	if len(missing.Resolved) != 1 || missing.Resolved[0] != "lat" {
		t.Errorf("expected only lat resolved, got %v", missing.Resolved)
	}

	// Custom candidates pick up projected axes.
	if _, err := Resolve(src, Candidates{X: []string{"x"}, Y: []string{"lat"}}); err != nil {
		t.Errorf("custom candidates: %v", err)
	}
}

func TestExpand_CartesianProduct(t *testing.T) {
	for _, sizes := range [][3]int{{1, 1, 1}, {2, 3, 4}, {5, 1, 2}} {
		axes := []dataset.Axis{
			{Name: "a", Values: linspace(0, 1, sizes[0])},
			{Name: "b", Values: linspace(0, 1, sizes[1])},
			{Name: "c", Values: linspace(0, 1, sizes[2])},
		}
		seen := make(map[string]bool)
		n := 0
		for sel := range Expand(axes) {
			if len(sel) != 3 {
				t.Fatalf("selector has %d axes", len(sel))
			}
			key := sel.Key()
			if seen[key] {
				t.Fatalf("duplicate selector %s", key)
			}
			seen[key] = true
			n++
		}
		want := sizes[0] * sizes[1] * sizes[2]
		if n != want || Count(axes) != want {
			t.Errorf("sizes %v: expected %d selectors, got %d (Count=%d)", sizes, want, n, Count(axes))
		}
	}
}

func TestExpand_OrderAndEdgeCases(t *testing.T) {
	axes := []dataset.Axis{
		{Name: "member", Values: []float64{1, 2}},
		{Name: "level", Values: []float64{10, 20, 30}},
	}
	var got []string
	for sel := range Expand(axes) {
		got = append(got, sel.Key())
	}
	if got[0] != "member=1|level=10" || got[1] != "member=1|level=20" || got[3] != "member=2|level=10" {
		t.Errorf("expected last axis to vary fastest, got %v", got)
	}

	n := 0
	for sel := range Expand(nil) {
		if !sel.Empty() {
			t.Errorf("expected empty selector, got %v", sel)
		}
		n++
	}
	if n != 1 {
		t.Errorf("expected exactly one selector without axes, got %d", n)
	}

	for range Expand([]dataset.Axis{{Name: "time"}}) {
		t.Fatalf("expected no selectors for an empty axis")
	}

	// Early termination is honoured.
	n = 0
	for range Expand(axes) {
		n++
		if n == 2 {
			break
		}
	}
	if n != 2 {
		t.Errorf("expected to stop after 2, got %d", n)
	}
}

func TestExpansionAxes_SkipsSpatialAndBand(t *testing.T) {
	src := fakeSource{axes: []dataset.Axis{
		{Name: "time", Values: []float64{0, 1}},
		{Name: "member", Values: []float64{0, 1, 2}},
		{Name: "lat", Values: []float64{0, 1}},
		{Name: "lon", Values: []float64{0, 1}},
	}}
	res, err := Resolve(src, DefaultCandidates)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	v := dataset.Variable{Name: "pr", Dims: []string{"time", "member", "lat", "lon"}}

	axes := ExpansionAxes(src, v, res, "")
	if len(axes) != 2 || axes[0].Name != "time" || axes[1].Name != "member" {
		t.Errorf("unexpected axes: %+v", axes)
	}
	axes = ExpansionAxes(src, v, res, "time")
	if len(axes) != 1 || axes[0].Name != "member" {
		t.Errorf("unexpected axes with band: %+v", axes)
	}
}

func TestExtract_TransposedAndWindowed(t *testing.T) {
	src := fakeSource{axes: []dataset.Axis{
		{Name: "lon", Values: []float64{0, 1, 2}},
		{Name: "lat", Values: []float64{10, 11}},
	}}
	res, err := Resolve(src, DefaultCandidates)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	// Stored as [lon][lat]: value = lon*10 + lat index.
	slab := dataset.Slab{
		Dims:  []string{"lon", "lat"},
		Shape: []int{3, 2},
		Data:  []float32{0, 1, 10, 11, 20, 21},
	}
	r, err := res.Extract(slab, "", res.Full())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	want := []float32{0, 10, 20, 1, 11, 21}
	for i := range want {
		if r.Data[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, r.Data)
		}
	}

	r, err = res.Extract(slab, "", Window{Col: 1, Row: 1, Width: 2, Height: 1})
	if err != nil {
		t.Fatalf("Extract window: %v", err)
	}
	if r.Width != 2 || r.Height != 1 || r.Data[0] != 11 || r.Data[1] != 21 {
		t.Errorf("unexpected window raster %+v", r)
	}
	x, y := r.Transform.Origin()
	wantX, wantY := res.Transform.Apply(1, 1)
	if x != wantX || y != wantY {
		t.Errorf("window origin expected (%v,%v), got (%v,%v)", wantX, wantY, x, y)
	}
}

func TestExtract_ShapeMismatchIsConfigurationError(t *testing.T) {
	src := fakeSource{axes: []dataset.Axis{
		{Name: "lat", Values: []float64{0, 1, 2, 3}},
		{Name: "lon", Values: []float64{0, 1, 2, 3}},
	}}
	res, err := Resolve(src, DefaultCandidates)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	slab := dataset.Slab{Dims: []string{"lat", "lon"}, Shape: []int{3, 4}, Data: make([]float32, 12)}
	_, err = res.Extract(slab, "", res.Full())
	var cfg *domain.ConfigurationError
	if !errors.As(err, &cfg) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}

	slab = dataset.Slab{Dims: []string{"time", "lat", "lon"}, Shape: []int{2, 4, 4}, Data: make([]float32, 32)}
	if _, err := res.Extract(slab, "", res.Full()); !errors.As(err, &cfg) {
		t.Fatalf("expected ConfigurationError for unselected dim, got %v", err)
	}
}

func TestExtract_BandDimension(t *testing.T) {
	src := fakeSource{axes: []dataset.Axis{
		{Name: "lat", Values: []float64{0, 1}},
		{Name: "lon", Values: []float64{0, 1}},
	}}
	res, _ := Resolve(src, DefaultCandidates)
	slab := dataset.Slab{
		Dims:  []string{"time", "lat", "lon"},
		Shape: []int{2, 2, 2},
		Data:  []float32{1, 2, 3, 4, 5, 6, 7, 8},
	}
	r, err := res.Extract(slab, "time", res.Full())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if r.Bands != 2 || len(r.Data) != 8 || r.Data[4] != 5 {
		t.Errorf("unexpected band raster %+v", r)
	}
}

func TestWrap180(t *testing.T) {
	src := fakeSource{axes: []dataset.Axis{
		{Name: "lat", Values: []float64{0}},
		{Name: "lon", Values: []float64{0, 90, 180, 270}},
	}}
	res, err := Resolve(src, DefaultCandidates)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	w := res.Wrap180()
	if w.Roll != 2 {
		t.Fatalf("expected roll 2, got %d", w.Roll)
	}
	want := []float64{-180, -90, 0, 90}
	for i, v := range want {
		if w.X.Values[i] != v {
			t.Fatalf("expected %v, got %v", want, w.X.Values)
		}
	}
	if x, _ := w.Transform.Origin(); x != -180 {
		t.Errorf("expected origin -180, got %v", x)
	}

	slab := dataset.Slab{Dims: []string{"lat", "lon"}, Shape: []int{1, 4}, Data: []float32{0, 90, 180, 270}}
	r, err := w.Extract(slab, "", w.Full())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if r.Data[0] != 180 || r.Data[3] != 90 {
		t.Errorf("expected rolled columns, got %v", r.Data)
	}

	if res2 := w.Wrap180(); res2 != w {
		t.Errorf("wrapping twice should be a no-op")
	}
}

func TestWindowForBounds(t *testing.T) {
	src := fakeSource{axes: []dataset.Axis{
		{Name: "lat", Values: linspace(9.5, -1, 10)}, // 9.5 .. 0.5
		{Name: "lon", Values: linspace(0.5, 1, 10)},  // 0.5 .. 9.5
	}}
	res, err := Resolve(src, DefaultCandidates)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	win, err := res.WindowForBounds(2.5, 3.5, 4.5, 5.5, 1)
	if err != nil {
		t.Fatalf("WindowForBounds: %v", err)
	}
	want := Window{Col: 1, Row: 3, Width: 5, Height: 5}
	if win != want {
		t.Errorf("expected %+v, got %+v", want, win)
	}

	if _, err := res.WindowForBounds(50, 50, 60, 60, 0); err == nil {
		t.Errorf("expected disjoint bounds to fail")
	}
}

func TestNormalizeLon(t *testing.T) {
	axis := dataset.Axis{Name: "lon", Values: []float64{0, 120, 240, 359}}
	if got := NormalizeLon(axis, -10); got != 350 {
		t.Errorf("expected 350, got %v", got)
	}
	axis.Values = []float64{-180, 0, 179}
	if got := NormalizeLon(axis, -10); got != -10 {
		t.Errorf("expected -10, got %v", got)
	}
}
