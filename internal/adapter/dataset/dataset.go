// Package dataset provides read access to gridded netCDF datasets.
//
// Two backends are available: "cdf" wraps the netCDF C library and "native"
// is a pure Go reader for classic and HDF5-based files. Both expose the same
// Dataset view: named axes with coordinate values, data variables with their
// packing attributes, and hyperslab reads returning float32 values with fill
// values mapped to NaN.
package dataset

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
)

// Backend selects the netCDF implementation used to open a file.
type Backend string

// Supported backends.
const (
	BackendCDF    Backend = "cdf"
	BackendNative Backend = "native"
)

// ParseBackend validates a backend name. The empty string selects BackendCDF.
func ParseBackend(s string) (Backend, error) {
	switch Backend(strings.ToLower(strings.TrimSpace(s))) {
	case "", BackendCDF:
		return BackendCDF, nil
	case BackendNative:
		return BackendNative, nil
	default:
		return "", fmt.Errorf("unknown netCDF backend %q (want cdf or native)", s)
	}
}

// Axis is a dimension together with its coordinate values. Dimensions with no
// coordinate variable get index values 0..n-1.
type Axis struct {
	Name     string
	Values   []float64
	Units    string
	Calendar string

	time *TimeDecoder
}

// Len returns the number of coordinate values.
func (a Axis) Len() int {
	return len(a.Values)
}

// IsTime reports whether the axis carries CF time units.
func (a Axis) IsTime() bool {
	return a.time != nil
}

// Date decodes the i-th value of a time axis.
func (a Axis) Date(i int) (CalendarDate, bool) {
	if a.time == nil || i < 0 || i >= len(a.Values) {
		return CalendarDate{}, false
	}
	return a.time.Decode(a.Values[i]), true
}

// Label renders the i-th coordinate value for file names and metadata.
func (a Axis) Label(i int) string {
	if i < 0 || i >= len(a.Values) {
		return ""
	}
	if a.time != nil {
		return a.time.Format(a.Values[i])
	}
	return strconv.FormatFloat(a.Values[i], 'f', -1, 64)
}

// Variable describes a netCDF variable.
type Variable struct {
	Name      string
	Dims      []string
	Shape     []int
	Units     string
	Calendar  string
	FillValue float64
	HasFill   bool
	Scale     float64 // scale_factor, 1 when absent.
	Offset    float64 // add_offset, 0 when absent.
}

// HasDims reports whether every name in dims is one of v's dimensions.
func (v Variable) HasDims(dims ...string) bool {
	for _, want := range dims {
		found := false
		for _, d := range v.Dims {
			if d == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Slab is a dense row-major block of values read from a variable. Dims and
// Shape list only the axes that were not fixed by the read.
type Slab struct {
	Dims  []string
	Shape []int
	Data  []float32
}

// Len returns the number of values in the slab.
func (s Slab) Len() int {
	n := 1
	for _, l := range s.Shape {
		n *= l
	}
	return n
}

// source is implemented by each backend.
type source interface {
	variables() []Variable
	// read returns raw (still packed) values for the hyperslab.
	read(v Variable, start, count []int) ([]float64, error)
	close() error
}

// Dataset is an opened netCDF file. Reads are serialized because neither
// backend is safe for concurrent access to a single handle.
type Dataset struct {
	path    string
	backend Backend
	axes    []Axis
	vars    []Variable
	coords  map[string]bool
	all     map[string]Variable

	mu  sync.Mutex
	src source
}

// Open opens path with the given backend and loads every coordinate axis.
func Open(path string, backend Backend) (*Dataset, error) {
	var (
		src source
		err error
	)
	switch backend {
	case BackendCDF, "":
		backend = BackendCDF
		src, err = openCDF(path)
	case BackendNative:
		src, err = openNative(path)
	default:
		return nil, fmt.Errorf("unknown netCDF backend %q", backend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	ds, err := newDataset(path, backend, src)
	if err != nil {
		_ = src.close()
		return nil, err
	}
	return ds, nil
}

func newDataset(path string, backend Backend, src source) (*Dataset, error) {
	ds := &Dataset{
		path:    path,
		backend: backend,
		src:     src,
		coords:  make(map[string]bool),
	}

	all := src.variables()
	byName := make(map[string]Variable, len(all))
	for _, v := range all {
		byName[v.Name] = v
	}
	ds.all = byName

	// Dimensions in first-seen order with their lengths.
	var dimOrder []string
	dimLen := make(map[string]int)
	for _, v := range all {
		for i, d := range v.Dims {
			if _, ok := dimLen[d]; ok {
				if dimLen[d] != v.Shape[i] {
					return nil, fmt.Errorf("dimension %s has inconsistent lengths %d and %d", d, dimLen[d], v.Shape[i])
				}
				continue
			}
			dimLen[d] = v.Shape[i]
			dimOrder = append(dimOrder, d)
		}
	}

	for _, d := range dimOrder {
		axis := Axis{Name: d}
		if cv, ok := byName[d]; ok && len(cv.Dims) == 1 && cv.Dims[0] == d {
			ds.coords[d] = true
			raw, err := src.read(cv, []int{0}, []int{cv.Shape[0]})
			if err != nil {
				return nil, fmt.Errorf("failed to read coordinate %s: %w", d, err)
			}
			axis.Values = unpack64(cv, raw)
			axis.Units = cv.Units
			axis.Calendar = cv.Calendar
			if strings.Contains(cv.Units, " since ") {
				if dec, err := ParseTimeUnits(cv.Units, cv.Calendar); err == nil {
					axis.time = dec
				}
			}
		} else {
			axis.Values = make([]float64, dimLen[d])
			for i := range axis.Values {
				axis.Values[i] = float64(i)
			}
		}
		ds.axes = append(ds.axes, axis)
	}

	for _, v := range all {
		if !ds.coords[v.Name] {
			ds.vars = append(ds.vars, v)
		}
	}
	return ds, nil
}

// Path returns the file path the dataset was opened from.
func (d *Dataset) Path() string {
	return d.path
}

// Backend returns the backend used to open the dataset.
func (d *Dataset) Backend() Backend {
	return d.backend
}

// Close releases the underlying file handle.
func (d *Dataset) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.src == nil {
		return nil
	}
	err := d.src.close()
	d.src = nil
	return err
}

// Axes returns every dimension of the file in first-seen order.
func (d *Dataset) Axes() []Axis {
	return d.axes
}

// Axis returns the axis with the given name.
func (d *Dataset) Axis(name string) (Axis, bool) {
	for _, a := range d.axes {
		if a.Name == name {
			return a, true
		}
	}
	return Axis{}, false
}

// AxisNames returns the names of all axes.
func (d *Dataset) AxisNames() []string {
	names := make([]string, len(d.axes))
	for i, a := range d.axes {
		names[i] = a.Name
	}
	return names
}

// IsCoordinate reports whether name is a coordinate variable.
func (d *Dataset) IsCoordinate(name string) bool {
	return d.coords[name]
}

// Variables returns all non-coordinate variables.
func (d *Dataset) Variables() []Variable {
	return d.vars
}

// Variable returns the non-coordinate variable with the given name.
func (d *Dataset) Variable(name string) (Variable, bool) {
	for _, v := range d.vars {
		if v.Name == name {
			return v, true
		}
	}
	return Variable{}, false
}

// DataVariables returns the variables that span every given dimension, in
// declaration order. Bounds variables such as time_bnds are excluded because
// they do not span both spatial dimensions.
func (d *Dataset) DataVariables(dims ...string) []Variable {
	var out []Variable
	for _, v := range d.vars {
		if v.HasDims(dims...) {
			out = append(out, v)
		}
	}
	return out
}

// Read reads variable (or coordinate) name with the dimensions in fixed pinned to a single
// index. Unpinned dimensions are read in full and remain in the slab.
func (d *Dataset) Read(name string, fixed map[string]int) (Slab, error) {
	v, ok := d.all[name]
	if !ok {
		return Slab{}, fmt.Errorf("variable %s not found in %s", name, d.path)
	}

	start := make([]int, len(v.Dims))
	count := make([]int, len(v.Dims))
	var slab Slab
	for i, dim := range v.Dims {
		if idx, ok := fixed[dim]; ok {
			if idx < 0 || idx >= v.Shape[i] {
				return Slab{}, fmt.Errorf("index %d out of range for %s (len %d)", idx, dim, v.Shape[i])
			}
			start[i] = idx
			count[i] = 1
			continue
		}
		count[i] = v.Shape[i]
		slab.Dims = append(slab.Dims, dim)
		slab.Shape = append(slab.Shape, v.Shape[i])
	}

	d.mu.Lock()
	if d.src == nil {
		d.mu.Unlock()
		return Slab{}, fmt.Errorf("dataset %s is closed", d.path)
	}
	raw, err := d.src.read(v, start, count)
	d.mu.Unlock()
	if err != nil {
		return Slab{}, fmt.Errorf("failed to read %s: %w", name, err)
	}
	if len(raw) != slab.Len() {
		return Slab{}, fmt.Errorf("read %s: got %d values, expected %d", name, len(raw), slab.Len())
	}

	slab.Data = unpack32(v, raw)
	return slab, nil
}

// isFill compares raw against the declared fill value. Float fill values
// such as 1e20 are stored exactly, so equality is sufficient.
func isFill(v Variable, raw float64) bool {
	if math.IsNaN(raw) {
		return true
	}
	return v.HasFill && raw == v.FillValue
}

func unpack64(v Variable, raw []float64) []float64 {
	out := make([]float64, len(raw))
	for i, r := range raw {
		if isFill(v, r) {
			out[i] = math.NaN()
			continue
		}
		out[i] = r*v.Scale + v.Offset
	}
	return out
}

func unpack32(v Variable, raw []float64) []float32 {
	out := make([]float32, len(raw))
	nan := float32(math.NaN())
	for i, r := range raw {
		if isFill(v, r) {
			out[i] = nan
			continue
		}
		out[i] = float32(r*v.Scale + v.Offset)
	}
	return out
}
