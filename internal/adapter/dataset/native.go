package dataset

import (
	"fmt"
	"reflect"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/golang/glog"
)

// nativeSource reads with the pure Go netCDF implementation. It does not
// need the C library, which makes it the portable choice for CDF and HDF5
// files alike.
type nativeSource struct {
	nc      api.Group
	vars    []Variable
	getters map[string]api.VarGetter
}

func openNative(path string) (*nativeSource, error) {
	nc, err := netcdf.Open(path)
	if err != nil {
		return nil, err
	}
	s := &nativeSource{nc: nc, getters: make(map[string]api.VarGetter)}

	for _, name := range nc.ListVariables() {
		vg, err := nc.GetVarGetter(name)
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("failed to get %s: %w", name, err)
		}
		dims := vg.Dimensions()
		if len(dims) == 0 {
			continue
		}
		shape, err := nativeShape(vg, len(dims))
		if err != nil {
			glog.V(1).Infof("skipping %s in %s: %v", name, path, err)
			continue
		}

		meta := Variable{Name: name, Dims: dims, Shape: shape, Scale: 1}
		attrs := vg.Attributes()
		for _, key := range []string{"_FillValue", "missing_value"} {
			if f, ok := nativeNumberAttr(attrs, key); ok {
				meta.FillValue, meta.HasFill = f, true
				break
			}
		}
		if f, ok := nativeNumberAttr(attrs, "scale_factor"); ok {
			meta.Scale = f
		}
		if f, ok := nativeNumberAttr(attrs, "add_offset"); ok {
			meta.Offset = f
		}
		meta.Units = nativeTextAttr(attrs, "units")
		meta.Calendar = nativeTextAttr(attrs, "calendar")

		s.vars = append(s.vars, meta)
		s.getters[name] = vg
	}
	return s, nil
}

// nativeShape derives the full shape from the outer length and the shape of
// the first outer slice.
func nativeShape(vg api.VarGetter, rank int) ([]int, error) {
	n := vg.Len()
	shape := []int{int(n)}
	if rank == 1 || n == 0 {
		for len(shape) < rank {
			shape = append(shape, 0)
		}
		return shape, nil
	}
	first, err := vg.GetSlice(0, 1)
	if err != nil {
		return nil, err
	}
	v := reflect.ValueOf(first)
	if v.Kind() != reflect.Slice || v.Len() != 1 {
		return nil, fmt.Errorf("unexpected slice type %T", first)
	}
	v = v.Index(0)
	for len(shape) < rank {
		if v.Kind() != reflect.Slice {
			return nil, fmt.Errorf("rank %d but value nests only %d levels", rank, len(shape))
		}
		shape = append(shape, v.Len())
		if v.Len() == 0 {
			break
		}
		v = v.Index(0)
	}
	for len(shape) < rank {
		shape = append(shape, 0)
	}
	return shape, nil
}

func (s *nativeSource) variables() []Variable {
	return s.vars
}

func (s *nativeSource) close() error {
	s.nc.Close()
	return nil
}

func (s *nativeSource) read(meta Variable, start, count []int) ([]float64, error) {
	vg, ok := s.getters[meta.Name]
	if !ok {
		return nil, fmt.Errorf("unknown variable %s", meta.Name)
	}
	total := 1
	for _, c := range count {
		total *= c
	}
	if total == 0 {
		return []float64{}, nil
	}

	// Only the outer dimension can be sliced natively. Inner dimensions are
	// selected while flattening.
	vals, err := vg.GetSlice(int64(start[0]), int64(start[0]+count[0]))
	if err != nil {
		return nil, err
	}
	inner := append([]int{0}, start[1:]...)
	out := make([]float64, 0, total)
	return flatten(reflect.ValueOf(vals), inner, count, out)
}

// flatten walks nested slices in row-major order, copying the hyperslab
// described by start and count.
func flatten(v reflect.Value, start, count []int, out []float64) ([]float64, error) {
	if len(start) == 0 {
		f, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("non-numeric value of kind %s", v.Kind())
		}
		return append(out, f), nil
	}
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return nil, fmt.Errorf("expected slice, got %s", v.Kind())
	}
	end := start[0] + count[0]
	if end > v.Len() {
		return nil, fmt.Errorf("slice bound %d exceeds length %d", end, v.Len())
	}
	var err error
	for i := start[0]; i < end; i++ {
		out, err = flatten(v.Index(i), start[1:], count[1:], out)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func toFloat(v reflect.Value) (float64, bool) {
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		return v.Float(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint()), true
	case reflect.Interface:
		return toFloat(v.Elem())
	default:
		return 0, false
	}
}

// nativeNumberAttr reads a numeric attribute that may be stored as a scalar
// or a one element slice.
func nativeNumberAttr(attrs api.AttributeMap, key string) (float64, bool) {
	if attrs == nil {
		return 0, false
	}
	raw, ok := attrs.Get(key)
	if !ok || raw == nil {
		return 0, false
	}
	v := reflect.ValueOf(raw)
	if v.Kind() == reflect.Slice {
		if v.Len() == 0 {
			return 0, false
		}
		v = v.Index(0)
	}
	return toFloat(v)
}

func nativeTextAttr(attrs api.AttributeMap, key string) string {
	if attrs == nil {
		return ""
	}
	raw, ok := attrs.Get(key)
	if !ok {
		return ""
	}
	if s, ok := raw.(string); ok {
		return s
	}
	return ""
}
