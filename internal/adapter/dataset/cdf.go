package dataset

import (
	"fmt"
	"strings"

	"github.com/fhs/go-netcdf/netcdf"
)

// cdfSource reads through the netCDF C library.
type cdfSource struct {
	nc   netcdf.Dataset
	vars []Variable
	refs map[string]netcdf.Var
}

func openCDF(path string) (*cdfSource, error) {
	nc, err := netcdf.OpenFile(path, netcdf.NOWRITE)
	if err != nil {
		return nil, fmt.Errorf("failed to open NetCDF file: %w", err)
	}

	s := &cdfSource{nc: nc, refs: make(map[string]netcdf.Var)}
	n, err := nc.NVars()
	if err != nil {
		_ = nc.Close()
		return nil, fmt.Errorf("failed to count variables: %w", err)
	}
	for i := 0; i < n; i++ {
		v := nc.VarN(i)
		meta, ok, err := describeCDFVar(v)
		if err != nil {
			_ = nc.Close()
			return nil, err
		}
		if !ok {
			continue
		}
		s.vars = append(s.vars, meta)
		s.refs[meta.Name] = v
	}
	return s, nil
}

// describeCDFVar reads a variable's dimensions and packing attributes.
// Scalars and text variables are reported as not usable.
func describeCDFVar(v netcdf.Var) (Variable, bool, error) {
	name, err := v.Name()
	if err != nil {
		return Variable{}, false, fmt.Errorf("failed to get variable name: %w", err)
	}
	t, err := v.Type()
	if err != nil {
		return Variable{}, false, fmt.Errorf("failed to get type of %s: %w", name, err)
	}
	if t == netcdf.CHAR || t == netcdf.STRING {
		return Variable{}, false, nil
	}
	dims, err := v.Dims()
	if err != nil {
		return Variable{}, false, fmt.Errorf("failed to get dimensions of %s: %w", name, err)
	}
	if len(dims) == 0 {
		return Variable{}, false, nil
	}

	out := Variable{Name: name, Scale: 1}
	for _, d := range dims {
		dn, err := d.Name()
		if err != nil {
			return Variable{}, false, fmt.Errorf("failed to get dimension name: %w", err)
		}
		l, err := d.Len()
		if err != nil {
			return Variable{}, false, fmt.Errorf("failed to get length of %s: %w", dn, err)
		}
		out.Dims = append(out.Dims, dn)
		out.Shape = append(out.Shape, int(l))
	}

	out.FillValue, out.HasFill = getFillValue(v)
	if f, ok := getNumberAttr(v, "scale_factor"); ok {
		out.Scale = f
	}
	if f, ok := getNumberAttr(v, "add_offset"); ok {
		out.Offset = f
	}
	out.Units = getTextAttr(v, "units")
	out.Calendar = getTextAttr(v, "calendar")
	return out, true, nil
}

func (s *cdfSource) variables() []Variable {
	return s.vars
}

func (s *cdfSource) close() error {
	return s.nc.Close()
}

func (s *cdfSource) read(meta Variable, start, count []int) ([]float64, error) {
	v, ok := s.refs[meta.Name]
	if !ok {
		return nil, fmt.Errorf("unknown variable %s", meta.Name)
	}
	st := make([]uint64, len(start))
	cn := make([]uint64, len(count))
	total := 1
	for i := range start {
		st[i] = uint64(start[i])
		cn[i] = uint64(count[i])
		total *= count[i]
	}
	return readFloat64Slice(v, st, cn, total)
}

// readFloat64Slice reads a hyperslab of any numeric type as float64.
//
//nolint:gocyclo // One branch per netCDF numeric type.
func readFloat64Slice(v netcdf.Var, start, count []uint64, total int) ([]float64, error) {
	t, err := v.Type()
	if err != nil {
		return nil, fmt.Errorf("failed to get var type: %w", err)
	}

	out := make([]float64, total)
	switch t {
	case netcdf.DOUBLE:
		if err := v.ReadFloat64Slice(out, start, count); err != nil {
			return nil, err
		}
	case netcdf.FLOAT:
		tmp := make([]float32, total)
		if err := v.ReadFloat32Slice(tmp, start, count); err != nil {
			return nil, err
		}
		for i, val := range tmp {
			out[i] = float64(val)
		}
	case netcdf.INT:
		tmp := make([]int32, total)
		if err := v.ReadInt32Slice(tmp, start, count); err != nil {
			return nil, err
		}
		for i, val := range tmp {
			out[i] = float64(val)
		}
	case netcdf.SHORT:
		tmp := make([]int16, total)
		if err := v.ReadInt16Slice(tmp, start, count); err != nil {
			return nil, err
		}
		for i, val := range tmp {
			out[i] = float64(val)
		}
	case netcdf.BYTE:
		tmp := make([]int8, total)
		if err := v.ReadInt8Slice(tmp, start, count); err != nil {
			return nil, err
		}
		for i, val := range tmp {
			out[i] = float64(val)
		}
	case netcdf.INT64:
		tmp := make([]int64, total)
		if err := v.ReadInt64Slice(tmp, start, count); err != nil {
			return nil, err
		}
		for i, val := range tmp {
			out[i] = float64(val)
		}
	default:
		return nil, fmt.Errorf("unsupported var type: %v", t)
	}
	return out, nil
}

// getFillValue returns the _FillValue or missing_value attribute if present as float64.
func getFillValue(v netcdf.Var) (float64, bool) {
	for _, name := range []string{"_FillValue", "missing_value"} {
		if f, ok := getNumberAttr(v, name); ok {
			return f, true
		}
	}
	return 0, false
}

// getNumberAttr reads the first element of a numeric attribute.
func getNumberAttr(v netcdf.Var, name string) (float64, bool) {
	a := v.Attr(name)
	n, err := a.Len()
	if err != nil || n == 0 {
		return 0, false
	}
	// Try float64
	buf64 := make([]float64, n)
	if err := a.ReadFloat64s(buf64); err == nil {
		return buf64[0], true
	}
	// Try float32
	buf32 := make([]float32, n)
	if err := a.ReadFloat32s(buf32); err == nil {
		return float64(buf32[0]), true
	}
	// Try int32
	bufi := make([]int32, n)
	if err := a.ReadInt32s(bufi); err == nil {
		return float64(bufi[0]), true
	}
	bufs := make([]int16, n)
	if err := a.ReadInt16s(bufs); err == nil {
		return float64(bufs[0]), true
	}
	return 0, false
}

func getTextAttr(v netcdf.Var, name string) string {
	a := v.Attr(name)
	n, err := a.Len()
	if err != nil || n == 0 {
		return ""
	}
	buf := make([]byte, n)
	if err := a.ReadBytes(buf); err != nil {
		return ""
	}
	return strings.TrimRight(string(buf), "\x00")
}
