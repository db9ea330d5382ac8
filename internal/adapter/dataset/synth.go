package dataset

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/fhs/go-netcdf/netcdf"
)

// SyntheticAxis is a coordinate axis to write. A nil Values slice with a
// positive Len writes a dimension without a coordinate variable.
type SyntheticAxis struct {
	Name     string
	Len      int
	Values   []float64
	Units    string
	Calendar string
}

// SyntheticVar is a data variable to write. Data is row-major over Dims.
// When Scale is non-zero the values are packed into int16 with scale_factor
// and add_offset attributes.
type SyntheticVar struct {
	Name      string
	Dims      []string
	Data      []float32
	Units     string
	FillValue *float32
	Scale     float64
	Offset    float64
}

// Synthetic describes a small netCDF file, used for fixtures and demos.
type Synthetic struct {
	Axes    []SyntheticAxis
	Vars    []SyntheticVar
	Classic bool // Write the classic CDF format instead of netCDF-4.
}

// WriteNetCDF writes s to path.
//
//nolint:gocyclo // Linear sequence of define-mode calls.
func WriteNetCDF(path string, s Synthetic) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	mode := netcdf.CLOBBER | netcdf.NETCDF4
	if s.Classic {
		mode = netcdf.CLOBBER
	}
	ds, err := netcdf.CreateFile(path, mode)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() { _ = ds.Close() }()

	dims := make(map[string]netcdf.Dim, len(s.Axes))
	dimLen := make(map[string]int, len(s.Axes))
	var coordVars []netcdf.Var
	var coordData [][]float64
	for _, a := range s.Axes {
		n := a.Len
		if a.Values != nil {
			n = len(a.Values)
		}
		d, err := ds.AddDim(a.Name, uint64(n))
		if err != nil {
			return fmt.Errorf("failed to add dimension %s: %w", a.Name, err)
		}
		dims[a.Name] = d
		dimLen[a.Name] = n
		if a.Values == nil {
			continue
		}

		v, err := ds.AddVar(a.Name, netcdf.DOUBLE, []netcdf.Dim{d})
		if err != nil {
			return fmt.Errorf("failed to add coordinate %s: %w", a.Name, err)
		}
		if err := writeText(v, "units", a.Units); err != nil {
			return err
		}
		if err := writeText(v, "calendar", a.Calendar); err != nil {
			return err
		}
		coordVars = append(coordVars, v)
		coordData = append(coordData, a.Values)
	}

	type pending struct {
		v   netcdf.Var
		def SyntheticVar
	}
	var dataVars []pending
	for _, sv := range s.Vars {
		vdims := make([]netcdf.Dim, len(sv.Dims))
		total := 1
		for i, name := range sv.Dims {
			d, ok := dims[name]
			if !ok {
				return fmt.Errorf("variable %s uses undeclared dimension %s", sv.Name, name)
			}
			vdims[i] = d
			total *= dimLen[name]
		}
		if len(sv.Data) != total {
			return fmt.Errorf("variable %s: %d values for shape of %d", sv.Name, len(sv.Data), total)
		}

		typ := netcdf.FLOAT
		if sv.Scale != 0 {
			typ = netcdf.SHORT
		}
		v, err := ds.AddVar(sv.Name, typ, vdims)
		if err != nil {
			return fmt.Errorf("failed to add variable %s: %w", sv.Name, err)
		}
		if err := writeText(v, "units", sv.Units); err != nil {
			return err
		}
		if sv.Scale != 0 {
			if err := v.Attr("scale_factor").WriteFloat64s([]float64{sv.Scale}); err != nil {
				return err
			}
			if err := v.Attr("add_offset").WriteFloat64s([]float64{sv.Offset}); err != nil {
				return err
			}
			if sv.FillValue != nil {
				if err := v.Attr("_FillValue").WriteInt16s([]int16{int16(*sv.FillValue)}); err != nil {
					return err
				}
			}
		} else if sv.FillValue != nil {
			if err := v.Attr("_FillValue").WriteFloat32s([]float32{*sv.FillValue}); err != nil {
				return err
			}
		}
		dataVars = append(dataVars, pending{v: v, def: sv})
	}

	if err := ds.EndDef(); err != nil {
		return fmt.Errorf("failed to leave define mode: %w", err)
	}

	for i, v := range coordVars {
		if err := v.WriteFloat64s(coordData[i]); err != nil {
			return fmt.Errorf("failed to write coordinate: %w", err)
		}
	}
	for _, p := range dataVars {
		if p.def.Scale == 0 {
			if err := p.v.WriteFloat32s(p.def.Data); err != nil {
				return fmt.Errorf("failed to write %s: %w", p.def.Name, err)
			}
			continue
		}
		packed := make([]int16, len(p.def.Data))
		for i, val := range p.def.Data {
			if p.def.FillValue != nil && val == *p.def.FillValue {
				packed[i] = int16(*p.def.FillValue)
				continue
			}
			packed[i] = int16(math.Round((float64(val) - p.def.Offset) / p.def.Scale))
		}
		if err := p.v.WriteInt16s(packed); err != nil {
			return fmt.Errorf("failed to write %s: %w", p.def.Name, err)
		}
	}
	return nil
}

func writeText(v netcdf.Var, name, value string) error {
	if value == "" {
		return nil
	}
	if err := v.Attr(name).WriteBytes([]byte(value)); err != nil {
		return fmt.Errorf("failed to write attribute %s: %w", name, err)
	}
	return nil
}
