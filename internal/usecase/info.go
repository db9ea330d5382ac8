package usecase

import (
	"github.com/Global-Water-Security-Center/data-exploration/internal/adapter/dataset"
	"github.com/Global-Water-Security-Center/data-exploration/internal/adapter/grid"
)

// AxisInfo describes one coordinate axis.
type AxisInfo struct {
	Name     string `json:"name"`
	Len      int    `json:"len"`
	Units    string `json:"units,omitempty"`
	Calendar string `json:"calendar,omitempty"`
	First    string `json:"first,omitempty"`
	Last     string `json:"last,omitempty"`
}

// VariableInfo describes one data variable.
type VariableInfo struct {
	Name      string   `json:"name"`
	Dims      []string `json:"dims"`
	Shape     []int    `json:"shape"`
	Units     string   `json:"units,omitempty"`
	FillValue *float64 `json:"fill_value,omitempty"`
}

// GridInfo is the resolved spatial grid, when there is one.
type GridInfo struct {
	X         string     `json:"x"`
	Y         string     `json:"y"`
	Width     int        `json:"width"`
	Height    int        `json:"height"`
	ResX      float64    `json:"res_x"`
	ResY      float64    `json:"res_y"`
	Transform [6]float64 `json:"transform"`
}

// DatasetInfo is a summary of a dataset's structure.
type DatasetInfo struct {
	Path      string         `json:"path"`
	Backend   string         `json:"backend"`
	Axes      []AxisInfo     `json:"axes"`
	Variables []VariableInfo `json:"variables"`
	Grid      *GridInfo      `json:"grid,omitempty"`
	GridError string         `json:"grid_error,omitempty"`
}

// Describe opens path and summarizes its axes, variables and grid.
func Describe(path string, backend dataset.Backend) (*DatasetInfo, error) {
	ds, err := dataset.Open(path, backend)
	if err != nil {
		return nil, err
	}
	defer func() { _ = ds.Close() }()

	info := &DatasetInfo{Path: path, Backend: string(ds.Backend())}
	for _, a := range ds.Axes() {
		ai := AxisInfo{Name: a.Name, Len: a.Len(), Units: a.Units, Calendar: a.Calendar}
		if a.Len() > 0 {
			ai.First = a.Label(0)
			ai.Last = a.Label(a.Len() - 1)
		}
		info.Axes = append(info.Axes, ai)
	}

	for _, v := range ds.Variables() {
		vi := VariableInfo{Name: v.Name, Dims: v.Dims, Shape: v.Shape, Units: v.Units}
		if v.HasFill {
			fv := v.FillValue
			vi.FillValue = &fv
		}
		info.Variables = append(info.Variables, vi)
	}

	res, err := grid.Resolve(ds, grid.DefaultCandidates)
	if err != nil {
		info.GridError = err.Error()
		return info, nil
	}
	info.Grid = &GridInfo{
		X:         res.X.Name,
		Y:         res.Y.Name,
		Width:     res.Width(),
		Height:    res.Height(),
		ResX:      res.ResX,
		ResY:      res.ResY,
		Transform: [6]float64(res.Transform),
	}
	return info, nil
}
