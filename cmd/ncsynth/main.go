// Command ncsynth writes a synthetic daily netCDF file for trying out the
// converter without downloading model output.
package main

import (
	"flag"
	"fmt"
	"math"
	"path/filepath"

	"github.com/golang/glog"

	"github.com/Global-Water-Security-Center/data-exploration/internal/adapter/dataset"
)

// RegionalGrid defines the geographic bounds and resolution.
type RegionalGrid struct {
	LatMin     float64
	LatMax     float64
	LonMin     float64
	LonMax     float64
	Resolution float64 // degrees
}

func main() {
	// Command line flags
	outPath := flag.String("out", "./data/synthetic/pr_day_synthetic.nc", "Output netCDF file")
	varName := flag.String("var", "pr", "Variable name")
	units := flag.String("units", "kg m-2 s-1", "Variable units")
	region := flag.String("region", "africa", "Region: africa, global, or custom")
	latMin := flag.Float64("lat-min", -35.0, "Minimum latitude (custom region)")
	latMax := flag.Float64("lat-max", 38.0, "Maximum latitude (custom region)")
	lonMin := flag.Float64("lon-min", -18.0, "Minimum longitude (custom region)")
	lonMax := flag.Float64("lon-max", 52.0, "Maximum longitude (custom region)")
	resolution := flag.Float64("resolution", 1.0, "Grid resolution in degrees")
	days := flag.Int("days", 30, "Number of daily time steps")
	start := flag.String("start", "2015-01-01", "Date of the first time step")
	calendar := flag.String("calendar", "noleap", "CF calendar of the time axis")
	lon360 := flag.Bool("lon360", false, "Write longitudes as 0..360")
	classic := flag.Bool("classic", false, "Write the classic netCDF format")
	_ = flag.Set("logtostderr", "true")
	flag.Parse()
	defer glog.Flush()

	// Define grid based on region
	var grid RegionalGrid
	switch *region {
	case "africa":
		grid = RegionalGrid{LatMin: -35.0, LatMax: 38.0, LonMin: -18.0, LonMax: 52.0, Resolution: *resolution}
	case "global":
		grid = RegionalGrid{LatMin: -89.5, LatMax: 89.5, LonMin: -179.5, LonMax: 179.5, Resolution: 1.0}
	case "custom":
		grid = RegionalGrid{LatMin: *latMin, LatMax: *latMax, LonMin: *lonMin, LonMax: *lonMax, Resolution: *resolution}
	default:
		glog.Exitf("Unknown region: %s (use africa, global, or custom)", *region)
	}
	if grid.Resolution <= 0 || *days < 1 {
		glog.Exitf("resolution and days must be positive")
	}

	s := synthesize(grid, *varName, *units, *days, *start, *calendar, *lon360)
	s.Classic = *classic

	glog.Infof("Generating %s for region: %s", *outPath, *region)
	glog.Infof("Grid: %.1f..%.1f N, %.1f..%.1f E, resolution: %.2f, %d days from %s (%s)",
		grid.LatMin, grid.LatMax, grid.LonMin, grid.LonMax, grid.Resolution, *days, *start, *calendar)

	if err := dataset.WriteNetCDF(*outPath, s); err != nil {
		glog.Exitf("Failed to write %s: %v", *outPath, err)
	}

	nLat, nLon := len(s.Axes[1].Values), len(s.Axes[2].Values)
	glog.Infof("=== Generation Complete ===")
	glog.Infof("File: %s", filepath.Clean(*outPath))
	glog.Infof("Grid size: %d x %d points, %d steps (~%.1f MB)",
		nLat, nLon, *days, float64(nLat*nLon*(*days)*4)/1024/1024)
}

// synthesize builds a time, lat, lon variable with a smooth spatial pattern
// and a seasonal cycle. Latitudes run north to south like most model output.
func synthesize(grid RegionalGrid, name, units string, days int, start, calendar string, lon360 bool) dataset.Synthetic {
	nLat := int(math.Round((grid.LatMax-grid.LatMin)/grid.Resolution)) + 1
	nLon := int(math.Round((grid.LonMax-grid.LonMin)/grid.Resolution)) + 1

	lat := make([]float64, nLat)
	for i := range lat {
		lat[i] = grid.LatMax - float64(i)*grid.Resolution
	}
	lon := make([]float64, nLon)
	for j := range lon {
		lon[j] = grid.LonMin + float64(j)*grid.Resolution
		if lon360 && lon[j] < 0 {
			lon[j] += 360
		}
	}
	if lon360 {
		// Keep the axis increasing: rotate the wrapped part to the front.
		k := 0
		for k < nLon-1 && lon[k] < lon[k+1] {
			k++
		}
		lon = append(lon[k+1:], lon[:k+1]...)
	}

	tm := make([]float64, days)
	for t := range tm {
		tm[t] = float64(t)
	}

	fill := float32(1e20)
	data := make([]float32, 0, days*nLat*nLon)
	for t := 0; t < days; t++ {
		season := 1.0 + 0.5*math.Sin(2*math.Pi*float64(t)/365.0)
		for i := 0; i < nLat; i++ {
			for j := 0; j < nLon; j++ {
				// Wetter near the equator, with some zonal structure.
				v := math.Exp(-lat[i]*lat[i]/400.0) *
					(1.0 + 0.2*math.Sin(lon[j]*math.Pi/20.0) + 0.1*math.Cos((lat[i]+lon[j])*math.Pi/25.0))
				data = append(data, float32(v*season*1e-4))
			}
		}
	}
	// Mark one corner missing so nodata handling shows up in the output.
	data[len(data)-1] = fill

	return dataset.Synthetic{
		Axes: []dataset.SyntheticAxis{
			{Name: "time", Len: days, Values: tm, Units: fmt.Sprintf("days since %s 00:00:00", start), Calendar: calendar},
			{Name: "lat", Len: nLat, Values: lat, Units: "degrees_north"},
			{Name: "lon", Len: nLon, Values: lon, Units: "degrees_east"},
		},
		Vars: []dataset.SyntheticVar{
			{Name: name, Dims: []string{"time", "lat", "lon"}, Data: data, Units: units, FillValue: &fill},
		},
	}
}
