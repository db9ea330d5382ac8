// Package aoi reads areas of interest used to restrict the written window
// and to mask pixels.
package aoi

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
	"github.com/ctessum/geom/proj"
	"github.com/golang/glog"
)

// Geographic is the spatial reference every area is converted to.
const Geographic = "+proj=longlat +datum=WGS84 +no_defs"

// Bounds is an axis-aligned lon/lat box.
type Bounds struct {
	MinX, MinY, MaxX, MaxY float64
}

// Empty reports whether b encloses no area.
func (b Bounds) Empty() bool {
	return !(b.MaxX >= b.MinX && b.MaxY >= b.MinY)
}

// FromGeom converts a geom.Bounds.
func FromGeom(b *geom.Bounds) Bounds {
	return Bounds{MinX: b.Min.X, MinY: b.Min.Y, MaxX: b.Max.X, MaxY: b.Max.Y}
}

// Area is the union of the polygons of a shapefile, in lon/lat.
type Area struct {
	Polygons []geom.Polygonal
	Bounds   Bounds
}

// Contains reports whether the point lies inside or on the edge of any
// polygon.
func (a *Area) Contains(lon, lat float64) bool {
	p := geom.Point{X: lon, Y: lat}
	for _, poly := range a.Polygons {
		if p.Within(poly) != geom.Outside {
			return true
		}
	}
	return false
}

// ReadShapefile reads the polygons of the shapefile at path. Shapes that are
// not polygons are ignored.
func ReadShapefile(path string) (*Area, error) {
	shapes, err := readShapes(path)
	if err != nil {
		return nil, err
	}
	a := &Area{}
	var all []geom.Geom
	for _, g := range shapes {
		if poly, ok := g.(geom.Polygonal); ok {
			a.Polygons = append(a.Polygons, poly)
			all = append(all, g)
		}
	}
	if len(a.Polygons) == 0 {
		return nil, fmt.Errorf("shapefile %s has no polygons", path)
	}
	a.Bounds = boundsOf(all)
	glog.V(1).Infof("aoi %s: %d polygons, bounds %+v", path, len(a.Polygons), a.Bounds)
	return a, nil
}

// ReadShapefileBounds returns the combined bounding box of every shape in
// the shapefile at path.
func ReadShapefileBounds(path string) (Bounds, error) {
	shapes, err := readShapes(path)
	if err != nil {
		return Bounds{}, err
	}
	out := boundsOf(shapes)
	glog.V(1).Infof("aoi %s: %d shapes, bounds %+v", path, len(shapes), out)
	return out, nil
}

// readShapes decodes every shape of a shapefile. When a .prj file sits next
// to it the shapes are converted to Geographic; otherwise they are assumed
// to be lon/lat already.
func readShapes(path string) ([]geom.Geom, error) {
	d, err := shp.NewDecoder(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open shapefile %s: %w", path, err)
	}
	defer d.Close()

	trans, err := toGeographic(d, path)
	if err != nil {
		return nil, err
	}

	var out []geom.Geom
	for {
		g, _, more := d.DecodeRowFields()
		if !more {
			break
		}
		if g == nil {
			continue
		}
		if trans != nil {
			if g, err = g.Transform(trans); err != nil {
				return nil, fmt.Errorf("failed to reproject shape of %s: %w", path, err)
			}
		}
		out = append(out, g)
	}
	if err := d.Error(); err != nil {
		return nil, fmt.Errorf("failed to read shapefile %s: %w", path, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("shapefile %s has no shapes", path)
	}
	return out, nil
}

// toGeographic returns the transform from the shapefile's .prj to
// Geographic, or nil when there is no .prj.
func toGeographic(d *shp.Decoder, path string) (proj.Transformer, error) {
	prj := strings.TrimSuffix(path, filepath.Ext(path)) + ".prj"
	if _, err := os.Stat(prj); errors.Is(err, fs.ErrNotExist) {
		glog.V(1).Infof("aoi %s has no .prj, assuming lon/lat", path)
		return nil, nil
	}
	src, err := d.SR()
	if err != nil {
		return nil, fmt.Errorf("failed to read projection of %s: %w", path, err)
	}
	dst, err := proj.Parse(Geographic)
	if err != nil {
		return nil, err
	}
	trans, err := src.NewTransform(dst)
	if err != nil {
		return nil, fmt.Errorf("cannot reproject %s to lon/lat: %w", path, err)
	}
	return trans, nil
}

func boundsOf(shapes []geom.Geom) Bounds {
	out := Bounds{MinX: math.Inf(1), MinY: math.Inf(1), MaxX: math.Inf(-1), MaxY: math.Inf(-1)}
	for _, g := range shapes {
		b := g.Bounds()
		out.MinX = math.Min(out.MinX, b.Min.X)
		out.MinY = math.Min(out.MinY, b.Min.Y)
		out.MaxX = math.Max(out.MaxX, b.Max.X)
		out.MaxY = math.Max(out.MaxY, b.Max.Y)
	}
	return out
}
