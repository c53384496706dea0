// Package viewport picks the initial camera of a map: explicit center and
// zoom win, otherwise the camera fits the data bounds in web mercator.
package viewport

import (
	"math"

	"github.com/wroge/wgs84"

	"github.com/OCAP2/trailmap/internal/geo"
)

const (
	DefaultZoom    = 15.0
	DefaultPadding = 40
	MaxFitZoom     = 15.0
	DefaultStyle   = "streets"

	// TileSize is the pixel width of the world at zoom 0.
	TileSize = 512
	// DefaultWidth and DefaultHeight are used when the surface size is unknown.
	DefaultWidth  = 800
	DefaultHeight = 500
)

// worldMeters is the circumference of the web mercator world.
const worldMeters = 2 * math.Pi * 6378137

// Params are the inputs to Select.
type Params struct {
	Center *geo.Coordinate
	Zoom   *float64
	Bounds geo.Bounds
	// Width and Height of the surface in pixels.
	Width  int
	Height int
}

// Fit describes a fit-to-bounds request for renderers that do their own
// fitting.
type Fit struct {
	SW      geo.Coordinate
	NE      geo.Coordinate
	Padding int
	MaxZoom float64
}

// Camera is the initial view handed to the renderer.
type Camera struct {
	Center geo.Coordinate
	Zoom   float64
	// Fit is set when the zoom was derived from the data bounds.
	Fit *Fit
}

// Select computes the initial camera.
func Select(p Params) Camera {
	cam := Camera{Zoom: DefaultZoom}

	sw, ne, hasBounds := p.Bounds.Corners()
	switch {
	case p.Center != nil:
		cam.Center = *p.Center
	case hasBounds:
		cam.Center, _ = p.Bounds.Center()
	}

	if p.Zoom != nil {
		cam.Zoom = *p.Zoom
		return cam
	}
	if !hasBounds {
		return cam
	}

	w, h := p.Width, p.Height
	if w <= 0 {
		w = DefaultWidth
	}
	if h <= 0 {
		h = DefaultHeight
	}

	center, zoom := fit(sw, ne, w, h, DefaultPadding, MaxFitZoom)
	if p.Center == nil {
		cam.Center = center
	}
	cam.Zoom = zoom
	cam.Fit = &Fit{SW: sw, NE: ne, Padding: DefaultPadding, MaxZoom: MaxFitZoom}
	return cam
}

// fit returns the mercator-centered camera showing sw..ne inside a w by h
// surface less padding on every side.
func fit(sw, ne geo.Coordinate, w, h, padding int, maxZoom float64) (geo.Coordinate, float64) {
	epsg := wgs84.EPSG()
	forward := epsg.Transform(4326, 3857)
	inverse := epsg.Transform(3857, 4326)

	x0, y0, _ := forward(sw.Lng, sw.Lat, 0)
	x1, y1, _ := forward(ne.Lng, ne.Lat, 0)

	cx, cy, _ := inverse((x0+x1)/2, (y0+y1)/2, 0)
	center := geo.Coordinate{Lng: cx, Lat: cy}

	availW := math.Max(float64(w-2*padding), 1)
	availH := math.Max(float64(h-2*padding), 1)

	zoom := maxZoom
	if dx := math.Abs(x1 - x0); dx > 0 {
		zoom = math.Min(zoom, zoomFor(dx, availW))
	}
	if dy := math.Abs(y1 - y0); dy > 0 {
		zoom = math.Min(zoom, zoomFor(dy, availH))
	}
	return center, math.Max(zoom, 0)
}

func zoomFor(spanMeters, pixels float64) float64 {
	return math.Log2(pixels * worldMeters / (spanMeters * TileSize))
}
