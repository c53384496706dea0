package trailmap

import (
	geom "github.com/peterstace/simplefeatures/geom"

	"github.com/OCAP2/trailmap/internal/viewport"
)

// Layer names.
const (
	ObjectsLayer = "objects"
	TrailsLayer  = "trails"
)

// Default trail line styling.
const (
	TrailColor = "#888"
	TrailWidth = 2
)

// Surface is the display target a map renders into.
type Surface interface {
	ID() string
	// ShowError replaces the surface content with a message.
	ShowError(msg string)
}

// Sizer is implemented by surfaces that know their pixel size. It feeds the
// fit-to-bounds zoom.
type Sizer interface {
	Size() (width, height int)
}

// Resolver looks a surface up by id.
type Resolver func(id string) (Surface, bool)

// Layer describes a renderer layer. Layout and paint keys follow the usual
// vector-style conventions so renderers can pass them through.
type Layer struct {
	Name     string         `json:"name"`
	Kind     string         `json:"kind"`
	Layout   map[string]any `json:"layout,omitempty"`
	Paint    map[string]any `json:"paint,omitempty"`
	Tooltips *Tooltips      `json:"tooltips,omitempty"`
}

// ObjectsLayerSpec is the symbol layer for current positions. Icon size is
// read from each feature's iconSize property.
func ObjectsLayerSpec(tooltips Tooltips) Layer {
	return Layer{
		Name: ObjectsLayer,
		Kind: "symbol",
		Layout: map[string]any{
			"icon-image":         "{icon}",
			"icon-allow-overlap": true,
			"icon-size":          map[string]any{"type": "identity", "property": "iconSize"},
			"text-field":         "{label}",
			"text-size":          11,
			"text-anchor":        "top",
			"text-offset":        []float64{0, 1},
			"text-allow-overlap": true,
		},
		Tooltips: &tooltips,
	}
}

// TrailsLayerSpec is the line layer for trail history.
func TrailsLayerSpec() Layer {
	return Layer{
		Name: TrailsLayer,
		Kind: "line",
		Layout: map[string]any{
			"line-join": "round",
			"line-cap":  "round",
		},
		Paint: map[string]any{
			"line-color": TrailColor,
			"line-width": TrailWidth,
		},
	}
}

// View is the initial presentation handed to a renderer factory.
type View struct {
	Camera   viewport.Camera `json:"camera"`
	Style    string          `json:"style"`
	Controls bool            `json:"controls"`
	// Projection is "mercator" unless a custom style was chosen.
	Projection string `json:"projection,omitempty"`
}

// Renderer draws layers of features. Implementations may call the OnReady
// callback from any goroutine; the map serializes it.
type Renderer interface {
	Ready() bool
	OnReady(func())
	AddLayer(layer Layer, data geom.GeoJSONFeatureCollection) error
	SetFeatureData(name string, data geom.GeoJSONFeatureCollection) error
	Remove()
}

// RendererFactory creates the renderer for a surface. A map calls it at most
// once.
type RendererFactory func(surface Surface, view View) (Renderer, error)
