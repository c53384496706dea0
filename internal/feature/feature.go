// Package feature converts normalized rows and trail history into GeoJSON
// feature collections for the renderer.
package feature

import (
	geom "github.com/peterstace/simplefeatures/geom"

	"github.com/OCAP2/trailmap/internal/geo"
	"github.com/OCAP2/trailmap/internal/row"
	"github.com/OCAP2/trailmap/internal/trail"
)

// Display defaults.
const (
	BuiltinIcon      = "marker"
	BuiltinIconSize  = 0.5
	CustomIconSize   = 1.0
	IconProperty     = "icon"
	IconSizeProperty = "iconSize"
)

// Collection is the renderer-facing snapshot of one update or frame.
// Trails is nil when trails are disabled.
type Collection struct {
	Points geom.GeoJSONFeatureCollection
	Trails geom.GeoJSONFeatureCollection
}

// Builder turns rows into features. The zero value renders the built-in marker.
type Builder struct {
	// DefaultIcon overrides the built-in marker when set.
	DefaultIcon string
}

// Build produces points and, when buf is non-nil, trail lines. Every emitted
// coordinate is added to bounds if bounds is non-nil.
func (b Builder) Build(rows []row.Row, buf *trail.Buffer, bounds *geo.Bounds) Collection {
	c := Collection{Points: b.Points(rows, bounds)}
	if buf != nil {
		c.Trails = b.Trails(rows, buf, bounds)
	}
	return c
}

// Points emits one point per row with a usable position, in input order.
// The feature id is the row's index within the batch; rows without a
// position are skipped but keep their index reserved.
func (b Builder) Points(rows []row.Row, bounds *geo.Bounds) geom.GeoJSONFeatureCollection {
	out := make(geom.GeoJSONFeatureCollection, 0, len(rows))
	icon, size := b.iconDefaults()
	for i, r := range rows {
		c, err := row.Coordinates(r)
		if err != nil {
			continue
		}
		if bounds != nil {
			bounds.Extend(c)
		}

		props := make(map[string]any, len(r)+2)
		props[IconProperty] = icon
		props[IconSizeProperty] = size
		for k, v := range r {
			props[k] = v
		}

		out = append(out, geom.GeoJSONFeature{
			ID:         i,
			Geometry:   c.Point().AsGeometry(),
			Properties: props,
		})
	}
	return out
}

// Trails emits one line per distinct entity in rows, in first-appearance
// order, using that entity's buffered history. Entities with no buffered
// coordinate are skipped.
func (b Builder) Trails(rows []row.Row, buf *trail.Buffer, bounds *geo.Bounds) geom.GeoJSONFeatureCollection {
	out := make(geom.GeoJSONFeatureCollection, 0)
	seen := make(map[string]struct{})
	for _, r := range rows {
		id, ok := row.EntityID(r)
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		coords := buf.Get(id)
		if len(coords) == 0 {
			continue
		}
		if bounds != nil {
			for _, c := range coords {
				bounds.Extend(c)
			}
		}
		out = append(out, geom.GeoJSONFeature{
			Geometry:   geo.LineString(coords).AsGeometry(),
			Properties: map[string]any{row.IDField: id},
		})
	}
	return out
}

func (b Builder) iconDefaults() (string, float64) {
	if b.DefaultIcon != "" {
		return b.DefaultIcon, CustomIconSize
	}
	return BuiltinIcon, BuiltinIconSize
}
