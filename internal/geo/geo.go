// Package geo holds the coordinate type shared by the pipeline and the
// GeoJSON geometry helpers built on simplefeatures.
package geo

import (
	"errors"
	"math"
	"strconv"
	"strings"

	geom "github.com/peterstace/simplefeatures/geom"
)

// ErrInvalidCoordinates is returned when the coordinates are invalid
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// Coordinate is a longitude/latitude pair. Values are passed through as given,
// no projection is applied.
type Coordinate struct {
	Lng float64
	Lat float64
}

// XY returns the coordinate as a simplefeatures XY (X = longitude).
func (c Coordinate) XY() geom.XY {
	return geom.XY{X: c.Lng, Y: c.Lat}
}

// Valid reports whether both components are finite numbers.
func (c Coordinate) Valid() bool {
	return !math.IsNaN(c.Lng) && !math.IsNaN(c.Lat) &&
		!math.IsInf(c.Lng, 0) && !math.IsInf(c.Lat, 0)
}

// Point builds a 2D point geometry.
func (c Coordinate) Point() geom.Point {
	return geom.NewPoint(geom.Coordinates{
		XY:   c.XY(),
		Type: geom.DimXY,
	})
}

// LineString builds a 2D line from coords in order. A single coordinate yields
// a degenerate line, which renderers are free to skip.
func LineString(coords []Coordinate) geom.LineString {
	flat := make([]float64, 0, len(coords)*2)
	for _, c := range coords {
		flat = append(flat, c.Lng, c.Lat)
	}
	return geom.NewLineString(geom.NewSequence(flat, geom.DimXY))
}

// CoordinateFromString parses "lng,lat".
func CoordinateFromString(s string) (Coordinate, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return Coordinate{}, ErrInvalidCoordinates
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return Coordinate{}, ErrInvalidCoordinates
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return Coordinate{}, ErrInvalidCoordinates
	}
	return Coordinate{Lng: lng, Lat: lat}, nil
}

// Bounds accumulates every coordinate it is extended with.
// The zero value is empty and ready to use.
type Bounds struct {
	env geom.Envelope
}

// Extend grows the bounds to include c. Non-finite coordinates are ignored.
func (b *Bounds) Extend(c Coordinate) {
	if !c.Valid() {
		return
	}
	b.env = b.env.ExpandToIncludeXY(c.XY())
}

// Empty reports whether no coordinate has been added.
func (b Bounds) Empty() bool {
	return b.env.IsEmpty()
}

// Corners returns the south-west and north-east corners.
func (b Bounds) Corners() (sw, ne Coordinate, ok bool) {
	lo, hi, ok := b.env.MinMaxXYs()
	if !ok {
		return Coordinate{}, Coordinate{}, false
	}
	return Coordinate{Lng: lo.X, Lat: lo.Y}, Coordinate{Lng: hi.X, Lat: hi.Y}, true
}

// Center returns the midpoint of the bounds.
func (b Bounds) Center() (Coordinate, bool) {
	sw, ne, ok := b.Corners()
	if !ok {
		return Coordinate{}, false
	}
	return Coordinate{
		Lng: (sw.Lng + ne.Lng) / 2,
		Lat: (sw.Lat + ne.Lat) / 2,
	}, true
}
