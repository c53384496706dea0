// Package row normalizes open-ended observation records into coordinates,
// epoch-second timestamps and entity identities.
package row

import (
	"errors"
	"math"
	"time"

	"github.com/OCAP2/trailmap/internal/geo"
	"github.com/spf13/cast"
)

// Normalization errors. Callers exclude the offending row and carry on.
var (
	ErrNoCoordinates = errors.New("row has no usable longitude/latitude")
	ErrNoTimestamp   = errors.New("row has no usable time")
)

// Field names, in priority order.
var (
	LongitudeFields = []string{"longitude", "lng", "lon"}
	LatitudeFields  = []string{"latitude", "lat"}
)

const (
	TimeField = "time"
	IDField   = "id"
)

// Row is one observation of an entity. Rows are treated as immutable.
type Row map[string]any

// Coordinates returns the row's position, reading the first usable
// longitude and latitude field.
func Coordinates(r Row) (geo.Coordinate, error) {
	lng, ok := firstNumber(r, LongitudeFields)
	if !ok {
		return geo.Coordinate{}, ErrNoCoordinates
	}
	lat, ok := firstNumber(r, LatitudeFields)
	if !ok {
		return geo.Coordinate{}, ErrNoCoordinates
	}
	return geo.Coordinate{Lng: lng, Lat: lat}, nil
}

// Timestamp returns the row's time as integer epoch seconds. Numbers pass
// through (fractions are floored), time.Time and date strings are converted.
// Zero, empty and unparseable values are rejected.
func Timestamp(r Row) (int64, error) {
	v, ok := r[TimeField]
	if !ok || v == nil {
		return 0, ErrNoTimestamp
	}

	var ts int64
	switch t := v.(type) {
	case bool:
		return 0, ErrNoTimestamp
	case time.Time:
		if t.IsZero() {
			return 0, ErrNoTimestamp
		}
		ts = t.Unix()
	case string:
		if t == "" {
			return 0, ErrNoTimestamp
		}
		parsed, err := cast.ToTimeE(t)
		if err != nil {
			return 0, ErrNoTimestamp
		}
		ts = parsed.Unix()
	default:
		f, err := cast.ToFloat64E(v)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, ErrNoTimestamp
		}
		ts = int64(math.Floor(f))
	}

	if ts == 0 {
		return 0, ErrNoTimestamp
	}
	return ts, nil
}

// EntityID returns the identity grouping successive observations of one
// moving entity. Numeric and string ids with the same text are the same entity.
func EntityID(r Row) (string, bool) {
	v, ok := r[IDField]
	if !ok || v == nil {
		return "", false
	}
	id, err := cast.ToStringE(v)
	if err != nil {
		return "", false
	}
	return id, true
}

func firstNumber(r Row, fields []string) (float64, bool) {
	for _, name := range fields {
		v, ok := r[name]
		if !ok || v == nil {
			continue
		}
		if f, ok := number(v); ok {
			return f, true
		}
	}
	return 0, false
}

func number(v any) (float64, bool) {
	switch t := v.(type) {
	case bool:
		return 0, false
	case string:
		if t == "" {
			return 0, false
		}
	}
	f, err := cast.ToFloat64E(v)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
