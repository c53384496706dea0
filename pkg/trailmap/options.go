package trailmap

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"github.com/OCAP2/trailmap/internal/geo"
	"github.com/OCAP2/trailmap/internal/replay"
)

// Options configure one map instance.
type Options struct {
	// Replay plays the data back bucket by bucket instead of showing it live.
	Replay bool `json:"replay" yaml:"replay" mapstructure:"replay"`
	// Refresh is the live polling interval in seconds; 0 disables polling.
	Refresh float64 `json:"refresh" yaml:"refresh" mapstructure:"refresh" validate:"gte=0"`
	Trail   Trail   `json:"trail" yaml:"trail" mapstructure:"trail"`
	// DefaultIcon replaces the built-in marker for rows without an icon.
	DefaultIcon string    `json:"defaultIcon" yaml:"defaultIcon" mapstructure:"defaultIcon"`
	Tooltips    Tooltips  `json:"tooltips" yaml:"tooltips" mapstructure:"tooltips"`
	Style       string    `json:"style" yaml:"style" mapstructure:"style"`
	Center      []float64 `json:"center" yaml:"center" mapstructure:"center" validate:"omitempty,len=2"`
	Zoom        *float64  `json:"zoom" yaml:"zoom" mapstructure:"zoom" validate:"omitempty,gte=0,lte=24"`
	Controls    bool      `json:"controls" yaml:"controls" mapstructure:"controls"`
	// ReplayDelay is the pause between replay frames.
	ReplayDelay time.Duration `json:"replayDelay" yaml:"replayDelay" mapstructure:"replayDelay" validate:"gte=0"`
}

// Trail enables trail lines. In JSON and YAML it is either a boolean or an
// object with a len field capping the history per entity.
type Trail struct {
	Enabled bool `json:"enabled" validate:"-"`
	Len     int  `json:"len" validate:"gte=0"`
}

// Tooltips are handed through to the renderer's objects layer.
type Tooltips struct {
	HTML  bool  `json:"html" yaml:"html" mapstructure:"html"`
	Hover *bool `json:"hover" yaml:"hover" mapstructure:"hover"`
}

// HoverEnabled reports whether tooltips open on hover. It defaults to true.
func (t Tooltips) HoverEnabled() bool {
	return t.Hover == nil || *t.Hover
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks option ranges.
func (o Options) Validate() error {
	if err := validate.Struct(o); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}
	if _, err := o.CenterCoordinate(); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}
	return nil
}

// RefreshInterval converts Refresh to a duration.
func (o Options) RefreshInterval() time.Duration {
	return time.Duration(o.Refresh * float64(time.Second))
}

// Delay returns the replay frame delay, defaulting to 100ms.
func (o Options) Delay() time.Duration {
	if o.ReplayDelay <= 0 {
		return replay.DefaultDelay
	}
	return o.ReplayDelay
}

// CenterCoordinate returns the explicit center, or nil when unset.
func (o Options) CenterCoordinate() (*geo.Coordinate, error) {
	if len(o.Center) == 0 {
		return nil, nil
	}
	if len(o.Center) != 2 {
		return nil, errors.New("center must be [lng, lat]")
	}
	c := geo.Coordinate{Lng: o.Center[0], Lat: o.Center[1]}
	if !c.Valid() || c.Lng < -180 || c.Lng > 180 || c.Lat < -90 || c.Lat > 90 {
		return nil, fmt.Errorf("center %v: %w", o.Center, geo.ErrInvalidCoordinates)
	}
	return &c, nil
}

// ParseTrail reads a trail option given as a boolean, a {len} object, or nil.
func ParseTrail(v any) (Trail, error) {
	switch t := v.(type) {
	case nil:
		return Trail{}, nil
	case Trail:
		return t, nil
	case bool:
		return Trail{Enabled: t}, nil
	case string:
		b, err := cast.ToBoolE(t)
		if err != nil {
			return Trail{}, fmt.Errorf("trail: %w", err)
		}
		return Trail{Enabled: b}, nil
	case map[string]any:
		tr := Trail{Enabled: true}
		if raw, ok := t["len"]; ok {
			n, err := cast.ToIntE(raw)
			if err != nil {
				return Trail{}, fmt.Errorf("trail.len: %w", err)
			}
			tr.Len = n
		}
		if raw, ok := t["enabled"]; ok {
			b, err := cast.ToBoolE(raw)
			if err != nil {
				return Trail{}, fmt.Errorf("trail.enabled: %w", err)
			}
			tr.Enabled = b
		}
		return tr, nil
	case map[any]any:
		return ParseTrail(cast.ToStringMap(t))
	default:
		return Trail{}, fmt.Errorf("trail: unsupported value %T", v)
	}
}

// UnmarshalJSON accepts a boolean or an object.
func (t *Trail) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	parsed, err := ParseTrail(v)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MarshalJSON writes false, true, or {"len": n}.
func (t Trail) MarshalJSON() ([]byte, error) {
	if !t.Enabled || t.Len == 0 {
		return json.Marshal(t.Enabled)
	}
	return json.Marshal(map[string]int{"len": t.Len})
}

// UnmarshalYAML accepts a boolean or a mapping.
func (t *Trail) UnmarshalYAML(n *yaml.Node) error {
	var v any
	if err := n.Decode(&v); err != nil {
		return err
	}
	parsed, err := ParseTrail(v)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
