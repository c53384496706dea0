// Package trailmap renders time-varying collections of geolocated entities
// through a pluggable renderer, either replaying recorded history one time
// bucket at a time or polling a live source.
package trailmap

import (
	"errors"
	"sync"

	"github.com/OCAP2/trailmap/internal/clock"
	"github.com/OCAP2/trailmap/internal/row"
	"github.com/OCAP2/trailmap/internal/source"
	"github.com/OCAP2/trailmap/internal/telemetry"
)

// ErrResolution is returned when a surface id does not resolve.
var ErrResolution = errors.New("surface not found")

// Data inputs and results.
type (
	Row          = row.Row
	Input        = source.Input
	Rows         = source.Rows
	URL          = source.URL
	PullFunc     = source.PullFunc
	Result       = source.Result
	FetchError   = source.FetchError
	HandlerError = source.HandlerError
)

// Clock schedules replay frames and refresh ticks.
type Clock = clock.Clock

// Frame is the per-frame summary passed to a FrameObserver.
type Frame = telemetry.Frame

// FrameObserver receives a summary of every rendered frame.
type FrameObserver interface {
	ObserveFrame(Frame)
}

var (
	registryOnce sync.Once
	registryMu   sync.RWMutex
	registry     map[string]*Map
)

func register(m *Map) {
	registryOnce.Do(func() {
		registry = make(map[string]*Map)
	})
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[m.id] = m
}

func unregister(m *Map) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if registry[m.id] == m {
		delete(registry, m.id)
	}
}

// Lookup returns the live map rendering into the surface with id.
func Lookup(id string) (*Map, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	m, ok := registry[id]
	return m, ok
}
