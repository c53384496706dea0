package trailmap

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "github.com/OCAP2/trailmap/pkg/trailmap"

type instruments struct {
	frames metric.Int64Counter
	errors metric.Int64Counter
}

var (
	instOnce sync.Once
	inst     instruments
)

// metrics returns the package counters, created on first use from the
// global meter (no-op if not configured).
func metrics() instruments {
	instOnce.Do(func() {
		m := otel.Meter(instrumentationName)

		var err error
		inst.frames, err = m.Int64Counter(
			"trailmap.frames",
			metric.WithDescription("Frames pushed to a renderer"),
		)
		if err != nil {
			inst.frames = noop.Int64Counter{}
		}
		inst.errors, err = m.Int64Counter(
			"trailmap.source.errors",
			metric.WithDescription("Data source failures shown on a surface"),
		)
		if err != nil {
			inst.errors = noop.Int64Counter{}
		}
	})
	return inst
}
