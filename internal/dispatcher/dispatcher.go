package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/OCAP2/trailmap/internal/queue"
)

// ErrClosed is returned by Do once the dispatcher has been closed.
var ErrClosed = errors.New("dispatcher closed")

// Event is one callback waiting to run on the loop.
type Event struct {
	Kind      string
	Fn        func()
	Timestamp time.Time
}

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures a Dispatcher.
type Option func(*config)

type config struct {
	logged bool
}

// Logged adds debug logging around every event.
func Logged() Option {
	return func(c *config) {
		c.logged = true
	}
}

// Dispatcher runs posted callbacks one at a time, in post order, on a single
// goroutine. It is the only place a map instance's state is mutated.
type Dispatcher struct {
	name   string
	logger Logger
	cfg    config

	events *queue.Queue[Event]
	wake   chan struct{}
	done   chan struct{}
	exited chan struct{}
	once   sync.Once

	// OTEL metrics
	queueSize    metric.Int64ObservableGauge
	registration metric.Registration
	processed    metric.Int64Counter
	dropped      metric.Int64Counter
	attrs        metric.MeasurementOption
}

// New starts a dispatcher loop. Uses the global OTel meter for metrics
// (no-op if not configured).
func New(name string, logger Logger, opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		name:   name,
		logger: logger,
		events: queue.New[Event](),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
		attrs:  metric.WithAttributes(attribute.String("loop", name)),
	}
	for _, opt := range opts {
		opt(&d.cfg)
	}

	m := meter()

	var err error

	d.queueSize, err = m.Int64ObservableGauge(
		"dispatcher.queue.size",
		metric.WithDescription("Current number of callbacks waiting on the loop"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating queue size gauge: %w", err)
	}

	d.registration, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(d.queueSize, int64(d.events.Len()), d.attrs)
			return nil
		},
		d.queueSize,
	)
	if err != nil {
		return nil, fmt.Errorf("registering queue callback: %w", err)
	}

	d.processed, err = m.Int64Counter(
		"dispatcher.events.processed",
		metric.WithDescription("Total callbacks run on the loop"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating processed counter: %w", err)
	}

	d.dropped, err = m.Int64Counter(
		"dispatcher.events.dropped",
		metric.WithDescription("Total callbacks discarded because the loop was closed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}

	go d.run()

	return d, nil
}

// Post queues fn to run on the loop. It never blocks and reports false if
// the dispatcher is closed.
func (d *Dispatcher) Post(kind string, fn func()) bool {
	select {
	case <-d.done:
		d.dropped.Add(context.Background(), 1, d.attrs)
		return false
	default:
	}

	d.events.Push(Event{Kind: kind, Fn: fn, Timestamp: time.Now()})

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return true
}

// Do runs fn on the loop and waits for it to finish. It must not be called
// from the loop itself.
func (d *Dispatcher) Do(kind string, fn func()) error {
	finished := make(chan struct{})
	if !d.Post(kind, func() {
		defer close(finished)
		fn()
	}) {
		return ErrClosed
	}

	select {
	case <-finished:
		return nil
	case <-d.exited:
		return ErrClosed
	}
}

// Close stops the loop. Callbacks still queued are discarded and a callback
// in progress is allowed to finish before Close returns. It must not be
// called from the loop itself.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		close(d.done)
		<-d.exited

		if n := len(d.events.Drain()); n > 0 {
			d.dropped.Add(context.Background(), int64(n), d.attrs)
		}
		if d.registration != nil {
			_ = d.registration.Unregister()
		}
	})
}

// Closed reports whether Close has been called.
func (d *Dispatcher) Closed() bool {
	select {
	case <-d.done:
		return true
	default:
		return false
	}
}

func (d *Dispatcher) run() {
	defer close(d.exited)
	for {
		select {
		case <-d.done:
			return
		case <-d.wake:
		}

		for {
			select {
			case <-d.done:
				return
			default:
			}

			e, ok := d.events.Pop()
			if !ok {
				break
			}
			d.handle(e)
		}
	}
}

func (d *Dispatcher) handle(e Event) {
	start := time.Now()
	if d.cfg.logged {
		d.logger.Debug("handling event", "loop", d.name, "kind", e.Kind, "queued", start.Sub(e.Timestamp))
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event panicked", "loop", d.name, "kind", e.Kind, "panic", r)
		}
		d.processed.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("loop", d.name),
			attribute.String("kind", e.Kind),
		))
		if d.cfg.logged {
			d.logger.Debug("event complete", "loop", d.name, "kind", e.Kind, "duration", time.Since(start))
		}
	}()

	e.Fn()
}
