package trailmap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/OCAP2/trailmap/internal/clock"
	"github.com/OCAP2/trailmap/internal/dispatcher"
	"github.com/OCAP2/trailmap/internal/feature"
	"github.com/OCAP2/trailmap/internal/gate"
	"github.com/OCAP2/trailmap/internal/geo"
	"github.com/OCAP2/trailmap/internal/poll"
	"github.com/OCAP2/trailmap/internal/replay"
	"github.com/OCAP2/trailmap/internal/row"
	"github.com/OCAP2/trailmap/internal/source"
	"github.com/OCAP2/trailmap/internal/timeline"
	"github.com/OCAP2/trailmap/internal/trail"
	"github.com/OCAP2/trailmap/internal/viewport"
)

// Frame modes.
const (
	ModeReplay = "replay"
	ModeLive   = "live"
)

// Dependencies are a map's collaborators.
type Dependencies struct {
	// NewRenderer is required.
	NewRenderer RendererFactory
	Clock       Clock
	HTTPClient  *http.Client
	Logger      *slog.Logger
	Observer    FrameObserver
	// Unhandled receives pull function failures in addition to the surface.
	// The default logs them.
	Unhandled func(error)
}

// Map is one rendering instance. All of its state changes happen on a
// private event loop; the exported methods are safe for concurrent use but
// must not be called from a Surface or Renderer callback.
type Map struct {
	id      string
	surface Surface
	input   Input
	opts    Options
	deps    Dependencies
	logger  *slog.Logger
	center  *geo.Coordinate

	loop    *dispatcher.Dispatcher
	adapter *source.Adapter
	ctx     context.Context
	cancel  context.CancelFunc

	// Loop-owned.
	gate        *gate.Gate
	trails      *trail.Buffer
	builder     feature.Builder
	bounds      geo.Bounds
	timeline    *timeline.Timeline
	initial     feature.Collection
	layersAdded bool
	lastSeq     uint64

	mu        sync.Mutex
	renderer  Renderer
	scheduler *replay.Scheduler
	poller    *poll.Poller
	frames    int
	destroyed bool
}

// Open resolves id to a surface and creates a map on it.
func Open(resolve Resolver, id string, data Input, opts Options, deps Dependencies) (*Map, error) {
	surface, ok := resolve(id)
	if !ok || surface == nil {
		return nil, fmt.Errorf("%w: %q", ErrResolution, id)
	}
	return New(surface, data, opts, deps)
}

// New creates a map and starts loading data. Replay maps play their
// timeline once the renderer is ready; live maps with a refresh interval
// start polling immediately.
func New(surface Surface, data Input, opts Options, deps Dependencies) (*Map, error) {
	if surface == nil {
		return nil, ErrResolution
	}
	if data == nil {
		return nil, errors.New("no data input")
	}
	if deps.NewRenderer == nil {
		return nil, errors.New("no renderer factory")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	center, _ := opts.CenterCoordinate()

	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("map", surface.ID())

	loop, err := dispatcher.New(surface.ID(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to start event loop: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Map{
		id:      surface.ID(),
		surface: surface,
		input:   data,
		opts:    opts,
		deps:    deps,
		logger:  logger,
		center:  center,
		loop:    loop,
		ctx:     ctx,
		cancel:  cancel,
		gate:    gate.New(),
		builder: feature.Builder{DefaultIcon: opts.DefaultIcon},
	}

	adapterOpts := []source.Option{source.WithPost(loop.Post), source.WithLogger(logger)}
	if deps.HTTPClient != nil {
		adapterOpts = append(adapterOpts, source.WithHTTPClient(deps.HTTPClient))
	}
	if deps.Unhandled != nil {
		adapterOpts = append(adapterOpts, source.WithUnhandled(deps.Unhandled))
	}
	m.adapter = source.NewAdapter(adapterOpts...)

	if opts.Trail.Enabled {
		m.trails = trail.New(opts.Trail.Len)
	}

	register(m)
	loop.Post("map.load", m.load)

	if !opts.Replay && opts.Refresh > 0 {
		m.poller = poll.New(poll.Config{
			Interval: opts.RefreshInterval(),
			Clock:    deps.Clock,
			Post:     loop.Post,
			Tick:     m.refresh,
			Logger:   logger,
		})
		m.poller.Start()
	}

	return m, nil
}

// ID returns the surface id the map renders into.
func (m *Map) ID() string {
	return m.id
}

// Renderer returns the renderer, or nil before it is created and after
// Destroy.
func (m *Map) Renderer() Renderer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.renderer
}

// Frames returns how many frames have been pushed to the renderer, counting
// the initial one.
func (m *Map) Frames() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frames
}

// StopRefresh cancels live polling. The map keeps rendering. Safe to call
// repeatedly.
func (m *Map) StopRefresh() {
	m.mu.Lock()
	p := m.poller
	m.mu.Unlock()
	if p != nil {
		p.Stop()
	}
}

// Destroy stops polling and replay, discards pending callbacks and removes
// the renderer. It is terminal and safe to call repeatedly.
func (m *Map) Destroy() {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	m.destroyed = true
	p, sched := m.poller, m.scheduler
	m.mu.Unlock()

	if p != nil {
		p.Stop()
	}
	if sched != nil {
		sched.Stop()
	}
	m.cancel()
	m.loop.Close()

	// a callback running during Close may have created these
	m.mu.Lock()
	sched = m.scheduler
	r := m.renderer
	m.renderer = nil
	m.mu.Unlock()

	if sched != nil {
		sched.Stop()
	}
	if r != nil {
		r.Remove()
	}
	unregister(m)
	m.logger.Debug("map destroyed", "frames", m.Frames())
}

// Destroyed reports whether Destroy has been called.
func (m *Map) Destroyed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.destroyed
}

func (m *Map) mode() string {
	if m.opts.Replay {
		return ModeReplay
	}
	return ModeLive
}

func (m *Map) load() {
	m.adapter.Resolve(m.ctx, m.input, m.loaded)
}

func (m *Map) loaded(res Result) {
	if res.Err != nil {
		m.showError(res.Err)
		return
	}

	rows := res.Rows
	if m.opts.Replay {
		m.timeline = timeline.Group(rows)
		for _, r := range m.timeline.Rows() {
			if c, err := row.Coordinates(r); err == nil {
				m.bounds.Extend(c)
			}
		}
		_, rows, _ = m.timeline.Current()
		m.logger.Debug("timeline grouped", "buckets", m.timeline.Len(), "rows", len(res.Rows))
	}
	m.render(rows)
}

// render creates the renderer for the first frame.
func (m *Map) render(rows []row.Row) {
	if m.trails != nil {
		m.trails.Record(rows)
	}
	m.initial = m.builder.Build(rows, m.trails, &m.bounds)

	params := viewport.Params{Center: m.center, Zoom: m.opts.Zoom, Bounds: m.bounds}
	if s, ok := m.surface.(Sizer); ok {
		params.Width, params.Height = s.Size()
	}
	view := View{
		Camera:   viewport.Select(params),
		Style:    m.opts.Style,
		Controls: m.opts.Controls,
	}
	if view.Style == "" {
		view.Style = viewport.DefaultStyle
		view.Projection = "mercator"
	}

	r, err := m.deps.NewRenderer(m.surface, view)
	if err != nil {
		m.logger.Error("failed to create renderer", "error", err)
		m.surface.ShowError(err.Error())
		return
	}
	m.mu.Lock()
	m.renderer = r
	m.mu.Unlock()

	m.observe(0, rows, m.initial)

	if r.Ready() {
		m.layersReady()
		return
	}
	r.OnReady(func() {
		m.loop.Post("renderer.ready", m.layersReady)
	})
}

// layersReady adds the layers, flushes deferred updates and starts replay.
func (m *Map) layersReady() {
	if m.layersAdded {
		return
	}
	m.layersAdded = true

	if m.trails != nil {
		if err := m.renderer.AddLayer(TrailsLayerSpec(), m.initial.Trails); err != nil {
			m.logger.Error("failed to add layer", "layer", TrailsLayer, "error", err)
		}
	}
	if err := m.renderer.AddLayer(ObjectsLayerSpec(m.opts.Tooltips), m.initial.Points); err != nil {
		m.logger.Error("failed to add layer", "layer", ObjectsLayer, "error", err)
	}
	m.initial = feature.Collection{}
	m.gate.Open()

	if !m.opts.Replay {
		return
	}
	sched := replay.New(m.timeline, replay.Config{
		Delay:  m.opts.Delay(),
		Clock:  m.deps.Clock,
		Post:   m.loop.Post,
		Frame:  m.frame,
		Logger: m.logger,
	})
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	m.scheduler = sched
	m.mu.Unlock()
	sched.Start()
}

func (m *Map) frame(index int, rows []row.Row) {
	m.update(rows, index)
}

func (m *Map) refresh(seq uint64) {
	m.adapter.Resolve(m.ctx, m.input, func(res Result) {
		m.applyRefresh(seq, res)
	})
}

func (m *Map) applyRefresh(seq uint64, res Result) {
	if seq <= m.lastSeq {
		m.logger.Debug("discarding stale refresh", "seq", seq, "applied", m.lastSeq)
		return
	}
	m.lastSeq = seq
	if res.Err != nil {
		m.showError(res.Err)
		return
	}
	m.update(res.Rows, int(seq))
}

// update pushes a batch through the readiness gate.
func (m *Map) update(rows []row.Row, index int) {
	m.gate.Run(func() {
		if m.trails != nil {
			m.trails.Record(rows)
		}
		coll := m.builder.Build(rows, m.trails, &m.bounds)

		if m.trails != nil {
			if err := m.renderer.SetFeatureData(TrailsLayer, coll.Trails); err != nil {
				m.logger.Error("failed to set feature data", "layer", TrailsLayer, "error", err)
			}
		}
		if err := m.renderer.SetFeatureData(ObjectsLayer, coll.Points); err != nil {
			m.logger.Error("failed to set feature data", "layer", ObjectsLayer, "error", err)
		}
		m.observe(index, rows, coll)
	})
}

func (m *Map) observe(index int, rows []row.Row, coll feature.Collection) {
	m.mu.Lock()
	m.frames++
	m.mu.Unlock()

	metrics().frames.Add(m.ctx, 1, metric.WithAttributes(attribute.String("mode", m.mode())))
	if m.deps.Observer != nil {
		m.deps.Observer.ObserveFrame(Frame{
			MapID:  m.id,
			Mode:   m.mode(),
			Index:  index,
			Rows:   len(rows),
			Points: len(coll.Points),
			Trails: len(coll.Trails),
			At:     time.Now(),
		})
	}
}

func (m *Map) showError(err error) {
	kind := "source"
	var fe *FetchError
	var he *HandlerError
	switch {
	case errors.As(err, &fe):
		kind = "fetch"
	case errors.As(err, &he):
		kind = "handler"
	}
	metrics().errors.Add(m.ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
	m.logger.Error("data source failed", "kind", kind, "error", err)
	m.surface.ShowError(err.Error())
}
