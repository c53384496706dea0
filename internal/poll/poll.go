// Package poll drives periodic refreshes of a live map.
package poll

import (
	"sync"
	"time"

	"github.com/OCAP2/trailmap/internal/clock"
)

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
}

// Config wires a Poller to its environment.
type Config struct {
	Interval time.Duration
	Clock    clock.Clock
	// Post hands a callback to the owning event loop.
	Post func(kind string, fn func()) bool
	// Tick runs on the event loop. seq increases by one per tick, starting at 1.
	Tick   func(seq uint64)
	Logger Logger
}

// Poller fires Tick every Interval until stopped. Ticks are not serialized
// against each other's downstream work; callers use seq to drop stale results.
type Poller struct {
	cfg Config

	mu      sync.Mutex
	timer   clock.Timer
	seq     uint64
	started bool
	stopped bool
}

// New creates a poller. It does not start ticking until Start.
func New(cfg Config) *Poller {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Post == nil {
		cfg.Post = func(_ string, fn func()) bool {
			fn()
			return true
		}
	}
	return &Poller{cfg: cfg}
}

// Start arms the first tick. A non-positive interval never ticks.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped || p.cfg.Interval <= 0 {
		return
	}
	p.started = true
	p.armLocked()
}

// Stop cancels the pending tick. Safe to call repeatedly.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.stopped = true
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

// Stopped reports whether Stop has been called.
func (p *Poller) Stopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// Seq returns the sequence number of the latest tick.
func (p *Poller) Seq() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seq
}

func (p *Poller) armLocked() {
	p.timer = p.cfg.Clock.AfterFunc(p.cfg.Interval, p.fire)
}

// fire runs on the clock's goroutine.
func (p *Poller) fire() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.seq++
	seq := p.seq
	p.armLocked()
	p.mu.Unlock()

	if p.cfg.Logger != nil {
		p.cfg.Logger.Debug("refresh tick", "seq", seq)
	}
	p.cfg.Post("poll.tick", func() {
		if p.Stopped() {
			return
		}
		p.cfg.Tick(seq)
	})
}
