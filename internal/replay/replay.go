// Package replay steps a timeline forward one bucket per timer tick.
package replay

import (
	"sync"
	"time"

	"github.com/OCAP2/trailmap/internal/clock"
	"github.com/OCAP2/trailmap/internal/row"
	"github.com/OCAP2/trailmap/internal/timeline"
)

// DefaultDelay is the pause between frames.
const DefaultDelay = 100 * time.Millisecond

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
}

// Config wires a Scheduler to its environment.
type Config struct {
	Delay time.Duration
	Clock clock.Clock
	// Post hands a callback to the owning event loop.
	Post func(kind string, fn func()) bool
	// Frame is called on the event loop with the new index and its rows.
	Frame  func(index int, rows []row.Row)
	Logger Logger
}

// Scheduler owns the single pending frame timer of a replay session.
type Scheduler struct {
	tl  *timeline.Timeline
	cfg Config

	mu      sync.Mutex
	timer   clock.Timer
	stopped bool
	frames  int
}

// New creates a stopped scheduler. Nil fields in cfg get defaults.
func New(tl *timeline.Timeline, cfg Config) *Scheduler {
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultDelay
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Post == nil {
		cfg.Post = func(_ string, fn func()) bool {
			fn()
			return true
		}
	}
	return &Scheduler{tl: tl, cfg: cfg}
}

// Start arms the first frame timer. It does nothing when the timeline is
// already on its last bucket.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.timer != nil {
		return
	}
	s.armLocked()
}

// Stop cancels the pending timer. No frame is produced after Stop returns
// unless one is already running on the loop. Safe to call repeatedly.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Frames returns how many frames the scheduler has produced.
func (s *Scheduler) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Running reports whether a frame timer is pending.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil && !s.stopped
}

func (s *Scheduler) armLocked() {
	if s.tl.AtEnd() {
		s.timer = nil
		return
	}
	s.timer = s.cfg.Clock.AfterFunc(s.cfg.Delay, func() {
		s.cfg.Post("replay.frame", s.tick)
	})
}

// tick runs on the event loop.
func (s *Scheduler) tick() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	if !s.tl.Advance() {
		s.mu.Unlock()
		return
	}
	s.frames++
	index := s.tl.Index()
	s.mu.Unlock()

	_, rows, _ := s.tl.At(index)
	if s.cfg.Logger != nil {
		s.cfg.Logger.Debug("replay frame", "index", index, "rows", len(rows))
	}
	s.cfg.Frame(index, rows)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		s.armLocked()
	}
}
