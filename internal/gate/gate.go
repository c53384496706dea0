// Package gate defers update operations until the renderer's layers exist.
package gate

import "github.com/OCAP2/trailmap/internal/queue"

// State of a Gate. Ready is terminal.
type State int

const (
	NotReady State = iota
	Ready
)

func (s State) String() string {
	if s == Ready {
		return "ready"
	}
	return "not_ready"
}

// Gate queues operations while NotReady and runs them directly once Ready.
// All calls must come from the owning instance's event loop.
type Gate struct {
	state   State
	pending *queue.Queue[func()]
}

// New creates a closed gate.
func New() *Gate {
	return &Gate{pending: queue.New[func()]()}
}

// State returns the current state.
func (g *Gate) State() State {
	return g.state
}

// Pending returns the number of queued operations.
func (g *Gate) Pending() int {
	return g.pending.Len()
}

// Run executes op now if the gate is open, otherwise queues it.
func (g *Gate) Run(op func()) {
	if g.state == Ready {
		op()
		return
	}
	g.pending.Push(op)
}

// Open transitions to Ready and drains queued operations in enqueue order.
// Subsequent calls do nothing.
func (g *Gate) Open() {
	if g.state == Ready {
		return
	}
	g.state = Ready
	for _, op := range g.pending.Drain() {
		op()
	}
}
