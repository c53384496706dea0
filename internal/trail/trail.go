// Package trail keeps a bounded history of recent coordinates per entity.
package trail

import (
	"github.com/OCAP2/trailmap/internal/geo"
	"github.com/OCAP2/trailmap/internal/row"
)

// Buffer maps entity identities to their recent coordinates, oldest first.
// It is owned by a single map instance and is not safe for concurrent use.
type Buffer struct {
	limit  int
	trails map[string][]geo.Coordinate
	order  []string
}

// New creates an empty buffer. A limit <= 0 lets trails grow without bound.
func New(limit int) *Buffer {
	return &Buffer{
		limit:  limit,
		trails: make(map[string][]geo.Coordinate),
	}
}

// Cap returns the configured cap (0 when unbounded).
func (b *Buffer) Cap() int {
	if b.limit < 0 {
		return 0
	}
	return b.limit
}

// Record appends each row's coordinate to its entity's trail, dropping the
// oldest coordinates beyond the cap. Rows without an id or a usable
// coordinate are skipped.
func (b *Buffer) Record(rows []row.Row) {
	for _, r := range rows {
		id, ok := row.EntityID(r)
		if !ok {
			continue
		}
		c, err := row.Coordinates(r)
		if err != nil {
			continue
		}
		b.Append(id, c)
	}
}

// Append adds one coordinate to id's trail.
func (b *Buffer) Append(id string, c geo.Coordinate) {
	seq, ok := b.trails[id]
	if !ok {
		b.order = append(b.order, id)
	}
	seq = append(seq, c)
	if b.limit > 0 && len(seq) > b.limit {
		// copy so the backing array does not grow forever
		seq = append([]geo.Coordinate(nil), seq[len(seq)-b.limit:]...)
	}
	b.trails[id] = seq
}

// Get returns a copy of id's trail.
func (b *Buffer) Get(id string) []geo.Coordinate {
	seq, ok := b.trails[id]
	if !ok {
		return nil
	}
	out := make([]geo.Coordinate, len(seq))
	copy(out, seq)
	return out
}

// Len returns the number of coordinates buffered for id.
func (b *Buffer) Len(id string) int {
	return len(b.trails[id])
}

// IDs returns the known identities in first-seen order.
func (b *Buffer) IDs() []string {
	out := make([]string, len(b.order))
	copy(out, b.order)
	return out
}
