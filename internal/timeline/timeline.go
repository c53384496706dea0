// Package timeline groups rows into per-second buckets for replay.
package timeline

import (
	"slices"

	"github.com/OCAP2/trailmap/internal/row"
)

// Timeline is the ascending sequence of bucket timestamps plus the playback
// position. It is built once per replay session and only advanced by the
// scheduler that owns it.
type Timeline struct {
	Timestamps []int64
	Buckets    map[int64][]row.Row
	index      int
}

// Group buckets rows by normalized timestamp. Rows without a usable time are
// dropped; bucket membership keeps input order.
func Group(rows []row.Row) *Timeline {
	tl := &Timeline{Buckets: make(map[int64][]row.Row)}
	for _, r := range rows {
		ts, err := row.Timestamp(r)
		if err != nil {
			continue
		}
		if _, ok := tl.Buckets[ts]; !ok {
			tl.Timestamps = append(tl.Timestamps, ts)
		}
		tl.Buckets[ts] = append(tl.Buckets[ts], r)
	}
	slices.Sort(tl.Timestamps)
	return tl
}

// Len returns the number of buckets.
func (tl *Timeline) Len() int {
	return len(tl.Timestamps)
}

// Index returns the current playback index.
func (tl *Timeline) Index() int {
	return tl.index
}

// Current returns the timestamp and rows at the playback index.
func (tl *Timeline) Current() (int64, []row.Row, bool) {
	return tl.At(tl.index)
}

// At returns the timestamp and rows at i.
func (tl *Timeline) At(i int) (int64, []row.Row, bool) {
	if i < 0 || i >= len(tl.Timestamps) {
		return 0, nil, false
	}
	ts := tl.Timestamps[i]
	return ts, tl.Buckets[ts], true
}

// Advance moves the index forward by one. It returns false, leaving the
// index unchanged, when already at the last bucket.
func (tl *Timeline) Advance() bool {
	if tl.index >= len(tl.Timestamps)-1 {
		return false
	}
	tl.index++
	return true
}

// AtEnd reports whether the index is on the last bucket (or there is none).
func (tl *Timeline) AtEnd() bool {
	return tl.index >= len(tl.Timestamps)-1
}

// Rows returns every grouped row in timeline order.
func (tl *Timeline) Rows() []row.Row {
	var out []row.Row
	for _, ts := range tl.Timestamps {
		out = append(out, tl.Buckets[ts]...)
	}
	return out
}
