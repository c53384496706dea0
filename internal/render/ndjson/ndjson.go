// Package ndjson is a headless renderer that writes every renderer call as
// one JSON object per line. It backs the command line tool and lets other
// processes draw the map.
package ndjson

import (
	"encoding/json"
	"errors"
	"io"
	"sync"

	geom "github.com/peterstace/simplefeatures/geom"

	"github.com/OCAP2/trailmap/pkg/trailmap"
)

// Event types.
const (
	TypeCreate   = "create"
	TypeAddLayer = "addLayer"
	TypeSetData  = "setData"
	TypeRemove   = "remove"
	TypeError    = "error"
)

// ErrRemoved is returned by calls on a removed renderer.
var ErrRemoved = errors.New("renderer removed")

// Event is one output line.
type Event struct {
	Seq   uint64                         `json:"seq"`
	Type  string                         `json:"type"`
	Map   string                         `json:"map"`
	View  *trailmap.View                 `json:"view,omitempty"`
	Layer *trailmap.Layer                `json:"layer,omitempty"`
	Name  string                         `json:"name,omitempty"`
	Data  *geom.GeoJSONFeatureCollection `json:"data,omitempty"`
	Error string                         `json:"error,omitempty"`
}

// Writer serializes events from any number of maps onto one stream.
type Writer struct {
	mu  sync.Mutex
	enc *json.Encoder
	seq uint64
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{enc: json.NewEncoder(w)}
}

// Write stamps e with the next sequence number and encodes it.
func (w *Writer) Write(e Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.seq++
	e.Seq = w.seq
	return w.enc.Encode(e)
}

// Surface is a named output target. Errors shown on it become error events.
type Surface struct {
	id     string
	w      *Writer
	width  int
	height int
}

// NewSurface creates a surface. A zero size leaves the fit zoom to defaults.
func NewSurface(id string, w *Writer, width, height int) *Surface {
	return &Surface{id: id, w: w, width: width, height: height}
}

func (s *Surface) ID() string { return s.id }

func (s *Surface) ShowError(msg string) {
	_ = s.w.Write(Event{Type: TypeError, Map: s.id, Error: msg})
}

// Size implements trailmap.Sizer.
func (s *Surface) Size() (int, int) {
	return s.width, s.height
}

// Renderer writes renderer calls for one map.
type Renderer struct {
	mapID   string
	w       *Writer
	mu      sync.Mutex
	removed bool
}

// Factory returns a trailmap.RendererFactory writing to w. The renderers are
// ready as soon as they are created.
func Factory(w *Writer) trailmap.RendererFactory {
	return func(surface trailmap.Surface, view trailmap.View) (trailmap.Renderer, error) {
		r := &Renderer{mapID: surface.ID(), w: w}
		if err := w.Write(Event{Type: TypeCreate, Map: r.mapID, View: &view}); err != nil {
			return nil, err
		}
		return r, nil
	}
}

func (r *Renderer) Ready() bool { return true }

// OnReady calls f immediately.
func (r *Renderer) OnReady(f func()) { f() }

func (r *Renderer) AddLayer(layer trailmap.Layer, data geom.GeoJSONFeatureCollection) error {
	if r.isRemoved() {
		return ErrRemoved
	}
	return r.w.Write(Event{Type: TypeAddLayer, Map: r.mapID, Layer: &layer, Data: &data})
}

func (r *Renderer) SetFeatureData(name string, data geom.GeoJSONFeatureCollection) error {
	if r.isRemoved() {
		return ErrRemoved
	}
	return r.w.Write(Event{Type: TypeSetData, Map: r.mapID, Name: name, Data: &data})
}

// Remove writes a remove event once.
func (r *Renderer) Remove() {
	r.mu.Lock()
	if r.removed {
		r.mu.Unlock()
		return
	}
	r.removed = true
	r.mu.Unlock()
	_ = r.w.Write(Event{Type: TypeRemove, Map: r.mapID})
}

func (r *Renderer) isRemoved() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removed
}
