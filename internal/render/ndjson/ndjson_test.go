package ndjson

import (
	"bufio"
	"bytes"
	"encoding/json"
	"sync"
	"testing"
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/trailmap/pkg/trailmap"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

type line struct {
	Seq   uint64          `json:"seq"`
	Type  string          `json:"type"`
	Map   string          `json:"map"`
	Name  string          `json:"name"`
	Error string          `json:"error"`
	View  json.RawMessage `json:"view"`
	Layer struct {
		Name string `json:"name"`
		Kind string `json:"kind"`
	} `json:"layer"`
	Data struct {
		Type     string            `json:"type"`
		Features []json.RawMessage `json:"features"`
	} `json:"data"`
}

func (b *syncBuffer) lines(t *testing.T) []line {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []line
	sc := bufio.NewScanner(bytes.NewReader(b.buf.Bytes()))
	for sc.Scan() {
		var l line
		require.NoError(t, json.Unmarshal(sc.Bytes(), &l))
		out = append(out, l)
	}
	return out
}

func types(ls []line) []string {
	var out []string
	for _, l := range ls {
		out = append(out, l.Type)
	}
	return out
}

func TestRenderer_WritesEachCall(t *testing.T) {
	buf := &syncBuffer{}
	w := NewWriter(buf)
	surface := NewSurface("m1", w, 0, 0)

	r, err := Factory(w)(surface, trailmap.View{Style: "streets"})
	require.NoError(t, err)
	assert.True(t, r.Ready())

	called := false
	r.OnReady(func() { called = true })
	assert.True(t, called)

	require.NoError(t, r.AddLayer(trailmap.TrailsLayerSpec(), geom.GeoJSONFeatureCollection{}))
	require.NoError(t, r.SetFeatureData(trailmap.ObjectsLayer, geom.GeoJSONFeatureCollection{
		{Geometry: geom.NewPoint(geom.Coordinates{XY: geom.XY{X: 1, Y: 2}, Type: geom.DimXY}).AsGeometry()},
	}))
	r.Remove()
	r.Remove()

	assert.ErrorIs(t, r.SetFeatureData(trailmap.ObjectsLayer, nil), ErrRemoved)
	assert.ErrorIs(t, r.AddLayer(trailmap.TrailsLayerSpec(), nil), ErrRemoved)

	ls := buf.lines(t)
	require.Equal(t, []string{TypeCreate, TypeAddLayer, TypeSetData, TypeRemove}, types(ls))
	for i, l := range ls {
		assert.Equal(t, uint64(i+1), l.Seq)
		assert.Equal(t, "m1", l.Map)
	}
	assert.Contains(t, string(ls[0].View), `"style":"streets"`)
	assert.Equal(t, trailmap.TrailsLayer, ls[1].Layer.Name)
	assert.Equal(t, "line", ls[1].Layer.Kind)
	assert.Equal(t, trailmap.ObjectsLayer, ls[2].Name)
	assert.Equal(t, "FeatureCollection", ls[2].Data.Type)
	assert.Len(t, ls[2].Data.Features, 1)
}

func TestSurface(t *testing.T) {
	buf := &syncBuffer{}
	s := NewSurface("m2", NewWriter(buf), 640, 480)

	assert.Equal(t, "m2", s.ID())
	w, h := s.Size()
	assert.Equal(t, 640, w)
	assert.Equal(t, 480, h)

	s.ShowError("Not Found")
	ls := buf.lines(t)
	require.Len(t, ls, 1)
	assert.Equal(t, TypeError, ls[0].Type)
	assert.Equal(t, "Not Found", ls[0].Error)
}

func TestRenderer_DrivesMap(t *testing.T) {
	buf := &syncBuffer{}
	w := NewWriter(buf)

	rows := trailmap.Rows{
		{"id": "a", "lng": 1.0, "lat": 1.0},
		{"id": "b", "lng": 2.0, "lat": 2.0},
	}
	m, err := trailmap.New(NewSurface("live", w, 800, 500), rows, trailmap.Options{
		Trail: trailmap.Trail{Enabled: true},
	}, trailmap.Dependencies{NewRenderer: Factory(w)})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(buf.lines(t)) == 3
	}, 2*time.Second, 5*time.Millisecond)

	m.Destroy()

	ls := buf.lines(t)
	require.Equal(t, []string{TypeCreate, TypeAddLayer, TypeAddLayer, TypeRemove}, types(ls))
	assert.Equal(t, trailmap.TrailsLayer, ls[1].Layer.Name)
	assert.Equal(t, trailmap.ObjectsLayer, ls[2].Layer.Name)
	assert.Len(t, ls[2].Data.Features, 2)
}
