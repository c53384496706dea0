package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/trailmap/internal/row"
)

// testLogger implements Logger for testing
type testLogger struct {
	mu     sync.Mutex
	errors []string
}

func (l *testLogger) Debug(string, ...any) {}

func (l *testLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func waitResult(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for result")
		return Result{}
	}
}

func TestResolve_RowsSynchronous(t *testing.T) {
	a := NewAdapter()
	in := Rows{{"id": 1, "lng": 1.0, "lat": 2.0}}

	var got Result
	called := false
	a.Resolve(context.Background(), in, func(r Result) {
		called = true
		got = r
	})

	require.True(t, called)
	assert.NoError(t, got.Err)
	assert.Len(t, got.Rows, 1)
}

func TestResolve_URLSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"a","lng":1.5,"lat":2.5,"time":10}]`))
	}))
	defer server.Close()

	var posted []string
	var mu sync.Mutex
	a := NewAdapter(WithPost(func(kind string, fn func()) bool {
		mu.Lock()
		posted = append(posted, kind)
		mu.Unlock()
		fn()
		return true
	}))

	ch := make(chan Result, 1)
	a.Resolve(context.Background(), URL(server.URL), func(r Result) { ch <- r })
	res := waitResult(t, ch)

	require.NoError(t, res.Err)
	require.Len(t, res.Rows, 1)
	c, err := row.Coordinates(res.Rows[0])
	require.NoError(t, err)
	assert.Equal(t, 1.5, c.Lng)
	assert.Equal(t, 2.5, c.Lat)

	mu.Lock()
	assert.Equal(t, []string{"source.fetch"}, posted)
	mu.Unlock()
}

func TestResolve_URLStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	ch := make(chan Result, 1)
	NewAdapter().Resolve(context.Background(), URL(server.URL), func(r Result) { ch <- r })
	res := waitResult(t, ch)

	var fe *FetchError
	require.ErrorAs(t, res.Err, &fe)
	assert.Equal(t, http.StatusNotFound, fe.StatusCode)
	assert.Equal(t, "Not Found", fe.Error())
	assert.Empty(t, res.Rows)
}

func TestResolve_URLBadBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer server.Close()

	ch := make(chan Result, 1)
	NewAdapter().Resolve(context.Background(), URL(server.URL), func(r Result) { ch <- r })
	res := waitResult(t, ch)

	var fe *FetchError
	assert.ErrorAs(t, res.Err, &fe)
}

func TestResolve_URLServerDown(t *testing.T) {
	ch := make(chan Result, 1)
	NewAdapter().Resolve(context.Background(), URL("http://127.0.0.1:59999"), func(r Result) { ch <- r })
	res := waitResult(t, ch)

	var fe *FetchError
	assert.ErrorAs(t, res.Err, &fe)
}

func TestResolve_PullResolves(t *testing.T) {
	a := NewAdapter()
	pull := PullFunc(func(ctx context.Context, resolve func(Result)) error {
		resolve(Result{Rows: []row.Row{{"id": 1}}})
		resolve(Result{Rows: []row.Row{{"id": 2}, {"id": 3}}})
		return nil
	})

	var results []Result
	a.Resolve(context.Background(), pull, func(r Result) { results = append(results, r) })

	require.Len(t, results, 1, "resolve is single-use")
	assert.Len(t, results[0].Rows, 1)
}

func TestResolve_PullAsync(t *testing.T) {
	a := NewAdapter()
	pull := PullFunc(func(ctx context.Context, resolve func(Result)) error {
		go resolve(Result{Rows: []row.Row{{"id": 1}}})
		return nil
	})

	ch := make(chan Result, 1)
	a.Resolve(context.Background(), pull, func(r Result) { ch <- r })
	res := waitResult(t, ch)
	assert.NoError(t, res.Err)
	assert.Len(t, res.Rows, 1)
}

func TestResolve_PullRejects(t *testing.T) {
	var unhandled []error
	a := NewAdapter(WithUnhandled(func(err error) { unhandled = append(unhandled, err) }))
	pull := PullFunc(func(ctx context.Context, resolve func(Result)) error {
		resolve(Result{Err: errors.New("feed offline")})
		return nil
	})

	var got Result
	a.Resolve(context.Background(), pull, func(r Result) { got = r })

	var he *HandlerError
	require.ErrorAs(t, got.Err, &he)
	assert.Equal(t, "feed offline", he.Error())
	assert.Empty(t, unhandled)
}

func TestResolve_PullReturnsError(t *testing.T) {
	var unhandled []error
	a := NewAdapter(WithUnhandled(func(err error) { unhandled = append(unhandled, err) }))
	boom := errors.New("boom")
	pull := PullFunc(func(ctx context.Context, resolve func(Result)) error {
		return boom
	})

	var got Result
	a.Resolve(context.Background(), pull, func(r Result) { got = r })

	var he *HandlerError
	require.ErrorAs(t, got.Err, &he)
	assert.ErrorIs(t, got.Err, boom)
	require.Len(t, unhandled, 1)
	assert.ErrorIs(t, unhandled[0], boom)
}

func TestResolve_PullPanics(t *testing.T) {
	logger := &testLogger{}
	a := NewAdapter(WithLogger(logger))
	pull := PullFunc(func(ctx context.Context, resolve func(Result)) error {
		panic("kaboom")
	})

	var got Result
	a.Resolve(context.Background(), pull, func(r Result) { got = r })

	var he *HandlerError
	require.ErrorAs(t, got.Err, &he)
	assert.Contains(t, he.Error(), "kaboom")
	assert.Len(t, logger.errors, 1, "default unhandled hook logs")
}

func TestResolve_PullErrorAfterResolve(t *testing.T) {
	var unhandled []error
	a := NewAdapter(WithUnhandled(func(err error) { unhandled = append(unhandled, err) }))
	pull := PullFunc(func(ctx context.Context, resolve func(Result)) error {
		resolve(Result{Rows: []row.Row{{"id": 1}}})
		return errors.New("late")
	})

	var results []Result
	a.Resolve(context.Background(), pull, func(r Result) { results = append(results, r) })

	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)
	assert.Len(t, unhandled, 1)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "rows.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`[{"id":"a","lat":1,"lon":2,"time":"2024-01-02T03:04:05Z"}]`), 0o644))

	yamlPath := filepath.Join(dir, "rows.yml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("- id: a\n  lat: 1\n  lon: 2\n  time: 1704164645\n"), 0o644))

	for _, path := range []string{jsonPath, yamlPath} {
		t.Run(filepath.Ext(path), func(t *testing.T) {
			rows, err := LoadFile(path)
			require.NoError(t, err)
			require.Len(t, rows, 1)

			c, err := row.Coordinates(rows[0])
			require.NoError(t, err)
			assert.Equal(t, 2.0, c.Lng)
			assert.Equal(t, 1.0, c.Lat)

			ts, err := row.Timestamp(rows[0])
			require.NoError(t, err)
			assert.Equal(t, int64(1704164645), ts)
		})
	}
}

func TestLoadFile_Errors(t *testing.T) {
	_, err := LoadFile("/nonexistent/rows.json")
	assert.Error(t, err)

	_, err = Decode([]byte("[]"), ".csv")
	assert.Error(t, err)

	_, err = Decode([]byte("{"), ".json")
	assert.Error(t, err)
}
