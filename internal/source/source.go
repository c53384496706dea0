// Package source resolves a map's data input into a batch of rows. The same
// input is resolved at construction, on every refresh tick, and once for a
// replay session.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/OCAP2/trailmap/internal/row"
)

// Input is one of Rows, URL or PullFunc.
type Input interface {
	input()
}

// Rows is a literal row collection.
type Rows []row.Row

// URL is an HTTP endpoint returning a JSON array of rows.
type URL string

// PullFunc produces rows asynchronously. It must call resolve at most once;
// later calls are ignored. A Result with Err set reports a failure.
type PullFunc func(ctx context.Context, resolve func(Result)) error

func (Rows) input()     {}
func (URL) input()      {}
func (PullFunc) input() {}

// Result is the outcome of one resolution.
type Result struct {
	Rows []row.Row
	Err  error
}

// FetchError reports a failed URL fetch. Its message is the HTTP status text.
type FetchError struct {
	URL        string
	StatusCode int
	Status     string
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Status
}

func (e *FetchError) Unwrap() error { return e.Err }

// HandlerError reports a pull function that failed, panicked or rejected.
type HandlerError struct {
	Err error
}

func (e *HandlerError) Error() string {
	if e.Err == nil {
		return "Error"
	}
	return e.Err.Error()
}

func (e *HandlerError) Unwrap() error { return e.Err }

// ErrUnknownInput is returned for an Input implementation this package does
// not know.
var ErrUnknownInput = errors.New("unknown data input")

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Adapter resolves inputs, posting asynchronous completions to an event loop.
type Adapter struct {
	client    *http.Client
	post      func(kind string, fn func()) bool
	unhandled func(error)
	logger    Logger
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithHTTPClient sets the client used for URL inputs.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Adapter) { a.client = c }
}

// WithPost sets the function that hands completions to the owning loop.
func WithPost(post func(kind string, fn func()) bool) Option {
	return func(a *Adapter) { a.post = post }
}

// WithUnhandled sets the hook that receives pull function failures in
// addition to the completion callback.
func WithUnhandled(fn func(error)) Option {
	return func(a *Adapter) { a.unhandled = fn }
}

// WithLogger sets the adapter's logger.
func WithLogger(l Logger) Option {
	return func(a *Adapter) { a.logger = l }
}

// NewAdapter creates an adapter. Without WithPost completions run on
// whichever goroutine produced them.
func NewAdapter(opts ...Option) *Adapter {
	a := &Adapter{
		client: &http.Client{Timeout: 30 * time.Second},
		post: func(_ string, fn func()) bool {
			fn()
			return true
		},
		logger: slogLogger{slog.Default()},
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.unhandled == nil {
		a.unhandled = func(err error) {
			a.logger.Error("unhandled data source error", "error", err)
		}
	}
	return a
}

// Resolve delivers exactly one Result for in to done. Literal rows complete
// synchronously; URL and pull inputs complete through the adapter's post
// function.
func (a *Adapter) Resolve(ctx context.Context, in Input, done func(Result)) {
	switch v := in.(type) {
	case Rows:
		done(Result{Rows: []row.Row(v)})
	case URL:
		go func() {
			rows, err := a.fetch(ctx, string(v))
			a.post("source.fetch", func() { done(Result{Rows: rows, Err: err}) })
		}()
	case PullFunc:
		a.pull(ctx, v, done)
	default:
		done(Result{Err: fmt.Errorf("%w: %T", ErrUnknownInput, in)})
	}
}

func (a *Adapter) fetch(ctx context.Context, url string) ([]row.Row, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{URL: url, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: url, Err: fmt.Errorf("fetch request failed: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Status:     http.StatusText(resp.StatusCode),
		}
	}

	var rows []row.Row
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&rows); err != nil {
		return nil, &FetchError{URL: url, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode rows: %w", err)}
	}
	a.logger.Debug("fetched rows", "url", url, "rows", len(rows))
	return rows, nil
}

func (a *Adapter) pull(ctx context.Context, fn PullFunc, done func(Result)) {
	var (
		mu       sync.Mutex
		resolved bool
	)
	claim := func() bool {
		mu.Lock()
		defer mu.Unlock()
		if resolved {
			return false
		}
		resolved = true
		return true
	}

	resolve := func(res Result) {
		if !claim() {
			a.logger.Debug("ignoring repeated pull resolution")
			return
		}
		if res.Err != nil {
			res = Result{Err: &HandlerError{Err: res.Err}}
		}
		a.post("source.pull", func() { done(res) })
	}

	err := invoke(ctx, fn, resolve)
	if err == nil {
		return
	}
	herr := &HandlerError{Err: err}
	a.unhandled(herr)
	if claim() {
		done(Result{Err: herr})
	}
}

func invoke(ctx context.Context, fn PullFunc, resolve func(Result)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pull function panicked: %v", r)
		}
	}()
	return fn(ctx, resolve)
}

type slogLogger struct {
	l *slog.Logger
}

func (s slogLogger) Debug(msg string, keysAndValues ...any) { s.l.Debug(msg, keysAndValues...) }
func (s slogLogger) Error(msg string, keysAndValues ...any) { s.l.Error(msg, keysAndValues...) }
