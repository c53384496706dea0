// Package redissource reads the latest position of every entity from a Redis
// hash. Each hash field is an entity id and each value a JSON-encoded row.
package redissource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/OCAP2/trailmap/internal/row"
	"github.com/OCAP2/trailmap/internal/source"
)

// DefaultKey is the hash read when none is configured.
const DefaultKey = "trailmap:positions"

// Client is the subset of *redis.Client the source uses.
type Client interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
}

// Open connects to addr. An empty addr returns nil.
func Open(addr, pass string, db int) *redis.Client {
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{Addr: addr, Password: pass, DB: db})
}

// Source reads and writes one positions hash.
type Source struct {
	client Client
	key    string
}

// New creates a source over key. An empty key uses DefaultKey.
func New(client Client, key string) *Source {
	if key == "" {
		key = DefaultKey
	}
	return &Source{client: client, key: key}
}

// Latest returns one row per hash field, ordered by entity id. Values that
// are not JSON objects are skipped.
func (s *Source) Latest(ctx context.Context) ([]row.Row, error) {
	m, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.key, err)
	}

	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	rows := make([]row.Row, 0, len(ids))
	for _, id := range ids {
		var r row.Row
		dec := json.NewDecoder(bytes.NewReader([]byte(m[id])))
		dec.UseNumber()
		if err := dec.Decode(&r); err != nil || r == nil {
			continue
		}
		if _, ok := r[row.IDField]; !ok {
			r[row.IDField] = id
		}
		rows = append(rows, r)
	}
	return rows, nil
}

// Put stores the latest row of each entity in the batch. Rows without an id
// are ignored.
func (s *Source) Put(ctx context.Context, rows []row.Row) error {
	var values []any
	for _, r := range rows {
		id, ok := row.EntityID(r)
		if !ok {
			continue
		}
		b, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to encode row %s: %w", id, err)
		}
		values = append(values, id, string(b))
	}
	if len(values) == 0 {
		return nil
	}
	if err := s.client.HSet(ctx, s.key, values...).Err(); err != nil {
		return fmt.Errorf("failed to write %s: %w", s.key, err)
	}
	return nil
}

// Pull adapts the source to a pull input.
func (s *Source) Pull() source.PullFunc {
	return func(ctx context.Context, resolve func(source.Result)) error {
		go func() {
			rows, err := s.Latest(ctx)
			resolve(source.Result{Rows: rows, Err: err})
		}()
		return nil
	}
}
