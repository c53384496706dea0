package main

import (
	"fmt"
	"strings"

	"github.com/OCAP2/trailmap/internal/config"
	"github.com/OCAP2/trailmap/internal/source"
	"github.com/OCAP2/trailmap/internal/source/gtfsrt"
	"github.com/OCAP2/trailmap/internal/source/redissource"
	"github.com/OCAP2/trailmap/pkg/trailmap"
)

// Source prefixes.
const (
	gtfsrtPrefix = "gtfsrt:"
	redisPrefix  = "redis:"
	storePrefix  = "store:"
)

// openInput turns a source argument into a map input. The returned close
// function releases any connection the input holds.
func openInput(spec string) (trailmap.Input, func() error, error) {
	noop := func() error { return nil }

	switch {
	case spec == "":
		return nil, noop, fmt.Errorf("no source given")

	case strings.HasPrefix(spec, gtfsrtPrefix):
		url := strings.TrimPrefix(spec, gtfsrtPrefix)
		if url == "" {
			return nil, noop, fmt.Errorf("gtfsrt source needs a feed url")
		}
		return gtfsrt.New(url).Pull(), noop, nil

	case strings.HasPrefix(spec, redisPrefix):
		cfg := config.Redis()
		key := strings.TrimPrefix(spec, redisPrefix)
		if key == "" {
			key = cfg.Key
		}
		client := redissource.Open(cfg.Address, cfg.Password, cfg.DB)
		if client == nil {
			return nil, noop, fmt.Errorf("redis address is not configured")
		}
		return redissource.New(client, key).Pull(), client.Close, nil

	case strings.HasPrefix(spec, storePrefix):
		session, latest := strings.CutSuffix(strings.TrimPrefix(spec, storePrefix), ":latest")
		if session == "" {
			return nil, noop, fmt.Errorf("store source needs a session")
		}
		st, err := openStore()
		if err != nil {
			return nil, noop, err
		}
		if latest {
			return st.PullLatest(session), st.Close, nil
		}
		return st.Pull(session), st.Close, nil

	case strings.HasPrefix(spec, "http://"), strings.HasPrefix(spec, "https://"):
		return trailmap.URL(spec), noop, nil

	default:
		rows, err := source.LoadFile(spec)
		if err != nil {
			return nil, noop, err
		}
		return rows, noop, nil
	}
}
