package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OCAP2/trailmap/internal/config"
	"github.com/OCAP2/trailmap/internal/row"
	"github.com/OCAP2/trailmap/internal/source"
	"github.com/OCAP2/trailmap/internal/source/redissource"
	"github.com/OCAP2/trailmap/internal/store"
	"github.com/OCAP2/trailmap/pkg/trailmap"
)

// fetchOnce resolves input a single time.
func fetchOnce(ctx context.Context, adapter *source.Adapter, input trailmap.Input) ([]row.Row, error) {
	done := make(chan trailmap.Result, 1)
	adapter.Resolve(ctx, input, func(res trailmap.Result) { done <- res })
	select {
	case res := <-done:
		return res.Rows, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// repeat calls fn now and then every interval until ctx is done. A zero
// interval calls it once.
func repeat(ctx context.Context, every time.Duration, fn func(context.Context) error) error {
	for {
		if err := fn(ctx); err != nil {
			return err
		}
		if every <= 0 || !waitFor(ctx, every) {
			return nil
		}
	}
}

func runRecord(args []string) error {
	fs := commonFlags("record")
	fs.Duration("every", 0, "poll the source at this interval until interrupted")
	if err := loadConfig(fs, args, map[string]string{}); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("record needs exactly one source")
	}
	session, _ := fs.GetString("session")
	every, _ := fs.GetDuration("every")

	logs, err := setupLogging(session)
	if err != nil {
		return err
	}
	defer logs.Close()

	input, closeInput, err := openInput(fs.Arg(0))
	if err != nil {
		return err
	}
	defer closeInput()

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return repeat(ctx, every, func(ctx context.Context) error {
		return record(ctx, st, session, input)
	})
}

func record(ctx context.Context, st *store.Store, session string, input trailmap.Input) error {
	rows, err := fetchOnce(ctx, source.NewAdapter(source.WithLogger(Logger)), input)
	if err != nil {
		return err
	}
	n, err := st.Record(ctx, session, rows)
	if err != nil {
		return err
	}
	Logger.Info("recorded positions", "session", session, "rows", len(rows), "stored", n)
	return nil
}

func runPublish(args []string) error {
	fs := commonFlags("publish")
	fs.Duration("every", 0, "poll the source at this interval until interrupted")
	fs.String("key", "", "redis hash key")
	if err := loadConfig(fs, args, map[string]string{"key": "redis.key"}); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("publish needs exactly one source")
	}
	session, _ := fs.GetString("session")
	every, _ := fs.GetDuration("every")

	logs, err := setupLogging(session)
	if err != nil {
		return err
	}
	defer logs.Close()

	cfg := config.Redis()
	client := redissource.Open(cfg.Address, cfg.Password, cfg.DB)
	if client == nil {
		return fmt.Errorf("redis address is not configured")
	}
	defer client.Close()
	target := redissource.New(client, cfg.Key)

	input, closeInput, err := openInput(fs.Arg(0))
	if err != nil {
		return err
	}
	defer closeInput()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	adapter := source.NewAdapter(source.WithLogger(Logger))
	return repeat(ctx, every, func(ctx context.Context) error {
		rows, err := fetchOnce(ctx, adapter, input)
		if err != nil {
			return err
		}
		if err := target.Put(ctx, rows); err != nil {
			return err
		}
		Logger.Info("published positions", "key", cfg.Key, "rows", len(rows))
		return nil
	})
}

func runSessions(args []string) error {
	fs := commonFlags("sessions")
	if err := loadConfig(fs, args, map[string]string{}); err != nil {
		return err
	}
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	sessions, err := st.Sessions(context.Background())
	if err != nil {
		return err
	}
	for _, s := range sessions {
		fmt.Println(s)
	}
	return nil
}

func runDump(args []string) error {
	fs := commonFlags("dump")
	if err := loadConfig(fs, args, map[string]string{}); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("dump needs a target path")
	}
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	return st.Dump(fs.Arg(0))
}
