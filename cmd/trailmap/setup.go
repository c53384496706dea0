package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/OCAP2/trailmap/internal/config"
	"github.com/OCAP2/trailmap/internal/logging"
	"github.com/OCAP2/trailmap/internal/store"
	"github.com/OCAP2/trailmap/internal/telemetry"
)

// commonFlags are accepted by every command.
func commonFlags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("config", ".", "directory containing "+config.FileName)
	fs.String("log-level", "", "log level (debug, info, warn, error)")
	fs.String("logs-dir", "", "write logs to a file in this directory instead of stderr")
	fs.String("session", "default", "recording session name")
	return fs
}

// loadConfig parses args, loads the config file and binds the flags over it.
func loadConfig(fs *pflag.FlagSet, args []string, bindings map[string]string) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	dir, _ := fs.GetString("config")
	if err := config.Load(dir); err != nil {
		return err
	}

	bindings["log-level"] = "logLevel"
	bindings["logs-dir"] = "logsDir"
	for flag, key := range bindings {
		if f := fs.Lookup(flag); f != nil && f.Changed {
			if err := viper.BindPFlag(key, f); err != nil {
				return fmt.Errorf("failed to bind flag %s: %w", flag, err)
			}
		}
	}
	return nil
}

// setupLogging builds the process logger. Stdout is reserved for command
// output, so logs go to stderr unless a logs directory is configured.
func setupLogging(session string) (*logging.SlogManager, error) {
	var out io.Writer = os.Stderr
	if dir := config.GetString("logsDir"); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create logs dir: %w", err)
		}
		path := logging.LogFilePath(dir, appName, sessionStart)
		f, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = f
	}

	opts := logging.Options{
		Context: func() []slog.Attr {
			return []slog.Attr{slog.String("session", session)}
		},
	}
	if config.GetBool("graylog.enabled") {
		w, err := logging.DialGraylog(config.GetString("graylog.address"), appName)
		if err != nil {
			fmt.Fprintln(os.Stderr, "graylog unavailable:", err)
		} else {
			opts.Graylog = w
		}
	}

	manager := logging.NewSlogManager()
	manager.Setup(out, config.GetString("logLevel"), opts)
	Logger = manager.Logger()
	Logger.Debug("starting", "version", CurrentVersion, "build", BuildDate)
	return manager, nil
}

// openStore opens the configured recording database.
func openStore() (*store.Store, error) {
	cfg := config.Store()
	switch cfg.Type {
	case "postgres":
		return store.OpenPostgres(config.Postgres())
	case "sqlite", "":
		return store.OpenSQLite(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}
}

// openTelemetry connects the influx frame sink when enabled. A nil sink means
// telemetry is off.
func openTelemetry(ctx context.Context) *telemetry.Sink {
	cfg := config.Influx()
	if !cfg.Enabled {
		return nil
	}
	log := zerolog.New(os.Stderr).With().Timestamp().Str("component", "telemetry").Logger()
	sink := telemetry.New(cfg, log)
	if err := sink.Connect(ctx); err != nil {
		Logger.Warn("telemetry unavailable", "error", err)
		return nil
	}
	return sink
}
