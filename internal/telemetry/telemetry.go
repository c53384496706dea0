// Package telemetry records per-frame statistics to InfluxDB, falling back to
// a gzipped line-protocol file when the server is unreachable.
package telemetry

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/rs/zerolog"
)

// Measurement is the line-protocol measurement name for frame points.
const Measurement = "map_frame"

// Config holds InfluxDB connection settings.
type Config struct {
	Enabled    bool   `mapstructure:"enabled"`
	Protocol   string `mapstructure:"protocol"`
	Host       string `mapstructure:"host"`
	Port       string `mapstructure:"port"`
	Token      string `mapstructure:"token"`
	Org        string `mapstructure:"org"`
	Bucket     string `mapstructure:"bucket"`
	BackupPath string `mapstructure:"backupPath"`
}

// Frame describes one rendered frame of a map.
type Frame struct {
	MapID  string
	Mode   string
	Index  int
	Rows   int
	Points int
	Trails int
	At     time.Time
}

// Point converts a frame to an InfluxDB point.
func (f Frame) Point() *influxdb2_write.Point {
	at := f.At
	if at.IsZero() {
		at = time.Now()
	}
	return influxdb2.NewPoint(
		Measurement,
		map[string]string{"map": f.MapID, "mode": f.Mode},
		map[string]any{
			"index":  f.Index,
			"rows":   f.Rows,
			"points": f.Points,
			"trails": f.Trails,
		},
		at,
	)
}

// Sink writes frame points.
type Sink struct {
	cfg    Config
	Logger zerolog.Logger

	mu         sync.Mutex
	client     influxdb2.Client
	writer     influxdb2_api.WriteAPI
	backupFile *os.File
	backup     *gzip.Writer
	valid      bool
}

// New creates an unconnected sink.
func New(cfg Config, log zerolog.Logger) *Sink {
	return &Sink{cfg: cfg, Logger: log}
}

// Connect pings the server and prepares the bucket, or opens the backup file
// if the server cannot be reached.
func (s *Sink) Connect(ctx context.Context) error {
	if !s.cfg.Enabled {
		return errors.New("influx telemetry is disabled")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.client = influxdb2.NewClientWithOptions(
		fmt.Sprintf("%s://%s:%s", s.cfg.Protocol, s.cfg.Host, s.cfg.Port),
		s.cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(500).
			SetFlushInterval(1000),
	)

	running, err := s.client.Ping(ctx)
	if err != nil || !running {
		s.valid = false
		if s.cfg.BackupPath == "" {
			return fmt.Errorf("influxdb unreachable and no backup path configured: %w", err)
		}
		if s.backup == nil {
			s.Logger.Info().Str("backupPath", s.cfg.BackupPath).
				Msg("Failed to reach InfluxDB, writing to backup file")
			file, err := os.OpenFile(s.cfg.BackupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
			if err != nil {
				return fmt.Errorf("error creating backup file: %w", err)
			}
			s.backupFile = file
			s.backup = gzip.NewWriter(file)
		}
		return nil
	}

	if err := s.ensureBucket(ctx); err != nil {
		return err
	}
	s.writer = s.client.WriteAPI(s.cfg.Org, s.cfg.Bucket)
	go func(errorsCh <-chan error) {
		for writeErr := range errorsCh {
			s.Logger.Error().Err(writeErr).Str("bucket", s.cfg.Bucket).
				Msg("Error sending data to InfluxDB")
		}
	}(s.writer.Errors())
	s.valid = true
	s.Logger.Info().Str("bucket", s.cfg.Bucket).Msg("InfluxDB client initialized")
	return nil
}

func (s *Sink) ensureBucket(ctx context.Context) error {
	org, err := s.client.OrganizationsAPI().FindOrganizationByName(ctx, s.cfg.Org)
	if err != nil {
		s.Logger.Info().Str("org", s.cfg.Org).Msg("Organization not found, creating")
		org, err = s.client.OrganizationsAPI().CreateOrganizationWithName(ctx, s.cfg.Org)
		if err != nil {
			return fmt.Errorf("error creating organization: %w", err)
		}
	}

	if _, err := s.client.BucketsAPI().FindBucketByName(ctx, s.cfg.Bucket); err != nil {
		s.Logger.Info().Str("bucket", s.cfg.Bucket).Msg("Bucket not found, creating")
		rule := domain.RetentionRuleTypeExpire
		_, err = s.client.BucketsAPI().CreateBucketWithName(ctx, org, s.cfg.Bucket, domain.RetentionRule{
			Type:         &rule,
			EverySeconds: 60 * 60 * 24 * 30,
		})
		if err != nil {
			return fmt.Errorf("error creating bucket: %w", err)
		}
	}
	return nil
}

// Valid reports whether points go to a live server.
func (s *Sink) Valid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.valid
}

// ObserveFrame writes one frame point. Errors are logged, never returned,
// so a broken sink cannot stall rendering.
func (s *Sink) ObserveFrame(f Frame) {
	if err := s.WritePoint(f.Point()); err != nil {
		s.Logger.Error().Err(err).Str("map", f.MapID).Msg("Error writing frame telemetry")
	}
}

// WritePoint writes to InfluxDB or the backup file.
func (s *Sink) WritePoint(point *influxdb2_write.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.valid {
		s.writer.WritePoint(point)
		return nil
	}
	if s.backup == nil {
		return errors.New("influxDB client not initialized and backup writer not available")
	}

	lineProtocol := influxdb2_write.PointToLineProtocol(point, time.Nanosecond)
	if _, err := s.backup.Write([]byte(lineProtocol + "\n")); err != nil {
		return fmt.Errorf("error writing to InfluxDB backup file: %w", err)
	}
	return nil
}

// Close flushes pending points and releases the client and backup file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writer != nil {
		s.writer.Flush()
	}
	if s.client != nil {
		s.client.Close()
		s.client = nil
	}
	s.valid = false

	var errs []error
	if s.backup != nil {
		errs = append(errs, s.backup.Close())
		s.backup = nil
	}
	if s.backupFile != nil {
		errs = append(errs, s.backupFile.Close())
		s.backupFile = nil
	}
	return errors.Join(errs...)
}
