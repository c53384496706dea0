// Package store keeps position history in SQLite or Postgres so a recorded
// session can be replayed later.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/OCAP2/trailmap/internal/row"
	"github.com/OCAP2/trailmap/internal/source"
)

// Position is one stored observation.
type Position struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	Session   string    `gorm:"index:idx_session_time;size:64" json:"session"`
	EntityID  string    `gorm:"index;size:128" json:"entityId"`
	Time      int64     `gorm:"index:idx_session_time" json:"time"`
	Longitude float64   `json:"longitude"`
	Latitude  float64   `json:"latitude"`
	// Props holds the full original row.
	Props datatypes.JSON `json:"props"`
}

// PostgresConfig holds connection settings for the Postgres backend.
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

// DSN renders the connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(`host=%s port=%s user=%s password=%s dbname=%s sslmode=disable`,
		c.Host, c.Port, c.Username, c.Password, c.Database)
}

// Store wraps a migrated database.
type Store struct {
	DB *gorm.DB
}

var memorySeq atomic.Uint64

// OpenSQLite opens a SQLite database at path. An empty path opens a private
// in-memory database.
func OpenSQLite(path string) (*Store, error) {
	dsn := path
	if dsn == "" {
		dsn = fmt.Sprintf("file:trailmap%d?mode=memory&cache=shared", memorySeq.Add(1))
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		PrepareStmt:            true,
		SkipDefaultTransaction: true,
		CreateBatchSize:        2000,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite DB: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = MEMORY;",
		"PRAGMA synchronous = OFF;",
		"PRAGMA cache_size = -32000;",
		"PRAGMA temp_store = MEMORY;",
	}
	for _, pragma := range pragmas {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("error setting PRAGMA: %w", err)
		}
	}

	return setup(db)
}

// OpenPostgres connects to Postgres.
func OpenPostgres(cfg PostgresConfig) (*Store, error) {
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  cfg.DSN(),
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		CreateBatchSize:        10000,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres DB: %w", err)
	}
	return setup(db)
}

func setup(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Position{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &Store{DB: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to access sql interface: %w", err)
	}
	return sqlDB.Close()
}

// Record stores every row with usable coordinates and time under session.
// It returns how many rows were stored.
func (s *Store) Record(ctx context.Context, session string, rows []row.Row) (int, error) {
	positions := make([]Position, 0, len(rows))
	for _, r := range rows {
		c, err := row.Coordinates(r)
		if err != nil {
			continue
		}
		ts, err := row.Timestamp(r)
		if err != nil {
			continue
		}
		props, err := json.Marshal(r)
		if err != nil {
			return 0, fmt.Errorf("failed to encode row: %w", err)
		}
		id, _ := row.EntityID(r)
		positions = append(positions, Position{
			Session:   session,
			EntityID:  id,
			Time:      ts,
			Longitude: c.Lng,
			Latitude:  c.Lat,
			Props:     datatypes.JSON(props),
		})
	}
	if len(positions) == 0 {
		return 0, nil
	}
	if err := s.DB.WithContext(ctx).Create(&positions).Error; err != nil {
		return 0, fmt.Errorf("failed to insert positions: %w", err)
	}
	return len(positions), nil
}

// Rows returns the session's history in time order.
func (s *Store) Rows(ctx context.Context, session string) ([]row.Row, error) {
	var positions []Position
	err := s.DB.WithContext(ctx).
		Where("session = ?", session).
		Order("time, id").
		Find(&positions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	return toRows(positions)
}

// Latest returns the most recently stored position of each entity.
func (s *Store) Latest(ctx context.Context, session string) ([]row.Row, error) {
	latest := s.DB.Model(&Position{}).
		Select("MAX(id)").
		Where("session = ?", session).
		Group("entity_id")

	var positions []Position
	err := s.DB.WithContext(ctx).
		Where("id IN (?)", latest).
		Order("entity_id").
		Find(&positions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query latest positions: %w", err)
	}
	return toRows(positions)
}

// Sessions lists recorded session names.
func (s *Store) Sessions(ctx context.Context) ([]string, error) {
	var names []string
	err := s.DB.WithContext(ctx).Model(&Position{}).
		Distinct("session").
		Order("session").
		Pluck("session", &names).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return names, nil
}

// Pull adapts a session's history to a pull input for replay.
func (s *Store) Pull(session string) source.PullFunc {
	return func(ctx context.Context, resolve func(source.Result)) error {
		go func() {
			rows, err := s.Rows(ctx, session)
			resolve(source.Result{Rows: rows, Err: err})
		}()
		return nil
	}
}

// PullLatest adapts the latest positions of a session to a pull input for
// live refresh.
func (s *Store) PullLatest(session string) source.PullFunc {
	return func(ctx context.Context, resolve func(source.Result)) error {
		go func() {
			rows, err := s.Latest(ctx, session)
			resolve(source.Result{Rows: rows, Err: err})
		}()
		return nil
	}
}

// Dump writes a point-in-time copy of a SQLite store to path.
func (s *Store) Dump(path string) error {
	if path == "" {
		return errors.New("dump path not set")
	}
	if s.DB.Dialector.Name() != "sqlite" {
		return fmt.Errorf("dump not supported for %s", s.DB.Dialector.Name())
	}

	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("error removing existing DB file: %w", err)
		}
	}

	if err := s.DB.Exec("VACUUM INTO ?;", path).Error; err != nil {
		return fmt.Errorf("error dumping DB to disk: %w", err)
	}
	return nil
}

func toRows(positions []Position) ([]row.Row, error) {
	rows := make([]row.Row, 0, len(positions))
	for _, p := range positions {
		var r row.Row
		if err := json.Unmarshal(p.Props, &r); err != nil || r == nil {
			r = row.Row{}
		}
		if p.EntityID != "" {
			r[row.IDField] = p.EntityID
		}
		r["longitude"] = p.Longitude
		r["latitude"] = p.Latitude
		r[row.TimeField] = p.Time
		rows = append(rows, r)
	}
	return rows, nil
}
