// Package store owns the event database: scoped write batches for ingestion
// and read-side aggregates for the dashboard.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	apperrors "github.com/tracklet/tracklet/internal/errors"
	"github.com/tracklet/tracklet/internal/platform/logger"
)

// TimeLayout is the text format used for timestamps the collector generates.
const TimeLayout = "2006-01-02T15:04:05.000000"

// Config configures the underlying SQLite pools.
type Config struct {
	Path         string
	BusyTimeout  time.Duration
	ReadPoolSize int
}

// Store is the SQLite-backed event store.
//
// Writes go through a single connection so batches are serialized; every
// batch runs inside one BEGIN IMMEDIATE transaction. Reads use a separate
// query-only pool and see the last committed state through WAL.
type Store struct {
	db     *sqlx.DB // Write connection (single writer)
	readDB *sqlx.DB // Read connection pool
	path   string
	log    *logger.Logger
}

// Open opens (creating if needed) the database file at cfg.Path.
// It does not create the schema; see schema.Initialize.
func Open(ctx context.Context, cfg Config, log *logger.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, apperrors.NewStorageError(apperrors.CodeOpenFailed, "database path is required", nil)
	}
	if cfg.ReadPoolSize < 1 {
		cfg.ReadPoolSize = 1
	}
	if log == nil {
		log = logger.Nop()
	}
	busyMs := cfg.BusyTimeout.Milliseconds()

	db, err := sqlx.Open("sqlite3", fmt.Sprintf(
		"file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=%d&_txlock=immediate", cfg.Path, busyMs))
	if err != nil {
		return nil, apperrors.NewStorageError(apperrors.CodeOpenFailed, "open write pool", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, apperrors.NewStorageError(apperrors.CodeOpenFailed, "ping write pool", err)
	}

	readDB, err := sqlx.Open("sqlite3", fmt.Sprintf(
		"file:%s?_foreign_keys=on&_busy_timeout=%d&_query_only=1", cfg.Path, busyMs))
	if err != nil {
		db.Close()
		return nil, apperrors.NewStorageError(apperrors.CodeOpenFailed, "open read pool", err)
	}
	readDB.SetMaxOpenConns(cfg.ReadPoolSize)
	readDB.SetMaxIdleConns(cfg.ReadPoolSize)
	readDB.SetConnMaxLifetime(5 * time.Minute)

	if err := readDB.PingContext(pingCtx); err != nil {
		readDB.Close()
		db.Close()
		return nil, apperrors.NewStorageError(apperrors.CodeOpenFailed, "ping read pool", err)
	}

	log.Debug("Event store opened", "path", cfg.Path, "read_pool_size", cfg.ReadPoolSize)
	return &Store{db: db, readDB: readDB, path: cfg.Path, log: log}, nil
}

// DB returns the write pool. Used by the schema manager and tests.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes both pools.
func (s *Store) Close() error {
	readErr := s.readDB.Close()
	if err := s.db.Close(); err != nil {
		return err
	}
	return readErr
}

// Snapshot writes a transactionally consistent copy of the database to dest,
// which must not already exist.
func (s *Store) Snapshot(ctx context.Context, dest string) error {
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, dest); err != nil {
		return apperrors.NewStorageError(apperrors.CodeSnapshotFailed, "vacuum into "+dest, err)
	}
	return nil
}

// classify maps driver errors onto the application error categories.
func classify(op string, code string, err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch {
		case sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey:
			return apperrors.NewReferentialError(op, err)
		case sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked:
			return apperrors.NewStorageError(apperrors.CodeBusy, op, err)
		}
	}
	return apperrors.NewStorageError(code, op, err)
}
