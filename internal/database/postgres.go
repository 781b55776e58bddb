// Package database keeps session records in PostgreSQL.
package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"

	"github.com/z3i0/MusicBot/pkg/logger"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Options sizes the pool and bounds every round trip
type Options struct {
	URL      string
	MaxConns int
	// Timeout applies to the initial connect and to each statement
	Timeout time.Duration
}

// SnapshotStore holds one row per bot and guild in session_snapshots. The
// pool is shared by every bot in the process.
type SnapshotStore struct {
	pool    *pgxpool.Pool
	timeout time.Duration
	logger  *logrus.Entry
}

// Open connects, migrates the snapshot table and checks it is readable
func Open(ctx context.Context, opts Options, log *logger.Logger) (*SnapshotStore, error) {
	if opts.URL == "" {
		return nil, errors.New("database URL is empty")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}

	poolCfg, err := pgxpool.ParseConfig(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	if opts.MaxConns > 0 {
		poolCfg.MaxConns = int32(opts.MaxConns)
	}
	// writes are debounced per guild, so the pool rarely needs more than one warm conn
	poolCfg.MinConns = 1
	poolCfg.ConnConfig.ConnectTimeout = opts.Timeout

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	s := &SnapshotStore{
		pool:    pool,
		timeout: opts.Timeout,
		logger: log.WithFields(logrus.Fields{
			"host":      poolCfg.ConnConfig.Host,
			"database":  poolCfg.ConnConfig.Database,
			"max_conns": poolCfg.MaxConns,
		}),
	}

	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := s.Health(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	s.logger.Info("✅ Session snapshot table ready")
	return s, nil
}

// migrate applies pending migrations through a database/sql view of the pool
func (s *SnapshotStore) migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}

	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	for _, r := range results {
		s.logger.WithFields(logrus.Fields{
			"version":  r.Source.Version,
			"duration": r.Duration,
		}).Info("Applied migration")
	}
	return nil
}

// Health confirms the server answers and the snapshot table exists
func (s *SnapshotStore) Health(ctx context.Context) error {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	if _, err := s.pool.Exec(ctx, healthCheck); err != nil {
		return fmt.Errorf("snapshot table unavailable: %w", err)
	}
	return nil
}

// Close releases the pool
func (s *SnapshotStore) Close() {
	s.pool.Close()
	s.logger.Info("Database connection closed")
}

func (s *SnapshotStore) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}
