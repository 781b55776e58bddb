package bot

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/redis/go-redis/v9"

	"github.com/z3i0/MusicBot/internal/config"
	"github.com/z3i0/MusicBot/internal/database"
	"github.com/z3i0/MusicBot/internal/domain/repositories"
	"github.com/z3i0/MusicBot/internal/infrastructure/persistence"
	"github.com/z3i0/MusicBot/pkg/logger"
)

// Backends holds the state connections shared by every bot in the process.
// Each bot gets its own namespace on top of them.
type Backends struct {
	cfg   *config.Config
	db    *database.SnapshotStore
	redis *redis.Client
}

// OpenBackends connects to the configured state backend
func OpenBackends(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Backends, error) {
	b := &Backends{cfg: cfg}

	switch cfg.StateBackend {
	case config.BackendPostgres:
		db, err := database.Open(ctx, database.Options{
			URL:      cfg.DatabaseURL,
			MaxConns: cfg.DBMaxConns,
			Timeout:  cfg.DBTimeout,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to open session database: %w", err)
		}
		b.db = db
		log.Info("Using PostgreSQL for session state")

	case config.BackendRedis:
		client, err := persistence.NewRedisClient(ctx, persistence.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		b.redis = client
		log.WithField("addr", cfg.RedisAddr).Info("Using Redis for session state")

	default:
		log.WithField("dir", cfg.StateDir).Info("Using file-based session state")
	}

	return b, nil
}

// Repository returns the session repository namespaced to one bot
func (b *Backends) Repository(botName string) (repositories.SessionRepository, error) {
	switch {
	case b.db != nil:
		return persistence.NewPostgresSessionRepository(b.db, botName), nil
	case b.redis != nil:
		return persistence.NewRedisSessionRepository(b.redis, botName), nil
	}

	repo, err := persistence.NewFileSessionRepository(filepath.Join(b.cfg.StateDir, botName))
	if err != nil {
		return nil, fmt.Errorf("failed to open state directory: %w", err)
	}
	return repo, nil
}

// Close releases the shared connections
func (b *Backends) Close() {
	if b.db != nil {
		b.db.Close()
	}
	if b.redis != nil {
		_ = b.redis.Close()
	}
}
