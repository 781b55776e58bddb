package persistence

import (
	"context"

	"github.com/z3i0/MusicBot/internal/database"
	"github.com/z3i0/MusicBot/internal/domain/repositories"
)

// PostgresSessionRepository stores records in the session_snapshots table,
// namespaced by bot so several bots can share one database
type PostgresSessionRepository struct {
	db  *database.SnapshotStore
	bot string
}

var _ repositories.SessionRepository = (*PostgresSessionRepository)(nil)

// NewPostgresSessionRepository creates a database-backed repository
func NewPostgresSessionRepository(db *database.SnapshotStore, bot string) *PostgresSessionRepository {
	return &PostgresSessionRepository{
		db:  db,
		bot: bot,
	}
}

func (r *PostgresSessionRepository) Put(ctx context.Context, guildID string, data []byte) error {
	return r.db.Upsert(ctx, r.bot, guildID, data)
}

func (r *PostgresSessionRepository) Delete(ctx context.Context, guildID string) error {
	return r.db.Delete(ctx, r.bot, guildID)
}

func (r *PostgresSessionRepository) LoadAll(ctx context.Context) (map[string][]byte, error) {
	return r.db.List(ctx, r.bot)
}

// Close leaves the shared pool open; its owner closes it
func (r *PostgresSessionRepository) Close() error {
	return nil
}
