package database

import (
	"context"
	"fmt"
)

const healthCheck = `SELECT 1 FROM session_snapshots LIMIT 0`

const upsertSnapshot = `
INSERT INTO session_snapshots (bot, guild_id, record, updated_at)
VALUES ($1, $2, $3::jsonb, NOW())
ON CONFLICT (bot, guild_id)
DO UPDATE SET record = EXCLUDED.record, updated_at = EXCLUDED.updated_at`

const deleteSnapshot = `
DELETE FROM session_snapshots WHERE bot = $1 AND guild_id = $2`

const listSnapshots = `
SELECT guild_id, record FROM session_snapshots WHERE bot = $1`

// Upsert replaces one guild's record in a single statement
func (s *SnapshotStore) Upsert(ctx context.Context, bot, guildID string, record []byte) error {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	if _, err := s.pool.Exec(ctx, upsertSnapshot, bot, guildID, string(record)); err != nil {
		return fmt.Errorf("failed to upsert snapshot: %w", err)
	}
	return nil
}

// Delete removes one guild's record; a missing row is not an error
func (s *SnapshotStore) Delete(ctx context.Context, bot, guildID string) error {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	if _, err := s.pool.Exec(ctx, deleteSnapshot, bot, guildID); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

// List returns every record stored for a bot, keyed by guild
func (s *SnapshotStore) List(ctx context.Context, bot string) (map[string][]byte, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, listSnapshots, bot)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var guildID string
		var record []byte
		if err := rows.Scan(&guildID, &record); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		out[guildID] = record
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate snapshots: %w", err)
	}
	return out, nil
}
