package repositories

import "context"

// SessionRepository stores encoded session records keyed by guild ID.
// Implementations replace a record atomically; a reader never observes a
// partially written value.
type SessionRepository interface {
	// Put replaces the record for a guild
	Put(ctx context.Context, guildID string, data []byte) error

	// Delete removes the record for a guild; a missing record is not an error
	Delete(ctx context.Context, guildID string) error

	// LoadAll returns every stored record, undecoded
	LoadAll(ctx context.Context) (map[string][]byte, error)

	// Close releases backend resources
	Close() error
}
