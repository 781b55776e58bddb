package playback

import (
	"context"

	"github.com/z3i0/MusicBot/internal/domain/entities"
	"github.com/z3i0/MusicBot/internal/services/notify"
)

// Connection is a joined voice connection for one guild
type Connection interface {
	ChannelID() string

	// Play streams source until it ends, ctx is cancelled, or the
	// connection drops
	Play(ctx context.Context, source string) error
	Pause()
	Resume()
	Destroy() error
}

// Transport joins and looks up voice connections
type Transport interface {
	Join(ctx context.Context, guildID, channelID string) (Connection, error)

	// Connection returns nil when the guild has no connection
	Connection(guildID string) Connection
}

// StreamLocator turns a track into something the transport can play
type StreamLocator interface {
	Locate(ctx context.Context, track entities.Track) (string, error)
}

// Persister stores session snapshots
type Persister interface {
	Save(guildID string, rec *entities.SessionRecord, immediate bool) error
	Remove(ctx context.Context, guildID string) error
}

// Prefetcher warms the cache for upcoming tracks
type Prefetcher interface {
	Submit(track entities.Track) error
}

// Publisher receives engine notifications without blocking
type Publisher interface {
	Publish(event notify.Event)
}
