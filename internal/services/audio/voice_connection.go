package audio

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	apperrors "github.com/z3i0/MusicBot/internal/errors"
)

// voiceLink is the slice of a discordgo voice connection used for playback
type voiceLink interface {
	OpusSend() chan<- []byte
	Ready() bool
	Speaking(bool) error
	Disconnect() error
}

// Connection is one guild's voice connection
type Connection struct {
	guildID   string
	channelID string
	link      voiceLink
	encoder   streamOpener
	player    *player
	logger    *logrus.Entry
	onClose   func(*Connection)

	playMu sync.Mutex // one Play at a time

	mu        sync.Mutex
	closed    chan struct{}
	destroyed bool
}

type streamOpener interface {
	Open(ctx context.Context, source string) (PacketStream, error)
}

func newConnection(guildID, channelID string, link voiceLink, encoder streamOpener, p *player, log *logrus.Entry, onClose func(*Connection)) *Connection {
	return &Connection{
		guildID:   guildID,
		channelID: channelID,
		link:      link,
		encoder:   encoder,
		player:    p,
		logger:    log,
		onClose:   onClose,
		closed:    make(chan struct{}),
	}
}

// ChannelID returns the voice channel Discord last reported the bot in
func (c *Connection) ChannelID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channelID
}

func (c *Connection) setChannel(channelID string) {
	c.mu.Lock()
	c.channelID = channelID
	c.mu.Unlock()
}

// GuildID returns the guild this connection belongs to
func (c *Connection) GuildID() string {
	return c.guildID
}

// Play streams source until it ends, ctx is cancelled, or the link drops.
// A drop is reported as a transient ConnectionError and the connection is
// torn down so the next join starts fresh.
func (c *Connection) Play(ctx context.Context, source string) error {
	c.playMu.Lock()
	defer c.playMu.Unlock()

	if c.isDestroyed() {
		return c.connErr(apperrors.Transient, errDropped)
	}

	stream, err := c.encoder.Open(ctx, source)
	if err != nil {
		return err
	}
	defer stream.Close()

	c.logger.Info("📻 Streaming audio to Discord...")
	frames, err := c.player.play(ctx, stream, c.closed)

	entry := c.logger.WithField("frames", frames)
	switch {
	case err == nil:
		entry.Info("✅ Playback completed")
		return nil
	case ctx.Err() != nil:
		entry.Debug("⏹️ Playback stopped")
		return ctx.Err()
	case err == errDropped:
		entry.Warn("Voice link dropped during playback")
		if derr := c.Destroy(); derr != nil {
			entry.WithError(derr).Debug("Disconnect after drop failed")
		}
		return c.connErr(apperrors.Transient, err)
	default:
		entry.WithError(err).Warn("Playback failed")
		return err
	}
}

// Pause holds playback at the current frame
func (c *Connection) Pause() {
	if c.player.isPaused() {
		return
	}
	c.logger.Info("⏸️ Pausing playback...")
	c.player.pause()
	if err := c.link.Speaking(false); err != nil {
		c.logger.WithError(err).Warn("Failed to update speaking status on pause")
	}
}

// Resume continues a paused stream
func (c *Connection) Resume() {
	if !c.player.isPaused() {
		return
	}
	c.logger.Info("▶️ Resuming playback...")
	c.player.resume()
	if err := c.link.Speaking(true); err != nil {
		c.logger.WithError(err).Warn("Failed to update speaking status on resume")
	}
}

// Destroy disconnects from the channel; it is safe to call more than once
func (c *Connection) Destroy() error {
	if !c.release() {
		return nil
	}
	c.logger.Info("Disconnecting from voice channel...")
	if err := c.link.Disconnect(); err != nil {
		c.logger.WithError(err).Error("Failed to disconnect")
		return err
	}
	c.logger.Info("✅ Disconnected from voice channel")
	return nil
}

// release marks the connection dead and detaches it from the transport.
// It reports whether this call did the release.
func (c *Connection) release() bool {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return false
	}
	c.destroyed = true
	close(c.closed)
	c.mu.Unlock()

	// a paused pump must not stay blocked
	c.player.resume()
	if c.onClose != nil {
		c.onClose(c)
	}
	return true
}

func (c *Connection) isDestroyed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed
}

func (c *Connection) connErr(kind apperrors.ConnectionKind, err error) error {
	return &apperrors.ConnectionError{
		Kind:      kind,
		TenantID:  c.guildID,
		ChannelID: c.ChannelID(),
		Err:       err,
	}
}
