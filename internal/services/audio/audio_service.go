package audio

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"

	apperrors "github.com/z3i0/MusicBot/internal/errors"
	"github.com/z3i0/MusicBot/internal/services/playback"
	"github.com/z3i0/MusicBot/pkg/logger"
)

var (
	// ErrNotReady is returned when the voice handshake does not finish in time
	ErrNotReady = errors.New("voice connection not ready")
	// ErrMissingPermission is returned when the bot cannot connect or speak
	ErrMissingPermission = errors.New("missing voice permissions")

	errNoSession = errors.New("no gateway session")
)

// TransportConfig tunes voice connections
type TransportConfig struct {
	// ReadyTimeout bounds the voice handshake when ctx has no deadline
	ReadyTimeout time.Duration
	// DropTimeout is how long a link may stay unready mid-track
	DropTimeout time.Duration
	Clock       clock.Clock
}

// Transport manages one voice connection per guild for a bot session
type Transport struct {
	session *discordgo.Session
	encoder *Encoder
	cfg     TransportConfig
	logger  *logger.Logger

	mu    sync.Mutex
	conns map[string]*Connection
}

// NewTransport creates a transport over a gateway session
func NewTransport(session *discordgo.Session, encoder *Encoder, cfg TransportConfig, log *logger.Logger) *Transport {
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 10 * time.Second
	}
	if cfg.DropTimeout <= 0 {
		cfg.DropTimeout = 10 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Transport{
		session: session,
		encoder: encoder,
		cfg:     cfg,
		logger:  log,
		conns:   make(map[string]*Connection),
	}
}

var _ playback.Transport = (*Transport)(nil)

// Connection returns the guild's live connection, or nil
func (t *Transport) Connection(guildID string) playback.Connection {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.conns[guildID]; ok {
		return c
	}
	return nil
}

// VoiceStateChanged records where Discord says the bot now is. A move or a
// kick leaves the link open on the wrong channel, so Join must not treat it
// as already connected to the one it was given.
func (t *Transport) VoiceStateChanged(guildID, channelID string) {
	t.mu.Lock()
	c := t.conns[guildID]
	t.mu.Unlock()
	if c == nil {
		return
	}
	if prev := c.ChannelID(); prev != channelID {
		c.logger.WithFields(logrus.Fields{
			"from": prev,
			"to":   channelID,
		}).Debug("Voice channel changed")
		c.setChannel(channelID)
	}
}

// Join connects to a voice channel. Joining the channel the guild is already
// in returns the existing connection; joining another one moves the bot.
func (t *Transport) Join(ctx context.Context, guildID, channelID string) (playback.Connection, error) {
	log := t.logger.ForGuild(guildID).WithField("channel", channelID)

	t.mu.Lock()
	existing := t.conns[guildID]
	t.mu.Unlock()

	if existing != nil {
		if existing.ChannelID() == channelID && !existing.isDestroyed() {
			log.Debug("Already connected to this channel")
			return existing, nil
		}
		log.Info("Disconnecting from current channel to move")
		if err := existing.Destroy(); err != nil {
			log.WithError(err).Warn("Failed to disconnect before moving")
		}
	}

	if t.session == nil {
		return nil, t.connErr(guildID, channelID, apperrors.Transient, errNoSession)
	}
	if err := t.checkPermissions(channelID); err != nil {
		return nil, t.connErr(guildID, channelID, apperrors.Permanent, err)
	}

	log.Info("Connecting to voice channel...")
	vc, err := t.session.ChannelVoiceJoin(guildID, channelID, false, true)
	if err != nil {
		log.WithError(err).Error("Failed to join voice channel")
		return nil, t.connErr(guildID, channelID, classifyJoin(err), err)
	}

	if err := t.waitReady(ctx, vc); err != nil {
		vc.Disconnect()
		return nil, t.connErr(guildID, channelID, apperrors.Transient, err)
	}

	c := t.attach(guildID, channelID, discordLink{vc: vc}, log)
	log.Info("✅ Successfully connected to voice channel")
	return c, nil
}

// attach registers a ready link as the guild's connection
func (t *Transport) attach(guildID, channelID string, link voiceLink, log *logrus.Entry) *Connection {
	p := newPlayer(link.OpusSend(), link.Ready, link.Speaking, t.cfg.Clock, t.cfg.DropTimeout)
	c := newConnection(guildID, channelID, link, t.encoder, p, log, t.detach)

	t.mu.Lock()
	t.conns[guildID] = c
	t.mu.Unlock()
	return c
}

// detach forgets c unless it has already been replaced
func (t *Transport) detach(c *Connection) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conns[c.guildID] == c {
		delete(t.conns, c.guildID)
	}
}

func (t *Transport) waitReady(ctx context.Context, vc *discordgo.VoiceConnection) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.ReadyTimeout)
		defer cancel()
	}

	ticker := t.cfg.Clock.Ticker(100 * time.Millisecond)
	defer ticker.Stop()

	for !vc.Ready {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrNotReady, ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

// checkPermissions uses the state cache; without one the join itself decides
func (t *Transport) checkPermissions(channelID string) error {
	if t.session.State == nil || t.session.State.User == nil {
		return nil
	}
	perms, err := t.session.State.UserChannelPermissions(t.session.State.User.ID, channelID)
	if err != nil {
		if errors.Is(err, discordgo.ErrStateNotFound) {
			return nil
		}
		return err
	}

	const need = discordgo.PermissionVoiceConnect | discordgo.PermissionVoiceSpeak
	if perms&need != need {
		return fmt.Errorf("%w in channel %s", ErrMissingPermission, channelID)
	}
	return nil
}

// Guilds lists guilds with a live connection
func (t *Transport) Guilds() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.conns))
	for id := range t.conns {
		ids = append(ids, id)
	}
	return ids
}

// Close disconnects every guild
func (t *Transport) Close() {
	t.mu.Lock()
	conns := make([]*Connection, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.Unlock()

	t.logger.WithField("connections", len(conns)).Info("Cleaning up voice connections...")
	for _, c := range conns {
		if err := c.Destroy(); err != nil {
			t.logger.ForGuild(c.guildID).WithError(err).Warn("Failed to disconnect voice")
		}
	}
}

func (t *Transport) connErr(guildID, channelID string, kind apperrors.ConnectionKind, err error) error {
	return &apperrors.ConnectionError{Kind: kind, TenantID: guildID, ChannelID: channelID, Err: err}
}

// classifyJoin treats missing or forbidden channels as permanent
func classifyJoin(err error) apperrors.ConnectionKind {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		switch restErr.Response.StatusCode {
		case http.StatusNotFound, http.StatusForbidden:
			return apperrors.Permanent
		}
	}
	return apperrors.Transient
}

// discordLink adapts a discordgo voice connection
type discordLink struct {
	vc *discordgo.VoiceConnection
}

func (l discordLink) OpusSend() chan<- []byte { return l.vc.OpusSend }
func (l discordLink) Ready() bool             { return l.vc.Ready }
func (l discordLink) Speaking(b bool) error   { return l.vc.Speaking(b) }
func (l discordLink) Disconnect() error       { return l.vc.Disconnect() }
