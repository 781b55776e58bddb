package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	apperrors "github.com/z3i0/MusicBot/internal/errors"
	"github.com/z3i0/MusicBot/internal/services/playback"
	"github.com/z3i0/MusicBot/pkg/logger"
)

// Session is the part of a playback engine the supervisor drives
type Session interface {
	VoiceChannelID() string
	Rejoin(ctx context.Context, channelID string) error
}

// Sessions looks up live sessions
type Sessions interface {
	Lookup(guildID string) (Session, bool)
}

// SessionsFunc adapts a function to Sessions
type SessionsFunc func(guildID string) (Session, bool)

// Lookup calls f
func (f SessionsFunc) Lookup(guildID string) (Session, bool) { return f(guildID) }

// ManagerSessions exposes a playback manager's engines
func ManagerSessions(m *playback.Manager) Sessions {
	return SessionsFunc(func(guildID string) (Session, bool) {
		e, ok := m.Get(guildID)
		if !ok {
			return nil, false
		}
		return e, true
	})
}

// JoinFunc joins a guild that has no live session
type JoinFunc func(ctx context.Context, guildID, channelID string) error

// Config tunes the supervisor
type Config struct {
	Delay time.Duration
	// AutoJoin maps a guild to the channel the bot holds when it has no session
	AutoJoin map[string]string
	// RejoinsPerMinute caps rejoins across all guilds
	RejoinsPerMinute int
	JoinTimeout      time.Duration
	Clock            clock.Clock
}

// Supervisor watches the bot's own voice membership and rejoins the expected
// channel after a delay. Each guild has at most one pending rejoin.
type Supervisor struct {
	sessions Sessions
	join     JoinFunc
	cfg      Config
	limiter  *rate.Limiter
	logger   *logger.Logger

	mu      sync.Mutex
	joined  map[string]string
	pending map[string]*clock.Timer
	closed  bool
}

// New creates a supervisor. join may be nil when auto-join is unused.
func New(sessions Sessions, join JoinFunc, cfg Config, log *logger.Logger) *Supervisor {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Delay <= 0 {
		cfg.Delay = 5 * time.Second
	}
	if cfg.RejoinsPerMinute <= 0 {
		cfg.RejoinsPerMinute = 30
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = 15 * time.Second
	}

	return &Supervisor{
		sessions: sessions,
		join:     join,
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RejoinsPerMinute)), cfg.RejoinsPerMinute),
		logger:   log,
		joined:   make(map[string]string),
		pending:  make(map[string]*clock.Timer),
	}
}

// expected returns the channel the bot should be in, or ""
func (s *Supervisor) expected(guildID string) string {
	if sess, ok := s.sessions.Lookup(guildID); ok {
		if ch := sess.VoiceChannelID(); ch != "" {
			return ch
		}
	}
	return s.cfg.AutoJoin[guildID]
}

// HandleVoiceState records the bot's new channel in a guild; "" means
// disconnected
func (s *Supervisor) HandleVoiceState(guildID, channelID string) {
	expected := s.expected(guildID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	previous, known := s.joined[guildID]
	s.joined[guildID] = channelID

	log := s.logger.ForGuild(guildID).WithFields(logrus.Fields{
		"channel":  channelID,
		"expected": expected,
	})

	switch {
	case expected == "" || channelID == expected:
		s.cancelLocked(guildID)
	case channelID == "" && (!known || previous == ""):
		// never joined here, nothing to restore
	case channelID == "":
		log.Warn("🔌 Disconnected from voice, scheduling rejoin")
		s.scheduleLocked(guildID)
	default:
		log.Warn("🔀 Moved to another channel, scheduling rejoin")
		s.scheduleLocked(guildID)
	}
}

// Forget drops state for a guild the bot left on purpose
func (s *Supervisor) Forget(guildID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked(guildID)
	delete(s.joined, guildID)
}

// Pending reports whether a rejoin is scheduled for the guild
func (s *Supervisor) Pending(guildID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[guildID]
	return ok
}

// Close cancels every pending rejoin
func (s *Supervisor) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for guildID := range s.pending {
		s.cancelLocked(guildID)
	}
}

func (s *Supervisor) cancelLocked(guildID string) {
	if t, ok := s.pending[guildID]; ok {
		t.Stop()
		delete(s.pending, guildID)
	}
}

func (s *Supervisor) scheduleLocked(guildID string) {
	s.cancelLocked(guildID)

	var timer *clock.Timer
	timer = s.cfg.Clock.AfterFunc(s.cfg.Delay, func() {
		s.mu.Lock()
		if s.pending[guildID] != timer {
			s.mu.Unlock()
			return
		}
		delete(s.pending, guildID)
		s.mu.Unlock()

		s.rejoin(guildID)
	})
	s.pending[guildID] = timer
}

// rejoin runs when the delay expires. Errors are logged; the next membership
// event triggers another attempt.
func (s *Supervisor) rejoin(guildID string) {
	log := s.logger.ForGuild(guildID)
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("💥 Rejoin panicked")
		}
	}()

	expected := s.expected(guildID)

	s.mu.Lock()
	current := s.joined[guildID]
	closed := s.closed
	s.mu.Unlock()

	if closed || expected == "" || current == expected {
		return
	}
	if !s.limiter.Allow() {
		log.Warn("Rejoin rate limit reached, skipping")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JoinTimeout)
	defer cancel()

	var err error
	if sess, ok := s.sessions.Lookup(guildID); ok {
		err = sess.Rejoin(ctx, expected)
	} else if s.join != nil {
		err = s.join(ctx, guildID, expected)
	} else {
		return
	}

	entry := log.WithField("channel", expected)
	switch {
	case err == nil:
		entry.Info("✅ Rejoined voice channel")
	case apperrors.IsPermanentConnection(err):
		entry.WithError(err).Error("❌ Rejoin failed permanently")
	default:
		entry.WithError(err).Warn("Rejoin failed")
	}
}
