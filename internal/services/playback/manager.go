package playback

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	apperrors "github.com/z3i0/MusicBot/internal/errors"
	"github.com/z3i0/MusicBot/pkg/logger"
)

// Manager owns the guild to engine registry for one bot. It is the only
// cross-guild shared state; every access goes through its lock.
type Manager struct {
	cfg    Config
	deps   Deps
	logger *logger.Logger

	mu      sync.RWMutex
	engines map[string]*Engine
}

// NewManager creates an empty registry
func NewManager(cfg Config, deps Deps) *Manager {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Logger == nil {
		deps.Logger = logger.Discard()
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 5 * time.Second
	}

	return &Manager{
		cfg:     cfg,
		deps:    deps,
		logger:  deps.Logger,
		engines: make(map[string]*Engine),
	}
}

// Get returns the live engine for a guild
func (m *Manager) Get(guildID string) (*Engine, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.engines[guildID]
	return e, ok
}

// Create registers a new engine; it fails if the guild already has one
func (m *Manager) Create(guildID, voiceChannelID, textChannelID string) (*Engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.engines[guildID]; exists {
		return nil, apperrors.ErrSessionExists
	}
	e := m.newEngineLocked(guildID, voiceChannelID, textChannelID)
	return e, nil
}

// GetOrCreate returns the existing engine or registers a new one
func (m *Manager) GetOrCreate(guildID, voiceChannelID, textChannelID string) (*Engine, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, exists := m.engines[guildID]; exists {
		return e, false
	}
	return m.newEngineLocked(guildID, voiceChannelID, textChannelID), true
}

func (m *Manager) newEngineLocked(guildID, voiceChannelID, textChannelID string) *Engine {
	e := newEngine(guildID, voiceChannelID, textChannelID, m.cfg, m.deps)
	e.onClose = m.remove
	e.onCrash = func(guildID string, reason interface{}) {
		m.logger.ForGuild(guildID).WithField("panic", reason).Error("Engine crash, flushing all sessions")
		m.EmergencyFlush(m.cfg.FlushTimeout)
	}
	m.engines[guildID] = e
	m.logger.ForGuild(guildID).Debug("Session registered")
	return e
}

// remove drops the entry only if it still points at e
func (m *Manager) remove(e *Engine) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.engines[e.guildID]; ok && current == e {
		delete(m.engines, e.guildID)
		m.logger.ForGuild(e.guildID).Debug("Session unregistered")
	}
}

// Range calls fn for a snapshot of the registered engines
func (m *Manager) Range(fn func(*Engine) bool) {
	for _, e := range m.list() {
		if !fn(e) {
			return
		}
	}
}

// Len returns the number of registered engines
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.engines)
}

func (m *Manager) list() []*Engine {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Engine, 0, len(m.engines))
	for _, e := range m.engines {
		out = append(out, e)
	}
	return out
}

// Shutdown persists every engine immediately and stops them
func (m *Manager) Shutdown(ctx context.Context) error {
	engines := m.list()

	var wg sync.WaitGroup
	errs := make(chan error, len(engines))
	for _, e := range engines {
		wg.Add(1)
		go func(e *Engine) {
			defer wg.Done()
			if err := e.Close(ctx); err != nil {
				errs <- fmt.Errorf("guild %s: %w", e.guildID, err)
			}
		}(e)
	}
	wg.Wait()
	close(errs)

	var first error
	for err := range errs {
		m.logger.WithError(err).Warn("Failed to close session cleanly")
		if first == nil {
			first = err
		}
	}
	m.logger.WithField("sessions", len(engines)).Info("✅ Sessions flushed")
	return first
}

// EmergencyFlush writes the last committed state of every engine in
// immediate mode, bounded by timeout. It reads snapshots only, so it works
// even when an engine goroutine is wedged or gone.
func (m *Manager) EmergencyFlush(timeout time.Duration) {
	engines := m.list()
	done := make(chan struct{})

	go func() {
		defer close(done)
		var wg sync.WaitGroup
		for _, e := range engines {
			wg.Add(1)
			go func(e *Engine) {
				defer wg.Done()
				state := e.State()
				if err := m.deps.Store.Save(e.guildID, state.Record(), true); err != nil {
					m.logger.ForGuild(e.guildID).WithError(err).Error("Emergency flush failed")
				}
			}(e)
		}
		wg.Wait()
	}()

	select {
	case <-done:
		m.logger.WithField("sessions", len(engines)).Warn("Emergency flush completed")
	case <-time.After(timeout):
		m.logger.WithField("timeout", timeout).Error("Emergency flush timed out")
	}
}

// Recover is deferred by goroutines that touch sessions; a panic is logged
// and every session is flushed before the goroutine exits
func (m *Manager) Recover(where string) {
	if r := recover(); r != nil {
		m.logger.WithFields(map[string]interface{}{
			"where": where,
			"panic": r,
			"stack": string(debug.Stack()),
		}).Error("💥 Recovered panic")
		m.EmergencyFlush(m.cfg.FlushTimeout)
	}
}
