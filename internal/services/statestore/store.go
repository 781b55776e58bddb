package statestore

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/z3i0/MusicBot/internal/domain/entities"
	"github.com/z3i0/MusicBot/internal/domain/repositories"
	apperrors "github.com/z3i0/MusicBot/internal/errors"
	"github.com/z3i0/MusicBot/internal/services/cache"
	"github.com/z3i0/MusicBot/pkg/logger"
)

const writeTimeout = 10 * time.Second

// Config for the store
type Config struct {
	Debounce time.Duration
	Layout   cache.Layout
	Clock    clock.Clock
}

// Store persists per-guild session records with debounced writes.
// Writes for one guild are totally ordered; different guilds never share a lock
// beyond the brief slot lookup.
type Store struct {
	repo     repositories.SessionRepository
	debounce time.Duration
	layout   cache.Layout
	clock    clock.Clock
	logger   *logger.Logger

	mu    sync.Mutex
	slots map[string]*slot
}

// slot is the pending snapshot plus its timer handle for one guild
type slot struct {
	writeMu sync.Mutex // held for the whole read-pending-then-write sequence

	mu      sync.Mutex
	pending *entities.SessionRecord
	latest  *entities.SessionRecord
	timer   *clock.Timer
}

// New creates a store over a repository
func New(repo repositories.SessionRepository, cfg Config, log *logger.Logger) *Store {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	return &Store{
		repo:     repo,
		debounce: cfg.Debounce,
		layout:   cfg.Layout,
		clock:    cfg.Clock,
		logger:   log,
		slots:    make(map[string]*slot),
	}
}

func (s *Store) slot(guildID string) *slot {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl, ok := s.slots[guildID]
	if !ok {
		sl = &slot{}
		s.slots[guildID] = sl
	}
	return sl
}

// Save records the latest snapshot. Without immediate, the write happens once
// the debounce window passes with no newer save; with immediate, the timer is
// cancelled and the snapshot is written before Save returns.
func (s *Store) Save(guildID string, rec *entities.SessionRecord, immediate bool) error {
	sl := s.slot(guildID)

	sl.mu.Lock()
	sl.pending = rec
	sl.latest = rec

	if immediate || s.debounce <= 0 {
		if sl.timer != nil {
			sl.timer.Stop()
			sl.timer = nil
		}
		sl.mu.Unlock()
		return s.flush(context.Background(), guildID, sl)
	}

	if sl.timer != nil {
		sl.timer.Stop()
	}
	s.arm(guildID, sl)
	sl.mu.Unlock()
	return nil
}

// arm starts a debounce timer; sl.mu must be held
func (s *Store) arm(guildID string, sl *slot) {
	var t *clock.Timer
	t = s.clock.AfterFunc(s.debounce, func() {
		sl.mu.Lock()
		if sl.timer == t {
			sl.timer = nil
		}
		sl.mu.Unlock()
		_ = s.flush(context.Background(), guildID, sl)
	})
	sl.timer = t
}

// flush writes whatever is pending; a failed write stays pending and is
// retried on the next debounce cycle
func (s *Store) flush(ctx context.Context, guildID string, sl *slot) error {
	sl.writeMu.Lock()
	defer sl.writeMu.Unlock()

	sl.mu.Lock()
	rec := sl.pending
	sl.pending = nil
	sl.mu.Unlock()

	if rec == nil {
		return nil
	}

	err := s.write(ctx, guildID, rec)
	if err == nil {
		return nil
	}

	s.logger.ForGuild(guildID).WithError(err).Warn("Failed to persist session, will retry")

	sl.mu.Lock()
	if sl.pending == nil {
		sl.pending = rec
	}
	if sl.timer == nil && s.debounce > 0 {
		s.arm(guildID, sl)
	}
	sl.mu.Unlock()
	return err
}

func (s *Store) write(ctx context.Context, guildID string, rec *entities.SessionRecord) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, writeTimeout)
		defer cancel()
	}

	data, err := entities.EncodeRecord(rec)
	if err != nil {
		return &apperrors.PersistenceError{TenantID: guildID, Op: "encode", Err: err}
	}
	if err := s.repo.Put(ctx, guildID, data); err != nil {
		return &apperrors.PersistenceError{TenantID: guildID, Op: "put", Err: err}
	}
	return nil
}

// FlushAll writes every pending snapshot now
func (s *Store) FlushAll(ctx context.Context) error {
	s.mu.Lock()
	slots := make(map[string]*slot, len(s.slots))
	for id, sl := range s.slots {
		slots[id] = sl
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	errs := make(chan error, len(slots))
	for guildID, sl := range slots {
		sl.mu.Lock()
		if sl.timer != nil {
			sl.timer.Stop()
			sl.timer = nil
		}
		sl.mu.Unlock()

		wg.Add(1)
		go func(guildID string, sl *slot) {
			defer wg.Done()
			if err := s.flush(ctx, guildID, sl); err != nil {
				errs <- err
			}
		}(guildID, sl)
	}
	wg.Wait()
	close(errs)

	return <-errs
}

// Remove deletes a guild's record; removing a missing record is not an error
func (s *Store) Remove(ctx context.Context, guildID string) error {
	sl := s.slot(guildID)

	sl.writeMu.Lock()
	defer sl.writeMu.Unlock()

	sl.mu.Lock()
	if sl.timer != nil {
		sl.timer.Stop()
		sl.timer = nil
	}
	sl.pending = nil
	sl.latest = nil
	sl.mu.Unlock()

	if err := s.repo.Delete(ctx, guildID); err != nil {
		return &apperrors.PersistenceError{TenantID: guildID, Op: "delete", Err: err}
	}
	return nil
}

// LoadAll reads every stored record. Corrupt records are logged and skipped.
// Loaded records count as pending restoration for ProtectedCacheFiles until
// they are saved over or removed.
func (s *Store) LoadAll(ctx context.Context) (map[string]*entities.SessionRecord, error) {
	raw, err := s.repo.LoadAll(ctx)
	if err != nil {
		return nil, &apperrors.PersistenceError{Op: "load", Err: err}
	}

	records := make(map[string]*entities.SessionRecord, len(raw))
	for guildID, data := range raw {
		rec, err := entities.DecodeRecord(data)
		if err != nil {
			s.logger.ForGuild(guildID).WithError(err).Warn("Skipping corrupt session record")
			continue
		}
		records[guildID] = rec

		sl := s.slot(guildID)
		sl.mu.Lock()
		if sl.latest == nil {
			sl.latest = rec
		}
		sl.mu.Unlock()
	}

	return records, nil
}

// ProtectedCacheFiles returns every cache path referenced by the latest
// snapshot of each registered or restoring session. It reads only the
// store's own snapshots and never waits on a write or an engine.
func (s *Store) ProtectedCacheFiles() map[string]struct{} {
	s.mu.Lock()
	slots := make([]*slot, 0, len(s.slots))
	for _, sl := range s.slots {
		slots = append(slots, sl)
	}
	s.mu.Unlock()

	protected := make(map[string]struct{})
	for _, sl := range slots {
		sl.mu.Lock()
		rec := sl.latest
		sl.mu.Unlock()

		for _, path := range s.layout.ReferencedPaths(rec) {
			protected[path] = struct{}{}
		}
	}
	return protected
}

// Close flushes pending writes and closes the repository
func (s *Store) Close(ctx context.Context) error {
	flushErr := s.FlushAll(ctx)
	if err := s.repo.Close(); err != nil {
		return err
	}
	return flushErr
}
