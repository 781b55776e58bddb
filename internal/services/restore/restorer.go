package restore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/z3i0/MusicBot/internal/domain/entities"
	"github.com/z3i0/MusicBot/internal/domain/valueobjects"
	apperrors "github.com/z3i0/MusicBot/internal/errors"
	"github.com/z3i0/MusicBot/internal/services/playback"
	"github.com/z3i0/MusicBot/internal/utils"
	"github.com/z3i0/MusicBot/pkg/logger"
)

// ChannelKind is the subset of channel types restore cares about
type ChannelKind int

const (
	KindOther ChannelKind = iota
	KindVoice
	KindText
)

func (k ChannelKind) String() string {
	switch k {
	case KindVoice:
		return "voice"
	case KindText:
		return "text"
	}
	return "other"
}

// ChannelInfo describes a gateway channel
type ChannelInfo struct {
	ID      string
	GuildID string
	Kind    ChannelKind
}

// Gateway looks up guilds and channels. Missing objects are reported as
// ErrGuildNotFound or ErrChannelNotFound.
type Gateway interface {
	Guild(ctx context.Context, guildID string) error
	Channel(ctx context.Context, channelID string) (ChannelInfo, error)
}

// Store is the part of the state store restore needs
type Store interface {
	LoadAll(ctx context.Context) (map[string]*entities.SessionRecord, error)
	Remove(ctx context.Context, guildID string) error
}

// Registry creates engines
type Registry interface {
	Create(guildID, voiceChannelID, textChannelID string) (*playback.Engine, error)
}

// Config tunes restore
type Config struct {
	Attempts    int
	Backoff     time.Duration
	Concurrency int
	Clock       clock.Clock
}

// Report summarizes one restore run
type Report struct {
	Restored  []string
	Discarded map[string]error
	Skipped   map[string]error
}

// Restorer rebuilds sessions from persisted records at startup
type Restorer struct {
	store    Store
	gateway  Gateway
	registry Registry
	cfg      Config
	logger   *logger.Logger
}

// New creates a restorer
func New(store Store, gateway Gateway, registry Registry, cfg Config, log *logger.Logger) *Restorer {
	if cfg.Attempts < 1 {
		cfg.Attempts = 3
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 4
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Restorer{store: store, gateway: gateway, registry: registry, cfg: cfg, logger: log}
}

// Run restores every persisted session and returns once all of them are
// settled. A failing guild never affects the others.
func (r *Restorer) Run(ctx context.Context) (Report, error) {
	report := Report{Discarded: map[string]error{}, Skipped: map[string]error{}}

	records, err := r.store.LoadAll(ctx)
	if err != nil {
		return report, err
	}
	if len(records) == 0 {
		r.logger.Info("No sessions to restore")
		return report, nil
	}

	r.logger.WithField("sessions", len(records)).Info("♻️ Restoring sessions...")

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(r.cfg.Concurrency)

	for guildID, rec := range records {
		guildID, rec := guildID, rec
		g.Go(func() error {
			err := r.restoreOne(ctx, guildID, rec)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				report.Restored = append(report.Restored, guildID)
			case errors.Is(err, apperrors.ErrSessionExists):
				report.Skipped[guildID] = err
			default:
				report.Discarded[guildID] = err
			}
			return nil
		})
	}
	_ = g.Wait()

	r.logger.WithFields(logrus.Fields{
		"restored":  len(report.Restored),
		"discarded": len(report.Discarded),
		"skipped":   len(report.Skipped),
	}).Info("✅ Session restore finished")
	return report, nil
}

func (r *Restorer) restoreOne(ctx context.Context, guildID string, rec *entities.SessionRecord) (err error) {
	log := r.logger.ForGuild(guildID)

	defer func() {
		if p := recover(); p != nil {
			err = &apperrors.RestoreError{TenantID: guildID, Stage: "panic", Err: fmt.Errorf("%v", p)}
		}
		if err == nil || errors.Is(err, apperrors.ErrSessionExists) {
			return
		}
		log.WithError(err).Warn("Discarding session that could not be restored")
		if rmErr := r.store.Remove(ctx, guildID); rmErr != nil {
			log.WithError(rmErr).Error("Failed to discard session record")
		}
	}()

	if err := r.lookup(ctx, func(ctx context.Context) error { return r.gateway.Guild(ctx, guildID) }); err != nil {
		return &apperrors.RestoreError{TenantID: guildID, Stage: "guild", Err: err}
	}
	if err := r.expectChannel(ctx, guildID, rec.VoiceChannelID, KindVoice); err != nil {
		return &apperrors.RestoreError{TenantID: guildID, Stage: "voice channel", Err: err}
	}
	if err := r.expectChannel(ctx, guildID, rec.TextChannelID, KindText); err != nil {
		return &apperrors.RestoreError{TenantID: guildID, Stage: "text channel", Err: err}
	}

	engine, err := r.registry.Create(guildID, rec.VoiceChannelID, rec.TextChannelID)
	if err != nil {
		if errors.Is(err, apperrors.ErrSessionExists) {
			log.Warn("Session already live, keeping it")
		}
		return &apperrors.RestoreError{TenantID: guildID, Stage: "register", Err: err}
	}

	if err := r.start(ctx, engine, rec); err != nil {
		// Leave also removes the record
		if leaveErr := engine.Leave(ctx); leaveErr != nil {
			log.WithError(leaveErr).Warn("Failed to tear down partially restored session")
		}
		return err
	}

	log.WithFields(logrus.Fields{
		"status": rec.Status,
		"queue":  len(rec.Tracks()),
	}).Info("✅ Session restored")
	return nil
}

// start loads the record into the engine. Sessions that do not start a track
// by themselves still rejoin so they hold their channel.
func (r *Restorer) start(ctx context.Context, engine *playback.Engine, rec *entities.SessionRecord) error {
	if err := engine.Restore(ctx, rec); err != nil {
		return &apperrors.RestoreError{TenantID: engine.GuildID(), Stage: "restore", Err: err}
	}

	switch engine.State().Status {
	case valueobjects.StatusResolving, valueobjects.StatusPlaying:
		return nil
	}
	if err := engine.Rejoin(ctx, ""); err != nil {
		return &apperrors.RestoreError{TenantID: engine.GuildID(), Stage: "join", Err: err}
	}
	return nil
}

func (r *Restorer) expectChannel(ctx context.Context, guildID, channelID string, kind ChannelKind) error {
	if channelID == "" {
		return apperrors.ErrChannelNotFound
	}

	var info ChannelInfo
	err := r.lookup(ctx, func(ctx context.Context) error {
		var err error
		info, err = r.gateway.Channel(ctx, channelID)
		return err
	})
	if err != nil {
		return err
	}

	if info.GuildID != "" && info.GuildID != guildID {
		return fmt.Errorf("%w: channel %s belongs to guild %s", apperrors.ErrInvalidChannel, channelID, info.GuildID)
	}
	if info.Kind != kind {
		return fmt.Errorf("%w: channel %s is %s, expected %s", apperrors.ErrInvalidChannel, channelID, info.Kind, kind)
	}
	return nil
}

// lookup retries gateway calls a bounded number of times; a freshly
// connected gateway may not have every object cached yet
func (r *Restorer) lookup(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := utils.Attempts{Max: r.cfg.Attempts, Delay: r.cfg.Backoff, Clock: r.cfg.Clock}
	return attempts.Do(ctx, retryableLookup, func(ctx context.Context, _ int) error {
		return fn(ctx)
	})
}

func retryableLookup(err error) bool {
	return !errors.Is(err, apperrors.ErrInvalidChannel) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}
