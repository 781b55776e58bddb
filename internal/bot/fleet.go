package bot

import (
	"context"
	"fmt"
	"sync"

	"github.com/z3i0/MusicBot/internal/config"
	"github.com/z3i0/MusicBot/pkg/logger"
)

// Fleet runs every configured bot identity in one process
type Fleet struct {
	logger   *logger.Logger
	backends *Backends
	bots     []*MusicBot
}

// NewFleet opens the shared state backend and builds one bot per identity
func NewFleet(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Fleet, error) {
	backends, err := OpenBackends(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	f := &Fleet{logger: log, backends: backends}
	for _, botCfg := range cfg.Bots {
		repo, err := backends.Repository(botCfg.Name)
		if err != nil {
			backends.Close()
			return nil, fmt.Errorf("bot %s: %w", botCfg.Name, err)
		}

		b, err := New(cfg, botCfg, repo, log.Named(botCfg.Name))
		if err != nil {
			_ = repo.Close()
			backends.Close()
			return nil, fmt.Errorf("bot %s: %w", botCfg.Name, err)
		}
		f.bots = append(f.bots, b)
	}

	return f, nil
}

// Bots returns the fleet's bots
func (f *Fleet) Bots() []*MusicBot {
	return f.bots
}

// Start opens every bot. Bots that already started are stopped again when a
// later one fails.
func (f *Fleet) Start(ctx context.Context) error {
	for i, b := range f.bots {
		if err := b.Start(ctx); err != nil {
			for _, started := range f.bots[:i+1] {
				started.Stop(ctx)
			}
			f.backends.Close()
			return fmt.Errorf("bot %s: %w", b.Name(), err)
		}
	}
	return nil
}

// Stop shuts every bot down in parallel, then closes the shared backend
func (f *Fleet) Stop(ctx context.Context) {
	var wg sync.WaitGroup
	for _, b := range f.bots {
		wg.Add(1)
		go func(b *MusicBot) {
			defer wg.Done()
			b.Stop(ctx)
		}(b)
	}
	wg.Wait()

	f.backends.Close()
}

// EmergencyFlush persists every session of every bot
func (f *Fleet) EmergencyFlush() {
	var wg sync.WaitGroup
	for _, b := range f.bots {
		wg.Add(1)
		go func(b *MusicBot) {
			defer wg.Done()
			b.EmergencyFlush()
		}(b)
	}
	wg.Wait()
}
