package cache

import (
	"context"
	"errors"
	"os"
	"sync"

	"github.com/z3i0/MusicBot/internal/domain/entities"
	"github.com/z3i0/MusicBot/pkg/logger"
)

var (
	// ErrPrefetcherStopped is returned when the prefetcher is stopped
	ErrPrefetcherStopped = errors.New("prefetcher stopped")
	// ErrPrefetchQueueFull is returned when the queue is full
	ErrPrefetchQueueFull = errors.New("prefetch queue is full")
)

// Downloader writes a track's audio to dest as Ogg Opus
type Downloader interface {
	Download(ctx context.Context, source, dest string) error
}

// Locator maps a track to a downloadable source
type Locator interface {
	Locate(ctx context.Context, track entities.Track) (string, error)
}

// PrefetchStats tracks download statistics
type PrefetchStats struct {
	Downloaded int64
	Skipped    int64
	Failed     int64
	Pending    int64
}

// Prefetcher downloads upcoming tracks into the cache with a worker pool
type Prefetcher struct {
	layout     Layout
	downloader Downloader
	locator    Locator
	logger     *logger.Logger
	queue      chan entities.Track
	workers    int
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	mu         sync.RWMutex
	inflight   map[string]bool
	partials   map[string]struct{}
	stats      PrefetchStats
}

// NewPrefetcher creates a prefetcher; call Start to run workers
func NewPrefetcher(layout Layout, downloader Downloader, workers, queueSize int, log *logger.Logger) *Prefetcher {
	ctx, cancel := context.WithCancel(context.Background())
	if workers < 1 {
		workers = 1
	}

	return &Prefetcher{
		layout:     layout,
		downloader: downloader,
		logger:     log,
		queue:      make(chan entities.Track, queueSize),
		workers:    workers,
		ctx:        ctx,
		cancel:     cancel,
		inflight:   make(map[string]bool),
		partials:   make(map[string]struct{}),
	}
}

// WithLocator makes workers resolve each track's source before downloading,
// for platforms whose page URL is not itself playable
func (p *Prefetcher) WithLocator(l Locator) *Prefetcher {
	p.locator = l
	return p
}

// Start starts the worker pool
func (p *Prefetcher) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.WithField("workers", p.workers).Debug("Prefetcher started")
}

// Stop cancels in-flight downloads and waits for workers
func (p *Prefetcher) Stop() {
	p.cancel()
	p.wg.Wait()
	p.logger.Debug("Prefetcher stopped")
}

// Submit queues a track for download; already cached tracks are skipped
func (p *Prefetcher) Submit(track entities.Track) error {
	if track.ID == "" || track.URL == "" {
		return nil
	}
	if _, ok := p.layout.Cached(track); ok {
		p.count(func(s *PrefetchStats) { s.Skipped++ })
		return nil
	}

	key := track.Key()
	p.mu.Lock()
	if p.inflight[key] {
		p.mu.Unlock()
		return nil
	}
	p.inflight[key] = true
	p.mu.Unlock()

	select {
	case <-p.ctx.Done():
		p.release(key)
		return ErrPrefetcherStopped
	default:
	}

	select {
	case p.queue <- track:
		p.count(func(s *PrefetchStats) { s.Pending++ })
		return nil
	default:
		p.release(key)
		p.logger.WithFields(map[string]interface{}{
			"track":      key,
			"queue_size": len(p.queue),
		}).Warn("Prefetch queue is full, skipping track")
		return ErrPrefetchQueueFull
	}
}

// Stats returns download statistics
func (p *Prefetcher) Stats() PrefetchStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stats
}

func (p *Prefetcher) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case track := <-p.queue:
			p.fetch(track, id)
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *Prefetcher) fetch(track entities.Track, workerID int) {
	key := track.Key()
	defer func() {
		p.release(key)
		p.count(func(s *PrefetchStats) { s.Pending-- })
	}()

	if _, ok := p.layout.Cached(track); ok {
		p.count(func(s *PrefetchStats) { s.Skipped++ })
		return
	}

	dest := p.layout.PathFor(track)
	tmp := dest + ".part"

	p.mu.Lock()
	p.partials[tmp] = struct{}{}
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.partials, tmp)
		p.mu.Unlock()
	}()

	source := track.URL
	var err error
	if p.locator != nil {
		source, err = p.locator.Locate(p.ctx, track)
	}
	if err == nil {
		err = p.downloader.Download(p.ctx, source, tmp)
	}
	if err == nil {
		err = os.Rename(tmp, dest)
	}
	if err != nil {
		os.Remove(tmp)
		p.logger.WithError(err).WithFields(map[string]interface{}{
			"worker_id": workerID,
			"track":     key,
		}).Warn("Prefetch failed")
		p.count(func(s *PrefetchStats) { s.Failed++ })
		return
	}

	p.logger.WithFields(map[string]interface{}{
		"worker_id": workerID,
		"track":     key,
	}).Debug("Track cached")
	p.count(func(s *PrefetchStats) { s.Downloaded++ })
}

// ProtectedCacheFiles reports the partial files workers are writing
func (p *Prefetcher) ProtectedCacheFiles() map[string]struct{} {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]struct{}, len(p.partials))
	for path := range p.partials {
		out[path] = struct{}{}
	}
	return out
}

func (p *Prefetcher) release(key string) {
	p.mu.Lock()
	delete(p.inflight, key)
	p.mu.Unlock()
}

func (p *Prefetcher) count(update func(*PrefetchStats)) {
	p.mu.Lock()
	update(&p.stats)
	p.mu.Unlock()
}
