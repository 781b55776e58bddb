package cache_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/z3i0/MusicBot/internal/domain/entities"
	"github.com/z3i0/MusicBot/internal/domain/valueobjects"
	"github.com/z3i0/MusicBot/internal/services/cache"
	"github.com/z3i0/MusicBot/pkg/logger"
)

type staticProtected map[string]struct{}

func (s staticProtected) ProtectedCacheFiles() map[string]struct{} { return s }

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("OggS"), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestSweepKeepsReferencedFiles(t *testing.T) {
	dir := t.TempDir()
	layout := cache.NewLayout(dir)

	a := filepath.Join(layout.Dir(), "a.audio")
	b := filepath.Join(layout.Dir(), "b.audio")
	writeFile(t, a)
	writeFile(t, b)

	current := entities.Track{ID: "a", Platform: valueobjects.PlatformDirect, StreamLocator: a}
	rec := &entities.SessionRecord{VoiceChannelID: "v", TextChannelID: "t", CurrentTrack: &current}

	protected := staticProtected{}
	for _, p := range layout.ReferencedPaths(rec) {
		protected[p] = struct{}{}
	}

	janitor := cache.NewJanitor(layout, protected, logger.Discard())
	result, err := janitor.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	if _, err := os.Stat(a); err != nil {
		t.Errorf("a.audio should be preserved: %v", err)
	}
	if _, err := os.Stat(b); !os.IsNotExist(err) {
		t.Errorf("b.audio should be deleted, stat err = %v", err)
	}
	if result.Deleted != 1 || result.Kept != 1 || result.Failed != 0 {
		t.Errorf("Unexpected result %+v", result)
	}
}

func TestSweepCreatesMissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "missing", "bot")
	janitor := cache.NewJanitor(cache.NewLayout(dir), staticProtected{}, logger.Discard())

	result, err := janitor.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if result != (cache.SweepResult{}) {
		t.Errorf("Expected empty result, got %+v", result)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Errorf("Expected directory to be created: %v", err)
	}
}

func TestSweepSkipsSubdirectories(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "other-bot"), 0755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(dir, "other-bot", "x.ogg"))

	janitor := cache.NewJanitor(cache.NewLayout(dir), staticProtected{}, logger.Discard())
	if _, err := janitor.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "other-bot", "x.ogg")); err != nil {
		t.Errorf("Nested files must not be touched: %v", err)
	}
}

func TestFileName(t *testing.T) {
	tests := []struct {
		track    entities.Track
		expected string
	}{
		{entities.Track{ID: "dQw4w9WgXcQ", Platform: valueobjects.PlatformYouTube}, "youtube-dQw4w9WgXcQ.ogg"},
		{entities.Track{ID: "artist/song name", Platform: valueobjects.PlatformSoundCloud}, "soundcloud-artist_song_name.ogg"},
		{entities.Track{ID: "../../etc", Platform: valueobjects.PlatformDirect}, "direct-______etc.ogg"},
		{entities.Track{ID: "x"}, "unknown-x.ogg"},
	}

	for _, tt := range tests {
		if got := cache.FileName(tt.track); got != tt.expected {
			t.Errorf("FileName(%q) = %q, expected %q", tt.track.ID, got, tt.expected)
		}
	}
}

func TestLayoutContains(t *testing.T) {
	dir := t.TempDir()
	layout := cache.NewLayout(dir)

	if !layout.Contains(filepath.Join(dir, "a.ogg")) {
		t.Error("Expected file in directory to be contained")
	}
	if layout.Contains(filepath.Join(dir, "sub", "a.ogg")) {
		t.Error("Nested path should not be contained")
	}
	if layout.Contains("https://example.com/a.ogg") {
		t.Error("URL should not be contained")
	}
}

type fakeDownloader struct {
	mu    sync.Mutex
	calls []string
	fail  bool
}

func (d *fakeDownloader) Download(_ context.Context, source, dest string) error {
	d.mu.Lock()
	d.calls = append(d.calls, source)
	fail := d.fail
	d.mu.Unlock()
	if fail {
		return errors.New("yt-dlp exited with status 1")
	}
	return os.WriteFile(dest, []byte("OggS"), 0644)
}

func (d *fakeDownloader) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func waitForStats(t *testing.T, p *cache.Prefetcher, cond func(cache.PrefetchStats) bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond(p.Stats()) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("stats condition not met: %+v", p.Stats())
}

func TestPrefetcherDownloadsOnce(t *testing.T) {
	layout := cache.NewLayout(t.TempDir())
	downloader := &fakeDownloader{}
	p := cache.NewPrefetcher(layout, downloader, 2, 10, logger.Discard())
	p.Start()
	defer p.Stop()

	track := entities.Track{ID: "abc", Platform: valueobjects.PlatformYouTube, URL: "https://youtu.be/abc"}
	if err := p.Submit(track); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitForStats(t, p, func(s cache.PrefetchStats) bool { return s.Downloaded == 1 })

	if path, ok := layout.Cached(track); !ok || path != layout.PathFor(track) {
		t.Errorf("Expected cached file at %s", layout.PathFor(track))
	}

	// Second submit finds the file and skips
	if err := p.Submit(track); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if downloader.callCount() != 1 {
		t.Errorf("Expected 1 download, got %d", downloader.callCount())
	}
}

func TestPrefetcherFailureLeavesNoPartial(t *testing.T) {
	layout := cache.NewLayout(t.TempDir())
	downloader := &fakeDownloader{fail: true}
	p := cache.NewPrefetcher(layout, downloader, 1, 10, logger.Discard())
	p.Start()
	defer p.Stop()

	track := entities.Track{ID: "bad", Platform: valueobjects.PlatformYouTube, URL: "https://youtu.be/bad"}
	_ = p.Submit(track)
	waitForStats(t, p, func(s cache.PrefetchStats) bool { return s.Failed == 1 })

	entries, _ := os.ReadDir(layout.Dir())
	if len(entries) != 0 {
		t.Errorf("Expected empty cache dir, found %d entries", len(entries))
	}
}

func TestPrefetcherStopped(t *testing.T) {
	p := cache.NewPrefetcher(cache.NewLayout(t.TempDir()), &fakeDownloader{}, 1, 1, logger.Discard())
	p.Start()
	p.Stop()

	err := p.Submit(entities.Track{ID: "x", Platform: valueobjects.PlatformYouTube, URL: "https://youtu.be/x"})
	if !errors.Is(err, cache.ErrPrefetcherStopped) {
		t.Errorf("Expected ErrPrefetcherStopped, got %v", err)
	}
}

type locatorFunc func(context.Context, entities.Track) (string, error)

func (f locatorFunc) Locate(ctx context.Context, t entities.Track) (string, error) { return f(ctx, t) }

func TestPrefetcherUsesLocator(t *testing.T) {
	layout := cache.NewLayout(t.TempDir())
	downloader := &fakeDownloader{}
	p := cache.NewPrefetcher(layout, downloader, 1, 10, logger.Discard()).
		WithLocator(locatorFunc(func(_ context.Context, track entities.Track) (string, error) {
			return "https://youtu.be/matched-" + track.ID, nil
		}))
	p.Start()
	defer p.Stop()

	track := entities.Track{ID: "sp1", Platform: valueobjects.PlatformSpotify, URL: "https://open.spotify.com/track/sp1"}
	if err := p.Submit(track); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitForStats(t, p, func(s cache.PrefetchStats) bool { return s.Downloaded == 1 })

	downloader.mu.Lock()
	defer downloader.mu.Unlock()
	if len(downloader.calls) != 1 || downloader.calls[0] != "https://youtu.be/matched-sp1" {
		t.Errorf("Expected located source to be downloaded, got %v", downloader.calls)
	}
}

type blockingDownloader struct {
	started chan string
	release chan struct{}
}

func (d *blockingDownloader) Download(ctx context.Context, _, dest string) error {
	if err := os.WriteFile(dest, []byte("Ogg"), 0644); err != nil {
		return err
	}
	d.started <- dest
	select {
	case <-d.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestSweepSparesInFlightDownloads(t *testing.T) {
	dir := t.TempDir()
	layout := cache.NewLayout(dir)
	downloader := &blockingDownloader{started: make(chan string, 1), release: make(chan struct{})}
	p := cache.NewPrefetcher(layout, downloader, 1, 10, logger.Discard())
	p.Start()
	defer p.Stop()

	track := entities.Track{ID: "slow", Platform: valueobjects.PlatformYouTube, URL: "https://youtu.be/slow"}
	if err := p.Submit(track); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	partial := <-downloader.started

	stale := filepath.Join(dir, "youtube-stale.ogg")
	writeFile(t, stale)

	janitor := cache.NewJanitor(layout, cache.Union{staticProtected{}, p}, logger.Discard())
	result, err := janitor.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if result.Deleted != 1 || result.Kept != 1 {
		t.Errorf("Expected 1 deleted and 1 kept, got %+v", result)
	}
	if _, err := os.Stat(partial); err != nil {
		t.Errorf("In-flight download was removed: %v", err)
	}

	close(downloader.release)
	waitForStats(t, p, func(s cache.PrefetchStats) bool { return s.Downloaded == 1 })
	if _, ok := layout.Cached(track); !ok {
		t.Error("Expected finished download in cache")
	}
}
