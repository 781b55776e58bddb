package statestore_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/z3i0/MusicBot/internal/domain/entities"
	"github.com/z3i0/MusicBot/internal/domain/valueobjects"
	"github.com/z3i0/MusicBot/internal/services/cache"
	"github.com/z3i0/MusicBot/internal/services/statestore"
	"github.com/z3i0/MusicBot/pkg/logger"
)

// memoryRepository counts writes per guild
type memoryRepository struct {
	mu      sync.Mutex
	records map[string][]byte
	puts    map[string]int
	fail    bool
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{
		records: make(map[string][]byte),
		puts:    make(map[string]int),
	}
}

func (r *memoryRepository) Put(_ context.Context, guildID string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("disk full")
	}
	r.records[guildID] = data
	r.puts[guildID]++
	return nil
}

func (r *memoryRepository) Delete(_ context.Context, guildID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, guildID)
	return nil
}

func (r *memoryRepository) LoadAll(_ context.Context) (map[string][]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string][]byte, len(r.records))
	for k, v := range r.records {
		out[k] = v
	}
	return out, nil
}

func (r *memoryRepository) Close() error { return nil }

func (r *memoryRepository) putCount(guildID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.puts[guildID]
}

func (r *memoryRepository) setFail(fail bool) {
	r.mu.Lock()
	r.fail = fail
	r.mu.Unlock()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func record(queueLen int) *entities.SessionRecord {
	rec := &entities.SessionRecord{
		VoiceChannelID: "voice",
		TextChannelID:  "text",
		Status:         valueobjects.StatusPlaying,
	}
	for i := 0; i < queueLen; i++ {
		rec.Queue = append(rec.Queue, entities.Track{ID: string(rune('a' + i)), Platform: valueobjects.PlatformYouTube})
	}
	return rec
}

func newStore(repo *memoryRepository, mock *clock.Mock, dir string) *statestore.Store {
	return statestore.New(repo, statestore.Config{
		Debounce: 2 * time.Second,
		Layout:   cache.NewLayout(dir),
		Clock:    mock,
	}, logger.Discard())
}

func TestRapidSavesCoalesce(t *testing.T) {
	repo := newMemoryRepository()
	mock := clock.NewMock()
	store := newStore(repo, mock, t.TempDir())

	for i := 1; i <= 10; i++ {
		if err := store.Save("g1", record(i), false); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		mock.Add(100 * time.Millisecond)
	}

	if n := repo.putCount("g1"); n != 0 {
		t.Fatalf("Expected no write inside the window, got %d", n)
	}

	mock.Add(2 * time.Second)
	waitFor(t, func() bool { return repo.putCount("g1") == 1 })

	records, err := store.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if got := len(records["g1"].Queue); got != 10 {
		t.Errorf("Expected final queue of 10, got %d", got)
	}

	// Shutdown flush writes exactly once more
	if err := store.Save("g1", record(10), true); err != nil {
		t.Fatalf("immediate Save failed: %v", err)
	}
	if n := repo.putCount("g1"); n != 2 {
		t.Errorf("Expected 2 writes after immediate save, got %d", n)
	}

	mock.Add(10 * time.Second)
	time.Sleep(20 * time.Millisecond)
	if n := repo.putCount("g1"); n != 2 {
		t.Errorf("Expected no further writes, got %d", n)
	}
}

func TestImmediateSaveCancelsPendingTimer(t *testing.T) {
	repo := newMemoryRepository()
	mock := clock.NewMock()
	store := newStore(repo, mock, t.TempDir())

	for i := 1; i <= 5; i++ {
		_ = store.Save("g1", record(i), false)
	}
	if err := store.Save("g1", record(6), true); err != nil {
		t.Fatalf("immediate Save failed: %v", err)
	}

	mock.Add(5 * time.Second)
	time.Sleep(20 * time.Millisecond)

	if n := repo.putCount("g1"); n != 1 {
		t.Errorf("Expected exactly 1 write, got %d", n)
	}
}

func TestGuildsAreIndependent(t *testing.T) {
	repo := newMemoryRepository()
	mock := clock.NewMock()
	store := newStore(repo, mock, t.TempDir())

	_ = store.Save("g1", record(1), false)
	_ = store.Save("g2", record(2), true)

	if repo.putCount("g2") != 1 || repo.putCount("g1") != 0 {
		t.Errorf("Unexpected writes g1=%d g2=%d", repo.putCount("g1"), repo.putCount("g2"))
	}
}

func TestFailedWriteRetriesNextCycle(t *testing.T) {
	repo := newMemoryRepository()
	repo.setFail(true)
	mock := clock.NewMock()
	store := newStore(repo, mock, t.TempDir())

	if err := store.Save("g1", record(3), true); err == nil {
		t.Fatal("Expected immediate save to report the failure")
	}

	repo.setFail(false)
	mock.Add(2 * time.Second)
	waitFor(t, func() bool { return repo.putCount("g1") == 1 })
}

func TestFlushAll(t *testing.T) {
	repo := newMemoryRepository()
	mock := clock.NewMock()
	store := newStore(repo, mock, t.TempDir())

	_ = store.Save("g1", record(1), false)
	_ = store.Save("g2", record(2), false)

	if err := store.FlushAll(context.Background()); err != nil {
		t.Fatalf("FlushAll failed: %v", err)
	}
	if repo.putCount("g1") != 1 || repo.putCount("g2") != 1 {
		t.Errorf("Expected one write each, got g1=%d g2=%d", repo.putCount("g1"), repo.putCount("g2"))
	}
}

func TestLoadAllSkipsCorruptRecords(t *testing.T) {
	repo := newMemoryRepository()
	repo.records["good"] = []byte(`{"voiceChannelId":"v","textChannelId":"t","queue":[],"status":"idle"}`)
	repo.records["bad"] = []byte(`{"voiceChannelId":`)
	repo.records["empty"] = []byte(`{}`)

	store := newStore(repo, clock.NewMock(), t.TempDir())

	records, err := store.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	if _, ok := records["good"]; !ok {
		t.Error("Expected good record to load")
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	repo := newMemoryRepository()
	store := newStore(repo, clock.NewMock(), t.TempDir())
	ctx := context.Background()

	_ = store.Save("g1", record(1), true)

	if err := store.Remove(ctx, "g1"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := store.Remove(ctx, "g1"); err != nil {
		t.Errorf("Second Remove should succeed, got %v", err)
	}
	if err := store.Remove(ctx, "never-saved"); err != nil {
		t.Errorf("Remove of unknown guild should succeed, got %v", err)
	}

	records, _ := store.LoadAll(ctx)
	if len(records) != 0 {
		t.Errorf("Expected no records, got %d", len(records))
	}
}

func TestRemoveCancelsPendingWrite(t *testing.T) {
	repo := newMemoryRepository()
	mock := clock.NewMock()
	store := newStore(repo, mock, t.TempDir())

	_ = store.Save("g1", record(1), false)
	_ = store.Remove(context.Background(), "g1")

	mock.Add(5 * time.Second)
	time.Sleep(20 * time.Millisecond)

	if n := repo.putCount("g1"); n != 0 {
		t.Errorf("Expected pending write to be dropped, got %d writes", n)
	}
}

func TestProtectedCacheFiles(t *testing.T) {
	dir := t.TempDir()
	layout := cache.NewLayout(dir)
	repo := newMemoryRepository()
	store := newStore(repo, clock.NewMock(), dir)

	current := entities.Track{ID: "cur", Platform: valueobjects.PlatformYouTube}
	queued := entities.Track{ID: "next", Platform: valueobjects.PlatformSoundCloud}
	direct := entities.Track{ID: "d1", Platform: valueobjects.PlatformDirect, StreamLocator: filepath.Join(dir, "custom.ogg")}

	_ = store.Save("g1", &entities.SessionRecord{
		VoiceChannelID: "v",
		TextChannelID:  "t",
		CurrentTrack:   &current,
		Queue:          []entities.Track{queued, direct},
		Status:         valueobjects.StatusPlaying,
	}, false)

	protected := store.ProtectedCacheFiles()

	for _, path := range []string{layout.PathFor(current), layout.PathFor(queued), filepath.Join(dir, "custom.ogg")} {
		if _, ok := protected[path]; !ok {
			t.Errorf("Expected %s to be protected", path)
		}
	}

	_ = store.Remove(context.Background(), "g1")
	if n := len(store.ProtectedCacheFiles()); n != 0 {
		t.Errorf("Expected nothing protected after remove, got %d", n)
	}
}

func TestLoadedRecordsAreProtected(t *testing.T) {
	dir := t.TempDir()
	layout := cache.NewLayout(dir)
	repo := newMemoryRepository()

	track := entities.Track{ID: "abc", Platform: valueobjects.PlatformYouTube}
	data, _ := entities.EncodeRecord(&entities.SessionRecord{
		VoiceChannelID: "v",
		TextChannelID:  "t",
		CurrentTrack:   &track,
		Status:         valueobjects.StatusPaused,
	})
	repo.records["g1"] = data

	store := newStore(repo, clock.NewMock(), dir)
	if _, err := store.LoadAll(context.Background()); err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}

	if _, ok := store.ProtectedCacheFiles()[layout.PathFor(track)]; !ok {
		t.Error("Expected track of a loaded record to be protected")
	}
}
