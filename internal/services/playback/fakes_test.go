package playback_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/z3i0/MusicBot/internal/domain/entities"
	"github.com/z3i0/MusicBot/internal/domain/valueobjects"
	apperrors "github.com/z3i0/MusicBot/internal/errors"
	"github.com/z3i0/MusicBot/internal/services/notify"
	"github.com/z3i0/MusicBot/internal/services/playback"
)

type fakeConn struct {
	mu        sync.Mutex
	channel   string
	sources   []string
	paused    bool
	destroyed bool
	end       chan error
	onDestroy func()
}

func (c *fakeConn) ChannelID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channel
}

func (c *fakeConn) Play(ctx context.Context, source string) error {
	c.mu.Lock()
	c.sources = append(c.sources, source)
	c.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-c.end:
		return err
	}
}

func (c *fakeConn) Pause() {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
}

func (c *fakeConn) Resume() {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
}

func (c *fakeConn) Destroy() error {
	c.mu.Lock()
	c.destroyed = true
	c.mu.Unlock()
	if c.onDestroy != nil {
		c.onDestroy()
	}
	return nil
}

// drop marks the link dead and fails whatever is playing on it
func (c *fakeConn) drop(guildID string) {
	c.mu.Lock()
	c.destroyed = true
	c.mu.Unlock()
	go func() {
		select {
		case c.end <- &apperrors.ConnectionError{Kind: apperrors.Transient, TenantID: guildID, Err: errors.New("voice link closed")}:
		case <-time.After(time.Second):
		}
	}()
}

// moveTo simulates the bot being dragged into another channel
func (f *fakeTransport) moveTo(guildID, channelID string) {
	if conn := f.conn(guildID); conn != nil {
		conn.mu.Lock()
		conn.channel = channelID
		conn.mu.Unlock()
	}
}

func (c *fakeConn) played() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sources...)
}

// finish ends the track that is currently playing
func (c *fakeConn) finish(t *testing.T, err error) {
	t.Helper()
	select {
	case c.end <- err:
	case <-time.After(2 * time.Second):
		t.Fatal("nothing was playing")
	}
}

type fakeTransport struct {
	mu      sync.Mutex
	conns   map[string]*fakeConn
	joinErr error
	joins   int
	// replaceOnMove makes a join to another channel tear the old link down
	// the way a real voice connection does
	replaceOnMove bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{conns: make(map[string]*fakeConn)}
}

func (f *fakeTransport) Join(_ context.Context, guildID, channelID string) (playback.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.joins++
	if f.joinErr != nil {
		return nil, f.joinErr
	}

	conn, ok := f.conns[guildID]
	if ok && f.replaceOnMove && conn.ChannelID() != channelID {
		delete(f.conns, guildID)
		conn.drop(guildID)
		ok = false
	}
	if !ok {
		conn = &fakeConn{end: make(chan error)}
		conn.onDestroy = func() {
			f.mu.Lock()
			delete(f.conns, guildID)
			f.mu.Unlock()
		}
		f.conns[guildID] = conn
	}
	conn.mu.Lock()
	conn.channel = channelID
	conn.mu.Unlock()
	return conn, nil
}

func (f *fakeTransport) Connection(guildID string) playback.Connection {
	f.mu.Lock()
	defer f.mu.Unlock()
	if conn, ok := f.conns[guildID]; ok {
		return conn
	}
	return nil
}

func (f *fakeTransport) conn(guildID string) *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[guildID]
}

func (f *fakeTransport) setJoinErr(err error) {
	f.mu.Lock()
	f.joinErr = err
	f.mu.Unlock()
}

// fakeStreams fails a track key a set number of times; -1 fails forever
type fakeStreams struct {
	mu       sync.Mutex
	failures map[string]int
	calls    map[string]int
	gate     map[string]chan struct{}
}

func newFakeStreams() *fakeStreams {
	return &fakeStreams{
		failures: make(map[string]int),
		calls:    make(map[string]int),
		gate:     make(map[string]chan struct{}),
	}
}

func (f *fakeStreams) Locate(ctx context.Context, track entities.Track) (string, error) {
	key := track.Key()

	f.mu.Lock()
	f.calls[key]++
	gate := f.gate[key]
	remaining := f.failures[key]
	if remaining > 0 {
		f.failures[key] = remaining - 1
	}
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if remaining != 0 {
		return "", errors.New("signature extraction failed")
	}
	return "stream:" + track.ID, nil
}

func (f *fakeStreams) callCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

type saveCall struct {
	rec       *entities.SessionRecord
	immediate bool
}

type fakeStore struct {
	mu      sync.Mutex
	saves   map[string][]saveCall
	removed map[string]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{saves: make(map[string][]saveCall), removed: make(map[string]int)}
}

func (s *fakeStore) Save(guildID string, rec *entities.SessionRecord, immediate bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves[guildID] = append(s.saves[guildID], saveCall{rec: rec, immediate: immediate})
	return nil
}

func (s *fakeStore) Remove(_ context.Context, guildID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed[guildID]++
	delete(s.saves, guildID)
	return nil
}

func (s *fakeStore) last(guildID string) *entities.SessionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	calls := s.saves[guildID]
	if len(calls) == 0 {
		return nil
	}
	return calls[len(calls)-1].rec
}

func (s *fakeStore) savedImmediately(guildID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, call := range s.saves[guildID] {
		if call.immediate {
			return true
		}
	}
	return false
}

func (s *fakeStore) removedCount(guildID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removed[guildID]
}

type fakePublisher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (p *fakePublisher) Publish(event notify.Event) {
	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()
}

func (p *fakePublisher) count(kind notify.EventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, ev := range p.events {
		if ev.Type == kind {
			n++
		}
	}
	return n
}

type fakePrefetcher struct {
	mu     sync.Mutex
	tracks []string
	err    error
}

func (p *fakePrefetcher) Submit(track entities.Track) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracks = append(p.tracks, track.Key())
	return p.err
}

func (p *fakePrefetcher) submitted() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.tracks...)
}

func track(id string) entities.Track {
	return entities.Track{
		ID:       id,
		Platform: valueobjects.PlatformYouTube,
		URL:      "https://www.youtube.com/watch?v=" + id,
		Title:    "Song " + id,
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func queueIDs(state entities.PlaybackState) []string {
	ids := make([]string, 0, len(state.Queue))
	for _, t := range state.Queue {
		ids = append(ids, t.ID)
	}
	return ids
}

// checkInvariants asserts the structural rules every committed state obeys
func checkInvariants(t *testing.T, state entities.PlaybackState) {
	t.Helper()

	if state.Status.HasTrack() != (state.CurrentTrack != nil) {
		t.Errorf("status %s with current track %v", state.Status, state.CurrentTrack)
	}
	if state.CurrentTrack == nil {
		return
	}
	for _, queued := range state.Queue {
		if queued.Key() == state.CurrentTrack.Key() {
			t.Errorf("queue contains current track %s", queued.Key())
		}
	}
}

// syncBuffer is a log sink safe to read while the engine writes
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
