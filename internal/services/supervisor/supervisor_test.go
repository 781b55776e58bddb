package supervisor_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	apperrors "github.com/z3i0/MusicBot/internal/errors"
	"github.com/z3i0/MusicBot/internal/services/supervisor"
	"github.com/z3i0/MusicBot/pkg/logger"
)

type fakeSession struct {
	mu      sync.Mutex
	channel string
	rejoins []string
	err     error
}

func (f *fakeSession) VoiceChannelID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channel
}

func (f *fakeSession) Rejoin(_ context.Context, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejoins = append(f.rejoins, channelID)
	return f.err
}

func (f *fakeSession) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rejoins)
}

func sessionsOf(m map[string]*fakeSession) supervisor.Sessions {
	return supervisor.SessionsFunc(func(guildID string) (supervisor.Session, bool) {
		s, ok := m[guildID]
		if !ok {
			return nil, false
		}
		return s, true
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
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

func newSupervisor(sessions map[string]*fakeSession, join supervisor.JoinFunc, autoJoin map[string]string) (*supervisor.Supervisor, *clock.Mock) {
	mock := clock.NewMock()
	s := supervisor.New(sessionsOf(sessions), join, supervisor.Config{
		Delay:    5 * time.Second,
		AutoJoin: autoJoin,
		Clock:    mock,
	}, logger.Discard())
	return s, mock
}

func TestMovedRejoinsAfterDelay(t *testing.T) {
	sess := &fakeSession{channel: "music"}
	s, mock := newSupervisor(map[string]*fakeSession{"g1": sess}, nil, nil)
	defer s.Close()

	s.HandleVoiceState("g1", "music")
	s.HandleVoiceState("g1", "afk")
	if !s.Pending("g1") {
		t.Fatal("Expected a pending rejoin")
	}

	mock.Add(4 * time.Second)
	time.Sleep(5 * time.Millisecond)
	if sess.count() != 0 {
		t.Fatal("Rejoin must wait for the delay")
	}

	mock.Add(time.Second)
	waitFor(t, "rejoin", func() bool { return sess.count() == 1 })
	if sess.rejoins[0] != "music" {
		t.Errorf("Expected rejoin to music, got %s", sess.rejoins[0])
	}
}

func TestDisconnectRejoins(t *testing.T) {
	sess := &fakeSession{channel: "music"}
	s, mock := newSupervisor(map[string]*fakeSession{"g1": sess}, nil, nil)
	defer s.Close()

	s.HandleVoiceState("g1", "music")
	s.HandleVoiceState("g1", "")

	mock.Add(5 * time.Second)
	waitFor(t, "rejoin", func() bool { return sess.count() == 1 })
}

func TestFlappingIsDebounced(t *testing.T) {
	sess := &fakeSession{channel: "music"}
	s, mock := newSupervisor(map[string]*fakeSession{"g1": sess}, nil, nil)
	defer s.Close()

	s.HandleVoiceState("g1", "music")
	for i := 0; i < 5; i++ {
		s.HandleVoiceState("g1", "")
		mock.Add(time.Second)
		s.HandleVoiceState("g1", "afk")
		mock.Add(time.Second)
	}

	mock.Add(10 * time.Second)
	waitFor(t, "rejoin", func() bool { return sess.count() >= 1 })
	time.Sleep(10 * time.Millisecond)
	if n := sess.count(); n != 1 {
		t.Errorf("Expected a single rejoin, got %d", n)
	}
}

func TestReturningCancelsRejoin(t *testing.T) {
	sess := &fakeSession{channel: "music"}
	s, mock := newSupervisor(map[string]*fakeSession{"g1": sess}, nil, nil)
	defer s.Close()

	s.HandleVoiceState("g1", "music")
	s.HandleVoiceState("g1", "afk")
	s.HandleVoiceState("g1", "music")

	if s.Pending("g1") {
		t.Error("Returning to the expected channel must cancel the rejoin")
	}
	mock.Add(time.Minute)
	time.Sleep(5 * time.Millisecond)
	if sess.count() != 0 {
		t.Error("Expected no rejoin")
	}
}

func TestNoSessionAndNoAutoJoinIsIgnored(t *testing.T) {
	s, _ := newSupervisor(map[string]*fakeSession{}, nil, nil)
	defer s.Close()

	s.HandleVoiceState("g1", "music")
	s.HandleVoiceState("g1", "")
	if s.Pending("g1") {
		t.Error("Nothing to rejoin without a session")
	}
}

func TestAutoJoinChannelWithoutSession(t *testing.T) {
	var mu sync.Mutex
	var joined []string
	join := func(_ context.Context, guildID, channelID string) error {
		mu.Lock()
		defer mu.Unlock()
		joined = append(joined, guildID+"/"+channelID)
		return nil
	}

	s, mock := newSupervisor(map[string]*fakeSession{}, join, map[string]string{"g1": "lounge"})
	defer s.Close()

	s.HandleVoiceState("g1", "lounge")
	s.HandleVoiceState("g1", "elsewhere")
	mock.Add(5 * time.Second)

	waitFor(t, "auto join", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(joined) == 1 && joined[0] == "g1/lounge"
	})
}

func TestForgetSuppressesRejoinAfterLeave(t *testing.T) {
	s, _ := newSupervisor(map[string]*fakeSession{}, nil, map[string]string{"g1": "lounge"})
	defer s.Close()

	s.HandleVoiceState("g1", "lounge")
	s.Forget("g1")
	s.HandleVoiceState("g1", "")

	if s.Pending("g1") {
		t.Error("A deliberate leave must not be undone")
	}
}

func TestRejoinErrorsAreSwallowed(t *testing.T) {
	sess := &fakeSession{
		channel: "music",
		err:     &apperrors.ConnectionError{Kind: apperrors.Permanent, TenantID: "g1", Err: errors.New("missing permissions")},
	}
	s, mock := newSupervisor(map[string]*fakeSession{"g1": sess}, nil, nil)
	defer s.Close()

	s.HandleVoiceState("g1", "music")
	s.HandleVoiceState("g1", "")
	mock.Add(5 * time.Second)
	waitFor(t, "rejoin attempt", func() bool { return sess.count() == 1 })

	// The next membership event retriggers the path
	s.HandleVoiceState("g1", "afk")
	if !s.Pending("g1") {
		t.Error("Expected a new pending rejoin after a failed attempt")
	}
}

func TestCloseCancelsPending(t *testing.T) {
	sess := &fakeSession{channel: "music"}
	s, mock := newSupervisor(map[string]*fakeSession{"g1": sess}, nil, nil)

	s.HandleVoiceState("g1", "music")
	s.HandleVoiceState("g1", "")
	s.Close()

	mock.Add(time.Minute)
	time.Sleep(5 * time.Millisecond)
	if sess.count() != 0 {
		t.Error("Expected no rejoin after close")
	}
}
