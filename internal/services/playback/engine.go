package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/z3i0/MusicBot/internal/domain/entities"
	"github.com/z3i0/MusicBot/internal/domain/valueobjects"
	apperrors "github.com/z3i0/MusicBot/internal/errors"
	"github.com/z3i0/MusicBot/internal/services/notify"
	"github.com/z3i0/MusicBot/internal/utils"
	"github.com/z3i0/MusicBot/pkg/logger"
)

// Result tells the caller whether an operation changed anything
type Result int

const (
	Applied Result = iota
	NoEffect
)

func (r Result) String() string {
	if r == Applied {
		return "applied"
	}
	return "no_effect"
}

// EnqueueOptions controls where tracks go
type EnqueueOptions struct {
	// PlayNow puts the tracks at the head and starts the first one immediately
	PlayNow bool
}

// EnqueueResult reports what Enqueue did
type EnqueueResult struct {
	Added   int
	Dropped int
	Started bool
}

// Config holds engine tuning
type Config struct {
	MaxQueueSize      int
	ResolveAttempts   int
	ResolveRetryDelay time.Duration
	JoinTimeout       time.Duration
	FlushTimeout      time.Duration
}

// Deps are the collaborators an engine drives
type Deps struct {
	Transport Transport
	Streams   StreamLocator
	Store     Persister
	Prefetch  Prefetcher // optional
	Events    Publisher  // optional
	Clock     clock.Clock
	Logger    *logger.Logger
}

const mailboxSize = 64

// Engine is the playback state machine for one guild. Every mutation runs on
// the engine's own goroutine in submission order; playback results that
// arrive after a newer transition are discarded by generation.
type Engine struct {
	guildID string
	id      string
	cfg     Config
	deps    Deps
	log     *logrus.Entry

	ops       chan func()
	done      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	onClose   func(*Engine)
	onCrash   func(guildID string, reason interface{})

	// Owned by the run goroutine
	status          valueobjects.PlaybackStatus
	current         *entities.Track
	queue           *entities.Queue
	voiceChannelID  string
	textChannelID   string
	generation      uint64
	playCancel      context.CancelFunc
	restartOnResume bool
	startedAt       time.Time
	playedMs        int64

	mu   sync.RWMutex
	snap entities.PlaybackState
	live time.Time // start of the current playing segment, zero otherwise
}

func newEngine(guildID, voiceChannelID, textChannelID string, cfg Config, deps Deps) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if cfg.ResolveAttempts < 1 {
		cfg.ResolveAttempts = 1
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = 15 * time.Second
	}

	e := &Engine{
		guildID:        guildID,
		id:             uuid.NewString(),
		cfg:            cfg,
		deps:           deps,
		ops:            make(chan func(), mailboxSize),
		done:           make(chan struct{}),
		ctx:            ctx,
		cancel:         cancel,
		status:         valueobjects.StatusIdle,
		queue:          entities.NewQueue(cfg.MaxQueueSize),
		voiceChannelID: voiceChannelID,
		textChannelID:  textChannelID,
	}
	e.log = deps.Logger.ForGuild(guildID).WithField("engine", e.id[:8])
	e.snap = e.buildState()

	go e.run()
	return e
}

// GuildID returns the guild this engine serves
func (e *Engine) GuildID() string { return e.guildID }

// Done is closed once the engine has shut down
func (e *Engine) Done() <-chan struct{} { return e.done }

// State returns the last committed state without waiting on the mailbox
func (e *Engine) State() entities.PlaybackState {
	e.mu.RLock()
	state := e.snap
	live := e.live
	e.mu.RUnlock()

	state.Queue = append([]entities.Track(nil), state.Queue...)
	if state.CurrentTrack != nil {
		current := *state.CurrentTrack
		state.CurrentTrack = &current
	}
	if !live.IsZero() {
		state.PositionMs += e.deps.Clock.Since(live).Milliseconds()
	}
	return state
}

// VoiceChannelID returns the channel the engine expects to be joined to
func (e *Engine) VoiceChannelID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snap.VoiceChannelID
}

func (e *Engine) run() {
	defer func() {
		if r := recover(); r != nil {
			e.log.WithField("panic", r).Error("💥 Playback engine crashed")
			if e.onCrash != nil {
				e.onCrash(e.guildID, r)
			}
			e.terminate()
		}
	}()

	for {
		select {
		case fn := <-e.ops:
			fn()
		case <-e.done:
			return
		}
	}
}

// submit runs fn on the engine goroutine and waits for its result
func (e *Engine) submit(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)

	select {
	case e.ops <- func() { reply <- fn() }:
	case <-e.done:
		return apperrors.ErrEngineClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-e.done:
		select {
		case err := <-reply:
			return err
		default:
			return apperrors.ErrEngineClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post queues an internal event from a playback goroutine
func (e *Engine) post(fn func()) {
	select {
	case e.ops <- fn:
	case <-e.done:
	}
}

func (e *Engine) terminate() {
	e.closeOnce.Do(func() {
		if e.playCancel != nil {
			e.playCancel()
		}
		e.cancel()
		close(e.done)
		if e.onClose != nil {
			e.onClose(e)
		}
	})
}

// Enqueue appends tracks, or puts them at the head with PlayNow. Tracks
// already current or queued are dropped. Playback starts asynchronously.
func (e *Engine) Enqueue(ctx context.Context, tracks []entities.Track, opts EnqueueOptions) (EnqueueResult, error) {
	var res EnqueueResult
	err := e.submit(ctx, func() error {
		accepted := make([]entities.Track, 0, len(tracks))
		seen := make(map[string]bool, len(tracks))
		for _, t := range tracks {
			key := t.Key()
			if seen[key] || (e.current != nil && e.current.Key() == key) {
				res.Dropped++
				continue
			}
			if !opts.PlayNow && e.queue.Contains(key) {
				res.Dropped++
				continue
			}
			seen[key] = true
			accepted = append(accepted, t)
		}

		if len(accepted) == 0 {
			return nil
		}

		if opts.PlayNow {
			for _, t := range accepted {
				e.queue.RemoveKey(t.Key())
			}
			res.Added = e.queue.PushFront(accepted...)
		} else {
			res.Added = e.queue.Push(accepted...)
		}
		res.Dropped += len(accepted) - res.Added

		if res.Added == 0 {
			return apperrors.ErrQueueFull
		}

		if e.current == nil || opts.PlayNow {
			e.advance()
			res.Started = true
			return nil
		}

		e.commit(e.event(notify.QueueChanged, nil, nil))
		return nil
	})
	return res, err
}

// Pause is valid only while playing
func (e *Engine) Pause(ctx context.Context) (Result, error) {
	res := NoEffect
	err := e.submit(ctx, func() error {
		if e.status != valueobjects.StatusPlaying {
			return nil
		}
		if conn := e.deps.Transport.Connection(e.guildID); conn != nil {
			conn.Pause()
		}
		e.playedMs += e.deps.Clock.Since(e.startedAt).Milliseconds()
		e.startedAt = time.Time{}
		e.status = valueobjects.StatusPaused
		e.commit()
		res = Applied
		return nil
	})
	return res, err
}

// Resume is valid only while paused. A session restored as paused has no
// live stream, so resuming restarts its track from the beginning.
func (e *Engine) Resume(ctx context.Context) (Result, error) {
	res := NoEffect
	err := e.submit(ctx, func() error {
		if e.status != valueobjects.StatusPaused || e.current == nil {
			return nil
		}

		conn := e.deps.Transport.Connection(e.guildID)
		if e.restartOnResume || conn == nil {
			e.startTrack(*e.current)
			e.commit()
			res = Applied
			return nil
		}

		conn.Resume()
		e.startedAt = e.deps.Clock.Now()
		e.status = valueobjects.StatusPlaying
		e.commit()
		res = Applied
		return nil
	})
	return res, err
}

// Stop clears the queue and current track but keeps the voice connection
func (e *Engine) Stop(ctx context.Context) (Result, error) {
	res := NoEffect
	err := e.submit(ctx, func() error {
		if e.current == nil && e.queue.Len() == 0 && e.status == valueobjects.StatusStopped {
			return nil
		}
		e.stopPlayback()
		e.queue.Clear()
		e.current = nil
		e.status = valueobjects.StatusStopped
		e.playedMs = 0
		e.commit(e.event(notify.Stopped, nil, nil))
		res = Applied
		return nil
	})
	return res, err
}

// Skip ends the current track and moves to the next
func (e *Engine) Skip(ctx context.Context) (Result, error) {
	res := NoEffect
	err := e.submit(ctx, func() error {
		if e.current == nil {
			return nil
		}
		skipped := *e.current
		e.publish(e.event(notify.TrackEnded, &skipped, nil))
		e.advance()
		res = Applied
		return nil
	})
	return res, err
}

// Leave stops playback, releases the voice connection, deletes the persisted
// record and shuts the engine down
func (e *Engine) Leave(ctx context.Context) error {
	return e.submit(ctx, func() error {
		e.stopPlayback()
		e.queue.Clear()
		e.current = nil
		e.status = valueobjects.StatusStopped
		e.updateSnapshot(e.buildState())

		var errs []error
		if conn := e.deps.Transport.Connection(e.guildID); conn != nil {
			if err := conn.Destroy(); err != nil {
				errs = append(errs, fmt.Errorf("destroy connection: %w", err))
			}
		}
		if err := e.deps.Store.Remove(ctx, e.guildID); err != nil {
			errs = append(errs, err)
		}

		e.publish(e.event(notify.Stopped, nil, nil))
		e.log.Info("👋 Left voice channel")
		e.terminate()
		return errors.Join(errs...)
	})
}

// Close persists the current state immediately and shuts the engine down
// without touching the record or the connection. Used at process shutdown.
func (e *Engine) Close(ctx context.Context) error {
	return e.submit(ctx, func() error {
		state := e.buildState()
		e.updateSnapshot(state)
		err := e.deps.Store.Save(e.guildID, state.Record(), true)
		e.terminate()
		return err
	})
}

// Restore rebuilds state from a persisted record. The current track of a
// playing session restarts from the beginning; a paused session stays paused
// until Resume.
func (e *Engine) Restore(ctx context.Context, rec *entities.SessionRecord) error {
	return e.submit(ctx, func() error {
		e.voiceChannelID = rec.VoiceChannelID
		e.textChannelID = rec.TextChannelID

		tracks := dedupe(rec.Tracks())
		var current *entities.Track
		if rec.CurrentTrack != nil && len(tracks) > 0 {
			current = &tracks[0]
			tracks = tracks[1:]
		}

		e.queue.Clear()
		e.queue.Push(tracks...)
		e.playedMs = 0

		switch rec.Status {
		case valueobjects.StatusPlaying, valueobjects.StatusResolving:
			if current != nil {
				e.startTrack(*current)
			} else if e.queue.Len() > 0 {
				e.advance()
				return nil
			}
		case valueobjects.StatusPaused:
			if current != nil {
				c := *current
				e.current = &c
				e.status = valueobjects.StatusPaused
				e.restartOnResume = true
			}
		case valueobjects.StatusStopped:
			e.status = valueobjects.StatusStopped
		default:
			if current != nil {
				e.queue.PushFront(*current)
			}
			e.status = valueobjects.StatusIdle
		}

		e.log.WithFields(logrus.Fields{
			"status": e.status,
			"queue":  e.queue.Len(),
		}).Info("♻️ Session restored")
		e.commit(e.event(notify.QueueChanged, nil, nil))
		return nil
	})
}

// Rejoin reconnects to channelID (or the current channel when empty) and
// picks playback back up if a connection loss had settled the engine. A
// track that was streaming over a connection the join replaced restarts on
// the new one.
func (e *Engine) Rejoin(ctx context.Context, channelID string) error {
	return e.submit(ctx, func() error {
		if channelID != "" {
			e.voiceChannelID = channelID
		}

		prev := e.deps.Transport.Connection(e.guildID)

		joinCtx, cancel := context.WithTimeout(ctx, e.cfg.JoinTimeout)
		defer cancel()
		conn, err := e.deps.Transport.Join(joinCtx, e.guildID, e.voiceChannelID)
		if err != nil {
			return err
		}
		replaced := conn != prev

		switch {
		case e.current == nil && e.status == valueobjects.StatusIdle && e.queue.Len() > 0:
			e.advance()
			return nil
		case e.current != nil && replaced && e.status != valueobjects.StatusPaused:
			e.log.WithField("track", e.current.Key()).Info("Restarting track on the new voice connection")
			e.startTrack(*e.current)
		case e.current != nil && replaced && e.status == valueobjects.StatusPaused:
			e.restartOnResume = true
		}
		e.commit()
		return nil
	})
}

func (e *Engine) stopPlayback() {
	if e.playCancel != nil {
		e.playCancel()
		e.playCancel = nil
	}
	e.generation++
	e.startedAt = time.Time{}
}

func (e *Engine) startTrack(track entities.Track) {
	e.stopPlayback()
	gen := e.generation

	ctx, cancel := context.WithCancel(e.ctx)
	e.playCancel = cancel

	e.current = &track
	e.status = valueobjects.StatusResolving
	e.restartOnResume = false
	e.playedMs = 0

	go e.runTrack(ctx, gen, track, e.voiceChannelID)
}

// advance makes the queue head current, or settles to Idle
func (e *Engine) advance() {
	next, ok := e.queue.Pop()
	if !ok {
		e.stopPlayback()
		e.current = nil
		e.status = valueobjects.StatusIdle
		e.playedMs = 0
		e.commit(e.event(notify.QueueChanged, nil, nil))
		return
	}

	e.startTrack(next)
	e.commit(e.event(notify.QueueChanged, nil, nil))
}

// runTrack resolves, connects and plays one track off the engine goroutine
func (e *Engine) runTrack(ctx context.Context, gen uint64, track entities.Track, channelID string) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("playback panic: %v", r)
			e.post(func() { e.onTrackFailed(gen, track, err) })
		}
	}()

	source, err := e.locate(ctx, track)
	if err != nil {
		if ctx.Err() == nil {
			e.post(func() { e.onTrackFailed(gen, track, err) })
		}
		return
	}

	conn, err := e.connection(ctx, channelID)
	if err != nil {
		if ctx.Err() == nil {
			e.post(func() { e.onConnectionLost(gen, err) })
		}
		return
	}

	e.post(func() { e.onTrackStarted(gen, track) })

	err = conn.Play(ctx, source)
	if ctx.Err() != nil {
		return
	}
	e.post(func() { e.onTrackFinished(gen, track, err) })
}

func (e *Engine) locate(ctx context.Context, track entities.Track) (string, error) {
	attempts := utils.Attempts{
		Max:   e.cfg.ResolveAttempts,
		Delay: e.cfg.ResolveRetryDelay,
		Clock: e.deps.Clock,
	}

	var source string
	err := attempts.Do(ctx, retryableStream, func(ctx context.Context, attempt int) error {
		s, err := e.deps.Streams.Locate(ctx, track)
		if err != nil {
			e.log.WithError(err).WithFields(logrus.Fields{
				"track":   track.Key(),
				"attempt": attempt,
			}).Warn("Stream resolution failed")
			return err
		}
		source = s
		return nil
	})
	return source, err
}

func retryableStream(err error) bool {
	return !errors.Is(err, apperrors.ErrNoResults) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

func (e *Engine) connection(ctx context.Context, channelID string) (Connection, error) {
	if conn := e.deps.Transport.Connection(e.guildID); conn != nil {
		return conn, nil
	}

	joinCtx, cancel := context.WithTimeout(ctx, e.cfg.JoinTimeout)
	defer cancel()
	return e.deps.Transport.Join(joinCtx, e.guildID, channelID)
}

func (e *Engine) onTrackStarted(gen uint64, track entities.Track) {
	if gen != e.generation {
		return
	}
	e.status = valueobjects.StatusPlaying
	e.startedAt = e.deps.Clock.Now()
	e.log.WithField("track", track.Key()).Info("🎵 Now playing")
	e.commit(e.event(notify.TrackStarted, &track, nil))

	if e.deps.Prefetch != nil {
		if next, ok := e.queue.Peek(); ok {
			if err := e.deps.Prefetch.Submit(next); err != nil {
				e.log.WithError(err).WithField("track", next.Key()).Debug("Prefetch not scheduled")
			}
		}
	}
}

func (e *Engine) onTrackFinished(gen uint64, track entities.Track, err error) {
	if gen != e.generation {
		return
	}

	var connErr *apperrors.ConnectionError
	if errors.As(err, &connErr) {
		e.onConnectionLost(gen, err)
		return
	}

	if err != nil {
		e.log.WithError(err).WithField("track", track.Key()).Warn("Track ended with error")
		e.publish(e.event(notify.TrackFailed, &track, err))
	} else {
		e.publish(e.event(notify.TrackEnded, &track, nil))
	}
	e.advance()
}

func (e *Engine) onTrackFailed(gen uint64, track entities.Track, err error) {
	if gen != e.generation {
		return
	}
	e.log.WithError(err).WithField("track", track.Key()).Warn("⚠️ Skipping track that could not be played")
	e.publish(e.event(notify.TrackFailed, &track, err))
	e.advance()
}

// onConnectionLost settles to Idle with the interrupted track back at the
// head of the queue; a later Rejoin or Enqueue picks it up again
func (e *Engine) onConnectionLost(gen uint64, err error) {
	if gen != e.generation {
		return
	}

	entry := e.log.WithError(err)
	if apperrors.IsPermanentConnection(err) {
		entry.Error("❌ Voice connection failed permanently, settling to idle")
	} else {
		entry.Warn("Voice connection lost, waiting for rejoin")
	}

	e.stopPlayback()
	if e.current != nil {
		e.queue.PushFront(*e.current)
		e.current = nil
	}
	e.status = valueobjects.StatusIdle
	e.playedMs = 0
	e.commit(e.event(notify.QueueChanged, nil, nil))
}

func (e *Engine) buildState() entities.PlaybackState {
	state := entities.PlaybackState{
		TenantID:       e.guildID,
		Status:         e.status,
		Queue:          e.queue.Tracks(),
		PositionMs:     e.playedMs,
		VoiceChannelID: e.voiceChannelID,
		TextChannelID:  e.textChannelID,
		UpdatedAt:      e.deps.Clock.Now(),
	}
	if e.current != nil {
		current := *e.current
		state.CurrentTrack = &current
	}
	return state
}

func (e *Engine) updateSnapshot(state entities.PlaybackState) {
	e.mu.Lock()
	e.snap = state
	e.live = e.startedAt
	e.mu.Unlock()
}

// commit publishes the new state, schedules a debounced save and emits events
func (e *Engine) commit(events ...notify.Event) {
	state := e.buildState()
	e.updateSnapshot(state)

	record := state.Record()
	if !e.startedAt.IsZero() {
		record.PositionMs += e.deps.Clock.Since(e.startedAt).Milliseconds()
	}
	if err := e.deps.Store.Save(e.guildID, record, false); err != nil {
		e.log.WithError(err).Warn("Failed to schedule session save")
	}

	for _, ev := range events {
		e.publish(ev)
	}
}

func (e *Engine) event(kind notify.EventType, track *entities.Track, err error) notify.Event {
	return notify.Event{
		Type:          kind,
		GuildID:       e.guildID,
		TextChannelID: e.textChannelID,
		Track:         track,
		QueueLength:   e.queue.Len(),
		Err:           err,
	}
}

func (e *Engine) publish(ev notify.Event) {
	if e.deps.Events == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.log.WithField("panic", r).Warn("Notification publisher panicked")
		}
	}()
	e.deps.Events.Publish(ev)
}

// dedupe keeps the first occurrence of every track key
func dedupe(tracks []entities.Track) []entities.Track {
	seen := make(map[string]bool, len(tracks))
	out := tracks[:0:0]
	for _, t := range tracks {
		if seen[t.Key()] {
			continue
		}
		seen[t.Key()] = true
		out = append(out, t)
	}
	return out
}
