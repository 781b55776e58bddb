package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/z3i0/MusicBot/internal/domain/entities"
	"github.com/z3i0/MusicBot/pkg/logger"
)

// EventType names a lifecycle notification
type EventType int

const (
	TrackStarted EventType = iota
	TrackEnded
	QueueChanged
	Stopped
	TrackFailed
)

func (t EventType) String() string {
	switch t {
	case TrackStarted:
		return "track_started"
	case TrackEnded:
		return "track_ended"
	case QueueChanged:
		return "queue_changed"
	case Stopped:
		return "stopped"
	case TrackFailed:
		return "track_failed"
	}
	return fmt.Sprintf("event(%d)", int(t))
}

// Event is one engine-to-UI message
type Event struct {
	Type          EventType
	GuildID       string
	TextChannelID string
	Track         *entities.Track
	QueueLength   int
	Err           error
}

// Notifier delivers events to the presentation layer
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Dispatcher decouples engines from the notifier: Publish never blocks and a
// failing or panicking notifier cannot reach back into the caller
type Dispatcher struct {
	notifier Notifier
	logger   *logger.Logger
	events   chan Event
	timeout  time.Duration
	stop     chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// NewDispatcher creates a dispatcher with a buffer of size events
func NewDispatcher(notifier Notifier, size int, log *logger.Logger) *Dispatcher {
	if size < 1 {
		size = 64
	}
	return &Dispatcher{
		notifier: notifier,
		logger:   log,
		events:   make(chan Event, size),
		timeout:  10 * time.Second,
		stop:     make(chan struct{}),
	}
}

// Start runs the delivery goroutine
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go d.run()
}

// Stop delivers nothing further and waits for the current delivery
func (d *Dispatcher) Stop() {
	d.once.Do(func() { close(d.stop) })
	d.wg.Wait()
}

// Publish queues an event; when the buffer is full the event is dropped
func (d *Dispatcher) Publish(event Event) {
	select {
	case d.events <- event:
	default:
		d.logger.ForGuild(event.GuildID).WithField("event", event.Type.String()).Warn("Notification buffer full, dropping event")
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case <-d.stop:
			return
		case event := <-d.events:
			d.deliver(event)
		}
	}
}

func (d *Dispatcher) deliver(event Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.ForGuild(event.GuildID).WithField("panic", r).Error("Notifier panicked")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := d.notifier.Notify(ctx, event); err != nil {
		d.logger.ForGuild(event.GuildID).WithError(err).WithField("event", event.Type.String()).Debug("Notification failed")
	}
}
