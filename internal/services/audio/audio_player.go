package audio

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// errDropped is wrapped in a ConnectionError when the voice link goes away
// mid-track
var errDropped = errors.New("voice connection dropped")

// player pumps Opus packets into a voice connection. It blocks while paused
// and gives up once the link has not been ready for dropTimeout.
type player struct {
	send        chan<- []byte
	ready       func() bool
	speaking    func(bool) error
	clock       clock.Clock
	dropTimeout time.Duration
	checkEvery  time.Duration

	mu      sync.Mutex
	paused  bool
	resumed chan struct{}
}

func newPlayer(send chan<- []byte, ready func() bool, speaking func(bool) error, clk clock.Clock, dropTimeout time.Duration) *player {
	return &player{
		send:        send,
		ready:       ready,
		speaking:    speaking,
		clock:       clk,
		dropTimeout: dropTimeout,
		checkEvery:  250 * time.Millisecond,
		resumed:     closedChan(),
	}
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func (p *player) pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused {
		return
	}
	p.paused = true
	p.resumed = make(chan struct{})
}

func (p *player) resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.paused {
		return
	}
	p.paused = false
	close(p.resumed)
}

func (p *player) isPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *player) gate() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resumed
}

// play streams every packet and returns nil at the end of the stream
func (p *player) play(ctx context.Context, stream PacketStream, closed <-chan struct{}) (frames int, err error) {
	if p.speaking != nil {
		p.speaking(true)
		defer p.speaking(false)
	}

	ticker := p.clock.Ticker(p.checkEvery)
	defer ticker.Stop()
	var unreadySince time.Time

	for {
		// hold here while paused
		select {
		case <-p.gate():
		case <-ctx.Done():
			return frames, ctx.Err()
		case <-closed:
			return frames, errDropped
		}
		select {
		case <-closed:
			return frames, errDropped
		default:
		}

		packet, err := stream.ReadPacket()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return frames, nil
			}
			if ctx.Err() != nil {
				return frames, ctx.Err()
			}
			if frames > 0 {
				// a truncated stream still played; treat as the end
				return frames, nil
			}
			return frames, err
		}

	send:
		for {
			select {
			case p.send <- packet:
				frames++
				unreadySince = time.Time{}
				break send
			case <-ticker.C:
				if p.ready == nil || p.ready() {
					unreadySince = time.Time{}
					continue
				}
				now := p.clock.Now()
				if unreadySince.IsZero() {
					unreadySince = now
				}
				if now.Sub(unreadySince) >= p.dropTimeout {
					return frames, errDropped
				}
			case <-ctx.Done():
				return frames, ctx.Err()
			case <-closed:
				return frames, errDropped
			}
		}
	}
}
