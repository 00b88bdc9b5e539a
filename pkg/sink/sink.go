// Package sink abstracts the synthesizer a timeline is dispatched into.
// The playback clock only ever sees the Sink interface; concrete
// implementations cover a software synthesizer (melty.go), a hardware MIDI
// output port (port.go), and a counting no-op used for tests and muted
// operation (null.go).
package sink

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Sink receives packed 24-bit MIDI short messages. Send is fire-and-forget:
// no acknowledgment, no error, and it must not block the caller.
type Sink interface {
	// Initialize opens the underlying stream. Called once before playback.
	Initialize() error
	// Reset silences the stream. Called on stop and on every seek, so the
	// sink's audible state can be rebuilt from the resynthesized note set.
	Reset()
	// Terminate releases the stream. The sink is unusable afterwards.
	Terminate()
	// Send delivers one packed message ((aux<<16)|(data<<8)|status).
	Send(msg uint32)
}

// Buffered decouples the scheduler from a sink whose Send may stall (a
// hardware port behind a slow driver, for instance). Messages go through a
// bounded channel drained by one goroutine; when the channel is full the
// message is dropped and counted rather than blocking the playback tick.
//
// Every message is stamped with the reset generation current at enqueue
// time. The drain delivers a message only if its generation still matches,
// under the same lock Reset holds, so a message queued before a Reset can
// never reach the inner sink after it.
type Buffered struct {
	inner   Sink
	ch      chan queued
	done    chan struct{}
	dropped atomic.Uint64
	gen     atomic.Uint64
	mu      sync.Mutex // serializes inner.Send against inner.Reset
	once    sync.Once
}

type queued struct {
	msg uint32
	gen uint64
}

// NewBuffered wraps inner with a queue of the given depth (minimum 1).
func NewBuffered(inner Sink, depth int) *Buffered {
	if depth < 1 {
		depth = 1
	}
	return &Buffered{
		inner: inner,
		ch:    make(chan queued, depth),
		done:  make(chan struct{}),
	}
}

// Initialize opens the inner sink and starts the drain goroutine.
func (b *Buffered) Initialize() error {
	if err := b.inner.Initialize(); err != nil {
		return err
	}
	go b.drain()
	return nil
}

func (b *Buffered) drain() {
	for {
		select {
		case <-b.done:
			return
		case q := <-b.ch:
			b.mu.Lock()
			if q.gen == b.gen.Load() {
				b.inner.Send(q.msg)
			}
			b.mu.Unlock()
		}
	}
}

// Send queues the message, dropping it if the queue is full.
func (b *Buffered) Send(msg uint32) {
	select {
	case b.ch <- queued{msg: msg, gen: b.gen.Load()}:
	default:
		if b.dropped.Add(1) == 1 {
			slog.Warn("sink queue full, dropping messages")
		}
	}
}

// Reset discards everything still queued and resets the inner sink. Bumping
// the generation first invalidates any message the drain has already pulled
// off the channel but not yet delivered.
func (b *Buffered) Reset() {
	b.gen.Add(1)
	b.mu.Lock()
	defer b.mu.Unlock()
	for {
		select {
		case <-b.ch:
		default:
			b.inner.Reset()
			return
		}
	}
}

// Terminate stops the drain goroutine, giving it a moment to flush, then
// terminates the inner sink.
func (b *Buffered) Terminate() {
	b.once.Do(func() {
		deadline := time.After(250 * time.Millisecond)
		for len(b.ch) > 0 {
			select {
			case <-deadline:
				goto stop
			case <-time.After(time.Millisecond):
			}
		}
	stop:
		close(b.done)
		b.inner.Terminate()
	})
}

// Dropped returns how many messages were discarded on a full queue.
func (b *Buffered) Dropped() uint64 {
	return b.dropped.Load()
}
