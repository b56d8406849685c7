// Package display decouples the conversation worker from the render surface.
//
// The worker publishes typed events into a Channel, an unbounded FIFO queue:
// Publish never blocks, so a slow or absent renderer can never stall a turn.
// The Server drains the queue and broadcasts events to WebSocket clients.
package display

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrChannelClosed is returned by Next once the channel is closed and empty.
var ErrChannelClosed = errors.New("display: channel closed")

// EventType enumerates the kinds of events shown on the kiosk display.
type EventType string

const (
	// EventUserText is a committed user transcript.
	EventUserText EventType = "user_text"

	// EventAssistantPartial is the incrementally-growing assistant reply.
	EventAssistantPartial EventType = "assistant_partial"

	// EventAssistantFinal replaces the partials with the complete reply.
	EventAssistantFinal EventType = "assistant_final"

	// EventIdentity announces a recognised or newly-enrolled person.
	EventIdentity EventType = "identity_event"

	// EventStatus is a pipeline state change (listening, thinking, speaking).
	EventStatus EventType = "status"

	// EventErrorBanner is a user-visible failure notice.
	EventErrorBanner EventType = "error_banner"
)

// Event is a single display update.
type Event struct {
	Type EventType `json:"type"`

	// Text is the payload: transcript text, reply fragment, status word, or
	// error message depending on Type.
	Text string `json:"text,omitempty"`

	// Name is the person name for identity events and attributed text.
	Name string `json:"name,omitempty"`

	// At is when the event was published.
	At time.Time `json:"at"`
}

// Channel is an unbounded FIFO event queue. The producer side (Publish) never
// blocks; consumers poll with TryDrain or block with Next. Safe for concurrent
// use.
type Channel struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event
	closed bool
}

// NewChannel creates an empty display channel.
func NewChannel() *Channel {
	c := &Channel{}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Publish appends an event to the queue. It stamps Event.At if unset, never
// blocks, and is a no-op after Close.
func (c *Channel) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.queue = append(c.queue, ev)
	c.cond.Signal()
}

// TryDrain removes and returns all queued events without blocking. Returns
// nil when the queue is empty.
func (c *Channel) TryDrain() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return nil
	}
	out := c.queue
	c.queue = nil
	return out
}

// Next blocks until an event is available, returning ctx.Err() if ctx is
// cancelled first and ErrChannelClosed once the channel is closed and drained.
func (c *Channel) Next(ctx context.Context) (Event, error) {
	stop := context.AfterFunc(ctx, func() {
		c.mu.Lock()
		c.cond.Broadcast()
		c.mu.Unlock()
	})
	defer stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.queue) == 0 {
		if err := ctx.Err(); err != nil {
			return Event{}, err
		}
		if c.closed {
			return Event{}, ErrChannelClosed
		}
		c.cond.Wait()
	}
	ev := c.queue[0]
	c.queue = c.queue[1:]
	return ev, nil
}

// Len reports the number of queued events.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Close marks the channel closed and wakes blocked consumers. Queued events
// remain drainable.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.cond.Broadcast()
}
