package progress

import (
	"sync"
	"sync/atomic"

	"github.com/fyrsmithlabs/nbpilot/internal/orchestrator"
)

// Channel buffers events for a single consumer. Events sent while the
// buffer is full are dropped and counted.
type Channel struct {
	mu      sync.RWMutex
	ch      chan orchestrator.Event
	closed  bool
	dropped atomic.Int64
}

// NewChannel creates a Channel with the given buffer size.
func NewChannel(size int) *Channel {
	if size < 1 {
		size = 1
	}
	return &Channel{ch: make(chan orchestrator.Event, size)}
}

// Send delivers ev without blocking.
func (c *Channel) Send(ev orchestrator.Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.ch <- ev:
	default:
		c.dropped.Add(1)
	}
}

// Sink returns Send as an orchestrator.ProgressSink.
func (c *Channel) Sink() orchestrator.ProgressSink {
	return c.Send
}

// Events returns the receive side. It is closed by Close.
func (c *Channel) Events() <-chan orchestrator.Event {
	return c.ch
}

// Dropped returns the number of events lost to a full buffer.
func (c *Channel) Dropped() int64 {
	return c.dropped.Load()
}

// Close stops delivery and closes the events channel. Safe to call twice.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.ch)
}
