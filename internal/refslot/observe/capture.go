package observe

import (
	"context"
	"sync"
)

// CaptureObserver keeps every event in memory. Used by tests and by the
// REPL's event log.
type CaptureObserver struct {
	mu     sync.Mutex
	events []Event
}

func (c *CaptureObserver) OnEvent(ctx context.Context, event Event) {
	c.mu.Lock()
	c.events = append(c.events, event)
	c.mu.Unlock()
}

// Events returns a copy of the captured events.
func (c *CaptureObserver) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// Count returns how many captured events have type typ.
func (c *CaptureObserver) Count(typ EventType) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, e := range c.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

// Drain returns the captured events and forgets them.
func (c *CaptureObserver) Drain() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := c.events
	c.events = nil
	return out
}
