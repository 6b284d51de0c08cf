package events

import (
	"sync"

	"github.com/vitwit/paycore/types"
)

// Outbox delivers staged events to a Bus in the order they were staged. Only
// one goroutine delivers at a time. A handler that triggers more staging
// while it runs sees those events delivered after it returns, by the same
// goroutine, instead of recursing.
type Outbox struct {
	bus *Bus

	mu       sync.Mutex
	queue    []types.Event
	draining bool
}

// NewOutbox creates an outbox publishing to bus.
func NewOutbox(bus *Bus) *Outbox {
	return &Outbox{bus: bus}
}

// Stage queues evs for delivery. Callers that need a total order stage while
// holding the lock that orders their changes.
func (o *Outbox) Stage(evs ...types.Event) {
	if len(evs) == 0 {
		return
	}
	o.mu.Lock()
	o.queue = append(o.queue, evs...)
	o.mu.Unlock()
}

// Flush delivers queued events until the queue is empty. It returns at once
// if another goroutine is already delivering; that goroutine picks up
// anything staged before it finishes.
func (o *Outbox) Flush() {
	o.mu.Lock()
	if o.draining {
		o.mu.Unlock()
		return
	}
	o.draining = true
	for len(o.queue) > 0 {
		ev := o.queue[0]
		o.queue[0] = types.Event{}
		o.queue = o.queue[1:]
		o.mu.Unlock()

		o.bus.Publish(ev)

		o.mu.Lock()
	}
	o.queue = nil
	o.draining = false
	o.mu.Unlock()
}
