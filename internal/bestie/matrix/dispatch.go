package matrix

import (
	"context"
	"sync"

	"maunium.net/go/mautrix/event"
)

// DefaultMaxInFlight bounds the number of messages answered concurrently.
const DefaultMaxInFlight = 16

// Dispatcher runs a MessageHandler off the sync goroutine. At most
// maxInFlight handlers run at once; further events wait for a free slot.
type Dispatcher struct {
	handler MessageHandler
	slots   chan struct{}
	wg      sync.WaitGroup
}

// NewDispatcher returns a Dispatcher for handler. Pass maxInFlight <= 0 to
// use DefaultMaxInFlight.
func NewDispatcher(handler MessageHandler, maxInFlight int) *Dispatcher {
	if maxInFlight <= 0 {
		maxInFlight = DefaultMaxInFlight
	}
	return &Dispatcher{handler: handler, slots: make(chan struct{}, maxInFlight)}
}

// Dispatch starts handling evt in its own goroutine and returns once a slot
// is taken. It returns early without handling evt if ctx is done first.
func (d *Dispatcher) Dispatch(ctx context.Context, evt *event.Event) {
	select {
	case d.slots <- struct{}{}:
	case <-ctx.Done():
		return
	}
	d.wg.Add(1)
	go func() {
		defer func() {
			<-d.slots
			d.wg.Done()
		}()
		d.handler(ctx, evt)
	}()
}

// Wait blocks until every dispatched handler has returned.
func (d *Dispatcher) Wait() { d.wg.Wait() }
