package matrix_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/bdobrica/bestie/internal/bestie/matrix"
	"github.com/bdobrica/bestie/internal/bestie/reply"
)

// blockingComposer holds every Compose call until release is closed.
type blockingComposer struct {
	started chan string
	release chan struct{}
}

func (b *blockingComposer) Compose(ctx context.Context, req reply.Request) (*reply.Result, error) {
	b.started <- req.Identity.ID()
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &reply.Result{Reply: "ok", Emotion: "neutro"}, nil
}

func TestDispatcher_AnswersSendersConcurrently(t *testing.T) {
	c := &blockingComposer{started: make(chan string, 2), release: make(chan struct{})}
	s := &fakeSender{}
	bot := matrix.NewBot(c, s, nil, botID, time.Now().Add(-time.Minute))
	d := matrix.NewDispatcher(bot.HandleMessage, 4)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	d.Dispatch(ctx, textEvent("@alice:example.org", "ciao", time.Now()))
	d.Dispatch(ctx, textEvent("@bob:example.org", "ciao", time.Now()))

	seen := map[string]bool{}
	for range 2 {
		select {
		case who := <-c.started:
			seen[who] = true
		case <-ctx.Done():
			t.Fatalf("second sender was not served while the first was in flight; seen %v", seen)
		}
	}
	if !seen["matrix:@alice:example.org"] || !seen["matrix:@bob:example.org"] {
		t.Errorf("started = %v", seen)
	}

	close(c.release)
	d.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) != 2 {
		t.Errorf("sent %d replies, want 2", len(s.sent))
	}
}

func TestDispatcher_BoundsInFlight(t *testing.T) {
	var running, peak atomic.Int32
	release := make(chan struct{})
	handler := func(context.Context, *event.Event) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		running.Add(-1)
	}
	d := matrix.NewDispatcher(handler, 2)
	ctx := context.Background()

	d.Dispatch(ctx, &event.Event{ID: id.EventID("$1")})
	d.Dispatch(ctx, &event.Event{ID: id.EventID("$2")})

	third := make(chan struct{})
	go func() {
		d.Dispatch(ctx, &event.Event{ID: id.EventID("$3")})
		close(third)
	}()
	select {
	case <-third:
		t.Fatal("third dispatch did not wait for a free slot")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	<-third
	d.Wait()
	if got := peak.Load(); got > 2 {
		t.Errorf("peak in-flight = %d, want <= 2", got)
	}
}

func TestDispatcher_CancelledContextDrops(t *testing.T) {
	entered := make(chan struct{}, 1)
	block := make(chan struct{})
	var calls atomic.Int32
	d := matrix.NewDispatcher(func(context.Context, *event.Event) {
		calls.Add(1)
		entered <- struct{}{}
		<-block
	}, 1)

	d.Dispatch(context.Background(), &event.Event{})
	<-entered

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Dispatch(ctx, &event.Event{})

	close(block)
	d.Wait()
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}
