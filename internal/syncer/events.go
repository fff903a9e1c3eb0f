package syncer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/dmitrijs2005/focussync/internal/logging"
	"github.com/dmitrijs2005/focussync/internal/models"
)

// DefaultMaxSubscribers bounds the observer list.
const DefaultMaxSubscribers = 64

var ErrTooManySubscribers = errors.New("too many status subscribers")

// Subscriber receives status events synchronously, in emission order. It must
// not call back into the orchestrator's mutating methods.
type Subscriber func(models.StatusEvent)

type subscription struct {
	id uint64
	fn Subscriber
}

// broadcaster fans events out to subscribers. A panicking subscriber is
// logged and skipped; the publisher never sees it.
type broadcaster struct {
	mu   sync.RWMutex
	subs []subscription
	next uint64
	max  int
	log  logging.Logger
}

func newBroadcaster(max int, log logging.Logger) *broadcaster {
	if max <= 0 {
		max = DefaultMaxSubscribers
	}
	return &broadcaster{max: max, log: log}
}

func (b *broadcaster) subscribe(fn Subscriber) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.subs) >= b.max {
		return nil, ErrTooManySubscribers
	}
	b.next++
	id := b.next
	b.subs = append(b.subs, subscription{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.subs = slices.DeleteFunc(b.subs, func(s subscription) bool { return s.id == id })
		})
	}, nil
}

func (b *broadcaster) publish(ctx context.Context, ev models.StatusEvent) {
	b.mu.RLock()
	subs := slices.Clone(b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(ctx, s, ev)
	}
}

func (b *broadcaster) deliver(ctx context.Context, s subscription, ev models.StatusEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error(ctx, "status subscriber panicked", "subscriber", s.id, "event", ev.Type, "panic", fmt.Sprint(r))
		}
	}()
	s.fn(ev)
}

// OnStatusChange registers fn and returns its unsubscribe handle.
func (o *Orchestrator) OnStatusChange(fn Subscriber) (func(), error) {
	return o.bus.subscribe(fn)
}

// Events streams status events into a channel of size buf until ctx is done.
// Events are dropped when the reader falls behind.
func (o *Orchestrator) Events(ctx context.Context, buf int) (<-chan models.StatusEvent, error) {
	ch := make(chan models.StatusEvent, buf)

	var mu sync.Mutex
	closed := false

	unsubscribe, err := o.bus.subscribe(func(ev models.StatusEvent) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- ev:
		default:
			o.log.Warn(ctx, "status event dropped, reader is slow", "event", ev.Type)
		}
	})
	if err != nil {
		return nil, err
	}

	go func() {
		<-ctx.Done()
		unsubscribe()
		mu.Lock()
		closed = true
		close(ch)
		mu.Unlock()
	}()

	return ch, nil
}
