package invalidate

import (
	"context"
	"sync"

	"github.com/moyoez/eventmedia/tool"
	"github.com/moyoez/eventmedia/types"
)

// Publisher fans an event out to every instance.
type Publisher interface {
	Publish(ctx context.Context, ev types.InvalidationEvent) error
}

// Subscriber delivers published events. The returned func ends the subscription
// and closes the channel.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan types.InvalidationEvent, func(), error)
}

// Bus is both ends of an event transport.
type Bus interface {
	Publisher
	Subscriber
}

const subscriberBuffer = 64

// LocalBus delivers events inside one process.
type LocalBus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan types.InvalidationEvent
}

func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[int]chan types.InvalidationEvent)}
}

// Publish never blocks; a subscriber that fell behind loses the event.
func (b *LocalBus) Publish(ctx context.Context, ev types.InvalidationEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			tool.DefaultLogger.Warnf("[Invalidate] subscriber %d is full, dropped %s event for %s", id, ev.Kind, ev.ContextKey)
		}
	}
	return nil
}

func (b *LocalBus) Subscribe(ctx context.Context) (<-chan types.InvalidationEvent, func(), error) {
	ch := make(chan types.InvalidationEvent, subscriberBuffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel, nil
}
