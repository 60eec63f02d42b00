package notify

import (
	"context"
	"sync"
)

// Subscriber streams events published on a channel until ctx is done.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan Event, error)
}

// Bus is both ends of a pub/sub transport.
type Bus interface {
	Dispatcher
	Subscriber
}

// MemoryBus is an in-process Bus for a single api-server.
type MemoryBus struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subscribers: make(map[string]map[chan Event]struct{})}
}

func (b *MemoryBus) Notify(_ context.Context, ev Event) error {
	b.publish(EventsChannel(ev.Type), ev)
	if ev.Type == QueuePositionUpdate {
		b.publish(QueueChannel(ev.DoctorID, ev.Date), ev)
	}
	return nil
}

func (b *MemoryBus) publish(channel string, ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers[channel] {
		select {
		case sub <- ev:
		default:
			// slow subscriber
		}
	}
}

func (b *MemoryBus) Subscribe(ctx context.Context, channel string) (<-chan Event, error) {
	ch := make(chan Event, 16)

	b.mu.Lock()
	if b.subscribers[channel] == nil {
		b.subscribers[channel] = make(map[chan Event]struct{})
	}
	b.subscribers[channel][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subscribers[channel], ch)
		if len(b.subscribers[channel]) == 0 {
			delete(b.subscribers, channel)
		}
		b.mu.Unlock()
		close(ch)
	}()

	return ch, nil
}
