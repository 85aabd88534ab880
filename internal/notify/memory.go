package notify

import (
	"context"
	"sync"
)

// Broadcaster is an in-process Notifier. Tabs living in the same process (and
// tests) share one Broadcaster the way browser tabs share storage events.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

var _ Notifier = (*Broadcaster)(nil)

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[*Subscription]struct{})}
}

func (b *Broadcaster) Publish(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		sub.Signal()
	}
	return nil
}

func (b *Broadcaster) Subscribe(ctx context.Context) (*Subscription, error) {
	var sub *Subscription
	sub = NewSubscription(func() {
		b.mu.Lock()
		delete(b.subs, sub)
		b.mu.Unlock()
	})

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.Done():
		}
	}()
	return sub, nil
}

// Subscribers returns the number of open subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Broadcaster) Close() error {
	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	return nil
}
