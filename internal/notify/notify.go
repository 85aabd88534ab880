// Package notify carries the zero-payload "the ledger changed" signal between
// processes. Receivers must re-read the whole ledger; the signal says nothing
// about what changed.
package notify

import (
	"context"
	"sync"
)

// Notifier publishes change signals and hands out subscriptions to them.
type Notifier interface {
	// Publish tells every subscriber, including ones in this process, that the
	// ledger was written.
	Publish(ctx context.Context) error

	// Subscribe starts receiving change signals until the subscription is closed
	// or ctx is cancelled.
	Subscribe(ctx context.Context) (*Subscription, error)

	// Close releases transport resources.
	Close() error
}

// Subscription delivers coalesced change signals. Signals arriving while a
// previous one is still unread collapse into one, which is fine because the
// receiver always re-reads the full state.
type Subscription struct {
	c         chan struct{}
	closeOnce sync.Once
	done      chan struct{}
	onClose   func()
}

// NewSubscription returns a subscription whose cleanup runs once on Close.
func NewSubscription(onClose func()) *Subscription {
	return &Subscription{
		c:       make(chan struct{}, 1),
		done:    make(chan struct{}),
		onClose: onClose,
	}
}

// C returns the channel signals arrive on.
func (s *Subscription) C() <-chan struct{} { return s.c }

// Done is closed once the subscription is closed.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Signal delivers a signal without blocking.
func (s *Subscription) Signal() {
	select {
	case <-s.done:
	case s.c <- struct{}{}:
	default:
	}
}

func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		if s.onClose != nil {
			s.onClose()
		}
		close(s.done)
	})
}
