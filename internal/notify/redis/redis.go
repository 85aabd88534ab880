// Package redis fans change signals out over a Redis Pub/Sub channel.
package redis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"kasse/internal/notify"
)

type Notifier struct {
	rdb     redis.UniversalClient
	channel string
}

var _ notify.Notifier = (*Notifier)(nil)

func New(rdb redis.UniversalClient, channel string) *Notifier {
	return &Notifier{rdb: rdb, channel: channel}
}

func (n *Notifier) Publish(ctx context.Context) error {
	if err := n.rdb.Publish(ctx, n.channel, "").Err(); err != nil {
		return fmt.Errorf("publish to %q: %w", n.channel, err)
	}
	return nil
}

// Subscribe waits for the SUBSCRIBE confirmation before returning, so a
// Publish issued after Subscribe returns is never missed.
func (n *Notifier) Subscribe(ctx context.Context) (*notify.Subscription, error) {
	ps := n.rdb.Subscribe(ctx, n.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe to %q: %w", n.channel, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := notify.NewSubscription(func() {
		cancel()
		_ = ps.Close()
	})

	msgs := ps.Channel()
	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					slog.Warn("Redis subscription channel closed", "channel", n.channel)
					return
				}
				sub.Signal()
			}
		}
	}()

	return sub, nil
}

// Close is a no-op; the client is shared with the slot and closed by its owner.
func (n *Notifier) Close() error { return nil }
