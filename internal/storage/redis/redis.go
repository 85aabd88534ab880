// Package redis keeps the slot in a Redis string key, so processes on
// different machines can share one ledger.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"kasse/internal/storage"
)

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// Connect opens a client and verifies it with a PING.
func Connect(ctx context.Context, opts Options) (redis.UniversalClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		OnConnect: func(ctx context.Context, cn *redis.Conn) error {
			// shows up in CLIENT LIST
			_ = cn.ClientSetName(ctx, "kasse").Err()
			return nil
		},
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	return rdb, nil
}

// Slot implements storage.Slot on top of GET/SET.
type Slot struct {
	rdb redis.UniversalClient
}

var _ storage.Slot = (*Slot)(nil)

func NewSlot(rdb redis.UniversalClient) *Slot {
	return &Slot{rdb: rdb}
}

func (s *Slot) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrSlotEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %q: %w", key, err)
	}
	return v, nil
}

func (s *Slot) Set(ctx context.Context, key string, value []byte) error {
	if err := s.rdb.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// Close is a no-op; the client is shared with the notifier and closed by its owner.
func (s *Slot) Close() error { return nil }
