// Package storage provides the persisted key-value slot the ledger document lives in.
package storage

import (
	"context"
	"errors"
)

// ErrSlotEmpty is returned by Get when nothing was ever stored under the key.
var ErrSlotEmpty = errors.New("storage slot is empty")

// Slot is a key-value store holding opaque blobs. Set overwrites the whole
// value; there is no compare-and-swap and the last writer wins.
type Slot interface {
	// Get returns the stored value or ErrSlotEmpty.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set replaces the value stored under key.
	Set(ctx context.Context, key string, value []byte) error

	// Close releases any resources held by the slot.
	Close() error
}
