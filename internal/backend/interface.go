package backend

import (
	"context"

	"kasse/internal/notify"
	"kasse/internal/storage"
)

// CleanupFunc releases resources held by a backend
type CleanupFunc func() error

// ReadyFunc reports whether the backend can serve requests
type ReadyFunc func(ctx context.Context) error

// BackendResult contains the slot, the change notifier and their cleanup
type BackendResult struct {
	Slot storage.Slot
	// Notifier is nil when change signals are disabled; watchers then poll only.
	Notifier notify.Notifier
	Ready    ReadyFunc
	Cleanup  CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Storage StorageType
	Notify  NotifyType

	// Key the ledger document is stored under, read by Ready.
	StorageKey string

	// SQLite specific
	SQLiteDBPath string

	// Redis specific, shared by storage and notify
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisChannel  string

	// AMQP specific
	AMQPURL      string
	AMQPExchange string
}

// StorageType selects where the ledger slot lives
type StorageType string

const (
	MemoryStorage StorageType = "memory"
	SQLiteStorage StorageType = "sqlite"
	RedisStorage  StorageType = "redis"
)

func (st StorageType) String() string {
	return string(st)
}

func (st StorageType) IsValid() bool {
	switch st {
	case MemoryStorage, SQLiteStorage, RedisStorage:
		return true
	default:
		return false
	}
}

// NotifyType selects how change signals travel between tabs
type NotifyType string

const (
	NoNotify     NotifyType = "none"
	MemoryNotify NotifyType = "memory"
	AMQPNotify   NotifyType = "amqp"
	RedisNotify  NotifyType = "redis"
)

func (nt NotifyType) String() string {
	return string(nt)
}

func (nt NotifyType) IsValid() bool {
	switch nt {
	case NoNotify, MemoryNotify, AMQPNotify, RedisNotify:
		return true
	default:
		return false
	}
}
