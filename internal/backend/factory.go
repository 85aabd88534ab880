package backend

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"kasse/internal/amqp"
	"kasse/internal/log"
	"kasse/internal/notify"
	redisnotify "kasse/internal/notify/redis"
	"kasse/internal/storage"
	"kasse/internal/storage/memory"
	redisstore "kasse/internal/storage/redis"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.Default(log.ComponentBackend)
	}
	return &DefaultFactory{
		logger: logger.WithComponent(log.ComponentBackend),
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var (
		cleanups []CleanupFunc
		rdb      goredis.UniversalClient
	)
	fail := func(err error) (*BackendResult, error) {
		_ = runCleanups(cleanups)
		return nil, err
	}

	if config.Storage == RedisStorage || config.Notify == RedisNotify {
		client, err := redisstore.Connect(ctx, redisstore.Options{
			Addr:     config.RedisAddr,
			Password: config.RedisPassword,
			DB:       config.RedisDB,
		})
		if err != nil {
			return fail(fmt.Errorf("failed to connect to Redis: %w", err))
		}
		rdb = client
		cleanups = append(cleanups, client.Close)
		f.logger.Info("Connected to Redis", "addr", config.RedisAddr, "db", config.RedisDB)
	}

	slot, err := f.createSlot(config, rdb)
	if err != nil {
		return fail(err)
	}
	// slot first so it closes after the notifier
	cleanups = append([]CleanupFunc{slot.Close}, cleanups...)

	notifier, err := f.createNotifier(config, rdb)
	if err != nil {
		return fail(err)
	}
	if notifier != nil {
		cleanups = append(cleanups, notifier.Close)
	}

	key := config.StorageKey
	return &BackendResult{
		Slot:     slot,
		Notifier: notifier,
		Ready: func(ctx context.Context) error {
			if _, err := slot.Get(ctx, key); err != nil && !errors.Is(err, storage.ErrSlotEmpty) {
				return err
			}
			return nil
		},
		Cleanup: func() error {
			return runCleanups(cleanups)
		},
	}, nil
}

func (f *DefaultFactory) createSlot(config Config, rdb goredis.UniversalClient) (storage.Slot, error) {
	switch config.Storage {
	case SQLiteStorage:
		slot, err := storage.NewSQLiteSlot(config.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite slot: %w", err)
		}
		f.logger.Info("Initialized SQLite storage", "db_path", config.SQLiteDBPath)
		return slot, nil
	case RedisStorage:
		f.logger.Info("Initialized Redis storage", "addr", config.RedisAddr)
		return redisstore.NewSlot(rdb), nil
	case MemoryStorage:
		f.logger.Info("Initialized memory storage; the ledger is lost on exit")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", config.Storage)
	}
}

// createNotifier returns a nil interface, not a typed nil, for NoNotify.
func (f *DefaultFactory) createNotifier(config Config, rdb goredis.UniversalClient) (notify.Notifier, error) {
	switch config.Notify {
	case AMQPNotify:
		client, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize AMQP client: %w", err)
		}
		f.logger.Info("Initialized AMQP notifier", "exchange", config.AMQPExchange)
		return client, nil
	case RedisNotify:
		f.logger.Info("Initialized Redis notifier", "channel", config.RedisChannel)
		return redisnotify.New(rdb, config.RedisChannel), nil
	case MemoryNotify:
		f.logger.Info("Initialized in-process notifier")
		return notify.NewBroadcaster(), nil
	case NoNotify:
		f.logger.Info("Change notifications disabled, watchers poll only")
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported notify backend: %s", config.Notify)
	}
}

// runCleanups runs fns in reverse order and joins their errors.
func runCleanups(fns []CleanupFunc) error {
	var errs []error
	for i := len(fns) - 1; i >= 0; i-- {
		if err := fns[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
