package backend

import (
	"fmt"

	"kasse/internal/config"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	cfg := Config{
		Storage:    StorageType(appConfig.StorageBackend),
		Notify:     NotifyType(appConfig.NotifyBackend),
		StorageKey: appConfig.StorageKey,

		SQLiteDBPath: appConfig.SQLiteDBPath,

		RedisAddr:     appConfig.RedisAddr,
		RedisPassword: appConfig.RedisPassword,
		RedisDB:       appConfig.RedisDB,
		RedisChannel:  appConfig.RedisChannel,

		AMQPURL:      appConfig.AMQPURL,
		AMQPExchange: appConfig.AMQPExchange,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Storage.IsValid() {
		return fmt.Errorf("invalid storage backend: %s", c.Storage)
	}
	if !c.Notify.IsValid() {
		return fmt.Errorf("invalid notify backend: %s", c.Notify)
	}

	switch c.Storage {
	case SQLiteStorage:
		if c.SQLiteDBPath == "" {
			return fmt.Errorf("SQLite database path is required for sqlite storage")
		}
	case RedisStorage:
		if c.RedisAddr == "" {
			return fmt.Errorf("Redis address is required for redis storage")
		}
	}

	switch c.Notify {
	case AMQPNotify:
		if c.AMQPURL == "" || c.AMQPExchange == "" {
			return fmt.Errorf("AMQP URL and exchange are required for amqp notify")
		}
	case RedisNotify:
		if c.RedisAddr == "" || c.RedisChannel == "" {
			return fmt.Errorf("Redis address and channel are required for redis notify")
		}
	}

	return nil
}
