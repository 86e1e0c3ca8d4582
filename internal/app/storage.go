package app

import (
	"context"
	"fmt"

	"token-broker/internal/common/cache"
	"token-broker/internal/common/logging"
	"token-broker/internal/config"
	"token-broker/internal/crypto"
	"token-broker/internal/oauth2"
	"token-broker/internal/storage"
)

func (app *App) initializeStorage(ctx context.Context) error {
	var store oauth2.TokenStore

	switch app.Config.TokenStore {
	case config.StoreMemory:
		app.Logger.Warn("Token store: Memory (tokens are lost on restart)")
		store = oauth2.NewMemoryTokenStorage()

	case config.StoreRedis:
		if app.RedisClient == nil {
			return fmt.Errorf("redis token store requires REDIS_ADDRESS")
		}
		app.Logger.Info("Token store: Redis")
		store = oauth2.NewRedisTokenStorage(app.RedisClient)

	default:
		storageConfig := app.Config.StorageConfig()
		if storageConfig.Type == storage.TypePostgres {
			app.Logger.Info("Token store: PostgreSQL",
				logging.String("host", storageConfig.Host),
				logging.String("port", storageConfig.Port),
				logging.String("database", storageConfig.Database))
		} else {
			app.Logger.Info("Token store: SQLite", logging.String("path", storageConfig.Path))
		}

		sqlStore, err := storage.Open(ctx, storageConfig)
		if err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}
		app.SQLStore = sqlStore
		store = oauth2.NewDBTokenStorage(sqlStore)
	}

	if app.Config.EncryptionKey == "" {
		app.Logger.Info("Token encryption disabled (no encryption key provided)")
		app.TokenStore = store
		return nil
	}

	encryptor, err := crypto.NewConfigEncryptor(app.Config.EncryptionKey)
	if err != nil {
		return err
	}
	app.TokenStore = oauth2.NewEncryptedTokenStorage(store, encryptor)
	app.Logger.Info("Token encryption enabled")
	return nil
}

// initializeStates picks the correlation state cache: Redis when available so
// any instance can finish an authorization, local otherwise
func (app *App) initializeStates() error {
	cacheConfig := cache.DefaultConfig()
	cacheConfig.TTL = app.Config.StateTTLDuration()
	if app.RedisClient != nil {
		cacheConfig.Type = cache.TypeRedis
		cacheConfig.RedisClient = app.RedisClient
	}

	states, err := cache.New(cacheConfig)
	if err != nil {
		return err
	}
	app.States = states
	return nil
}
