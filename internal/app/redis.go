package app

import (
	"token-broker/internal/common/logging"
	"token-broker/internal/config"
	"token-broker/internal/locks"
	"token-broker/internal/redis"
)

func (app *App) initializeRedis() error {
	redisConfig := app.Config.RedisConfig()
	if redisConfig == nil {
		app.Logger.Info("Redis: Not configured (local authorization state, no distributed refresh locks)")
		return nil
	}

	redisClient, err := redis.NewClient(redisConfig)
	if err != nil {
		if app.Config.TokenStore == config.StoreRedis {
			return err
		}
		// Redis is optional unless it holds the tokens
		app.Logger.Warn("Redis initialization failed, continuing without Redis", logging.Err(err))
		return nil
	}
	app.RedisClient = redisClient
	app.Logger.Info("Redis: Connected", logging.String("address", redisConfig.Address))

	lockManager, err := locks.NewRedsyncManager(redisClient, app.Logger)
	if err != nil {
		return err
	}
	app.Locks = lockManager
	app.Logger.Info("Distributed refresh locks: Enabled")

	return nil
}
