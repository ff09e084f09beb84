package app

import (
	"context"
	"time"

	"oidc-gateway/internal/config"
	"oidc-gateway/internal/logger"
	"oidc-gateway/internal/redis"
	"oidc-gateway/internal/session"
)

const janitorInterval = time.Minute

type Infra struct {
	Sessions session.Store
	Redis    *redis.Client

	stopJanitor context.CancelFunc
}

func setupInfra(ctx context.Context, cfg config.Config) (*Infra, error) {
	switch cfg.SessionBackend {
	case config.BackendRedis:
		redisClient, err := redis.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}

		logger.Info("redis ready", map[string]any{
			"addr": cfg.RedisAddr,
			"db":   cfg.RedisDB,
		})

		return &Infra{
			Sessions: session.NewRedisStore(redisClient.Client, cfg.SessionTTL),
			Redis:    redisClient,
		}, nil

	default:
		store := session.NewMemoryStore(cfg.SessionTTL)

		janitorCtx, cancel := context.WithCancel(context.Background())
		go store.RunJanitor(janitorCtx, janitorInterval)

		logger.Info("memory session store ready", map[string]any{
			"ttl": cfg.SessionTTL.String(),
		})

		return &Infra{
			Sessions:    store,
			stopJanitor: cancel,
		}, nil
	}
}

func (i *Infra) Close() error {
	if i.stopJanitor != nil {
		i.stopJanitor()
	}
	if i.Redis != nil {
		return i.Redis.Close()
	}
	return nil
}
