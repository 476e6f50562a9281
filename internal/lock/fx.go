package lock

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/alima/internal/clock"
	"github.com/smallbiznis/alima/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("lock",
	fx.Provide(NewFromConfig),
)

// NewFromConfig uses Redis when REDIS_ADDR is set so that every replica
// shares claims.
func NewFromConfig(lc fx.Lifecycle, cfg config.Config, clk clock.Clock, log *zap.Logger) Locker {
	if cfg.Redis.Addr == "" {
		log.Warn("lock.redis.unconfigured", zap.String("fallback", "memory"))
		return NewMemoryLocker(clk)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return NewRedisLocker(client)
}
