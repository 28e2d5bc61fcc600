package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/presence-service/internal/config"
)

const redisStartupPing = 3 * time.Second

// ErrRedisDisabled is returned by Ping when the relay is switched off.
var ErrRedisDisabled = errors.New("redis not enabled")

// Redis carries the client used by the cross-instance roster relay.
type Redis struct {
	Client *redis.Client
}

// NewRedis builds the relay client. A disabled config yields a Redis with a
// nil client and the service keeps roster pushes local. An unreachable
// server only warns: go-redis reconnects on its own and the relay retries.
func NewRedis(ctx context.Context, cfg config.RedisConfig, clientName string, logger *zap.Logger) *Redis {
	if !cfg.Enabled {
		logger.Info("redis disabled; roster changes stay local to this instance")
		return &Redis{}
	}

	client := redis.NewClient(redisOptions(cfg, clientName))

	pingCtx, cancel := context.WithTimeout(ctx, redisStartupPing)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("unable to reach redis", zap.String("addr", cfg.Addr), zap.Error(err))
	} else {
		logger.Info("connected to redis", zap.String("addr", cfg.Addr), zap.String("channel", cfg.Channel))
	}
	return &Redis{Client: client}
}

func redisOptions(cfg config.RedisConfig, clientName string) *redis.Options {
	return &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		ClientName: clientName,
	}
}

// Enabled reports whether a client was configured.
func (r *Redis) Enabled() bool {
	return r != nil && r.Client != nil
}

// Close closes the client.
func (r *Redis) Close() {
	if r.Enabled() {
		_ = r.Client.Close()
	}
}

// Ping verifies Redis connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	if !r.Enabled() {
		return ErrRedisDisabled
	}
	return r.Client.Ping(ctx).Err()
}
