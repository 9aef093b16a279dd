package cache

import (
	"context"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/billingkit/internal/pkg/config"
)

// SetupCache connects the redis client used by the counters. A failed ping is only logged,
// callers degrade when redis is down.
func SetupCache(cfg config.Cache) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       0,
	})

	pong, err := client.Ping(context.Background()).Result()
	if err != nil {
		log.Warnf("[Cache] Could not connect to redis at %s: %v", cfg.Addr(), err)
	} else {
		log.Infof("[Cache] Connected to redis: %s", pong)
	}
	return client
}
