package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "coop-loan:"

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

// NewRedisCache connects to Redis and pings it before returning.
func NewRedisCache(ctx context.Context, opts RedisOptions, log *zap.Logger) (*RedisCache, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log.Info("connecting to redis", zap.String("addr", opts.Addr), zap.Int("db", opts.DB))

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return &RedisCache{client: client, ttl: opts.TTL, log: log}, nil
}

func (r *RedisCache) Get(key string) (string, bool) {
	val, err := r.client.Get(context.Background(), keyPrefix+key).Result()
	if err != nil {
		if err != redis.Nil {
			r.log.Warn("redis get failed", zap.String("key", key), zap.Error(err))
		}
		return "", false
	}
	return val, true
}

func (r *RedisCache) Set(key string, value string) error {
	return r.client.Set(context.Background(), keyPrefix+key, value, r.ttl).Err()
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}
