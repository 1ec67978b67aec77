package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkorchagin/skyfare/config"
	"github.com/pkorchagin/skyfare/internal/domain"
	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	client     *redis.Client
	catalogTTL time.Duration
}

func NewRedisCache(cfg config.RedisConfig, catalogTTL time.Duration) *RedisCache {
	return &RedisCache{
		client:     redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}),
		catalogTTL: catalogTTL,
	}
}

func (c *RedisCache) GetFlights(ctx context.Context) ([]domain.Flight, error) {
	data, err := c.client.Get(ctx, flightsKey()).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var flights []domain.Flight
	if err := json.Unmarshal(data, &flights); err != nil {
		return nil, err
	}
	return flights, nil
}

func (c *RedisCache) SetFlights(ctx context.Context, flights []domain.Flight) error {
	payload, err := json.Marshal(flights)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, flightsKey(), payload, c.catalogTTL).Err()
}

func (c *RedisCache) InvalidateFlights(ctx context.Context) error {
	return c.client.Del(ctx, flightsKey()).Err()
}

// AcquireLeaderLease takes the scheduler leader lock for ttl. Only the
// holder runs the sweep tick; everybody else skips.
func (c *RedisCache) AcquireLeaderLease(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, leaderKey(name), "leader", ttl).Result()
}

func (c *RedisCache) ReleaseLeaderLease(ctx context.Context, name string) error {
	return c.client.Del(ctx, leaderKey(name)).Err()
}

func flightsKey() string {
	return "cache:flights"
}

func leaderKey(name string) string {
	return "lock:leader:" + name
}
