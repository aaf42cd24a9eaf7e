// Package cache keeps the last known bus snapshots in Redis so readers
// outside the process can see the fleet without subscribing to a stream.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"bus-simulator/internal/fleet"
	"bus-simulator/internal/sim"
)

const DefaultTTL = 5 * time.Minute

type StatusCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewStatusCache(addr, password string, db int, ttl time.Duration) (*StatusCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return newStatusCache(client, ttl), nil
}

func newStatusCache(client *redis.Client, ttl time.Duration) *StatusCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &StatusCache{client: client, prefix: "bus-simulator:", ttl: ttl}
}

func (c *StatusCache) Close() error {
	return c.client.Close()
}

func (c *StatusCache) key(k string) string {
	return c.prefix + k
}

func (c *StatusCache) Name() string { return "redis" }

// Publish writes every snapshot and the stats of a frame in one pipeline. An
// empty frame leaves the last fleet stats in place.
func (c *StatusCache) Publish(ctx context.Context, f fleet.Frame) error {
	if len(f.Statuses) == 0 {
		return nil
	}
	start := time.Now()
	pipe := c.client.Pipeline()
	for _, st := range f.Statuses {
		data, err := json.Marshal(st)
		if err != nil {
			return fmt.Errorf("json marshal: %w", err)
		}
		pipe.Set(ctx, c.key(KeyBus(st.ID)), data, c.ttl)
	}
	stats, err := json.Marshal(f.Stats)
	if err != nil {
		return fmt.Errorf("json marshal: %w", err)
	}
	pipe.Set(ctx, c.key(KeyStats), stats, c.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	log.WithFields(log.Fields{"buses": len(f.Statuses), "duration_ms": time.Since(start).Milliseconds()}).Debug("cache updated")
	return nil
}

// Forget drops the cached snapshot of a bus.
func (c *StatusCache) Forget(ctx context.Context, busID string) error {
	return c.client.Del(ctx, c.key(KeyBus(busID))).Err()
}

// Status returns the cached snapshot of a bus. ok is false on a miss.
func (c *StatusCache) Status(ctx context.Context, busID string) (sim.StatusSnapshot, bool, error) {
	var st sim.StatusSnapshot
	ok, err := c.getJSON(ctx, KeyBus(busID), &st)
	return st, ok, err
}

func (c *StatusCache) Stats(ctx context.Context) (sim.Stats, bool, error) {
	var st sim.Stats
	ok, err := c.getJSON(ctx, KeyStats, &st)
	return st, ok, err
}

func (c *StatusCache) getJSON(ctx context.Context, key string, dest any) (bool, error) {
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("json unmarshal: %w", err)
	}
	return true, nil
}
