package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bus-simulator/internal/fleet"
	"bus-simulator/internal/sim"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "bus:42", KeyBus("42"))
	c := newStatusCache(redis.NewClient(&redis.Options{Addr: "localhost:0"}), 0)
	defer c.Close()
	assert.Equal(t, DefaultTTL, c.ttl)
	assert.Equal(t, "bus-simulator:bus:42", c.key(KeyBus("42")))
	assert.Equal(t, "bus-simulator:stats", c.key(KeyStats))
}

func TestPublishEmptyFrameKeepsStats(t *testing.T) {
	// nothing listens here, so any write would fail
	c := newStatusCache(redis.NewClient(&redis.Options{Addr: "localhost:0"}), time.Minute)
	defer c.Close()
	assert.NoError(t, c.Publish(context.Background(), fleet.Frame{Stats: sim.Stats{TimeOfDay: sim.Normal}}))
}

// Runs against a real server when REDIS_TEST_ADDR is set.
func TestStatusCacheRoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	c, err := NewStatusCache(addr, "", 15, time.Minute)
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	f := fleet.Frame{
		Statuses: []sim.StatusSnapshot{{ID: "cache-test-1", RouteID: "10", Speed: 27, Status: sim.StatusMoving}},
		Stats:    sim.Stats{TotalBuses: 1, AverageSpeed: 27, TimeOfDay: sim.Normal, WeatherFactor: 1},
		At:       time.Now(),
	}
	require.NoError(t, c.Publish(ctx, f))

	st, ok, err := c.Status(ctx, "cache-test-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 27, st.Speed)
	assert.Equal(t, "10", st.RouteID)

	stats, ok, err := c.Stats(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, stats.TotalBuses)

	require.NoError(t, c.Publish(ctx, fleet.Frame{At: time.Now()}))
	stats, ok, err = c.Stats(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, stats.TotalBuses)

	require.NoError(t, c.Forget(ctx, "cache-test-1"))
	_, ok, err = c.Status(ctx, "cache-test-1")
	require.NoError(t, err)
	assert.False(t, ok)
}
