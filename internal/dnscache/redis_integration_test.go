//go:build integration

package dnscache_test

import (
	"context"
	"fmt"
	"net"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/optimode/emailprobe/internal/dnscache"
)

var (
	redisClient    *redis.Client
	redisContainer testcontainers.Container
)

// TestMain sets up a shared Redis container for the integration tests.
func TestMain(m *testing.M) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor: wait.ForLog("Ready to accept connections").
			WithStartupTimeout(60 * time.Second),
	}

	var err error
	redisContainer, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start redis container: %v\n", err)
		os.Exit(1)
	}

	host, err := redisContainer.Host(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get container host: %v\n", err)
		os.Exit(1)
	}
	port, err := redisContainer.MappedPort(ctx, "6379")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get container port: %v\n", err)
		os.Exit(1)
	}

	redisClient = redis.NewClient(&redis.Options{Addr: net.JoinHostPort(host, port.Port())})

	code := m.Run()

	_ = redisClient.Close()
	if err := redisContainer.Terminate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to terminate container: %v\n", err)
	}
	os.Exit(code)
}

func TestRedisStore_GetSet(t *testing.T) {
	ctx := context.Background()
	s := dnscache.NewRedisStore(redisClient, "test:")

	_, found, err := s.Get(ctx, "mx:missing.com")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Set(ctx, "mx:example.com", []byte(`{"mx":[]}`), time.Minute))
	b, found, err := s.Get(ctx, "mx:example.com")
	require.NoError(t, err)
	assert.True(t, found)
	assert.JSONEq(t, `{"mx":[]}`, string(b))

	ttl, err := redisClient.TTL(ctx, "test:mx:example.com").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestRedisStore_SharedBetweenCaches(t *testing.T) {
	store := dnscache.NewRedisStore(redisClient, "shared:")
	r := &mockResolver{records: []*net.MX{{Host: "mx.redis.test.", Pref: 10}}}

	a := dnscache.NewWithResolver(2*time.Second, time.Minute, r)
	a.SetStore(store)
	_, err := a.LookupMX(context.Background(), "redis.test")
	require.NoError(t, err)

	b := dnscache.NewWithResolver(2*time.Second, time.Minute, r)
	b.SetStore(store)
	recs, err := b.LookupMX(context.Background(), "redis.test")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "mx.redis.test.", recs[0].Host)
	assert.Equal(t, int64(1), r.calls.Load())
}
