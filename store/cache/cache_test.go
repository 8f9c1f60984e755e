package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	testClient    *redis.Client
	testContainer testcontainers.Container
	skipTests     bool
)

func setupRedis() {
	ctx := context.Background()

	var containerErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				containerErr = fmt.Errorf("docker not available: %v", r)
			}
		}()
		req := testcontainers.ContainerRequest{
			Image:        "redis:7",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		}
		testContainer, containerErr = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
	}()
	if containerErr != nil {
		skipTests = true
		return
	}

	host, err := testContainer.Host(ctx)
	if err != nil {
		skipTests = true
		return
	}
	port, err := testContainer.MappedPort(ctx, "6379")
	if err != nil {
		skipTests = true
		return
	}

	testClient = redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	if err := testClient.Ping(ctx).Err(); err != nil {
		skipTests = true
	}
}

func getCache(t *testing.T) *Cache {
	t.Helper()
	if testClient == nil && !skipTests {
		setupRedis()
	}
	if skipTests {
		t.Skip("docker not available, skipping Redis-backed cache test")
	}
	return New(testClient, "pml_test_"+t.Name())
}

func TestSetGetRoundTrip(t *testing.T) {
	c := getCache(t)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "cap:a", 0.75, time.Minute))

	v, ok, err := c.Get(ctx, "cap:a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 0.75, v, 1e-9)
}

func TestGetMissingKey(t *testing.T) {
	c := getCache(t)
	_, ok, err := c.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIncrBy(t *testing.T) {
	c := getCache(t)
	ctx := context.Background()
	v, err := c.IncrBy(ctx, "cap:a", 2)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, v, 1e-9)

	v, err = c.IncrBy(ctx, "cap:a", 3)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, v, 1e-9)
}

func TestPushAndPullCounters(t *testing.T) {
	c := getCache(t)
	ctx := context.Background()
	require.NoError(t, c.PushCounters(ctx, map[string]float64{"cap:a": 3, "cap:b": 7}))

	pulled, err := c.PullCounters(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, pulled["cap:a"], 1e-9)
	assert.InDelta(t, 7.0, pulled["cap:b"], 1e-9)
}

func TestKeysScopedToPrefix(t *testing.T) {
	c := getCache(t)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "x", 1, 0))
	require.NoError(t, c.Set(ctx, "y", 2, 0))
	keys, err := c.Keys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"x", "y"}, keys)
}
