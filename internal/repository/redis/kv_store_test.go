package redis

import (
	"context"
	"testing"
	"time"

	"github.com/DRSN-tech/product-identity/internal/cfg"
	"github.com/DRSN-tech/product-identity/pkg/clients"
	"github.com/DRSN-tech/product-identity/pkg/kv"
	"github.com/DRSN-tech/product-identity/pkg/kv/kvtest"
	"github.com/DRSN-tech/product-identity/pkg/logger"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestKVStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	addr, container := startRedis(ctx, t)
	defer func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}()

	client := clients.NewRedisClient(&cfg.RedisCfg{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
		Timeout:     5 * time.Second,
	})
	defer client.Close()
	require.NoError(t, client.Ping(ctx))

	kvtest.RunStoreSuite(t, func(t *testing.T) kv.Store {
		return NewKVStore(client, logger.NewNopLogger())
	})
}

func startRedis(ctx context.Context, t *testing.T) (string, testcontainers.Container) {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)

	return host + ":" + port.Port(), container
}
