package pgdb

import (
	"context"
	"testing"
	"time"

	"github.com/DRSN-tech/product-identity/internal/cfg"
	"github.com/DRSN-tech/product-identity/pkg/kv"
	"github.com/DRSN-tech/product-identity/pkg/kv/kvtest"
	"github.com/DRSN-tech/product-identity/pkg/logger"
	"github.com/DRSN-tech/product-identity/pkg/postgres"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestKVStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	dbCfg, container := startPostgres(ctx, t)
	defer func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}()

	db, err := postgres.Connect(dbCfg)
	require.NoError(t, err)
	defer db.Close()

	log := logger.NewNopLogger()
	require.NoError(t, db.RunMigrations(log))

	store := NewKVStore(db.Pool, log)
	kvtest.RunStoreSuite(t, func(t *testing.T) kv.Store {
		return store
	})

	t.Run("purge expired", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, kv.Item{PK: "purge", SK: "old", Value: []byte(`1`), ExpiresAt: time.Now().Add(-time.Minute)}))
		require.NoError(t, store.Put(ctx, kv.Item{PK: "purge", SK: "live", Value: []byte(`1`)}))

		n, err := store.PurgeExpired(ctx)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, int64(1))

		_, err = store.Get(ctx, "purge", "live")
		assert.NoError(t, err)
	})
}

func startPostgres(ctx context.Context, t *testing.T) (*cfg.PGDBCfg, testcontainers.Container) {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image: "postgres:16-alpine",
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
			"POSTGRES_DB":       "testdb",
		},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	return &cfg.PGDBCfg{
		Host:     host,
		Port:     port.Port(),
		User:     "testuser",
		Password: "testpass",
		DBName:   "testdb",
		SSLMode:  "disable",
		MaxConns: 4,
	}, container
}
