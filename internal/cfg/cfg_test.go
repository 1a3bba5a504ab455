package cfg

import (
	"testing"
	"time"

	"github.com/DRSN-tech/product-identity/internal/domain"
	"github.com/DRSN-tech/product-identity/pkg/e"
	"github.com/DRSN-tech/product-identity/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("KAFKA_BROKERS", "")

	c, err := Load(logger.NewNopLogger())
	require.NoError(t, err)

	assert.InDelta(t, 0.92, c.Engine.Thresholds.SameProduct, 1e-9)
	assert.InDelta(t, 0.85, c.Engine.Thresholds.LikelySame, 1e-9)
	assert.InDelta(t, 0.75, c.Engine.Thresholds.PossiblySame, 1e-9)
	assert.InDelta(t, 0.92, c.Engine.ClusterThreshold, 1e-9)
	assert.Equal(t, int64(20*1024*1024), c.Engine.MaxImageSize)
	assert.Equal(t, 30*24*time.Hour, c.Engine.EmbeddingTTL)
	assert.Equal(t, 90*24*time.Hour, c.Engine.GroupTTL)
	assert.True(t, c.Engine.IncludeExisting)
	assert.False(t, c.Kafka.Enabled)
	assert.Equal(t, EmbeddingBackendKV, c.Store.EmbeddingBackend)
}

func TestLoadEngineOverrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("ENGINE_MULTI_SIGNAL_ENABLED", "true")
	t.Setenv("ENGINE_SIGNAL_WEIGHTS", "spatial=0.5,feature=0.5")
	t.Setenv("ENGINE_CLUSTER_THRESHOLD", "0.88")

	c, err := Load(logger.NewNopLogger())
	require.NoError(t, err)

	assert.True(t, c.Engine.MultiSignal)
	assert.InDelta(t, 0.5, c.Engine.Weights[domain.SignalSpatial], 1e-9)
	assert.InDelta(t, 0.88, c.Engine.ClusterThreshold, 1e-9)
}

func TestLoadRejectsInvalidEngineConfig(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want error
	}{
		{
			name: "thresholds out of order",
			env:  map[string]string{"ENGINE_LIKELY_SAME_THRESHOLD": "0.95"},
			want: e.ErrInvalidThresholds,
		},
		{
			name: "weights do not sum to one",
			env:  map[string]string{"ENGINE_SIGNAL_WEIGHTS": "spatial=0.5"},
			want: e.ErrInvalidWeights,
		},
		{
			name: "unknown backend",
			env:  map[string]string{"STORE_BACKEND": "dynamo"},
			want: e.ErrIncorrectEnvVariable,
		},
		{
			name: "bad float",
			env:  map[string]string{"ENGINE_SAME_PRODUCT_THRESHOLD": "high"},
			want: e.ErrIncorrectEnvVariable,
		},
		{
			name: "bad duration",
			env:  map[string]string{"ENGINE_CALL_TIMEOUT": "soon"},
			want: e.ErrIncorrectEnvVariable,
		},
		{
			name: "cluster threshold out of range",
			env:  map[string]string{"ENGINE_CLUSTER_THRESHOLD": "1.5"},
			want: e.ErrIncorrectEnvVariable,
		},
		{
			name: "non-positive limit",
			env:  map[string]string{"ENGINE_PAGE_SIZE": "0"},
			want: e.ErrIncorrectEnvVariable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("STORE_BACKEND", "memory")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load(logger.NewNopLogger())
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestLoadPostgresRequiresCredentials(t *testing.T) {
	t.Setenv("STORE_BACKEND", "postgres")
	t.Setenv("POSTGRES_USER", "")

	_, err := Load(logger.NewNopLogger())
	assert.Error(t, err)
}

func TestLoadPostgresPool(t *testing.T) {
	t.Setenv("STORE_BACKEND", "postgres")
	t.Setenv("POSTGRES_USER", "u")
	t.Setenv("POSTGRES_PASSWORD", "p")
	t.Setenv("POSTGRES_DB", "identity")
	t.Setenv("POSTGRES_MAX_CONNS", "20")
	t.Setenv("POSTGRES_MIN_CONNS", "2")

	c, err := Load(logger.NewNopLogger())
	require.NoError(t, err)

	assert.Equal(t, int32(20), c.Db.MaxConns)
	assert.Equal(t, int32(2), c.Db.MinConns)
	assert.Empty(t, c.Db.MigrationsDir)

	t.Setenv("POSTGRES_MIN_CONNS", "30")
	_, err = Load(logger.NewNopLogger())
	assert.ErrorIs(t, err, e.ErrIncorrectEnvVariable)
}

func TestLoadKafkaEnabled(t *testing.T) {
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	c, err := Load(logger.NewNopLogger())
	require.NoError(t, err)

	assert.True(t, c.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
	assert.Equal(t, "image.uploaded", c.Kafka.UploadTopic)
}
