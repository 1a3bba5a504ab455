package clustering

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// table задаёт сходство пар по именам; отсутствующие пары - 0.
func table(pairs map[[2]string]float64) SimilarityFunc[string] {
	return func(a, b string) (float64, error) {
		if v, ok := pairs[[2]string{a, b}]; ok {
			return v, nil
		}
		return pairs[[2]string{b, a}], nil
	}
}

func TestClusterSeedBased(t *testing.T) {
	// b похож на a и c, но a и c не похожи
	sim := table(map[[2]string]float64{
		{"a", "b"}: 0.95,
		{"b", "c"}: 0.95,
		{"a", "c"}: 0.10,
	})

	got, err := Cluster([]string{"a", "b", "c"}, 0.92, sim)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b"}, {"c"}}, got)

	// затравкой становится b, и все три попадают в один кластер
	got, err = Cluster([]string{"b", "a", "c"}, 0.92, sim)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"b", "a", "c"}}, got)
}

func TestClusterFiveImages(t *testing.T) {
	sim := table(map[[2]string]float64{
		{"1", "3"}: 0.95,
		{"2", "4"}: 0.5,
		{"2", "5"}: 0.6,
		{"4", "5"}: 0.7,
	})

	got, err := Cluster([]string{"1", "2", "3", "4", "5"}, 0.92, sim)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"1", "3"}, {"2"}, {"4"}, {"5"}}, got)
}

func TestClusterThresholdInclusive(t *testing.T) {
	sim := table(map[[2]string]float64{{"a", "b"}: 0.92})

	got, err := Cluster([]string{"a", "b"}, 0.92, sim)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestClusterDeterministic(t *testing.T) {
	sim := table(map[[2]string]float64{
		{"a", "c"}: 0.99,
		{"b", "d"}: 0.93,
		{"c", "d"}: 0.97,
	})
	items := []string{"a", "b", "c", "d", "e"}

	first, err := ClusterIndices(items, 0.92, sim)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := ClusterIndices(items, 0.92, sim)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}

	total := 0
	for _, c := range first {
		total += len(c)
	}
	assert.Equal(t, len(items), total)
}

func TestClusterEmpty(t *testing.T) {
	got, err := Cluster(nil, 0.9, table(nil))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestClusterPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	_, err := Cluster([]string{"a", "b"}, 0.9, func(a, b string) (float64, error) {
		return 0, boom
	})
	assert.ErrorIs(t, err, boom)
}
