package similarity

import (
	"testing"

	"github.com/DRSN-tech/product-identity/internal/domain"
	"github.com/DRSN-tech/product-identity/pkg/e"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosine(t *testing.T) {
	t.Run("identical vectors", func(t *testing.T) {
		for _, v := range [][]float32{{1}, {1, 2, 3}, {-0.5, 0.25, 8, 3}} {
			got, err := Cosine(v, v)
			require.NoError(t, err)
			assert.InDelta(t, 1.0, got, 1e-9)
		}
	})

	t.Run("orthogonal", func(t *testing.T) {
		got, err := Cosine([]float32{1, 0}, []float32{0, 1})
		require.NoError(t, err)
		assert.InDelta(t, 0.0, got, 1e-9)
	})

	t.Run("opposite clamped to zero", func(t *testing.T) {
		got, err := Cosine([]float32{1, 1}, []float32{-1, -1})
		require.NoError(t, err)
		assert.Equal(t, 0.0, got)
	})

	t.Run("zero norm", func(t *testing.T) {
		got, err := Cosine([]float32{0, 0}, []float32{1, 2})
		require.NoError(t, err)
		assert.Equal(t, 0.0, got)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		_, err := Cosine([]float32{1, 2}, []float32{1, 2, 3})
		assert.ErrorIs(t, err, e.ErrDimensionMismatch)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := Cosine(nil, []float32{1})
		assert.ErrorIs(t, err, e.ErrEmptyVector)
		_, err = Cosine([]float32{}, []float32{})
		assert.ErrorIs(t, err, e.ErrEmptyVector)
	})
}

func TestClassify(t *testing.T) {
	th := DefaultThresholds()

	tests := []struct {
		score float64
		want  domain.Classification
	}{
		{1.0, domain.SameProduct},
		{0.92, domain.SameProduct},
		{0.9199, domain.LikelySame},
		{0.85, domain.LikelySame},
		{0.8499, domain.PossiblySame},
		{0.75, domain.PossiblySame},
		{0.7499, domain.Different},
		{0, domain.Different},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, th.Classify(tt.score), "score %v", tt.score)
	}
}

func TestThresholdsValidate(t *testing.T) {
	require.NoError(t, DefaultThresholds().Validate())

	bad := []Thresholds{
		{SameProduct: 0.8, LikelySame: 0.85, PossiblySame: 0.75},
		{SameProduct: 0.9, LikelySame: 0.9, PossiblySame: 0.75},
		{SameProduct: 1.1, LikelySame: 0.85, PossiblySame: 0.75},
		{SameProduct: 0.9, LikelySame: 0.85, PossiblySame: 0},
	}
	for _, th := range bad {
		assert.ErrorIs(t, th.Validate(), e.ErrInvalidThresholds, "%+v", th)
	}
}

func TestParseWeights(t *testing.T) {
	w, err := ParseWeights("spatial=0.1, feature=0.4,semantic=0.3,composition=0.1,background=0.1")
	require.NoError(t, err)
	assert.InDelta(t, 0.4, w[domain.SignalFeature], 1e-9)

	w, err = ParseWeights("feature=1")
	require.NoError(t, err)
	assert.Zero(t, w[domain.SignalSpatial])

	_, err = ParseWeights("spatial=0.5,feature=0.2")
	assert.ErrorIs(t, err, e.ErrInvalidWeights)

	_, err = ParseWeights("color=1")
	assert.ErrorIs(t, err, e.ErrInvalidWeights)

	_, err = ParseWeights("spatial")
	assert.ErrorIs(t, err, e.ErrInvalidWeights)

	require.NoError(t, DefaultWeights().Validate())
}

func TestMultiSignal(t *testing.T) {
	en := NewEngine(DefaultThresholds(), nil, true)

	a := &domain.ImageFeatures{
		Labels:      []string{"Shoe", "sneaker"},
		Colors:      []string{"white"},
		Category:    "footwear",
		Brand:       "Acme",
		AspectRatio: 1.0,
	}
	b := &domain.ImageFeatures{
		Labels:      []string{"shoe", "sneaker"},
		Colors:      []string{"white", "red"},
		Category:    "Footwear",
		Brand:       "Other",
		AspectRatio: 1.0,
	}

	score, ok := en.MultiSignal(a, b)
	require.True(t, ok)

	assert.InDelta(t, 1.0, score.Breakdown[domain.SignalSpatial], 1e-9)
	assert.InDelta(t, 1.0, score.Breakdown[domain.SignalFeature], 1e-9)
	assert.InDelta(t, 0.5, score.Breakdown[domain.SignalSemantic], 1e-9)
	assert.InDelta(t, 0.5, score.Breakdown[domain.SignalComposition], 1e-9)
	assert.NotContains(t, score.Breakdown, domain.SignalBackground)

	// background отсутствует, оставшиеся четыре веса нормируются до 1
	assert.InDelta(t, 0.75, score.Total, 1e-9)

	_, ok = en.MultiSignal(a, nil)
	assert.False(t, ok)

	_, ok = en.MultiSignal(&domain.ImageFeatures{}, &domain.ImageFeatures{})
	assert.False(t, ok)
}

func TestScoreFallsBackToCosine(t *testing.T) {
	en := NewEngine(DefaultThresholds(), DefaultWeights(), true)

	a := domain.NewEmbedding("a", "t", []float32{1, 0}, nil)
	b := domain.NewEmbedding("b", "t", []float32{1, 0}, &domain.ImageMetadata{
		Features: &domain.ImageFeatures{Labels: []string{"x"}},
	})

	score, err := en.Score(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, score.Total, 1e-9)
	assert.Empty(t, score.Breakdown)

	c := domain.NewEmbedding("c", "t", []float32{1, 0, 0}, nil)
	_, err = en.Similarity(a, c)
	assert.ErrorIs(t, err, e.ErrDimensionMismatch)
}

func TestScoreCosineOnlyWhenDisabled(t *testing.T) {
	en := NewEngine(DefaultThresholds(), DefaultWeights(), false)
	f := &domain.ImageFeatures{Labels: []string{"x"}}

	a := domain.NewEmbedding("a", "t", []float32{1, 0}, &domain.ImageMetadata{Features: f})
	b := domain.NewEmbedding("b", "t", []float32{0, 1}, &domain.ImageMetadata{Features: f})

	score, err := en.Score(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, score.Total, 1e-9)
	assert.False(t, en.MultiSignalEnabled())
}
