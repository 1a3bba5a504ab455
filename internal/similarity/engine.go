package similarity

import (
	"math"
	"strings"

	"github.com/DRSN-tech/product-identity/internal/domain"
)

// Engine считает сходство пар изображений: косинус эмбеддингов либо, если включено и у обоих
// изображений есть признаки, взвешенную смесь сигналов.
// Веса и границы проверяются при загрузке конфигурации, не здесь.
type Engine struct {
	thresholds  Thresholds
	weights     Weights
	multiSignal bool
}

func NewEngine(thresholds Thresholds, weights Weights, multiSignal bool) *Engine {
	if weights == nil {
		weights = DefaultWeights()
	}
	return &Engine{
		thresholds:  thresholds,
		weights:     weights,
		multiSignal: multiSignal,
	}
}

func (en *Engine) Thresholds() Thresholds {
	return en.thresholds
}

func (en *Engine) MultiSignalEnabled() bool {
	return en.multiSignal
}

func (en *Engine) Classify(score float64) domain.Classification {
	return en.thresholds.Classify(score)
}

// Score возвращает итоговую оценку пары. Breakdown пуст, если использован косинус.
func (en *Engine) Score(a, b *domain.Embedding) (domain.SimilarityScore, error) {
	if en.multiSignal {
		if score, ok := en.MultiSignal(a.Features(), b.Features()); ok {
			return score, nil
		}
	}

	cos, err := Cosine(a.Vector, b.Vector)
	if err != nil {
		return domain.SimilarityScore{}, err
	}
	return domain.SimilarityScore{Total: cos}, nil
}

// Similarity - Score без разбивки по сигналам, для кластеризации.
func (en *Engine) Similarity(a, b *domain.Embedding) (float64, error) {
	s, err := en.Score(a, b)
	if err != nil {
		return 0, err
	}
	return s.Total, nil
}

// MultiSignal считает взвешенную сумму доступных сигналов. Веса отсутствующих сигналов
// перераспределяются между оставшимися. ok=false, если признаков нет хотя бы у одного
// изображения или ни один сигнал не вычислим.
func (en *Engine) MultiSignal(fa, fb *domain.ImageFeatures) (domain.SimilarityScore, bool) {
	if fa == nil || fb == nil {
		return domain.SimilarityScore{}, false
	}

	breakdown := make(map[domain.Signal]float64, len(domain.Signals))
	var total, weightSum float64

	for _, s := range domain.Signals {
		v, ok := signal(s, fa, fb)
		if !ok {
			continue
		}
		breakdown[s] = v

		w := en.weights[s]
		total += w * v
		weightSum += w
	}

	if weightSum == 0 {
		return domain.SimilarityScore{}, false
	}

	return domain.SimilarityScore{
		Total:     clamp01(total / weightSum),
		Breakdown: breakdown,
	}, true
}

func signal(s domain.Signal, a, b *domain.ImageFeatures) (float64, bool) {
	switch s {
	case domain.SignalSpatial:
		return spatial(a, b)
	case domain.SignalFeature:
		return jaccard(a.Labels, b.Labels)
	case domain.SignalSemantic:
		return semantic(a, b)
	case domain.SignalComposition:
		return jaccard(a.Colors, b.Colors)
	case domain.SignalBackground:
		if len(a.BackgroundHistogram) == 0 || len(a.BackgroundHistogram) != len(b.BackgroundHistogram) {
			return 0, false
		}
		v, err := Cosine(a.BackgroundHistogram, b.BackgroundHistogram)
		return v, err == nil
	default:
		return 0, false
	}
}

// spatial сравнивает соотношения сторон.
func spatial(a, b *domain.ImageFeatures) (float64, bool) {
	if !a.HasGeometry() || !b.HasGeometry() {
		return 0, false
	}
	ra, rb := a.AspectRatio, b.AspectRatio
	return clamp01(1 - math.Abs(ra-rb)/math.Max(ra, rb)), true
}

// semantic - доля совпавших полей среди заполненных у обоих (категория, бренд, материал).
func semantic(a, b *domain.ImageFeatures) (float64, bool) {
	pairs := [][2]string{
		{a.Category, b.Category},
		{a.Brand, b.Brand},
		{a.Material, b.Material},
	}

	var compared, matched int
	for _, p := range pairs {
		if p[0] == "" || p[1] == "" {
			continue
		}
		compared++
		if strings.EqualFold(strings.TrimSpace(p[0]), strings.TrimSpace(p[1])) {
			matched++
		}
	}

	if compared == 0 {
		return 0, false
	}
	return float64(matched) / float64(compared), true
}

// jaccard без учёта регистра; пустое множество у любой стороны - сигнал недоступен.
func jaccard(a, b []string) (float64, bool) {
	if len(a) == 0 || len(b) == 0 {
		return 0, false
	}

	set := make(map[string]struct{}, len(a))
	for _, s := range a {
		set[strings.ToLower(s)] = struct{}{}
	}

	union := len(set)
	var inter int
	seen := make(map[string]struct{}, len(b))
	for _, s := range b {
		k := strings.ToLower(s)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}

		if _, ok := set[k]; ok {
			inter++
		} else {
			union++
		}
	}

	return float64(inter) / float64(union), true
}
