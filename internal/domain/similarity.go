package domain

// Classification - класс сходства пары изображений.
type Classification string

const (
	SameProduct  Classification = "SAME_PRODUCT"
	LikelySame   Classification = "LIKELY_SAME"
	PossiblySame Classification = "POSSIBLY_SAME"
	Different    Classification = "DIFFERENT"
)

// Signal - имя отдельного сигнала мульти-сигнального скоринга.
type Signal string

const (
	SignalSpatial     Signal = "spatial"
	SignalFeature     Signal = "feature"
	SignalSemantic    Signal = "semantic"
	SignalComposition Signal = "composition"
	SignalBackground  Signal = "background"
)

// Signals - все сигналы в фиксированном порядке.
var Signals = []Signal{SignalSpatial, SignalFeature, SignalSemantic, SignalComposition, SignalBackground}

// SimilarityScore - итоговая оценка пары и вклад каждого сигнала, все значения в [0,1].
// Не сохраняется.
type SimilarityScore struct {
	Total     float64            `json:"totalScore"`
	Breakdown map[Signal]float64 `json:"signalBreakdown"`
}

// SimilarityMatch - результат сравнения с сохранённым эмбеддингом.
type SimilarityMatch struct {
	ImageID        string         `json:"imageId"`
	Similarity     float64        `json:"similarity"`
	Classification Classification `json:"matchType"`
	GroupID        string         `json:"groupId,omitempty"`
}
