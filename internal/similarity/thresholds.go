package similarity

import (
	"github.com/DRSN-tech/product-identity/internal/domain"
	"github.com/DRSN-tech/product-identity/pkg/e"
)

const (
	defaultSameProduct  = 0.92
	defaultLikelySame   = 0.85
	defaultPossiblySame = 0.75
)

// Thresholds - нижние границы классов сходства.
type Thresholds struct {
	SameProduct  float64
	LikelySame   float64
	PossiblySame float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		SameProduct:  defaultSameProduct,
		LikelySame:   defaultLikelySame,
		PossiblySame: defaultPossiblySame,
	}
}

// Validate проверяет, что границы лежат в (0,1] и строго убывают.
func (t Thresholds) Validate() error {
	if t.SameProduct > 1 || t.PossiblySame <= 0 {
		return e.ErrInvalidThresholds
	}
	if !(t.SameProduct > t.LikelySame && t.LikelySame > t.PossiblySame) {
		return e.ErrInvalidThresholds
	}
	return nil
}

// Classify относит оценку к классу; границы включаются в верхний класс.
func (t Thresholds) Classify(score float64) domain.Classification {
	switch {
	case score >= t.SameProduct:
		return domain.SameProduct
	case score >= t.LikelySame:
		return domain.LikelySame
	case score >= t.PossiblySame:
		return domain.PossiblySame
	default:
		return domain.Different
	}
}
