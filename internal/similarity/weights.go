package similarity

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/DRSN-tech/product-identity/internal/domain"
	"github.com/DRSN-tech/product-identity/pkg/e"
)

const weightsTolerance = 1e-6

// Weights - веса сигналов мульти-сигнального скоринга. Сумма равна 1.
type Weights map[domain.Signal]float64

// DefaultWeights распределяет вес поровну между всеми сигналами.
func DefaultWeights() Weights {
	w := make(Weights, len(domain.Signals))
	for _, s := range domain.Signals {
		w[s] = 1 / float64(len(domain.Signals))
	}
	return w
}

// Validate проверяет, что веса известны, неотрицательны и в сумме дают 1.
func (w Weights) Validate() error {
	var sum float64
	for s, v := range w {
		if !knownSignal(s) {
			return fmt.Errorf("%w: unknown signal %q", e.ErrInvalidWeights, s)
		}
		if v < 0 || math.IsNaN(v) {
			return fmt.Errorf("%w: negative weight for %q", e.ErrInvalidWeights, s)
		}
		sum += v
	}

	if math.Abs(sum-1) > weightsTolerance {
		return fmt.Errorf("%w: got %.4f", e.ErrInvalidWeights, sum)
	}
	return nil
}

// ParseWeights разбирает строку вида "spatial=0.2,feature=0.3,...".
// Не упомянутые сигналы получают вес 0.
func ParseWeights(s string) (Weights, error) {
	w := make(Weights, len(domain.Signals))
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		name, value, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("%w: malformed pair %q", e.ErrInvalidWeights, part)
		}

		v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %w", e.ErrInvalidWeights, part, err)
		}

		w[domain.Signal(strings.ToLower(strings.TrimSpace(name)))] = v
	}

	if err := w.Validate(); err != nil {
		return nil, err
	}
	return w, nil
}

func knownSignal(s domain.Signal) bool {
	for _, known := range domain.Signals {
		if s == known {
			return true
		}
	}
	return false
}
