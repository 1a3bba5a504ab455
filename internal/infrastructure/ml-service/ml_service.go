package ml_service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/DRSN-tech/product-identity/internal/cfg"
	"github.com/DRSN-tech/product-identity/internal/domain"
	"github.com/DRSN-tech/product-identity/internal/usecase"
	"github.com/DRSN-tech/product-identity/pkg/e"
	"github.com/DRSN-tech/product-identity/pkg/jitter"
	"github.com/DRSN-tech/product-identity/pkg/logger"
	"github.com/jimlawless/whereami"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// MLService клиент для взаимодействия с внешним ML-сервисом.
// Реализует usecase.EmbeddingService и usecase.FeatureExtractor.
type MLService struct {
	client Client
	cfg    *cfg.MLServiceCfg
	logger logger.Logger
}

func NewMLService(client Client, cfg *cfg.MLServiceCfg, logger logger.Logger) *MLService {
	return &MLService{
		client: client,
		cfg:    cfg,
		logger: logger,
	}
}

// EmbedBatch получает эмбеддинги изображений параллельно с ограничением конкурентности.
// Результаты выровнены по индексам запроса; ошибка одного изображения не прерывает остальные.
// Ошибка всего вызова возвращается только при отмене контекста.
func (m *MLService) EmbedBatch(ctx context.Context, images []*domain.Image) ([]usecase.EmbeddingResult, error) {
	const op = "MLService.EmbedBatch"

	results := make([]usecase.EmbeddingResult, len(images))

	g := errgroup.Group{}
	g.SetLimit(m.maxConcurrent())

	for idx, image := range images {
		g.Go(func() error {
			var res *structpb.Struct
			err := m.withRetry(ctx, image.ID, func(ctx context.Context) error {
				var err error
				res, err = m.client.EmbedImage(ctx, image.Data, image.ContentType)
				return err
			})
			if err != nil {
				results[idx] = usecase.EmbeddingResult{Err: err}
				return nil
			}

			vector, version, err := parseEmbedding(res)
			if err != nil {
				results[idx] = usecase.EmbeddingResult{Err: e.Wrap(whereami.WhereAmI(), err)}
				return nil
			}

			results[idx] = usecase.EmbeddingResult{Vector: vector, ModelVersion: version}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, e.EmbeddingService(op, err)
	}

	return results, nil
}

// ExtractFeatures запрашивает побочные признаки одного изображения.
func (m *MLService) ExtractFeatures(ctx context.Context, image *domain.Image) (*domain.ImageFeatures, error) {
	const op = "MLService.ExtractFeatures"

	var res *structpb.Struct
	err := m.withRetry(ctx, image.ID, func(ctx context.Context) error {
		var err error
		res, err = m.client.ExtractFeatures(ctx, image.Data, image.ContentType)
		return err
	})
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	features, err := parseFeatures(res)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	return features, nil
}

// withRetry повторяет вызов при временных ошибках транспорта с экспоненциальной задержкой.
// Исчерпание попыток - временная ошибка сервиса эмбеддингов; прочие коды - постоянная
// ошибка e.ErrInvalidEmbedding.
func (m *MLService) withRetry(ctx context.Context, imageID string, call func(ctx context.Context) error) error {
	attempts := m.cfg.MaxRetries
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			sleepTime := jitter.ExponentialBackoff(m.cfg.BaseBackoff, m.cfg.MaxBackoff, attempt-1, jitter.DefaultJitter)
			m.logger.Warnf("ml call for %s failed, retrying in %v (attempt %d): %v", imageID, sleepTime, attempt+1, err)
			if sleepErr := jitter.Sleep(ctx, sleepTime); sleepErr != nil {
				return e.EmbeddingService(whereami.WhereAmI(), errors.Join(err, sleepErr))
			}
		}

		err = call(ctx)
		if err == nil {
			return nil
		}
		if !isRetryableStatus(err) {
			return e.Wrap(whereami.WhereAmI(), fmt.Errorf("%w: %w", e.ErrInvalidEmbedding, err))
		}
	}

	return e.EmbeddingService(whereami.WhereAmI(), fmt.Errorf("all %d attempts failed: %w", attempts, err))
}

func (m *MLService) maxConcurrent() int {
	if m.cfg.MaxConcurrent <= 0 {
		return 1
	}
	return m.cfg.MaxConcurrent
}

func isRetryableStatus(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted, codes.Internal:
		return true
	default:
		return false
	}
}

// parseEmbedding разбирает ответ {"vector": [...], "modelVersion": "..."}.
func parseEmbedding(res *structpb.Struct) ([]float32, string, error) {
	if res == nil {
		return nil, "", e.ErrInvalidEmbedding
	}

	list := res.GetFields()["vector"].GetListValue()
	if list == nil || len(list.GetValues()) == 0 {
		return nil, "", fmt.Errorf("%w: empty vector", e.ErrInvalidEmbedding)
	}

	vector := make([]float32, len(list.GetValues()))
	for i, v := range list.GetValues() {
		num, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return nil, "", fmt.Errorf("%w: vector[%d] is not a number", e.ErrInvalidEmbedding, i)
		}
		vector[i] = float32(num.NumberValue)
	}

	return vector, res.GetFields()["modelVersion"].GetStringValue(), nil
}

// parseFeatures переводит Struct в ImageFeatures через JSON: имена полей совпадают с json-тегами.
func parseFeatures(res *structpb.Struct) (*domain.ImageFeatures, error) {
	if res == nil {
		return nil, fmt.Errorf("empty features response")
	}

	data, err := json.Marshal(res.AsMap())
	if err != nil {
		return nil, err
	}

	var features domain.ImageFeatures
	if err := json.Unmarshal(data, &features); err != nil {
		return nil, err
	}
	if features.Version == 0 {
		features.Version = domain.FeaturesVersion
	}
	if features.AspectRatio == 0 && features.Height > 0 {
		features.AspectRatio = float64(features.Width) / float64(features.Height)
	}

	return &features, nil
}
