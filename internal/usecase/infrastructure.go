package usecase

import (
	"context"

	"github.com/DRSN-tech/product-identity/internal/domain"
)

// EmbeddingService - внешний сервис эмбеддингов. Результаты выровнены по индексу запроса;
// ошибка отдельного изображения лежит в EmbeddingResult.Err и не прерывает батч.
type EmbeddingService interface {
	EmbedBatch(ctx context.Context, images []*domain.Image) ([]EmbeddingResult, error)
}

// FeatureExtractor - внешний анализ изображения (метки, бренд, материал). Best effort.
type FeatureExtractor interface {
	ExtractFeatures(ctx context.Context, image *domain.Image) (*domain.ImageFeatures, error)
}

// EventPublisher публикует события группировки.
type EventPublisher interface {
	PublishGroupCreated(ctx context.Context, group *domain.ProductGroup) error
	PublishImageAssigned(ctx context.Context, tenant, imageID, groupID string) error
}

type ImagesInfra interface {
	UploadImages(ctx context.Context, req *UploadImagesReq) (*UploadImagesRes, error)
	FetchImages(ctx context.Context, req *FetchImagesReq) (*FetchImagesRes, error)
	CleanupImages(keys []string)
}

// Metrics - счётчики движка. Реализация в internal/metrics.
type Metrics interface {
	ImageProcessed(path string)
	StageFailed(stage Stage)
	GroupCreated(path string)
	AppendConflict()
	LinkConflict()
	ObserveStage(stage Stage, seconds float64)
}
