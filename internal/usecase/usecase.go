package usecase

import (
	"context"

	"github.com/DRSN-tech/product-identity/internal/domain"
)

// GroupUC - чтение и изменение групп товаров.
type GroupUC interface {
	CreateGroup(ctx context.Context, req *CreateGroupReq) (*domain.ProductGroup, error)
	LinkImageToGroup(ctx context.Context, tenant, imageID, groupID string) error
	AddImageToGroupRecord(ctx context.Context, tenant, imageID, groupID string) (*AppendResult, error)
	GetGroupByID(ctx context.Context, tenant, groupID string) (*domain.ProductGroup, error)
	ListGroups(ctx context.Context, tenant string, limit int) ([]*domain.ProductGroup, error)
}

// ImageUC - инкрементальная обработка одного изображения.
type ImageUC interface {
	ProcessImage(ctx context.Context, req *ProcessImageReq) (*ProcessImageRes, error)
	FindSimilar(ctx context.Context, tenant string, emb *domain.Embedding) ([]domain.SimilarityMatch, error)
}

// BatchUC - пакетная обработка загрузок.
type BatchUC interface {
	ProcessBatch(ctx context.Context, req *BatchReq) (*BatchSummary, error)
	ProcessUploads(ctx context.Context, req *UploadsReq) (*BatchSummary, error)
}
