package usecase

import (
	"context"

	"github.com/DRSN-tech/product-identity/internal/domain"
)

// EmbeddingRepository хранит эмбеддинги изображений тенанта.
// Реализации санитизируют tenant до построения ключей.
type EmbeddingRepository interface {
	// Store сохраняет эмбеддинг; уже установленная ссылка на группу не перетирается.
	Store(ctx context.Context, emb *domain.Embedding) error
	Get(ctx context.Context, tenant, imageID string) (*domain.Embedding, error)
	// FetchAll возвращает не более limit неистёкших эмбеддингов тенанта без дубликатов.
	FetchAll(ctx context.Context, tenant string, limit int) ([]*domain.Embedding, error)
	// LinkGroup устанавливает ссылку на группу. Повторный вызов с той же группой - no-op;
	// если изображение уже в другой группе или ожидает её, возвращается linked=false и эта группа.
	LinkGroup(ctx context.Context, tenant, imageID, groupID string) (LinkResult, error)
	// MarkPending переводит неназначенное изображение в PENDING_GROUP_ASSIGNMENT для groupID.
	MarkPending(ctx context.Context, tenant, imageID, groupID string) (LinkResult, error)
}

// GroupRepository хранит записи групп товаров.
type GroupRepository interface {
	Create(ctx context.Context, group *domain.ProductGroup) error
	Get(ctx context.Context, tenant, groupID string) (*domain.ProductGroup, error)
	// AppendImage условно добавляет изображение в группу. Если оно уже там,
	// запись не меняется, а возвращается текущее состояние с Appended=false.
	AppendImage(ctx context.Context, tenant, groupID, imageID string) (AppendResult, error)
	// List возвращает группы тенанта, последние обновлённые первыми.
	List(ctx context.Context, tenant string, limit int) ([]*domain.ProductGroup, error)
}

// ImageRepository - объектное хранилище исходных изображений.
type ImageRepository interface {
	Upload(ctx context.Context, image *domain.Image) (string, error)
	Get(ctx context.Context, key string, maxSize int64) ([]byte, *domain.StoredObject, error)
	Delete(ctx context.Context, key string) error
}
