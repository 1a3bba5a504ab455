package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/DRSN-tech/product-identity/internal/cfg"
	"github.com/DRSN-tech/product-identity/internal/domain"
	"github.com/DRSN-tech/product-identity/internal/usecase"
	"github.com/DRSN-tech/product-identity/pkg/e"
	"github.com/DRSN-tech/product-identity/pkg/kv"
	"github.com/DRSN-tech/product-identity/pkg/logger"
	"github.com/jimlawless/whereami"
)

// EmbeddingRepo хранит эмбеддинги в партиции TENANT#<tenant>#EMBEDDING с ключами IMAGE#<id>.
type EmbeddingRepo struct {
	store  kv.Store
	cfg    *cfg.EngineCfg
	logger logger.Logger
	now    func() time.Time
}

func NewEmbeddingRepo(store kv.Store, cfg *cfg.EngineCfg, logger logger.Logger) *EmbeddingRepo {
	return &EmbeddingRepo{
		store:  store,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Store сохраняет эмбеддинг и продлевает срок жизни записи.
// Ссылка на группу, ожидание назначения и время создания существующей записи сохраняются.
func (r *EmbeddingRepo) Store(ctx context.Context, emb *domain.Embedding) error {
	pk, err := partitionKey(emb.Tenant, entityEmbedding)
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	now := r.now().UTC()
	expiresAt := now.Add(r.cfg.EmbeddingTTL)
	record := toEmbeddingRecord(emb, now)

	_, err = r.store.Update(ctx, pk, imageKey(emb.ImageID), func(current kv.Item) (kv.Item, error) {
		if prev, err := decodeEmbedding(current.Value); err == nil {
			// состояние назначения меняется только через LinkGroup и MarkPending
			if prev.ProductGroupID != "" || prev.PendingGroupID != "" {
				record.ProductGroupID = prev.ProductGroupID
				record.PendingGroupID = prev.PendingGroupID
			}
			if !prev.CreatedAt.IsZero() {
				record.CreatedAt = prev.CreatedAt
			}
		}

		data, err := json.Marshal(record)
		if err != nil {
			return kv.Item{}, err
		}
		return kv.Item{Value: data, ExpiresAt: expiresAt}, nil
	})
	if errors.Is(err, kv.ErrNotFound) {
		data, err := json.Marshal(record)
		if err != nil {
			return e.Wrap(whereami.WhereAmI(), err)
		}
		err = r.store.Put(ctx, kv.Item{PK: pk, SK: imageKey(emb.ImageID), Value: data, ExpiresAt: expiresAt})
		if err != nil {
			return e.Storage(whereami.WhereAmI(), err)
		}
	} else if err != nil {
		return e.Storage(whereami.WhereAmI(), err)
	}

	emb.ProductGroupID = record.ProductGroupID
	emb.PendingGroupID = record.PendingGroupID
	emb.CreatedAt = record.CreatedAt
	emb.ExpiresAt = expiresAt
	return nil
}

func (r *EmbeddingRepo) Get(ctx context.Context, tenant, imageID string) (*domain.Embedding, error) {
	pk, err := partitionKey(tenant, entityEmbedding)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	item, err := r.store.Get(ctx, pk, imageKey(imageID))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, e.Wrap(whereami.WhereAmI(), e.ErrImageNotFound)
	}
	if err != nil {
		return nil, e.Storage(whereami.WhereAmI(), err)
	}

	record, err := decodeEmbedding(item.Value)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return record.toDomain(item.ExpiresAt), nil
}

// FetchAll постранично читает партицию эмбеддингов тенанта до limit записей.
// Повреждённые записи пропускаются с предупреждением.
func (r *EmbeddingRepo) FetchAll(ctx context.Context, tenant string, limit int) ([]*domain.Embedding, error) {
	pk, err := partitionKey(tenant, entityEmbedding)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	result := make([]*domain.Embedding, 0)
	seen := make(map[string]struct{})
	opts := kv.QueryOptions{Limit: r.cfg.PageSize}

	for limit <= 0 || len(result) < limit {
		page, err := r.store.Query(ctx, pk, opts)
		if err != nil {
			return nil, e.Storage(whereami.WhereAmI(), err)
		}

		for _, item := range page.Items {
			record, err := decodeEmbedding(item.Value)
			if err != nil || record.ImageID == "" || len(record.Embedding) == 0 {
				r.logger.Warnf("skipping corrupted embedding record %s/%s: %v", pk, item.SK, err)
				continue
			}

			if _, dup := seen[record.ImageID]; dup {
				continue
			}
			seen[record.ImageID] = struct{}{}

			result = append(result, record.toDomain(item.ExpiresAt))
			if limit > 0 && len(result) >= limit {
				break
			}
		}

		if page.Next == "" {
			break
		}
		opts.Cursor = page.Next
	}

	return result, nil
}

// LinkGroup однократно устанавливает ссылку на группу: UNASSIGNED или PENDING той же
// группы переходят в ASSIGNED.
func (r *EmbeddingRepo) LinkGroup(ctx context.Context, tenant, imageID, groupID string) (usecase.LinkResult, error) {
	return r.transition(ctx, tenant, imageID, groupID, domain.Assigned)
}

// MarkPending отмечает, что изображение уже записано в группу groupID, а ссылка ещё нет.
func (r *EmbeddingRepo) MarkPending(ctx context.Context, tenant, imageID, groupID string) (usecase.LinkResult, error) {
	return r.transition(ctx, tenant, imageID, groupID, domain.PendingGroupAssignment)
}

// transition условно применяет переход состояния назначения. Запрещённый или уже
// применённый переход не меняет запись и возвращает текущее состояние.
func (r *EmbeddingRepo) transition(ctx context.Context, tenant, imageID, groupID string, to domain.AssignmentState) (usecase.LinkResult, error) {
	pk, err := partitionKey(tenant, entityEmbedding)
	if err != nil {
		return usecase.LinkResult{}, e.Wrap(whereami.WhereAmI(), err)
	}

	now := r.now().UTC()
	res, err := r.store.Update(ctx, pk, imageKey(imageID), func(current kv.Item) (kv.Item, error) {
		record, err := decodeEmbedding(current.Value)
		if err != nil {
			return kv.Item{}, err
		}

		emb := record.toDomain(current.ExpiresAt)
		if changed, _ := emb.Transition(to, groupID); !changed {
			return kv.Item{}, kv.ErrConditionFailed
		}

		record.ProductGroupID = emb.ProductGroupID
		record.PendingGroupID = emb.PendingGroupID
		record.UpdatedAt = now

		data, err := json.Marshal(record)
		if err != nil {
			return kv.Item{}, err
		}
		current.Value = data
		return current, nil
	})
	if errors.Is(err, kv.ErrNotFound) {
		return usecase.LinkResult{}, e.Wrap(whereami.WhereAmI(), e.ErrImageNotFound)
	}
	if err != nil {
		return usecase.LinkResult{}, e.Storage(whereami.WhereAmI(), err)
	}

	record, err := decodeEmbedding(res.Item.Value)
	if err != nil {
		return usecase.LinkResult{}, e.Wrap(whereami.WhereAmI(), err)
	}
	emb := record.toDomain(res.Item.ExpiresAt)

	return usecase.LinkResult{
		Linked:  !res.Conflict,
		GroupID: emb.OwnerGroupID(),
		State:   emb.State(),
	}, nil
}
