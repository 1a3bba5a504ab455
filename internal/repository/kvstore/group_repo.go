package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/DRSN-tech/product-identity/internal/cfg"
	"github.com/DRSN-tech/product-identity/internal/domain"
	"github.com/DRSN-tech/product-identity/internal/usecase"
	"github.com/DRSN-tech/product-identity/pkg/e"
	"github.com/DRSN-tech/product-identity/pkg/kv"
	"github.com/DRSN-tech/product-identity/pkg/logger"
	"github.com/jimlawless/whereami"
)

// GroupRepo хранит группы в партиции TENANT#<tenant>#PRODUCT_GROUP с ключами GROUP#<id>.
type GroupRepo struct {
	store  kv.Store
	cfg    *cfg.EngineCfg
	logger logger.Logger
	now    func() time.Time
}

func NewGroupRepo(store kv.Store, cfg *cfg.EngineCfg, logger logger.Logger) *GroupRepo {
	return &GroupRepo{
		store:  store,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

func (r *GroupRepo) Create(ctx context.Context, group *domain.ProductGroup) error {
	pk, err := partitionKey(group.Tenant, entityProductGroup)
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	data, err := json.Marshal(toGroupRecord(group))
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	item := kv.Item{
		PK:        pk,
		SK:        groupKey(group.GroupID),
		Value:     data,
		ExpiresAt: r.now().Add(r.cfg.GroupTTL),
	}
	if err := r.store.Put(ctx, item); err != nil {
		return e.Storage(whereami.WhereAmI(), err)
	}

	return nil
}

func (r *GroupRepo) Get(ctx context.Context, tenant, groupID string) (*domain.ProductGroup, error) {
	pk, err := partitionKey(tenant, entityProductGroup)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	item, err := r.store.Get(ctx, pk, groupKey(groupID))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, e.Wrap(whereami.WhereAmI(), e.ErrGroupNotFound)
	}
	if err != nil {
		return nil, e.Storage(whereami.WhereAmI(), err)
	}

	record, err := decodeGroup(item.Value)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return record.toDomain(), nil
}

// AppendImage добавляет изображение в конец списка группы, если его там ещё нет.
func (r *GroupRepo) AppendImage(ctx context.Context, tenant, groupID, imageID string) (usecase.AppendResult, error) {
	pk, err := partitionKey(tenant, entityProductGroup)
	if err != nil {
		return usecase.AppendResult{}, e.Wrap(whereami.WhereAmI(), err)
	}

	now := r.now().UTC()
	res, err := r.store.Update(ctx, pk, groupKey(groupID), func(current kv.Item) (kv.Item, error) {
		record, err := decodeGroup(current.Value)
		if err != nil {
			return kv.Item{}, err
		}

		group := record.toDomain()
		if !group.Append(imageID, now) {
			return kv.Item{}, kv.ErrConditionFailed
		}

		data, err := json.Marshal(toGroupRecord(group))
		if err != nil {
			return kv.Item{}, err
		}
		current.Value = data
		return current, nil
	})
	if errors.Is(err, kv.ErrNotFound) {
		return usecase.AppendResult{}, e.Wrap(whereami.WhereAmI(), e.ErrGroupNotFound)
	}
	if err != nil {
		return usecase.AppendResult{}, e.Storage(whereami.WhereAmI(), err)
	}

	record, err := decodeGroup(res.Item.Value)
	if err != nil {
		return usecase.AppendResult{}, e.Wrap(whereami.WhereAmI(), err)
	}

	return usecase.AppendResult{Group: record.toDomain(), Appended: !res.Conflict}, nil
}

// List читает всю партицию групп тенанта и возвращает limit последних обновлённых.
func (r *GroupRepo) List(ctx context.Context, tenant string, limit int) ([]*domain.ProductGroup, error) {
	pk, err := partitionKey(tenant, entityProductGroup)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	groups := make([]*domain.ProductGroup, 0)
	opts := kv.QueryOptions{Limit: r.cfg.PageSize}
	for {
		page, err := r.store.Query(ctx, pk, opts)
		if err != nil {
			return nil, e.Storage(whereami.WhereAmI(), err)
		}

		for _, item := range page.Items {
			record, err := decodeGroup(item.Value)
			if err != nil {
				r.logger.Warnf("skipping corrupted group record %s/%s: %v", pk, item.SK, err)
				continue
			}
			groups = append(groups, record.toDomain())
		}

		if page.Next == "" {
			break
		}
		opts.Cursor = page.Next
	}

	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].UpdatedAt.After(groups[j].UpdatedAt)
	})

	if limit > 0 && len(groups) > limit {
		groups = groups[:limit]
	}

	return groups, nil
}
