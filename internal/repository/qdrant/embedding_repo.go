package qdrant

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/DRSN-tech/product-identity/internal/cfg"
	"github.com/DRSN-tech/product-identity/internal/domain"
	"github.com/DRSN-tech/product-identity/internal/usecase"
	"github.com/DRSN-tech/product-identity/pkg/e"
	"github.com/DRSN-tech/product-identity/pkg/logger"
	"github.com/google/uuid"
	"github.com/jimlawless/whereami"
	"github.com/qdrant/go-client/qdrant"
)

// Поля payload точки.
const (
	fieldTenant    = "tenant"
	fieldImageID   = "image_id"
	fieldGroupID   = "product_group_id"
	fieldPendingID = "pending_group_id"
	fieldMetadata  = "metadata"
	fieldCreatedAt = "created_at"
	fieldExpiresAt = "expires_at"
)

// EmbeddingRepo репозиторий для работы с embedding-векторами в Qdrant.
//
// Id точки выводится из (tenant, imageID), поэтому повторное сохранение перезаписывает ту же точку.
// Поле product_group_id отсутствует у неназначенных изображений; ссылка ставится
// SetPayload с фильтром is_empty, что даёт однократную запись на стороне сервера.
// pending_group_id хранит группу изображения в состоянии PENDING_GROUP_ASSIGNMENT.
type EmbeddingRepo struct {
	client    *qdrant.Client
	cfg       *cfg.QdrantCfg
	engineCfg *cfg.EngineCfg
	logger    logger.Logger
	now       func() time.Time
}

func NewEmbeddingRepo(client *qdrant.Client, cfg *cfg.QdrantCfg, engineCfg *cfg.EngineCfg, logger logger.Logger) *EmbeddingRepo {
	return &EmbeddingRepo{
		client:    client,
		cfg:       cfg,
		engineCfg: engineCfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Store сохраняет эмбеддинг. Для существующей точки обновляются вектор и payload,
// ссылка на группу и время создания не трогаются.
func (q *EmbeddingRepo) Store(ctx context.Context, emb *domain.Embedding) error {
	tenant, err := domain.SanitizeTenant(emb.Tenant)
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	id := pointID(tenant, emb.ImageID)
	existing, err := q.get(ctx, id)
	if err != nil {
		return e.Storage(whereami.WhereAmI(), err)
	}

	now := q.now().UTC()
	expiresAt := now.Add(q.engineCfg.EmbeddingTTL)

	meta, err := encodeMetadata(emb.Metadata)
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	payload := map[string]any{
		fieldTenant:    tenant,
		fieldImageID:   emb.ImageID,
		fieldMetadata:  meta,
		fieldExpiresAt: expiresAt.Unix(),
	}

	wait := true
	if existing == nil {
		createdAt := emb.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		payload[fieldCreatedAt] = createdAt.Unix()
		if emb.ProductGroupID != "" {
			payload[fieldGroupID] = emb.ProductGroupID
		}
		if emb.PendingGroupID != "" {
			payload[fieldPendingID] = emb.PendingGroupID
		}

		_, err = q.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: q.cfg.QdrantCollectionName,
			Wait:           &wait,
			Points: []*qdrant.PointStruct{{
				Id:      id,
				Vectors: qdrant.NewVectors(emb.Vector...),
				Payload: qdrant.NewValueMap(payload),
			}},
		})
		if err != nil {
			return e.Storage(whereami.WhereAmI(), err)
		}

		emb.CreatedAt = createdAt
		emb.ExpiresAt = expiresAt
		return nil
	}

	if _, err := q.client.UpdateVectors(ctx, &qdrant.UpdatePointVectors{
		CollectionName: q.cfg.QdrantCollectionName,
		Wait:           &wait,
		Points: []*qdrant.PointVectors{{
			Id:      id,
			Vectors: qdrant.NewVectors(emb.Vector...),
		}},
	}); err != nil {
		return e.Storage(whereami.WhereAmI(), err)
	}

	if _, err := q.client.SetPayload(ctx, &qdrant.SetPayloadPoints{
		CollectionName: q.cfg.QdrantCollectionName,
		Wait:           &wait,
		Payload:        qdrant.NewValueMap(payload),
		PointsSelector: qdrant.NewPointsSelector(id),
	}); err != nil {
		return e.Storage(whereami.WhereAmI(), err)
	}

	emb.ProductGroupID = existing.ProductGroupID
	emb.PendingGroupID = existing.PendingGroupID
	emb.CreatedAt = existing.CreatedAt
	emb.ExpiresAt = expiresAt
	return nil
}

func (q *EmbeddingRepo) Get(ctx context.Context, tenant, imageID string) (*domain.Embedding, error) {
	tenant, err := domain.SanitizeTenant(tenant)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	emb, err := q.get(ctx, pointID(tenant, imageID))
	if err != nil {
		return nil, e.Storage(whereami.WhereAmI(), err)
	}
	if emb == nil || !emb.ExpiresAt.After(q.now()) {
		return nil, e.Wrap(whereami.WhereAmI(), e.ErrImageNotFound)
	}

	return emb, nil
}

// FetchAll прокручивает точки тенанта с неистёкшим expires_at страницами по PageSize.
func (q *EmbeddingRepo) FetchAll(ctx context.Context, tenant string, limit int) ([]*domain.Embedding, error) {
	tenant, err := domain.SanitizeTenant(tenant)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	now := float64(q.now().Unix())
	pageSize := uint32(q.engineCfg.PageSize)
	req := &qdrant.ScrollPoints{
		CollectionName: q.cfg.QdrantCollectionName,
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch(fieldTenant, tenant),
				qdrant.NewRange(fieldExpiresAt, &qdrant.Range{Gt: &now}),
			},
		},
		Limit:       &pageSize,
		WithPayload: qdrant.NewWithPayload(true),
		WithVectors: qdrant.NewWithVectors(true),
	}

	result := make([]*domain.Embedding, 0)
	seen := make(map[string]struct{})

	for limit <= 0 || len(result) < limit {
		resp, err := q.client.GetPointsClient().Scroll(ctx, req)
		if err != nil {
			return nil, e.Storage(whereami.WhereAmI(), err)
		}

		for _, p := range resp.GetResult() {
			emb, err := fromPoint(p.GetPayload(), p.GetVectors())
			if err != nil {
				q.logger.Warnf("skipping corrupted qdrant point %s: %v", p.GetId().GetUuid(), err)
				continue
			}

			if _, dup := seen[emb.ImageID]; dup {
				continue
			}
			seen[emb.ImageID] = struct{}{}

			result = append(result, emb)
			if limit > 0 && len(result) >= limit {
				break
			}
		}

		if resp.GetNextPageOffset() == nil {
			break
		}
		req.Offset = resp.GetNextPageOffset()
	}

	return result, nil
}

// LinkGroup однократно устанавливает ссылку на группу.
func (q *EmbeddingRepo) LinkGroup(ctx context.Context, tenant, imageID, groupID string) (usecase.LinkResult, error) {
	return q.transition(ctx, tenant, imageID, groupID, domain.Assigned)
}

// MarkPending отмечает, что изображение уже записано в группу groupID, а ссылка ещё нет.
func (q *EmbeddingRepo) MarkPending(ctx context.Context, tenant, imageID, groupID string) (usecase.LinkResult, error) {
	return q.transition(ctx, tenant, imageID, groupID, domain.PendingGroupAssignment)
}

// transition проверяет переход по прочитанной точке и применяет его SetPayload с фильтром
// по исходному состоянию, затем перечитывает точку: конкурентный переход оставит фильтр пустым.
func (q *EmbeddingRepo) transition(ctx context.Context, tenant, imageID, groupID string, to domain.AssignmentState) (usecase.LinkResult, error) {
	tenant, err := domain.SanitizeTenant(tenant)
	if err != nil {
		return usecase.LinkResult{}, e.Wrap(whereami.WhereAmI(), err)
	}

	id := pointID(tenant, imageID)
	current, err := q.get(ctx, id)
	if err != nil {
		return usecase.LinkResult{}, e.Storage(whereami.WhereAmI(), err)
	}
	if current == nil {
		return usecase.LinkResult{}, e.Wrap(whereami.WhereAmI(), e.ErrImageNotFound)
	}

	from := current.State()
	if changed, _ := current.Transition(to, groupID); !changed {
		return usecase.LinkResult{Linked: false, GroupID: current.OwnerGroupID(), State: current.State()}, nil
	}

	must := []*qdrant.Condition{
		qdrant.NewHasID(id),
		qdrant.NewIsEmpty(fieldGroupID),
	}
	if from == domain.PendingGroupAssignment {
		must = append(must, qdrant.NewMatch(fieldPendingID, groupID))
	} else {
		must = append(must, qdrant.NewIsEmpty(fieldPendingID))
	}

	field := fieldGroupID
	if to == domain.PendingGroupAssignment {
		field = fieldPendingID
	}

	wait := true
	_, err = q.client.SetPayload(ctx, &qdrant.SetPayloadPoints{
		CollectionName: q.cfg.QdrantCollectionName,
		Wait:           &wait,
		Payload:        qdrant.NewValueMap(map[string]any{field: groupID}),
		PointsSelector: qdrant.NewPointsSelectorFilter(&qdrant.Filter{Must: must}),
	})
	if err != nil {
		return usecase.LinkResult{}, e.Storage(whereami.WhereAmI(), err)
	}

	// Фильтр мог не сработать из-за конкурентного перехода: читаем фактическое значение
	after, err := q.get(ctx, id)
	if err != nil {
		return usecase.LinkResult{}, e.Storage(whereami.WhereAmI(), err)
	}
	if after == nil {
		return usecase.LinkResult{}, e.Wrap(whereami.WhereAmI(), e.ErrImageNotFound)
	}

	return usecase.LinkResult{
		Linked:  after.State() == to && after.OwnerGroupID() == groupID,
		GroupID: after.OwnerGroupID(),
		State:   after.State(),
	}, nil
}

// get читает точку по id; nil, если её нет.
func (q *EmbeddingRepo) get(ctx context.Context, id *qdrant.PointId) (*domain.Embedding, error) {
	points, err := q.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: q.cfg.QdrantCollectionName,
		Ids:            []*qdrant.PointId{id},
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, nil
	}

	return fromPoint(points[0].GetPayload(), points[0].GetVectors())
}

// pointID - детерминированный UUID точки для изображения тенанта.
func pointID(tenant, imageID string) *qdrant.PointId {
	return qdrant.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceURL, []byte(tenant+"/"+imageID)).String())
}

func encodeMetadata(meta *domain.ImageMetadata) (string, error) {
	if meta == nil {
		return "", nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func fromPoint(payload map[string]*qdrant.Value, vectors *qdrant.VectorsOutput) (*domain.Embedding, error) {
	imageID := payload[fieldImageID].GetStringValue()
	if imageID == "" {
		return nil, fmt.Errorf("payload has no %s", fieldImageID)
	}

	vector := vectors.GetVector().GetData()
	if len(vector) == 0 {
		return nil, fmt.Errorf("point %s has no vector", imageID)
	}

	emb := &domain.Embedding{
		ImageID:        imageID,
		Tenant:         payload[fieldTenant].GetStringValue(),
		Vector:         vector,
		ProductGroupID: payload[fieldGroupID].GetStringValue(),
		PendingGroupID: payload[fieldPendingID].GetStringValue(),
		CreatedAt:      time.Unix(payload[fieldCreatedAt].GetIntegerValue(), 0).UTC(),
		ExpiresAt:      time.Unix(payload[fieldExpiresAt].GetIntegerValue(), 0).UTC(),
	}

	// pending_group_id после назначения остаётся в payload, но уже ничего не значит
	if emb.HasGroup() {
		emb.PendingGroupID = ""
	}

	if raw := payload[fieldMetadata].GetStringValue(); raw != "" {
		var meta domain.ImageMetadata
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			return nil, fmt.Errorf("point %s: %w", imageID, err)
		}
		emb.Metadata = &meta
	}

	return emb, nil
}
