package usecase

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/DRSN-tech/product-identity/internal/cfg"
	"github.com/DRSN-tech/product-identity/internal/domain"
	"github.com/DRSN-tech/product-identity/internal/similarity"
	"github.com/DRSN-tech/product-identity/pkg/e"
	"github.com/DRSN-tech/product-identity/pkg/logger"
)

// ImageUseCase - инкрементальное сопоставление одного изображения:
// эмбеддинг → сохранение → поиск похожих → назначение в группу.
type ImageUseCase struct {
	embeddingRepo EmbeddingRepository
	embedder      EmbeddingService
	images        ImagesInfra
	groups        *GroupUseCase
	engine        *similarity.Engine
	metrics       Metrics
	cfg           *cfg.EngineCfg
	logger        logger.Logger
	now           func() time.Time
}

func NewImageUC(
	embeddingRepo EmbeddingRepository,
	embedder EmbeddingService,
	images ImagesInfra,
	groups *GroupUseCase,
	engine *similarity.Engine,
	metrics Metrics,
	cfg *cfg.EngineCfg,
	logger logger.Logger,
) *ImageUseCase {
	return &ImageUseCase{
		embeddingRepo: embeddingRepo,
		embedder:      embedder,
		images:        images,
		groups:        groups,
		engine:        engine,
		metrics:       metrics,
		cfg:           cfg,
		logger:        logger,
		now:           time.Now,
	}
}

// ProcessImage обрабатывает одно вновь загруженное изображение.
// Если задано объектное хранилище, а изображение пришло без ключа объекта, исходные байты
// сохраняются в него; при сбое сохранения эмбеддинга объект удаляется.
//
// Лучшее совпадение SAME_PRODUCT с группой - изображение присоединяется к этой группе.
// Лучшее совпадение SAME_PRODUCT или LIKELY_SAME без группы - создаётся новая группа из двух.
// Иначе изображение остаётся без группы.
func (i *ImageUseCase) ProcessImage(ctx context.Context, req *ProcessImageReq) (*ProcessImageRes, error) {
	const op = "ImageUseCase.ProcessImage"

	tenant, err := domain.SanitizeTenant(req.Tenant)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	// Проверка размера до обращения к сервису эмбеддингов
	if err := validateImage(req.Image, i.cfg.MaxImageSize); err != nil {
		i.metrics.StageFailed(StageValidation)
		return nil, e.Wrap(op, err)
	}
	req.Image.Tenant = tenant

	vector, err := i.embed(ctx, req.Image)
	if err != nil {
		i.metrics.StageFailed(StageEmbedding)
		return nil, e.Wrap(op, err)
	}

	uploaded, err := i.upload(ctx, tenant, req.Image)
	if err != nil {
		i.metrics.StageFailed(StageStorage)
		return nil, e.Wrap(op, err)
	}

	emb := domain.NewEmbedding(req.Image.ID, tenant, vector, req.Image.Metadata(nil))
	emb.CreatedAt = i.now().UTC()

	if err := callWithTimeout(ctx, i.cfg.CallTimeout, e.ErrStorage, func(ctx context.Context) error {
		return i.embeddingRepo.Store(ctx, emb)
	}); err != nil {
		i.metrics.StageFailed(StageStorage)
		if uploaded != "" {
			i.logger.Warnf("cleaning up orphaned image %s after storage failure: %v", uploaded, e.Wrap(op, err))
			i.images.CleanupImages([]string{uploaded})
		}
		return nil, e.Wrap(op, err)
	}

	matches, err := i.FindSimilar(ctx, tenant, emb)
	if err != nil {
		i.metrics.StageFailed(StageSearch)
		return nil, e.Wrap(op, err)
	}

	res := &ProcessImageRes{
		Embedding:     emb,
		SimilarImages: matches,
	}
	i.metrics.ImageProcessed(PathIncremental)

	if len(matches) == 0 {
		return res, nil
	}

	best := matches[0]
	switch {
	case best.Classification == domain.SameProduct && best.GroupID != "":
		group, err := i.groups.JoinGroup(ctx, tenant, emb.ImageID, best.GroupID)
		if err != nil {
			// Изображение остаётся без группы, вызов не считается неудачным
			i.metrics.StageFailed(StageGrouping)
			i.logger.Errorf(err, "failed to add image %s to group %s", emb.ImageID, best.GroupID)
			return res, nil
		}
		emb.ProductGroupID = best.GroupID
		res.AssignedGroup = group

	// LIKELY_SAME с совпадением, уже состоящим в группе, оставляет изображение без группы
	case (best.Classification == domain.SameProduct || best.Classification == domain.LikelySame) && best.GroupID == "":
		group, err := i.groups.CreateGroup(ctx, NewCreateGroupReq(tenant, []string{emb.ImageID, best.ImageID}, "", "", best.Similarity))
		if err != nil {
			i.metrics.StageFailed(StageGrouping)
			return nil, e.Wrap(op, err)
		}
		i.metrics.GroupCreated(PathIncremental)
		emb.ProductGroupID = group.GroupID
		res.AssignedGroup = group
		res.IsNewGroup = true
	}

	return res, nil
}

// FindSimilar сравнивает эмбеддинг со всеми сохранёнными эмбеддингами тенанта (кроме него самого)
// и возвращает совпадения классом выше DIFFERENT по убыванию сходства.
// Записи другой размерности пропускаются с предупреждением. Ожидающие привязки
// найденных изображений завершаются, совпадение несёт группу, которой изображение принадлежит.
func (i *ImageUseCase) FindSimilar(ctx context.Context, tenant string, emb *domain.Embedding) ([]domain.SimilarityMatch, error) {
	const op = "ImageUseCase.FindSimilar"

	var existing []*domain.Embedding
	err := callWithTimeout(ctx, i.cfg.CallTimeout, e.ErrStorage, func(ctx context.Context) error {
		var err error
		existing, err = i.embeddingRepo.FetchAll(ctx, tenant, i.cfg.FetchLimit)
		return err
	})
	if err != nil {
		return nil, e.Wrap(op, err)
	}
	i.groups.ResumePending(ctx, tenant, existing)

	matches := make([]domain.SimilarityMatch, 0)
	for _, other := range existing {
		if other.ImageID == emb.ImageID {
			continue
		}

		score, err := similarity.Cosine(emb.Vector, other.Vector)
		if err != nil {
			i.logger.Warnf("skip similarity with %s: %v", other.ImageID, err)
			continue
		}

		class := i.engine.Classify(score)
		if class == domain.Different {
			continue
		}

		matches = append(matches, domain.SimilarityMatch{
			ImageID:        other.ImageID,
			Similarity:     score,
			Classification: class,
			GroupID:        other.OwnerGroupID(),
		})
	}

	sort.SliceStable(matches, func(a, b int) bool {
		return matches[a].Similarity > matches[b].Similarity
	})

	return matches, nil
}

// upload сохраняет исходное изображение в объектное хранилище и возвращает ключ
// нового объекта ("" - если ничего не загружалось).
func (i *ImageUseCase) upload(ctx context.Context, tenant string, image *domain.Image) (string, error) {
	if i.images == nil || image.ObjectKey != "" {
		return "", nil
	}

	res, err := i.images.UploadImages(ctx, NewUploadImagesReq(tenant, []*domain.Image{image}))
	if err != nil {
		return "", err
	}
	if len(res.ImagesKeys) != 1 {
		return "", fmt.Errorf("expected 1 uploaded key, got %d", len(res.ImagesKeys))
	}

	image.ObjectKey = res.ImagesKeys[0]
	return image.ObjectKey, nil
}

// embed запрашивает эмбеддинг одного изображения.
func (i *ImageUseCase) embed(ctx context.Context, image *domain.Image) ([]float32, error) {
	var results []EmbeddingResult
	err := callWithTimeout(ctx, i.cfg.CallTimeout, e.ErrEmbeddingService, func(ctx context.Context) error {
		var err error
		results, err = i.embedder.EmbedBatch(ctx, []*domain.Image{image})
		return err
	})
	if err != nil {
		return nil, err
	}

	if len(results) != 1 {
		return nil, e.ErrInvalidEmbedding
	}
	if results[0].Err != nil {
		return nil, results[0].Err
	}
	if len(results[0].Vector) == 0 {
		return nil, e.ErrInvalidEmbedding
	}

	return results[0].Vector, nil
}

// validateImage отклоняет пустые и слишком большие изображения.
func validateImage(image *domain.Image, maxSize int64) error {
	if image == nil || image.Size() == 0 {
		return e.ErrEmptyImage
	}
	if image.ID == "" {
		return e.ErrMissingFields
	}
	if maxSize > 0 && image.Size() > maxSize {
		return e.ErrImageTooLarge
	}
	return nil
}
