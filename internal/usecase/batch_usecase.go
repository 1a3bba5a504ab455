package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DRSN-tech/product-identity/internal/cfg"
	"github.com/DRSN-tech/product-identity/internal/clustering"
	"github.com/DRSN-tech/product-identity/internal/domain"
	"github.com/DRSN-tech/product-identity/internal/similarity"
	"github.com/DRSN-tech/product-identity/pkg/e"
	"github.com/DRSN-tech/product-identity/pkg/logger"
	"golang.org/x/sync/errgroup"
)

const defaultCategory = "general"

// BatchUseCase - пакетная обработка вновь загруженных изображений: признаки, эмбеддинги
// одним вызовом, сохранение, кластеризация вместе с уже сохранёнными эмбеддингами, создание групп.
//
// Сбой отдельного изображения записывается в Failures и исключает его из дальнейшей обработки.
// Кластеризация и изменения групп выполняются последовательно в рамках батча.
// Обработка не атомарна: при отмене уже сохранённые эмбеддинги и группы остаются.
type BatchUseCase struct {
	embeddingRepo EmbeddingRepository
	embedder      EmbeddingService
	extractor     FeatureExtractor
	images        ImagesInfra
	groups        *GroupUseCase
	engine        *similarity.Engine
	metrics       Metrics
	cfg           *cfg.EngineCfg
	logger        logger.Logger
	now           func() time.Time
}

func NewBatchUC(
	embeddingRepo EmbeddingRepository,
	embedder EmbeddingService,
	extractor FeatureExtractor,
	images ImagesInfra,
	groups *GroupUseCase,
	engine *similarity.Engine,
	metrics Metrics,
	cfg *cfg.EngineCfg,
	logger logger.Logger,
) *BatchUseCase {
	return &BatchUseCase{
		embeddingRepo: embeddingRepo,
		embedder:      embedder,
		extractor:     extractor,
		images:        images,
		groups:        groups,
		engine:        engine,
		metrics:       metrics,
		cfg:           cfg,
		logger:        logger,
		now:           time.Now,
	}
}

// ProcessUploads читает изображения из объектного хранилища и обрабатывает их как батч.
// Сбои чтения попадают в Failures итога.
func (b *BatchUseCase) ProcessUploads(ctx context.Context, req *UploadsReq) (*BatchSummary, error) {
	const op = "BatchUseCase.ProcessUploads"

	if b.images == nil {
		return nil, e.Wrap(op, e.ErrObjectStorageDisabled)
	}

	tenant, err := domain.SanitizeTenant(req.Tenant)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	fetched, err := b.images.FetchImages(ctx, NewFetchImagesReq(tenant, req.Uploads, b.cfg.MaxImageSize))
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	summary, err := b.ProcessBatch(ctx, NewBatchReq(tenant, fetched.Images, nil))
	if summary != nil {
		for _, f := range fetched.Failures {
			b.metrics.StageFailed(f.Stage)
		}
		summary.Failures = append(fetched.Failures, summary.Failures...)
	}
	if err != nil {
		return summary, e.Wrap(op, err)
	}

	return summary, nil
}

// ProcessBatch обрабатывает пакет изображений и возвращает итог.
// При ошибке кластеризации или создания групп возвращается частичный итог вместе с ошибкой.
func (b *BatchUseCase) ProcessBatch(ctx context.Context, req *BatchReq) (*BatchSummary, error) {
	const op = "BatchUseCase.ProcessBatch"

	start := b.now()

	tenant, err := domain.SanitizeTenant(req.Tenant)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	includeExisting := b.cfg.IncludeExisting
	if req.IncludeExisting != nil {
		includeExisting = *req.IncludeExisting
	}

	summary := &BatchSummary{
		Groups:             make([]BatchGroup, 0),
		Ungrouped:          make([]string, 0),
		Failures:           make([]BatchFailure, 0),
		MultiSignalEnabled: b.engine.MultiSignalEnabled(),
	}
	defer func() {
		summary.Timings.Total = b.now().Sub(start)
		b.metrics.ObserveStage("total", summary.Timings.Total.Seconds())
	}()

	images := b.validate(tenant, req.Images, summary)
	b.logger.Infof("batch started: tenant=%s images=%d multiSignal=%t includeExisting=%t",
		tenant, len(images), summary.MultiSignalEnabled, includeExisting)

	// 1. Признаки (best effort)
	featuresStart := b.now()
	features := b.extractFeatures(ctx, images)
	summary.Timings.Features = b.now().Sub(featuresStart)
	b.metrics.ObserveStage(StageFeatures, summary.Timings.Features.Seconds())

	// 2. Эмбеддинги одним вызовом
	embeddingStart := b.now()
	embedded := b.embedAll(ctx, tenant, images, features, summary)
	summary.Timings.Embedding = b.now().Sub(embeddingStart)
	b.metrics.ObserveStage(StageEmbedding, summary.Timings.Embedding.Seconds())

	// 3. Сохранение
	stored := b.persist(ctx, embedded, summary)
	summary.Processed = len(stored)
	for range stored {
		b.metrics.ImageProcessed(PathBatch)
	}

	// 4. Уже сохранённые эмбеддинги тенанта
	candidates := stored
	if includeExisting && len(stored) > 0 {
		existing, err := b.fetchExisting(ctx, tenant, stored)
		if err != nil {
			return summary, e.Wrap(op, err)
		}
		candidates = append(append(make([]*domain.Embedding, 0, len(stored)+len(existing)), stored...), existing...)
	}

	// 5. Кластеризация
	clusterStart := b.now()
	clusters, err := clustering.Cluster(candidates, b.cfg.ClusterThreshold, b.engine.Similarity)
	b.metrics.ObserveStage(StageClustering, b.now().Sub(clusterStart).Seconds())
	if err != nil {
		b.metrics.StageFailed(StageClustering)
		return summary, e.Wrap(op, err)
	}

	// 6. Группы
	isNew := make(map[string]bool, len(stored))
	for _, emb := range stored {
		isNew[emb.ImageID] = true
	}

	var groupErrs []error
	for _, cluster := range clusters {
		newCount := 0
		for _, emb := range cluster {
			if isNew[emb.ImageID] {
				newCount++
			}
		}

		switch {
		case newCount == 0:
			// только ранее сохранённые изображения, они уже представлены своей группой
			continue
		case len(cluster) == 1:
			summary.Ungrouped = append(summary.Ungrouped, cluster[0].ImageID)
			continue
		}

		summary.ExistingMatched += len(cluster) - newCount

		group, err := b.materialize(ctx, tenant, cluster, isNew)
		if err != nil {
			b.metrics.StageFailed(StageGrouping)
			groupErrs = append(groupErrs, err)
			continue
		}
		summary.Groups = append(summary.Groups, *group)
	}

	b.logger.Infof("batch complete: tenant=%s groups=%d ungrouped=%d processed=%d existingMatched=%d failures=%d",
		tenant, len(summary.Groups), len(summary.Ungrouped), summary.Processed, summary.ExistingMatched, len(summary.Failures))

	if len(groupErrs) > 0 {
		return summary, e.Wrap(op, errors.Join(groupErrs...))
	}

	return summary, nil
}

// validate отбрасывает пустые, слишком большие и повторяющиеся изображения.
func (b *BatchUseCase) validate(tenant string, images []*domain.Image, summary *BatchSummary) []*domain.Image {
	valid := make([]*domain.Image, 0, len(images))
	seen := make(map[string]struct{}, len(images))

	for _, img := range images {
		if img == nil {
			continue
		}

		if err := validateImage(img, b.cfg.MaxImageSize); err != nil {
			b.fail(summary, img.ID, StageValidation, err)
			continue
		}

		if _, dup := seen[img.ID]; dup {
			b.fail(summary, img.ID, StageValidation, fmt.Errorf("duplicate image id in batch: %w", e.ErrStatusBadRequest))
			continue
		}
		seen[img.ID] = struct{}{}

		img.Tenant = tenant
		valid = append(valid, img)
	}

	return valid
}

// extractFeatures параллельно запрашивает признаки изображений. Ошибки только логируются:
// без признаков пара сравнивается по косинусу.
func (b *BatchUseCase) extractFeatures(ctx context.Context, images []*domain.Image) []*domain.ImageFeatures {
	features := make([]*domain.ImageFeatures, len(images))
	if !b.engine.MultiSignalEnabled() || b.extractor == nil || len(images) == 0 {
		return features
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.BatchConcurrency)

	for idx, img := range images {
		g.Go(func() error {
			var f *domain.ImageFeatures
			err := callWithTimeout(gCtx, b.cfg.CallTimeout, e.ErrEmbeddingService, func(ctx context.Context) error {
				var err error
				f, err = b.extractor.ExtractFeatures(ctx, img)
				return err
			})
			if err != nil {
				b.metrics.StageFailed(StageFeatures)
				b.logger.Warnf("feature extraction failed for image %s: %v", img.ID, err)
				return nil
			}
			features[idx] = f
			return nil
		})
	}
	_ = g.Wait()

	return features
}

// embedAll получает эмбеддинги всех изображений одним вызовом.
func (b *BatchUseCase) embedAll(
	ctx context.Context,
	tenant string,
	images []*domain.Image,
	features []*domain.ImageFeatures,
	summary *BatchSummary,
) []*domain.Embedding {
	if len(images) == 0 {
		return nil
	}

	var results []EmbeddingResult
	err := callWithTimeout(ctx, b.cfg.CallTimeout, e.ErrEmbeddingService, func(ctx context.Context) error {
		var err error
		results, err = b.embedder.EmbedBatch(ctx, images)
		return err
	})
	if err == nil && len(results) != len(images) {
		err = fmt.Errorf("%w: got %d results for %d images", e.ErrInvalidEmbedding, len(results), len(images))
	}
	if err != nil {
		for _, img := range images {
			b.fail(summary, img.ID, StageEmbedding, err)
		}
		return nil
	}

	now := b.now().UTC()
	embedded := make([]*domain.Embedding, 0, len(images))
	for idx, img := range images {
		res := results[idx]
		if res.Err == nil && len(res.Vector) == 0 {
			res.Err = e.ErrInvalidEmbedding
		}
		if res.Err != nil {
			b.fail(summary, img.ID, StageEmbedding, res.Err)
			continue
		}

		emb := domain.NewEmbedding(img.ID, tenant, res.Vector, img.Metadata(features[idx]))
		emb.CreatedAt = now
		embedded = append(embedded, emb)
	}

	return embedded
}

// persist параллельно сохраняет эмбеддинги; сбой сохранения исключает изображение из батча.
func (b *BatchUseCase) persist(ctx context.Context, embedded []*domain.Embedding, summary *BatchSummary) []*domain.Embedding {
	errs := make([]error, len(embedded))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.BatchConcurrency)
	for idx, emb := range embedded {
		g.Go(func() error {
			errs[idx] = callWithTimeout(gCtx, b.cfg.CallTimeout, e.ErrStorage, func(ctx context.Context) error {
				return b.embeddingRepo.Store(ctx, emb)
			})
			return nil
		})
	}
	_ = g.Wait()

	stored := make([]*domain.Embedding, 0, len(embedded))
	for idx, emb := range embedded {
		if errs[idx] != nil {
			b.fail(summary, emb.ImageID, StageStorage, errs[idx])
			continue
		}
		stored = append(stored, emb)
	}

	return stored
}

// fetchExisting возвращает сохранённые эмбеддинги тенанта, не входящие в текущий батч.
// Прерванные привязки к группам завершаются до кластеризации.
func (b *BatchUseCase) fetchExisting(ctx context.Context, tenant string, batch []*domain.Embedding) ([]*domain.Embedding, error) {
	var all []*domain.Embedding
	err := callWithTimeout(ctx, b.cfg.CallTimeout, e.ErrStorage, func(ctx context.Context) error {
		var err error
		all, err = b.embeddingRepo.FetchAll(ctx, tenant, b.cfg.FetchLimit)
		return err
	})
	if err != nil {
		return nil, err
	}

	inBatch := make(map[string]struct{}, len(batch))
	for _, emb := range batch {
		inBatch[emb.ImageID] = struct{}{}
	}

	existing := make([]*domain.Embedding, 0, len(all))
	for _, emb := range all {
		if _, ok := inBatch[emb.ImageID]; ok {
			continue
		}
		existing = append(existing, emb)
	}
	b.groups.ResumePending(ctx, tenant, existing)

	return existing, nil
}

// materialize создаёт группу из кластера. Если в кластере есть ранее сохранённое изображение,
// уже состоящее в группе, новые изображения присоединяются к этой группе: назначение
// изображения в группу не пересматривается.
func (b *BatchUseCase) materialize(ctx context.Context, tenant string, cluster []*domain.Embedding, isNew map[string]bool) (*BatchGroup, error) {
	confidence, breakdown := b.pairwise(cluster)

	for _, emb := range cluster {
		owner := emb.OwnerGroupID()
		if isNew[emb.ImageID] || owner == "" {
			continue
		}

		var group *domain.ProductGroup
		for _, member := range cluster {
			if !isNew[member.ImageID] {
				continue
			}
			g, err := b.groups.JoinGroup(ctx, tenant, member.ImageID, owner)
			if err != nil {
				return nil, err
			}
			member.ProductGroupID = owner
			group = g
		}

		return &BatchGroup{Group: group, IsNew: false, SignalBreakdown: breakdown}, nil
	}

	ids := make([]string, 0, len(cluster))
	for _, emb := range cluster {
		ids = append(ids, emb.ImageID)
	}

	name := fmt.Sprintf("Group of %d images", len(ids))
	group, err := b.groups.CreateGroup(ctx, NewCreateGroupReq(tenant, ids, name, clusterCategory(cluster), confidence))
	if err != nil {
		return nil, err
	}
	b.metrics.GroupCreated(PathBatch)

	for _, emb := range cluster {
		emb.ProductGroupID = group.GroupID
	}

	return &BatchGroup{Group: group, IsNew: true, SignalBreakdown: breakdown}, nil
}

// pairwise возвращает среднюю оценку по всем парам кластера и средний вклад каждого сигнала.
// Разбивка заполняется только в мульти-сигнальном режиме.
func (b *BatchUseCase) pairwise(cluster []*domain.Embedding) (float64, map[domain.Signal]float64) {
	var (
		total       float64
		comparisons int
		sums        = make(map[domain.Signal]float64)
		counts      = make(map[domain.Signal]int)
	)

	for i := 0; i < len(cluster); i++ {
		for j := i + 1; j < len(cluster); j++ {
			score, err := b.engine.Score(cluster[i], cluster[j])
			if err != nil {
				b.logger.Warnf("skip pair %s/%s: %v", cluster[i].ImageID, cluster[j].ImageID, err)
				continue
			}
			total += score.Total
			comparisons++

			for s, v := range score.Breakdown {
				sums[s] += v
				counts[s]++
			}
		}
	}

	if comparisons == 0 {
		return 0, nil
	}

	var breakdown map[domain.Signal]float64
	if b.engine.MultiSignalEnabled() && len(sums) > 0 {
		breakdown = make(map[domain.Signal]float64, len(sums))
		for s, sum := range sums {
			breakdown[s] = sum / float64(counts[s])
		}
	}

	return total / float64(comparisons), breakdown
}

func (b *BatchUseCase) fail(summary *BatchSummary, imageID string, stage Stage, err error) {
	b.metrics.StageFailed(stage)
	b.logger.Errorf(err, "image %s failed at stage %s", imageID, stage)
	summary.Failures = append(summary.Failures, NewBatchFailure(imageID, stage, err))
}

// clusterCategory берёт категорию из признаков первого изображения, у которого она есть.
func clusterCategory(cluster []*domain.Embedding) string {
	for _, emb := range cluster {
		if f := emb.Features(); f != nil && f.Category != "" {
			return f.Category
		}
	}
	return defaultCategory
}
