package usecase_test

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DRSN-tech/product-identity/internal/cfg"
	"github.com/DRSN-tech/product-identity/internal/domain"
	"github.com/DRSN-tech/product-identity/internal/metrics"
	"github.com/DRSN-tech/product-identity/internal/repository/kvstore"
	"github.com/DRSN-tech/product-identity/internal/similarity"
	"github.com/DRSN-tech/product-identity/internal/usecase"
	"github.com/DRSN-tech/product-identity/pkg/e"
	"github.com/DRSN-tech/product-identity/pkg/kv"
	"github.com/DRSN-tech/product-identity/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tenant = "shop-1"

type fakeEmbedder struct {
	vectors  map[string][]float32
	failures map[string]error
	calls    atomic.Int32
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, images []*domain.Image) ([]usecase.EmbeddingResult, error) {
	f.calls.Add(1)

	res := make([]usecase.EmbeddingResult, len(images))
	for i, img := range images {
		if err, ok := f.failures[img.ID]; ok {
			res[i].Err = err
			continue
		}
		res[i].Vector = f.vectors[img.ID]
	}
	return res, nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	created  []string
	assigned []string
}

func (p *recordingPublisher) PublishGroupCreated(_ context.Context, group *domain.ProductGroup) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, group.GroupID)
	return nil
}

func (p *recordingPublisher) PublishImageAssigned(_ context.Context, _, imageID, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.assigned = append(p.assigned, imageID)
	return nil
}

type fakeImages struct {
	objects map[string][]byte
}

func (f *fakeImages) UploadImages(_ context.Context, req *usecase.UploadImagesReq) (*usecase.UploadImagesRes, error) {
	keys := make([]string, 0, len(req.Images))
	for _, img := range req.Images {
		key := req.Tenant + "/" + img.ID
		f.objects[key] = img.Data
		keys = append(keys, key)
	}
	return usecase.NewUploadImagesRes(keys), nil
}

func (f *fakeImages) FetchImages(_ context.Context, req *usecase.FetchImagesReq) (*usecase.FetchImagesRes, error) {
	res := &usecase.FetchImagesRes{}
	for _, u := range req.Uploads {
		data, ok := f.objects[u.ObjectKey]
		if !ok {
			res.Failures = append(res.Failures, usecase.NewBatchFailure(u.ImageID, usecase.StageFetch, e.ErrImageNotFound))
			continue
		}
		img := domain.NewImage(u.ImageID, req.Tenant, data, "image/jpeg")
		img.ObjectKey = u.ObjectKey
		res.Images = append(res.Images, img)
	}
	return res, nil
}

func (f *fakeImages) CleanupImages(keys []string) {
	for _, k := range keys {
		delete(f.objects, k)
	}
}

type fakeExtractor struct {
	features map[string]*domain.ImageFeatures
}

func (f *fakeExtractor) ExtractFeatures(_ context.Context, image *domain.Image) (*domain.ImageFeatures, error) {
	feat, ok := f.features[image.ID]
	if !ok {
		return nil, fmt.Errorf("no features for %s", image.ID)
	}
	return feat, nil
}

// stallingStore зависает до отмены контекста, пока stalled=true.
type stallingStore struct {
	kv.Store
	stalled atomic.Bool
}

func (s *stallingStore) wait(ctx context.Context) error {
	if !s.stalled.Load() {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *stallingStore) Put(ctx context.Context, item kv.Item) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	return s.Store.Put(ctx, item)
}

func (s *stallingStore) Get(ctx context.Context, pk, sk string) (kv.Item, error) {
	if err := s.wait(ctx); err != nil {
		return kv.Item{}, err
	}
	return s.Store.Get(ctx, pk, sk)
}

func (s *stallingStore) Update(ctx context.Context, pk, sk string, fn kv.UpdateFunc) (kv.UpdateResult, error) {
	if err := s.wait(ctx); err != nil {
		return kv.UpdateResult{}, err
	}
	return s.Store.Update(ctx, pk, sk, fn)
}

func (s *stallingStore) Query(ctx context.Context, pk string, opts kv.QueryOptions) (kv.Page, error) {
	if err := s.wait(ctx); err != nil {
		return kv.Page{}, err
	}
	return s.Store.Query(ctx, pk, opts)
}

type env struct {
	embedder  *fakeEmbedder
	publisher *recordingPublisher
	images    *fakeImages
	store     kv.Store
	embRepo   *kvstore.EmbeddingRepo
	groups    *usecase.GroupUseCase
	image     *usecase.ImageUseCase
	batch     *usecase.BatchUseCase
}

func engineCfg() *cfg.EngineCfg {
	return &cfg.EngineCfg{
		Thresholds:       similarity.DefaultThresholds(),
		ClusterThreshold: 0.92,
		Weights:          similarity.DefaultWeights(),
		MaxImageSize:     1024,
		EmbeddingTTL:     time.Hour,
		GroupTTL:         time.Hour,
		FetchLimit:       100,
		PageSize:         10,
		IncludeExisting:  true,
		CallTimeout:      5 * time.Second,
		BatchConcurrency: 4,
	}
}

func timeoutCfg() *cfg.EngineCfg {
	c := engineCfg()
	c.CallTimeout = 50 * time.Millisecond
	return c
}

func newEnv(vectors map[string][]float32) *env {
	return newEnvWith(engineCfg(), vectors, kv.NewMemoryStore(), nil, false)
}

func newEnvWith(c *cfg.EngineCfg, vectors map[string][]float32, store kv.Store, extractor usecase.FeatureExtractor, multiSignal bool) *env {
	log := logger.NewNopLogger()

	embRepo := kvstore.NewEmbeddingRepo(store, c, log)
	groupRepo := kvstore.NewGroupRepo(store, c, log)
	engine := similarity.NewEngine(c.Thresholds, c.Weights, multiSignal)

	ev := &env{
		embedder:  &fakeEmbedder{vectors: vectors, failures: map[string]error{}},
		publisher: &recordingPublisher{},
		images:    &fakeImages{objects: map[string][]byte{}},
		store:     store,
		embRepo:   embRepo,
	}
	ev.groups = usecase.NewGroupUC(groupRepo, embRepo, ev.publisher, metrics.Nop{}, c, log)
	ev.image = usecase.NewImageUC(embRepo, ev.embedder, nil, ev.groups, engine, metrics.Nop{}, c, log)
	ev.batch = usecase.NewBatchUC(embRepo, ev.embedder, extractor, ev.images, ev.groups, engine, metrics.Nop{}, c, log)
	return ev
}

func img(id string) *domain.Image {
	return domain.NewImage(id, tenant, []byte("jpeg:"+id), "image/jpeg")
}

// unit возвращает вектор с заданным косинусом к (1,0).
func unit(cos float64) []float32 {
	return []float32{float32(cos), float32(math.Sqrt(1 - cos*cos))}
}

func TestProcessImageCreatesPairGroup(t *testing.T) {
	ctx := context.Background()
	ev := newEnv(map[string][]float32{
		"a": {1, 0},
		"b": unit(0.95),
	})

	first, err := ev.image.ProcessImage(ctx, usecase.NewProcessImageReq(tenant, img("a")))
	require.NoError(t, err)
	assert.Empty(t, first.SimilarImages)
	assert.Nil(t, first.AssignedGroup)

	second, err := ev.image.ProcessImage(ctx, usecase.NewProcessImageReq(tenant, img("b")))
	require.NoError(t, err)

	require.Len(t, second.SimilarImages, 1)
	assert.Equal(t, domain.SameProduct, second.SimilarImages[0].Classification)
	require.NotNil(t, second.AssignedGroup)
	assert.True(t, second.IsNewGroup)
	assert.ElementsMatch(t, []string{"a", "b"}, second.AssignedGroup.ImageIDs)
	assert.Equal(t, "b", second.AssignedGroup.PrimaryImageID)
	assert.InDelta(t, 0.95, second.AssignedGroup.Confidence, 1e-4)

	for _, id := range []string{"a", "b"} {
		emb, err := ev.embRepo.Get(ctx, tenant, id)
		require.NoError(t, err)
		assert.Equal(t, second.AssignedGroup.GroupID, emb.ProductGroupID)
	}
	assert.Len(t, ev.publisher.created, 1)
}

func TestProcessImageJoinsExistingGroup(t *testing.T) {
	ctx := context.Background()
	ev := newEnv(map[string][]float32{
		"a": {1, 0},
		"b": unit(0.97),
		"c": unit(0.99),
	})

	for _, id := range []string{"a", "b"} {
		_, err := ev.image.ProcessImage(ctx, usecase.NewProcessImageReq(tenant, img(id)))
		require.NoError(t, err)
	}

	res, err := ev.image.ProcessImage(ctx, usecase.NewProcessImageReq(tenant, img("c")))
	require.NoError(t, err)

	require.NotNil(t, res.AssignedGroup)
	assert.False(t, res.IsNewGroup)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, res.AssignedGroup.ImageIDs)

	groups, err := ev.groups.ListGroups(ctx, tenant, 0)
	require.NoError(t, err)
	assert.Len(t, groups, 1)
}

func TestProcessImageLikelySameWithGroupedMatchStaysUngrouped(t *testing.T) {
	ctx := context.Background()
	ev := newEnv(map[string][]float32{
		"a": {1, 0},
		"b": unit(0.97),
		"c": {0.88, -0.475},
	})

	for _, id := range []string{"a", "b"} {
		_, err := ev.image.ProcessImage(ctx, usecase.NewProcessImageReq(tenant, img(id)))
		require.NoError(t, err)
	}

	res, err := ev.image.ProcessImage(ctx, usecase.NewProcessImageReq(tenant, img("c")))
	require.NoError(t, err)

	require.NotEmpty(t, res.SimilarImages)
	best := res.SimilarImages[0]
	assert.Equal(t, "a", best.ImageID)
	assert.Equal(t, domain.LikelySame, best.Classification)
	assert.NotEmpty(t, best.GroupID)
	assert.Nil(t, res.AssignedGroup)
	assert.False(t, res.IsNewGroup)

	groups, err := ev.groups.ListGroups(ctx, tenant, 0)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.ElementsMatch(t, []string{"a", "b"}, groups[0].ImageIDs)

	c, err := ev.embRepo.Get(ctx, tenant, "c")
	require.NoError(t, err)
	assert.Equal(t, domain.Unassigned, c.State())

	a, err := ev.embRepo.Get(ctx, tenant, "a")
	require.NoError(t, err)
	assert.Equal(t, groups[0].GroupID, a.ProductGroupID)
}

func TestProcessImagePossiblySameStaysUngrouped(t *testing.T) {
	ctx := context.Background()
	ev := newEnv(map[string][]float32{
		"a": {1, 0},
		"b": unit(0.8),
	})

	_, err := ev.image.ProcessImage(ctx, usecase.NewProcessImageReq(tenant, img("a")))
	require.NoError(t, err)

	res, err := ev.image.ProcessImage(ctx, usecase.NewProcessImageReq(tenant, img("b")))
	require.NoError(t, err)

	require.Len(t, res.SimilarImages, 1)
	assert.Equal(t, domain.PossiblySame, res.SimilarImages[0].Classification)
	assert.Nil(t, res.AssignedGroup)
}

func TestProcessImageRejectsBeforeEmbedding(t *testing.T) {
	ctx := context.Background()
	ev := newEnv(map[string][]float32{"a": {1, 0}})

	empty := domain.NewImage("a", tenant, nil, "image/jpeg")
	_, err := ev.image.ProcessImage(ctx, usecase.NewProcessImageReq(tenant, empty))
	assert.ErrorIs(t, err, e.ErrEmptyImage)

	big := domain.NewImage("a", tenant, make([]byte, 2048), "image/jpeg")
	_, err = ev.image.ProcessImage(ctx, usecase.NewProcessImageReq(tenant, big))
	assert.ErrorIs(t, err, e.ErrImageTooLarge)

	_, err = ev.image.ProcessImage(ctx, usecase.NewProcessImageReq("#/", img("a")))
	assert.ErrorIs(t, err, e.ErrInvalidTenant)

	assert.Zero(t, ev.embedder.calls.Load())
}

func TestProcessBatchGroupsSimilarImages(t *testing.T) {
	ctx := context.Background()
	ev := newEnv(map[string][]float32{
		"1": {1, 0, 0},
		"2": {0, 1, 0},
		"3": {0.99, 0.141, 0},
		"4": {0, 0, 1},
		"5": {0.577, 0.577, 0.577},
	})

	batch := []*domain.Image{img("1"), img("2"), img("3"), img("4"), img("5")}
	summary, err := ev.batch.ProcessBatch(ctx, usecase.NewBatchReq(tenant, batch, nil))
	require.NoError(t, err)

	require.Len(t, summary.Groups, 1)
	group := summary.Groups[0]
	assert.True(t, group.IsNew)
	assert.Equal(t, []string{"1", "3"}, group.Group.ImageIDs)
	assert.Equal(t, "Group of 2 images", group.Group.ProductName)
	assert.Equal(t, "general", group.Group.Category)
	assert.Equal(t, []string{"2", "4", "5"}, summary.Ungrouped)
	assert.Equal(t, 5, summary.Processed)
	assert.Zero(t, summary.ExistingMatched)
	assert.Empty(t, summary.Failures)
	assert.Equal(t, int32(1), ev.embedder.calls.Load())
}

func TestProcessBatchMultiSignal(t *testing.T) {
	ctx := context.Background()
	shoe := &domain.ImageFeatures{
		Version:     domain.FeaturesVersion,
		Labels:      []string{"shoe", "sneaker"},
		Colors:      []string{"red"},
		Category:    "footwear",
		Brand:       "Acme",
		AspectRatio: 1.5,
	}
	extractor := &fakeExtractor{features: map[string]*domain.ImageFeatures{
		"1": shoe,
		"2": shoe,
		"3": nil,
	}}
	// 1 и 2 ортогональны по эмбеддингам, но совпадают по признакам;
	// у 3 и 4 признаков нет, они сравниваются по косинусу
	ev := newEnvWith(engineCfg(), map[string][]float32{
		"1": {1, 0},
		"2": {0, 1},
		"3": {1, 0},
		"4": {0, 1},
	}, kv.NewMemoryStore(), extractor, true)

	batch := []*domain.Image{img("1"), img("2"), img("3"), img("4")}
	summary, err := ev.batch.ProcessBatch(ctx, usecase.NewBatchReq(tenant, batch, nil))
	require.NoError(t, err)

	assert.True(t, summary.MultiSignalEnabled)
	require.Len(t, summary.Groups, 1)
	group := summary.Groups[0]
	assert.Equal(t, []string{"1", "2", "3"}, group.Group.ImageIDs)
	assert.Equal(t, []string{"4"}, summary.Ungrouped)

	require.NotEmpty(t, group.SignalBreakdown)
	assert.InDelta(t, 1.0, group.SignalBreakdown[domain.SignalFeature], 1e-9)
	assert.InDelta(t, 1.0, group.SignalBreakdown[domain.SignalSemantic], 1e-9)
	// пары (1,3) и (2,3) без признаков: 1.0 и 0.0 по косинусу
	assert.InDelta(t, 2.0/3.0, group.Group.Confidence, 1e-4)

	emb, err := ev.embRepo.Get(ctx, tenant, "1")
	require.NoError(t, err)
	require.NotNil(t, emb.Features())
	assert.Equal(t, "Acme", emb.Features().Brand)
}

func TestProcessBatchEmbeddingFailureIsReportedOnly(t *testing.T) {
	ctx := context.Background()
	ev := newEnv(map[string][]float32{
		"1": {1, 0},
		"3": {0.99, 0.141},
	})
	ev.embedder.failures["2"] = fmt.Errorf("model rejected: %w", e.ErrInvalidEmbedding)

	summary, err := ev.batch.ProcessBatch(ctx, usecase.NewBatchReq(tenant, []*domain.Image{img("1"), img("2"), img("3")}, nil))
	require.NoError(t, err)

	require.Len(t, summary.Failures, 1)
	assert.Equal(t, "2", summary.Failures[0].ImageID)
	assert.Equal(t, usecase.StageEmbedding, summary.Failures[0].Stage)
	assert.NotContains(t, summary.Ungrouped, "2")
	require.Len(t, summary.Groups, 1)
	assert.NotContains(t, summary.Groups[0].Group.ImageIDs, "2")
	assert.Equal(t, 2, summary.Processed)

	_, err = ev.embRepo.Get(ctx, tenant, "2")
	assert.ErrorIs(t, err, e.ErrImageNotFound)
}

func TestProcessBatchJoinsExistingGroup(t *testing.T) {
	ctx := context.Background()
	ev := newEnv(map[string][]float32{
		"a": {1, 0},
		"b": unit(0.98),
		"c": unit(0.99),
	})

	first, err := ev.batch.ProcessBatch(ctx, usecase.NewBatchReq(tenant, []*domain.Image{img("a"), img("b")}, nil))
	require.NoError(t, err)
	require.Len(t, first.Groups, 1)
	groupID := first.Groups[0].Group.GroupID

	second, err := ev.batch.ProcessBatch(ctx, usecase.NewBatchReq(tenant, []*domain.Image{img("c")}, nil))
	require.NoError(t, err)

	require.Len(t, second.Groups, 1)
	assert.False(t, second.Groups[0].IsNew)
	assert.Equal(t, groupID, second.Groups[0].Group.GroupID)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, second.Groups[0].Group.ImageIDs)
	assert.Equal(t, 2, second.ExistingMatched)

	emb, err := ev.embRepo.Get(ctx, tenant, "c")
	require.NoError(t, err)
	assert.Equal(t, groupID, emb.ProductGroupID)
}

func TestProcessBatchWithoutExisting(t *testing.T) {
	ctx := context.Background()
	ev := newEnv(map[string][]float32{
		"a": {1, 0},
		"c": unit(0.99),
	})

	_, err := ev.batch.ProcessBatch(ctx, usecase.NewBatchReq(tenant, []*domain.Image{img("a")}, nil))
	require.NoError(t, err)

	no := false
	summary, err := ev.batch.ProcessBatch(ctx, usecase.NewBatchReq(tenant, []*domain.Image{img("c")}, &no))
	require.NoError(t, err)
	assert.Empty(t, summary.Groups)
	assert.Equal(t, []string{"c"}, summary.Ungrouped)
}

func TestProcessBatchRejectsInvalidImages(t *testing.T) {
	ctx := context.Background()
	ev := newEnv(map[string][]float32{"a": {1, 0}})

	batch := []*domain.Image{
		img("a"),
		img("a"),
		domain.NewImage("big", tenant, make([]byte, 2048), "image/jpeg"),
		domain.NewImage("empty", tenant, nil, "image/jpeg"),
	}
	summary, err := ev.batch.ProcessBatch(ctx, usecase.NewBatchReq(tenant, batch, nil))
	require.NoError(t, err)

	require.Len(t, summary.Failures, 3)
	for _, f := range summary.Failures {
		assert.Equal(t, usecase.StageValidation, f.Stage)
	}
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, []string{"a"}, summary.Ungrouped)
}

func TestProcessUploadsReportsFetchFailuresFirst(t *testing.T) {
	ctx := context.Background()
	ev := newEnv(map[string][]float32{
		"a": {1, 0},
		"b": unit(0.97),
	})
	ev.embedder.failures["c"] = e.ErrInvalidEmbedding
	ev.images.objects[tenant+"/a"] = []byte("a")
	ev.images.objects[tenant+"/b"] = []byte("b")
	ev.images.objects[tenant+"/c"] = []byte("c")

	summary, err := ev.batch.ProcessUploads(ctx, usecase.NewUploadsReq(tenant, []usecase.UploadRef{
		{ImageID: "a", ObjectKey: tenant + "/a"},
		{ImageID: "missing", ObjectKey: tenant + "/missing"},
		{ImageID: "b", ObjectKey: tenant + "/b"},
		{ImageID: "c", ObjectKey: tenant + "/c"},
	}))
	require.NoError(t, err)

	require.Len(t, summary.Failures, 2)
	assert.Equal(t, "missing", summary.Failures[0].ImageID)
	assert.Equal(t, usecase.StageFetch, summary.Failures[0].Stage)
	assert.Equal(t, "c", summary.Failures[1].ImageID)
	require.Len(t, summary.Groups, 1)

	emb, err := ev.embRepo.Get(ctx, tenant, "a")
	require.NoError(t, err)
	assert.Equal(t, tenant+"/a", emb.Metadata.ObjectKey)
}

func TestAddImageToGroupRecordConcurrentDuplicates(t *testing.T) {
	ctx := context.Background()
	ev := newEnv(map[string][]float32{"a": {1, 0}, "b": unit(0.99)})

	summary, err := ev.batch.ProcessBatch(ctx, usecase.NewBatchReq(tenant, []*domain.Image{img("a"), img("b")}, nil))
	require.NoError(t, err)
	require.Len(t, summary.Groups, 1)
	groupID := summary.Groups[0].Group.GroupID

	const workers = 10
	var (
		wg       sync.WaitGroup
		appended atomic.Int32
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := ev.groups.AddImageToGroupRecord(ctx, tenant, "z", groupID)
			if !assert.NoError(t, err) {
				return
			}
			if res.Appended {
				appended.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), appended.Load())

	group, err := ev.groups.GetGroupByID(ctx, tenant, groupID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "z"}, group.ImageIDs)
}

func TestLinkImageToGroupKeepsFirstAssignment(t *testing.T) {
	ctx := context.Background()
	ev := newEnv(map[string][]float32{"a": {1, 0}})

	_, err := ev.image.ProcessImage(ctx, usecase.NewProcessImageReq(tenant, img("a")))
	require.NoError(t, err)

	require.NoError(t, ev.groups.LinkImageToGroup(ctx, tenant, "a", "pg_first"))
	require.NoError(t, ev.groups.LinkImageToGroup(ctx, tenant, "a", "pg_first"))
	require.NoError(t, ev.groups.LinkImageToGroup(ctx, tenant, "a", "pg_second"))

	emb, err := ev.embRepo.Get(ctx, tenant, "a")
	require.NoError(t, err)
	assert.Equal(t, "pg_first", emb.ProductGroupID)
	assert.Equal(t, []string{"a"}, ev.publisher.assigned)
}

func TestStorageTimeoutIsRetryable(t *testing.T) {
	ctx := context.Background()
	store := &stallingStore{Store: kv.NewMemoryStore()}
	ev := newEnvWith(timeoutCfg(), map[string][]float32{"a": {1, 0}}, store, nil, false)

	store.stalled.Store(true)

	_, err := ev.image.ProcessImage(ctx, usecase.NewProcessImageReq(tenant, img("a")))
	require.Error(t, err)
	assert.ErrorIs(t, err, e.ErrStorage)
	assert.True(t, e.IsRetryable(err))
	assert.Equal(t, int32(1), ev.embedder.calls.Load())

	_, err = ev.groups.GetGroupByID(ctx, tenant, "pg_any")
	require.Error(t, err)
	assert.ErrorIs(t, err, e.ErrStorage)
	assert.True(t, e.IsRetryable(err))

	summary, err := ev.batch.ProcessBatch(ctx, usecase.NewBatchReq(tenant, []*domain.Image{img("a")}, nil))
	require.NoError(t, err)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, usecase.StageStorage, summary.Failures[0].Stage)
	assert.True(t, e.IsRetryable(summary.Failures[0].Err))
}

func TestCreateGroupResumesPendingAssignment(t *testing.T) {
	ctx := context.Background()
	ev := newEnv(map[string][]float32{
		"a": {1, 0},
		"b": unit(0.95),
		"c": unit(0.99),
	})

	for _, id := range []string{"a", "b"} {
		require.NoError(t, ev.embRepo.Store(ctx, domain.NewEmbedding(id, tenant, ev.embedder.vectors[id], nil)))
	}

	// Создание группы прервалось после записи группы: a и b остались в PENDING
	group, err := domain.NewProductGroup(tenant, []string{"a", "b"}, "", "", 0.95, time.Now())
	require.NoError(t, err)
	require.NoError(t, kvstore.NewGroupRepo(ev.store, engineCfg(), logger.NewNopLogger()).Create(ctx, group))
	for _, id := range []string{"a", "b"} {
		res, err := ev.embRepo.MarkPending(ctx, tenant, id, group.GroupID)
		require.NoError(t, err)
		require.True(t, res.Linked)
	}

	// ожидающее изображение не уходит в другую группу
	require.NoError(t, ev.groups.LinkImageToGroup(ctx, tenant, "a", "pg_other"))
	a, err := ev.embRepo.Get(ctx, tenant, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.PendingGroupAssignment, a.State())

	res, err := ev.image.ProcessImage(ctx, usecase.NewProcessImageReq(tenant, img("c")))
	require.NoError(t, err)
	require.NotNil(t, res.AssignedGroup)
	assert.False(t, res.IsNewGroup)
	assert.Equal(t, group.GroupID, res.AssignedGroup.GroupID)

	for _, id := range []string{"a", "b", "c"} {
		emb, err := ev.embRepo.Get(ctx, tenant, id)
		require.NoError(t, err)
		assert.Equal(t, domain.Assigned, emb.State(), id)
		assert.Equal(t, group.GroupID, emb.ProductGroupID, id)
	}

	groups, err := ev.groups.ListGroups(ctx, tenant, 0)
	require.NoError(t, err)
	assert.Len(t, groups, 1)
}

func TestCreateGroupSkipsImagesOwnedElsewhere(t *testing.T) {
	ctx := context.Background()
	ev := newEnv(map[string][]float32{"a": {1, 0}, "b": {1, 0}})

	for _, id := range []string{"a", "b"} {
		require.NoError(t, ev.embRepo.Store(ctx, domain.NewEmbedding(id, tenant, ev.embedder.vectors[id], nil)))
	}
	_, err := ev.embRepo.MarkPending(ctx, tenant, "a", "pg_first")
	require.NoError(t, err)

	group, err := ev.groups.CreateGroup(ctx, usecase.NewCreateGroupReq(tenant, []string{"a", "b"}, "", "", 0.9))
	require.NoError(t, err)

	a, err := ev.embRepo.Get(ctx, tenant, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.PendingGroupAssignment, a.State())
	assert.Equal(t, "pg_first", a.PendingGroupID)

	b, err := ev.embRepo.Get(ctx, tenant, "b")
	require.NoError(t, err)
	assert.Equal(t, domain.Assigned, b.State())
	assert.Equal(t, group.GroupID, b.ProductGroupID)
	assert.Equal(t, []string{"b"}, ev.publisher.assigned)
}

func TestGetGroupByIDNotFound(t *testing.T) {
	ev := newEnv(nil)

	_, err := ev.groups.GetGroupByID(context.Background(), tenant, "pg_missing")
	assert.ErrorIs(t, err, e.ErrGroupNotFound)
}
