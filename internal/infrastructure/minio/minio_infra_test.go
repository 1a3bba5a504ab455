package minio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DRSN-tech/product-identity/internal/cfg"
	"github.com/DRSN-tech/product-identity/internal/domain"
	"github.com/DRSN-tech/product-identity/internal/usecase"
	"github.com/DRSN-tech/product-identity/pkg/e"
	"github.com/DRSN-tech/product-identity/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memRepo - ImageRepository в памяти.
type memRepo struct {
	mu        sync.Mutex
	objects   map[string][]byte
	failKey   string
	deleted   []string
	uploadErr error
}

func newMemRepo() *memRepo {
	return &memRepo{objects: make(map[string][]byte)}
}

func (r *memRepo) Upload(_ context.Context, image *domain.Image) (string, error) {
	if r.uploadErr != nil && image.ID == r.failKey {
		return "", r.uploadErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.objects[image.ObjectKey] = image.Data
	return image.ObjectKey, nil
}

func (r *memRepo) Get(_ context.Context, key string, maxSize int64) ([]byte, *domain.StoredObject, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, ok := r.objects[key]
	if !ok {
		return nil, nil, e.ErrImageNotFound
	}
	if maxSize > 0 && int64(len(data)) > maxSize {
		return nil, nil, e.ErrImageTooLarge
	}
	return data, &domain.StoredObject{ObjectKey: key, Size: int64(len(data)), ContentType: "image/png"}, nil
}

func (r *memRepo) Delete(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.objects, key)
	r.deleted = append(r.deleted, key)
	return nil
}

func newInfra(repo usecase.ImageRepository) *MinioInfrastructure {
	return NewMinioInfrastructure(repo, &cfg.MinIOCfg{BucketName: "b", UploadImagesLimit: 2}, logger.NewNopLogger(), context.Background())
}

func TestUploadImagesKeepsRequestOrder(t *testing.T) {
	repo := newMemRepo()
	infra := newInfra(repo)

	images := []*domain.Image{
		domain.NewImage("a", "t1", []byte("aa"), "image/png"),
		domain.NewImage("b", "t1", []byte("bb"), "image/jpeg"),
		domain.NewImage("c", "t1", []byte("cc"), "image/webp"),
	}

	res, err := infra.UploadImages(context.Background(), usecase.NewUploadImagesReq("t1", images))
	require.NoError(t, err)
	assert.Equal(t, []string{"t1/a.png", "t1/b.jpg", "t1/c.webp"}, res.ImagesKeys)
	assert.Equal(t, "t1/b.jpg", images[1].ObjectKey)
}

func TestUploadImagesCleansUpOnFailure(t *testing.T) {
	repo := newMemRepo()
	repo.failKey = "bad"
	repo.uploadErr = errors.New("boom")
	infra := newInfra(repo)

	images := []*domain.Image{
		domain.NewImage("ok", "t1", []byte("aa"), "image/png"),
		domain.NewImage("bad", "t1", []byte("bb"), "image/png"),
	}

	_, err := infra.UploadImages(context.Background(), usecase.NewUploadImagesReq("t1", images))
	require.Error(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	assert.Eventually(t, func() bool {
		repo.mu.Lock()
		defer repo.mu.Unlock()
		_, exists := repo.objects["t1/ok.png"]
		return !exists
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, infra.WaitForCleanup(ctx))
}

func TestFetchImagesCollectsFailures(t *testing.T) {
	repo := newMemRepo()
	repo.objects["t1/a.png"] = []byte("aa")
	repo.objects["t1/big.png"] = []byte("0123456789")
	infra := newInfra(repo)

	res, err := infra.FetchImages(context.Background(), usecase.NewFetchImagesReq("t1", []usecase.UploadRef{
		{ImageID: "a", ObjectKey: "t1/a.png"},
		{ImageID: "missing", ObjectKey: "t1/missing.png"},
		{ImageID: "big", ObjectKey: "t1/big.png"},
	}, 5))
	require.NoError(t, err)

	require.Len(t, res.Images, 1)
	assert.Equal(t, "a", res.Images[0].ID)
	assert.Equal(t, "t1/a.png", res.Images[0].ObjectKey)
	assert.Equal(t, "t1", res.Images[0].Tenant)

	require.Len(t, res.Failures, 2)
	assert.Equal(t, "missing", res.Failures[0].ImageID)
	assert.Equal(t, usecase.StageFetch, res.Failures[0].Stage)
	assert.ErrorIs(t, res.Failures[0].Err, e.ErrImageNotFound)
	assert.ErrorIs(t, res.Failures[1].Err, e.ErrImageTooLarge)
}
