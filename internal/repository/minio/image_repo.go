package minio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/DRSN-tech/product-identity/internal/cfg"
	"github.com/DRSN-tech/product-identity/internal/domain"
	"github.com/DRSN-tech/product-identity/pkg/e"
	"github.com/jimlawless/whereami"
	"github.com/minio/minio-go/v7"
)

// ImageRepo реализует репозиторий изображений поверх MinIO.
type ImageRepo struct {
	mc  *minio.Client
	cfg *cfg.MinIOCfg
}

func NewImageRepo(mc *minio.Client, cfg *cfg.MinIOCfg) *ImageRepo {
	return &ImageRepo{
		mc:  mc,
		cfg: cfg,
	}
}

// Upload загружает изображение в MinIO и возвращает ключ объекта.
func (i *ImageRepo) Upload(ctx context.Context, image *domain.Image) (string, error) {
	reader := bytes.NewReader(image.Data)

	info, err := i.mc.PutObject(ctx, i.cfg.BucketName, image.ObjectKey, reader, image.Size(), minio.PutObjectOptions{
		ContentType: image.ContentType,
	})
	if err != nil {
		return "", e.Storage(whereami.WhereAmI(), err)
	}

	return info.Key, nil
}

// Get читает объект целиком. Размер проверяется по метаданным до скачивания:
// объект больше maxSize отклоняется с e.ErrImageTooLarge.
func (i *ImageRepo) Get(ctx context.Context, key string, maxSize int64) ([]byte, *domain.StoredObject, error) {
	stat, err := i.mc.StatObject(ctx, i.cfg.BucketName, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, nil, e.Wrap(whereami.WhereAmI(), fmt.Errorf("%w: %s", e.ErrImageNotFound, key))
		}
		return nil, nil, e.Storage(whereami.WhereAmI(), err)
	}

	if maxSize > 0 && stat.Size > maxSize {
		return nil, nil, e.Wrap(whereami.WhereAmI(), fmt.Errorf("%w: %s is %d bytes", e.ErrImageTooLarge, key, stat.Size))
	}

	obj, err := i.mc.GetObject(ctx, i.cfg.BucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, nil, e.Storage(whereami.WhereAmI(), err)
	}
	defer obj.Close()

	var reader io.Reader = obj
	if maxSize > 0 {
		// Объект мог быть перезаписан после StatObject
		reader = io.LimitReader(obj, maxSize+1)
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, nil, e.Storage(whereami.WhereAmI(), err)
	}
	if maxSize > 0 && int64(len(data)) > maxSize {
		return nil, nil, e.Wrap(whereami.WhereAmI(), e.ErrImageTooLarge)
	}

	return data, &domain.StoredObject{
		Bucket:      i.cfg.BucketName,
		ObjectKey:   key,
		Size:        int64(len(data)),
		ContentType: stat.ContentType,
	}, nil
}

// Delete удаляет объект из MinIO по указанному ключу.
func (i *ImageRepo) Delete(ctx context.Context, key string) error {
	if err := i.mc.RemoveObject(ctx, i.cfg.BucketName, key, minio.RemoveObjectOptions{}); err != nil {
		var resp minio.ErrorResponse
		if errors.As(err, &resp) && resp.Code == "NoSuchKey" {
			return nil
		}
		return e.Wrap(whereami.WhereAmI(), err)
	}

	return nil
}
