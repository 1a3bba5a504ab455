package minio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/DRSN-tech/product-identity/internal/cfg"
	"github.com/DRSN-tech/product-identity/internal/domain"
	"github.com/DRSN-tech/product-identity/internal/infrastructure"
	"github.com/DRSN-tech/product-identity/internal/usecase"
	"github.com/DRSN-tech/product-identity/pkg/e"
	"github.com/DRSN-tech/product-identity/pkg/jitter"
	"github.com/DRSN-tech/product-identity/pkg/logger"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	cleanupAttempts    = 3
	cleanupBaseBackoff = time.Second
	cleanupMaxBackoff  = 8 * time.Second
	cleanupTimeout     = 30 * time.Second
)

// MinioInfrastructure управляет загрузкой, чтением и очисткой изображений в MinIO.
type MinioInfrastructure struct {
	minioRepo         usecase.ImageRepository
	cfg               *cfg.MinIOCfg
	logger            logger.Logger
	shutdownCtx       context.Context
	wg                sync.WaitGroup
	uploadImagesLimit int
}

func NewMinioInfrastructure(minioRepo usecase.ImageRepository, cfg *cfg.MinIOCfg, logger logger.Logger, shutdownCtx context.Context) *MinioInfrastructure {
	limit := cfg.UploadImagesLimit
	if limit <= 0 {
		limit = 1
	}

	return &MinioInfrastructure{
		minioRepo:         minioRepo,
		cfg:               cfg,
		logger:            logger,
		shutdownCtx:       shutdownCtx,
		uploadImagesLimit: limit,
	}
}

// UploadImages загружает изображения тенанта в MinIO параллельно с ограничением одновременных операций.
// Ключ объекта - <tenant>/<imageID>.<ext>; он же записывается в image.ObjectKey.
// В случае ошибки отменяет остальные загрузки и запускает очистку уже загруженных файлов.
func (m *MinioInfrastructure) UploadImages(ctx context.Context, req *usecase.UploadImagesReq) (*usecase.UploadImagesRes, error) {
	const op = "MinioInfrastructure.UploadImages"
	// Отмена остальных загрузок при первой ошибке
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type uploaded struct {
		idx int
		key string
	}

	keyCh := make(chan uploaded, len(req.Images))
	errCh := make(chan error, len(req.Images))
	sem := make(chan struct{}, m.uploadImagesLimit)

	var uploadWg sync.WaitGroup
	for idx, image := range req.Images {
		uploadWg.Add(1)
		go func() {
			defer uploadWg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if image.ID == "" {
				image.ID = uuid.NewString()
			}
			image.ContentType = infrastructure.DetectMIME(image.ContentType, image.Data)

			ext, err := infrastructure.GetExtensionFromMIME(image.ContentType)
			if err != nil {
				errCh <- fmt.Errorf("invalid mime type %s for %s: %w", image.ContentType, image.ID, err)
				return
			}
			image.ObjectKey = fmt.Sprintf("%s/%s.%s", req.Tenant, image.ID, ext)

			key, err := m.minioRepo.Upload(ctx, image)
			if err != nil {
				errCh <- fmt.Errorf("upload %s failed: %w", image.ID, err)
				return
			}

			keyCh <- uploaded{idx: idx, key: key}
		}()
	}

	go func() {
		uploadWg.Wait()
		close(errCh)
		close(keyCh)
	}()

	keys := make([]string, len(req.Images))
	done := make([]string, 0, len(req.Images))
	ok := false
	defer func() {
		if !ok {
			// Загрузки, завершившиеся уже после отмены, тоже подчищаются
			go func() {
				for u := range keyCh {
					m.CleanupImages([]string{u.key})
				}
			}()
			m.CleanupImages(done)
		}
	}()

	for completed := 0; completed < len(req.Images); {
		select {
		case u, ok := <-keyCh:
			if ok {
				keys[u.idx] = u.key
				done = append(done, u.key)
				completed++
			}
		case err, ok := <-errCh:
			if ok {
				cancel()
				return nil, e.Wrap(op, err)
			}
		case <-ctx.Done():
			cancel()
			return nil, e.Wrap(op, ctx.Err())
		}
	}

	ok = true
	return usecase.NewUploadImagesRes(keys), nil
}

// FetchImages читает объекты по ссылкам загрузок. Ошибка чтения одного объекта
// не прерывает остальные и попадает в Failures со стадией fetch.
func (m *MinioInfrastructure) FetchImages(ctx context.Context, req *usecase.FetchImagesReq) (*usecase.FetchImagesRes, error) {
	images := make([]*domain.Image, len(req.Uploads))
	errs := make([]error, len(req.Uploads))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(m.uploadImagesLimit)

	for idx, ref := range req.Uploads {
		g.Go(func() error {
			data, obj, err := m.minioRepo.Get(gCtx, ref.ObjectKey, req.MaxSize)
			if err != nil {
				errs[idx] = err
				return nil
			}

			image := domain.NewImage(ref.ImageID, req.Tenant, data, infrastructure.DetectMIME(obj.ContentType, data))
			image.ObjectKey = obj.ObjectKey
			images[idx] = image
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, e.Wrap("MinioInfrastructure.FetchImages", err)
	}

	res := &usecase.FetchImagesRes{
		Images:   make([]*domain.Image, 0, len(images)),
		Failures: make([]usecase.BatchFailure, 0),
	}
	for idx, image := range images {
		if errs[idx] != nil {
			m.logger.Warnf("failed to fetch image %s (%s): %v", req.Uploads[idx].ImageID, req.Uploads[idx].ObjectKey, errs[idx])
			res.Failures = append(res.Failures, usecase.NewBatchFailure(req.Uploads[idx].ImageID, usecase.StageFetch, errs[idx]))
			continue
		}
		res.Images = append(res.Images, image)
	}

	return res, nil
}

// CleanupImages запускает фоновую очистку указанных ключей MinIO
func (m *MinioInfrastructure) CleanupImages(keys []string) {
	if len(keys) == 0 {
		return
	}
	m.wg.Add(1)
	go m.cleanupUploadedKeys(keys)
}

// cleanupUploadedKeys удаляет указанные объекты из MinIO с экспоненциальной задержкой и jitter.
func (m *MinioInfrastructure) cleanupUploadedKeys(keys []string) {
	defer m.wg.Done() // сигнализируем завершение компенсации
	const op = "MinioInfrastructure.cleanupUploadedKeys"
	m.logger.Infof("%s: cleaning up %d uploaded keys", op, len(keys))

	// Создаём контекст с таймаутом на основе shutdownCtx
	ctx, cancel := context.WithTimeout(m.shutdownCtx, cleanupTimeout)
	defer cancel()

	for _, key := range keys {
		for attempt := 0; attempt < cleanupAttempts; attempt++ {
			err := m.minioRepo.Delete(ctx, key)
			if err == nil {
				break
			}

			if attempt == cleanupAttempts-1 {
				m.logger.Errorf(err, "%s: giving up on key=%s", op, key)
				break
			}

			if err := jitter.Sleep(ctx, jitter.ExponentialBackoff(cleanupBaseBackoff, cleanupMaxBackoff, attempt, jitter.DefaultJitter)); err != nil {
				m.logger.Warnf("cleanup interrupted by shutdown, key=%v", key)
				return
			}
		}
	}
}

// WaitForCleanup ожидает завершения всех фоновых задач очистки с учётом таймаута завершения приложения.
func (m *MinioInfrastructure) WaitForCleanup(shutdownTimeoutCtx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-shutdownTimeoutCtx.Done():
		return fmt.Errorf("minio cleanup timeout during shutdown: %w", shutdownTimeoutCtx.Err())
	}
}
