package e

import (
	"context"
	"errors"
	"fmt"
)

var (
	// Ошибки входных данных, повтор не поможет
	ErrInvalidTenant = fmt.Errorf("invalid tenant id: must contain alphanumeric characters")
	ErrImageTooLarge = fmt.Errorf("image too large")
	ErrEmptyImage    = fmt.Errorf("image buffer is empty")
	ErrEmptyGroup    = fmt.Errorf("cannot create product group: image ids are empty")

	// Ошибки векторов, повтор не поможет
	ErrEmptyVector       = fmt.Errorf("embedding arrays cannot be empty")
	ErrDimensionMismatch = fmt.Errorf("embedding dimensions must match")
	ErrInvalidEmbedding  = fmt.Errorf("invalid embedding service response")

	// Ошибки конфигурации
	ErrIncorrectEnvVariable = fmt.Errorf("incorrect environment variable")
	ErrInvalidWeights       = fmt.Errorf("signal weights must sum to 1")
	ErrInvalidThresholds    = fmt.Errorf("similarity thresholds must be strictly decreasing")

	// Временные ошибки, вызов можно повторить
	ErrStorage          = fmt.Errorf("storage error")
	ErrEmbeddingService = fmt.Errorf("embedding service error")

	// Поиск
	ErrGroupNotFound = fmt.Errorf("product group not found")
	ErrImageNotFound = fmt.Errorf("image not found")

	ErrObjectStorageDisabled = fmt.Errorf("object storage is not configured")

	// 400 Bad Request
	ErrStatusBadRequest     = fmt.Errorf("bad request")
	ErrExpectedMultipart    = fmt.Errorf("expected multipart/form-data")
	ErrNoImages             = fmt.Errorf("no images provided")
	ErrTooManyImages        = fmt.Errorf("too many images")
	ErrMissingFields        = fmt.Errorf("missing required fields")
	ErrUnsupportedMediaType = fmt.Errorf("unsupported media type")

	// 500 Internal Server Error
	ErrInternalServerError = fmt.Errorf("internal server error")
)

// Wrap оборачивает ошибку
func Wrap(msg string, err error) error {
	return fmt.Errorf("%s: %w", msg, err)
}

// Storage помечает ошибку хранилища как временную (retryable).
func Storage(msg string, err error) error {
	return fmt.Errorf("%s: %w: %w", msg, ErrStorage, err)
}

// EmbeddingService помечает ошибку сервиса эмбеддингов как временную (retryable).
func EmbeddingService(msg string, err error) error {
	return fmt.Errorf("%s: %w: %w", msg, ErrEmbeddingService, err)
}

// IsRetryable сообщает, можно ли повторить неудавшуюся операцию без изменений.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, ErrInvalidTenant),
		errors.Is(err, ErrImageTooLarge),
		errors.Is(err, ErrEmptyImage),
		errors.Is(err, ErrEmptyGroup),
		errors.Is(err, ErrEmptyVector),
		errors.Is(err, ErrDimensionMismatch),
		errors.Is(err, ErrInvalidEmbedding):
		return false
	case errors.Is(err, ErrStorage),
		errors.Is(err, ErrEmbeddingService),
		errors.Is(err, context.DeadlineExceeded):
		return true
	default:
		return false
	}
}
