package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/DRSN-tech/product-identity/internal/domain"
	"github.com/DRSN-tech/product-identity/internal/infrastructure"
	"github.com/DRSN-tech/product-identity/pkg/e"
	"github.com/google/uuid"
	"github.com/jimlawless/whereami"
)

type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func NewErrorResponse(code int, message string) *ErrorResponse {
	return &ErrorResponse{
		Code:    code,
		Message: message,
	}
}

func ToHTTPResponse(err error) (int, string) {
	switch {
	case errors.Is(err, e.ErrInvalidTenant):
		return http.StatusBadRequest, e.ErrInvalidTenant.Error()
	case errors.Is(err, e.ErrExpectedMultipart):
		return http.StatusBadRequest, e.ErrExpectedMultipart.Error()
	case errors.Is(err, e.ErrMissingFields):
		return http.StatusBadRequest, e.ErrMissingFields.Error()
	case errors.Is(err, e.ErrEmptyImage):
		return http.StatusBadRequest, e.ErrEmptyImage.Error()
	case errors.Is(err, e.ErrNoImages):
		return http.StatusBadRequest, e.ErrNoImages.Error()
	case errors.Is(err, e.ErrTooManyImages):
		return http.StatusBadRequest, e.ErrTooManyImages.Error()
	case errors.Is(err, e.ErrStatusBadRequest):
		return http.StatusBadRequest, e.ErrStatusBadRequest.Error()
	case errors.Is(err, e.ErrImageTooLarge):
		return http.StatusRequestEntityTooLarge, e.ErrImageTooLarge.Error()
	case errors.Is(err, e.ErrUnsupportedMediaType):
		return http.StatusUnsupportedMediaType, e.ErrUnsupportedMediaType.Error()
	case errors.Is(err, e.ErrGroupNotFound):
		return http.StatusNotFound, e.ErrGroupNotFound.Error()
	case errors.Is(err, e.ErrImageNotFound):
		return http.StatusNotFound, e.ErrImageNotFound.Error()
	case errors.Is(err, e.ErrObjectStorageDisabled):
		return http.StatusNotImplemented, e.ErrObjectStorageDisabled.Error()
	case errors.Is(err, e.ErrInvalidEmbedding):
		return http.StatusBadGateway, e.ErrInvalidEmbedding.Error()
	case errors.Is(err, e.ErrStorage), errors.Is(err, e.ErrEmbeddingService):
		return http.StatusServiceUnavailable, "temporarily unavailable, retry later"
	default:
		return http.StatusInternalServerError, e.ErrInternalServerError.Error()
	}
}

func WriteError(w http.ResponseWriter, err error) {
	code, msg := ToHTTPResponse(err)
	WriteSuccess(w, code, NewErrorResponse(code, msg))
}

func WriteSuccess(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func ensureMultipartForm(r *http.Request, maxMemory int64) error {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		return e.Wrap(whereami.WhereAmI(), e.ErrExpectedMultipart)
	}
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return e.Wrap(whereami.WhereAmI(), e.ErrImageTooLarge)
		}
		return fmt.Errorf("%w: %w", e.ErrStatusBadRequest, err)
	}
	return nil
}

// parseImages читает файлы формы. Идентификаторы берутся из полей ids по порядку файлов;
// если идентификатора нет, он генерируется.
func parseImages(files []*multipart.FileHeader, ids []string, maxCount int, maxSize int64) ([]*domain.Image, error) {
	if len(files) == 0 {
		return nil, e.ErrNoImages
	}
	if maxCount > 0 && len(files) > maxCount {
		return nil, e.Wrap(fmt.Sprintf("%d files, limit %d", len(files), maxCount), e.ErrTooManyImages)
	}

	images := make([]*domain.Image, 0, len(files))
	for idx, fh := range files {
		data, mimeType, err := readFile(fh, maxSize)
		if err != nil {
			return nil, err
		}

		id := ""
		if idx < len(ids) {
			id = strings.TrimSpace(ids[idx])
		}
		if id == "" {
			id = uuid.NewString()
		}

		img := domain.NewImage(id, "", data, mimeType)
		img.FileName = filepath.Base(fh.Filename)
		images = append(images, img)
	}
	return images, nil
}

func readFile(fh *multipart.FileHeader, maxSize int64) ([]byte, string, error) {
	if maxSize > 0 && fh.Size > maxSize {
		return nil, "", e.Wrap(fh.Filename, e.ErrImageTooLarge)
	}

	src, err := fh.Open()
	if err != nil {
		return nil, "", e.ErrInternalServerError
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return nil, "", e.ErrInternalServerError
	}

	mimeType := infrastructure.DetectMIME(fh.Header.Get("Content-Type"), data)
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, "", e.Wrap(fh.Filename+": "+mimeType, e.ErrUnsupportedMediaType)
	}
	return data, mimeType, nil
}

// attributes собирает поля формы вида attr.<name> в атрибуты изображения.
func attributes(form *multipart.Form) map[string]string {
	const prefix = "attr."

	if form == nil {
		return nil
	}

	var attrs map[string]string
	for k, v := range form.Value {
		if !strings.HasPrefix(k, prefix) || len(v) == 0 {
			continue
		}
		if attrs == nil {
			attrs = make(map[string]string)
		}
		attrs[strings.TrimPrefix(k, prefix)] = v[0]
	}
	return attrs
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, e.Wrap("limit="+raw, e.ErrStatusBadRequest)
	}
	return limit, nil
}

func parseBoolQuery(r *http.Request, name string) (*bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, e.Wrap(name+"="+raw, e.ErrStatusBadRequest)
	}
	return &v, nil
}
