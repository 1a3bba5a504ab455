package http

import (
	"encoding/json"
	"net/http"

	"github.com/DRSN-tech/product-identity/internal/usecase"
	"github.com/DRSN-tech/product-identity/pkg/e"
	"github.com/DRSN-tech/product-identity/pkg/logger"
	"github.com/go-chi/chi/v5"
)

type BatchHandler struct {
	batchUsecase usecase.BatchUC
	maxImages    int
	maxImageSize int64
	logger       logger.Logger
}

func NewBatchHandler(batchUsecase usecase.BatchUC, maxImages int, maxImageSize int64, logger logger.Logger) *BatchHandler {
	return &BatchHandler{
		batchUsecase: batchUsecase,
		maxImages:    maxImages,
		maxImageSize: maxImageSize,
		logger:       logger,
	}
}

// processBatch - частичный итог при ошибке группировки отдаётся с кодом ошибки.
//
//	@Summary		Пакетная обработка изображений
//	@Tags			batches
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			tenant				path		string					true	"Тенант"
//	@Param			include_existing	query		bool					false	"Кластеризовать вместе с сохранёнными"
//	@Param			images				formData	file					true	"Изображения"
//	@Param			image_ids			formData	[]string				false	"Идентификаторы по порядку файлов"
//	@Success		200					{object}	BatchSummaryResponse	"Итог батча"
//	@Failure		400					{object}	ErrorResponse			"Ошибка валидации"
//	@Router			/v1/tenants/{tenant}/batches [post]
func (h *BatchHandler) processBatch(w http.ResponseWriter, r *http.Request) {
	const maxMemory = 32 << 20

	r.Body = http.MaxBytesReader(w, r.Body, int64(max(h.maxImages, 1))*h.maxImageSize+maxMemory)

	includeExisting, err := parseBoolQuery(r, "include_existing")
	if err != nil {
		WriteError(w, err)
		return
	}

	if err := ensureMultipartForm(r, maxMemory); err != nil {
		h.logger.Warnf("%d %s: %s", http.StatusBadRequest, e.ErrStatusBadRequest.Error(), r.Header.Get("Content-Type"))
		WriteError(w, err)
		return
	}

	images, err := parseImages(r.MultipartForm.File["images"], r.MultipartForm.Value["image_ids"], h.maxImages, h.maxImageSize)
	if err != nil {
		h.logger.Warnf("%d %s: %s", http.StatusBadRequest, e.ErrStatusBadRequest.Error(), err.Error())
		WriteError(w, err)
		return
	}

	summary, err := h.batchUsecase.ProcessBatch(r.Context(), usecase.NewBatchReq(chi.URLParam(r, "tenant"), images, includeExisting))
	h.writeSummary(w, summary, err)
}

// processUploads
//
//	@Summary		Пакетная обработка загруженных в S3 изображений
//	@Tags			batches
//	@Accept			json
//	@Produce		json
//	@Param			tenant	path		string					true	"Тенант"
//	@Param			request	body		ProcessUploadsRequest	true	"Ключи объектов"
//	@Success		200		{object}	BatchSummaryResponse	"Итог батча"
//	@Failure		400		{object}	ErrorResponse			"Ошибка валидации"
//	@Router			/v1/tenants/{tenant}/batches/uploads [post]
func (h *BatchHandler) processUploads(w http.ResponseWriter, r *http.Request) {
	const maxBody = 1 << 20

	var req ProcessUploadsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&req); err != nil {
		h.logger.Warnf("%d %s: %s", http.StatusBadRequest, e.ErrStatusBadRequest.Error(), err.Error())
		WriteError(w, e.Wrap(err.Error(), e.ErrStatusBadRequest))
		return
	}
	if len(req.Uploads) == 0 {
		WriteError(w, e.ErrNoImages)
		return
	}
	if h.maxImages > 0 && len(req.Uploads) > h.maxImages {
		WriteError(w, e.ErrTooManyImages)
		return
	}
	for _, u := range req.Uploads {
		if u.ImageID == "" || u.ObjectKey == "" {
			WriteError(w, e.ErrMissingFields)
			return
		}
	}

	summary, err := h.batchUsecase.ProcessUploads(r.Context(), usecase.NewUploadsReq(chi.URLParam(r, "tenant"), toUploadRefs(req.Uploads)))
	h.writeSummary(w, summary, err)
}

func (h *BatchHandler) writeSummary(w http.ResponseWriter, summary *usecase.BatchSummary, err error) {
	if err != nil {
		h.logger.Errorf(err, "batch processing failed")
		if summary == nil {
			WriteError(w, err)
			return
		}
		code, _ := ToHTTPResponse(err)
		WriteSuccess(w, code, toBatchSummaryResponse(summary))
		return
	}

	WriteSuccess(w, http.StatusOK, toBatchSummaryResponse(summary))
}
