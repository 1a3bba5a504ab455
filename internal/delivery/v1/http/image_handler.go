package http

import (
	"net/http"

	"github.com/DRSN-tech/product-identity/internal/usecase"
	"github.com/DRSN-tech/product-identity/pkg/e"
	"github.com/DRSN-tech/product-identity/pkg/logger"
	"github.com/go-chi/chi/v5"
)

type ImageHandler struct {
	imageUsecase usecase.ImageUC
	maxImageSize int64
	logger       logger.Logger
}

func NewImageHandler(imageUsecase usecase.ImageUC, maxImageSize int64, logger logger.Logger) *ImageHandler {
	return &ImageHandler{imageUsecase: imageUsecase, maxImageSize: maxImageSize, logger: logger}
}

// processImage
//
//	@Summary		Сопоставление одного изображения
//	@Description	Эмбеддинг, поиск похожих изображений тенанта и назначение в группу
//	@Tags			images
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			tenant		path		string					true	"Тенант"
//	@Param			image		formData	file					true	"Изображение"
//	@Param			image_id	formData	string					false	"Идентификатор изображения"
//	@Success		200			{object}	ProcessImageResponse	"Похожие изображения и группа"
//	@Failure		400			{object}	ErrorResponse			"Ошибка валидации"
//	@Failure		413			{object}	ErrorResponse			"Изображение слишком большое"
//	@Failure		503			{object}	ErrorResponse			"Временная ошибка, можно повторить"
//	@Router			/v1/tenants/{tenant}/images [post]
func (h *ImageHandler) processImage(w http.ResponseWriter, r *http.Request) {
	const maxMemory = 32 << 20

	// запас на служебные поля формы
	r.Body = http.MaxBytesReader(w, r.Body, h.maxImageSize+maxMemory)

	if err := ensureMultipartForm(r, maxMemory); err != nil {
		h.logger.Warnf("%d %s: %s", http.StatusBadRequest, e.ErrStatusBadRequest.Error(), r.Header.Get("Content-Type"))
		WriteError(w, err)
		return
	}

	images, err := parseImages(r.MultipartForm.File["image"], r.MultipartForm.Value["image_id"], 1, h.maxImageSize)
	if err != nil {
		h.logger.Warnf("%d %s: %s", http.StatusBadRequest, e.ErrStatusBadRequest.Error(), err.Error())
		WriteError(w, err)
		return
	}
	images[0].Attributes = attributes(r.MultipartForm)

	res, err := h.imageUsecase.ProcessImage(r.Context(), usecase.NewProcessImageReq(chi.URLParam(r, "tenant"), images[0]))
	if err != nil {
		h.logger.Errorf(err, "process image %s", images[0].ID)
		WriteError(w, err)
		return
	}

	WriteSuccess(w, http.StatusOK, toProcessImageResponse(res))
}
