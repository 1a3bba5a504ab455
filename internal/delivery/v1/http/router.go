package http

import (
	"net/http"

	"github.com/DRSN-tech/product-identity/internal/usecase"
	"github.com/DRSN-tech/product-identity/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Limits - ограничения на размер входящих изображений.
type Limits struct {
	MaxImageSize   int64
	MaxBatchImages int
}

type Router struct {
	router *chi.Mux
	logger logger.Logger
}

func NewRouter(router *chi.Mux, logger logger.Logger) *Router {
	return &Router{router: router, logger: logger}
}

func (r *Router) Init(
	imageUC usecase.ImageUC,
	batchUC usecase.BatchUC,
	groupUC usecase.GroupUC,
	limits Limits,
	metricsPath string,
	metricsHandler http.Handler,
) {
	r.router.Use(middleware.RequestID)
	r.router.Use(middleware.Recoverer)

	if metricsHandler != nil {
		r.router.Method(http.MethodGet, metricsPath, metricsHandler)
	}
	r.router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.router.Route("/v1/tenants/{tenant}", func(v1 chi.Router) {
		registerImageRoutes(v1, NewImageHandler(imageUC, limits.MaxImageSize, r.logger))
		registerBatchRoutes(v1, NewBatchHandler(batchUC, limits.MaxBatchImages, limits.MaxImageSize, r.logger))
		registerGroupRoutes(v1, NewGroupHandler(groupUC, r.logger))
	})
}

func registerImageRoutes(router chi.Router, h *ImageHandler) {
	router.Post("/images", h.processImage)
}

func registerBatchRoutes(router chi.Router, h *BatchHandler) {
	router.Route("/batches", func(b chi.Router) {
		b.Post("/", h.processBatch)
		b.Post("/uploads", h.processUploads)
	})
}

func registerGroupRoutes(router chi.Router, h *GroupHandler) {
	router.Route("/groups", func(g chi.Router) {
		g.Get("/", h.listGroups)
		g.Get("/{groupID}", h.getGroup)
	})
}
