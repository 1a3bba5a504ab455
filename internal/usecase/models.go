package usecase

import (
	"time"

	"github.com/DRSN-tech/product-identity/internal/domain"
)

// Stage - этап обработки изображения, на котором произошёл сбой.
type Stage string

const (
	StageValidation Stage = "validation"
	StageFetch      Stage = "fetch"
	StageFeatures   Stage = "features"
	StageEmbedding  Stage = "embedding"
	StageStorage    Stage = "storage"
	StageSearch     Stage = "search"
	StageClustering Stage = "clustering"
	StageGrouping   Stage = "grouping"
)

// Пути обработки для метрик.
const (
	PathIncremental = "incremental"
	PathBatch       = "batch"
)

// GROUP MANAGER

// CreateGroupReq - запрос на создание группы из изображений.
type CreateGroupReq struct {
	Tenant     string
	ImageIDs   []string
	Name       string
	Category   string
	Confidence float64
}

// LinkResult - итог установки ссылки изображения на группу.
type LinkResult struct {
	Linked  bool
	GroupID string                 // группа, которой изображение принадлежит после вызова
	State   domain.AssignmentState // состояние назначения после вызова
}

// AppendResult - итог условного добавления изображения в группу.
type AppendResult struct {
	Group    *domain.ProductGroup
	Appended bool
}

// ORCHESTRATOR

// ProcessImageReq - одно вновь загруженное изображение.
type ProcessImageReq struct {
	Tenant string
	Image  *domain.Image
}

// ProcessImageRes - результат инкрементальной обработки изображения.
type ProcessImageRes struct {
	Embedding     *domain.Embedding
	SimilarImages []domain.SimilarityMatch
	AssignedGroup *domain.ProductGroup
	IsNewGroup    bool
}

// BATCH PIPELINE

// BatchReq - пакет вновь загруженных изображений. IncludeExisting=nil означает значение из конфигурации.
type BatchReq struct {
	Tenant          string
	Images          []*domain.Image
	IncludeExisting *bool
}

// UploadRef - ссылка на загруженный в S3 объект.
type UploadRef struct {
	ImageID   string
	ObjectKey string
}

// UploadsReq - пакет загрузок, изображения которых нужно сначала прочитать из S3.
type UploadsReq struct {
	Tenant  string
	Uploads []UploadRef
}

// BatchSummary - итог пакетной обработки.
type BatchSummary struct {
	Groups             []BatchGroup
	Ungrouped          []string
	Processed          int
	ExistingMatched    int
	MultiSignalEnabled bool
	Failures           []BatchFailure
	Timings            BatchTimings
}

// BatchGroup - группа, созданная (или пополненная) пакетной обработкой.
type BatchGroup struct {
	Group           *domain.ProductGroup
	IsNew           bool
	SignalBreakdown map[domain.Signal]float64
}

// BatchFailure - сбой обработки одного изображения.
type BatchFailure struct {
	ImageID string
	Stage   Stage
	Err     error
}

type BatchTimings struct {
	Features  time.Duration
	Embedding time.Duration
	Total     time.Duration
}

// INFRASTRUCTURE

// EmbeddingResult - эмбеддинг одного изображения либо ошибка.
type EmbeddingResult struct {
	Vector       []float32
	ModelVersion string
	Err          error
}

// UploadImagesReq - запрос на загрузку изображений тенанта.
type UploadImagesReq struct {
	Tenant string
	Images []*domain.Image
}

// UploadImagesRes - ключи загруженных объектов, по порядку запроса.
type UploadImagesRes struct {
	ImagesKeys []string
}

// FetchImagesReq - запрос на чтение изображений из S3.
type FetchImagesReq struct {
	Tenant  string
	Uploads []UploadRef
	MaxSize int64
}

// FetchImagesRes - прочитанные изображения и сбои чтения.
type FetchImagesRes struct {
	Images   []*domain.Image
	Failures []BatchFailure
}

// MAPPERS

func NewCreateGroupReq(tenant string, imageIDs []string, name, category string, confidence float64) *CreateGroupReq {
	return &CreateGroupReq{
		Tenant:     tenant,
		ImageIDs:   imageIDs,
		Name:       name,
		Category:   category,
		Confidence: confidence,
	}
}

func NewProcessImageReq(tenant string, image *domain.Image) *ProcessImageReq {
	return &ProcessImageReq{
		Tenant: tenant,
		Image:  image,
	}
}

func NewBatchReq(tenant string, images []*domain.Image, includeExisting *bool) *BatchReq {
	return &BatchReq{
		Tenant:          tenant,
		Images:          images,
		IncludeExisting: includeExisting,
	}
}

func NewUploadsReq(tenant string, uploads []UploadRef) *UploadsReq {
	return &UploadsReq{
		Tenant:  tenant,
		Uploads: uploads,
	}
}

func NewUploadImagesReq(tenant string, images []*domain.Image) *UploadImagesReq {
	return &UploadImagesReq{
		Tenant: tenant,
		Images: images,
	}
}

func NewUploadImagesRes(imagesKeys []string) *UploadImagesRes {
	return &UploadImagesRes{
		ImagesKeys: imagesKeys,
	}
}

func NewFetchImagesReq(tenant string, uploads []UploadRef, maxSize int64) *FetchImagesReq {
	return &FetchImagesReq{
		Tenant:  tenant,
		Uploads: uploads,
		MaxSize: maxSize,
	}
}

func NewBatchFailure(imageID string, stage Stage, err error) BatchFailure {
	return BatchFailure{
		ImageID: imageID,
		Stage:   stage,
		Err:     err,
	}
}
