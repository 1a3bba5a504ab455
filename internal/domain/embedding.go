package domain

import "time"

// MetadataVersion - текущая версия схемы ImageMetadata.
const MetadataVersion = 1

// ImageMetadata - метаданные изображения, сохраняемые вместе с эмбеддингом.
type ImageMetadata struct {
	Version   int            `json:"version"`
	ObjectKey string         `json:"objectKey,omitempty"`
	FileName  string         `json:"fileName,omitempty"`
	MimeType  string         `json:"mimeType,omitempty"`
	SizeBytes int64          `json:"sizeBytes,omitempty"`
	Features  *ImageFeatures `json:"features,omitempty"`
	// Attributes - произвольные строковые атрибуты от вызывающей стороны.
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Embedding - эмбеддинг одного изображения тенанта.
// ProductGroupID пуст, пока изображение не назначено в группу; после назначения не меняется.
// PendingGroupID - группа, запись которой уже содержит изображение, но ссылка ещё не записана.
type Embedding struct {
	ImageID        string
	Tenant         string
	Vector         []float32
	ProductGroupID string
	PendingGroupID string
	Metadata       *ImageMetadata
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

func NewEmbedding(imageID string, tenant string, vector []float32, metadata *ImageMetadata) *Embedding {
	return &Embedding{
		ImageID:  imageID,
		Tenant:   tenant,
		Vector:   vector,
		Metadata: metadata,
	}
}

// HasGroup сообщает, назначено ли изображение в группу.
func (e *Embedding) HasGroup() bool {
	return e.ProductGroupID != ""
}

// State возвращает состояние назначения изображения.
func (e *Embedding) State() AssignmentState {
	switch {
	case e.HasGroup():
		return Assigned
	case e.PendingGroupID != "":
		return PendingGroupAssignment
	default:
		return Unassigned
	}
}

// OwnerGroupID - группа, которой изображение принадлежит или будет принадлежать.
func (e *Embedding) OwnerGroupID() string {
	if e.HasGroup() {
		return e.ProductGroupID
	}
	return e.PendingGroupID
}

// Transition переводит изображение в состояние to для группы groupID.
// allowed=false, если переход запрещён: изображение назначено или ожидает назначения
// в другую группу. changed=false для повторного перехода, уже применённого ранее.
func (e *Embedding) Transition(to AssignmentState, groupID string) (changed, allowed bool) {
	cur := e.State()
	owner := e.OwnerGroupID()

	if owner == groupID && (cur == to || cur == Assigned) {
		return false, true
	}
	if !cur.CanTransition(to) || (cur == PendingGroupAssignment && owner != groupID) {
		return false, false
	}

	switch to {
	case PendingGroupAssignment:
		e.PendingGroupID = groupID
	case Assigned:
		e.ProductGroupID = groupID
		e.PendingGroupID = ""
	}
	return true, true
}

// Features возвращает побочные признаки изображения, если они были сохранены.
func (e *Embedding) Features() *ImageFeatures {
	if e.Metadata == nil {
		return nil
	}
	return e.Metadata.Features
}

// AssignmentState - состояние изображения: UNASSIGNED → PENDING_GROUP_ASSIGNMENT → ASSIGNED.
// Обратных переходов нет.
type AssignmentState string

const (
	Unassigned             AssignmentState = "UNASSIGNED"
	PendingGroupAssignment AssignmentState = "PENDING_GROUP_ASSIGNMENT"
	Assigned               AssignmentState = "ASSIGNED"
)

// CanTransition проверяет допустимость перехода состояния.
func (s AssignmentState) CanTransition(to AssignmentState) bool {
	switch s {
	case Unassigned:
		return to == PendingGroupAssignment || to == Assigned
	case PendingGroupAssignment:
		return to == Assigned
	default:
		return false
	}
}
