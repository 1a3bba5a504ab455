package kafka

import (
	"encoding/json"
	"time"

	"github.com/DRSN-tech/product-identity/internal/domain"
	"github.com/google/uuid"
)

// Типы событий группировки.
const (
	EventGroupCreated  = "product_group.created"
	EventImageAssigned = "image.assigned"
)

// GroupEvent - событие группировки в топике событий.
type GroupEvent struct {
	EventID        string    `json:"eventId"`
	EventType      string    `json:"eventType"`
	OccurredAt     time.Time `json:"occurredAt"`
	Tenant         string    `json:"tenant"`
	GroupID        string    `json:"groupId"`
	ImageID        string    `json:"imageId,omitempty"`
	ImageIDs       []string  `json:"imageIds,omitempty"`
	PrimaryImageID string    `json:"primaryImageId,omitempty"`
	ProductName    string    `json:"productName,omitempty"`
	Category       string    `json:"category,omitempty"`
	Confidence     float64   `json:"confidence,omitempty"`
}

// UploadEvent - событие загрузки изображения в объектное хранилище.
type UploadEvent struct {
	Tenant    string `json:"tenant"`
	ImageID   string `json:"imageId"`
	ObjectKey string `json:"objectKey"`
}

func newGroupCreatedEvent(group *domain.ProductGroup, now time.Time) GroupEvent {
	return GroupEvent{
		EventID:        uuid.NewString(),
		EventType:      EventGroupCreated,
		OccurredAt:     now,
		Tenant:         group.Tenant,
		GroupID:        group.GroupID,
		ImageIDs:       group.ImageIDs,
		PrimaryImageID: group.PrimaryImageID,
		ProductName:    group.ProductName,
		Category:       group.Category,
		Confidence:     group.Confidence,
	}
}

func newImageAssignedEvent(tenant, imageID, groupID string, now time.Time) GroupEvent {
	return GroupEvent{
		EventID:    uuid.NewString(),
		EventType:  EventImageAssigned,
		OccurredAt: now,
		Tenant:     tenant,
		GroupID:    groupID,
		ImageID:    imageID,
	}
}

// key - ключ сообщения: события одной группы попадают в одну партицию.
func (ev GroupEvent) key() []byte {
	return []byte(ev.Tenant + "#" + ev.GroupID)
}

func (ev GroupEvent) encode() ([]byte, error) {
	return json.Marshal(ev)
}

func decodeUploadEvent(data []byte) (UploadEvent, error) {
	var ev UploadEvent
	err := json.Unmarshal(data, &ev)
	return ev, err
}
