package kvstore

import (
	"encoding/json"
	"time"

	"github.com/DRSN-tech/product-identity/internal/domain"
)

// embeddingRecord - сохраняемое представление эмбеддинга.
type embeddingRecord struct {
	EntityType     string                `json:"entityType"`
	ImageID        string                `json:"imageId"`
	Tenant         string                `json:"tenant"`
	Embedding      []float32             `json:"embedding"`
	ProductGroupID string                `json:"productGroupId,omitempty"`
	PendingGroupID string                `json:"pendingGroupId,omitempty"`
	Metadata       *domain.ImageMetadata `json:"metadata,omitempty"`
	CreatedAt      time.Time             `json:"createdAt"`
	UpdatedAt      time.Time             `json:"updatedAt"`
}

// groupRecord - сохраняемое представление группы товаров.
type groupRecord struct {
	EntityType     string    `json:"entityType"`
	GroupID        string    `json:"groupId"`
	Tenant         string    `json:"tenant"`
	PrimaryImageID string    `json:"primaryImageId"`
	ImageIDs       []string  `json:"imageIds"`
	ProductName    string    `json:"productName,omitempty"`
	Category       string    `json:"category,omitempty"`
	Confidence     float64   `json:"confidence"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func toEmbeddingRecord(emb *domain.Embedding, now time.Time) embeddingRecord {
	createdAt := emb.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	return embeddingRecord{
		EntityType:     entityEmbedding,
		ImageID:        emb.ImageID,
		Tenant:         emb.Tenant,
		Embedding:      emb.Vector,
		ProductGroupID: emb.ProductGroupID,
		PendingGroupID: emb.PendingGroupID,
		Metadata:       emb.Metadata,
		CreatedAt:      createdAt,
		UpdatedAt:      now,
	}
}

func (r embeddingRecord) toDomain(expiresAt time.Time) *domain.Embedding {
	return &domain.Embedding{
		ImageID:        r.ImageID,
		Tenant:         r.Tenant,
		Vector:         r.Embedding,
		ProductGroupID: r.ProductGroupID,
		PendingGroupID: r.PendingGroupID,
		Metadata:       r.Metadata,
		CreatedAt:      r.CreatedAt,
		ExpiresAt:      expiresAt,
	}
}

func toGroupRecord(g *domain.ProductGroup) groupRecord {
	return groupRecord{
		EntityType:     entityProductGroup,
		GroupID:        g.GroupID,
		Tenant:         g.Tenant,
		PrimaryImageID: g.PrimaryImageID,
		ImageIDs:       g.ImageIDs,
		ProductName:    g.ProductName,
		Category:       g.Category,
		Confidence:     g.Confidence,
		CreatedAt:      g.CreatedAt,
		UpdatedAt:      g.UpdatedAt,
	}
}

func (r groupRecord) toDomain() *domain.ProductGroup {
	return &domain.ProductGroup{
		GroupID:        r.GroupID,
		Tenant:         r.Tenant,
		PrimaryImageID: r.PrimaryImageID,
		ImageIDs:       r.ImageIDs,
		ProductName:    r.ProductName,
		Category:       r.Category,
		Confidence:     r.Confidence,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func decodeEmbedding(data []byte) (embeddingRecord, error) {
	var r embeddingRecord
	err := json.Unmarshal(data, &r)
	return r, err
}

func decodeGroup(data []byte) (groupRecord, error) {
	var r groupRecord
	err := json.Unmarshal(data, &r)
	return r, err
}
