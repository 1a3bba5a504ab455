package domain

import (
	"slices"
	"time"

	"github.com/DRSN-tech/product-identity/pkg/e"
	"github.com/google/uuid"
)

// GroupIDPrefix - префикс идентификаторов групп.
const GroupIDPrefix = "pg_"

// ProductGroup - группа изображений одного физического товара.
// ImageIDs непуст, без дубликатов, PrimaryImageID ∈ ImageIDs; список только дополняется.
type ProductGroup struct {
	GroupID        string
	Tenant         string
	PrimaryImageID string
	ImageIDs       []string
	ProductName    string
	Category       string
	Confidence     float64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewProductGroup создаёт группу с новым идентификатором; первый элемент imageIDs становится
// основным изображением. Дубликаты во входном списке отбрасываются.
func NewProductGroup(tenant string, imageIDs []string, name, category string, confidence float64, now time.Time) (*ProductGroup, error) {
	ids := dedupe(imageIDs)
	if len(ids) == 0 {
		return nil, e.ErrEmptyGroup
	}

	return &ProductGroup{
		GroupID:        NewGroupID(),
		Tenant:         tenant,
		PrimaryImageID: ids[0],
		ImageIDs:       ids,
		ProductName:    name,
		Category:       category,
		Confidence:     confidence,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// NewGroupID генерирует устойчивый к коллизиям идентификатор группы.
func NewGroupID() string {
	return GroupIDPrefix + uuid.NewString()
}

// Contains сообщает, входит ли изображение в группу.
func (g *ProductGroup) Contains(imageID string) bool {
	return slices.Contains(g.ImageIDs, imageID)
}

// Append добавляет изображение в конец списка. Возвращает false, если оно уже в группе.
func (g *ProductGroup) Append(imageID string, now time.Time) bool {
	if g.Contains(imageID) {
		return false
	}
	g.ImageIDs = append(g.ImageIDs, imageID)
	g.UpdatedAt = now
	return true
}

// Valid проверяет инварианты группы.
func (g *ProductGroup) Valid() bool {
	if len(g.ImageIDs) == 0 || !g.Contains(g.PrimaryImageID) {
		return false
	}
	return len(dedupe(g.ImageIDs)) == len(g.ImageIDs)
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
