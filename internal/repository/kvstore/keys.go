package kvstore

import (
	"fmt"

	"github.com/DRSN-tech/product-identity/internal/domain"
)

const (
	entityEmbedding    = "EMBEDDING"
	entityProductGroup = "PRODUCT_GROUP"

	imagePrefix = "IMAGE#"
	groupPrefix = "GROUP#"
)

// partitionKey строит ключ партиции TENANT#<tenant>#<entity> из санитизированного тенанта.
func partitionKey(tenant, entity string) (string, error) {
	safe, err := domain.SanitizeTenant(tenant)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("TENANT#%s#%s", safe, entity), nil
}

func imageKey(imageID string) string {
	return imagePrefix + imageID
}

func groupKey(groupID string) string {
	return groupPrefix + groupID
}
