package clients

import (
	"context"
	"fmt"

	config "github.com/DRSN-tech/product-identity/internal/cfg"
	"github.com/DRSN-tech/product-identity/pkg/e"
	"github.com/jimlawless/whereami"
	"github.com/qdrant/go-client/qdrant"
)

// QdrantClient - клиент векторного хранилища эмбеддингов.
type QdrantClient struct {
	Client *qdrant.Client
	cfg    *config.QdrantCfg
}

func NewQdrantClient(cfg *config.QdrantCfg) (*QdrantClient, error) {
	qdrantClient, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.ApiKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return &QdrantClient{
		Client: qdrantClient,
		cfg:    cfg,
	}, nil
}

// EnsureCollection создаёт коллекцию эмбеддингов с косинусной метрикой. Если коллекция
// уже есть, её размерность должна совпадать с VECTOR_SIZE: иначе все сравнения
// упадут с ErrDimensionMismatch, и лучше не стартовать вовсе.
func EnsureCollection(ctx context.Context, client *QdrantClient) error {
	name := client.cfg.QdrantCollectionName

	exists, err := client.Client.CollectionExists(ctx, name)
	if err != nil {
		return e.Storage(whereami.WhereAmI(), fmt.Errorf("failed to check collection existence: %w", err))
	}

	if exists {
		info, err := client.Client.GetCollectionInfo(ctx, name)
		if err != nil {
			return e.Storage(whereami.WhereAmI(), err)
		}
		size := info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
		if size != 0 && size != client.cfg.VectorSize {
			return e.Wrap(whereami.WhereAmI(), fmt.Errorf("%w: collection %s has size %d, configured %d",
				e.ErrDimensionMismatch, name, size, client.cfg.VectorSize))
		}
	} else {
		if err := client.Client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     client.cfg.VectorSize,
				Distance: qdrant.Distance_Cosine,
			}),
		}); err != nil {
			return e.Storage(whereami.WhereAmI(), fmt.Errorf("failed to create collection: %w", err))
		}
	}

	// Индексы payload для фильтров по тенанту и сроку жизни
	wait := true
	indexes := []struct {
		field string
		typ   qdrant.FieldType
	}{
		{field: "tenant", typ: qdrant.FieldType_FieldTypeKeyword},
		{field: "expires_at", typ: qdrant.FieldType_FieldTypeInteger},
	}
	for _, idx := range indexes {
		if _, err := client.Client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: name,
			FieldName:      idx.field,
			FieldType:      idx.typ.Enum(),
			Wait:           &wait,
		}); err != nil {
			return e.Storage(whereami.WhereAmI(), fmt.Errorf("failed to create %s index: %w", idx.field, err))
		}
	}

	return nil
}

// Close закрывает gRPC-соединение клиента.
func (q *QdrantClient) Close() error {
	return q.Client.Close()
}
