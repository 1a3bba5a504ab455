package ml_service

import (
	"context"
	"fmt"

	"github.com/DRSN-tech/product-identity/internal/cfg"
	"github.com/DRSN-tech/product-identity/pkg/e"
	"github.com/jimlawless/whereami"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Методы ML-сервиса. Запрос - сырые байты изображения (BytesValue), MIME-тип передаётся
// в метаданных вызова; ответ - Struct.
const (
	EmbedImageMethod      = "/ml.v1.MachineLearningService/EmbedImage"
	ExtractFeaturesMethod = "/ml.v1.MachineLearningService/ExtractFeatures"

	mimeTypeHeader = "x-image-mime-type"
)

// Client - транспорт к ML-сервису.
type Client interface {
	EmbedImage(ctx context.Context, data []byte, mimeType string) (*structpb.Struct, error)
	ExtractFeatures(ctx context.Context, data []byte, mimeType string) (*structpb.Struct, error)
}

// GRPCClient вызывает ML-сервис по gRPC без сгенерированных стабов.
type GRPCClient struct {
	conn *grpc.ClientConn
}

// Dial открывает соединение с ML-сервисом.
func Dial(cfg *cfg.MLServiceCfg) (*GRPCClient, error) {
	conn, err := grpc.NewClient(cfg.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return NewGRPCClient(conn), nil
}

func NewGRPCClient(conn *grpc.ClientConn) *GRPCClient {
	return &GRPCClient{conn: conn}
}

func (c *GRPCClient) EmbedImage(ctx context.Context, data []byte, mimeType string) (*structpb.Struct, error) {
	return c.invoke(ctx, EmbedImageMethod, data, mimeType)
}

func (c *GRPCClient) ExtractFeatures(ctx context.Context, data []byte, mimeType string) (*structpb.Struct, error) {
	return c.invoke(ctx, ExtractFeaturesMethod, data, mimeType)
}

func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

func (c *GRPCClient) invoke(ctx context.Context, method string, data []byte, mimeType string) (*structpb.Struct, error) {
	if mimeType != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, mimeTypeHeader, mimeType)
	}

	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, method, wrapperspb.Bytes(data), out); err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}

	return out, nil
}
