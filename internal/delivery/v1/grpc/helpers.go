package grpc

import (
	"errors"

	"github.com/DRSN-tech/product-identity/internal/domain"
	"github.com/DRSN-tech/product-identity/pkg/e"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

func GRPCErrorResponse(err error) error {
	switch {
	case errors.Is(err, e.ErrInvalidTenant),
		errors.Is(err, e.ErrMissingFields),
		errors.Is(err, e.ErrStatusBadRequest):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, e.ErrGroupNotFound):
		return status.Error(codes.NotFound, e.ErrGroupNotFound.Error())
	case errors.Is(err, e.ErrStorage):
		return status.Error(codes.Unavailable, e.ErrStorage.Error())
	default:
		return status.Error(codes.Internal, e.ErrInternalServerError.Error())
	}
}

func toGRPCGroup(g *domain.ProductGroup) map[string]any {
	ids := make([]any, 0, len(g.ImageIDs))
	for _, id := range g.ImageIDs {
		ids = append(ids, id)
	}

	return map[string]any{
		"groupId":        g.GroupID,
		"tenant":         g.Tenant,
		"primaryImageId": g.PrimaryImageID,
		"imageIds":       ids,
		"productName":    g.ProductName,
		"category":       g.Category,
		"confidence":     g.Confidence,
		"createdAt":      g.CreatedAt.UTC().Format(timeLayout),
		"updatedAt":      g.UpdatedAt.UTC().Format(timeLayout),
	}
}

func toArrGRPCGroup(groups []*domain.ProductGroup) []any {
	res := make([]any, len(groups))
	for i, g := range groups {
		res[i] = toGRPCGroup(g)
	}
	return res
}

// stringField читает обязательное строковое поле запроса.
func stringField(req *structpb.Struct, name string) (string, error) {
	v, ok := req.GetFields()[name]
	if !ok || v.GetStringValue() == "" {
		return "", e.Wrap(name, e.ErrMissingFields)
	}
	return v.GetStringValue(), nil
}
