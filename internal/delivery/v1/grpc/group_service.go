package grpc

import (
	"context"
	"time"

	"github.com/DRSN-tech/product-identity/internal/usecase"
	"github.com/DRSN-tech/product-identity/pkg/e"
	"github.com/DRSN-tech/product-identity/pkg/logger"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	GroupServiceName = "product_identity.v1.GroupService"
	GetGroupMethod   = "/" + GroupServiceName + "/GetGroup"
	ListGroupsMethod = "/" + GroupServiceName + "/ListGroups"
	timeLayout       = time.RFC3339Nano
)

// GroupServiceServer - read-only доступ к группам товаров. Запросы и ответы -
// google.protobuf.Struct:
//
//	GetGroup:   {"tenant", "groupId"} → группа
//	ListGroups: {"tenant", "limit"?}  → {"groups": [...]}
type GroupServiceServer interface {
	GetGroup(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListGroups(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var GroupServiceDesc = grpc.ServiceDesc{
	ServiceName: GroupServiceName,
	HandlerType: (*GroupServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetGroup", Handler: unaryHandler(GetGroupMethod, GroupServiceServer.GetGroup)},
		{MethodName: "ListGroups", Handler: unaryHandler(ListGroupsMethod, GroupServiceServer.ListGroups)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "product_identity/v1/group_service.proto",
}

func unaryHandler(
	fullMethod string,
	call func(GroupServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error),
) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(GroupServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(GroupServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

type GroupService struct {
	groupUC usecase.GroupUC
	logger  logger.Logger
}

func NewGroupService(groupUC usecase.GroupUC, logger logger.Logger) *GroupService {
	return &GroupService{groupUC: groupUC, logger: logger}
}

func (g *GroupService) GetGroup(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	const op = "grpc.GetGroup"

	tenant, err := stringField(req, "tenant")
	if err != nil {
		return nil, GRPCErrorResponse(e.Wrap(op, err))
	}
	groupID, err := stringField(req, "groupId")
	if err != nil {
		return nil, GRPCErrorResponse(e.Wrap(op, err))
	}

	group, err := g.groupUC.GetGroupByID(ctx, tenant, groupID)
	if err != nil {
		g.logger.Errorf(e.Wrap(op, err), "%s", op)
		return nil, GRPCErrorResponse(e.Wrap(op, err))
	}

	res, err := structpb.NewStruct(toGRPCGroup(group))
	if err != nil {
		return nil, GRPCErrorResponse(e.Wrap(op, err))
	}
	return res, nil
}

func (g *GroupService) ListGroups(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	const op = "grpc.ListGroups"

	tenant, err := stringField(req, "tenant")
	if err != nil {
		return nil, GRPCErrorResponse(e.Wrap(op, err))
	}
	limit := int(req.GetFields()["limit"].GetNumberValue())

	groups, err := g.groupUC.ListGroups(ctx, tenant, limit)
	if err != nil {
		g.logger.Errorf(e.Wrap(op, err), "%s", op)
		return nil, GRPCErrorResponse(e.Wrap(op, err))
	}

	res, err := structpb.NewStruct(map[string]any{"groups": toArrGRPCGroup(groups)})
	if err != nil {
		return nil, GRPCErrorResponse(e.Wrap(op, err))
	}
	return res, nil
}
