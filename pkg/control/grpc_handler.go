package control

import (
	"context"

	"github.com/core-tools/hsu-ecosystem/pkg/domain"
	"github.com/core-tools/hsu-ecosystem/pkg/logging"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func RegisterGRPCServerHandler(grpcServerRegistrar grpc.ServiceRegistrar, handler domain.Contract, logger logging.Logger) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	grpcServerRegistrar.RegisterService(&ecosystemServiceDesc, &grpcServerHandler{
		handler: handler,
		logger:  logger,
	})
}

type grpcServerHandler struct {
	handler domain.Contract
	logger  logging.Logger
}

func (h *grpcServerHandler) Status(ctx context.Context, in *emptypb.Empty) (*wrapperspb.StringValue, error) {
	status, err := h.handler.Status(ctx)
	if err != nil {
		h.logger.Errorf("Status server handler: %v", err)
		return nil, toGRPCError(ctx, err)
	}
	h.logger.Debugf("Status server handler done")
	return wrapperspb.String(status), nil
}

func (h *grpcServerHandler) ListApps(ctx context.Context, in *emptypb.Empty) (*structpb.ListValue, error) {
	apps, err := h.handler.ListApps(ctx)
	if err != nil {
		h.logger.Errorf("ListApps server handler: %v", err)
		return nil, toGRPCError(ctx, err)
	}
	list, err := appsToList(apps)
	if err != nil {
		return nil, toGRPCError(ctx, err)
	}
	return list, nil
}

func (h *grpcServerHandler) GetApp(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	app, err := h.handler.GetApp(ctx, in.GetValue())
	if err != nil {
		h.logger.Debugf("GetApp server handler, app: %s: %v", in.GetValue(), err)
		return nil, toGRPCError(ctx, err)
	}
	value, err := appToStruct(app)
	if err != nil {
		return nil, toGRPCError(ctx, err)
	}
	return value, nil
}

func (h *grpcServerHandler) StartApp(ctx context.Context, in *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if err := h.handler.StartApp(ctx, in.GetValue()); err != nil {
		h.logger.Debugf("StartApp server handler, app: %s: %v", in.GetValue(), err)
		return nil, toGRPCError(ctx, err)
	}
	return &emptypb.Empty{}, nil
}

func (h *grpcServerHandler) StopApp(ctx context.Context, in *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if err := h.handler.StopApp(ctx, in.GetValue()); err != nil {
		h.logger.Debugf("StopApp server handler, app: %s: %v", in.GetValue(), err)
		return nil, toGRPCError(ctx, err)
	}
	return &emptypb.Empty{}, nil
}

func (h *grpcServerHandler) RestartApp(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	fields := in.GetFields()
	name := fields["name"].GetStringValue()
	force := fields["force"].GetBoolValue()

	if err := h.handler.RestartApp(ctx, name, force); err != nil {
		h.logger.Debugf("RestartApp server handler, app: %s, force: %t: %v", name, force, err)
		return nil, toGRPCError(ctx, err)
	}
	return &emptypb.Empty{}, nil
}
