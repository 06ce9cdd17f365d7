package control

import (
	"context"

	"github.com/core-tools/hsu-ecosystem/pkg/domain"
	"github.com/core-tools/hsu-ecosystem/pkg/logging"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func NewGRPCClientGateway(grpcClientConnection grpc.ClientConnInterface, logger logging.Logger) domain.Contract {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &grpcClientGateway{
		conn:   grpcClientConnection,
		logger: logger,
	}
}

type grpcClientGateway struct {
	conn   grpc.ClientConnInterface
	logger logging.Logger
}

func (gw *grpcClientGateway) Status(ctx context.Context) (string, error) {
	response := &wrapperspb.StringValue{}
	if err := gw.invoke(ctx, "Status", &emptypb.Empty{}, response); err != nil {
		gw.logger.Errorf("Status client gateway: %v", err)
		return "", err
	}
	gw.logger.Debugf("Status client gateway done")
	return response.GetValue(), nil
}

func (gw *grpcClientGateway) ListApps(ctx context.Context) ([]domain.AppStatus, error) {
	response := &structpb.ListValue{}
	if err := gw.invoke(ctx, "ListApps", &emptypb.Empty{}, response); err != nil {
		return nil, err
	}
	return listToApps(response)
}

func (gw *grpcClientGateway) GetApp(ctx context.Context, name string) (*domain.AppStatus, error) {
	response := &structpb.Struct{}
	if err := gw.invoke(ctx, "GetApp", wrapperspb.String(name), response); err != nil {
		return nil, err
	}
	return structToApp(response)
}

func (gw *grpcClientGateway) StartApp(ctx context.Context, name string) error {
	return gw.invoke(ctx, "StartApp", wrapperspb.String(name), &emptypb.Empty{})
}

func (gw *grpcClientGateway) StopApp(ctx context.Context, name string) error {
	return gw.invoke(ctx, "StopApp", wrapperspb.String(name), &emptypb.Empty{})
}

func (gw *grpcClientGateway) RestartApp(ctx context.Context, name string, force bool) error {
	request := &structpb.Struct{Fields: map[string]*structpb.Value{
		"name":  structpb.NewStringValue(name),
		"force": structpb.NewBoolValue(force),
	}}
	return gw.invoke(ctx, "RestartApp", request, &emptypb.Empty{})
}

func (gw *grpcClientGateway) invoke(ctx context.Context, method string, in, out proto.Message) error {
	var trailer metadata.MD
	if err := gw.conn.Invoke(ctx, fullMethodName(method), in, out, grpc.Trailer(&trailer)); err != nil {
		return fromGRPCError(err, trailer)
	}
	return nil
}
