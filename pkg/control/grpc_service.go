package control

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/core-tools/hsu-ecosystem/pkg/domain"
	"github.com/core-tools/hsu-ecosystem/pkg/errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Service layout is described in api/proto/ecosystem.proto. Messages are
// protobuf well-known types, so no generated code is needed.
const grpcServiceName = "hsu.ecosystem.v1.EcosystemService"

// errorTypeTrailer carries errors.ErrorType of a failed call
const errorTypeTrailer = "error-type"

type ecosystemServiceServer interface {
	Status(ctx context.Context, in *emptypb.Empty) (*wrapperspb.StringValue, error)
	ListApps(ctx context.Context, in *emptypb.Empty) (*structpb.ListValue, error)
	GetApp(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error)
	StartApp(ctx context.Context, in *wrapperspb.StringValue) (*emptypb.Empty, error)
	StopApp(ctx context.Context, in *wrapperspb.StringValue) (*emptypb.Empty, error)
	RestartApp(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error)
}

var ecosystemServiceDesc = grpc.ServiceDesc{
	ServiceName: grpcServiceName,
	HandlerType: (*ecosystemServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("Status", func(s ecosystemServiceServer, ctx context.Context, in *emptypb.Empty) (interface{}, error) {
			return s.Status(ctx, in)
		}),
		unaryMethod("ListApps", func(s ecosystemServiceServer, ctx context.Context, in *emptypb.Empty) (interface{}, error) {
			return s.ListApps(ctx, in)
		}),
		unaryMethod("GetApp", func(s ecosystemServiceServer, ctx context.Context, in *wrapperspb.StringValue) (interface{}, error) {
			return s.GetApp(ctx, in)
		}),
		unaryMethod("StartApp", func(s ecosystemServiceServer, ctx context.Context, in *wrapperspb.StringValue) (interface{}, error) {
			return s.StartApp(ctx, in)
		}),
		unaryMethod("StopApp", func(s ecosystemServiceServer, ctx context.Context, in *wrapperspb.StringValue) (interface{}, error) {
			return s.StopApp(ctx, in)
		}),
		unaryMethod("RestartApp", func(s ecosystemServiceServer, ctx context.Context, in *structpb.Struct) (interface{}, error) {
			return s.RestartApp(ctx, in)
		}),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "api/proto/ecosystem.proto",
}

func fullMethodName(method string) string {
	return "/" + grpcServiceName + "/" + method
}

// unaryMethod builds the handler protoc-gen-go-grpc would generate for method
func unaryMethod[Req any](method string, call func(ecosystemServiceServer, context.Context, *Req) (interface{}, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			server := srv.(ecosystemServiceServer)
			if interceptor == nil {
				return call(server, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethodName(method)}
			return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(server, ctx, req.(*Req))
			})
		},
	}
}

// grpcCodeFromError maps a domain error type to a gRPC status code
func grpcCodeFromError(err error) codes.Code {
	switch errors.TypeOf(err) {
	case errors.ErrorTypeValidation:
		return codes.InvalidArgument
	case errors.ErrorTypeNotFound:
		return codes.NotFound
	case errors.ErrorTypeConflict:
		return codes.FailedPrecondition
	case errors.ErrorTypeTimeout:
		return codes.DeadlineExceeded
	case errors.ErrorTypeCancelled:
		return codes.Canceled
	case errors.ErrorTypePermission:
		return codes.PermissionDenied
	case errors.ErrorTypeNetwork:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// toGRPCError must be called from the server handler so the trailer reaches the client
func toGRPCError(ctx context.Context, err error) error {
	errorType := errors.TypeOf(err)
	if errorType == "" {
		errorType = errors.ErrorTypeInternal
	}
	_ = grpc.SetTrailer(ctx, metadata.Pairs(errorTypeTrailer, string(errorType)))
	return status.Error(grpcCodeFromError(err), err.Error())
}

// fromGRPCError turns a failed call back into a domain error of the type the server reported
func fromGRPCError(err error, trailer metadata.MD) error {
	st, ok := status.FromError(err)
	if !ok {
		return errors.NewNetworkError("control API call failed", err)
	}

	if values := trailer.Get(errorTypeTrailer); len(values) > 0 && values[0] != "" {
		return errors.NewDomainError(errors.ErrorType(values[0]), "control API call failed", fmt.Errorf("%s", st.Message()))
	}

	switch st.Code() {
	case codes.Unavailable, codes.Unknown:
		return errors.NewNetworkError("control API unavailable", err)
	case codes.DeadlineExceeded:
		return errors.NewTimeoutError("control API call timed out", err)
	case codes.Canceled:
		return errors.NewCancelledError("control API call cancelled", err)
	default:
		return errors.NewInternalError("control API call failed", err)
	}
}

// appToStruct and structToApp reuse the JSON field names of AppStatus
func appToStruct(app *domain.AppStatus) (*structpb.Struct, error) {
	fields, err := toJSONMap(app)
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(fields)
}

func structToApp(value *structpb.Struct) (*domain.AppStatus, error) {
	var app domain.AppStatus
	if err := fromJSONValue(value.AsMap(), &app); err != nil {
		return nil, err
	}
	return &app, nil
}

func appsToList(apps []domain.AppStatus) (*structpb.ListValue, error) {
	values := make([]interface{}, 0, len(apps))
	for i := range apps {
		fields, err := toJSONMap(&apps[i])
		if err != nil {
			return nil, err
		}
		values = append(values, fields)
	}
	return structpb.NewList(values)
}

func listToApps(list *structpb.ListValue) ([]domain.AppStatus, error) {
	apps := make([]domain.AppStatus, 0, len(list.GetValues()))
	if err := fromJSONValue(list.AsSlice(), &apps); err != nil {
		return nil, err
	}
	return apps, nil
}

func toJSONMap(v interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.NewInternalError("failed to encode app status", err)
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, errors.NewInternalError("failed to encode app status", err)
	}
	return fields, nil
}

func fromJSONValue(value interface{}, out interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.NewInternalError("failed to decode app status", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.NewInternalError("failed to decode app status", err)
	}
	return nil
}
