package control

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/core-tools/hsu-ecosystem/pkg/domain"
	"github.com/core-tools/hsu-ecosystem/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

func newTestGRPCGateway(t *testing.T, contract domain.Contract) domain.Contract {
	t.Helper()

	listener := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	RegisterGRPCServerHandler(server, contract, nil)
	go server.Serve(listener)
	t.Cleanup(server.Stop)

	conn, err := grpc.Dial("bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return listener.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return NewGRPCClientGateway(conn, nil)
}

func TestGRPCGateway_ListAndGetApps(t *testing.T) {
	contract := &MockContract{}
	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	exitCode := 1
	app := domain.AppStatus{
		Name:         "api",
		State:        "running",
		Interpreter:  "node",
		PID:          4242,
		RunID:        "run-1",
		StartTime:    &started,
		Restarts:     2,
		LastExitCode: &exitCode,
		MemoryLimit:  100 << 20,
		CPUPercent:   12.5,
	}
	contract.On("Status", mock.Anything).Return("running", nil)
	contract.On("ListApps", mock.Anything).Return([]domain.AppStatus{app}, nil)
	contract.On("GetApp", mock.Anything, "api").Return(&app, nil)

	gateway := newTestGRPCGateway(t, contract)
	ctx := context.Background()

	state, err := gateway.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "running", state)

	apps, err := gateway.ListApps(ctx)
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, "api", apps[0].Name)
	assert.True(t, started.Equal(*apps[0].StartTime))

	got, err := gateway.GetApp(ctx, "api")
	require.NoError(t, err)
	assert.Equal(t, 4242, got.PID)
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, 1, *got.LastExitCode)
	assert.Equal(t, int64(100<<20), got.MemoryLimit)
	assert.Equal(t, 12.5, got.CPUPercent)

	contract.AssertExpectations(t)
}

func TestGRPCGateway_EmptyList(t *testing.T) {
	contract := &MockContract{}
	contract.On("ListApps", mock.Anything).Return(nil, nil)

	apps, err := newTestGRPCGateway(t, contract).ListApps(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, apps)
	assert.Empty(t, apps)
}

func TestGRPCGateway_LifecycleOperations(t *testing.T) {
	contract := &MockContract{}
	contract.On("StartApp", mock.Anything, "api").Return(nil)
	contract.On("StopApp", mock.Anything, "api").Return(nil)
	contract.On("RestartApp", mock.Anything, "api", false).Return(nil)
	contract.On("RestartApp", mock.Anything, "api", true).Return(nil)

	gateway := newTestGRPCGateway(t, contract)
	ctx := context.Background()

	require.NoError(t, gateway.StartApp(ctx, "api"))
	require.NoError(t, gateway.StopApp(ctx, "api"))
	require.NoError(t, gateway.RestartApp(ctx, "api", false))
	require.NoError(t, gateway.RestartApp(ctx, "api", true))

	contract.AssertExpectations(t)
}

func TestGRPCGateway_ErrorTypesSurvive(t *testing.T) {
	contract := &MockContract{}
	contract.On("StartApp", mock.Anything, "missing").Return(errors.NewNotFoundError("app not found", nil))
	contract.On("StartApp", mock.Anything, "api").Return(errors.NewConflictError("cannot start process in state 'running'", nil))
	contract.On("StopApp", mock.Anything, "api").Return(errors.NewValidationError("bad name", nil))
	contract.On("RestartApp", mock.Anything, "api", false).Return(errors.NewProcessError("spawn failed", nil))

	gateway := newTestGRPCGateway(t, contract)
	ctx := context.Background()

	err := gateway.StartApp(ctx, "missing")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
	assert.Contains(t, err.Error(), "app not found")

	err = gateway.StartApp(ctx, "api")
	assert.True(t, errors.IsConflictError(err))
	assert.Contains(t, err.Error(), "running")

	assert.True(t, errors.IsValidationError(gateway.StopApp(ctx, "api")))
	assert.True(t, errors.IsProcessError(gateway.RestartApp(ctx, "api", false)))
}

func TestGRPCCodeFromError(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{errors.NewValidationError("x", nil), codes.InvalidArgument},
		{errors.NewNotFoundError("x", nil), codes.NotFound},
		{errors.NewConflictError("x", nil), codes.FailedPrecondition},
		{errors.NewTimeoutError("x", nil), codes.DeadlineExceeded},
		{errors.NewCancelledError("x", nil), codes.Canceled},
		{errors.NewPermissionError("x", nil), codes.PermissionDenied},
		{errors.NewProcessError("x", nil), codes.Internal},
		{context.Canceled, codes.Internal},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, grpcCodeFromError(tt.err), tt.err.Error())
	}
}

func TestFromGRPCError_WithoutTrailer(t *testing.T) {
	assert.True(t, errors.IsNetworkError(fromGRPCError(status.Error(codes.Unavailable, "connection refused"), nil)))
	assert.True(t, errors.IsTimeoutError(fromGRPCError(status.Error(codes.DeadlineExceeded, "slow"), nil)))
	assert.True(t, errors.IsInternalError(fromGRPCError(status.Error(codes.Unimplemented, "unknown method"), nil)))
}
