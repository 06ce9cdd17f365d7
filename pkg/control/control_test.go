package control

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/core-tools/hsu-ecosystem/pkg/domain"
	"github.com/core-tools/hsu-ecosystem/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockContract is a mock implementation of domain.Contract for testing
type MockContract struct {
	mock.Mock
}

func (m *MockContract) Status(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockContract) ListApps(ctx context.Context) ([]domain.AppStatus, error) {
	args := m.Called(ctx)
	apps, _ := args.Get(0).([]domain.AppStatus)
	return apps, args.Error(1)
}

func (m *MockContract) GetApp(ctx context.Context, name string) (*domain.AppStatus, error) {
	args := m.Called(ctx, name)
	app, _ := args.Get(0).(*domain.AppStatus)
	return app, args.Error(1)
}

func (m *MockContract) StartApp(ctx context.Context, name string) error {
	return m.Called(ctx, name).Error(0)
}

func (m *MockContract) StopApp(ctx context.Context, name string) error {
	return m.Called(ctx, name).Error(0)
}

func (m *MockContract) RestartApp(ctx context.Context, name string, force bool) error {
	return m.Called(ctx, name, force).Error(0)
}

type panicContract struct {
	MockContract
}

func (p *panicContract) Status(ctx context.Context) (string, error) {
	panic("boom")
}

func newTestServer(t *testing.T, contract domain.Contract) (*httptest.Server, domain.Contract) {
	t.Helper()
	server := httptest.NewServer(NewRouter(contract, nil))
	t.Cleanup(server.Close)
	return server, NewHTTPClientGateway(server.URL, nil)
}

func TestStatusFromError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errors.NewNotFoundError("x", nil), http.StatusNotFound},
		{errors.NewValidationError("x", nil), http.StatusBadRequest},
		{errors.NewConflictError("x", nil), http.StatusConflict},
		{errors.NewTimeoutError("x", nil), http.StatusGatewayTimeout},
		{errors.NewCancelledError("x", nil), http.StatusGatewayTimeout},
		{errors.NewProcessError("x", nil), http.StatusInternalServerError},
		{context.Canceled, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFromError(tt.err), tt.err.Error())
	}
}

func TestGateway_ListAndGetApps(t *testing.T) {
	contract := &MockContract{}
	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	exitCode := 1
	app := domain.AppStatus{
		Name:         "api",
		State:        "running",
		Interpreter:  "node",
		PID:          4242,
		StartTime:    &started,
		Restarts:     2,
		LastExitCode: &exitCode,
		MemoryLimit:  100 << 20,
	}
	contract.On("ListApps", mock.Anything).Return([]domain.AppStatus{app}, nil)
	contract.On("GetApp", mock.Anything, "api").Return(&app, nil)
	contract.On("Status", mock.Anything).Return("running", nil)

	_, gateway := newTestServer(t, contract)
	ctx := context.Background()

	status, err := gateway.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "running", status)

	apps, err := gateway.ListApps(ctx)
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, "api", apps[0].Name)
	assert.True(t, started.Equal(*apps[0].StartTime))

	got, err := gateway.GetApp(ctx, "api")
	require.NoError(t, err)
	assert.Equal(t, 4242, got.PID)
	assert.Equal(t, 1, *got.LastExitCode)
	assert.Equal(t, int64(100<<20), got.MemoryLimit)

	contract.AssertExpectations(t)
}

func TestRouter_ListAppsNeverNull(t *testing.T) {
	contract := &MockContract{}
	contract.On("ListApps", mock.Anything).Return(nil, nil)

	server, _ := newTestServer(t, contract)

	resp, err := http.Get(server.URL + "/api/apps")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var raw json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	assert.JSONEq(t, "[]", string(raw))
}

func TestGateway_LifecycleOperations(t *testing.T) {
	contract := &MockContract{}
	contract.On("StartApp", mock.Anything, "api").Return(nil)
	contract.On("StopApp", mock.Anything, "api").Return(nil)
	contract.On("RestartApp", mock.Anything, "api", false).Return(nil)
	contract.On("RestartApp", mock.Anything, "api", true).Return(nil)

	_, gateway := newTestServer(t, contract)
	ctx := context.Background()

	require.NoError(t, gateway.StartApp(ctx, "api"))
	require.NoError(t, gateway.StopApp(ctx, "api"))
	require.NoError(t, gateway.RestartApp(ctx, "api", false))
	require.NoError(t, gateway.RestartApp(ctx, "api", true))

	contract.AssertExpectations(t)
}

func TestGateway_ErrorTypesSurvive(t *testing.T) {
	contract := &MockContract{}
	contract.On("StartApp", mock.Anything, "missing").Return(errors.NewNotFoundError("app not found", nil))
	contract.On("StopApp", mock.Anything, "api").Return(errors.NewConflictError("master is not running", nil))
	contract.On("RestartApp", mock.Anything, "api", false).Return(errors.NewProcessError("spawn failed", nil))

	_, gateway := newTestServer(t, contract)
	ctx := context.Background()

	err := gateway.StartApp(ctx, "missing")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
	assert.Contains(t, err.Error(), "app not found")

	err = gateway.StopApp(ctx, "api")
	assert.True(t, errors.IsConflictError(err))

	err = gateway.RestartApp(ctx, "api", false)
	assert.True(t, errors.IsProcessError(err))
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	server, _ := newTestServer(t, &MockContract{})

	resp, err := http.Get(server.URL + "/api/apps/api/start")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Post(server.URL+"/api/unknown", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRouter_RecoversFromPanics(t *testing.T) {
	server, gateway := newTestServer(t, &panicContract{})

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var body ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "internal", body.Type)

	_, err = gateway.Status(context.Background())
	assert.True(t, errors.IsInternalError(err))
}

func TestGateway_TransportErrors(t *testing.T) {
	plain := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer plain.Close()

	_, err := NewHTTPClientGateway(plain.URL, nil).Status(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsNetworkError(err))
	assert.Contains(t, err.Error(), "502")

	closed := httptest.NewServer(http.NotFoundHandler())
	closed.Close()

	_, err = NewHTTPClientGateway(closed.URL, nil).ListApps(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsNetworkError(err))
}

func TestServer_StartAndShutdown(t *testing.T) {
	contract := &MockContract{}
	contract.On("Status", mock.Anything).Return("running", nil)

	server := NewServer("127.0.0.1:0", NewRouter(contract, nil), nil)
	ctx := context.Background()

	// Shutdown before Start is a no-op
	require.NoError(t, server.Shutdown(ctx))

	require.NoError(t, server.Start(ctx))
	assert.NotEqual(t, "127.0.0.1:0", server.Addr())

	err := server.Start(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsConflictError(err))

	gateway := NewHTTPClientGateway("http://"+server.Addr(), nil)
	status, err := gateway.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "running", status)

	require.NoError(t, server.Shutdown(ctx))

	_, err = gateway.Status(ctx)
	assert.True(t, errors.IsNetworkError(err))
}

func TestServer_ListenFailure(t *testing.T) {
	first := NewServer("127.0.0.1:0", http.NotFoundHandler(), nil)
	require.NoError(t, first.Start(context.Background()))
	defer first.Shutdown(context.Background())

	second := NewServer(first.Addr(), http.NotFoundHandler(), nil)
	err := second.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsNetworkError(err))
}
