package master

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/core-tools/hsu-ecosystem/pkg/control"
	"github.com/core-tools/hsu-ecosystem/pkg/ecosystem"
	"github.com/core-tools/hsu-ecosystem/pkg/errors"
	"github.com/core-tools/hsu-ecosystem/pkg/workers"
	"github.com/core-tools/hsu-ecosystem/pkg/workers/processcontrol"

	corecontrol "github.com/core-tools/hsu-core/pkg/control"
	coredomain "github.com/core-tools/hsu-core/pkg/domain"
	corelogging "github.com/core-tools/hsu-core/pkg/logging"
	"github.com/phayes/freeport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// MockWorker is a mock implementation of Worker for testing
type MockWorker struct {
	mock.Mock
}

func (m *MockWorker) ID() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockWorker) Metadata() workers.UnitMetadata {
	args := m.Called()
	return args.Get(0).(workers.UnitMetadata)
}

func (m *MockWorker) ProcessControlOptions() processcontrol.ProcessControlOptions {
	args := m.Called()
	return args.Get(0).(processcontrol.ProcessControlOptions)
}

func newMockWorker(id string) *MockWorker {
	noop := func(ctx context.Context) (*os.Process, io.ReadCloser, io.ReadCloser, error) {
		return nil, nil, nil, errors.NewProcessError("not runnable", nil)
	}

	worker := &MockWorker{}
	worker.On("ID").Return(id)
	worker.On("Metadata").Return(workers.UnitMetadata{Name: id, Script: "app.js", Interpreter: "node"})
	worker.On("ProcessControlOptions").Return(processcontrol.ProcessControlOptions{
		CanTerminate: true,
		ExecuteCmd:   noop,
	})
	return worker
}

func skipOnWindows(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh")
	}
}

// newShellWorker builds an app running script with sh
func newShellWorker(t *testing.T, name, script string) workers.Worker {
	t.Helper()

	dir := t.TempDir()
	scriptPath := filepath.Join(dir, name+".sh")
	require.NoError(t, os.WriteFile(scriptPath, []byte(script), 0644))

	killTimeout := int64(500)
	app := ecosystem.AppConfig{
		Name:          name,
		Script:        scriptPath,
		Interpreter:   "sh",
		KillTimeoutMs: &killTimeout,
	}
	app.ApplyDefaults()
	app.Resolve(dir)

	worker, err := workers.NewAppWorker(&workers.AppUnit{App: app}, workers.AppWorkerOptions{}, nil)
	require.NoError(t, err)
	return worker
}

func createTestMaster(t *testing.T, options MasterOptions) *Master {
	t.Helper()

	if options.ForceShutdownTimeout == 0 {
		options.ForceShutdownTimeout = 10 * time.Second
	}
	master, err := NewMaster(options, &TestLogger{})
	require.NoError(t, err)

	t.Cleanup(func() {
		if master.GetMasterState() == MasterStateRunning {
			_ = master.Stop(context.Background())
		}
	})
	return master
}

func startTestMaster(t *testing.T, options MasterOptions) *Master {
	t.Helper()
	master := createTestMaster(t, options)
	require.NoError(t, master.Start(context.Background()))
	return master
}

func TestMaster_AddWorker(t *testing.T) {
	master := createTestMaster(t, MasterOptions{})

	require.NoError(t, master.AddWorker(newMockWorker("api")))

	state, err := master.GetWorkerState("api")
	require.NoError(t, err)
	assert.Equal(t, processcontrol.ProcessStateIdle, state)

	err = master.AddWorker(newMockWorker("api"))
	require.Error(t, err)
	assert.True(t, errors.IsConflictError(err))

	err = master.AddWorker(nil)
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))

	err = master.AddWorker(newMockWorker("bad name"))
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))
}

func TestMaster_AddWorker_InvalidOptions(t *testing.T) {
	master := createTestMaster(t, MasterOptions{})

	worker := &MockWorker{}
	worker.On("ID").Return("api")
	worker.On("ProcessControlOptions").Return(processcontrol.ProcessControlOptions{})

	err := master.AddWorker(worker)
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))
}

func TestMaster_WorkerNotFound(t *testing.T) {
	master := startTestMaster(t, MasterOptions{})
	ctx := context.Background()

	for name, err := range map[string]error{
		"start":   master.StartWorker(ctx, "missing"),
		"stop":    master.StopWorker(ctx, "missing"),
		"restart": master.RestartWorker(ctx, "missing", false),
		"remove":  master.RemoveWorker("missing"),
	} {
		assert.True(t, errors.IsNotFoundError(err), name)
	}

	_, err := master.GetWorkerState("missing")
	assert.True(t, errors.IsNotFoundError(err))
	_, err = master.GetWorkerProcessDiagnostics("missing")
	assert.True(t, errors.IsNotFoundError(err))
	_, err = master.GetApp(ctx, "missing")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestMaster_RequiresRunningMaster(t *testing.T) {
	master := createTestMaster(t, MasterOptions{})
	require.NoError(t, master.AddWorker(newMockWorker("api")))

	err := master.StartWorker(context.Background(), "api")
	require.Error(t, err)
	assert.True(t, errors.IsConflictError(err))
	assert.Equal(t, MasterStateNotStarted, master.GetMasterState())

	//nolint:staticcheck // nil context is rejected
	err = master.StartWorker(nil, "api")
	assert.True(t, errors.IsValidationError(err))
}

func TestMaster_StartWorkerFailureKeepsType(t *testing.T) {
	master := startTestMaster(t, MasterOptions{})
	require.NoError(t, master.AddWorker(newMockWorker("api")))

	err := master.StartWorker(context.Background(), "api")
	require.Error(t, err)
	assert.True(t, errors.IsProcessError(err))

	state, err := master.GetWorkerState("api")
	require.NoError(t, err)
	assert.Equal(t, processcontrol.ProcessStateFailedStart, state)

	// Failed apps can be removed
	require.NoError(t, master.RemoveWorker("api"))
	assert.Empty(t, master.GetAllWorkerStates())
}

func TestMaster_WorkerLifecycle(t *testing.T) {
	skipOnWindows(t)

	master := startTestMaster(t, MasterOptions{})
	require.NoError(t, master.AddWorker(newShellWorker(t, "sleeper", "exec sleep 30")))
	ctx := context.Background()

	require.NoError(t, master.StartWorker(ctx, "sleeper"))

	diagnostics, err := master.GetWorkerProcessDiagnostics("sleeper")
	require.NoError(t, err)
	assert.Equal(t, processcontrol.ProcessStateRunning, diagnostics.State)
	assert.Greater(t, diagnostics.ProcessID, 0)
	firstRun := diagnostics.RunID
	assert.NotEmpty(t, firstRun)

	// Running apps cannot be removed
	err = master.RemoveWorker("sleeper")
	require.Error(t, err)
	assert.True(t, errors.IsConflictError(err))

	require.NoError(t, master.RestartWorker(ctx, "sleeper", false))
	diagnostics, err = master.GetWorkerProcessDiagnostics("sleeper")
	require.NoError(t, err)
	assert.Equal(t, processcontrol.ProcessStateRunning, diagnostics.State)
	assert.NotEqual(t, firstRun, diagnostics.RunID)

	require.NoError(t, master.StopWorker(ctx, "sleeper"))
	state, err := master.GetWorkerState("sleeper")
	require.NoError(t, err)
	assert.Equal(t, processcontrol.ProcessStateIdle, state)

	require.NoError(t, master.RemoveWorker("sleeper"))
}

func TestMaster_StopStopsAllApps(t *testing.T) {
	skipOnWindows(t)

	master := startTestMaster(t, MasterOptions{})
	require.NoError(t, master.AddWorker(newShellWorker(t, "one", "exec sleep 30")))
	require.NoError(t, master.AddWorker(newShellWorker(t, "two", "exec sleep 30")))
	require.NoError(t, master.StartAllWorkers(context.Background()))

	for id, state := range master.GetAllWorkerStates() {
		assert.Equal(t, processcontrol.ProcessStateRunning, state, id)
	}

	require.NoError(t, master.Stop(context.Background()))
	assert.Equal(t, MasterStateStopped, master.GetMasterState())

	for id, state := range master.GetAllWorkerStates() {
		assert.Equal(t, processcontrol.ProcessStateIdle, state, id)
	}
}

func TestMaster_ListAppsInRegistrationOrder(t *testing.T) {
	master := createTestMaster(t, MasterOptions{})
	for _, id := range []string{"web", "api", "worker"} {
		require.NoError(t, master.AddWorker(newMockWorker(id)))
	}
	require.NoError(t, master.RemoveWorker("api"))

	apps, err := master.ListApps(context.Background())
	require.NoError(t, err)
	require.Len(t, apps, 2)
	assert.Equal(t, "web", apps[0].Name)
	assert.Equal(t, "worker", apps[1].Name)
	assert.Equal(t, "idle", apps[0].State)
	assert.Equal(t, "node", apps[0].Interpreter)
}

func TestMaster_ControlAPI(t *testing.T) {
	skipOnWindows(t)

	master := startTestMaster(t, MasterOptions{APIAddress: "127.0.0.1:0"})
	require.NoError(t, master.AddWorker(newShellWorker(t, "sleeper", "exec sleep 30")))

	gateway := control.NewHTTPClientGateway("http://"+master.APIAddress(), nil)
	ctx := context.Background()

	status, err := gateway.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, string(MasterStateRunning), status)

	require.NoError(t, gateway.StartApp(ctx, "sleeper"))

	app, err := gateway.GetApp(ctx, "sleeper")
	require.NoError(t, err)
	assert.Equal(t, "running", app.State)
	assert.Greater(t, app.PID, 0)
	assert.NotEmpty(t, app.RunID)

	apps, err := gateway.ListApps(ctx)
	require.NoError(t, err)
	require.Len(t, apps, 1)

	err = gateway.StartApp(ctx, "sleeper")
	require.Error(t, err)
	assert.True(t, errors.IsConflictError(err), "got %v", err)
	assert.Contains(t, err.Error(), "running")

	require.NoError(t, gateway.StopApp(ctx, "sleeper"))

	_, err = gateway.GetApp(ctx, "missing")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))

	require.NoError(t, master.Stop(ctx))

	// The API is gone after Stop
	_, err = gateway.Status(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsNetworkError(err))
}

func TestNewMaster_InvalidAPIAddress(t *testing.T) {
	_, err := NewMaster(MasterOptions{APIAddress: "nope"}, nil)
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))
}

func TestWrapWorkerError(t *testing.T) {
	ctx := context.Background()

	err := wrapWorkerError(ctx, errors.NewConflictError("busy", nil), "failed", "api")
	assert.True(t, errors.IsConflictError(err))
	assert.Contains(t, err.Error(), "worker_id=api")

	err = wrapWorkerError(ctx, io.EOF, "failed", "api")
	assert.True(t, errors.IsProcessError(err))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err = wrapWorkerError(cancelled, io.EOF, "failed", "api")
	assert.True(t, errors.IsCancelledError(err))
}

func TestMaster_GRPCControl(t *testing.T) {
	skipOnWindows(t)

	port, err := freeport.GetFreePort()
	require.NoError(t, err)

	master := startTestMaster(t, MasterOptions{GRPCPort: port})
	require.NoError(t, master.AddWorker(newShellWorker(t, "sleeper", "exec sleep 30")))

	conn, err := grpc.Dial(fmt.Sprintf("127.0.0.1:%d", port), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	ctx := context.Background()
	coreLogger := corelogging.NewLogger("test: ", corelogging.LogFuncs{
		Debugf: t.Logf,
		Infof:  t.Logf,
		Warnf:  t.Logf,
		Errorf: t.Logf,
	})
	require.NoError(t, coredomain.RetryPing(ctx, corecontrol.NewGRPCClientGateway(conn, coreLogger),
		coredomain.RetryPingOptions{RetryAttempts: 20, RetryInterval: 100 * time.Millisecond}, coreLogger))

	gateway := control.NewGRPCClientGateway(conn, nil)

	status, err := gateway.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, string(MasterStateRunning), status)

	require.NoError(t, gateway.StartApp(ctx, "sleeper"))

	app, err := gateway.GetApp(ctx, "sleeper")
	require.NoError(t, err)
	assert.Equal(t, "running", app.State)
	assert.Greater(t, app.PID, 0)

	err = gateway.StartApp(ctx, "sleeper")
	require.Error(t, err)
	assert.True(t, errors.IsConflictError(err), "got %v", err)

	require.NoError(t, gateway.StopApp(ctx, "sleeper"))

	_, err = gateway.GetApp(ctx, "missing")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestNewMaster_InvalidGRPCPort(t *testing.T) {
	_, err := NewMaster(MasterOptions{GRPCPort: 70000}, &TestLogger{})
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))
}
