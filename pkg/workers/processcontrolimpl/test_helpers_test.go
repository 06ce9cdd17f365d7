package processcontrolimpl

import (
	"context"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/core-tools/hsu-ecosystem/pkg/logging"
	"github.com/core-tools/hsu-ecosystem/pkg/process"
	"github.com/core-tools/hsu-ecosystem/pkg/workers/processcontrol"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockLogger for testing
type MockLogger struct {
	mock.Mock
}

func (m *MockLogger) Debugf(format string, args ...interface{}) {
	m.Called(format, args)
}

func (m *MockLogger) Infof(format string, args ...interface{}) {
	m.Called(format, args)
}

func (m *MockLogger) Warnf(format string, args ...interface{}) {
	m.Called(format, args)
}

func (m *MockLogger) Errorf(format string, args ...interface{}) {
	m.Called(format, args)
}

func (m *MockLogger) LogLevelf(level int, format string, args ...interface{}) {
	m.Called(level, format, args)
}

func newMockLogger() *MockLogger {
	logger := &MockLogger{}
	logger.On("Debugf", mock.Anything, mock.Anything).Maybe()
	logger.On("Infof", mock.Anything, mock.Anything).Maybe()
	logger.On("Warnf", mock.Anything, mock.Anything).Maybe()
	logger.On("Errorf", mock.Anything, mock.Anything).Maybe()
	logger.On("LogLevelf", mock.Anything, mock.Anything, mock.Anything).Maybe()
	return logger
}

func skipOnWindows(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh")
	}
}

// shellCmd runs script with /bin/sh in dir
func shellCmd(dir, script string) processcontrol.ExecuteCmd {
	return processcontrol.ExecuteCmd(process.NewStdExecuteCmd(process.ExecutionConfig{
		ExecutablePath:   "/bin/sh",
		Args:             []string{"-c", script},
		WorkingDirectory: dir,
	}, "test-app", logging.NewNopLogger()))
}

// baseOptions returns options for a restartable app with short timings
func baseOptions(t *testing.T, script string) processcontrol.ProcessControlOptions {
	return processcontrol.ProcessControlOptions{
		CanTerminate:    true,
		CanRestart:      true,
		AutoRestart:     true,
		GracefulTimeout: 500 * time.Millisecond,
		ExecuteCmd:      shellCmd(t.TempDir(), script),
		ExecutablePath:  "/bin/sh",
		Restart: &processcontrol.ContextAwareRestartConfig{
			Default: processcontrol.RestartConfig{
				MaxRetries:  3,
				RetryDelay:  10 * time.Millisecond,
				BackoffRate: 1,
			},
		},
		MinUptime: time.Second,
	}
}

func newTestControl(t *testing.T, options processcontrol.ProcessControlOptions) *processControl {
	pc := newProcessControl(options, "test-app", newMockLogger())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = pc.Stop(ctx)
	})
	return pc
}

func waitForState(t *testing.T, pc *processControl, want processcontrol.ProcessState) {
	t.Helper()
	require.Eventually(t, func() bool {
		return pc.GetState() == want
	}, 5*time.Second, 10*time.Millisecond, "state never reached %s, last %s", want, pc.GetState())
}

// stateRecorder collects transitions from OnStateChange
type stateRecorder struct {
	mutex       sync.Mutex
	transitions []string
}

func (r *stateRecorder) record(from, to processcontrol.ProcessState) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.transitions = append(r.transitions, string(from)+"->"+string(to))
}

func (r *stateRecorder) snapshot() []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]string(nil), r.transitions...)
}
