package workers

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/core-tools/hsu-ecosystem/pkg/ecosystem"
	"github.com/core-tools/hsu-ecosystem/pkg/errors"
	logconfig "github.com/core-tools/hsu-ecosystem/pkg/logcollection/config"
	"github.com/core-tools/hsu-ecosystem/pkg/resourcelimits"
	"github.com/core-tools/hsu-ecosystem/pkg/watch"
	"github.com/core-tools/hsu-ecosystem/pkg/workers/processcontrol"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockWorkerLogger for testing
type MockWorkerLogger struct {
	mock.Mock
}

func (m *MockWorkerLogger) LogLevelf(level int, format string, args ...interface{}) {
	m.Called(format, args)
}

func (m *MockWorkerLogger) Debugf(format string, args ...interface{}) {
	m.Called(format, args)
}

func (m *MockWorkerLogger) Infof(format string, args ...interface{}) {
	m.Called(format, args)
}

func (m *MockWorkerLogger) Warnf(format string, args ...interface{}) {
	m.Called(format, args)
}

func (m *MockWorkerLogger) Errorf(format string, args ...interface{}) {
	m.Called(format, args)
}

func newMockLogger() *MockWorkerLogger {
	logger := &MockWorkerLogger{}
	logger.On("Debugf", mock.Anything, mock.Anything).Maybe()
	logger.On("Infof", mock.Anything, mock.Anything).Maybe()
	logger.On("Warnf", mock.Anything, mock.Anything).Maybe()
	logger.On("Errorf", mock.Anything, mock.Anything).Maybe()
	return logger
}

const testEcosystem = `
apps:
  - name: api
    script: server.sh
    interpreter: sh
    args: ["--port", "8080"]
    env:
      GREETING: hello
      NODE_ENV: development
    env_production:
      NODE_ENV: production
    watch: true
    ignore_watch: ["tmp"]
    max_memory_restart: 1G
    restart_delay: 250
    log_file: logs/combined.log
    out_file: logs/out.log
    error_file: logs/error.log
    log_date_format: "YYYY-MM-DD HH:mm Z"
`

func createTestUnit(t *testing.T, profile string) *AppUnit {
	t.Helper()

	file, err := ecosystem.Parse([]byte(testEcosystem), ecosystem.FormatYAML)
	require.NoError(t, err)

	app := file.Apps[0]
	app.Resolve(t.TempDir())
	return &AppUnit{App: app, Profile: profile}
}

func TestNewAppWorker(t *testing.T) {
	unit := createTestUnit(t, "")

	worker, err := NewAppWorker(unit, AppWorkerOptions{}, newMockLogger())
	require.NoError(t, err)
	assert.Equal(t, "api", worker.ID())

	metadata := worker.Metadata()
	assert.Equal(t, "api", metadata.Name)
	assert.Equal(t, unit.App.Script, metadata.Script)
	assert.Equal(t, "sh", metadata.Interpreter)
	assert.True(t, metadata.Watch)
	assert.Equal(t, int64(1<<30), metadata.MemoryLimit)
}

func TestNewAppWorker_Invalid(t *testing.T) {
	_, err := NewAppWorker(nil, AppWorkerOptions{}, nil)
	assert.True(t, errors.IsValidationError(err))

	unit := createTestUnit(t, "")
	unit.App.Interpreter = ""
	_, err = NewAppWorker(unit, AppWorkerOptions{}, nil)
	assert.True(t, errors.IsValidationError(err))

	unit = createTestUnit(t, "")
	unit.App.Cwd = "relative/dir"
	_, err = NewAppWorker(unit, AppWorkerOptions{}, nil)
	assert.True(t, errors.IsValidationError(err))
}

func TestAppWorker_ProcessControlOptions(t *testing.T) {
	unit := createTestUnit(t, "")
	worker, err := NewAppWorker(unit, AppWorkerOptions{ResourceCheckInterval: 2 * time.Second}, newMockLogger())
	require.NoError(t, err)

	options := worker.ProcessControlOptions()

	assert.True(t, options.CanTerminate)
	assert.True(t, options.CanRestart)
	assert.True(t, options.AutoRestart)
	assert.Equal(t, 1600*time.Millisecond, options.GracefulTimeout)
	assert.Equal(t, time.Second, options.MinUptime)
	assert.NotNil(t, options.ExecuteCmd)

	require.NotNil(t, options.Restart)
	assert.Equal(t, processcontrol.RestartConfig{
		MaxRetries:  ecosystem.DefaultMaxRestarts,
		RetryDelay:  250 * time.Millisecond,
		BackoffRate: 1,
	}, options.Restart.Default)

	require.True(t, options.Limits.HasLimits())
	assert.Equal(t, int64(1<<30), options.Limits.Memory.MaxRSS)
	assert.Equal(t, resourcelimits.ResourcePolicyRestart, options.Limits.Memory.Policy)
	assert.Equal(t, 2*time.Second, options.Limits.Monitoring.Interval)

	require.NotNil(t, options.Watch)
	assert.Equal(t, unit.App.Cwd, options.Watch.Root)
	assert.Equal(t, []string{"tmp"}, options.Watch.Ignore)
	assert.ElementsMatch(t, []string{
		filepath.Join(unit.App.Cwd, "logs", "combined.log"),
		filepath.Join(unit.App.Cwd, "logs", "out.log"),
		filepath.Join(unit.App.Cwd, "logs", "error.log"),
	}, options.Watch.Exclude)

	// Without a log collection service there is nothing to configure.
	assert.Nil(t, options.LogConfig)

	assert.NoError(t, ValidateProcessControlOptions(options))
}

func TestAppWorker_NoMemoryLimitNoWatch(t *testing.T) {
	unit := createTestUnit(t, "")
	unit.App.MaxMemoryRestart = ""
	unit.App.Watch = false
	autoRestart := false
	unit.App.AutoRestart = &autoRestart

	worker, err := NewAppWorker(unit, AppWorkerOptions{}, nil)
	require.NoError(t, err)

	options := worker.ProcessControlOptions()
	assert.Nil(t, options.Limits)
	assert.Nil(t, options.Watch)
	assert.False(t, options.AutoRestart)
}

func TestAppWorker_LogConfig(t *testing.T) {
	unit := createTestUnit(t, "")
	rotation := logconfig.RotationConfig{MaxSize: "10MB", MaxFiles: 3}
	console := logconfig.OutputTargetConfig{Type: logconfig.TargetTypeStdout, Format: logconfig.FormatEnhancedPlain}

	defaults := logconfig.DefaultWorkerLogConfig()
	defaults.Outputs.Combined = []logconfig.OutputTargetConfig{console}

	worker, err := NewAppWorker(unit, AppWorkerOptions{LogDefaults: defaults, Rotation: rotation}, nil)
	require.NoError(t, err)

	file := func(name string) logconfig.OutputTargetConfig {
		return logconfig.OutputTargetConfig{
			Type:     logconfig.TargetTypeFile,
			Path:     filepath.Join(unit.App.Cwd, "logs", name),
			Format:   logconfig.FormatPlain,
			Rotation: rotation,
		}
	}

	want := logconfig.WorkerLogConfig{
		Enabled:         true,
		CaptureStdout:   true,
		CaptureStderr:   true,
		TimestampFormat: "YYYY-MM-DD HH:mm Z",
		Outputs: logconfig.OutputConfig{
			Separate: logconfig.SeparateOutputConfig{
				Stdout: []logconfig.OutputTargetConfig{file("out.log")},
				Stderr: []logconfig.OutputTargetConfig{file("error.log")},
			},
			Combined: []logconfig.OutputTargetConfig{console, file("combined.log")},
		},
	}

	got := worker.(*appWorker).LogConfig()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("LogConfig() mismatch (-want +got):\n%s", diff)
	}
	assert.NoError(t, got.Validate())

	// The shared defaults are not modified.
	assert.Len(t, defaults.Outputs.Combined, 1)
}

func TestAppWorker_ExecutionConfig(t *testing.T) {
	unit := createTestUnit(t, "production")
	unit.App.Interpreter = ecosystem.InterpreterNone

	worker, err := NewAppWorker(unit, AppWorkerOptions{}, nil)
	require.NoError(t, err)

	execution, err := worker.(*appWorker).ExecutionConfig()
	require.NoError(t, err)

	assert.Equal(t, unit.App.Script, execution.ExecutablePath)
	assert.Equal(t, []string{"--port", "8080"}, execution.Args)
	assert.Equal(t, unit.App.Cwd, execution.WorkingDirectory)
	assert.True(t, execution.EnsureExecutable)
	assert.Equal(t, []string{"GREETING=hello", "NODE_ENV=production"}, execution.Environment)
}

func TestAppWorker_ExecutionConfig_MissingInterpreter(t *testing.T) {
	unit := createTestUnit(t, "")
	unit.App.Interpreter = "definitely-not-an-interpreter-xyz"

	worker, err := NewAppWorker(unit, AppWorkerOptions{}, nil)
	require.NoError(t, err)

	_, err = worker.(*appWorker).ExecutionConfig()
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))

	// Diagnostics fall back to the script path.
	assert.Equal(t, unit.App.Script, worker.ProcessControlOptions().ExecutablePath)
}

func TestAppWorker_ExecuteCmd(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh")
	}

	unit := createTestUnit(t, "production")
	script := `echo "$GREETING $NODE_ENV $1 $2"`
	require.NoError(t, os.WriteFile(unit.App.Script, []byte(script), 0644))

	worker, err := NewAppWorker(unit, AppWorkerOptions{}, newMockLogger())
	require.NoError(t, err)

	proc, stdout, stderr, err := worker.ProcessControlOptions().ExecuteCmd(context.Background())
	require.NoError(t, err)
	defer stderr.Close()
	defer stdout.Close()

	out, err := io.ReadAll(stdout)
	require.NoError(t, err)
	_, err = proc.Wait()
	require.NoError(t, err)

	assert.Equal(t, "hello production --port 8080\n", string(out))
}

func TestValidateProcessControlOptions(t *testing.T) {
	noop := func(ctx context.Context) (*os.Process, io.ReadCloser, io.ReadCloser, error) {
		return nil, nil, nil, nil
	}

	tests := []struct {
		name    string
		options processcontrol.ProcessControlOptions
		wantErr bool
	}{
		{"minimal", processcontrol.ProcessControlOptions{ExecuteCmd: noop}, false},
		{"no execute command", processcontrol.ProcessControlOptions{}, true},
		{"negative graceful timeout", processcontrol.ProcessControlOptions{ExecuteCmd: noop, GracefulTimeout: -1}, true},
		{"negative min uptime", processcontrol.ProcessControlOptions{ExecuteCmd: noop, MinUptime: -1}, true},
		{"negative retries", processcontrol.ProcessControlOptions{
			ExecuteCmd: noop,
			Restart:    &processcontrol.ContextAwareRestartConfig{Default: processcontrol.RestartConfig{MaxRetries: -1}},
		}, true},
		{"bad ignore pattern", processcontrol.ProcessControlOptions{
			ExecuteCmd: noop,
			Watch:      &watch.Config{Root: "/srv/app", Ignore: []string{"["}},
		}, true},
		{"bad log target", processcontrol.ProcessControlOptions{
			ExecuteCmd: noop,
			LogConfig: &logconfig.WorkerLogConfig{
				Enabled:       true,
				CaptureStdout: true,
				Outputs:       logconfig.OutputConfig{Combined: []logconfig.OutputTargetConfig{{Type: logconfig.TargetTypeFile}}},
			},
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateProcessControlOptions(tt.options)
			if tt.wantErr {
				assert.True(t, errors.IsValidationError(err), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
