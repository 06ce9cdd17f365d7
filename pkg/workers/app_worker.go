package workers

import (
	"context"
	"io"
	"os"

	"github.com/core-tools/hsu-ecosystem/pkg/ecosystem"
	"github.com/core-tools/hsu-ecosystem/pkg/errors"
	logconfig "github.com/core-tools/hsu-ecosystem/pkg/logcollection/config"
	"github.com/core-tools/hsu-ecosystem/pkg/logging"
	"github.com/core-tools/hsu-ecosystem/pkg/process"
	"github.com/core-tools/hsu-ecosystem/pkg/resourcelimits"
	"github.com/core-tools/hsu-ecosystem/pkg/watch"
	"github.com/core-tools/hsu-ecosystem/pkg/workers/processcontrol"
)

type appWorker struct {
	id          string
	unit        AppUnit
	memoryLimit int64
	options     AppWorkerOptions
	logger      logging.Logger
}

// NewAppWorker builds a worker for an app whose paths are already resolved
func NewAppWorker(unit *AppUnit, options AppWorkerOptions, logger logging.Logger) (Worker, error) {
	if unit == nil {
		return nil, errors.NewValidationError("app unit cannot be nil", nil)
	}
	if err := ValidateAppUnit(*unit); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	memoryLimit, err := unit.App.MemoryLimitBytes()
	if err != nil {
		return nil, errors.NewValidationError("invalid max_memory_restart", err).WithContext("app", unit.App.Name)
	}

	return &appWorker{
		id:          unit.App.Name,
		unit:        *unit,
		memoryLimit: memoryLimit,
		options:     options,
		logger:      logger,
	}, nil
}

func (w *appWorker) ID() string {
	return w.id
}

func (w *appWorker) Metadata() UnitMetadata {
	app := w.unit.App
	return UnitMetadata{
		Name:        app.Name,
		Description: app.Script,
		Script:      app.Script,
		Interpreter: app.Interpreter,
		Cwd:         app.Cwd,
		Profile:     w.unit.Profile,
		Watch:       app.Watch,
		MemoryLimit: w.memoryLimit,
	}
}

func (w *appWorker) ProcessControlOptions() processcontrol.ProcessControlOptions {
	app := w.unit.App

	options := processcontrol.ProcessControlOptions{
		CanTerminate:    true,
		CanRestart:      true,
		AutoRestart:     app.ShouldAutoRestart(),
		GracefulTimeout: app.KillTimeout(),
		ExecuteCmd:      w.ExecuteCmd,
		ExecutablePath:  w.executablePath(),
		Limits:          resourcelimits.NewMemoryRestartLimits(w.memoryLimit, w.options.ResourceCheckInterval),
		Restart: &processcontrol.ContextAwareRestartConfig{
			Default: processcontrol.RestartConfig{
				MaxRetries:  app.GetMaxRestarts(),
				RetryDelay:  app.RestartDelay(),
				BackoffRate: 1,
			},
		},
		MinUptime:            app.MinUptime(),
		LogCollectionService: w.options.LogCollectionService,
		ProcessFileManager:   w.options.ProcessFileManager,
	}

	if w.options.LogCollectionService != nil {
		logConfig := w.LogConfig()
		options.LogConfig = &logConfig
	}

	if app.Watch {
		options.Watch = &watch.Config{
			Root:     app.Cwd,
			Ignore:   app.IgnoreWatch,
			Exclude:  app.LogPaths(),
			Debounce: w.options.WatchDebounce,
		}
	}

	return options
}

// ExecuteCmd resolves the interpreter at spawn time, so an interpreter
// installed after the daemon started is picked up on the next restart.
func (w *appWorker) ExecuteCmd(ctx context.Context) (*os.Process, io.ReadCloser, io.ReadCloser, error) {
	execution, err := w.ExecutionConfig()
	if err != nil {
		w.logger.Errorf("Failed to resolve app command, app: %s, error: %v", w.id, err)
		return nil, nil, nil, err
	}

	w.logger.Debugf("Executing app command, app: %s, executable: %s, args: %v", w.id, execution.ExecutablePath, execution.Args)

	stdExecuteCmd := process.NewStdExecuteCmd(execution, w.id, w.logger)
	proc, stdout, stderr, err := stdExecuteCmd(ctx)
	if err != nil {
		return nil, nil, nil, errors.NewProcessError("failed to execute app command", err).WithContext("app", w.id)
	}

	return proc, stdout, stderr, nil
}

// ExecutionConfig is the command line, environment and working directory of the app
func (w *appWorker) ExecutionConfig() (process.ExecutionConfig, error) {
	app := w.unit.App

	executable, args, err := process.ResolveInterpreter(app.Interpreter, app.Script)
	if err != nil {
		if domainErr, ok := err.(*errors.DomainError); ok {
			domainErr.WithContext("app", w.id)
		}
		return process.ExecutionConfig{}, err
	}
	args = append(args, app.Args...)

	return process.ExecutionConfig{
		ExecutablePath:   executable,
		Args:             args,
		Environment:      app.Environment(w.unit.Profile),
		WorkingDirectory: app.Cwd,
		EnsureExecutable: app.Interpreter == ecosystem.InterpreterNone,
	}, nil
}

// LogConfig routes out_file to stdout, error_file to stderr and log_file to both
func (w *appWorker) LogConfig() logconfig.WorkerLogConfig {
	app := w.unit.App

	cfg := w.options.LogDefaults
	cfg.Enabled = true
	if !cfg.CaptureStdout && !cfg.CaptureStderr {
		cfg.CaptureStdout = true
		cfg.CaptureStderr = true
	}
	cfg.TimestampFormat = app.LogDateFormat

	cfg.Outputs = logconfig.OutputConfig{
		Separate: logconfig.SeparateOutputConfig{
			Stdout: append([]logconfig.OutputTargetConfig(nil), cfg.Outputs.Separate.Stdout...),
			Stderr: append([]logconfig.OutputTargetConfig(nil), cfg.Outputs.Separate.Stderr...),
		},
		Combined: append([]logconfig.OutputTargetConfig(nil), cfg.Outputs.Combined...),
	}
	if app.OutFile != "" {
		cfg.Outputs.Separate.Stdout = append(cfg.Outputs.Separate.Stdout, w.fileTarget(app.OutFile))
	}
	if app.ErrorFile != "" {
		cfg.Outputs.Separate.Stderr = append(cfg.Outputs.Separate.Stderr, w.fileTarget(app.ErrorFile))
	}
	if app.LogFile != "" {
		cfg.Outputs.Combined = append(cfg.Outputs.Combined, w.fileTarget(app.LogFile))
	}

	return cfg
}

func (w *appWorker) fileTarget(path string) logconfig.OutputTargetConfig {
	return logconfig.OutputTargetConfig{
		Type:     logconfig.TargetTypeFile,
		Path:     path,
		Format:   logconfig.FormatPlain,
		Rotation: w.options.Rotation,
	}
}

// executablePath is reported in diagnostics; it falls back to the script when
// the interpreter cannot be resolved yet.
func (w *appWorker) executablePath() string {
	app := w.unit.App
	executable, _, err := process.ResolveInterpreter(app.Interpreter, app.Script)
	if err != nil {
		return app.Script
	}
	return executable
}
