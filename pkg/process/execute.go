package process

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/core-tools/hsu-ecosystem/pkg/errors"
	"github.com/core-tools/hsu-ecosystem/pkg/logging"
)

type ExecutionConfig struct {
	ExecutablePath   string   `yaml:"executable_path"`
	Args             []string `yaml:"args,omitempty"`
	Environment      []string `yaml:"environment,omitempty"` // KEY=VALUE, wins over the inherited environment
	WorkingDirectory string   `yaml:"working_directory,omitempty"`
	// Set when the executable is the app's own script; it is made executable if needed.
	EnsureExecutable bool `yaml:"-"`
}

// StdExecuteCmd spawns the process and returns it with its stdout and stderr read ends.
// The caller owns the process and must Wait on it, then close both readers.
type StdExecuteCmd func(ctx context.Context) (*os.Process, io.ReadCloser, io.ReadCloser, error)

func NewStdExecuteCmd(execution ExecutionConfig, id string, logger logging.Logger) StdExecuteCmd {
	return func(ctx context.Context) (*os.Process, io.ReadCloser, io.ReadCloser, error) {
		if ctx == nil {
			return nil, nil, nil, errors.NewValidationError("context cannot be nil", nil).WithContext("id", id)
		}
		// The context only bounds the spawn; the process outlives the request that started it.
		if err := ctx.Err(); err != nil {
			return nil, nil, nil, errors.NewCancelledError("process start cancelled", err).WithContext("id", id)
		}

		if err := ValidateExecutionConfig(execution); err != nil {
			logger.Errorf("Execution configuration validation failed, id: %s, error: %v", id, err)
			return nil, nil, nil, errors.NewValidationError("invalid execution configuration", err).WithContext("id", id)
		}

		if execution.EnsureExecutable {
			if err := ensureExecutable(execution.ExecutablePath); err != nil {
				return nil, nil, nil, errors.NewPermissionError("failed to ensure process is executable", err).
					WithContext("id", id).WithContext("executable_path", execution.ExecutablePath)
			}
		}

		workDir := execution.WorkingDirectory
		if workDir == "" {
			absPath, err := filepath.Abs(execution.ExecutablePath)
			if err != nil {
				return nil, nil, nil, errors.NewIOError("failed to get absolute path", err).
					WithContext("id", id).WithContext("executable_path", execution.ExecutablePath)
			}
			workDir = filepath.Dir(absPath)
		}

		logger.Debugf("Executing process, id: %s, executable path: '%s', args: %v, working directory: '%s'",
			id, execution.ExecutablePath, execution.Args, workDir)

		// os/exec keeps the last value of a duplicated key.
		env := append(os.Environ(), execution.Environment...)

		stdoutR, stdoutW, err := os.Pipe()
		if err != nil {
			return nil, nil, nil, errors.NewIOError("failed to create stdout pipe", err).WithContext("id", id)
		}
		stderrR, stderrW, err := os.Pipe()
		if err != nil {
			stdoutR.Close()
			stdoutW.Close()
			return nil, nil, nil, errors.NewIOError("failed to create stderr pipe", err).WithContext("id", id)
		}

		cmd := exec.Command(execution.ExecutablePath, execution.Args...)
		cmd.Dir = workDir
		cmd.Env = env
		cmd.Stdout = stdoutW
		cmd.Stderr = stderrW

		setupProcessAttributes(cmd)

		err = cmd.Start()

		// The child holds its own copies of the write ends.
		stdoutW.Close()
		stderrW.Close()

		if err != nil {
			stdoutR.Close()
			stderrR.Close()
			return nil, nil, nil, errors.NewProcessError("failed to start the process", err).
				WithContext("id", id).WithContext("executable_path", execution.ExecutablePath)
		}

		logger.Infof("Successfully executed process, id: %s, PID: %d", id, cmd.Process.Pid)

		return cmd.Process, stdoutR, stderrR, nil
	}
}

// ensureExecutable sets the execute bits on a script that lacks them
func ensureExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return errors.NewIOError("file does not exist", err).WithContext("path", path)
	}

	if runtime.GOOS == "windows" {
		return nil
	}

	mode := info.Mode()
	if mode&0111 != 0 {
		return nil
	}

	if err := os.Chmod(path, mode|0111); err != nil {
		return errors.NewPermissionError("failed to make file executable", err).WithContext("path", path)
	}
	return nil
}
