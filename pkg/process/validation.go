package process

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/core-tools/hsu-ecosystem/pkg/errors"
)

// ValidatePID parses a PID as written to a PID file
func ValidatePID(pidStr string) (int, error) {
	if pidStr == "" {
		return 0, errors.NewValidationError("PID cannot be empty", nil)
	}

	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, errors.NewValidationError("invalid PID format", err).WithContext("pid", pidStr)
	}
	if pid <= 0 {
		return 0, errors.NewValidationError("PID must be positive", nil).WithContext("pid", pidStr)
	}

	return pid, nil
}

// ValidateExecutionConfig checks that the resolved command can be spawned:
// the executable and working directory exist and every environment entry is KEY=VALUE.
func ValidateExecutionConfig(config ExecutionConfig) error {
	if config.ExecutablePath == "" {
		return errors.NewValidationError("executable path is required", nil).WithContext("field", "executable_path")
	}
	if err := checkPath(config.ExecutablePath, false); err != nil {
		return errors.NewValidationError("executable is not usable", err).
			WithContext("field", "executable_path").WithContext("path", config.ExecutablePath)
	}

	if config.WorkingDirectory != "" {
		if !filepath.IsAbs(config.WorkingDirectory) {
			return errors.NewValidationError("working directory must be an absolute path", nil).
				WithContext("field", "working_directory").WithContext("path", config.WorkingDirectory)
		}
		if err := checkPath(config.WorkingDirectory, true); err != nil {
			return errors.NewValidationError("working directory is not usable", err).
				WithContext("field", "working_directory").WithContext("path", config.WorkingDirectory)
		}
	}

	for i, env := range config.Environment {
		if strings.IndexByte(env, '=') <= 0 {
			return errors.NewValidationError("environment entry must be KEY=VALUE", nil).
				WithContext("field", "environment").WithContext("index", i)
		}
	}

	return nil
}

func checkPath(path string, wantDir bool) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.NewNotFoundError("path does not exist", err)
		}
		return errors.NewIOError("path is not accessible", err)
	}
	if info.IsDir() != wantDir {
		if wantDir {
			return errors.NewValidationError("not a directory", nil)
		}
		return errors.NewValidationError("is a directory", nil)
	}
	return nil
}
