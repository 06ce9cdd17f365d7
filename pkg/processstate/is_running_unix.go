//go:build !windows

package processstate

import (
	stderrors "errors"
	"os"
	"syscall"

	"github.com/core-tools/hsu-ecosystem/pkg/errors"
)

// IsProcessRunning checks pid with signal 0.
func IsProcessRunning(pid int) (bool, error) {
	if pid <= 0 {
		return false, errors.NewValidationError("invalid PID", nil).WithContext("pid", pid)
	}

	// FindProcess always succeeds on Unix.
	process, err := os.FindProcess(pid)
	if err != nil {
		return false, err
	}

	err = process.Signal(syscall.Signal(0))
	switch {
	case err == nil:
		return true, nil
	case stderrors.Is(err, os.ErrProcessDone):
		return false, nil
	case stderrors.Is(err, syscall.ESRCH):
		return false, nil
	case stderrors.Is(err, syscall.EPERM):
		// Exists, owned by someone else.
		return true, nil
	}
	return false, errors.NewProcessError("failed to signal process", err).WithContext("pid", pid)
}
