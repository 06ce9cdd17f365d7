//go:build !windows

package process

import (
	stderrors "errors"
	"syscall"
	"time"

	"github.com/core-tools/hsu-ecosystem/pkg/errors"
)

// SendTerminationSignal sends SIGTERM to the process group led by pid
func SendTerminationSignal(pid int, timeout time.Duration) error {
	return signalGroup(pid, syscall.SIGTERM)
}

// KillProcessGroup sends SIGKILL to the process group led by pid
func KillProcessGroup(pid int) error {
	return signalGroup(pid, syscall.SIGKILL)
}

func signalGroup(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return errors.NewValidationError("invalid PID", nil).WithContext("pid", pid)
	}

	err := syscall.Kill(-pid, sig)
	if stderrors.Is(err, syscall.ESRCH) {
		// Not a group leader, or the group is gone.
		err = syscall.Kill(pid, sig)
	}
	if err != nil && !stderrors.Is(err, syscall.ESRCH) {
		return errors.NewProcessError("failed to signal process", err).
			WithContext("pid", pid).WithContext("signal", sig.String())
	}
	return nil
}
