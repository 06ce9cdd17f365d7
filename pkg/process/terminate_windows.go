//go:build windows

package process

import (
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/core-tools/hsu-ecosystem/pkg/errors"
)

// Console control events are process-wide; serialize them.
var consoleOperationLock sync.Mutex

// SendTerminationSignal sends Ctrl+Break to the process group led by pid
func SendTerminationSignal(pid int, timeout time.Duration) error {
	if pid <= 0 {
		return errors.NewValidationError("invalid PID", nil).WithContext("pid", pid)
	}

	consoleOperationLock.Lock()
	defer consoleOperationLock.Unlock()

	dll, err := syscall.LoadDLL("kernel32.dll")
	if err != nil {
		return errors.NewInternalError("failed to load kernel32.dll", err)
	}
	defer dll.Release()

	done := make(chan error, 1)
	go func() {
		done <- generateConsoleCtrlEvent(dll, pid)
	}()

	select {
	case err := <-done:
		if err != nil {
			return errors.NewProcessError("failed to send Ctrl+Break", err).WithContext("pid", pid)
		}
		return nil
	case <-time.After(timeout):
		return errors.NewTimeoutError("timed out sending Ctrl+Break", nil).WithContext("pid", pid)
	}
}

// KillProcessGroup terminates pid; Windows has no group kill without job objects
func KillProcessGroup(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	if err := proc.Kill(); err != nil {
		return errors.NewProcessError("failed to kill process", err).WithContext("pid", pid)
	}
	return nil
}

func generateConsoleCtrlEvent(dll *syscall.DLL, pid int) error {
	proc, err := dll.FindProc("GenerateConsoleCtrlEvent")
	if err != nil {
		return err
	}

	result, _, err := proc.Call(uintptr(syscall.CTRL_BREAK_EVENT), uintptr(pid))
	if result == 0 {
		return err
	}
	return nil
}
