//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// setupProcessAttributes puts the child in its own process group so that
// termination signals reach the whole tree it spawns.
func setupProcessAttributes(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}
