//go:build linux

package common

import (
	"os/exec"
	"syscall"
)

// killAfterParent makes the browser receive SIGKILL when this process dies.
func killAfterParent(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Pdeathsig: syscall.SIGKILL,
	}
}
