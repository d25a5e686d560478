//go:build windows

package worker

import (
	"os/exec"
	"time"
)

func configureProcess(cmd *exec.Cmd) {}

// terminateProcess kills the worker; Windows has no process-group signals.
func terminateProcess(cmd *exec.Cmd, grace time.Duration, exited <-chan struct{}) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
}
