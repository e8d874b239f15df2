//go:build !windows

package autostart

import (
	"os/exec"
	"syscall"
)

// startDetached starts execPath with no arguments in a new session and with
// stdio on /dev/null, then releases it. The caller never waits on it.
func startDetached(execPath string) (int, error) {
	cmd := exec.Command(execPath)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid
	return pid, cmd.Process.Release()
}
