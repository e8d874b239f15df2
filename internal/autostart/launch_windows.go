//go:build windows

package autostart

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"
)

func startDetached(execPath string) (int, error) {
	cmd := exec.Command(execPath)
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: windows.CREATE_NEW_PROCESS_GROUP | windows.DETACHED_PROCESS}
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid
	return pid, cmd.Process.Release()
}
