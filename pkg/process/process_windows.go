//go:build windows

package process

import (
	"os/exec"
)

// setProcessGroup is a no-op; Windows has no Unix-style process groups.
func setProcessGroup(cmd *exec.Cmd) {}

// terminateProcessGroup kills the process. There is no console-less way to
// deliver a graceful stop on Windows.
func terminateProcessGroup(cmd *exec.Cmd) error {
	return killProcessGroup(cmd)
}

// killProcessGroup calls TerminateProcess on the child.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
