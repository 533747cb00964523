//go:build unix && !linux

package sandbox

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// Namespaces and prlimit are Linux-only; other platforms only get process
// group isolation and the wall-clock timeout.
func configureProcAttr(cmd *exec.Cmd, _ Limits) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func applyLimits(int, Limits) error {
	return nil
}

func killGroup(pid int) error {
	if err := unix.Kill(-pid, unix.SIGKILL); err != nil && err != unix.ESRCH {
		return err
	}
	return nil
}
