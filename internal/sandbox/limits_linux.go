//go:build linux

package sandbox

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

func configureProcAttr(cmd *exec.Cmd, limits Limits) {
	attr := &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
	if limits.Network == NetworkIsolated {
		// An identity-mapped user namespace lets an unprivileged daemon
		// create the network namespace; the child sees only loopback.
		uid, gid := os.Getuid(), os.Getgid()
		attr.Cloneflags = unix.CLONE_NEWUSER | unix.CLONE_NEWNET
		attr.UidMappings = []syscall.SysProcIDMap{{ContainerID: uid, HostID: uid, Size: 1}}
		attr.GidMappings = []syscall.SysProcIDMap{{ContainerID: gid, HostID: gid, Size: 1}}
		attr.GidMappingsEnableSetgroups = false
	}
	cmd.SysProcAttr = attr
}

func applyLimits(pid int, limits Limits) error {
	if limits.MemoryBytes > 0 {
		lim := unix.Rlimit{Cur: uint64(limits.MemoryBytes), Max: uint64(limits.MemoryBytes)}
		if err := unix.Prlimit(pid, unix.RLIMIT_AS, &lim, nil); err != nil {
			return fmt.Errorf("address space limit: %w", err)
		}
	}
	if seconds := uint64(limits.CPUTime.Seconds()); seconds > 0 {
		lim := unix.Rlimit{Cur: seconds, Max: seconds + 5}
		if err := unix.Prlimit(pid, unix.RLIMIT_CPU, &lim, nil); err != nil {
			return fmt.Errorf("cpu time limit: %w", err)
		}
	}
	return nil
}

func killGroup(pid int) error {
	if err := unix.Kill(-pid, unix.SIGKILL); err != nil && err != unix.ESRCH {
		return err
	}
	return nil
}
