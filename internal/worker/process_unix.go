//go:build !windows

package worker

import (
	"os"

	"golang.org/x/sys/unix"
)

func processAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}

func killProcess(p *os.Process) error {
	return unix.Kill(p.Pid, unix.SIGKILL)
}
