//go:build !windows

package runtime

import (
	"os/exec"
	"syscall"
)

func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// groupTerminator signals the worker's whole process group so helpers the
// worker started go down with it.
type groupTerminator struct {
	cmd *exec.Cmd
}

func newTerminator(cmd *exec.Cmd) Terminator {
	return groupTerminator{cmd: cmd}
}

func (g groupTerminator) Terminate() error { return g.signal(syscall.SIGTERM) }

func (g groupTerminator) Kill() error { return g.signal(syscall.SIGKILL) }

func (g groupTerminator) signal(sig syscall.Signal) error {
	if g.cmd.Process == nil {
		return nil
	}
	pid := g.cmd.Process.Pid
	pgid, err := syscall.Getpgid(pid)
	if err != nil || pgid <= 0 {
		return g.cmd.Process.Signal(sig)
	}
	return syscall.Kill(-pgid, sig)
}
