//go:build windows

package runtime

import (
	"os/exec"
)

func setProcessGroup(cmd *exec.Cmd) {}

// processTerminator has no graceful stop on Windows; Terminate kills.
type processTerminator struct {
	cmd *exec.Cmd
}

func newTerminator(cmd *exec.Cmd) Terminator {
	return processTerminator{cmd: cmd}
}

func (p processTerminator) Terminate() error { return p.Kill() }

func (p processTerminator) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}
