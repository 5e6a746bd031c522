//go:build windows

package daemon

import (
	"os"
	"os/exec"
)

func setDaemonSysProcAttr(cmd *exec.Cmd) {
	// No Setsid on Windows; process runs in same console by default.
}

func processExists(pid int) bool {
	// No kill(pid, 0) on Windows; a dead daemon shows up as connection refused.
	return pid > 0
}

func signalTerm(proc *os.Process) error {
	// On Windows, SIGTERM is not supported; use Kill to terminate.
	return proc.Kill()
}

// notifyReload never fires on Windows; use POST /catalog/reload instead.
func notifyReload() (<-chan os.Signal, func()) {
	return nil, func() {}
}
