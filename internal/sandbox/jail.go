package sandbox

import (
	"context"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/ankittk/agentorch/internal/catalog"
)

// Jail is the filesystem boundary of one worker: it may read under Root and
// write only under Workspace, and not at all when ReadOnly.
type Jail struct {
	Root      string
	Workspace string
	ReadOnly  bool
	// Bubblewrap runs the worker under bwrap when available on Linux.
	Bubblewrap bool
}

// NewJail returns the jail for a worker of spec rooted at root. The workspace
// must be readable and, unless spec is read-only, writable under the jail's
// own rules, otherwise the error wraps ErrEscape.
func NewJail(spec catalog.WorkerSpec, root, workspace string) (Jail, error) {
	j := Jail{Root: root, Workspace: workspace, ReadOnly: spec.ReadOnly}
	if !j.AllowRead(workspace) || (!j.ReadOnly && !j.AllowWrite(workspace)) {
		return Jail{}, &PathError{Type: spec.Name, Path: workspace, Err: ErrEscape}
	}
	return j, nil
}

// AllowWrite reports whether the jail lets the worker write path.
func (j Jail) AllowWrite(path string) bool {
	if path == "" || j.ReadOnly || j.Workspace == "" {
		return false
	}
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return false
	}
	ws, err := filepath.Abs(filepath.Clean(j.Workspace))
	if err != nil {
		return false
	}
	return within(ws, abs)
}

// AllowRead reports whether path lies under the project root.
func (j Jail) AllowRead(path string) bool {
	if path == "" || j.Root == "" {
		return false
	}
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return false
	}
	root, err := filepath.Abs(filepath.Clean(j.Root))
	if err != nil {
		return false
	}
	return within(root, abs)
}

// Command returns an *exec.Cmd that runs binary inside the jail. Without
// bubblewrap (or off Linux) the command runs directly and isolation relies
// on the worker's own tool restrictions.
func (j Jail) Command(ctx context.Context, binary string, args []string) *exec.Cmd {
	if !j.Bubblewrap || j.Workspace == "" || runtime.GOOS != "linux" {
		return exec.CommandContext(ctx, binary, args...)
	}
	bwrap, err := exec.LookPath("bwrap")
	if err != nil {
		return exec.CommandContext(ctx, binary, args...)
	}
	return exec.CommandContext(ctx, bwrap, j.bwrapArgs(binary, args)...)
}

func (j Jail) bwrapArgs(binary string, args []string) []string {
	ws, _ := filepath.Abs(j.Workspace)
	root := ws
	if j.Root != "" {
		if r, err := filepath.Abs(j.Root); err == nil && within(r, ws) {
			root = r
		}
	}
	out := []string{"--ro-bind", root, root}
	if j.ReadOnly {
		out = append(out, "--ro-bind", ws, ws)
	} else {
		out = append(out, "--bind", ws, ws)
	}
	out = append(out,
		"--ro-bind", "/usr", "/usr",
		"--ro-bind", "/lib", "/lib",
		"--ro-bind-try", "/lib64", "/lib64",
		"--ro-bind-try", "/bin", "/bin",
		"--ro-bind-try", "/etc/ssl", "/etc/ssl",
		"--ro-bind-try", "/etc/resolv.conf", "/etc/resolv.conf",
		"--dev", "/dev",
		"--proc", "/proc",
		"--tmpfs", "/tmp",
		"--unshare-pid",
		"--die-with-parent",
		"--chdir", ws,
		"--", binary,
	)
	return append(out, args...)
}
