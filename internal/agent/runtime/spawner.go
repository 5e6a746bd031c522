package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ankittk/agentorch/internal/catalog"
	"github.com/ankittk/agentorch/internal/sandbox"
	"github.com/ankittk/agentorch/pkg/models"
)

// ErrSpawn is wrapped by SpawnError.
var ErrSpawn = errors.New("worker failed to start")

// SpawnError reports a worker process that could not be started.
type SpawnError struct {
	Binary string
	Err    error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Binary, e.Err)
}

func (e *SpawnError) Unwrap() []error { return []error{ErrSpawn, e.Err} }

// emptyMCPConfig keeps a worker from inheriting the caller's MCP servers.
const emptyMCPConfig = `{"mcpServers":{}}`

// Options configures how workers are launched.
type Options struct {
	// Binary is the worker CLI, "claude" when empty.
	Binary string
	// ConfigDir resolves relative mcp_config references.
	ConfigDir string
	// Bubblewrap wraps workers in bwrap on Linux when available.
	Bubblewrap bool
	// Env is appended to the daemon's environment.
	Env []string
	// MaxOutputBytes caps each of stdout and stderr.
	MaxOutputBytes int
	Log            *slog.Logger
}

// Invocation is a fully resolved worker command.
type Invocation struct {
	RunID  string
	Binary string
	Args   []string
	Dir    string
	Stdin  string
	Env    []string
	Jail   sandbox.Jail
}

// Spawner builds and starts worker processes. It does not watch the clock;
// that is the Supervisor's job.
type Spawner struct {
	opts Options
}

// NewSpawner returns a Spawner with defaults applied.
func NewSpawner(opts Options) *Spawner {
	if opts.Binary == "" {
		opts.Binary = "claude"
	}
	if opts.MaxOutputBytes <= 0 {
		opts.MaxOutputBytes = models.DefaultMaxOutputBytes
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	return &Spawner{opts: opts}
}

// Invocation builds the command for spec running task inside jail.
func (s *Spawner) Invocation(runID string, spec catalog.WorkerSpec, task string, jail sandbox.Jail) Invocation {
	jail.Bubblewrap = s.opts.Bubblewrap
	args := []string{"--print", "--output-format", "text", "--model", spec.Model, "--add-dir", jail.Workspace}
	args = append(args, "--permission-mode", permissionMode(spec))
	policy := sandbox.Effective(spec)
	if len(policy.Allow) > 0 {
		args = append(args, "--allowedTools", catalog.FormatTools(policy.Allow))
	}
	if len(policy.Deny) > 0 {
		args = append(args, "--disallowedTools", catalog.FormatTools(policy.Deny))
	}
	args = append(args, "--mcp-config", s.mcpConfig(spec), "--strict-mcp-config")
	if spec.SystemPrompt != "" {
		args = append(args, "--system-prompt", spec.SystemPrompt)
	}
	if spec.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(spec.MaxTurns))
	}
	env := append([]string{}, s.opts.Env...)
	env = append(env, "AGENTORCH_RUN_ID="+runID, "AGENTORCH_WORKSPACE="+jail.Workspace)
	return Invocation{
		RunID:  runID,
		Binary: s.opts.Binary,
		Args:   args,
		Dir:    jail.Workspace,
		Stdin:  "WORKSPACE: " + jail.Workspace + "\n\n" + task,
		Env:    env,
		Jail:   jail,
	}
}

func permissionMode(spec catalog.WorkerSpec) string {
	if spec.ReadOnly {
		return "plan"
	}
	if spec.PermissionMode != "" {
		return spec.PermissionMode
	}
	return "acceptEdits"
}

func (s *Spawner) mcpConfig(spec catalog.WorkerSpec) string {
	ref := strings.TrimSpace(spec.MCPConfig)
	if ref == "" {
		return emptyMCPConfig
	}
	if strings.HasPrefix(ref, "{") || filepath.IsAbs(ref) || s.opts.ConfigDir == "" {
		return ref
	}
	return filepath.Join(s.opts.ConfigDir, ref)
}

// Start launches inv in its own process group and returns a handle. The
// task is written to stdin once the process is running. A start failure
// returns *SpawnError and no handle.
func (s *Spawner) Start(inv Invocation) (*Handle, error) {
	// The supervisor owns termination, so the command is not tied to a context.
	cmd := inv.Jail.Command(context.Background(), inv.Binary, inv.Args)
	cmd.Dir = inv.Dir
	cmd.Env = append(os.Environ(), inv.Env...)
	if inv.Dir != "" {
		cmd.Env = append(cmd.Env, "PWD="+inv.Dir)
	}
	setProcessGroup(cmd)
	cmd.WaitDelay = time.Second

	h := &Handle{
		RunID:  inv.RunID,
		cmd:    cmd,
		stdout: newCappedBuffer(s.opts.MaxOutputBytes),
		stderr: newCappedBuffer(s.opts.MaxOutputBytes),
		done:   make(chan struct{}),
	}
	cmd.Stdout = h.stdout
	cmd.Stderr = h.stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &SpawnError{Binary: inv.Binary, Err: err}
	}
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return nil, &SpawnError{Binary: inv.Binary, Err: err}
	}
	h.StartedAt = time.Now()
	h.PID = cmd.Process.Pid
	h.term = newTerminator(cmd)
	s.opts.Log.Debug("worker started", "run_id", inv.RunID, "pid", h.PID, "dir", inv.Dir)

	go func() {
		// A worker that exits without reading stdin closes the pipe; that is not an error.
		if _, err := stdin.Write([]byte(inv.Stdin)); err != nil && !errors.Is(err, os.ErrClosed) {
			s.opts.Log.Debug("write worker stdin", "run_id", inv.RunID, "err", err)
		}
		_ = stdin.Close()
	}()
	go func() {
		h.waitErr = cmd.Wait()
		h.EndedAt = time.Now()
		close(h.done)
	}()
	return h, nil
}
