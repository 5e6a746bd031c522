package runtime

import (
	"context"
	"log/slog"
	"time"
)

// DefaultGrace is how long a worker has to exit after Terminate.
const DefaultGrace = 5 * time.Second

// Outcome is what the supervisor observed for one run.
type Outcome struct {
	State     State
	ExitCode  int
	Stdout    string
	Stderr    string
	Truncated bool
	// Cancelled is set when the caller's context ended the run.
	Cancelled bool
	// Killed is set when the worker ignored Terminate for the grace period.
	Killed    bool
	Timeout   time.Duration
	StartedAt time.Time
	EndedAt   time.Time
	Elapsed   time.Duration
}

// Supervisor enforces a run deadline. It always waits for the process to be
// reaped before returning, so no worker outlives its Supervise call.
type Supervisor struct {
	Grace time.Duration
	Log   *slog.Logger
}

// Supervise waits for h to exit. When timeout elapses (timeout <= 0 means no
// deadline) or ctx is done, the worker is terminated, given the grace period,
// then killed.
func (s Supervisor) Supervise(ctx context.Context, h *Handle, timeout time.Duration) Outcome {
	grace := s.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}
	log := s.Log
	if log == nil {
		log = slog.Default()
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout - time.Since(h.StartedAt))
		defer timer.Stop()
		deadline = timer.C
	}

	out := Outcome{Timeout: timeout}
	select {
	case <-h.Done():
	case <-deadline:
		if !h.Exited() {
			log.Warn("worker timed out, terminating", "run_id", h.RunID, "pid", h.PID, "timeout", timeout)
			out.State = TimedOut
			out.Killed = s.stop(h, grace, log)
		}
	case <-ctx.Done():
		if !h.Exited() {
			log.Info("run cancelled, terminating worker", "run_id", h.RunID, "pid", h.PID, "err", ctx.Err())
			out.Cancelled = true
			out.Killed = s.stop(h, grace, log)
		}
	}
	<-h.Done()

	out.ExitCode = h.ExitCode()
	out.Stdout = h.Stdout()
	out.Stderr = h.Stderr()
	out.Truncated = h.Truncated()
	out.StartedAt = h.StartedAt
	out.EndedAt = h.EndedAt
	out.Elapsed = h.EndedAt.Sub(h.StartedAt)
	switch {
	case out.State == TimedOut:
	case !out.Cancelled && out.ExitCode == 0:
		out.State = Succeeded
	default:
		out.State = Failed
	}
	return out
}

// stop terminates h and kills it if it is still running after grace. It
// reports whether the kill was needed.
func (s Supervisor) stop(h *Handle, grace time.Duration, log *slog.Logger) bool {
	if err := h.Terminate(); err != nil && err != errExited {
		log.Debug("terminate worker", "run_id", h.RunID, "err", err)
	}
	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case <-h.Done():
		return false
	case <-t.C:
	}
	log.Warn("worker ignored terminate, killing", "run_id", h.RunID, "pid", h.PID, "grace", grace)
	if err := h.Kill(); err != nil && err != errExited {
		log.Error("kill worker", "run_id", h.RunID, "err", err)
	}
	return true
}
