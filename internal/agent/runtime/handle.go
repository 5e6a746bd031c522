package runtime

import (
	"bytes"
	"errors"
	"os/exec"
	"sync"
	"time"
)

var errExited = errors.New("process already exited")

// Handle is a started worker process.
type Handle struct {
	RunID     string
	PID       int
	StartedAt time.Time
	// EndedAt is valid once Done is closed.
	EndedAt time.Time

	cmd     *exec.Cmd
	term    Terminator
	stdout  *cappedBuffer
	stderr  *cappedBuffer
	done    chan struct{}
	waitErr error
}

// Done is closed once the process has been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Exited reports whether the process has been reaped.
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the process is reaped and returns its wait error.
func (h *Handle) Wait() error {
	<-h.done
	return h.waitErr
}

// ExitCode returns the exit code, -1 if the process was killed by a signal
// or has not exited.
func (h *Handle) ExitCode() int {
	if !h.Exited() || h.cmd.ProcessState == nil {
		return -1
	}
	return h.cmd.ProcessState.ExitCode()
}

// Terminate sends the polite stop signal.
func (h *Handle) Terminate() error {
	if h.Exited() {
		return errExited
	}
	return h.term.Terminate()
}

// Kill stops the process group unconditionally.
func (h *Handle) Kill() error {
	if h.Exited() {
		return errExited
	}
	return h.term.Kill()
}

// Stdout returns captured standard output.
func (h *Handle) Stdout() string { return h.stdout.String() }

// Stderr returns captured standard error.
func (h *Handle) Stderr() string { return h.stderr.String() }

// Truncated reports whether either stream exceeded the capture limit.
func (h *Handle) Truncated() bool { return h.stdout.Truncated() || h.stderr.Truncated() }

// cappedBuffer keeps the first max bytes written and counts the rest.
type cappedBuffer struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	max     int
	dropped int64
}

func newCappedBuffer(limit int) *cappedBuffer {
	return &cappedBuffer{max: limit}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	room := b.max - b.buf.Len()
	if room <= 0 {
		b.dropped += int64(len(p))
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.dropped += int64(len(p) - room)
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *cappedBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len() + int(b.dropped)
}

func (b *cappedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped > 0
}
