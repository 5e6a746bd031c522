// Package daemon runs the orchestration engine as a long-lived HTTP server
// and manages its pid, address and lock files under the home directory.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/ankittk/agentorch/internal/engine"
	"github.com/ankittk/agentorch/internal/httpapi"
	"github.com/ankittk/agentorch/internal/otel"
)

var errNotRunning = errors.New("agentorch is not running")

const shutdownTimeout = 15 * time.Second

// StartForeground serves until ctx is cancelled. In-flight runs are
// terminated and recorded as failed before it returns.
func StartForeground(ctx context.Context, opts StartOptions) error {
	if opts.Home == "" {
		return errors.New("home is required")
	}
	if opts.Port == 0 {
		opts.Port = opts.Config.Port
	}
	if opts.Port == 0 {
		opts.Port = 3548
	}
	if opts.Host == "" {
		opts.Host = "127.0.0.1"
	}

	if err := os.MkdirAll(protectedDir(opts.Home), 0o755); err != nil {
		return err
	}

	// Singleton lock, released on exit.
	lock, err := acquireLock(lockPath(opts.Home))
	if err != nil {
		return err
	}
	defer lock.release()

	startPprof(opts.PprofAddr)

	addr := net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))
	if err := checkPortAvailable(addr); err != nil {
		return err
	}

	pid := os.Getpid()
	if err := os.WriteFile(pidPath(opts.Home), []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return err
	}
	_ = os.WriteFile(addrPath(opts.Home), []byte(clientAddr(opts.Host, opts.Port)+"\n"), 0o644)
	defer func() {
		_ = os.Remove(pidPath(opts.Home))
		_ = os.Remove(addrPath(opts.Home))
	}()

	srvOpts := httpapi.ServerOptions{
		Addr:        addr,
		Dev:         opts.Dev,
		APIKey:      opts.Config.APIKey,
		ProjectRoot: opts.ProjectRoot,
		Version:     opts.Version,
	}
	if opts.EnableOtel {
		metricsHandler, err := otel.InitMeterProvider(ctx, "agentorch")
		if err != nil {
			slog.Warn("otel init failed, using legacy metrics", "err", err)
		} else {
			srvOpts.MetricsHandler = metricsHandler
			srvOpts.UseOtelHTTP = true
			if err := otel.InitMetrics(ctx); err != nil {
				slog.Warn("otel instruments", "err", err)
			}
		}
	}

	eng, err := engine.Open(ctx, engine.Options{Home: opts.Home, Config: opts.Config})
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := eng.Close(closeCtx); err != nil {
			slog.Warn("close engine", "err", err)
		}
	}()
	if n, err := eng.RecoverRuns(ctx); err != nil {
		slog.Warn("recover interrupted runs", "err", err)
	} else if n > 0 {
		slog.Info("marked interrupted runs failed", "count", n)
	}

	srvOpts.Engine = eng
	app, err := httpapi.NewApp(srvOpts)
	if err != nil {
		return err
	}

	reload, stopReload := notifyReload()
	defer stopReload()

	slog.Info("daemon starting", "addr", addr, "home", opts.Home, "catalog", opts.Config.Catalog)
	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Server.ListenAndServe()
	}()

	for {
		select {
		case <-reload:
			if _, err := eng.ReloadCatalog(ctx); err != nil {
				slog.Error("catalog reload failed, keeping previous catalog", "err", err)
			}
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			// Stop accepting requests first; engine close then ends in-flight runs.
			_ = app.Shutdown(shutdownCtx)
			return ctx.Err()
		case err := <-errCh:
			if err == nil || errors.Is(err, http.ErrServerClosed) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// clientAddr is the address written for local clients; a wildcard listen
// host is reached over loopback.
func clientAddr(host string, port int) string {
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// StartBackground re-executes the current binary as a detached daemon. The
// effective configuration is handed over through the environment.
func StartBackground(ctx context.Context, opts StartOptions) (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(protectedDir(opts.Home), 0o755); err != nil {
		return 0, err
	}
	if st, _ := Status(ctx, opts.Home); st.Running {
		return 0, fmt.Errorf("agentorch already running (pid %d)", st.PID)
	}

	stderr, err := os.OpenFile(LogPath(opts.Home), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	// Kept open for child lifetime; closing here may break writes on some platforms.

	args := []string{"daemon", "--home", opts.Home}
	if opts.Host != "" {
		args = append(args, "--host", opts.Host)
	}
	if opts.Port != 0 {
		args = append(args, "--port", strconv.Itoa(opts.Port))
	}
	if opts.Dev {
		args = append(args, "--dev")
	}
	if opts.PprofAddr != "" {
		args = append(args, "--pprof", opts.PprofAddr)
	}
	if opts.ProjectRoot != "" {
		args = append(args, "--project-root", opts.ProjectRoot)
	}
	if !opts.EnableOtel {
		args = append(args, "--otel=false")
	}

	cmd := exec.Command(exe, args...)
	cmd.Env = append(os.Environ(), opts.Config.Environ()...)
	cmd.Stdout = io.Discard
	cmd.Stderr = stderr
	setDaemonSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return 0, err
	}

	// Wait briefly for pid file to appear or process to die.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st, _ := Status(ctx, opts.Home); st.Running {
			return st.PID, nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return cmd.Process.Pid, nil
}

// Stop sends the daemon a termination signal and waits for it to exit. It
// reports false when no daemon was running.
func Stop(ctx context.Context, home string) (bool, error) {
	st, err := Status(ctx, home)
	if err != nil {
		return false, err
	}
	if !st.Running {
		return false, nil
	}

	proc, err := os.FindProcess(st.PID)
	if err != nil {
		return false, errNotRunning
	}
	if err := signalTerm(proc); err != nil {
		return false, err
	}

	// The daemon itself waits up to shutdownTimeout for runs to drain.
	deadline := time.Now().Add(shutdownTimeout + 5*time.Second)
	for time.Now().Before(deadline) {
		if st2, _ := Status(ctx, home); !st2.Running {
			return true, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}

	_ = proc.Kill()
	return true, nil
}

// Status reads the pid and address files. A stale pid file is removed.
func Status(ctx context.Context, home string) (StatusInfo, error) {
	pb, err := os.ReadFile(pidPath(home))
	if err != nil {
		return StatusInfo{Running: false}, nil
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(pb)))
	if err != nil || pid <= 0 {
		return StatusInfo{Running: false}, nil
	}
	if !processExists(pid) {
		_ = os.Remove(pidPath(home))
		return StatusInfo{Running: false}, nil
	}

	addr := ""
	if ab, err := os.ReadFile(addrPath(home)); err == nil {
		addr = strings.TrimSpace(string(ab))
	}
	if addr == "" {
		addr = "unknown"
	}
	return StatusInfo{Running: true, PID: pid, Addr: addr}, nil
}

// ServerURL returns the base URL of the running daemon for home.
func ServerURL(ctx context.Context, home string) (string, error) {
	st, err := Status(ctx, home)
	if err != nil {
		return "", err
	}
	if !st.Running || st.Addr == "unknown" {
		return "", errNotRunning
	}
	return "http://" + st.Addr, nil
}

func checkPortAvailable(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("address %s is already in use", addr)
	}
	_ = ln.Close()
	return nil
}
