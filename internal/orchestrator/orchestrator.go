// Package orchestrator spawns worker runs: it resolves a worker type to a
// sandboxed invocation, supervises the process and records the result.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ankittk/agentorch/internal/agent/runtime"
	"github.com/ankittk/agentorch/internal/catalog"
	"github.com/ankittk/agentorch/internal/mailbox"
	"github.com/ankittk/agentorch/internal/otel"
	"github.com/ankittk/agentorch/internal/sandbox"
	"github.com/ankittk/agentorch/internal/store"
	"github.com/ankittk/agentorch/pkg/models"
)

var (
	ErrEmptyTask     = errors.New("task is required")
	ErrShuttingDown  = errors.New("orchestrator is shutting down")
	ErrNoProjectRoot = errors.New("project root is required")
)

// Request asks for one worker run.
type Request struct {
	TypeName    string
	Task        string
	ProjectRoot string
	// Timeout overrides the spec's recommended timeout when > 0.
	Timeout time.Duration
	// CallbackGroup receives the completion message of an async run.
	CallbackGroup string
}

// RequestFrom converts an API spawn request.
func RequestFrom(req models.SpawnRequest) Request {
	return Request{
		TypeName:      req.AgentType,
		Task:          req.Task,
		ProjectRoot:   req.ProjectRoot,
		Timeout:       catalog.TimeoutFromSeconds(req.TimeoutSeconds),
		CallbackGroup: req.CallbackGroup,
	}
}

// Config tunes the orchestrator.
type Config struct {
	MaxConcurrent int
	Grace         time.Duration
	// CallbackGroup is the default group for async completion messages.
	CallbackGroup string
}

// Orchestrator runs workers. Spawn never returns an error: every failure is
// reported in the result and, once a run id is assigned, in the run record.
type Orchestrator struct {
	registry *catalog.Registry
	spawner  *runtime.Spawner
	super    runtime.Supervisor
	runs     store.RunStore
	mail     *mailbox.Router
	sem      *semaphore.Weighted
	cfg      Config
	log      *slog.Logger
	emit     func(runtime.Event)

	// async runs outlive the request that started them
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	closed  bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(o *Orchestrator) { o.log = l } }

// WithEvents registers a sink for run lifecycle events.
func WithEvents(fn func(runtime.Event)) Option { return func(o *Orchestrator) { o.emit = fn } }

// New wires an orchestrator. mail may be nil, in which case async runs do
// not report completion.
func New(reg *catalog.Registry, sp *runtime.Spawner, runs store.RunStore, mail *mailbox.Router, cfg Config, opts ...Option) *Orchestrator {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = models.DefaultMaxConcurrent
	}
	if cfg.Grace <= 0 {
		cfg.Grace = runtime.DefaultGrace
	}
	if cfg.CallbackGroup == "" {
		cfg.CallbackGroup = models.DefaultCallbackGroup
	}
	o := &Orchestrator{
		registry: reg,
		spawner:  sp,
		runs:     runs,
		mail:     mail,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		cfg:      cfg,
		log:      slog.Default(),
		emit:     func(runtime.Event) {},
	}
	for _, opt := range opts {
		opt(o)
	}
	o.super = runtime.Supervisor{Grace: cfg.Grace, Log: o.log}
	o.baseCtx, o.cancel = context.WithCancel(context.Background())
	return o
}

// run is a request whose spec has been resolved and whose record exists.
type run struct {
	id      string
	spec    catalog.WorkerSpec
	req     Request
	timeout time.Duration
}

// Spawn runs one worker to completion and returns its result.
func (o *Orchestrator) Spawn(ctx context.Context, req Request) models.Result {
	r, err := o.prepare(ctx, req)
	if err != nil {
		return runtime.FailedResult("", req.TypeName, err)
	}
	return o.execute(ctx, r)
}

// SpawnAsync records the run and starts it in the background. When it
// finishes a status_update message is sent to the callback group.
func (o *Orchestrator) SpawnAsync(ctx context.Context, req Request) (models.SpawnAccepted, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return models.SpawnAccepted{}, ErrShuttingDown
	}
	if req.CallbackGroup == "" {
		req.CallbackGroup = o.cfg.CallbackGroup
	}
	r, err := o.prepare(ctx, req)
	if err != nil {
		return models.SpawnAccepted{}, err
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		result := o.execute(o.baseCtx, r)
		o.notifyCompletion(r, result)
	}()
	return models.SpawnAccepted{RunID: r.id, AgentType: r.spec.Name, Status: models.RunSpawning, CallbackGroup: req.CallbackGroup}, nil
}

// SpawnBatch runs reqs concurrently, bounded by the concurrency limit, and
// returns results in request order. One failing worker does not affect the
// others.
func (o *Orchestrator) SpawnBatch(ctx context.Context, reqs []Request) []models.Result {
	results := make([]models.Result, len(reqs))
	var g errgroup.Group
	for i, req := range reqs {
		g.Go(func() error {
			results[i] = o.Spawn(ctx, req)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Shutdown stops accepting async runs, cancels the ones in flight (their
// workers are terminated through the normal grace path) and waits for them.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.cancel()
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// prepare resolves the spec and records the run. Requests that fail here
// never get a run id and never start a process.
func (o *Orchestrator) prepare(ctx context.Context, req Request) (run, error) {
	spec, err := o.registry.Current().Lookup(req.TypeName)
	if err != nil {
		return run{}, err
	}
	if strings.TrimSpace(req.Task) == "" {
		return run{}, ErrEmptyTask
	}
	if strings.TrimSpace(req.ProjectRoot) == "" {
		return run{}, ErrNoProjectRoot
	}
	r := run{id: uuid.NewString(), spec: spec, req: req, timeout: req.Timeout}
	if r.timeout <= 0 {
		r.timeout = spec.Timeout()
	}
	var group *string
	if req.CallbackGroup != "" {
		g := req.CallbackGroup
		group = &g
	}
	if err := o.runs.CreateRun(ctx, store.NewRun{RunID: r.id, TypeName: spec.Name, Task: req.Task, CallbackGroup: group, CreatedAt: time.Now()}); err != nil {
		o.log.Error("record run", "run_id", r.id, "err", err)
	}
	return r, nil
}

func (o *Orchestrator) execute(ctx context.Context, r run) models.Result {
	log := o.log.With("run_id", r.id, "agent_type", r.spec.Name)
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return o.fail(ctx, r, "", fmt.Errorf("run cancelled while waiting for a worker slot: %w", err))
	}
	defer o.sem.Release(1)

	workspace, err := sandbox.Resolve(r.spec, r.req.ProjectRoot)
	if err != nil {
		return o.fail(ctx, r, "", err)
	}
	root, err := sandbox.Resolve(catalog.WorkerSpec{Name: r.spec.Name, SandboxTemplate: "{root}"}, r.req.ProjectRoot)
	if err != nil {
		return o.fail(ctx, r, workspace, err)
	}
	jail, err := sandbox.NewJail(r.spec, root, workspace)
	if err != nil {
		return o.fail(ctx, r, workspace, err)
	}
	inv := o.spawner.Invocation(r.id, r.spec, r.req.Task, jail)
	h, err := o.spawner.Start(inv)
	if err != nil {
		return o.fail(ctx, r, workspace, err)
	}
	otel.RunStarted()
	defer otel.RunEnded()
	if err := o.runs.MarkRunning(context.WithoutCancel(ctx), r.id, workspace, h.StartedAt); err != nil {
		log.Error("mark run running", "err", err)
	}
	log.Info("worker started", "pid", h.PID, "workspace", workspace, "timeout", r.timeout)
	o.emit(runtime.Event{Type: runtime.EventRunStarted, RunID: r.id, TypeName: r.spec.Name, Timestamp: time.Now().UTC(),
		Data: map[string]any{"workspace": workspace, "pid": h.PID}})

	outcome := o.super.Supervise(ctx, h, r.timeout)
	res := runtime.BuildResult(r.id, r.spec, inv, outcome)
	o.finish(ctx, r, res, outcome.EndedAt)
	log.Info("worker finished", "status", res.Status, "exit_code", outcome.ExitCode, "elapsed", outcome.Elapsed)
	return res
}

func (o *Orchestrator) fail(ctx context.Context, r run, workspace string, err error) models.Result {
	o.log.Warn("run failed before start", "run_id", r.id, "agent_type", r.spec.Name, "err", err)
	res := runtime.FailedResult(r.id, r.spec.Name, err)
	res.Workspace = workspace
	o.finish(ctx, r, res, time.Now())
	return res
}

func (o *Orchestrator) finish(ctx context.Context, r run, res models.Result, ended time.Time) {
	// the record must land even when the caller's context is gone
	err := o.runs.FinishRun(context.WithoutCancel(ctx), r.id, store.RunFinish{
		Status:           res.Status,
		ExitCode:         res.ExitCode,
		Output:           res.Output,
		Error:            res.Error,
		Workspace:        res.Workspace,
		ExecutionSeconds: res.ExecutionTimeSeconds,
		EstimatedCost:    res.EstimatedCost,
		EndedAt:          ended,
	})
	if err != nil {
		o.log.Error("record run result", "run_id", r.id, "err", err)
	}
	otel.RecordRun(ctx, r.spec.Name, res.Status, time.Duration(res.ExecutionTimeSeconds*float64(time.Second)))
	o.emit(runtime.Event{Type: runtime.EventRunFinished, RunID: r.id, TypeName: r.spec.Name, Timestamp: time.Now().UTC(),
		Data: map[string]any{"status": res.Status, "success": res.Success, "execution_time_seconds": res.ExecutionTimeSeconds}})
}

func (o *Orchestrator) notifyCompletion(r run, res models.Result) {
	if o.mail == nil {
		return
	}
	body := fmt.Sprintf("Agent %s %s in %.1fs.", r.spec.Name, res.Status, res.ExecutionTimeSeconds)
	if res.Output != nil {
		body += "\n\n" + *res.Output
	}
	if res.Error != nil {
		body += "\n\nError: " + *res.Error
	}
	_, err := o.mail.Send(context.Background(), mailbox.Envelope{
		FromRun: r.id,
		ToGroup: r.req.CallbackGroup,
		Type:    models.TypeStatusUpdate,
		Subject: "Async Task Complete: " + r.id,
		Body:    body,
		Metadata: map[string]any{
			"run_id":                 r.id,
			"agent_type":             r.spec.Name,
			"success":                res.Success,
			"status":                 res.Status,
			"execution_time_seconds": res.ExecutionTimeSeconds,
			"estimated_cost_usd":     res.EstimatedCost,
		},
	})
	if err != nil {
		o.log.Error("send completion message", "run_id", r.id, "err", err)
	}
}

// Run returns a run record.
func (o *Orchestrator) Run(ctx context.Context, runID string) (models.Run, error) {
	return o.runs.GetRun(ctx, runID)
}

// ListRuns returns recent runs, newest first.
func (o *Orchestrator) ListRuns(ctx context.Context, f store.RunFilter) ([]models.Run, error) {
	return o.runs.ListRuns(ctx, f)
}

// Stats aggregates runs per worker type over the last days (0 = all time).
func (o *Orchestrator) Stats(ctx context.Context, days int) ([]models.RunStats, error) {
	var since time.Time
	if days > 0 {
		since = time.Now().AddDate(0, 0, -days)
	}
	return o.runs.RunStats(ctx, since)
}

// Registry returns the catalog registry the orchestrator resolves against.
func (o *Orchestrator) Registry() *catalog.Registry { return o.registry }
