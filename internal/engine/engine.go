// Package engine assembles the store, catalog, mailbox and orchestrator into
// one unit shared by the HTTP server, the MCP server and local CLI commands.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/ankittk/agentorch/internal/agent/runtime"
	"github.com/ankittk/agentorch/internal/catalog"
	"github.com/ankittk/agentorch/internal/config"
	"github.com/ankittk/agentorch/internal/mailbox"
	"github.com/ankittk/agentorch/internal/orchestrator"
	"github.com/ankittk/agentorch/internal/otel"
	"github.com/ankittk/agentorch/internal/sandbox"
	"github.com/ankittk/agentorch/internal/store"
	"github.com/ankittk/agentorch/internal/store/postgres"
	"github.com/ankittk/agentorch/pkg/models"
)

// Options configures Open.
type Options struct {
	Home   string
	Config config.Config
	Log    *slog.Logger
	// Store replaces the store selected by Config.DBDriver.
	Store store.Store
}

// Engine is a fully wired orchestration engine.
type Engine struct {
	Home      string
	Config    config.Config
	Store     store.Store
	Registry  *catalog.Registry
	Discovery catalog.Discovery
	Mail      *mailbox.Router
	Orch      *orchestrator.Orchestrator

	log  *slog.Logger
	mu   sync.RWMutex
	subs map[int]func(runtime.Event)
	next int
}

// Open loads the catalog, opens the store and wires the components.
func Open(ctx context.Context, opts Options) (*Engine, error) {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	cfg := opts.Config
	reg, err := catalog.NewRegistry(cfg.Catalog, log)
	if err != nil {
		return nil, err
	}
	warnShadowed(log, reg.Current())
	st := opts.Store
	if st == nil {
		if st, err = openStore(ctx, opts.Home, cfg); err != nil {
			return nil, err
		}
	}
	e := &Engine{
		Home:      opts.Home,
		Config:    cfg,
		Store:     st,
		Registry:  reg,
		Discovery: catalog.Discovery{Registry: reg},
		log:       log,
		subs:      make(map[int]func(runtime.Event)),
	}
	e.Mail = mailbox.New(st, mailbox.WithLogger(log), mailbox.WithNotify(e.messageStored))
	sp := runtime.NewSpawner(runtime.Options{
		Binary:     cfg.WorkerBinary,
		ConfigDir:  filepath.Dir(cfg.Catalog),
		Bubblewrap: cfg.Bubblewrap,
		Log:        log,
	})
	e.Orch = orchestrator.New(reg, sp, st, e.Mail, orchestrator.Config{
		MaxConcurrent: cfg.MaxConcurrent,
		Grace:         cfg.GracePeriod,
		CallbackGroup: cfg.CallbackGroup,
	}, orchestrator.WithLogger(log), orchestrator.WithEvents(e.publish))
	log.Info("engine ready", "catalog", cfg.Catalog, "types", reg.Current().Len(), "db", cfg.DBDriver)
	return e, nil
}

func openStore(ctx context.Context, home string, cfg config.Config) (store.Store, error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		pg, err := postgres.Open(ctx, postgres.Options{DSN: cfg.DatabaseURL, MaxConcurrent: cfg.MaxConcurrent})
		if err != nil {
			return nil, err
		}
		return pg, nil
	case config.DriverSQLite, "":
		if home == "" {
			return nil, errors.New("engine: home is required for the sqlite store")
		}
		return store.Open(home)
	}
	return nil, fmt.Errorf("engine: unknown db driver %q", cfg.DBDriver)
}

// Subscribe registers fn for run and message events and returns a function
// that removes it. fn must not block.
func (e *Engine) Subscribe(fn func(runtime.Event)) (cancel func()) {
	e.mu.Lock()
	id := e.next
	e.next++
	e.subs[id] = fn
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

func (e *Engine) publish(ev runtime.Event) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, fn := range e.subs {
		fn(ev)
	}
}

func (e *Engine) messageStored(m models.Message) {
	kind := "broadcast"
	switch {
	case m.ToRunID != nil:
		kind = "run"
	case m.ToGroup != nil:
		kind = "group"
	}
	otel.RecordMessage(context.Background(), kind)
	data := map[string]any{
		"message_id":   m.MessageID,
		"message_type": m.MessageType,
		"priority":     m.Priority,
		"subject":      m.Subject,
	}
	if m.ToRunID != nil {
		data["to_run_id"] = *m.ToRunID
	}
	if m.ToGroup != nil {
		data["to_group"] = *m.ToGroup
	}
	var from string
	if m.FromRunID != nil {
		from = *m.FromRunID
	}
	e.publish(runtime.Event{Type: runtime.EventMessage, RunID: from, Timestamp: m.CreatedAt.UTC(), Data: data})
}

// ReloadCatalog re-reads the catalog file. On error the previous catalog
// stays in effect.
func (e *Engine) ReloadCatalog(ctx context.Context) (*catalog.Catalog, error) {
	c, err := e.Registry.Reload()
	otel.RecordCatalogReload(ctx, err == nil)
	if err == nil {
		warnShadowed(e.log, c)
	}
	return c, err
}

// warnShadowed logs allow entries that a deny pattern makes useless.
func warnShadowed(log *slog.Logger, c *catalog.Catalog) {
	for _, spec := range c.Specs() {
		for _, p := range sandbox.Shadowed(spec) {
			log.Warn("allowed tool is always denied", "agent_type", spec.Name, "tool", p.String())
		}
	}
}

// RecoverRuns fails runs a previous process left unfinished. Their workers
// died with it, so they can never report.
func (e *Engine) RecoverRuns(ctx context.Context) (int, error) {
	var n int
	for _, status := range []string{models.RunSpawning, models.RunRunning} {
		runs, err := e.Store.ListRuns(ctx, store.RunFilter{Status: status, Limit: 10000})
		if err != nil {
			return n, err
		}
		for _, r := range runs {
			msg := "orchestrator restarted before the worker finished"
			err := e.Store.FinishRun(ctx, r.RunID, store.RunFinish{
				Status:    models.RunFailed,
				Error:     &msg,
				Workspace: r.Workspace,
				EndedAt:   time.Now(),
			})
			if err != nil && !errors.Is(err, store.ErrTerminal) {
				return n, err
			}
			n++
		}
	}
	if n > 0 {
		e.log.Warn("recovered interrupted runs", "count", n)
	}
	return n, nil
}

// Close cancels async runs, waits for them up to ctx, and closes the store.
func (e *Engine) Close(ctx context.Context) error {
	err := e.Orch.Shutdown(ctx)
	if cerr := e.Store.Close(); err == nil {
		err = cerr
	}
	return err
}
