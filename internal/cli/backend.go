package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/ankittk/agentorch/internal/config"
	"github.com/ankittk/agentorch/internal/daemon"
	"github.com/ankittk/agentorch/internal/engine"
	"github.com/ankittk/agentorch/internal/mailbox"
	"github.com/ankittk/agentorch/internal/orchestrator"
	"github.com/ankittk/agentorch/internal/store"
	"github.com/ankittk/agentorch/pkg/client"
	"github.com/ankittk/agentorch/pkg/models"
	"github.com/spf13/cobra"
)

var errAsyncNeedsServer = errors.New("--async needs a running server (agentorch start, or --server): a local run ends with this command")

// backend is what spawn, inbox and runs commands need. It is served either
// by an in-process engine or by a running server over HTTP.
type backend interface {
	Spawn(ctx context.Context, req models.SpawnRequest) (models.Result, error)
	SpawnAsync(ctx context.Context, req models.SpawnRequest) (models.SpawnAccepted, error)
	SpawnBatch(ctx context.Context, reqs []models.SpawnRequest) ([]models.Result, error)
	SendMessage(ctx context.Context, req models.SendMessageRequest) (string, error)
	CheckInbox(ctx context.Context, opts client.InboxOptions) ([]models.Message, error)
	MarkRead(ctx context.Context, messageID string) error
	Acknowledge(ctx context.Context, messageID string) error
	Reply(ctx context.Context, messageID, fromRunID, body string) (string, error)
	GetRun(ctx context.Context, runID string) (models.Run, error)
	ListRuns(ctx context.Context, agentType, status string, limit int) ([]models.Run, error)
	Stats(ctx context.Context, days int) ([]models.RunStats, error)
	Close(ctx context.Context) error
}

// backendFlags choose between a server and a local engine.
type backendFlags struct {
	engineFlags
	server string
	local  bool
}

func (f *backendFlags) register(cmd *cobra.Command) {
	f.engineFlags.register(cmd)
	cmd.Flags().StringVar(&f.server, "server", "", "Server URL (default: the running daemon for --home, env: AGENTORCH_SERVER)")
	cmd.Flags().BoolVar(&f.local, "local", false, "Run an in-process engine even when a daemon is running")
}

// open connects to --server, else to a daemon running for home, else starts
// an in-process engine.
func (f *backendFlags) open(cmd *cobra.Command) (backend, error) {
	ctx := cmd.Context()
	if !f.local {
		url := f.server
		if url == "" {
			url = os.Getenv("AGENTORCH_SERVER")
		}
		if url == "" {
			url, _ = daemon.ServerURL(ctx, config.MustHomeFrom(ctx))
		}
		if url != "" {
			slog.Debug("using server", "url", url)
			return remoteBackend{c: client.New(url, os.Getenv("AGENTORCH_API_KEY"))}, nil
		}
	}
	cfg, err := f.loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	eng, err := engine.Open(ctx, engine.Options{Home: config.MustHomeFrom(ctx), Config: cfg})
	if err != nil {
		return nil, err
	}
	return localBackend{eng: eng}, nil
}

type localBackend struct {
	eng *engine.Engine
}

func (b localBackend) Spawn(ctx context.Context, req models.SpawnRequest) (models.Result, error) {
	return b.eng.Orch.Spawn(ctx, orchestrator.RequestFrom(req)), nil
}

func (b localBackend) SpawnAsync(context.Context, models.SpawnRequest) (models.SpawnAccepted, error) {
	return models.SpawnAccepted{}, errAsyncNeedsServer
}

func (b localBackend) SpawnBatch(ctx context.Context, reqs []models.SpawnRequest) ([]models.Result, error) {
	in := make([]orchestrator.Request, len(reqs))
	for i, r := range reqs {
		in[i] = orchestrator.RequestFrom(r)
	}
	return b.eng.Orch.SpawnBatch(ctx, in), nil
}

func (b localBackend) SendMessage(ctx context.Context, req models.SendMessageRequest) (string, error) {
	return b.eng.Mail.Send(ctx, mailbox.Envelope{
		FromRun:  req.FromRunID,
		ToRun:    req.ToRunID,
		ToGroup:  req.ToGroup,
		Type:     req.MessageType,
		Priority: req.Priority,
		Subject:  req.Subject,
		Body:     req.Body,
		Metadata: req.Metadata,
	})
}

func (b localBackend) CheckInbox(ctx context.Context, opts client.InboxOptions) ([]models.Message, error) {
	return b.eng.Mail.CheckInbox(ctx, mailbox.Query{
		RunID:             opts.RunID,
		Group:             opts.Group,
		ExcludeBroadcasts: opts.ExcludeBroadcasts,
		IncludeRead:       opts.IncludeRead,
		Limit:             opts.Limit,
	})
}

func (b localBackend) MarkRead(ctx context.Context, id string) error {
	return b.eng.Mail.MarkRead(ctx, id)
}

func (b localBackend) Acknowledge(ctx context.Context, id string) error {
	return b.eng.Mail.Acknowledge(ctx, id)
}

func (b localBackend) Reply(ctx context.Context, id, fromRunID, body string) (string, error) {
	return b.eng.Mail.Reply(ctx, id, fromRunID, body)
}

func (b localBackend) GetRun(ctx context.Context, runID string) (models.Run, error) {
	return b.eng.Orch.Run(ctx, runID)
}

func (b localBackend) ListRuns(ctx context.Context, agentType, status string, limit int) ([]models.Run, error) {
	return b.eng.Orch.ListRuns(ctx, store.RunFilter{TypeName: agentType, Status: status, Limit: limit})
}

func (b localBackend) Stats(ctx context.Context, days int) ([]models.RunStats, error) {
	return b.eng.Orch.Stats(ctx, days)
}

func (b localBackend) Close(ctx context.Context) error { return b.eng.Close(ctx) }

type remoteBackend struct {
	c *client.Client
}

func (b remoteBackend) Spawn(ctx context.Context, req models.SpawnRequest) (models.Result, error) {
	res, err := b.c.Spawn(ctx, req)
	if err != nil {
		return models.Result{}, err
	}
	return *res, nil
}

func (b remoteBackend) SpawnAsync(ctx context.Context, req models.SpawnRequest) (models.SpawnAccepted, error) {
	acc, err := b.c.SpawnAsync(ctx, req)
	if err != nil {
		return models.SpawnAccepted{}, err
	}
	return *acc, nil
}

func (b remoteBackend) SpawnBatch(ctx context.Context, reqs []models.SpawnRequest) ([]models.Result, error) {
	return b.c.SpawnBatch(ctx, reqs)
}

func (b remoteBackend) SendMessage(ctx context.Context, req models.SendMessageRequest) (string, error) {
	return b.c.SendMessage(ctx, req)
}

func (b remoteBackend) CheckInbox(ctx context.Context, opts client.InboxOptions) ([]models.Message, error) {
	return b.c.CheckInbox(ctx, opts)
}

func (b remoteBackend) MarkRead(ctx context.Context, id string) error { return b.c.MarkRead(ctx, id) }

func (b remoteBackend) Acknowledge(ctx context.Context, id string) error {
	return b.c.Acknowledge(ctx, id)
}

func (b remoteBackend) Reply(ctx context.Context, id, fromRunID, body string) (string, error) {
	return b.c.Reply(ctx, id, fromRunID, body)
}

func (b remoteBackend) GetRun(ctx context.Context, runID string) (models.Run, error) {
	run, err := b.c.GetRun(ctx, runID)
	if err != nil {
		return models.Run{}, err
	}
	return *run, nil
}

func (b remoteBackend) ListRuns(ctx context.Context, agentType, status string, limit int) ([]models.Run, error) {
	return b.c.ListRuns(ctx, agentType, status, limit)
}

func (b remoteBackend) Stats(ctx context.Context, days int) ([]models.RunStats, error) {
	return b.c.Stats(ctx, days)
}

func (b remoteBackend) Close(context.Context) error { return nil }
