package mcp

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ankittk/agentorch/internal/catalog"
	"github.com/ankittk/agentorch/internal/mailbox"
	"github.com/ankittk/agentorch/internal/orchestrator"
	"github.com/ankittk/agentorch/internal/store"
	"github.com/ankittk/agentorch/pkg/models"
)

var messageTypes = []string{
	models.TypeNotification,
	models.TypeStatusUpdate,
	models.TypeQuestion,
	models.TypeBroadcast,
	models.TypeTaskRequest,
}

var priorities = []string{models.PriorityUrgent, models.PriorityNormal, models.PriorityLow}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcplib.NewTool("spawn_agent",
			mcplib.WithDescription(`Run a worker of the given agent type on a task and wait for it to finish.

The worker runs in its own sandboxed directory under project_root with the
tools, model and permissions of its type. Use search_agent_types or
recommend_agent first when you are unsure which type fits.

Returns success, output (on success) or error, the workspace, the execution
time and an estimated cost.`),
			mcplib.WithDestructiveHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("agent_type", mcplib.Description("Worker type name from the catalog"), mcplib.Required()),
			mcplib.WithString("task", mcplib.Description("What the worker should do"), mcplib.Required()),
			mcplib.WithString("project_root", mcplib.Description("Project directory the sandbox is resolved against. Defaults to the server's project root.")),
			mcplib.WithNumber("timeout", mcplib.Description("Timeout in seconds. Defaults to the type's recommended timeout."), mcplib.Min(1)),
		),
		s.handleSpawn,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("spawn_agent_async",
			mcplib.WithDescription(`Start a worker in the background and return its run id immediately.

When the worker finishes, a status_update message with subject
"Async Task Complete: <run_id>" is sent to callback_group. Poll check_inbox
with that group to collect results.`),
			mcplib.WithDestructiveHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("agent_type", mcplib.Description("Worker type name from the catalog"), mcplib.Required()),
			mcplib.WithString("task", mcplib.Description("What the worker should do"), mcplib.Required()),
			mcplib.WithString("project_root", mcplib.Description("Project directory the sandbox is resolved against")),
			mcplib.WithNumber("timeout", mcplib.Description("Timeout in seconds"), mcplib.Min(1)),
			mcplib.WithString("callback_group", mcplib.Description("Group that receives the completion message"), mcplib.DefaultString(models.DefaultCallbackGroup)),
		),
		s.handleSpawnAsync,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("search_agent_types",
			mcplib.WithDescription("Search the worker catalog by keywords matched against names, descriptions and use cases. An empty query lists every type."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("query", mcplib.Description("Keywords, e.g. \"security review\"")),
			mcplib.WithString("detail_level",
				mcplib.Description("How much of each type to return"),
				mcplib.Enum(string(catalog.DetailName), string(catalog.DetailSummary), string(catalog.DetailFull)),
				mcplib.DefaultString(string(catalog.DetailSummary)),
			),
		),
		s.handleSearch,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("list_agent_types",
			mcplib.WithDescription("List every worker type in catalog order with its model, cost per task, timeout and whether it is read-only."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
		),
		s.handleListTypes,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("recommend_agent",
			mcplib.WithDescription("Recommend the best worker type for a task description, with its model, cost and whether it is read-only."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("task", mcplib.Description("Task description"), mcplib.Required()),
		),
		s.handleRecommend,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("send_message",
			mcplib.WithDescription("Send a message to one run (to_run_id) or a group (to_group). Leave both empty to broadcast."),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("body", mcplib.Description("Message body"), mcplib.Required()),
			mcplib.WithString("subject", mcplib.Description("Short subject")),
			mcplib.WithString("to_run_id", mcplib.Description("Recipient run")),
			mcplib.WithString("to_group", mcplib.Description("Recipient group")),
			mcplib.WithString("from_run_id", mcplib.Description("Sender run. Defaults to the caller's run.")),
			mcplib.WithString("message_type", mcplib.Enum(messageTypes...), mcplib.DefaultString(models.TypeNotification)),
			mcplib.WithString("priority", mcplib.Enum(priorities...), mcplib.DefaultString(models.PriorityNormal)),
			mcplib.WithObject("metadata", mcplib.Description("Free-form JSON object stored with the message")),
		),
		s.handleSend,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("broadcast",
			mcplib.WithDescription("Send a message every reader sees, whatever run or group they check as."),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("body", mcplib.Description("Message body"), mcplib.Required()),
			mcplib.WithString("subject", mcplib.Description("Short subject")),
			mcplib.WithString("priority", mcplib.Enum(priorities...), mcplib.DefaultString(models.PriorityNormal)),
		),
		s.handleBroadcast,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("check_inbox",
			mcplib.WithDescription(`List messages addressed to a run and/or a group, oldest first. Broadcasts are
included unless include_broadcasts is false. With neither run_id nor group,
returns group and broadcast messages. Checking does not mark anything read.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("run_id", mcplib.Description("Read as this run. Defaults to the caller's run.")),
			mcplib.WithString("group", mcplib.Description("Read as this group")),
			mcplib.WithBoolean("include_broadcasts", mcplib.Description("Include broadcast messages"), mcplib.DefaultBool(true)),
			mcplib.WithBoolean("include_read", mcplib.Description("Include messages already read")),
			mcplib.WithNumber("limit", mcplib.Description("Return at most this many, oldest first. Omit for all."), mcplib.Min(1)),
		),
		s.handleCheckInbox,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("mark_read",
			mcplib.WithDescription("Mark a message read. Marking twice is harmless."),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("message_id", mcplib.Required()),
		),
		s.handleMarkRead,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("acknowledge",
			mcplib.WithDescription("Mark a message as handled."),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("message_id", mcplib.Required()),
		),
		s.handleAcknowledge,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("reply_to",
			mcplib.WithDescription("Reply to a message. The reply goes to the run that sent it, and the original is marked read."),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("message_id", mcplib.Required()),
			mcplib.WithString("body", mcplib.Required()),
			mcplib.WithString("from_run_id", mcplib.Description("Sender run. Defaults to the caller's run.")),
		),
		s.handleReply,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("get_agent_stats",
			mcplib.WithDescription("Per worker type run counts, success and timeout totals, average duration and total cost."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithNumber("days", mcplib.Description("Look back this many days; 0 means all time"), mcplib.Min(0), mcplib.DefaultNumber(7)),
			mcplib.WithString("agent_type", mcplib.Description("Only report this worker type")),
		),
		s.handleStats,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("get_active_sessions",
			mcplib.WithDescription("List runs that are still spawning or running, newest first."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("agent_type", mcplib.Description("Only list runs of this worker type")),
		),
		s.handleActiveSessions,
	)
}

func (s *Server) spawnRequest(request mcplib.CallToolRequest) orchestrator.Request {
	root := request.GetString("project_root", "")
	if root == "" {
		root = s.opts.ProjectRoot
	}
	return orchestrator.Request{
		TypeName:      request.GetString("agent_type", ""),
		Task:          request.GetString("task", ""),
		ProjectRoot:   root,
		Timeout:       catalog.TimeoutFromSeconds(request.GetInt("timeout", 0)),
		CallbackGroup: request.GetString("callback_group", ""),
	}
}

func (s *Server) handleSpawn(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	// Worker failures are reported in the result body, not as tool errors.
	return jsonResult(s.eng.Orch.Spawn(ctx, s.spawnRequest(request))), nil
}

func (s *Server) handleSpawnAsync(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	acc, err := s.eng.Orch.SpawnAsync(ctx, s.spawnRequest(request))
	if err != nil {
		return errorResult(fmt.Sprintf("spawn failed: %v", err)), nil
	}
	return jsonResult(acc), nil
}

func (s *Server) handleSearch(_ context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	level, err := catalog.ParseDetailLevel(request.GetString("detail_level", ""))
	if err != nil {
		return errorResult(err.Error()), nil
	}
	results := s.eng.Discovery.Search(request.GetString("query", ""), level)
	return jsonResult(map[string]any{"results": results, "total": len(results)}), nil
}

func (s *Server) handleListTypes(context.Context, mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	types := s.eng.Discovery.Types()
	return jsonResult(map[string]any{"types": types, "total": len(types)}), nil
}

func (s *Server) handleRecommend(_ context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	task := request.GetString("task", "")
	if strings.TrimSpace(task) == "" {
		return errorResult("task is required"), nil
	}
	rec, ok := s.eng.Discovery.Recommend(task)
	if !ok {
		return jsonResult(map[string]any{"found": false, "available": s.eng.Registry.Current().Names()}), nil
	}
	return jsonResult(rec), nil
}

func (s *Server) sender(request mcplib.CallToolRequest) string {
	if from := request.GetString("from_run_id", ""); from != "" {
		return from
	}
	return s.opts.RunID
}

func (s *Server) handleSend(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	var metadata map[string]any
	if raw, ok := request.GetArguments()["metadata"]; ok && raw != nil {
		if metadata, ok = raw.(map[string]any); !ok {
			return errorResult("metadata must be a JSON object"), nil
		}
	}
	id, err := s.eng.Mail.Send(ctx, mailbox.Envelope{
		FromRun:  s.sender(request),
		ToRun:    request.GetString("to_run_id", ""),
		ToGroup:  request.GetString("to_group", ""),
		Type:     request.GetString("message_type", ""),
		Priority: request.GetString("priority", ""),
		Subject:  request.GetString("subject", ""),
		Body:     request.GetString("body", ""),
		Metadata: metadata,
	})
	if err != nil {
		return errorResult(fmt.Sprintf("send failed: %v", err)), nil
	}
	return jsonResult(models.MessageAccepted{MessageID: id}), nil
}

func (s *Server) handleBroadcast(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id, err := s.eng.Mail.Broadcast(ctx, s.opts.RunID, request.GetString("subject", ""), request.GetString("body", ""), request.GetString("priority", ""))
	if err != nil {
		return errorResult(fmt.Sprintf("broadcast failed: %v", err)), nil
	}
	return jsonResult(models.MessageAccepted{MessageID: id}), nil
}

func (s *Server) handleCheckInbox(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	runID := request.GetString("run_id", "")
	group := request.GetString("group", "")
	if runID == "" && group == "" {
		runID = s.opts.RunID
	}
	msgs, err := s.eng.Mail.CheckInbox(ctx, mailbox.Query{
		RunID:             runID,
		Group:             group,
		ExcludeBroadcasts: !request.GetBool("include_broadcasts", true),
		IncludeRead:       request.GetBool("include_read", false),
		Limit:             request.GetInt("limit", 0),
	})
	if err != nil {
		return errorResult(fmt.Sprintf("check inbox failed: %v", err)), nil
	}
	return jsonResult(map[string]any{"messages": msgs, "total": len(msgs)}), nil
}

func (s *Server) handleMarkRead(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	return s.transition(ctx, request, s.eng.Mail.MarkRead, models.MessageRead)
}

func (s *Server) handleAcknowledge(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	return s.transition(ctx, request, s.eng.Mail.Acknowledge, models.MessageAcknowledged)
}

func (s *Server) transition(ctx context.Context, request mcplib.CallToolRequest, fn func(context.Context, string) error, status string) (*mcplib.CallToolResult, error) {
	id := request.GetString("message_id", "")
	if id == "" {
		return errorResult("message_id is required"), nil
	}
	if err := fn(ctx, id); err != nil {
		if errors.Is(err, mailbox.ErrNotFound) {
			return errorResult("message not found: " + id), nil
		}
		return errorResult(err.Error()), nil
	}
	return jsonResult(map[string]any{"message_id": id, "status": status}), nil
}

func (s *Server) handleReply(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id := request.GetString("message_id", "")
	if id == "" {
		return errorResult("message_id is required"), nil
	}
	replyID, err := s.eng.Mail.Reply(ctx, id, s.sender(request), request.GetString("body", ""))
	if err != nil {
		return errorResult(fmt.Sprintf("reply failed: %v", err)), nil
	}
	return jsonResult(models.MessageAccepted{MessageID: replyID}), nil
}

func (s *Server) handleStats(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	stats, err := s.eng.Orch.Stats(ctx, request.GetInt("days", 7))
	if err != nil {
		return errorResult(fmt.Sprintf("stats failed: %v", err)), nil
	}
	if typeName := request.GetString("agent_type", ""); typeName != "" {
		filtered := stats[:0]
		for _, st := range stats {
			if st.TypeName == typeName {
				filtered = append(filtered, st)
			}
		}
		stats = filtered
	}
	return jsonResult(map[string]any{"stats": stats}), nil
}

func (s *Server) handleActiveSessions(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	typeName := request.GetString("agent_type", "")
	var active []models.Run
	for _, status := range []string{models.RunRunning, models.RunSpawning} {
		runs, err := s.eng.Orch.ListRuns(ctx, store.RunFilter{TypeName: typeName, Status: status})
		if err != nil {
			return errorResult(fmt.Sprintf("list runs failed: %v", err)), nil
		}
		active = append(active, runs...)
	}
	sort.SliceStable(active, func(i, j int) bool { return active[i].CreatedAt.After(active[j].CreatedAt) })
	return jsonResult(map[string]any{"sessions": active, "total": len(active)}), nil
}
