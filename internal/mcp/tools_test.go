package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ankittk/agentorch/internal/config"
	"github.com/ankittk/agentorch/internal/engine"
	"github.com/ankittk/agentorch/internal/store"
	"github.com/ankittk/agentorch/pkg/models"
)

const testCatalog = `agent_types:
  coder:
    model: sonnet
    description: Writes and refactors Go code
    use_cases: [implement features, fix bugs]
    sandbox_template: "{root}"
    recommended_timeout_seconds: 30
    cost_profile:
      cost_per_task: 0.2
  security-reviewer:
    model: sonnet
    description: Audits code for security vulnerabilities
    use_cases: [security review, dependency audit]
    sandbox_template: "{root}"
    read_only: true
    recommended_timeout_seconds: 30
`

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake worker needs a unix shell")
	}
	home := t.TempDir()
	bin := filepath.Join(home, "worker.sh")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\ncat >/dev/null\necho worker done\n"), 0o755))
	path := filepath.Join(home, "agent_types.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testCatalog), 0o644))
	eng, err := engine.Open(context.Background(), engine.Options{
		Home: home,
		Config: config.Config{
			Catalog:       path,
			WorkerBinary:  bin,
			MaxConcurrent: 2,
			GracePeriod:   time.Second,
			DBDriver:      config.DriverSQLite,
			CallbackGroup: models.DefaultCallbackGroup,
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close(context.Background()) })
	root := t.TempDir()
	return New(eng, Options{ProjectRoot: root, RunID: "caller-run"}), root
}

func call(name string, args map[string]any) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// parseToolText extracts the first TextContent text from a CallToolResult.
func parseToolText(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	for _, c := range result.Content {
		if tc, ok := c.(mcplib.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no TextContent found in tool result")
	return ""
}

func decode(t *testing.T, result *mcplib.CallToolResult, v any) {
	t.Helper()
	require.False(t, result.IsError, parseToolText(t, result))
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), v))
}

func TestHandleSpawn(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	result, err := s.handleSpawn(ctx, call("spawn_agent", map[string]any{"agent_type": "coder", "task": "add tests"}))
	require.NoError(t, err)
	var res models.Result
	decode(t, result, &res)
	assert.True(t, res.Success)
	require.NotNil(t, res.Output)
	assert.Contains(t, *res.Output, "worker done")
	assert.NotEmpty(t, res.RunID)

	result, err = s.handleSpawn(ctx, call("spawn_agent", map[string]any{"agent_type": "ghost", "task": "x"}))
	require.NoError(t, err)
	decode(t, result, &res)
	assert.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Contains(t, *res.Error, "ghost")
}

func TestHandleSpawnAsync_completionInInbox(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	result, err := s.handleSpawnAsync(ctx, call("spawn_agent_async", map[string]any{"agent_type": "coder", "task": "bg", "callback_group": "leads"}))
	require.NoError(t, err)
	var acc models.SpawnAccepted
	decode(t, result, &acc)
	assert.Equal(t, "leads", acc.CallbackGroup)

	require.Eventually(t, func() bool {
		result, err := s.handleCheckInbox(ctx, call("check_inbox", map[string]any{"group": "leads", "include_broadcasts": false}))
		if err != nil || result.IsError {
			return false
		}
		var inbox struct {
			Messages []models.Message `json:"messages"`
		}
		if json.Unmarshal([]byte(parseToolText(t, result)), &inbox) != nil || len(inbox.Messages) != 1 {
			return false
		}
		return inbox.Messages[0].Subject == "Async Task Complete: "+acc.RunID
	}, 10*time.Second, 50*time.Millisecond)

	result, err = s.handleSpawnAsync(ctx, call("spawn_agent_async", map[string]any{"agent_type": "ghost", "task": "bg"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleSearchAndRecommend(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	result, err := s.handleSearch(ctx, call("search_agent_types", map[string]any{"query": "security", "detail_level": "name"}))
	require.NoError(t, err)
	var found struct {
		Results []struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		} `json:"results"`
		Total int `json:"total"`
	}
	decode(t, result, &found)
	require.Equal(t, 1, found.Total)
	assert.Equal(t, "security-reviewer", found.Results[0].Name)
	assert.Empty(t, found.Results[0].Description)

	result, err = s.handleSearch(ctx, call("search_agent_types", map[string]any{"detail_level": "verbose"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = s.handleRecommend(ctx, call("recommend_agent", map[string]any{"task": "fix bugs in the parser"}))
	require.NoError(t, err)
	var rec map[string]any
	decode(t, result, &rec)
	assert.Equal(t, "coder", rec["agent"])

	result, err = s.handleRecommend(ctx, call("recommend_agent", map[string]any{"task": "bake bread"}))
	require.NoError(t, err)
	decode(t, result, &rec)
	assert.Equal(t, false, rec["found"])
}

func TestMessagingTools(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	result, err := s.handleSend(ctx, call("send_message", map[string]any{"to_group": "coordinator", "subject": "Blocked", "body": "need a decision", "message_type": "question"}))
	require.NoError(t, err)
	var sent models.MessageAccepted
	decode(t, result, &sent)

	result, err = s.handleSend(ctx, call("send_message", map[string]any{"to_group": "g", "to_run_id": "r", "body": "x"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	// the reply goes back to the caller run, the default sender
	result, err = s.handleReply(ctx, call("reply_to", map[string]any{"message_id": sent.MessageID, "body": "go ahead", "from_run_id": "lead"}))
	require.NoError(t, err)
	var reply models.MessageAccepted
	decode(t, result, &reply)

	result, err = s.handleCheckInbox(ctx, call("check_inbox", map[string]any{"include_broadcasts": false}))
	require.NoError(t, err)
	var inbox struct {
		Messages []models.Message `json:"messages"`
		Total    int              `json:"total"`
	}
	decode(t, result, &inbox)
	require.Equal(t, 1, inbox.Total)
	assert.Equal(t, "Re: Blocked", inbox.Messages[0].Subject)

	result, err = s.handleAcknowledge(ctx, call("acknowledge", map[string]any{"message_id": reply.MessageID}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	result, err = s.handleMarkRead(ctx, call("mark_read", map[string]any{"message_id": "missing"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "not found")

	result, err = s.handleBroadcast(ctx, call("broadcast", map[string]any{"subject": "freeze", "body": "no merges"}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	result, err = s.handleCheckInbox(ctx, call("check_inbox", map[string]any{"group": "anyone"}))
	require.NoError(t, err)
	decode(t, result, &inbox)
	require.Equal(t, 1, inbox.Total)
	assert.Equal(t, "freeze", inbox.Messages[0].Subject)
}

func TestHandleStats(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()
	_, err := s.handleSpawn(ctx, call("spawn_agent", map[string]any{"agent_type": "coder", "task": "one"}))
	require.NoError(t, err)

	result, err := s.handleStats(ctx, call("get_agent_stats", map[string]any{}))
	require.NoError(t, err)
	var out struct {
		Stats []models.RunStats `json:"stats"`
	}
	decode(t, result, &out)
	require.Len(t, out.Stats, 1)
	assert.Equal(t, "coder", out.Stats[0].TypeName)
	assert.EqualValues(t, 1, out.Stats[0].Succeeded)
}

func TestNew_registersTools(t *testing.T) {
	s, _ := newTestServer(t)
	tools := s.MCPServer().ListTools()
	for _, name := range []string{"spawn_agent", "spawn_agent_async", "search_agent_types", "recommend_agent", "send_message", "broadcast", "check_inbox", "mark_read", "acknowledge", "reply_to", "get_agent_stats", "list_agent_types", "get_active_sessions"} {
		assert.Contains(t, tools, name)
	}
}

func TestHandleListTypes(t *testing.T) {
	s, _ := newTestServer(t)
	result, err := s.handleListTypes(context.Background(), call("list_agent_types", nil))
	require.NoError(t, err)
	var out struct {
		Types []struct {
			Name     string `json:"name"`
			ReadOnly bool   `json:"read_only"`
		} `json:"types"`
		Total int `json:"total"`
	}
	decode(t, result, &out)
	require.Equal(t, 2, out.Total)
	assert.Equal(t, "coder", out.Types[0].Name)
	assert.Equal(t, "security-reviewer", out.Types[1].Name)
	assert.True(t, out.Types[1].ReadOnly)
}

func TestHandleSend_metadata(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()
	result, err := s.handleSend(ctx, call("send_message", map[string]any{
		"to_group": "leads",
		"body":     "build finished",
		"metadata": map[string]any{"commit": "abc123"},
	}))
	require.NoError(t, err)
	var sent models.MessageAccepted
	decode(t, result, &sent)
	m, err := s.eng.Mail.Get(ctx, sent.MessageID)
	require.NoError(t, err)
	assert.Equal(t, "abc123", m.Metadata["commit"])

	result, err = s.handleSend(ctx, call("send_message", map[string]any{"to_group": "leads", "body": "x", "metadata": "nope"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleStats_agentTypeFilter(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()
	for _, typ := range []string{"coder", "security-reviewer"} {
		_, err := s.handleSpawn(ctx, call("spawn_agent", map[string]any{"agent_type": typ, "task": "one"}))
		require.NoError(t, err)
	}

	result, err := s.handleStats(ctx, call("get_agent_stats", map[string]any{"agent_type": "security-reviewer"}))
	require.NoError(t, err)
	var out struct {
		Stats []models.RunStats `json:"stats"`
	}
	decode(t, result, &out)
	require.Len(t, out.Stats, 1)
	assert.Equal(t, "security-reviewer", out.Stats[0].TypeName)
}

func TestHandleActiveSessions(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()
	_, err := s.handleSpawn(ctx, call("spawn_agent", map[string]any{"agent_type": "coder", "task": "done already"}))
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, s.eng.Store.CreateRun(ctx, store.NewRun{RunID: "queued", TypeName: "coder", Task: "a", CreatedAt: now}))
	require.NoError(t, s.eng.Store.CreateRun(ctx, store.NewRun{RunID: "busy", TypeName: "security-reviewer", Task: "b", CreatedAt: now.Add(time.Millisecond)}))
	require.NoError(t, s.eng.Store.MarkRunning(ctx, "busy", "/tmp", now))

	result, err := s.handleActiveSessions(ctx, call("get_active_sessions", nil))
	require.NoError(t, err)
	var out struct {
		Sessions []models.Run `json:"sessions"`
		Total    int          `json:"total"`
	}
	decode(t, result, &out)
	require.Equal(t, 2, out.Total)
	assert.Equal(t, "busy", out.Sessions[0].RunID)
	assert.Equal(t, models.RunRunning, out.Sessions[0].Status)
	assert.Equal(t, "queued", out.Sessions[1].RunID)

	result, err = s.handleActiveSessions(ctx, call("get_active_sessions", map[string]any{"agent_type": "coder"}))
	require.NoError(t, err)
	decode(t, result, &out)
	require.Equal(t, 1, out.Total)
	assert.Equal(t, "queued", out.Sessions[0].RunID)
}
