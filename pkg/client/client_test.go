package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ankittk/agentorch/pkg/models"
)

func TestNew(t *testing.T) {
	c := New("http://localhost:3548", "")
	if c.BaseURL != "http://localhost:3548" || c.APIKey != "" {
		t.Errorf("New: %+v", c)
	}
	c2 := New("http://localhost:3548", "secret")
	if c2.APIKey != "secret" {
		t.Errorf("New with key: %+v", c2)
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	ok, err := New(srv.URL, "").Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if !ok {
		t.Fatal("Health: expected ok true")
	}
}

func TestHealth_error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":"down"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "").Health(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Status != http.StatusServiceUnavailable || apiErr.Message != "down" {
		t.Errorf("APIError: %+v", apiErr)
	}
}

func TestClient_setsAPIKeyHeader(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	_, _ = New(srv.URL, "my-key").Health(context.Background())
	if gotKey != "my-key" {
		t.Errorf("X-API-Key: got %q", gotKey)
	}
}

func TestSpawn(t *testing.T) {
	var got models.SpawnRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/runs" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		if got.Async {
			w.WriteHeader(http.StatusAccepted)
			w.Write([]byte(`{"run_id":"r1","agent_type":"coder","status":"running","callback_group":"lead"}`))
			return
		}
		w.Write([]byte(`{"run_id":"r1","agent_type":"coder","status":"succeeded","success":true,"output":"done","error":null}`))
	}))
	defer srv.Close()
	c := New(srv.URL, "")
	ctx := context.Background()

	res, err := c.Spawn(ctx, models.SpawnRequest{AgentType: "coder", Task: "t", ProjectRoot: "/p", Async: true})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if got.Async {
		t.Error("Spawn sent async=true")
	}
	if !res.Success || res.Output == nil || *res.Output != "done" {
		t.Errorf("Spawn result: %+v", res)
	}

	acc, err := c.SpawnAsync(ctx, models.SpawnRequest{AgentType: "coder", Task: "t", ProjectRoot: "/p", CallbackGroup: "lead"})
	if err != nil {
		t.Fatalf("SpawnAsync: %v", err)
	}
	if !got.Async || got.CallbackGroup != "lead" {
		t.Errorf("SpawnAsync request: %+v", got)
	}
	if acc.RunID != "r1" || acc.CallbackGroup != "lead" {
		t.Errorf("SpawnAsync: %+v", acc)
	}
}

func TestCheckInbox_query(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/inbox" || q.Get("group") != "alpha" || q.Get("run_id") != "r1" ||
			q.Get("include_broadcasts") != "false" || q.Get("include_read") != "" || q.Get("limit") != "5" {
			t.Errorf("inbox request: %s", r.URL.String())
		}
		w.Write([]byte(`[{"message_id":"m1","message_type":"question","priority":"urgent","body":"hi","status":"pending","created_at":"2026-01-01T00:00:00Z"}]`))
	}))
	defer srv.Close()

	msgs, err := New(srv.URL, "").CheckInbox(context.Background(), InboxOptions{RunID: "r1", Group: "alpha", ExcludeBroadcasts: true, Limit: 5})
	if err != nil {
		t.Fatalf("CheckInbox: %v", err)
	}
	if len(msgs) != 1 || msgs[0].MessageID != "m1" || msgs[0].MessageType != models.TypeQuestion {
		t.Errorf("CheckInbox: %+v", msgs)
	}
}

func TestMessageLifecycle_paths(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		switch r.URL.Path {
		case "/messages", "/messages/m1/reply":
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"message_id":"m2"}`))
		default:
			w.Write([]byte(`{"ok":true}`))
		}
	}))
	defer srv.Close()
	c := New(srv.URL, "")
	ctx := context.Background()

	id, err := c.SendMessage(ctx, models.SendMessageRequest{ToGroup: "g", Body: "x"})
	if err != nil || id != "m2" {
		t.Fatalf("SendMessage: %q %v", id, err)
	}
	if err := c.MarkRead(ctx, "m1"); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if err := c.Acknowledge(ctx, "m1"); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	if id, err := c.Reply(ctx, "m1", "r9", "ok"); err != nil || id != "m2" {
		t.Fatalf("Reply: %q %v", id, err)
	}
	want := []string{"POST /messages", "POST /messages/m1/read", "POST /messages/m1/ack", "POST /messages/m1/reply"}
	if len(paths) != len(want) {
		t.Fatalf("paths: %v", paths)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("request %d: got %q, want %q", i, paths[i], want[i])
		}
	}
}

func TestGetRun_notFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"not found"}`))
	}))
	defer srv.Close()
	_, err := New(srv.URL, "").GetRun(context.Background(), "nope")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
		t.Fatalf("GetRun: %v", err)
	}
}
