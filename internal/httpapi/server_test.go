package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/ankittk/agentorch/internal/config"
	"github.com/ankittk/agentorch/internal/engine"
	"github.com/ankittk/agentorch/pkg/models"
)

const testCatalog = `agent_types:
  coder:
    model: sonnet
    description: Writes and refactors Go code
    use_cases: [implement features, fix bugs]
    sandbox_template: "{root}/src"
    recommended_timeout_seconds: 30
    cost_profile:
      cost_per_task: 0.2
  reviewer:
    model: sonnet
    description: Reviews pull requests
    sandbox_template: "{root}"
    read_only: true
    recommended_timeout_seconds: 30
`

const fakeWorker = `#!/bin/sh
task=$(cat)
case "$task" in
  *FAIL*) echo "broken" >&2; exit 2;;
esac
echo "done: $(pwd)"
`

type testEnv struct {
	ts   *httptest.Server
	app  *App
	root string
}

func newTestEnv(t *testing.T, opts ServerOptions) *testEnv {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake worker needs a unix shell")
	}
	home := t.TempDir()
	bin := filepath.Join(home, "worker.sh")
	if err := os.WriteFile(bin, []byte(fakeWorker), 0o755); err != nil {
		t.Fatal(err)
	}
	cat := filepath.Join(home, "agent_types.yaml")
	if err := os.WriteFile(cat, []byte(testCatalog), 0o644); err != nil {
		t.Fatal(err)
	}
	eng, err := engine.Open(context.Background(), engine.Options{
		Home: home,
		Config: config.Config{
			Catalog:       cat,
			WorkerBinary:  bin,
			MaxConcurrent: 4,
			GracePeriod:   time.Second,
			DBDriver:      config.DriverSQLite,
			CallbackGroup: models.DefaultCallbackGroup,
		},
	})
	if err != nil {
		t.Fatalf("engine.Open: %v", err)
	}
	opts.Engine = eng
	app, err := NewApp(opts)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	ts := httptest.NewServer(app.Server.Handler)
	t.Cleanup(func() {
		ts.Close()
		_ = app.Shutdown(context.Background())
		_ = eng.Close(context.Background())
	})
	root, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, "src"), 0o755); err != nil {
		t.Fatal(err)
	}
	return &testEnv{ts: ts, app: app, root: root}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestServerSmoke(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, ServerOptions{Addr: "127.0.0.1:0"})

	var health map[string]any
	if code := env.do(t, http.MethodGet, "/health", nil, &health); code != 200 {
		t.Fatalf("/health status=%d", code)
	}
	if health["agent_types"] != float64(2) {
		t.Fatalf("/health: %v", health)
	}

	// SSE should produce initial connected event quickly.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", env.ts.URL+"/stream", nil)
	sseResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /stream: %v", err)
	}
	defer func() { _ = sseResp.Body.Close() }()
	sc := bufio.NewScanner(sseResp.Body)
	found := false
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "data: ") && strings.Contains(line, `"type":"connected"`) {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("did not see connected event")
	}

	// JSON error on not found
	var errBody struct{ Error string }
	if code := env.do(t, http.MethodGet, "/runs/nonexistent", nil, &errBody); code != 404 {
		t.Fatalf("GET /runs/nonexistent status=%d", code)
	}
	if errBody.Error == "" {
		t.Fatalf("expected error message in JSON")
	}
}

func TestCatalogRoutes(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, ServerOptions{})

	var types []map[string]any
	if code := env.do(t, http.MethodGet, "/catalog/types", nil, &types); code != 200 || len(types) != 2 {
		t.Fatalf("/catalog/types: %d %v", code, types)
	}
	if types[0]["name"] != "coder" || types[1]["read_only"] != true {
		t.Fatalf("/catalog/types order or fields: %v", types)
	}

	var hits []map[string]any
	if code := env.do(t, http.MethodGet, "/catalog?q=review&detail=name", nil, &hits); code != 200 || len(hits) != 1 {
		t.Fatalf("/catalog search: %d %v", code, hits)
	}
	if _, ok := hits[0]["description"]; ok {
		t.Fatalf("name detail should omit description: %v", hits[0])
	}
	if code := env.do(t, http.MethodGet, "/catalog?detail=bogus", nil, nil); code != 400 {
		t.Fatalf("bad detail status=%d", code)
	}

	var spec map[string]any
	if code := env.do(t, http.MethodGet, "/catalog/types/coder", nil, &spec); code != 200 || spec["model"] != "sonnet" {
		t.Fatalf("/catalog/types/coder: %d %v", code, spec)
	}
	if code := env.do(t, http.MethodGet, "/catalog/types/ghost", nil, nil); code != 404 {
		t.Fatalf("unknown type status=%d", code)
	}

	var rec map[string]any
	if code := env.do(t, http.MethodGet, "/catalog/recommend?task="+url.QueryEscape("fix bugs"), nil, &rec); code != 200 || rec["agent"] != "coder" {
		t.Fatalf("/catalog/recommend: %d %v", code, rec)
	}
	if code := env.do(t, http.MethodGet, "/catalog/recommend?task=knitting", nil, nil); code != 404 {
		t.Fatalf("no match status=%d", code)
	}

	var reloaded models.CatalogReloaded
	if code := env.do(t, http.MethodPost, "/catalog/reload", nil, &reloaded); code != 200 || len(reloaded.Types) != 2 {
		t.Fatalf("/catalog/reload: %d %v", code, reloaded)
	}
}

func TestRunRoutes(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, ServerOptions{})

	var res models.Result
	code := env.do(t, http.MethodPost, "/runs", models.SpawnRequest{AgentType: "coder", Task: "build", ProjectRoot: env.root}, &res)
	if code != 200 || !res.Success || res.Output == nil {
		t.Fatalf("POST /runs: %d %+v", code, res)
	}
	if want := "done: " + filepath.Join(env.root, "src"); !strings.Contains(*res.Output, want) {
		t.Fatalf("output %q missing %q", *res.Output, want)
	}

	var failed models.Result
	code = env.do(t, http.MethodPost, "/runs", models.SpawnRequest{AgentType: "ghost", Task: "x", ProjectRoot: env.root}, &failed)
	if code != 200 || failed.Success || failed.Error == nil || !strings.Contains(*failed.Error, "ghost") {
		t.Fatalf("unknown type: %d %+v", code, failed)
	}
	if code := env.do(t, http.MethodPost, "/runs", models.SpawnRequest{}, nil); code != 400 {
		t.Fatalf("empty request status=%d", code)
	}

	var run models.Run
	if code := env.do(t, http.MethodGet, "/runs/"+res.RunID, nil, &run); code != 200 || run.Status != models.RunSucceeded {
		t.Fatalf("GET /runs/{id}: %d %+v", code, run)
	}

	var batch models.BatchSpawnResponse
	code = env.do(t, http.MethodPost, "/runs/batch", models.BatchSpawnRequest{Runs: []models.SpawnRequest{
		{AgentType: "coder", Task: "a", ProjectRoot: env.root},
		{AgentType: "coder", Task: "FAIL", ProjectRoot: env.root},
		{AgentType: "reviewer", Task: "c", ProjectRoot: env.root},
	}}, &batch)
	if code != 200 || len(batch.Results) != 3 {
		t.Fatalf("POST /runs/batch: %d %+v", code, batch)
	}
	if !batch.Results[0].Success || batch.Results[1].Success || !batch.Results[2].Success {
		t.Fatalf("batch isolation: %+v", batch.Results)
	}

	var runs []models.Run
	if code := env.do(t, http.MethodGet, "/runs?agent_type=coder", nil, &runs); code != 200 || len(runs) != 3 {
		t.Fatalf("GET /runs: %d %d runs", code, len(runs))
	}
	var stats []models.RunStats
	if code := env.do(t, http.MethodGet, "/runs/stats?days=1", nil, &stats); code != 200 || len(stats) != 2 {
		t.Fatalf("GET /runs/stats: %d %+v", code, stats)
	}
	if code := env.do(t, http.MethodGet, "/runs/stats?days=x", nil, nil); code != 400 {
		t.Fatalf("bad days status=%d", code)
	}
}

func TestAsyncRun(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, ServerOptions{})

	var acc models.SpawnAccepted
	code := env.do(t, http.MethodPost, "/runs", models.SpawnRequest{AgentType: "coder", Task: "bg", ProjectRoot: env.root, Async: true}, &acc)
	if code != http.StatusAccepted || acc.RunID == "" || acc.CallbackGroup != models.DefaultCallbackGroup {
		t.Fatalf("async POST /runs: %d %+v", code, acc)
	}
	deadline := time.Now().Add(10 * time.Second)
	for {
		var inbox []models.Message
		env.do(t, http.MethodGet, "/inbox?group=coordinator&include_broadcasts=false", nil, &inbox)
		if len(inbox) == 1 {
			if inbox[0].Subject != "Async Task Complete: "+acc.RunID {
				t.Fatalf("completion subject: %q", inbox[0].Subject)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no completion message")
		}
		time.Sleep(50 * time.Millisecond)
	}
	if code := env.do(t, http.MethodPost, "/runs", models.SpawnRequest{AgentType: "ghost", Task: "bg", ProjectRoot: env.root, Async: true}, nil); code != 404 {
		t.Fatalf("async unknown type status=%d", code)
	}
}

func TestMessageRoutes(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, ServerOptions{})

	var q models.MessageAccepted
	code := env.do(t, http.MethodPost, "/messages", models.SendMessageRequest{FromRunID: "w1", ToGroup: "coordinator", MessageType: "question", Subject: "Which port?", Body: "8080 or 9090"}, &q)
	if code != http.StatusCreated || q.MessageID == "" {
		t.Fatalf("POST /messages: %d", code)
	}
	if code := env.do(t, http.MethodPost, "/messages", models.SendMessageRequest{ToGroup: "g", ToRunID: "r", Body: "x"}, nil); code != 400 {
		t.Fatalf("ambiguous recipient status=%d", code)
	}
	if code := env.do(t, http.MethodPost, "/messages", models.SendMessageRequest{ToGroup: "g"}, nil); code != 400 {
		t.Fatalf("empty body status=%d", code)
	}

	var reply models.MessageAccepted
	if code := env.do(t, http.MethodPost, "/messages/"+q.MessageID+"/reply", models.ReplyRequest{Body: "8080"}, &reply); code != http.StatusCreated {
		t.Fatalf("reply status=%d", code)
	}
	var inbox []models.Message
	env.do(t, http.MethodGet, "/inbox?run_id=w1", nil, &inbox)
	if len(inbox) != 1 || inbox[0].Subject != "Re: Which port?" {
		t.Fatalf("w1 inbox: %+v", inbox)
	}

	if code := env.do(t, http.MethodPost, "/messages/"+reply.MessageID+"/read", nil, nil); code != 200 {
		t.Fatalf("read status=%d", code)
	}
	if code := env.do(t, http.MethodPost, "/messages/"+reply.MessageID+"/ack", nil, nil); code != 200 {
		t.Fatalf("ack status=%d", code)
	}
	var m models.Message
	env.do(t, http.MethodGet, "/messages/"+reply.MessageID, nil, &m)
	if m.Status != models.MessageAcknowledged {
		t.Fatalf("status=%s", m.Status)
	}
	env.do(t, http.MethodGet, "/inbox?run_id=w1", nil, &inbox)
	if len(inbox) != 0 {
		t.Fatalf("expected empty pending inbox, got %d", len(inbox))
	}
	env.do(t, http.MethodGet, "/inbox?run_id=w1&include_read=true", nil, &inbox)
	if len(inbox) != 1 {
		t.Fatalf("include_read: got %d", len(inbox))
	}
	if code := env.do(t, http.MethodPost, "/messages/missing/read", nil, nil); code != 404 {
		t.Fatalf("missing message status=%d", code)
	}
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, ServerOptions{APIKey: "s3cret"})

	if code := env.do(t, http.MethodGet, "/health", nil, nil); code != 200 {
		t.Fatalf("/health should bypass auth, status=%d", code)
	}
	if code := env.do(t, http.MethodGet, "/catalog/types", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("missing key status=%d", code)
	}
	resp, err := http.Get(env.ts.URL + "/catalog/types?api_key=s3cret")
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("query key status=%d", resp.StatusCode)
	}
}

func TestBodyLimit(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, ServerOptions{MaxBodyBytes: 64})
	big := models.SendMessageRequest{ToGroup: "g", Body: strings.Repeat("x", 200)}
	if code := env.do(t, http.MethodPost, "/messages", big, nil); code != http.StatusBadRequest {
		t.Fatalf("oversized body status=%d", code)
	}
}

func TestStreamRunEvents(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, ServerOptions{})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", env.ts.URL+"/stream?type=run_started,run_finished", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /stream: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	sc := bufio.NewScanner(resp.Body)
	if !sc.Scan() || !strings.Contains(sc.Text(), "connected") {
		t.Fatal("missing connected event")
	}

	body, _ := json.Marshal(models.SpawnRequest{AgentType: "coder", Task: "x", ProjectRoot: env.root})
	go func() {
		if resp, err := http.Post(env.ts.URL+"/runs", "application/json", bytes.NewReader(body)); err == nil {
			_ = resp.Body.Close()
		}
	}()

	var seen []string
	for sc.Scan() && len(seen) < 2 {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev struct{ Type string }
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		seen = append(seen, ev.Type)
	}
	if fmt.Sprint(seen) != "[run_started run_finished]" {
		t.Fatalf("events: %v", seen)
	}
}
