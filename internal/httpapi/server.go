package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ankittk/agentorch/internal/agent/runtime"
	"github.com/ankittk/agentorch/internal/catalog"
	"github.com/ankittk/agentorch/internal/engine"
	"github.com/ankittk/agentorch/internal/mailbox"
	"github.com/ankittk/agentorch/internal/mcp"
	"github.com/ankittk/agentorch/internal/orchestrator"
	"github.com/ankittk/agentorch/internal/otel"
	"github.com/ankittk/agentorch/internal/store"
	"github.com/ankittk/agentorch/pkg/models"
)

// limitBody wraps r.Body with http.MaxBytesReader so handlers cannot read more than maxBytes.
func limitBody(w http.ResponseWriter, r *http.Request, maxBytes int64) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
}

// bodyLimitMiddleware limits request body size for POST, PUT, PATCH to prevent OOM.
func bodyLimitMiddleware(maxBytes int64, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			limitBody(w, r, maxBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware sets permissive CORS headers for local dashboards.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key, Mcp-Session-Id")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ServerOptions configures the HTTP server.
type ServerOptions struct {
	Engine         *engine.Engine
	Addr           string
	Dev            bool
	APIKey         string       // if set, require X-API-Key header or query api_key
	MaxBodyBytes   int64        // 0 means models.DefaultMaxRequestBodyBytes
	MetricsHandler http.Handler // if set, used for /metrics (e.g. OTel Prometheus handler)
	UseOtelHTTP    bool         // if true, wrap handler with otelhttp for request metrics
	// ProjectRoot is the default project root for MCP spawn calls.
	ProjectRoot string
	Version     string
}

// App holds the HTTP server, the SSE hub and the engine it serves.
type App struct {
	Server *http.Server
	Hub    *SSEHub
	Engine *engine.Engine
	MCP    *mcp.Server

	unsubscribe func()
}

// NewApp creates the HTTP app and registers all routes.
func NewApp(opts ServerOptions) (*App, error) {
	eng := opts.Engine
	if eng == nil {
		return nil, errors.New("httpapi: engine is required")
	}
	hub := NewSSEHub()
	mcpSrv := mcp.New(eng, mcp.Options{ProjectRoot: opts.ProjectRoot, Version: opts.Version})
	h := &handlers{eng: eng}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"ok":          true,
			"agent_types": eng.Registry.Current().Len(),
			"active_runs": otel.ActiveRuns(),
		})
	})

	if opts.MetricsHandler != nil {
		mux.Handle("GET /metrics", opts.MetricsHandler)
	} else {
		mux.HandleFunc("GET /metrics", h.legacyMetrics)
	}

	mux.HandleFunc("GET /stream", hub.Handler())

	// --- Catalog ---
	mux.HandleFunc("GET /catalog", h.searchCatalog)
	mux.HandleFunc("GET /catalog/types", h.listTypes)
	mux.HandleFunc("GET /catalog/types/{name}", h.getType)
	mux.HandleFunc("GET /catalog/recommend", h.recommend)
	mux.HandleFunc("POST /catalog/reload", h.reloadCatalog)

	// --- Runs ---
	mux.HandleFunc("POST /runs", h.spawn)
	mux.HandleFunc("GET /runs", h.listRuns)
	mux.HandleFunc("POST /runs/batch", h.spawnBatch)
	mux.HandleFunc("GET /runs/stats", h.runStats)
	mux.HandleFunc("GET /runs/{id}", h.getRun)

	// --- Messages ---
	mux.HandleFunc("POST /messages", h.sendMessage)
	mux.HandleFunc("GET /messages/{id}", h.getMessage)
	mux.HandleFunc("POST /messages/{id}/read", h.markRead)
	mux.HandleFunc("POST /messages/{id}/ack", h.acknowledge)
	mux.HandleFunc("POST /messages/{id}/reply", h.reply)
	mux.HandleFunc("GET /inbox", h.inbox)

	// MCP streamable HTTP transport.
	mux.Handle("/mcp", mcpserver.NewStreamableHTTPServer(mcpSrv.MCPServer()))

	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = models.DefaultMaxRequestBodyBytes
	}
	var handler http.Handler = mux
	handler = bodyLimitMiddleware(maxBody, handler)
	if opts.Dev {
		handler = corsMiddleware(handler)
	}
	if opts.APIKey != "" {
		handler = apiKeyMiddleware(opts.APIKey, handler)
	}
	handler = requestLogMiddleware(handler)
	if opts.UseOtelHTTP {
		handler = otelhttp.NewHandler(handler, "agentorch")
	}
	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// synchronous spawns hold the response open for the whole run
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	unsubscribe := eng.Subscribe(func(ev runtime.Event) { hub.Publish(ev) })
	return &App{Server: srv, Hub: hub, Engine: eng, MCP: mcpSrv, unsubscribe: unsubscribe}, nil
}

// Shutdown stops the HTTP server and detaches the SSE hub. The engine is
// left open for the caller to close.
func (a *App) Shutdown(ctx context.Context) error {
	a.unsubscribe()
	return a.Server.Shutdown(ctx)
}

type handlers struct {
	eng *engine.Engine
}

func (h *handlers) legacyMetrics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.eng.Store.RunStats(r.Context(), time.Time{})
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = fmt.Fprintf(w, "# TYPE agentorch_runs_total counter\n")
	for _, s := range stats {
		_, _ = fmt.Fprintf(w, "agentorch_runs_total{agent_type=%q,status=\"succeeded\"} %d\n", s.TypeName, s.Succeeded)
		_, _ = fmt.Fprintf(w, "agentorch_runs_total{agent_type=%q,status=\"failed\"} %d\n", s.TypeName, s.Failed)
		_, _ = fmt.Fprintf(w, "agentorch_runs_total{agent_type=%q,status=\"timed_out\"} %d\n", s.TypeName, s.TimedOut)
	}
	_, _ = fmt.Fprintf(w, "# TYPE agentorch_active_runs gauge\n")
	_, _ = fmt.Fprintf(w, "agentorch_active_runs %d\n", otel.ActiveRuns())
}

func (h *handlers) searchCatalog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	level, err := catalog.ParseDetailLevel(q.Get("detail"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, h.eng.Discovery.Search(q.Get("q"), level))
}

func (h *handlers) listTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.eng.Discovery.Types())
}

func (h *handlers) getType(w http.ResponseWriter, r *http.Request) {
	spec, err := h.eng.Registry.Current().Lookup(r.PathValue("name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, spec)
}

func (h *handlers) recommend(w http.ResponseWriter, r *http.Request) {
	task := r.URL.Query().Get("task")
	if strings.TrimSpace(task) == "" {
		writeJSONError(w, http.StatusBadRequest, "task required")
		return
	}
	rec, ok := h.eng.Discovery.Recommend(task)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "no agent type matches the task")
		return
	}
	writeJSON(w, rec)
}

func (h *handlers) reloadCatalog(w http.ResponseWriter, r *http.Request) {
	c, err := h.eng.ReloadCatalog(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, models.CatalogReloaded{Types: c.Names()})
}

func (h *handlers) spawn(w http.ResponseWriter, r *http.Request) {
	var body models.SpawnRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if body.AgentType == "" {
		writeJSONError(w, http.StatusBadRequest, "agent_type required")
		return
	}
	if body.Async {
		acc, err := h.eng.Orch.SpawnAsync(r.Context(), orchestrator.RequestFrom(body))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSONStatus(w, http.StatusAccepted, acc)
		return
	}
	// Worker failures are results, not HTTP errors.
	writeJSON(w, h.eng.Orch.Spawn(r.Context(), orchestrator.RequestFrom(body)))
}

func (h *handlers) spawnBatch(w http.ResponseWriter, r *http.Request) {
	var body models.BatchSpawnRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if len(body.Runs) == 0 {
		writeJSONError(w, http.StatusBadRequest, "runs required")
		return
	}
	reqs := make([]orchestrator.Request, len(body.Runs))
	for i, run := range body.Runs {
		reqs[i] = orchestrator.RequestFrom(run)
	}
	writeJSON(w, models.BatchSpawnResponse{Results: h.eng.Orch.SpawnBatch(r.Context(), reqs)})
}

func (h *handlers) listRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), 0)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	runs, err := h.eng.Orch.ListRuns(r.Context(), store.RunFilter{TypeName: q.Get("agent_type"), Status: q.Get("status"), Limit: limit})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, runs)
}

func (h *handlers) runStats(w http.ResponseWriter, r *http.Request) {
	days, err := intParam(r.URL.Query().Get("days"), 7)
	if err != nil || days < 0 {
		writeJSONError(w, http.StatusBadRequest, "invalid days")
		return
	}
	stats, err := h.eng.Orch.Stats(r.Context(), days)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, stats)
}

func (h *handlers) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.eng.Orch.Run(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, run)
}

func (h *handlers) sendMessage(w http.ResponseWriter, r *http.Request) {
	var body models.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	id, err := h.eng.Mail.Send(r.Context(), mailbox.Envelope{
		FromRun:  body.FromRunID,
		ToRun:    body.ToRunID,
		ToGroup:  body.ToGroup,
		Type:     body.MessageType,
		Priority: body.Priority,
		Subject:  body.Subject,
		Body:     body.Body,
		Metadata: body.Metadata,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, models.MessageAccepted{MessageID: id})
}

func (h *handlers) getMessage(w http.ResponseWriter, r *http.Request) {
	m, err := h.eng.Mail.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, m)
}

func (h *handlers) markRead(w http.ResponseWriter, r *http.Request) {
	if err := h.eng.Mail.MarkRead(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

func (h *handlers) acknowledge(w http.ResponseWriter, r *http.Request) {
	if err := h.eng.Mail.Acknowledge(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

func (h *handlers) reply(w http.ResponseWriter, r *http.Request) {
	var body models.ReplyRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	id, err := h.eng.Mail.Reply(r.Context(), r.PathValue("id"), body.FromRunID, body.Body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, models.MessageAccepted{MessageID: id})
}

func (h *handlers) inbox(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), 0)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	msgs, err := h.eng.Mail.CheckInbox(r.Context(), mailbox.Query{
		RunID:             q.Get("run_id"),
		Group:             q.Get("group"),
		ExcludeBroadcasts: q.Get("include_broadcasts") != "" && !boolParam(q.Get("include_broadcasts")),
		IncludeRead:       boolParam(q.Get("include_read")),
		Limit:             limit,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, msgs)
}

// responseRecorder captures status code for logging and forwards Flusher if supported.
type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func apiKeyMiddleware(apiKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if path == "/health" || path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get("X-API-Key")
		if key == "" {
			key = r.URL.Query().Get("api_key")
		}
		if key != apiKey {
			writeJSONError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)
		slog.Info("request",
			"method", req.Method,
			"path", req.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, catalog.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, mailbox.ErrAmbiguousRecipient), errors.Is(err, mailbox.ErrEmptyBody),
		errors.Is(err, mailbox.ErrInvalidType), errors.Is(err, mailbox.ErrInvalidPriority),
		errors.Is(err, mailbox.ErrNoSender),
		errors.Is(err, orchestrator.ErrEmptyTask), errors.Is(err, orchestrator.ErrNoProjectRoot):
		return http.StatusBadRequest
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, orchestrator.ErrShuttingDown):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	writeJSONError(w, statusFor(err), err.Error())
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// writeJSONError sends a JSON body {"error": "message"} with the given status code.
func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": message})
}

func intParam(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

func boolParam(s string) bool {
	b, _ := strconv.ParseBool(s)
	return b
}
