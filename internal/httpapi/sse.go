package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ankittk/agentorch/internal/agent/runtime"
	"github.com/ankittk/agentorch/internal/otel"
	"github.com/ankittk/agentorch/pkg/models"
)

// Subscription receives encoded events matching its filter.
type Subscription struct {
	C     chan []byte
	runID string
	types map[string]bool
}

func (s *Subscription) wants(ev runtime.Event) bool {
	if s.runID != "" && ev.RunID != s.runID {
		return false
	}
	return len(s.types) == 0 || s.types[ev.Type]
}

// SSEHub fans run and message events out to /stream subscribers.
type SSEHub struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

func NewSSEHub() *SSEHub {
	return &SSEHub{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a subscriber for events of runID (all runs when empty)
// and of the given types (all types when none).
func (h *SSEHub) Subscribe(runID string, types ...string) *Subscription {
	s := &Subscription{C: make(chan []byte, models.DefaultSSEChannelBuffer), runID: runID}
	if len(types) > 0 {
		s.types = make(map[string]bool, len(types))
		for _, t := range types {
			s.types[t] = true
		}
	}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	otel.AddSSEConnection()
	return s
}

func (h *SSEHub) Unsubscribe(s *Subscription) {
	h.mu.Lock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		close(s.C)
		otel.RemoveSSEConnection()
	}
	h.mu.Unlock()
}

// Publish delivers ev to every matching subscriber without blocking.
func (h *SSEHub) Publish(ev runtime.Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	otel.RecordSSEEvent(context.Background())
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		if !s.wants(ev) {
			continue
		}
		select {
		case s.C <- b:
		default:
			// Drop if subscriber is too slow; prevents global backpressure.
		}
	}
}

// Handler streams events. Query parameters run_id and type (comma
// separated) narrow the stream.
func (h *SSEHub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		var types []string
		if t := r.URL.Query().Get("type"); t != "" {
			types = strings.Split(t, ",")
		}
		sub := h.Subscribe(r.URL.Query().Get("run_id"), types...)
		defer h.Unsubscribe(sub)

		// Initial ping so clients know the stream is live.
		_, _ = fmt.Fprintf(w, "data: %s\n\n", `{"type":"connected"}`)
		flusher.Flush()

		keepalive := time.NewTicker(30 * time.Second)
		defer keepalive.Stop()

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case <-keepalive.C:
				_, _ = fmt.Fprint(w, ": keepalive\n\n")
				flusher.Flush()
			case msg, ok := <-sub.C:
				if !ok {
					return
				}
				_, _ = fmt.Fprintf(w, "data: %s\n\n", msg)
				flusher.Flush()
			}
		}
	}
}
