package otel

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"
)

var (
	initMetricsOnce     sync.Once
	spawnsCounter       metric.Int64Counter
	timeoutsCounter     metric.Int64Counter
	runDuration         metric.Float64Histogram
	messagesCounter     metric.Int64Counter
	catalogReloads      metric.Int64Counter
	activeRunsGauge     metric.Int64ObservableGauge
	sseConnectionsGauge metric.Int64ObservableGauge
	sseEventsCounter    metric.Int64Counter
	activeRuns          atomic.Int64
	sseConnections      int64
	sseConnectionsMu    sync.Mutex
)

// InitMetrics creates the meter instruments. Safe to call multiple times; only runs once.
// Call after InitMeterProvider.
func InitMetrics(ctx context.Context) error {
	var err error
	initMetricsOnce.Do(func() {
		m := Meter()
		spawnsCounter, err = m.Int64Counter("agentorch_spawns_total", metric.WithDescription("Worker runs by type and terminal status"))
		if err != nil {
			return
		}
		timeoutsCounter, err = m.Int64Counter("agentorch_timeouts_total", metric.WithDescription("Worker runs terminated at their deadline"))
		if err != nil {
			return
		}
		runDuration, err = m.Float64Histogram("agentorch_run_duration_seconds", metric.WithDescription("Worker run wall-clock duration in seconds"))
		if err != nil {
			return
		}
		messagesCounter, err = m.Int64Counter("agentorch_messages_total", metric.WithDescription("Messages stored by recipient kind"))
		if err != nil {
			return
		}
		catalogReloads, err = m.Int64Counter("agentorch_catalog_reloads_total", metric.WithDescription("Catalog reload attempts by status"))
		if err != nil {
			return
		}
		sseEventsCounter, err = m.Int64Counter("agentorch_sse_events_total", metric.WithDescription("Total SSE events published"))
		if err != nil {
			return
		}
		activeRunsGauge, err = m.Int64ObservableGauge("agentorch_active_runs", metric.WithDescription("Worker processes currently running"))
		if err != nil {
			return
		}
		sseConnectionsGauge, err = m.Int64ObservableGauge("agentorch_sse_connections", metric.WithDescription("Current SSE subscriber count"))
		if err != nil {
			return
		}
		_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(activeRunsGauge, activeRuns.Load())
			sseConnectionsMu.Lock()
			n := sseConnections
			sseConnectionsMu.Unlock()
			o.ObserveInt64(sseConnectionsGauge, n)
			return nil
		}, activeRunsGauge, sseConnectionsGauge)
	})
	return err
}

// RecordRun records a finished run, its status and duration.
func RecordRun(ctx context.Context, typeName, status string, duration time.Duration) {
	if spawnsCounter != nil {
		spawnsCounter.Add(ctx, 1, metric.WithAttributes(AttrType.String(typeName), AttrStatus.String(status)))
	}
	if runDuration != nil && duration > 0 {
		runDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(AttrType.String(typeName)))
	}
	if timeoutsCounter != nil && status == "timed_out" {
		timeoutsCounter.Add(ctx, 1, metric.WithAttributes(AttrType.String(typeName)))
	}
}

// RecordMessage records one stored message; kind is run, group or broadcast.
func RecordMessage(ctx context.Context, kind string) {
	if messagesCounter != nil {
		messagesCounter.Add(ctx, 1, metric.WithAttributes(AttrKind.String(kind)))
	}
}

// RecordCatalogReload records a reload attempt.
func RecordCatalogReload(ctx context.Context, ok bool) {
	if catalogReloads == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	catalogReloads.Add(ctx, 1, metric.WithAttributes(AttrStatus.String(status)))
}

// RunStarted increments the active run gauge.
func RunStarted() { activeRuns.Add(1) }

// RunEnded decrements the active run gauge.
func RunEnded() { activeRuns.Add(-1) }

// ActiveRuns returns the current active run count.
func ActiveRuns() int64 { return activeRuns.Load() }

// RecordSSEEvent records one SSE event published.
func RecordSSEEvent(ctx context.Context) {
	if sseEventsCounter != nil {
		sseEventsCounter.Add(ctx, 1)
	}
}

// AddSSEConnection adds 1 to the SSE connection gauge (call on subscribe).
func AddSSEConnection() {
	sseConnectionsMu.Lock()
	sseConnections++
	sseConnectionsMu.Unlock()
}

// RemoveSSEConnection subtracts 1 from the SSE connection gauge (call on unsubscribe).
func RemoveSSEConnection() {
	sseConnectionsMu.Lock()
	sseConnections--
	if sseConnections < 0 {
		sseConnections = 0
	}
	sseConnectionsMu.Unlock()
}
