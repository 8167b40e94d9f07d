package webhooks

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mbd888/walletrisk/internal/analyzer"
	"github.com/mbd888/walletrisk/internal/risk"
	"github.com/mbd888/walletrisk/internal/sanctions"
)

var (
	webhookEmitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "walletrisk",
		Subsystem: "webhook",
		Name:      "emit_total",
		Help:      "Total webhook emit attempts by event type.",
	}, []string{"event_type"})

	webhookEmitErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "walletrisk",
		Subsystem: "webhook",
		Name:      "emit_errors_total",
		Help:      "Total webhook emit failures by event type.",
	}, []string{"event_type"})
)

func init() {
	prometheus.MustRegister(webhookEmitTotal, webhookEmitErrors)
}

// Emitter turns analyzer and sanctions notifications into webhook events.
// All methods are fire-and-forget: errors are logged but never returned.
type Emitter struct {
	d      *Dispatcher
	logger *slog.Logger
}

// NewEmitter creates a new webhook emitter.
func NewEmitter(d *Dispatcher, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{d: d, logger: logger}
}

func (e *Emitter) emit(addr risk.Address, eventType EventType, data any) {
	if e == nil || e.d == nil {
		return
	}
	webhookEmitTotal.WithLabelValues(string(eventType)).Inc()
	event := &Event{
		ID:        "evt_" + uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Address:   addr,
		Data:      data,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := e.d.Dispatch(ctx, event); err != nil {
		webhookEmitErrors.WithLabelValues(string(eventType)).Inc()
		e.logger.Warn("webhook emit failed", "event", eventType, "address", addr, "error", err)
	}
}

// EmitReport emits analysis.completed for every report, plus
// analysis.high_risk and analysis.sanctions_hit when they apply.
func (e *Emitter) EmitReport(r *analyzer.Report) {
	e.emit(r.Address, EventAnalysisCompleted, r)
	if r.Overall == risk.BandHigh {
		e.emit(r.Address, EventAnalysisHighRisk, r)
	}
	if r.SanctionsHit {
		e.emit(r.Address, EventAnalysisSanctioned, r)
	}
}

// EmitSanctionsRefresh emits sanctions.refreshed. The full address list is
// left out of the payload.
func (e *Emitter) EmitSanctionsRefresh(res *sanctions.RefreshResult) {
	e.emit("", EventSanctionsRefreshed, map[string]any{
		"totalAddresses": res.TotalAddresses,
		"added":          res.Added,
		"removed":        res.Removed,
		"lastUpdate":     res.LastUpdate,
		"sources":        res.Sources,
	})
}
