// Package analyzer fans an address out to the providers and folds their
// findings into one report.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mbd888/walletrisk/internal/logging"
	"github.com/mbd888/walletrisk/internal/metrics"
	"github.com/mbd888/walletrisk/internal/pagination"
	"github.com/mbd888/walletrisk/internal/providers"
	"github.com/mbd888/walletrisk/internal/risk"
	"github.com/mbd888/walletrisk/internal/traces"
)

// ErrUnknownProvider is returned when a requested provider key is not
// registered.
var ErrUnknownProvider = errors.New("unknown provider")

// Report is the aggregated verdict for one address.
type Report struct {
	ID           string          `json:"id"`
	Address      risk.Address    `json:"address"`
	Findings     []*risk.Finding `json:"findings"`
	Overall      risk.Band       `json:"overall"`
	SanctionsHit bool            `json:"sanctionsHit"`
	Fallbacks    int             `json:"fallbacks"`
	StartedAt    time.Time       `json:"startedAt"`
	DurationMs   int64           `json:"durationMs"`
}

// Aggregator runs providers concurrently and records the outcome.
type Aggregator struct {
	catalog *providers.Catalog
	store   Store
	logger  *slog.Logger

	recordTimeout time.Duration
	pending       sync.WaitGroup

	listenersMu sync.RWMutex
	listeners   []func(*Report)
}

// New creates an aggregator. A nil store disables the audit trail.
func New(catalog *providers.Catalog, store Store, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		catalog:       catalog,
		store:         store,
		logger:        logger,
		recordTimeout: 5 * time.Second,
	}
}

// OnReport registers fn to run after every completed analysis.
func (a *Aggregator) OnReport(fn func(*Report)) {
	a.listenersMu.Lock()
	a.listeners = append(a.listeners, fn)
	a.listenersMu.Unlock()
}

// Analyze queries the providers named by keys, or all of them when keys is
// empty. Each provider gets exactly one attempt; a failed one contributes
// its fallback finding instead.
func (a *Aggregator) Analyze(ctx context.Context, addr risk.Address, keys []string) (*Report, error) {
	selected, err := a.selectProviders(keys)
	if err != nil {
		return nil, err
	}

	ctx, span := traces.StartSpan(ctx, "analyzer.analyze", traces.Address(string(addr)))
	start := time.Now()
	report := &Report{
		ID:        uuid.NewString(),
		Address:   addr,
		StartedAt: start.UTC().Truncate(time.Microsecond),
		Findings:  make([]*risk.Finding, len(selected)),
	}

	var wg sync.WaitGroup
	for i, p := range selected {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f, err := providers.Run(ctx, p, addr)
			if err != nil {
				f = p.Fallback(addr)
				metrics.ProviderFallbacksTotal.WithLabelValues(p.Key()).Inc()
			}
			report.Findings[i] = f
		}()
	}
	wg.Wait()

	report.Overall, report.SanctionsHit, report.Fallbacks = Summarize(report.Findings)
	report.DurationMs = time.Since(start).Milliseconds()

	span.SetAttributes(traces.Band(string(report.Overall)))
	traces.End(span, nil)
	metrics.AnalysesTotal.WithLabelValues(string(report.Overall)).Inc()
	logging.L(ctx).Info("analysis completed",
		logging.Address(string(addr)),
		"overall", report.Overall,
		"providers", len(selected),
		"fallbacks", report.Fallbacks,
		"duration_ms", report.DurationMs,
	)

	a.record(ctx, report)
	a.notify(report)
	return report, nil
}

// Summarize derives the overall band, sanctions flag and fallback count.
// Fallback findings are deterministic stand-ins, so they only count toward
// the verdict when the sanctions registry backs them.
func Summarize(findings []*risk.Finding) (overall risk.Band, sanctionsHit bool, fallbacks int) {
	var bands []risk.Band
	for _, f := range findings {
		if f.Fallback {
			fallbacks++
			if !f.SanctionsHit {
				continue
			}
		}
		bands = append(bands, f.Risk)
		sanctionsHit = sanctionsHit || f.SanctionsHit
	}
	return risk.Max(bands...), sanctionsHit, fallbacks
}

func (a *Aggregator) selectProviders(keys []string) ([]providers.Provider, error) {
	if len(keys) == 0 {
		return a.catalog.All(), nil
	}
	seen := make(map[string]bool, len(keys))
	var out []providers.Provider
	for _, k := range keys {
		k = strings.ToLower(strings.TrimSpace(k))
		if seen[k] {
			continue
		}
		seen[k] = true
		p, ok := a.catalog.Get(k)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, k)
		}
		out = append(out, p)
	}
	return out, nil
}

// record persists the report in the background; the audit trail is best
// effort and never delays the response.
func (a *Aggregator) record(ctx context.Context, r *Report) {
	if a.store == nil {
		return
	}
	a.pending.Add(1)
	go func() {
		defer a.pending.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.recordTimeout)
		defer cancel()
		if err := a.store.Record(ctx, r); err != nil {
			a.logger.Warn("failed to record analysis", "id", r.ID, "error", err)
		}
	}()
}

func (a *Aggregator) notify(r *Report) {
	a.listenersMu.RLock()
	fns := append([]func(*Report){}, a.listeners...)
	a.listenersMu.RUnlock()
	for _, fn := range fns {
		fn(r)
	}
}

// Wait blocks until background audit writes have finished.
func (a *Aggregator) Wait() {
	a.pending.Wait()
}

// History lists recorded reports for addr, newest first.
func (a *Aggregator) History(ctx context.Context, addr risk.Address, limit int, after *pagination.Cursor) ([]*Report, error) {
	if a.store == nil {
		return nil, nil
	}
	return a.store.ListByAddress(ctx, addr, limit, after)
}
