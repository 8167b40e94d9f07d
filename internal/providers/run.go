package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/mbd888/walletrisk/internal/logging"
	"github.com/mbd888/walletrisk/internal/metrics"
	"github.com/mbd888/walletrisk/internal/risk"
	"github.com/mbd888/walletrisk/internal/traces"
)

// Run calls p.Analyze under a span, records metrics, and turns a panic into
// an error.
func Run(ctx context.Context, p Provider, addr risk.Address) (f *risk.Finding, err error) {
	mode := string(p.Mode())
	ctx, span := traces.StartSpan(ctx, "provider.analyze",
		traces.Provider(p.Key()), traces.Mode(mode), traces.Address(string(addr)))
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			f, err = nil, fmt.Errorf("provider %s panicked: %v", p.Key(), r)
		}
		outcome := "ok"
		if err != nil {
			outcome = "error"
			logging.L(ctx).Warn("provider analysis failed",
				logging.Provider(p.Key()), logging.Address(string(addr)), "error", err)
		} else {
			span.SetAttributes(traces.Score(f.Score), traces.Band(string(f.Risk)))
		}
		metrics.ObserveProvider(p.Key(), mode, outcome, time.Since(start))
		traces.End(span, err)
	}()

	return p.Analyze(ctx, addr)
}
