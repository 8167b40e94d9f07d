package providers

import (
	"context"

	"github.com/mbd888/walletrisk/internal/risk"
)

const (
	KeyBlockchain = "blockchain"
	KeyFireblocks = "fireblocks"
	KeyBridge     = "bridge"
)

// simulatedExplorer scores an explorer adapter that has no credentials. The
// score stays inside the heuristic range a live explorer could produce.
func simulatedExplorer(b base, addr risk.Address) *risk.Finding {
	f := b.finding(addr)
	f.Score = min(risk.SimulatedScore(addr, b.key), heuristicCeiling)
	f.Simulated = true
	f.Notes = "Simulated explorer data; configure an API key for live results."
	return f.Finalize()
}

// Simulated is a provider with no upstream at all.
type Simulated struct {
	base
}

// NewSimulated creates a pure simulation provider.
func NewSimulated(key, name string, deps Deps) *Simulated {
	return &Simulated{base: newBase(key, name, deps)}
}

func (s *Simulated) Mode() Mode { return ModeSimulated }

func (s *Simulated) Analyze(_ context.Context, addr risk.Address) (*risk.Finding, error) {
	if f, ok := s.precheck(addr); ok {
		f.Simulated = true
		return f, nil
	}
	f := s.finding(addr)
	var flagged bool
	f.Score, flagged = s.fallback.apply(risk.SimulatedScore(addr, s.key))
	f.Simulated = true
	if flagged {
		f.Notes = "Simulated demo data: elevated risk pattern."
	} else {
		f.Notes = "Simulated demo data."
	}
	return f.Finalize(), nil
}
