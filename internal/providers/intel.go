package providers

import (
	"github.com/mbd888/walletrisk/internal/risk"
)

// Exposure is the share of activity attributed to one counterparty type.
type Exposure struct {
	Type    string  `json:"type"`
	Percent float64 `json:"percent"`
}

// IntelDetails is the payload of the risk-intelligence adapters.
type IntelDetails struct {
	Categories []string   `json:"categories"`
	Reasons    []string   `json:"reasons,omitempty"`
	Exposure   []Exposure `json:"exposure,omitempty"`
	Watchlist  bool       `json:"watchlist,omitempty"`
}

// simulatedIntel produces the deterministic risk-intel finding. A watchlist
// flag raises the score but is never reported as a sanctions hit; only the
// registry and live screeners confirm those.
func simulatedIntel(b base, addr risk.Address, watch flag, note string, categorize func(risk.Band, bool) IntelDetails) *risk.Finding {
	f := b.finding(addr)
	var flagged bool
	f.Score, flagged = watch.apply(risk.PseudoScore(string(addr), 100))
	f.Simulated = true
	f.Finalize()
	d := categorize(f.Risk, flagged)
	d.Watchlist = flagged
	f.Details = d
	if flagged {
		f.Notes = "Possible watchlist match (simulated)."
	} else {
		f.Notes = note
	}
	return f
}
