package providers

import (
	"context"
	"fmt"
	"math"

	"github.com/mbd888/walletrisk/internal/config"
	"github.com/mbd888/walletrisk/internal/risk"
)

const KeyOFAC = "ofac"

const ofacSimulatedMod = 41

// OFACDetails is the ofac finding payload.
type OFACDetails struct {
	Matches []SanctionsMatch `json:"matches"`
}

type ofacResponse struct {
	Matches []SanctionsMatch `json:"matches"`
}

// OFAC screens addresses against sanctions lists. The local registry is
// authoritative and the address book comes next; an external screener,
// when configured, covers the rest.
type OFAC struct {
	base
	api  config.Provider
	http upstream
}

// NewOFAC creates the screener.
func NewOFAC(api config.Provider, deps Deps) *OFAC {
	o := &OFAC{base: newBase(KeyOFAC, "OFAC Screening", deps), api: api}
	o.http = upstream{provider: KeyOFAC, deps: o.deps}
	return o
}

func (o *OFAC) Mode() Mode {
	if o.api.Configured() {
		return ModeLive
	}
	return ModeSimulated
}

func (o *OFAC) Analyze(ctx context.Context, addr risk.Address) (*risk.Finding, error) {
	if f, ok := o.precheck(addr); ok {
		return f, nil
	}
	if o.Mode() == ModeSimulated {
		return o.simulated(addr), nil
	}

	var resp ofacResponse
	headers := map[string]string{"Authorization": "Bearer " + o.api.Key}
	body := map[string]string{"query": string(addr)}
	if err := o.http.postJSON(ctx, o.api.URL, headers, body, &resp); err != nil {
		return nil, err
	}
	f := o.finding(addr)
	f.SanctionsHit = len(resp.Matches) > 0
	if resp.Matches == nil {
		resp.Matches = []SanctionsMatch{}
	}
	f.Details = OFACDetails{Matches: resp.Matches}
	if f.SanctionsHit {
		f.Notes = fmt.Sprintf("Screening provider returned %d match(es).", len(resp.Matches))
	} else {
		f.Notes = "No sanctions matches."
	}
	return f.Finalize(), nil
}

// simulated reports an occasional fuzzy name match. The match is shown with
// its similarity as the score but is not a confirmed hit.
func (o *OFAC) simulated(addr risk.Address) *risk.Finding {
	f := o.finding(addr)
	f.Simulated = true
	d := OFACDetails{Matches: []SanctionsMatch{}}
	if risk.PseudoScore(string(addr), ofacSimulatedMod) == 0 {
		m := SanctionsMatch{ListName: "OFAC SDN", Entity: "Example Entity", Reference: "SDN-EXAMPLE-123", Score: 0.87}
		d.Matches = append(d.Matches, m)
		f.Score = int(math.Round(m.Score * risk.MaxScore))
		f.Notes = "Possible fuzzy match (simulated); configure OFAC_API_URL and OFAC_API_KEY for live screening."
	} else {
		f.Notes = "No sanctions matches (simulated)."
	}
	f.Details = d
	return f.Finalize()
}

// Fallback scores 0 unless the registry lists addr.
func (o *OFAC) Fallback(addr risk.Address) *risk.Finding {
	f, ok := o.sanctionsHit(addr)
	if !ok {
		f = o.finding(addr)
		f.Notes = "Screening provider unavailable; address not in the local registry."
		f.Details = OFACDetails{Matches: []SanctionsMatch{}}
		f.Finalize()
	}
	f.Simulated = true
	f.Fallback = true
	return f
}
