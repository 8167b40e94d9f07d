package providers

import (
	"context"

	"github.com/mbd888/walletrisk/internal/config"
	"github.com/mbd888/walletrisk/internal/risk"
)

const KeyChainalysis = "chainalysis"

var chainalysisWatch = flag{mod: 17, score: 95}

type chainalysisResponse struct {
	RiskScore    *float64   `json:"riskScore"`
	SanctionsHit bool       `json:"sanctionsHit"`
	Categories   []string   `json:"categories"`
	Exposure     []Exposure `json:"exposure"`
}

// Chainalysis calls a Chainalysis-style screening endpoint.
type Chainalysis struct {
	base
	api  config.Provider
	http upstream
}

// NewChainalysis creates the adapter. It simulates unless api is configured.
func NewChainalysis(api config.Provider, deps Deps) *Chainalysis {
	c := &Chainalysis{base: newBase(KeyChainalysis, "Chainalysis", deps), api: api}
	c.http = upstream{provider: KeyChainalysis, deps: c.deps}
	return c
}

func (c *Chainalysis) Mode() Mode {
	if c.api.Configured() {
		return ModeLive
	}
	return ModeSimulated
}

func (c *Chainalysis) Analyze(ctx context.Context, addr risk.Address) (*risk.Finding, error) {
	if f, ok := c.precheck(addr); ok {
		return f, nil
	}
	if c.Mode() == ModeSimulated {
		return simulatedIntel(c.base, addr, chainalysisWatch,
			"Simulated Chainalysis screening; configure CHAINALYSIS_API_URL and CHAINALYSIS_API_KEY for live data.",
			chainalysisCategories), nil
	}

	var resp chainalysisResponse
	headers := map[string]string{"x-api-key": c.api.Key}
	body := map[string]string{"address": string(addr)}
	if err := c.http.postJSON(ctx, c.api.URL, headers, body, &resp); err != nil {
		return nil, err
	}

	f := c.finding(addr)
	if resp.RiskScore != nil {
		f.Score = int(*resp.RiskScore)
	}
	f.SanctionsHit = resp.SanctionsHit
	f.Details = IntelDetails{Categories: resp.Categories, Exposure: resp.Exposure}
	if f.SanctionsHit {
		f.Notes = "Chainalysis reports a sanctions match."
	} else {
		f.Notes = "Chainalysis screening result."
	}
	return f.Finalize(), nil
}

func chainalysisCategories(band risk.Band, watch bool) IntelDetails {
	switch {
	case watch:
		return IntelDetails{
			Categories: []string{"Sanctions"},
			Reasons:    []string{"Possible watchlist match"},
			Exposure:   []Exposure{{Type: "Sanctions", Percent: 100}},
		}
	case band == risk.BandMedium:
		return IntelDetails{
			Categories: []string{"Mixing", "Gambling"},
			Exposure:   []Exposure{{Type: "DEX", Percent: 12}, {Type: "CEX", Percent: 34}},
		}
	default:
		return IntelDetails{
			Categories: []string{"Exchange"},
			Exposure:   []Exposure{{Type: "DEX", Percent: 12}, {Type: "CEX", Percent: 34}},
		}
	}
}
