package providers

import (
	"context"
	"math"
	"strings"

	"github.com/mbd888/walletrisk/internal/config"
	"github.com/mbd888/walletrisk/internal/risk"
)

const KeyElliptic = "elliptic"

var (
	ellipticWatch    = flag{mod: 19, score: 92}
	ellipticFallback = flag{mod: 29, score: 90}
)

type ellipticRequest struct {
	Subject ellipticSubject `json:"subject"`
	Type    string          `json:"type"`
}

type ellipticSubject struct {
	Type       string `json:"type"`
	Hash       string `json:"hash"`
	Asset      string `json:"asset"`
	Blockchain string `json:"blockchain"`
}

type ellipticRule struct {
	RuleName        string  `json:"rule_name"`
	RiskScore       float64 `json:"risk_score"`
	MatchedElements []struct {
		Category string `json:"category"`
	} `json:"matched_elements"`
}

type ellipticResponse struct {
	// RiskScore is 0-10, or null when the wallet has no exposure.
	RiskScore        *float64 `json:"risk_score"`
	EvaluationDetail struct {
		Source      []ellipticRule `json:"source"`
		Destination []ellipticRule `json:"destination"`
	} `json:"evaluation_detail"`
}

// Elliptic screens wallets against the Elliptic holistic wallet API.
type Elliptic struct {
	base
	api  config.Provider
	http upstream
}

// NewElliptic creates the adapter. It simulates unless api is configured.
func NewElliptic(api config.Provider, deps Deps) *Elliptic {
	e := &Elliptic{base: newBase(KeyElliptic, "Elliptic", deps), api: api}
	e.fallback = ellipticFallback
	e.http = upstream{provider: KeyElliptic, deps: e.deps}
	return e
}

func (e *Elliptic) Mode() Mode {
	if e.api.Configured() {
		return ModeLive
	}
	return ModeSimulated
}

func (e *Elliptic) Analyze(ctx context.Context, addr risk.Address) (*risk.Finding, error) {
	if f, ok := e.precheck(addr); ok {
		return f, nil
	}
	if e.Mode() == ModeSimulated {
		return simulatedIntel(e.base, addr, ellipticWatch,
			"Simulated Elliptic screening; configure ELLIPTIC_API_URL and ELLIPTIC_API_KEY for live data.",
			ellipticCategories), nil
	}

	req := ellipticRequest{
		Subject: ellipticSubject{Type: "address", Hash: string(addr), Asset: "holistic", Blockchain: "holistic"},
		Type:    "wallet_exposure",
	}
	var resp ellipticResponse
	headers := map[string]string{"Authorization": "Bearer " + e.api.Key}
	if err := e.http.postJSON(ctx, e.api.URL, headers, req, &resp); err != nil {
		return nil, err
	}

	f := e.finding(addr)
	if resp.RiskScore != nil {
		f.Score = int(math.Round(*resp.RiskScore * 10))
	}
	var d IntelDetails
	seen := make(map[string]bool)
	for _, rule := range append(resp.EvaluationDetail.Source, resp.EvaluationDetail.Destination...) {
		if strings.Contains(strings.ToLower(rule.RuleName), "sanction") {
			f.SanctionsHit = true
		}
		if rule.RuleName != "" {
			d.Reasons = append(d.Reasons, rule.RuleName)
		}
		for _, m := range rule.MatchedElements {
			if m.Category != "" && !seen[m.Category] {
				seen[m.Category] = true
				d.Categories = append(d.Categories, m.Category)
			}
		}
	}
	f.Details = d
	switch {
	case f.SanctionsHit:
		f.Notes = "Elliptic reports sanctions exposure."
	case len(d.Reasons) > 0:
		f.Notes = "Elliptic rules triggered: " + strings.Join(d.Reasons, ", ") + "."
	default:
		f.Notes = "No Elliptic rules triggered."
	}
	return f.Finalize(), nil
}

func ellipticCategories(band risk.Band, watch bool) IntelDetails {
	switch {
	case watch:
		return IntelDetails{Categories: []string{"Sanctions"}, Reasons: []string{"Possible watchlist match"}}
	case band == risk.BandMedium:
		return IntelDetails{Categories: []string{"Mixing", "DEX"}, Reasons: []string{"Behavioral heuristics"}}
	default:
		return IntelDetails{Categories: []string{"Exchange"}, Reasons: []string{"Behavioral heuristics"}}
	}
}
