package providers

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Signals are the on-chain observations the explorer adapters collect.
type Signals struct {
	BalanceETH    decimal.Decimal
	TransferCount int
	UniqueSenders int
	IsContract    bool
	TokenCount    int
}

// Factor is one heuristic rule that fired.
type Factor struct {
	Name   string `json:"name"`
	Points int    `json:"points"`
}

const (
	heuristicBase        = 10
	highFrequencyTx      = 100
	elevatedActivityTx   = 50
	mixingMinTransfers   = 20
	mixingSenderRatio    = 0.8
	tokenDiversityTokens = 20
)

var whaleBalance = decimal.NewFromInt(1000)

// rule is one explorer heuristic worth a fixed number of points.
type rule struct {
	name   string
	points int
	fires  func(Signals) bool
}

var explorerRules = []rule{
	{"high_frequency", 20, func(s Signals) bool { return s.TransferCount >= highFrequencyTx }},
	{"elevated_activity", 10, func(s Signals) bool {
		return s.TransferCount >= elevatedActivityTx && s.TransferCount < highFrequencyTx
	}},
	{"mixing_pattern", 25, func(s Signals) bool {
		return s.TransferCount >= mixingMinTransfers &&
			float64(s.UniqueSenders)/float64(s.TransferCount) > mixingSenderRatio
	}},
	{"whale_balance", 10, func(s Signals) bool { return s.BalanceETH.GreaterThan(whaleBalance) }},
	{"contract_account", 5, func(s Signals) bool { return s.IsContract }},
	{"token_diversity", 5, func(s Signals) bool { return s.TokenCount >= tokenDiversityTokens }},
}

// scoreSignals applies the explorer heuristics: base 10 plus a fixed delta
// per rule, capped at heuristicCeiling.
func scoreSignals(s Signals) (int, []Factor) {
	return applyRules(s, explorerRules)
}

func applyRules(s Signals, rules []rule) (int, []Factor) {
	score := heuristicBase
	var factors []Factor
	for _, r := range rules {
		if r.fires(s) {
			score += r.points
			factors = append(factors, Factor{Name: r.name, Points: r.points})
		}
	}
	return min(score, heuristicCeiling), factors
}

// heuristicNotes lists the fired factors, or says nothing stood out.
func heuristicNotes(source string, factors []Factor) string {
	if len(factors) == 0 {
		return fmt.Sprintf("%s on-chain data: no risk factors detected.", source)
	}
	names := make([]string, len(factors))
	for i, f := range factors {
		names[i] = strings.ReplaceAll(f.Name, "_", " ")
	}
	return fmt.Sprintf("%s on-chain data: %s.", source, strings.Join(names, ", "))
}

// weiToETH converts a base-10 wei amount. Unparseable input is zero.
func weiToETH(wei string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(wei))
	if err != nil {
		return decimal.Zero
	}
	return d.Shift(-18)
}
