// Package risk defines the normalized risk model shared by every provider.
//
// A Finding is what one provider concludes about one address. Findings carry
// a 0-100 score, a sanctions flag and a Band derived from both. The overall
// verdict for a request is the most severe Band among its findings.
package risk

import (
	"strings"
	"time"
)

// Band is a coarse risk classification.
type Band string

const (
	BandLow     Band = "low"
	BandMedium  Band = "medium"
	BandHigh    Band = "high"
	BandPending Band = "pending" // no usable findings yet
)

// Score thresholds for band classification.
const (
	HighThreshold   = 70
	MediumThreshold = 40
	MaxScore        = 100
)

// Severity orders bands: pending < low < medium < high.
func (b Band) Severity() int {
	switch b {
	case BandHigh:
		return 3
	case BandMedium:
		return 2
	case BandLow:
		return 1
	default:
		return 0
	}
}

// Classify derives a band from a score and the sanctions flag.
// A sanctions hit is always high regardless of score.
func Classify(score int, sanctionsHit bool) Band {
	switch {
	case sanctionsHit, score >= HighThreshold:
		return BandHigh
	case score >= MediumThreshold:
		return BandMedium
	default:
		return BandLow
	}
}

// Max returns the most severe band, or BandPending when bands is empty.
func Max(bands ...Band) Band {
	overall := BandPending
	for _, b := range bands {
		if b.Severity() > overall.Severity() {
			overall = b
		}
	}
	return overall
}

// Address is a chain account identifier, always lower-cased.
type Address string

// NormalizeAddress trims and lower-cases raw input.
func NormalizeAddress(s string) Address {
	return Address(strings.ToLower(strings.TrimSpace(s)))
}

func (a Address) String() string { return string(a) }

// Finding is the normalized output of one provider for one address.
type Finding struct {
	ProviderKey  string    `json:"providerKey"`
	ProviderName string    `json:"providerName"`
	Address      Address   `json:"address"`
	Score        int       `json:"score"`
	SanctionsHit bool      `json:"sanctionsHit"`
	Risk         Band      `json:"risk"`
	Notes        string    `json:"notes"`
	Simulated    bool      `json:"simulated"`
	Fallback     bool      `json:"fallback,omitempty"`
	Details      any       `json:"details,omitempty"`
	CheckedAt    time.Time `json:"checkedAt"`
}

// Finalize clamps the score and derives the band. Providers call it once
// before returning a finding.
func (f *Finding) Finalize() *Finding {
	if f.SanctionsHit {
		f.Score = MaxScore
	}
	f.Score = Clamp(f.Score, 0, MaxScore)
	f.Risk = Classify(f.Score, f.SanctionsHit)
	if f.CheckedAt.IsZero() {
		f.CheckedAt = time.Now().UTC()
	}
	return f
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
