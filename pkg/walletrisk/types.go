package walletrisk

import (
	"encoding/json"
	"time"
)

// Band is the coarse risk verdict.
type Band string

const (
	BandLow     Band = "low"
	BandMedium  Band = "medium"
	BandHigh    Band = "high"
	BandPending Band = "pending"
)

// Finding is one provider's verdict on an address.
type Finding struct {
	ProviderKey  string          `json:"providerKey"`
	ProviderName string          `json:"providerName"`
	Address      string          `json:"address"`
	Score        int             `json:"score"`
	SanctionsHit bool            `json:"sanctionsHit"`
	Risk         Band            `json:"risk"`
	Notes        string          `json:"notes"`
	Simulated    bool            `json:"simulated"`
	Fallback     bool            `json:"fallback,omitempty"`
	Details      json.RawMessage `json:"details,omitempty"`
	CheckedAt    time.Time       `json:"checkedAt"`
}

// Report is the aggregate of several findings.
type Report struct {
	ID           string     `json:"id"`
	Address      string     `json:"address"`
	Findings     []*Finding `json:"findings"`
	Overall      Band       `json:"overall"`
	SanctionsHit bool       `json:"sanctionsHit"`
	Fallbacks    int        `json:"fallbacks"`
	StartedAt    time.Time  `json:"startedAt"`
	DurationMs   int64      `json:"durationMs"`
}

// Provider describes one intelligence source exposed by the service.
type Provider struct {
	Key  string `json:"key"`
	Name string `json:"name"`
	Mode string `json:"mode"`
	Path string `json:"path"`
}

// HistoryPage is one page of past reports, newest first.
type HistoryPage struct {
	Items      []*Report `json:"items"`
	NextCursor string    `json:"nextCursor,omitempty"`
	HasMore    bool      `json:"hasMore"`
}

// SanctionsStats summarizes the server's sanctions registry.
type SanctionsStats struct {
	TotalSanctionedAddresses int       `json:"totalSanctionedAddresses"`
	LastUpdate               time.Time `json:"lastUpdate"`
	NextUpdate               time.Time `json:"nextUpdate"`
	Status                   string    `json:"status"`
	Source                   string    `json:"source"`
	Overrides                int       `json:"overrides"`
}

// SourceResult is the outcome of one list download during a refresh.
type SourceResult struct {
	URL       string `json:"url"`
	Addresses int    `json:"addresses"`
	Error     string `json:"error,omitempty"`
}

// RefreshResult is returned by a successful sanctions refresh.
type RefreshResult struct {
	Success        bool           `json:"success"`
	TotalAddresses int            `json:"totalAddresses"`
	LastUpdate     time.Time      `json:"lastUpdate"`
	Added          int            `json:"added"`
	Removed        int            `json:"removed"`
	Sources        []SourceResult `json:"sources"`

	// Addresses is a sample of the list; AddressesTruncated reports whether
	// more exist.
	Addresses          []string `json:"addresses"`
	AddressesTruncated bool     `json:"addressesTruncated"`
}
