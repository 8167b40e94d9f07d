// Package sanctions maintains the process-wide registry of sanctioned
// addresses.
//
// Readers are served from an immutable snapshot swapped atomically on
// refresh, so Contains and Lookup never block on network or disk I/O. The
// snapshot is the union of the embedded baseline, the addresses downloaded
// from the configured list sources, and a local override file.
package sanctions

import (
	"fmt"
	"strings"
	"time"

	"github.com/mbd888/walletrisk/internal/risk"
)

// Source names where the current snapshot came from.
type Source string

const (
	SourceBaseline Source = "baseline"
	SourceCache    Source = "cache"
	SourceRemote   Source = "remote"
)

// Status values reported by Stats.
const (
	StatusFresh = "up_to_date"
	StatusStale = "stale"
)

// DefaultInterval is how long a snapshot stays fresh.
const DefaultInterval = 24 * time.Hour

// Entry describes one sanctioned address.
type Entry struct {
	Address   risk.Address `json:"address"`
	Entity    string       `json:"entity,omitempty"`
	Reference string       `json:"reference,omitempty"`
	Network   string       `json:"network,omitempty"`
	Asset     string       `json:"asset,omitempty"`
	Origin    string       `json:"origin,omitempty"` // baseline, remote or override
}

// merge overlays the non-empty fields of src onto e.
func (e Entry) merge(src Entry) Entry {
	if src.Entity != "" {
		e.Entity = src.Entity
	}
	if src.Reference != "" {
		e.Reference = src.Reference
	}
	if src.Network != "" {
		e.Network = src.Network
	}
	if src.Asset != "" {
		e.Asset = src.Asset
	}
	if src.Origin != "" {
		e.Origin = src.Origin
	}
	return e
}

// Stats is the registry summary served by GET /api/ofac/stats.
type Stats struct {
	TotalSanctionedAddresses int       `json:"totalSanctionedAddresses"`
	LastUpdate               time.Time `json:"lastUpdate"`
	NextUpdate               time.Time `json:"nextUpdate"`
	Status                   string    `json:"status"`
	Source                   Source    `json:"source"`
	Overrides                int       `json:"overrides"`
}

// SourceResult is the outcome of downloading one list.
type SourceResult struct {
	URL       string `json:"url"`
	Addresses int    `json:"addresses"`
	Error     string `json:"error,omitempty"`
}

// RefreshResult summarizes a successful refresh.
type RefreshResult struct {
	TotalAddresses int            `json:"totalAddresses"`
	Added          int            `json:"added"`
	Removed        int            `json:"removed"`
	LastUpdate     time.Time      `json:"lastUpdate"`
	Sources        []SourceResult `json:"sources"`
	Addresses      []risk.Address `json:"addresses"`
}

// SourceError is one failed list download.
type SourceError struct {
	URL string
	Err error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("sanctions source %s: %v", e.URL, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// RefreshError is returned when every configured source failed. The
// registry keeps serving its previous snapshot.
type RefreshError struct {
	Failures []*SourceError
}

func (e *RefreshError) Error() string {
	if len(e.Failures) == 0 {
		return "sanctions refresh: no sources configured"
	}
	urls := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		urls[i] = f.URL
	}
	return fmt.Sprintf("sanctions refresh: all %d sources failed (%s)", len(e.Failures), strings.Join(urls, ", "))
}

func (e *RefreshError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}
