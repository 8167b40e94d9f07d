// Package providers implements the blockchain-intelligence adapters.
//
// Every adapter follows the same precedence: a sanctions registry hit wins
// outright, a known-safe entity or block builder comes next, and only then
// is a heuristic (live) or pseudo (simulated) score computed. Adapters whose
// credentials are absent run in simulated mode rather than failing.
package providers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mbd888/walletrisk/internal/addrbook"
	"github.com/mbd888/walletrisk/internal/circuitbreaker"
	"github.com/mbd888/walletrisk/internal/risk"
	"github.com/mbd888/walletrisk/internal/sanctions"
)

// Mode tells whether an adapter talks to a real upstream.
type Mode string

const (
	ModeLive      Mode = "live"
	ModeSimulated Mode = "simulated"
)

// Provider is one intelligence source.
type Provider interface {
	Key() string
	Name() string
	Mode() Mode
	// Analyze returns a finalized finding, or an error when the upstream as
	// a whole could not be reached.
	Analyze(ctx context.Context, addr risk.Address) (*risk.Finding, error)
	// Fallback returns the deterministic finding used when Analyze fails.
	// It never performs I/O.
	Fallback(addr risk.Address) *risk.Finding
}

// SanctionsLookup is the read side of the sanctions registry.
type SanctionsLookup interface {
	Lookup(addr risk.Address) (sanctions.Entry, bool)
}

// Deps are the collaborators shared by all adapters.
type Deps struct {
	Sanctions SanctionsLookup
	Book      *addrbook.Book
	Breaker   *circuitbreaker.Breaker
	Client    *http.Client
	Timeout   time.Duration
	Logger    *slog.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Book == nil {
		d.Book = addrbook.Default()
	}
	if d.Breaker == nil {
		d.Breaker = circuitbreaker.New(5, 30*time.Second)
	}
	if d.Client == nil {
		d.Client = &http.Client{}
	}
	if d.Timeout <= 0 {
		d.Timeout = 10 * time.Second
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return d
}

// Info describes a provider for GET /api/providers.
type Info struct {
	Key  string `json:"key"`
	Name string `json:"name"`
	Mode Mode   `json:"mode"`
	Path string `json:"path"`
}

// Describe returns the listing entry for p.
func Describe(p Provider) Info {
	return Info{Key: p.Key(), Name: p.Name(), Mode: p.Mode(), Path: RoutePath(p.Key())}
}

// RoutePath is the single-provider endpoint under /api.
func RoutePath(key string) string {
	if key == KeyOFAC {
		return "/ofac/screen"
	}
	return "/" + key + "/analyze"
}

// SanctionsMatch is reported in a finding's details on a registry hit.
type SanctionsMatch struct {
	ListName  string  `json:"listName"`
	Entity    string  `json:"entity"`
	Reference string  `json:"reference,omitempty"`
	Network   string  `json:"network,omitempty"`
	Asset     string  `json:"asset,omitempty"`
	Score     float64 `json:"score"`
}

// KnownEntity is reported in a finding's details for allow-listed addresses.
type KnownEntity struct {
	Label    string            `json:"label"`
	Kind     string            `json:"kind,omitempty"`
	Category addrbook.Category `json:"category"`
}

const (
	builderScore     = 5
	knownSafeCeiling = 30
	heuristicCeiling = 80
)

// flag pushes pseudo scores divisible by mod up to score, so that simulated
// and fallback output covers the high band too.
type flag struct {
	mod   int
	score int
}

func (fl flag) apply(base int) (int, bool) {
	if fl.mod > 0 && base%fl.mod == 0 {
		return fl.score, true
	}
	return base, false
}

var defaultFallbackFlag = flag{mod: 23, score: 95}

// base carries what every adapter shares.
type base struct {
	key      string
	name     string
	deps     Deps
	fallback flag
}

func newBase(key, name string, deps Deps) base {
	return base{key: key, name: name, deps: deps.withDefaults(), fallback: defaultFallbackFlag}
}

func (b base) Key() string  { return b.key }
func (b base) Name() string { return b.name }

func (b base) finding(addr risk.Address) *risk.Finding {
	return &risk.Finding{ProviderKey: b.key, ProviderName: b.name, Address: addr}
}

// sanctionsHit returns the registry finding for a listed address.
func (b base) sanctionsHit(addr risk.Address) (*risk.Finding, bool) {
	if b.deps.Sanctions == nil {
		return nil, false
	}
	e, ok := b.deps.Sanctions.Lookup(addr)
	if !ok {
		return nil, false
	}
	f := b.finding(addr)
	f.SanctionsHit = true
	f.Score = risk.MaxScore
	entity := e.Entity
	if entity == "" {
		entity = "listed entity"
	}
	f.Notes = fmt.Sprintf("Sanctioned address (%s). Do not interact.", entity)
	f.Details = OFACDetails{Matches: []SanctionsMatch{matchFromEntry(e, 1.0)}}
	return f.Finalize(), true
}

// knownEntity returns the allow-list finding for builders and known-safe
// addresses. Builders score builderScore; other known entities get a
// deterministic score no higher than knownSafeCeiling.
func (b base) knownEntity(addr risk.Address) (*risk.Finding, bool) {
	if e, ok := b.deps.Book.Builder(addr); ok {
		f := b.finding(addr)
		f.Score = builderScore
		f.Notes = fmt.Sprintf("Known block builder (%s).", e.Label)
		f.Details = KnownEntity{Label: e.Label, Kind: e.Kind, Category: e.Category}
		return f.Finalize(), true
	}
	if e, ok := b.deps.Book.KnownSafe(addr); ok {
		f := b.finding(addr)
		f.Score = min(risk.PseudoScore(string(addr), 100), knownSafeCeiling)
		f.Notes = fmt.Sprintf("Known entity (%s).", e.Label)
		f.Details = KnownEntity{Label: e.Label, Kind: e.Kind, Category: e.Category}
		return f.Finalize(), true
	}
	return nil, false
}

// precheck applies the first two precedence steps.
func (b base) precheck(addr risk.Address) (*risk.Finding, bool) {
	if f, ok := b.sanctionsHit(addr); ok {
		return f, true
	}
	return b.knownEntity(addr)
}

// Fallback scores addr from the provider-keyed pseudo hash. Registry and
// address book precedence still apply since both are local.
func (b base) Fallback(addr risk.Address) *risk.Finding {
	f, ok := b.precheck(addr)
	if !ok {
		f = b.finding(addr)
		f.Score, _ = b.fallback.apply(risk.SimulatedScore(addr, b.key))
		f.Notes = "Provider unavailable; showing a deterministic fallback score."
		f.Finalize()
	}
	f.Simulated = true
	f.Fallback = true
	return f
}

func matchFromEntry(e sanctions.Entry, score float64) SanctionsMatch {
	entity := e.Entity
	if entity == "" {
		entity = "Unknown entity"
	}
	return SanctionsMatch{
		ListName:  "OFAC SDN",
		Entity:    entity,
		Reference: e.Reference,
		Network:   e.Network,
		Asset:     e.Asset,
		Score:     score,
	}
}
