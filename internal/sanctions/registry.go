package sanctions

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbd888/walletrisk/internal/addrbook"
	"github.com/mbd888/walletrisk/internal/metrics"
	"github.com/mbd888/walletrisk/internal/risk"
)

// snapshot is immutable once published.
type snapshot struct {
	entries    map[risk.Address]Entry
	listed     []risk.Address // baseline and list addresses, without override-only ones
	lastUpdate time.Time
	source     Source
	overrides  int
}

// Options configures a Registry.
type Options struct {
	CacheFile    string
	OverrideFile string
	Sources      []string
	Interval     time.Duration
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

// Registry is the process-wide sanctions set.
type Registry struct {
	snap         atomic.Pointer[snapshot]
	baseline     []Entry
	cache        *FileCache
	overrideFile string
	sources      []string
	fetcher      *Fetcher
	interval     time.Duration
	logger       *slog.Logger
	now          func() time.Time

	refreshMu     sync.Mutex
	overrides     []Entry       // last successfully parsed override file, guarded by refreshMu
	overrideStamp overrideStamp // override file state when last read, guarded by refreshMu

	// The override file is re-checked on lookups at most this often.
	overrideCheckEvery time.Duration
	lastOverrideCheck  atomic.Int64

	listenersMu sync.RWMutex
	listeners   []func(*RefreshResult)
}

// New creates a registry seeded with the address book's sanctioned entries.
// It serves the baseline until Load or Refresh is called.
func New(book *addrbook.Book, opts Options) *Registry {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	r := &Registry{
		cache:        NewFileCache(opts.CacheFile),
		overrideFile: opts.OverrideFile,
		sources:      append([]string(nil), opts.Sources...),
		fetcher:      NewFetcher(opts.HTTPClient, opts.Logger),
		interval:     opts.Interval,
		logger:       opts.Logger,
		now:          time.Now,

		overrideCheckEvery: time.Second,
	}
	for _, e := range book.Sanctioned() {
		r.baseline = append(r.baseline, Entry{
			Address:   e.Address,
			Entity:    e.Entity,
			Reference: e.Reference,
			Network:   e.Network,
			Asset:     e.Asset,
			Origin:    "baseline",
		})
	}
	r.publish(r.build(nil, nil, time.Time{}, SourceBaseline))
	return r
}

// Load restores the snapshot from the cache file, falling back to the
// baseline, and applies the override file. The registry stays usable when
// Load returns an error; the error only says which input was skipped.
func (r *Registry) Load() error {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	var errs []error
	r.overrideStamp = statOverrides(r.overrideFile)
	if ov, err := LoadOverrides(r.overrideFile); err != nil {
		errs = append(errs, err)
	} else {
		r.overrides = ov
	}

	cf, err := r.cache.Load()
	switch {
	case err != nil:
		errs = append(errs, err)
		r.publish(r.build(nil, r.overrides, time.Time{}, SourceBaseline))
	case cf == nil || len(cf.Addresses) == 0:
		r.publish(r.build(nil, r.overrides, time.Time{}, SourceBaseline))
	default:
		r.publish(r.build(cf.Addresses, r.overrides, cf.LastUpdate, SourceCache))
	}

	s := r.snap.Load()
	r.logger.Info("sanctions registry loaded",
		"source", s.source, "addresses", len(s.entries), "overrides", s.overrides, "lastUpdate", s.lastUpdate)
	return errors.Join(errs...)
}

// Contains reports whether addr is sanctioned. Input is normalized.
func (r *Registry) Contains(addr risk.Address) bool {
	_, ok := r.Lookup(addr)
	return ok
}

// Lookup returns the entry for addr. Edits to the override file are picked
// up here, without waiting for the next refresh.
func (r *Registry) Lookup(addr risk.Address) (Entry, bool) {
	r.syncOverrides()
	e, ok := r.snap.Load().entries[risk.NormalizeAddress(string(addr))]
	return e, ok
}

// Len returns the number of sanctioned addresses.
func (r *Registry) Len() int {
	return len(r.snap.Load().entries)
}

// Addresses returns every sanctioned address, sorted.
func (r *Registry) Addresses() []risk.Address {
	return sortedKeys(r.snap.Load().entries)
}

// NeedsRefresh reports whether the snapshot is older than the interval.
// A snapshot that never came from a download always needs one.
func (r *Registry) NeedsRefresh() bool {
	last := r.snap.Load().lastUpdate
	return last.IsZero() || r.now().Sub(last) > r.interval
}

// Interval returns the refresh period.
func (r *Registry) Interval() time.Duration { return r.interval }

// Stats summarizes the current snapshot.
func (r *Registry) Stats() Stats {
	r.syncOverrides()
	s := r.snap.Load()
	st := Stats{
		TotalSanctionedAddresses: len(s.entries),
		LastUpdate:               s.lastUpdate,
		Status:                   StatusFresh,
		Source:                   s.source,
		Overrides:                s.overrides,
	}
	if r.NeedsRefresh() {
		st.Status = StatusStale
	}
	if s.lastUpdate.IsZero() {
		st.NextUpdate = r.now().UTC()
	} else {
		st.NextUpdate = s.lastUpdate.Add(r.interval)
	}
	return st
}

// OnRefresh registers fn to run after every successful refresh.
func (r *Registry) OnRefresh(fn func(*RefreshResult)) {
	r.listenersMu.Lock()
	r.listeners = append(r.listeners, fn)
	r.listenersMu.Unlock()
}

// Refresh downloads every source, unions the results with the baseline and
// the override file, publishes the new snapshot and persists it. Failed
// sources are skipped. When all of them fail the current snapshot is kept
// and a *RefreshError is returned.
func (r *Registry) Refresh(ctx context.Context) (*RefreshResult, error) {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	results := make([]SourceResult, len(r.sources))
	lists := make([][]risk.Address, len(r.sources))
	failures := make([]*SourceError, len(r.sources))

	var wg sync.WaitGroup
	for i, src := range r.sources {
		wg.Add(1)
		go func(i int, src string) {
			defer wg.Done()
			addrs, err := r.fetcher.Fetch(ctx, src)
			results[i] = SourceResult{URL: src, Addresses: len(addrs)}
			if err != nil {
				results[i].Error = err.Error()
				failures[i] = &SourceError{URL: src, Err: err}
				return
			}
			lists[i] = addrs
		}(i, src)
	}
	wg.Wait()

	var failed []*SourceError
	var downloaded []risk.Address
	for i, f := range failures {
		if f != nil {
			failed = append(failed, f)
			metrics.SanctionsSourceFailuresTotal.WithLabelValues(sourceLabel(f.URL)).Inc()
			r.logger.Warn("sanctions source failed", "url", f.URL, "error", f.Err)
			continue
		}
		downloaded = append(downloaded, lists[i]...)
	}
	if len(failed) == len(r.sources) {
		metrics.SanctionsRefreshTotal.WithLabelValues("failed").Inc()
		return nil, &RefreshError{Failures: failed}
	}

	r.overrideStamp = statOverrides(r.overrideFile)
	if ov, err := LoadOverrides(r.overrideFile); err != nil {
		r.logger.Warn("sanctions overrides not reloaded", "error", err)
	} else {
		r.overrides = ov
	}

	prev := r.snap.Load()
	next := r.build(downloaded, r.overrides, r.now().UTC(), SourceRemote)
	r.publish(next)

	if err := r.cache.Save(next.listed, next.lastUpdate); err != nil {
		r.logger.Error("sanctions cache not written", "path", r.cache.Path(), "error", err)
	}

	res := &RefreshResult{
		TotalAddresses: len(next.entries),
		LastUpdate:     next.lastUpdate,
		Sources:        results,
		Addresses:      sortedKeys(next.entries),
	}
	for a := range next.entries {
		if _, ok := prev.entries[a]; !ok {
			res.Added++
		}
	}
	for a := range prev.entries {
		if _, ok := next.entries[a]; !ok {
			res.Removed++
		}
	}
	metrics.SanctionsRefreshTotal.WithLabelValues(refreshLabel(len(failed))).Inc()
	r.logger.Info("sanctions registry refreshed",
		"addresses", res.TotalAddresses, "added", res.Added, "removed", res.Removed, "failedSources", len(failed))

	r.listenersMu.RLock()
	listeners := append([]func(*RefreshResult){}, r.listeners...)
	r.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(res)
	}
	return res, nil
}

// build assembles a snapshot. Downloaded lists carry addresses only, so they
// add entries without touching baseline metadata. Override entries are
// applied last and replace every field they set.
func (r *Registry) build(listed []risk.Address, overrides []Entry, lastUpdate time.Time, source Source) *snapshot {
	entries := make(map[risk.Address]Entry, len(r.baseline)+len(listed)+len(overrides))
	for _, e := range r.baseline {
		entries[e.Address] = e
	}
	for _, a := range listed {
		a = risk.NormalizeAddress(string(a))
		if a == "" {
			continue
		}
		if _, ok := entries[a]; ok {
			continue
		}
		entries[a] = Entry{Address: a, Entity: "OFAC SDN", Network: "ethereum", Origin: "list"}
	}
	s := &snapshot{
		listed:     sortedKeys(entries),
		lastUpdate: lastUpdate,
		source:     source,
		overrides:  len(overrides),
	}
	for _, o := range overrides {
		e, ok := entries[o.Address]
		if !ok {
			e = Entry{Address: o.Address}
		}
		entries[o.Address] = e.merge(o)
	}
	s.entries = entries
	return s
}

type overrideStamp struct {
	exists bool
	size   int64
	mod    time.Time
}

func (s overrideStamp) same(o overrideStamp) bool {
	return s.exists == o.exists && s.size == o.size && s.mod.Equal(o.mod)
}

func statOverrides(path string) overrideStamp {
	if path == "" {
		return overrideStamp{}
	}
	fi, err := os.Stat(path)
	if err != nil {
		return overrideStamp{}
	}
	return overrideStamp{exists: true, size: fi.Size(), mod: fi.ModTime()}
}

// syncOverrides republishes the current snapshot with the override file
// re-applied when the file changed since it was last read. A refresh in
// progress reads the file itself, so the check is skipped then.
func (r *Registry) syncOverrides() {
	if r.overrideFile == "" {
		return
	}
	now := time.Now().UnixNano()
	last := r.lastOverrideCheck.Load()
	if now-last < int64(r.overrideCheckEvery) || !r.lastOverrideCheck.CompareAndSwap(last, now) {
		return
	}
	if !r.refreshMu.TryLock() {
		return
	}
	defer r.refreshMu.Unlock()

	st := statOverrides(r.overrideFile)
	if st.same(r.overrideStamp) {
		return
	}
	r.overrideStamp = st
	ov, err := LoadOverrides(r.overrideFile)
	if err != nil {
		r.logger.Warn("sanctions overrides not reloaded", "error", err)
		return
	}
	r.overrides = ov
	cur := r.snap.Load()
	r.publish(r.build(cur.listed, ov, cur.lastUpdate, cur.source))
	r.logger.Info("sanctions overrides reloaded", "path", r.overrideFile, "overrides", len(ov))
}

func (r *Registry) publish(s *snapshot) {
	r.snap.Store(s)
	metrics.SanctionsAddresses.Set(float64(len(s.entries)))
}

func sortedKeys(m map[risk.Address]Entry) []risk.Address {
	out := make([]risk.Address, 0, len(m))
	for a := range m {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sourceLabel(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		return u.Host
	}
	return "invalid"
}

func refreshLabel(failed int) string {
	if failed > 0 {
		return "partial"
	}
	return "ok"
}
