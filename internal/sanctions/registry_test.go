package sanctions

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/walletrisk/internal/addrbook"
	"github.com/mbd888/walletrisk/internal/risk"
)

const (
	tornado    = risk.Address("0x8576acc5c05d6ce88f4e49bf65bdf0c62f91353c")
	listedA    = risk.Address("0x1111111111111111111111111111111111111111")
	listedB    = risk.Address("0x2222222222222222222222222222222222222222")
	overrideOn = risk.Address("0x3333333333333333333333333333333333333333")
)

func listServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func statusServer(t *testing.T, code int, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.WriteHeader(code)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestRegistry(t *testing.T, sources ...string) (*Registry, Options) {
	t.Helper()
	dir := t.TempDir()
	opts := Options{
		CacheFile:    filepath.Join(dir, "ofac-cache.json"),
		OverrideFile: filepath.Join(dir, "sanctioned.local.json"),
		Sources:      sources,
	}
	r := New(addrbook.Default(), opts)
	r.fetcher.baseDelay = time.Millisecond
	return r, opts
}

func TestNew_ServesBaseline(t *testing.T) {
	r, _ := newTestRegistry(t)

	assert.True(t, r.Contains(tornado))
	assert.True(t, r.Contains("0x8576ACC5C05D6CE88F4E49BF65BDF0C62F91353C"))
	assert.False(t, r.Contains(listedA))
	assert.Equal(t, len(addrbook.Default().Sanctioned()), r.Len())

	e, ok := r.Lookup(tornado)
	require.True(t, ok)
	assert.Equal(t, "baseline", e.Origin)
	assert.NotEmpty(t, e.Entity)

	st := r.Stats()
	assert.Equal(t, SourceBaseline, st.Source)
	assert.Equal(t, StatusStale, st.Status)
	assert.True(t, r.NeedsRefresh())
}

func TestExtractAddresses(t *testing.T) {
	data := []byte(`Digital Currency Address - ETH 0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA;
0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa, 0x1234 short, 0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb`)
	got := ExtractAddresses(data)
	assert.Equal(t, []risk.Address{
		"0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		"0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
	}, got)
	assert.Empty(t, ExtractAddresses([]byte("no addresses here")))
}

func TestRefresh_RoundTrip(t *testing.T) {
	src := listServer(t, fmt.Sprintf("%s\n%s\n", listedA, string(listedB)))
	r, opts := newTestRegistry(t, src.URL)

	res, err := r.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, r.Len(), res.TotalAddresses)
	assert.Equal(t, 2, res.Added)
	assert.Zero(t, res.Removed)
	assert.True(t, r.Contains(listedA))
	assert.True(t, r.Contains(listedB))
	assert.True(t, r.Contains(tornado), "baseline survives a refresh")
	assert.False(t, r.NeedsRefresh())
	assert.Equal(t, StatusFresh, r.Stats().Status)

	// Baseline metadata is not replaced by list entries.
	e, _ := r.Lookup(tornado)
	assert.Equal(t, "baseline", e.Origin)

	// A fresh process restores the same set from the cache file.
	reloaded := New(addrbook.Default(), opts)
	require.NoError(t, reloaded.Load())
	assert.Equal(t, r.Addresses(), reloaded.Addresses())
	assert.Equal(t, SourceCache, reloaded.Stats().Source)
	assert.WithinDuration(t, res.LastUpdate, reloaded.Stats().LastUpdate, time.Second)
}

func TestRefresh_CacheFileFormat(t *testing.T) {
	src := listServer(t, string(listedA))
	r, opts := newTestRegistry(t, src.URL)
	_, err := r.Refresh(context.Background())
	require.NoError(t, err)

	cf, err := NewFileCache(opts.CacheFile).Load()
	require.NoError(t, err)
	require.NotNil(t, cf)
	assert.Equal(t, len(cf.Addresses), cf.Count)
	assert.Contains(t, cf.Addresses, listedA)
	assert.False(t, cf.LastUpdate.IsZero())

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(opts.CacheFile))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".sanctions-")
	}
}

func TestRefresh_PartialFailure(t *testing.T) {
	var hits atomic.Int32
	bad := statusServer(t, http.StatusServiceUnavailable, &hits)
	good := listServer(t, string(listedA))
	r, _ := newTestRegistry(t, bad.URL, good.URL)

	res, err := r.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, r.Contains(listedA))
	assert.Equal(t, int32(3), hits.Load(), "5xx is retried")
	require.Len(t, res.Sources, 2)
	assert.NotEmpty(t, res.Sources[0].Error)
	assert.Empty(t, res.Sources[1].Error)
}

func TestRefresh_AllSourcesFail(t *testing.T) {
	var hits atomic.Int32
	notFound := statusServer(t, http.StatusNotFound, &hits)
	down := statusServer(t, http.StatusInternalServerError, nil)

	r, _ := newTestRegistry(t, notFound.URL, down.URL)
	before := r.Addresses()

	res, err := r.Refresh(context.Background())
	assert.Nil(t, res)
	var re *RefreshError
	require.True(t, errors.As(err, &re))
	assert.Len(t, re.Failures, 2)
	assert.Equal(t, int32(1), hits.Load(), "4xx is not retried")

	assert.Equal(t, before, r.Addresses(), "snapshot unchanged")
	assert.Equal(t, SourceBaseline, r.Stats().Source)
	assert.True(t, r.Contains(tornado))
}

func TestRefresh_NoSources(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, err := r.Refresh(context.Background())
	var re *RefreshError
	require.True(t, errors.As(err, &re))
	assert.Contains(t, err.Error(), "no sources configured")
}

func TestLoad_CorruptCacheFallsBackToBaseline(t *testing.T) {
	r, opts := newTestRegistry(t)
	require.NoError(t, os.WriteFile(opts.CacheFile, []byte("{not json"), 0o600))

	err := r.Load()
	assert.Error(t, err)
	assert.Equal(t, SourceBaseline, r.Stats().Source)
	assert.True(t, r.Contains(tornado))
}

func TestLoad_Overrides(t *testing.T) {
	r, opts := newTestRegistry(t)
	overrides := fmt.Sprintf(`[
		{"address": "%s", "entity": "Local Watchlist", "reference": "LOCAL-1"},
		{"address": "0x8576ACC5C05D6CE88F4E49BF65BDF0C62F91353C", "entity": "Tornado Cash Router"},
		{"address": ""}
	]`, "0x3333333333333333333333333333333333333333")
	require.NoError(t, os.WriteFile(opts.OverrideFile, []byte(overrides), 0o600))

	require.NoError(t, r.Load())
	assert.True(t, r.Contains(overrideOn))
	assert.Equal(t, 2, r.Stats().Overrides)

	e, ok := r.Lookup(tornado)
	require.True(t, ok)
	assert.Equal(t, "Tornado Cash Router", e.Entity, "override wins")
	assert.NotEmpty(t, e.Reference, "unset override fields keep baseline values")
	assert.Equal(t, "override", e.Origin)
}

func TestOverrides_PickedUpAfterLoad(t *testing.T) {
	r, opts := newTestRegistry(t)
	r.overrideCheckEvery = 0
	require.NoError(t, r.Load())
	assert.False(t, r.Contains(listedA))

	require.NoError(t, os.WriteFile(opts.OverrideFile,
		[]byte(`[{"address":"0x1111111111111111111111111111111111111111","entity":"Local Watchlist"}]`), 0o600))
	assert.True(t, r.Contains(listedA))
	assert.Equal(t, 1, r.Stats().Overrides)
	assert.True(t, r.Contains(tornado), "baseline kept")

	require.NoError(t, os.Remove(opts.OverrideFile))
	assert.False(t, r.Contains(listedA))
}

func TestOverrides_CheckThrottled(t *testing.T) {
	r, opts := newTestRegistry(t)
	r.overrideCheckEvery = time.Hour
	require.NoError(t, r.Load())
	assert.False(t, r.Contains(listedA))

	require.NoError(t, os.WriteFile(opts.OverrideFile,
		[]byte(`[{"address":"0x1111111111111111111111111111111111111111"}]`), 0o600))
	assert.False(t, r.Contains(listedA), "not re-read within the check interval")
}

func TestRefresh_OverrideOnlyEntriesNotCached(t *testing.T) {
	src := listServer(t, string(listedA))
	r, opts := newTestRegistry(t, src.URL)
	require.NoError(t, os.WriteFile(opts.OverrideFile,
		[]byte(`[{"address":"0x3333333333333333333333333333333333333333"}]`), 0o600))

	_, err := r.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, r.Contains(overrideOn))

	cf, err := NewFileCache(opts.CacheFile).Load()
	require.NoError(t, err)
	assert.NotContains(t, cf.Addresses, overrideOn)
}

func TestNeedsRefresh_Interval(t *testing.T) {
	src := listServer(t, string(listedA))
	r, _ := newTestRegistry(t, src.URL)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	_, err := r.Refresh(context.Background())
	require.NoError(t, err)
	assert.False(t, r.NeedsRefresh())
	assert.Equal(t, now.Add(DefaultInterval), r.Stats().NextUpdate)

	now = now.Add(DefaultInterval + time.Second)
	assert.True(t, r.NeedsRefresh())
	assert.Equal(t, StatusStale, r.Stats().Status)
}

func TestContains_ConcurrentWithRefresh(t *testing.T) {
	src := listServer(t, string(listedA))
	r, _ := newTestRegistry(t, src.URL)

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				if !r.Contains(tornado) {
					t.Error("baseline address missing during refresh")
					return
				}
			}
		}()
	}
	for i := 0; i < 5; i++ {
		_, err := r.Refresh(context.Background())
		require.NoError(t, err)
	}
	cancel()
	wg.Wait()
}

func TestOnRefresh(t *testing.T) {
	src := listServer(t, string(listedA))
	r, _ := newTestRegistry(t, src.URL)

	var got *RefreshResult
	r.OnRefresh(func(res *RefreshResult) { got = res })
	_, err := r.Refresh(context.Background())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Contains(t, got.Addresses, listedA)
}

func TestTimer_RefreshesWhenStale(t *testing.T) {
	src := listServer(t, string(listedA))
	r, _ := newTestRegistry(t, src.URL)
	timer := NewTimer(r, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		timer.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return r.Contains(listedA) }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, timer.Running())

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not stop")
	}
	assert.False(t, timer.Running())
}
