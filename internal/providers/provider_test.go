package providers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/walletrisk/internal/addrbook"
	"github.com/mbd888/walletrisk/internal/config"
	"github.com/mbd888/walletrisk/internal/risk"
	"github.com/mbd888/walletrisk/internal/sanctions"
)

const (
	tornado      = risk.Address("0x8576acc5c05d6ce88f4e49bf65bdf0c62f91353c")
	vitalik      = risk.Address("0xab5801a7d398351b8be11c439e05c5b3259aec9b")
	shortDead    = risk.Address("0x0000000000000000000000000000000000dead")
	flashbots    = risk.Address("0x690b9a9e9aa1c9db991c7721a92d351db4fac990")
	plainAddr    = risk.Address("0x000000000000000000000000000000000000000a") // pseudo base 29, no flags
	ellipticFlag = risk.Address("0x0000000000000000000000000000000000000018") // pseudo base 19
	chainFlag    = risk.Address("0x0000000000000000000000000000000000000005") // pseudo base 85, divisible by 17
	ofacFuzzy    = risk.Address("0x0000000000000000000000000000000000000015") // pseudo %41 == 0
	blockFlag    = risk.Address("0x0000000000000000000000000000000000000009") // blockchain pseudo 23
)

func testDeps(t *testing.T) Deps {
	t.Helper()
	book := addrbook.Default()
	return Deps{
		Sanctions: sanctions.New(book, sanctions.Options{CacheFile: t.TempDir() + "/cache.json"}),
		Book:      book,
		Timeout:   2 * time.Second,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func simulatedCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Build(&config.Config{EtherscanChain: 1}, testDeps(t))
	require.NoError(t, err)
	return c
}

func TestBuild_AllSimulatedWithoutCredentials(t *testing.T) {
	c := simulatedCatalog(t)
	var keys []string
	for _, p := range c.All() {
		keys = append(keys, p.Key())
		assert.Equal(t, ModeSimulated, p.Mode(), p.Key())
	}
	assert.Equal(t, []string{"alchemy", "etherscan", "elliptic", "chainalysis", "ofac", "blockchain", "fireblocks", "bridge"}, keys)

	_, ok := c.Get("nope")
	assert.False(t, ok)
}

func TestNewCatalog_DuplicateKey(t *testing.T) {
	deps := testDeps(t)
	_, err := NewCatalog(NewSimulated("x", "X", deps), NewSimulated("x", "X2", deps))
	assert.Error(t, err)
}

func TestRoutePath(t *testing.T) {
	assert.Equal(t, "/ofac/screen", RoutePath(KeyOFAC))
	assert.Equal(t, "/alchemy/analyze", RoutePath(KeyAlchemy))
}

func TestRegistryHit_WinsOnEveryProvider(t *testing.T) {
	for _, p := range simulatedCatalog(t).All() {
		t.Run(p.Key(), func(t *testing.T) {
			f, err := p.Analyze(context.Background(), tornado)
			require.NoError(t, err)
			assert.True(t, f.SanctionsHit)
			assert.Equal(t, 100, f.Score)
			assert.Equal(t, risk.BandHigh, f.Risk)
			assert.Contains(t, f.Notes, "Tornado Cash")

			fb := p.Fallback(tornado)
			assert.True(t, fb.SanctionsHit)
			assert.True(t, fb.Fallback)
			assert.Equal(t, risk.BandHigh, fb.Risk)
		})
	}
}

func TestRegistryHit_Details(t *testing.T) {
	f, err := NewOFAC(config.Provider{}, testDeps(t)).Analyze(context.Background(), tornado)
	require.NoError(t, err)
	d, ok := f.Details.(OFACDetails)
	require.True(t, ok)
	require.Len(t, d.Matches, 1)
	assert.Equal(t, "OFAC SDN", d.Matches[0].ListName)
	assert.Equal(t, "SDN-TORNADO-2022-01", d.Matches[0].Reference)
	assert.InDelta(t, 1.0, d.Matches[0].Score, 0.0001)
}

func TestKnownSafe_NeverHigh(t *testing.T) {
	c := simulatedCatalog(t)
	for _, addr := range []risk.Address{vitalik, shortDead, "0x000000000000000000000000000000000000dead", "0x3f5ce5fbfe3e9af3971dd833d26ba9b5c936f0be"} {
		for _, p := range c.All() {
			f, err := p.Analyze(context.Background(), addr)
			require.NoError(t, err)
			assert.NotEqual(t, risk.BandHigh, f.Risk, "%s %s", p.Key(), addr)
			assert.False(t, f.SanctionsHit)
			assert.NotEqual(t, risk.BandHigh, p.Fallback(addr).Risk, "fallback %s %s", p.Key(), addr)
		}
	}
}

func TestKnownSafe_ShortBurnAddress(t *testing.T) {
	p := NewSimulated(KeyBridge, "Bridge", testDeps(t))
	f, err := p.Analyze(context.Background(), shortDead)
	require.NoError(t, err)
	assert.LessOrEqual(t, f.Score, knownSafeCeiling)
	assert.Equal(t, risk.BandLow, f.Risk)
	assert.Contains(t, f.Notes, "Burn address")
}

func TestBuilder_ScoresFive(t *testing.T) {
	f, err := NewElliptic(config.Provider{}, testDeps(t)).Analyze(context.Background(), flashbots)
	require.NoError(t, err)
	assert.Equal(t, builderScore, f.Score)
	assert.Equal(t, risk.BandLow, f.Risk)
	assert.Contains(t, f.Notes, "Flashbots")
}

func TestSimulated_Deterministic(t *testing.T) {
	for _, p := range simulatedCatalog(t).All() {
		a, err := p.Analyze(context.Background(), plainAddr)
		require.NoError(t, err)
		b, err := p.Analyze(context.Background(), plainAddr)
		require.NoError(t, err)
		assert.Equal(t, a.Score, b.Score, p.Key())
		assert.True(t, a.Simulated, p.Key())
		assert.Equal(t, risk.Classify(a.Score, a.SanctionsHit), a.Risk)
	}
}

func TestSimulatedExplorer_StaysInHeuristicRange(t *testing.T) {
	c := simulatedCatalog(t)
	for _, key := range []string{KeyAlchemy, KeyEtherscan} {
		p, _ := c.Get(key)
		for i := 1; i < 200; i++ {
			addr := risk.Address(fmt.Sprintf("0x%040x", i*7919))
			f, err := p.Analyze(context.Background(), addr)
			require.NoError(t, err)
			assert.LessOrEqual(t, f.Score, heuristicCeiling)
		}
	}
}

func TestSimulated_FlaggedScore(t *testing.T) {
	p := NewSimulated(KeyBlockchain, "Blockchain.com", testDeps(t))
	f, err := p.Analyze(context.Background(), blockFlag)
	require.NoError(t, err)
	assert.Equal(t, 95, f.Score)
	assert.Equal(t, risk.BandHigh, f.Risk)
	assert.False(t, f.SanctionsHit)
}

func TestElliptic_SimulatedWatchlist(t *testing.T) {
	f, err := NewElliptic(config.Provider{}, testDeps(t)).Analyze(context.Background(), ellipticFlag)
	require.NoError(t, err)
	assert.Equal(t, 92, f.Score)
	assert.False(t, f.SanctionsHit)
	d := f.Details.(IntelDetails)
	assert.True(t, d.Watchlist)
	assert.Equal(t, []string{"Sanctions"}, d.Categories)
}

func TestElliptic_SimulatedPlain(t *testing.T) {
	f, err := NewElliptic(config.Provider{}, testDeps(t)).Analyze(context.Background(), plainAddr)
	require.NoError(t, err)
	assert.Equal(t, 29, f.Score)
	assert.Equal(t, risk.BandLow, f.Risk)
	assert.Equal(t, []string{"Exchange"}, f.Details.(IntelDetails).Categories)
}

func TestChainalysis_SimulatedWatchlist(t *testing.T) {
	f, err := NewChainalysis(config.Provider{}, testDeps(t)).Analyze(context.Background(), chainFlag)
	require.NoError(t, err)
	assert.Equal(t, 95, f.Score)
	assert.False(t, f.SanctionsHit)
	assert.True(t, f.Details.(IntelDetails).Watchlist)
}

func TestOFAC_SimulatedFuzzyMatch(t *testing.T) {
	f, err := NewOFAC(config.Provider{}, testDeps(t)).Analyze(context.Background(), ofacFuzzy)
	require.NoError(t, err)
	assert.False(t, f.SanctionsHit)
	assert.Equal(t, 87, f.Score)
	require.Len(t, f.Details.(OFACDetails).Matches, 1)
	assert.Equal(t, "Example Entity", f.Details.(OFACDetails).Matches[0].Entity)
}

func TestOFAC_SimulatedClean(t *testing.T) {
	f, err := NewOFAC(config.Provider{}, testDeps(t)).Analyze(context.Background(), plainAddr)
	require.NoError(t, err)
	assert.Equal(t, 0, f.Score)
	assert.Equal(t, risk.BandLow, f.Risk)
	assert.Empty(t, f.Details.(OFACDetails).Matches)
}

func TestFallback(t *testing.T) {
	deps := testDeps(t)

	t.Run("elliptic flag", func(t *testing.T) {
		f := NewElliptic(config.Provider{}, deps).Fallback("0x0000000000000000000000000000000000000002")
		assert.Equal(t, 90, f.Score)
		assert.True(t, f.Fallback)
		assert.True(t, f.Simulated)
	})
	t.Run("default flag", func(t *testing.T) {
		a, err := NewAlchemy("", deps)
		require.NoError(t, err)
		f := a.Fallback("0x0000000000000000000000000000000000000003")
		assert.Equal(t, 95, f.Score)
	})
	t.Run("ofac is zero", func(t *testing.T) {
		f := NewOFAC(config.Provider{}, deps).Fallback(ofacFuzzy)
		assert.Equal(t, 0, f.Score)
		assert.False(t, f.SanctionsHit)
		assert.True(t, f.Fallback)
	})
	t.Run("deterministic", func(t *testing.T) {
		p := NewChainalysis(config.Provider{}, deps)
		assert.Equal(t, p.Fallback(plainAddr).Score, p.Fallback(plainAddr).Score)
	})
}

type panicProvider struct{ *Simulated }

func (panicProvider) Analyze(context.Context, risk.Address) (*risk.Finding, error) {
	panic("boom")
}

func TestRun_RecoversPanic(t *testing.T) {
	p := panicProvider{NewSimulated("boom", "Boom", testDeps(t))}
	f, err := Run(context.Background(), p, plainAddr)
	assert.Nil(t, f)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
}
