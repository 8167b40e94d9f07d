package risk

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		score int
		hit   bool
		want  Band
	}{
		{0, false, BandLow},
		{39, false, BandLow},
		{40, false, BandMedium},
		{69, false, BandMedium},
		{70, false, BandHigh},
		{100, false, BandHigh},
		{0, true, BandHigh},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.score, tt.hit), "score=%d hit=%v", tt.score, tt.hit)
	}
}

func TestMax(t *testing.T) {
	assert.Equal(t, BandMedium, Max(BandLow, BandMedium))
	assert.Equal(t, BandHigh, Max(BandLow, BandHigh))
	assert.Equal(t, BandHigh, Max(BandHigh, BandMedium, BandLow))
	assert.Equal(t, BandLow, Max(BandLow))
	assert.Equal(t, BandPending, Max())
	assert.Equal(t, BandPending, Max(BandPending))
}

func TestNormalizeAddress(t *testing.T) {
	assert.Equal(t, Address("0xabcdef"), NormalizeAddress("  0xABCdef "))
}

func TestFinalize(t *testing.T) {
	f := (&Finding{Score: 140}).Finalize()
	assert.Equal(t, 100, f.Score)
	assert.Equal(t, BandHigh, f.Risk)
	assert.False(t, f.CheckedAt.IsZero())

	f = (&Finding{Score: 12, SanctionsHit: true}).Finalize()
	assert.Equal(t, 100, f.Score)
	assert.Equal(t, BandHigh, f.Risk)

	f = (&Finding{Score: -4}).Finalize()
	assert.Equal(t, 0, f.Score)
	assert.Equal(t, BandLow, f.Risk)
}

func TestPseudoScore(t *testing.T) {
	// "ab" -> 97*31 + 98 = 3105
	assert.Equal(t, 3105%100, PseudoScore("ab", 100))
	assert.Equal(t, 0, PseudoScore("ab", 0))

	a := PseudoScore("0x1234567890abcdef1234567890abcdef12345678", 100)
	b := PseudoScore("0x1234567890abcdef1234567890abcdef12345678", 100)
	assert.Equal(t, a, b)
	assert.GreaterOrEqual(t, a, 0)
	assert.Less(t, a, 100)
}

func TestPseudoScore_Wraps(t *testing.T) {
	// Long inputs overflow 32 bits; the result must stay in range.
	long := "0xffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"
	for mod := 1; mod < 200; mod += 7 {
		v := PseudoScore(long, mod)
		assert.GreaterOrEqual(t, v, 0)
		assert.Less(t, v, mod)
	}
}

func TestSimulatedScore_DependsOnProvider(t *testing.T) {
	addr := Address("0x1234567890abcdef1234567890abcdef12345678")
	assert.Equal(t, SimulatedScore(addr, "bridge"), SimulatedScore(addr, "bridge"))
	assert.Equal(t, PseudoScore(string(addr)+":bridge", 100), SimulatedScore(addr, "bridge"))
}

func TestUpstreamError(t *testing.T) {
	cause := errors.New("connection refused")
	err := error(&UpstreamError{Provider: "chainalysis", Status: 503, Message: "busy", Err: cause})

	assert.True(t, errors.Is(err, ErrUpstream))
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "503")

	var ue *UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, "chainalysis", ue.Provider)

	err = &UpstreamError{Provider: "ofac", Err: cause}
	assert.Equal(t, "ofac upstream error: connection refused", err.Error())
}
