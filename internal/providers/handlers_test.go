package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/walletrisk/internal/config"
	"github.com/mbd888/walletrisk/internal/risk"
)

// stubProvider counts calls and returns a canned result.
type stubProvider struct {
	*Simulated
	calls atomic.Int32
	err   error
}

func (s *stubProvider) Analyze(ctx context.Context, addr risk.Address) (*risk.Finding, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return s.Simulated.Analyze(ctx, addr)
}

func setupRouter(t *testing.T, ps ...Provider) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	c, err := NewCatalog(ps...)
	require.NoError(t, err)
	router := gin.New()
	NewHandler(c).RegisterRoutes(router.Group("/api"))
	return router
}

func post(router *gin.Engine, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func TestHandler_InvalidAddressNeverReachesProvider(t *testing.T) {
	stub := &stubProvider{Simulated: NewSimulated("bridge", "Bridge", testDeps(t))}
	router := setupRouter(t, stub)

	for _, body := range []string{``, `{}`, `{"address":null}`, `{"address":12345678}`, `{"address":"0x12"}`, `{"address":"   0x1  "}`, `not json`} {
		w := post(router, "/api/bridge/analyze", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.Contains(t, w.Body.String(), `"error":"Invalid address"`, body)
	}
	assert.Zero(t, stub.calls.Load())
}

func TestHandler_Analyze(t *testing.T) {
	router := setupRouter(t, NewSimulated("bridge", "Bridge", testDeps(t)))

	w := post(router, "/api/bridge/analyze", `{"address":"  0x8576ACC5C05D6CE88F4E49BF65BDF0C62F91353C "}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var f risk.Finding
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &f))
	assert.Equal(t, "bridge", f.ProviderKey)
	assert.Equal(t, tornado, f.Address)
	assert.True(t, f.SanctionsHit)
	assert.Equal(t, risk.BandHigh, f.Risk)
}

func TestHandler_OFACScreenRoute(t *testing.T) {
	router := setupRouter(t, NewOFAC(config.Provider{}, testDeps(t)))
	w := post(router, "/api/ofac/screen", `{"address":"`+string(tornado)+`"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"matches":[`)
}

func TestHandler_ListProviders(t *testing.T) {
	router := setupRouter(t, NewSimulated("bridge", "Bridge", testDeps(t)), NewOFAC(config.Provider{}, testDeps(t)))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/providers", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Providers []Info `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Providers, 2)
	assert.Equal(t, Info{Key: "ofac", Name: "OFAC Screening", Mode: ModeSimulated, Path: "/ofac/screen"}, resp.Providers[1])
}

func TestHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		body   string
	}{
		{"upstream status passed through", &risk.UpstreamError{Provider: "bridge", Status: 429, Message: "slow down"}, 429, `{"error":"slow down"}`},
		{"transport failure", &risk.UpstreamError{Provider: "bridge", Message: "timeout"}, http.StatusBadGateway, `{"error":"timeout"}`},
		{"other", errors.New("boom"), http.StatusInternalServerError, `{"error":"Server error"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubProvider{Simulated: NewSimulated("bridge", "Bridge", testDeps(t)), err: tt.err}
			w := post(setupRouter(t, stub), "/api/bridge/analyze", `{"address":"`+string(plainAddr)+`"}`)
			assert.Equal(t, tt.status, w.Code)
			assert.JSONEq(t, tt.body, w.Body.String())
		})
	}
}
