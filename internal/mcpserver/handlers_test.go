package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/walletrisk/pkg/walletrisk"
)

const tornado = "0x8576acc5c05d6ce88f4e49bf65bdf0c62f91353c"

// --- Test helpers ---

func newTestSetup(t *testing.T, handler http.Handler) *Handlers {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return NewHandlers(walletrisk.NewClient(ts.URL))
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ============================================================
// analyze_wallet
// ============================================================

func TestHandleAnalyzeWallet(t *testing.T) {
	var gotProviders []string
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/analyze", r.URL.Path)
		var body struct {
			Providers []string `json:"providers"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotProviders = body.Providers
		writeJSON(w, http.StatusOK, map[string]any{
			"address":      tornado,
			"overall":      "high",
			"sanctionsHit": true,
			"fallbacks":    1,
			"findings": []map[string]any{
				{"providerKey": "ofac", "providerName": "OFAC Screener", "score": 100, "risk": "high", "sanctionsHit": true, "notes": "Tornado Cash"},
				{"providerKey": "bridge", "providerName": "Bridge", "score": 95, "risk": "high", "simulated": true, "fallback": true},
			},
		})
	}))

	result, err := h.HandleAnalyzeWallet(context.Background(), makeRequest(map[string]any{
		"address":   tornado,
		"providers": "ofac, bridge,,",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, []string{"ofac", "bridge"}, gotProviders)

	text := resultText(t, result)
	assert.Contains(t, text, "Overall: HIGH")
	assert.Contains(t, text, "SANCTIONED")
	assert.Contains(t, text, "1 provider(s) were unreachable")
	assert.Contains(t, text, "OFAC Screener: high (score 100) [sanctioned]")
	assert.Contains(t, text, "[simulated, fallback]")
}

func TestHandleAnalyzeWallet_MissingAddress(t *testing.T) {
	h := NewHandlers(walletrisk.NewClient("http://127.0.0.1:0"))
	result, err := h.HandleAnalyzeWallet(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "address is required")
}

func TestHandleAnalyzeWallet_APIError(t *testing.T) {
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid address"})
	}))

	result, err := h.HandleAnalyzeWallet(context.Background(), makeRequest(map[string]any{"address": "0x1"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "Invalid address")
}

// ============================================================
// check_provider / screen_sanctions
// ============================================================

func TestHandleCheckProvider_IncludesDetails(t *testing.T) {
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/etherscan/analyze", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{
			"providerKey": "etherscan", "providerName": "Etherscan", "score": 40, "risk": "medium",
			"details": map[string]any{"totalTransactions": 150},
		})
	}))

	result, err := h.HandleCheckProvider(context.Background(), makeRequest(map[string]any{
		"provider": "etherscan",
		"address":  tornado,
	}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Etherscan: medium (score 40)")
	assert.Contains(t, text, `"totalTransactions": 150`)
}

func TestHandleCheckProvider_RequiresArguments(t *testing.T) {
	h := NewHandlers(walletrisk.NewClient("http://127.0.0.1:0"))

	result, err := h.HandleCheckProvider(context.Background(), makeRequest(map[string]any{"address": tornado}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "provider is required")

	result, err = h.HandleCheckProvider(context.Background(), makeRequest(map[string]any{"provider": "ofac"}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "address is required")
}

func TestHandleScreenSanctions(t *testing.T) {
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/ofac/screen", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{
			"providerKey": "ofac", "address": tornado, "score": 100, "risk": "high", "sanctionsHit": true,
		})
	}))

	result, err := h.HandleScreenSanctions(context.Background(), makeRequest(map[string]any{"address": tornado}))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(resultText(t, result), "SANCTIONED: "+tornado))
}

func TestHandleScreenSanctions_Clean(t *testing.T) {
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"providerKey": "ofac", "address": "0xabc", "risk": "low"})
	}))

	result, err := h.HandleScreenSanctions(context.Background(), makeRequest(map[string]any{"address": "0xabc"}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "No sanctions match")
}

// ============================================================
// list_providers / analysis_history
// ============================================================

func TestHandleListProviders(t *testing.T) {
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"providers": []map[string]string{
			{"key": "alchemy", "name": "Alchemy", "mode": "live"},
			{"key": "bridge", "name": "Bridge", "mode": "simulated"},
		}})
	}))

	result, err := h.HandleListProviders(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "2 provider(s)")
	assert.Contains(t, text, "simulated")
}

func TestHandleAnalysisHistory(t *testing.T) {
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "3", r.URL.Query().Get("limit"))
		writeJSON(w, http.StatusOK, map[string]any{
			"items": []map[string]any{
				{"id": "a", "overall": "high", "sanctionsHit": true, "startedAt": "2026-01-02T03:04:05Z"},
			},
			"hasMore": true,
		})
	}))

	result, err := h.HandleAnalysisHistory(context.Background(), makeRequest(map[string]any{
		"address": tornado,
		"limit":   float64(3),
	}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "overall=high  SANCTIONED")
	assert.Contains(t, text, "Older reports exist.")
}

func TestHandleAnalysisHistory_Empty(t *testing.T) {
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"items": []any{}, "hasMore": false})
	}))

	result, err := h.HandleAnalysisHistory(context.Background(), makeRequest(map[string]any{"address": tornado}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "No analyses recorded")
}

// ============================================================
// sanctions_stats / refresh_sanctions
// ============================================================

func TestHandleSanctionsStats(t *testing.T) {
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"totalSanctionedAddresses": 120, "status": "fresh", "source": "remote",
			"lastUpdate": "2026-01-02T03:04:05Z", "overrides": 2,
		})
	}))

	result, err := h.HandleSanctionsStats(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Addresses:   120")
	assert.Contains(t, text, "fresh (remote)")
	assert.Contains(t, text, "Overrides:   2")
}

func TestHandleRefreshSanctions(t *testing.T) {
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true, "totalAddresses": 130, "added": 12, "removed": 2,
			"sources": []map[string]any{
				{"url": "https://a.example/list.txt", "addresses": 130},
				{"url": "https://b.example/sdn.csv", "error": "timeout"},
			},
		})
	}))

	result, err := h.HandleRefreshSanctions(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "130 addresses (+12, -2)")
	assert.Contains(t, text, "failed (timeout)")
}

func TestHandleRefreshSanctions_AllSourcesFailed(t *testing.T) {
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadGateway, map[string]any{"success": false, "error": "all 2 sources failed"})
	}))

	result, err := h.HandleRefreshSanctions(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "all 2 sources failed")
}

// ============================================================
// Server wiring
// ============================================================

func TestNewMCPServer_RegistersTools(t *testing.T) {
	s := NewMCPServer(Config{APIURL: "http://localhost:4000"})
	require.NotNil(t, s)

	tools := s.ListTools()
	for _, name := range []string{
		"analyze_wallet", "check_provider", "screen_sanctions", "list_providers",
		"analysis_history", "sanctions_stats", "refresh_sanctions",
	} {
		assert.Contains(t, tools, name)
	}
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, splitList(""))
	assert.Equal(t, []string{"a", "b"}, splitList(" a ,b, "))
}
