package sanctions

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRouter(r *Registry) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandler(r).RegisterRoutes(router.Group("/api"))
	return router
}

func TestHandler_Update(t *testing.T) {
	src := listServer(t, string(listedA))
	r, _ := newTestRegistry(t, src.URL)
	router := setupRouter(r)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/ofac/update", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Success        bool     `json:"success"`
		TotalAddresses int      `json:"totalAddresses"`
		Addresses      []string `json:"addresses"`
		LastUpdate     string   `json:"lastUpdate"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, r.Len(), resp.TotalAddresses)
	assert.Contains(t, resp.Addresses, string(listedA))
	assert.NotEmpty(t, resp.LastUpdate)
}

func TestHandler_UpdateSamplesAddresses(t *testing.T) {
	lines := make([]string, 0, 25)
	for i := range 25 {
		lines = append(lines, fmt.Sprintf("0x%040x", 0xa000+i))
	}
	src := listServer(t, strings.Join(lines, "\n"))
	r, _ := newTestRegistry(t, src.URL)
	router := setupRouter(r)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/ofac/update", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		TotalAddresses int      `json:"totalAddresses"`
		Addresses      []string `json:"addresses"`
		Truncated      bool     `json:"addressesTruncated"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.GreaterOrEqual(t, resp.TotalAddresses, 25)
	require.Len(t, resp.Addresses, updateSample)
	assert.True(t, resp.Truncated)

	all := r.Addresses()
	for i, a := range resp.Addresses {
		assert.Equal(t, string(all[i]), a)
	}
}

func TestHandler_UpdateAllSourcesFail(t *testing.T) {
	down := statusServer(t, http.StatusNotFound, nil)
	r, _ := newTestRegistry(t, down.URL)
	router := setupRouter(r)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/ofac/update", nil))
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), `"success":false`)
	assert.Contains(t, w.Body.String(), `"source":"baseline"`)
}

func TestHandler_Stats(t *testing.T) {
	r, _ := newTestRegistry(t)
	router := setupRouter(r)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/ofac/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var st map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.EqualValues(t, r.Len(), st["totalSanctionedAddresses"])
	assert.Equal(t, StatusStale, st["status"])
	assert.Contains(t, st, "lastUpdate")
	assert.Contains(t, st, "nextUpdate")
}
