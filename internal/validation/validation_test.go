package validation

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/walletrisk/internal/risk"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		name    string
		input   any
		want    risk.Address
		wantErr bool
	}{
		{"full address", "0xAB5801a7D398351b8bE11C439e05C5B3259aeC9B", "0xab5801a7d398351b8be11c439e05c5b3259aec9b", false},
		{"exactly six chars", "0xabcd", "0xabcd", false},
		{"trimmed", "  0xABCDEF  ", "0xabcdef", false},
		{"nil", nil, "", true},
		{"empty", "", "", true},
		{"whitespace", "      ", "", true},
		{"too short", "0xabc", "", true},
		{"number", 123456789, "", true},
		{"float", 1.5, "", true},
		{"object", map[string]any{"a": "b"}, "", true},
		{"bool", true, "", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseAddress(tc.input)
			if tc.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidAddress))
				var ae *AddressError
				assert.True(t, errors.As(err, &ae))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func bindRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/analyze", func(c *gin.Context) {
		addr, ok := BindAddress(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, gin.H{"address": addr})
	})
	r.GET("/analyses/:address", AddressParamMiddleware(), func(c *gin.Context) {
		addr, ok := AddressParam(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"address": addr})
	})
	return r
}

func TestBindAddress(t *testing.T) {
	r := bindRouter()

	tests := []struct {
		name string
		body string
		code int
	}{
		{"valid", `{"address":"0xABCDEF123"}`, http.StatusOK},
		{"missing", `{}`, http.StatusBadRequest},
		{"not a string", `{"address":12345678}`, http.StatusBadRequest},
		{"short", `{"address":"0x1"}`, http.StatusBadRequest},
		{"malformed json", `{"address":`, http.StatusBadRequest},
		{"empty body", ``, http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/analyze", strings.NewReader(tc.body))
			req.Header.Set("Content-Type", "application/json")
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.code, w.Code, w.Body.String())
			if tc.code == http.StatusBadRequest {
				assert.Contains(t, w.Body.String(), "Invalid address")
			}
		})
	}
}

func TestBindAddress_Normalizes(t *testing.T) {
	r := bindRouter()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/analyze", strings.NewReader(`{"address":"0xABCDEF123"}`))
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"0xabcdef123"`)
}

func TestAddressParamMiddleware(t *testing.T) {
	r := bindRouter()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/analyses/0xABCDEF", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "0xabcdef")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/analyses/0x1", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRequestSizeMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestSizeMiddleware(16))
	r.POST("/analyze", func(c *gin.Context) {
		if _, ok := BindAddress(c); !ok {
			return
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	body := `{"address":"` + strings.Repeat("a", 64) + `"}`
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/analyze", strings.NewReader(body)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
