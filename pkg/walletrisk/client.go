// Package walletrisk is a Go client for the walletrisk HTTP API.
package walletrisk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultBaseURL is where a locally started server listens.
const DefaultBaseURL = "http://localhost:4000"

// APIError is a non-2xx answer from the service.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// IsBadRequest reports whether err is a 400 from the service, which means
// an invalid address or an unknown provider.
func IsBadRequest(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest
}

// Client talks to one walletrisk server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default client (30s timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Providers lists the server's providers and whether each runs live.
func (c *Client) Providers(ctx context.Context) ([]Provider, error) {
	var resp struct {
		Providers []Provider `json:"providers"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/providers", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Providers, nil
}

// Check runs one provider against addr.
func (c *Client) Check(ctx context.Context, provider, addr string) (*Finding, error) {
	path := "/api/" + url.PathEscape(provider) + "/analyze"
	if provider == "ofac" {
		path = "/api/ofac/screen"
	}
	var f Finding
	if err := c.do(ctx, http.MethodPost, path, nil, map[string]string{"address": addr}, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// Screen checks addr against the OFAC screener.
func (c *Client) Screen(ctx context.Context, addr string) (*Finding, error) {
	return c.Check(ctx, "ofac", addr)
}

// Analyze runs the named providers, or all of them when none are given,
// and returns the aggregate report.
func (c *Client) Analyze(ctx context.Context, addr string, providers ...string) (*Report, error) {
	body := struct {
		Address   string   `json:"address"`
		Providers []string `json:"providers,omitempty"`
	}{addr, providers}

	var r Report
	if err := c.do(ctx, http.MethodPost, "/api/analyze", nil, body, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// History pages through past reports for addr. Pass the previous page's
// NextCursor to continue.
func (c *Client) History(ctx context.Context, addr string, limit int, cursor string) (*HistoryPage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var page HistoryPage
	if err := c.do(ctx, http.MethodGet, "/api/analyses/"+url.PathEscape(addr), q, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// SanctionsStats returns the registry summary.
func (c *Client) SanctionsStats(ctx context.Context) (*SanctionsStats, error) {
	var s SanctionsStats
	if err := c.do(ctx, http.MethodGet, "/api/ofac/stats", nil, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// RefreshSanctions asks the server to download the OFAC lists now.
func (c *Client) RefreshSanctions(ctx context.Context) (*RefreshResult, error) {
	var r RefreshResult
	if err := c.do(ctx, http.MethodPost, "/api/ofac/update", nil, nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// apiError is the error body the server writes.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		msg := strings.TrimSpace(string(respBody))
		var ae apiError
		if json.Unmarshal(respBody, &ae) == nil {
			switch {
			case ae.Message != "":
				msg = ae.Message
			case ae.Error != "":
				msg = ae.Error
			}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
