package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/mbd888/walletrisk/internal/circuitbreaker"
	"github.com/mbd888/walletrisk/internal/risk"
)

const maxErrorBody = 2048

// upstream issues JSON requests for one provider under its deadline and
// circuit breaker. Every failure comes back as a *risk.UpstreamError.
type upstream struct {
	provider string
	deps     Deps
}

func (u upstream) postJSON(ctx context.Context, endpoint string, headers map[string]string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return &risk.UpstreamError{Provider: u.provider, Message: "encode request", Err: err}
	}
	return u.do(ctx, http.MethodPost, endpoint, headers, payload, out)
}

func (u upstream) getJSON(ctx context.Context, endpoint string, query url.Values, out any) error {
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint += sep + query.Encode()
	}
	return u.do(ctx, http.MethodGet, endpoint, nil, nil, out)
}

func (u upstream) do(ctx context.Context, method, endpoint string, headers map[string]string, payload []byte, out any) error {
	ctx, cancel := context.WithTimeout(ctx, u.deps.Timeout)
	defer cancel()

	err := u.deps.Breaker.Do(u.provider, countsAgainstCircuit, func() error {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
		if err != nil {
			return &risk.UpstreamError{Provider: u.provider, Message: "build request", Err: err}
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := u.deps.Client.Do(req)
		if err != nil {
			return u.transportError(ctx, err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			msg := strings.TrimSpace(string(text))
			if msg == "" {
				msg = fmt.Sprintf("%s upstream error", u.provider)
			}
			return &risk.UpstreamError{Provider: u.provider, Status: resp.StatusCode, Message: msg}
		}
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &risk.UpstreamError{Provider: u.provider, Message: "malformed response", Err: err}
		}
		return nil
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return &risk.UpstreamError{Provider: u.provider, Message: "circuit open", Err: err}
	}
	return err
}

func (u upstream) transportError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &risk.UpstreamError{Provider: u.provider, Message: "timeout", Err: context.DeadlineExceeded}
	}
	return &risk.UpstreamError{Provider: u.provider, Message: "request failed", Err: err}
}

// countsAgainstCircuit ignores client errors other than 429 so that a bad
// request cannot open the circuit for everyone.
func countsAgainstCircuit(err error) bool {
	var ue *risk.UpstreamError
	if errors.As(err, &ue) && ue.Status >= 400 && ue.Status < 500 && ue.Status != http.StatusTooManyRequests {
		return false
	}
	return !errors.Is(err, context.Canceled)
}
