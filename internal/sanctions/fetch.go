package sanctions

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/mbd888/walletrisk/internal/retry"
	"github.com/mbd888/walletrisk/internal/risk"
)

// maxListBytes bounds a single list download.
const maxListBytes = 64 << 20

var addressPattern = regexp.MustCompile(`0x[0-9a-fA-F]{40}`)

// ExtractAddresses returns the distinct, lower-cased 20-byte hex addresses
// found anywhere in data, in order of first appearance.
func ExtractAddresses(data []byte) []risk.Address {
	matches := addressPattern.FindAll(data, -1)
	seen := make(map[risk.Address]struct{}, len(matches))
	out := make([]risk.Address, 0, len(matches))
	for _, m := range matches {
		a := risk.NormalizeAddress(string(m))
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}

// DefaultFetchTimeout bounds a single list download. Lists are large, so
// this is longer than the provider timeout.
const DefaultFetchTimeout = 30 * time.Second

// Fetcher downloads list sources with retries.
type Fetcher struct {
	client    *http.Client
	attempts  int
	baseDelay time.Duration
	logger    *slog.Logger
}

// NewFetcher creates a fetcher making up to three attempts per source.
func NewFetcher(client *http.Client, logger *slog.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: DefaultFetchTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{client: client, attempts: 3, baseDelay: 500 * time.Millisecond, logger: logger}
}

// Fetch downloads url and extracts its addresses. Client errors (4xx) are
// not retried.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]risk.Address, error) {
	var body []byte
	onRetry := func(attempt int, err error) {
		f.logger.Debug("sanctions source retry", "url", url, "attempt", attempt, "error", err)
	}
	err := retry.DoNotify(ctx, f.attempts, f.baseDelay, onRetry, func() error {
		b, err := f.get(ctx, url)
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ExtractAddresses(body), nil
}

type statusError struct {
	code int
}

func (e statusError) Error() string { return fmt.Sprintf("unexpected status %d", e.code) }

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	req.Header.Set("User-Agent", "walletrisk/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, retry.Permanent(err)
		}
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		serr := statusError{code: resp.StatusCode}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, retry.Permanent(serr)
		}
		return nil, serr
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxListBytes))
}
