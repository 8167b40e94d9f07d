// Package webhooks pushes risk alerts to external services.
//
// Subscribers register a URL and the events they care about:
// - a completed analysis, or only high-risk ones
// - an analysis that hit the sanctions registry
// - a sanctions list refresh
//
// A subscription may also name addresses to watch; it then only receives
// analysis events for those addresses.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/mbd888/walletrisk/internal/retry"
	"github.com/mbd888/walletrisk/internal/risk"
)

// ErrNotFound is returned when a subscription does not exist.
var ErrNotFound = errors.New("webhooks: subscription not found")

// EventType represents the type of webhook event
type EventType string

const (
	EventAnalysisCompleted  EventType = "analysis.completed"
	EventAnalysisHighRisk   EventType = "analysis.high_risk"
	EventAnalysisSanctioned EventType = "analysis.sanctions_hit"
	EventSanctionsRefreshed EventType = "sanctions.refreshed"
)

// KnownEvents lists every event a subscription may name.
var KnownEvents = []EventType{
	EventAnalysisCompleted,
	EventAnalysisHighRisk,
	EventAnalysisSanctioned,
	EventSanctionsRefreshed,
}

// Signature headers set on every delivery.
const (
	HeaderEvent     = "X-Walletrisk-Event"
	HeaderTimestamp = "X-Walletrisk-Timestamp"
	HeaderSignature = "X-Walletrisk-Signature"
)

// maxConsecutiveFailures deactivates a subscription that keeps failing.
const maxConsecutiveFailures = 10

// Event represents a webhook event
type Event struct {
	ID        string       `json:"id"`
	Type      EventType    `json:"type"`
	Timestamp time.Time    `json:"timestamp"`
	Address   risk.Address `json:"address,omitempty"`
	Data      any          `json:"data"`
}

// Subscription represents a webhook subscription
type Subscription struct {
	ID                  string         `json:"id"`
	URL                 string         `json:"url"`
	Secret              string         `json:"-"` // HMAC key
	Events              []EventType    `json:"events"`
	Addresses           []risk.Address `json:"addresses,omitempty"`
	Active              bool           `json:"active"`
	CreatedAt           time.Time      `json:"createdAt"`
	LastSuccess         *time.Time     `json:"lastSuccess,omitempty"`
	LastError           string         `json:"lastError,omitempty"`
	ConsecutiveFailures int            `json:"consecutiveFailures"`
}

// Wants reports whether the subscription should receive ev.
func (s *Subscription) Wants(ev *Event) bool {
	if !s.Active || !slices.Contains(s.Events, ev.Type) {
		return false
	}
	if len(s.Addresses) == 0 || ev.Address == "" {
		return true
	}
	return slices.Contains(s.Addresses, ev.Address)
}

// Store persists webhook subscriptions. Implementations return copies.
//
// Delivery outcomes are recorded in place so that concurrent deliveries to
// one subscription never lose a failure: RecordFailure increments the
// counter atomically and deactivates the subscription once it reaches
// limit. It returns the new count and whether the subscription is still
// active.
type Store interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	List(ctx context.Context) ([]*Subscription, error)
	ListByEvent(ctx context.Context, eventType EventType) ([]*Subscription, error)
	RecordSuccess(ctx context.Context, id string, at time.Time) error
	RecordFailure(ctx context.Context, id, msg string, limit int) (failures int, active bool, err error)
	Delete(ctx context.Context, id string) error
}

// Dispatcher sends webhook events
type Dispatcher struct {
	store     Store
	client    *http.Client
	logger    *slog.Logger
	attempts  int
	baseDelay time.Duration
	timeout   time.Duration
	wg        sync.WaitGroup
}

// NewDispatcher creates a new webhook dispatcher
func NewDispatcher(store Store, client *http.Client, logger *slog.Logger) *Dispatcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:     store,
		client:    client,
		logger:    logger,
		attempts:  3,
		baseDelay: time.Second,
		timeout:   30 * time.Second,
	}
}

// Dispatch sends an event to every matching subscriber. Deliveries run in
// the background and outlive ctx; Wait blocks until they finish.
func (d *Dispatcher) Dispatch(ctx context.Context, event *Event) (int, error) {
	subs, err := d.store.ListByEvent(ctx, event.Type)
	if err != nil {
		return 0, fmt.Errorf("failed to get subscribers: %w", err)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event: %w", err)
	}

	sent := 0
	for _, sub := range subs {
		if !sub.Wants(event) {
			continue
		}
		sent++
		d.wg.Add(1)
		go func(sub *Subscription) {
			defer d.wg.Done()
			sendCtx, cancel := context.WithTimeout(context.Background(), d.timeout)
			defer cancel()
			d.deliver(sendCtx, sub, event, payload)
		}(sub)
	}
	return sent, nil
}

// Wait blocks until in-flight deliveries finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, sub *Subscription, event *Event, payload []byte) {
	err := retry.Do(ctx, d.attempts, d.baseDelay, func() error {
		return d.send(ctx, sub, event, payload)
	})
	if err != nil {
		d.logger.Warn("webhook delivery failed",
			"subscription", sub.ID, "event", event.Type, "error", err)
		d.updateError(ctx, sub, err.Error())
		return
	}
	d.updateSuccess(ctx, sub)
}

func (d *Dispatcher) send(ctx context.Context, sub *Subscription, event *Event, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, string(event.Type))
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(event.Timestamp.Unix(), 10))
	if sub.Secret != "" {
		req.Header.Set(HeaderSignature, Sign(payload, sub.Secret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("status %d", resp.StatusCode)
	default:
		return retry.Permanent(fmt.Errorf("status %d", resp.StatusCode))
	}
}

// Sign returns the hex HMAC-SHA256 of payload under secret, as sent in
// the X-Walletrisk-Signature header.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func (d *Dispatcher) updateSuccess(ctx context.Context, sub *Subscription) {
	err := d.store.RecordSuccess(ctx, sub.ID, time.Now().UTC().Truncate(time.Microsecond))
	if err != nil && !errors.Is(err, ErrNotFound) {
		d.logger.Warn("webhook status update failed", "subscription", sub.ID, "error", err)
	}
}

func (d *Dispatcher) updateError(ctx context.Context, sub *Subscription, errMsg string) {
	failures, active, err := d.store.RecordFailure(ctx, sub.ID, errMsg, maxConsecutiveFailures)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		d.logger.Warn("webhook status update failed", "subscription", sub.ID, "error", err)
	case !active && failures == maxConsecutiveFailures:
		d.logger.Warn("webhook deactivated after repeated failures",
			"subscription", sub.ID, "failures", failures)
	}
}
