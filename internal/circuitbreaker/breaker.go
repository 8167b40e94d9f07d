// Package circuitbreaker guards upstream providers with a per-key
// closed → open → half-open state machine.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrOpen is returned by Do when the circuit for a key rejects the call.
var ErrOpen = errors.New("circuit open")

// State is the circuit state of one key.
type State int

const (
	StateClosed   State = iota // calls flow
	StateOpen                  // calls rejected
	StateHalfOpen              // one trial call in flight
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "walletrisk",
	Subsystem: "circuitbreaker",
	Name:      "state_transitions_total",
	Help:      "Upstream circuit state transitions by provider key.",
}, []string{"key", "from_state", "to_state"})

func init() {
	prometheus.MustRegister(transitions)
}

type circuit struct {
	state       State
	failures    int
	lastFailure time.Time
}

// Breaker holds one circuit per key. A circuit opens after threshold
// consecutive failures and admits a single trial call once openFor has elapsed.
type Breaker struct {
	mu           sync.Mutex
	circuits     map[string]*circuit
	threshold    int
	openFor      time.Duration
	now          func() time.Time
	onTransition func(key string, from, to State)
}

// New creates a Breaker. Non-positive arguments fall back to 5 failures
// and 30s.
func New(threshold int, openFor time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if openFor <= 0 {
		openFor = 30 * time.Second
	}
	return &Breaker{
		circuits:  make(map[string]*circuit),
		threshold: threshold,
		openFor:   openFor,
		now:       time.Now,
	}
}

// OnTransition registers a callback fired asynchronously on each state change.
func (b *Breaker) OnTransition(fn func(key string, from, to State)) {
	b.mu.Lock()
	b.onTransition = fn
	b.mu.Unlock()
}

// Allow reports whether a call for key may proceed.
func (b *Breaker) Allow(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		return true
	}
	switch c.state {
	case StateOpen:
		if b.now().Sub(c.lastFailure) >= b.openFor {
			b.move(c, key, StateHalfOpen)
			return true
		}
		return false
	case StateHalfOpen:
		return false
	default:
		return true
	}
}

// RecordSuccess resets the failure count and closes a half-open circuit.
func (b *Breaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		return
	}
	if c.state == StateHalfOpen {
		b.move(c, key, StateClosed)
	}
	c.failures = 0
}

// RecordFailure counts a failure and opens the circuit at the threshold.
// A failed trial call reopens immediately.
func (b *Breaker) RecordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		c = &circuit{}
		b.circuits[key] = c
	}
	c.failures++
	c.lastFailure = b.now()

	switch {
	case c.state == StateHalfOpen:
		b.move(c, key, StateOpen)
	case c.state == StateClosed && c.failures >= b.threshold:
		b.move(c, key, StateOpen)
	}
}

// State returns the state for key; unknown keys are closed.
func (b *Breaker) State(key string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.circuits[key]; ok {
		return c.state
	}
	return StateClosed
}

// Do runs fn if the circuit for key allows it and records the outcome.
// Errors for which countable returns false (e.g. a 4xx from upstream) do
// not count against the circuit. A nil countable counts every error.
func (b *Breaker) Do(key string, countable func(error) bool, fn func() error) error {
	if !b.Allow(key) {
		return ErrOpen
	}
	err := fn()
	if err != nil && (countable == nil || countable(err)) {
		b.RecordFailure(key)
		return err
	}
	b.RecordSuccess(key)
	return err
}

// move changes state. Caller must hold b.mu.
func (b *Breaker) move(c *circuit, key string, to State) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	transitions.WithLabelValues(key, from.String(), to.String()).Inc()
	if fn := b.onTransition; fn != nil {
		go fn(key, from, to)
	}
}
