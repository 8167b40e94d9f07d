// Package health runs named readiness checks for the service's subsystems.
package health

import (
	"context"
	"sync"
	"time"
)

// Status is the result of one check.
type Status struct {
	Name     string `json:"name"`
	Healthy  bool   `json:"healthy"`
	Critical bool   `json:"critical"`
	Detail   string `json:"detail,omitempty"`
}

// Checker reports the health of one subsystem.
type Checker func(ctx context.Context) Status

// Registry holds checks. Only critical checks decide readiness; the rest
// are reported as degraded.
type Registry struct {
	mu      sync.RWMutex
	checks  []check
	timeout time.Duration
}

type check struct {
	name     string
	critical bool
	fn       Checker
}

// NewRegistry creates a registry whose checks each get timeout to finish.
func NewRegistry(timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Registry{timeout: timeout}
}

// Register adds a critical check.
func (r *Registry) Register(name string, fn Checker) {
	r.add(name, true, fn)
}

// RegisterOptional adds a check that can fail without failing readiness.
func (r *Registry) RegisterOptional(name string, fn Checker) {
	r.add(name, false, fn)
}

func (r *Registry) add(name string, critical bool, fn Checker) {
	r.mu.Lock()
	r.checks = append(r.checks, check{name: name, critical: critical, fn: fn})
	r.mu.Unlock()
}

// CheckAll runs every check concurrently. healthy is false when any critical
// check fails; degraded is true when any optional check fails.
func (r *Registry) CheckAll(ctx context.Context) (healthy, degraded bool, statuses []Status) {
	r.mu.RLock()
	checks := make([]check, len(r.checks))
	copy(checks, r.checks)
	r.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	statuses = make([]Status, len(checks))
	var wg sync.WaitGroup
	for i, c := range checks {
		wg.Add(1)
		go func(i int, c check) {
			defer wg.Done()
			st := c.fn(ctx)
			st.Name = c.name
			st.Critical = c.critical
			statuses[i] = st
		}(i, c)
	}
	wg.Wait()

	healthy = true
	for _, st := range statuses {
		if st.Healthy {
			continue
		}
		if st.Critical {
			healthy = false
		} else {
			degraded = true
		}
	}
	return healthy, degraded, statuses
}
