// Copyright © 2024 The Things Industries, distributed under the MIT license (see LICENSE file)

// Package health implements named health checks and an HTTP endpoint reporting them.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Check statuses.
const (
	Pass = "pass"
	Fail = "fail"
)

// CheckFunc checks one component. A nil error means the component is healthy.
type CheckFunc func(ctx context.Context) error

// Result of one check.
type Result struct {
	Status string `json:"status"`
	Output string `json:"output,omitempty"`
}

// Report of all checks.
type Report struct {
	Status string            `json:"status"`
	Uptime float64           `json:"uptime"`
	Checks map[string]Result `json:"checks"`
}

// Checker runs registered checks.
type Checker struct {
	started time.Time
	timeout time.Duration

	mu     sync.RWMutex
	checks map[string]CheckFunc
}

// NewChecker returns a new Checker. Each check gets at most timeout to complete.
func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Checker{
		started: time.Now(),
		timeout: timeout,
		checks:  make(map[string]CheckFunc),
	}
}

// Register a check. Registering a name twice replaces the earlier check.
func (c *Checker) Register(name string, check CheckFunc) {
	c.mu.Lock()
	c.checks[name] = check
	c.mu.Unlock()
}

// Names returns the names of the registered checks, sorted.
func (c *Checker) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run all checks concurrently.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	checks := make(map[string]CheckFunc, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	c.mu.RUnlock()

	report := Report{
		Status: Pass,
		Uptime: time.Since(c.started).Seconds(),
		Checks: make(map[string]Result, len(checks)),
	}
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for name, check := range checks {
		wg.Add(1)
		go func(name string, check CheckFunc) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			res := Result{Status: Pass}
			if err := check(ctx); err != nil {
				res = Result{Status: Fail, Output: err.Error()}
			}
			mu.Lock()
			report.Checks[name] = res
			if res.Status == Fail {
				report.Status = Fail
			}
			mu.Unlock()
		}(name, check)
	}
	wg.Wait()
	checkRuns.Inc()
	if report.Status == Fail {
		checkFailures.Inc()
	}
	return report
}

// ServeHTTP implements http.Handler.
func (c *Checker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report := c.Run(r.Context())
	w.Header().Set("Content-Type", "application/json")
	if report.Status != Pass {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(report)
}
