// Package health reports whether the daemon can serve requests. The store
// must answer; a detached browser only degrades the report.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Status of one probe.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// Readiness values of a Report.
const (
	Ready    = "ready"
	NotReady = "not_ready"
)

// probeTimeout bounds a single probe.
const probeTimeout = 5 * time.Second

// CheckFunc probes one dependency.
type CheckFunc func(ctx context.Context) Status

// Report is the outcome of one readiness check.
type Report struct {
	Status string            `json:"status"`
	Checks map[string]Status `json:"checks"`
}

// Ready reports whether no probe is down.
func (r Report) Ready() bool {
	return r.Status == Ready
}

// Checker runs the registered probes.
type Checker struct {
	mu     sync.Mutex
	checks map[string]CheckFunc
	last   map[string]Status
	logger zerolog.Logger
}

// NewChecker creates a Checker with no probes.
func NewChecker(logger zerolog.Logger) *Checker {
	return &Checker{
		checks: make(map[string]CheckFunc),
		last:   make(map[string]Status),
		logger: logger.With().Str("component", "health").Logger(),
	}
}

// Register adds a named probe, replacing any probe of the same name.
func (c *Checker) Register(name string, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = fn
}

// Check runs every probe concurrently. Probes whose status changed since the
// previous check are logged.
func (c *Checker) Check(ctx context.Context) Report {
	c.mu.Lock()
	checks := make(map[string]CheckFunc, len(c.checks))
	for name, fn := range c.checks {
		checks[name] = fn
	}
	c.mu.Unlock()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[string]Status, len(checks))
	)
	for name, fn := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()
			s := fn(probeCtx)
			mu.Lock()
			results[name] = s
			mu.Unlock()
		}()
	}
	wg.Wait()

	report := Report{Status: Ready, Checks: results}
	c.mu.Lock()
	for name, s := range results {
		if s == StatusDown {
			report.Status = NotReady
		}
		if prev, ok := c.last[name]; ok && prev != s {
			c.logger.Info().Str("check", name).Str("from", string(prev)).Str("to", string(s)).Msg("health changed")
		}
	}
	c.last = results
	c.mu.Unlock()

	return report
}

// LivenessHandler answers /health while the process is up.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

// ReadinessHandler answers /ready with the Report, 503 when not ready.
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := c.Check(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if report.Ready() {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(report)
	}
}
