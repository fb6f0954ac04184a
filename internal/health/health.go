// Package health runs dependency probes and folds them into one report.
package health

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"time"

	"paydash/internal/telemetry"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Pinger is satisfied by every store client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// CheckResult is the outcome of one named probe.
type CheckResult struct {
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Latency   string    `json:"latency,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	Uptime float64     `json:"uptime,omitempty"`
	Memory *MemoryInfo `json:"memory,omitempty"`
}

type MemoryInfo struct {
	Alloc      uint64 `json:"alloc"`
	HeapInuse  uint64 `json:"heapInuse"`
	Sys        uint64 `json:"sys"`
	Goroutines int    `json:"goroutines"`
}

// Report aggregates every check.
type Report struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

func (r Report) Healthy() bool {
	return r.Status == StatusHealthy
}

type check struct {
	name     string
	pinger   Pinger
	required bool
}

// Checker probes registered dependencies concurrently, each under its own timeout.
type Checker struct {
	checks  []check
	timeout time.Duration
	started time.Time
	now     func() time.Time
}

func NewChecker(timeout time.Duration) *Checker {
	return &Checker{timeout: timeout, started: telemetry.StartedAt(), now: time.Now}
}

// Require registers a dependency whose failure makes the report unhealthy.
func (c *Checker) Require(name string, p Pinger) {
	c.checks = append(c.checks, check{name: name, pinger: p, required: true})
}

// Optional registers a dependency whose failure only degrades the report.
func (c *Checker) Optional(name string, p Pinger) {
	c.checks = append(c.checks, check{name: name, pinger: p})
}

// Names lists the probes that Run reports, including the built-in application check.
func (c *Checker) Names() []string {
	names := []string{"application"}
	for _, ch := range c.checks {
		names = append(names, ch.name)
	}
	sort.Strings(names)
	return names
}

// Run executes every probe and aggregates the result.
func (c *Checker) Run(ctx context.Context) Report {
	report := Report{
		Status:    StatusHealthy,
		Timestamp: c.now().UTC(),
		Checks:    map[string]CheckResult{"application": c.application()},
	}

	results := make([]CheckResult, len(c.checks))
	var wg sync.WaitGroup
	for i, ch := range c.checks {
		wg.Add(1)
		go func(i int, ch check) {
			defer wg.Done()
			results[i] = c.probe(ctx, ch)
		}(i, ch)
	}
	wg.Wait()

	for i, ch := range c.checks {
		res := results[i]
		report.Checks[ch.name] = res
		up := 1.0
		if res.Status != StatusHealthy {
			up = 0
			switch {
			case ch.required:
				report.Status = StatusUnhealthy
			case report.Status == StatusHealthy:
				report.Status = StatusDegraded
			}
		}
		telemetry.HealthStatus.WithLabelValues(ch.name).Set(up)
	}
	return report
}

// Service runs a single named probe. ok is false when no probe has that name.
func (c *Checker) Service(ctx context.Context, name string) (CheckResult, bool) {
	if name == "application" {
		return c.application(), true
	}
	for _, ch := range c.checks {
		if ch.name == name {
			return c.probe(ctx, ch), true
		}
	}
	return CheckResult{}, false
}

func (c *Checker) probe(ctx context.Context, ch check) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := c.now()
	err := ch.pinger.Ping(ctx)
	res := CheckResult{
		Timestamp: c.now().UTC(),
		Latency:   time.Since(start).String(),
	}
	if err != nil {
		res.Status = StatusUnhealthy
		res.Message = ch.name + " connection failed: " + err.Error()
		res.Latency = ""
		return res
	}
	res.Status = StatusHealthy
	res.Message = ch.name + " connection active"
	return res
}

func (c *Checker) application() CheckResult {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return CheckResult{
		Status:    StatusHealthy,
		Message:   "application running",
		Timestamp: c.now().UTC(),
		Uptime:    time.Since(c.started).Seconds(),
		Memory: &MemoryInfo{
			Alloc:      ms.Alloc,
			HeapInuse:  ms.HeapInuse,
			Sys:        ms.Sys,
			Goroutines: runtime.NumGoroutine(),
		},
	}
}
