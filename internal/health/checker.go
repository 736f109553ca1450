// Package health adapts the teacher's dependency-ping pattern to
// Kairoi: there is no external database to ping, so readiness instead
// asks whether the scheduler cycle is still ticking and the journal
// file is still writable.
package health

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineProbe is satisfied by *engine.Engine.
type EngineProbe interface {
	LastTickAt() time.Time
}

// JournalProbe reports whether the persistence journal is still open
// for writes.
type JournalProbe interface {
	Writable() bool
}

// CheckResult represents the health of a single dependency.
type CheckResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HealthResult is the top-level health response.
type HealthResult struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// staleAfter bounds how old the last observed tick may be before the
// engine is considered unresponsive. It should comfortably exceed
// 1/framerate even at the slowest configured framerate.
const staleAfter = 5 * time.Second

// Checker verifies that the scheduler cycle is alive and the journal
// is writable.
type Checker struct {
	engine  EngineProbe
	journal JournalProbe
	logger  *slog.Logger
	gauge   *prometheus.GaugeVec
}

// NewChecker creates a health checker and registers its Prometheus gauge.
func NewChecker(engine EngineProbe, journal JournalProbe, logger *slog.Logger, reg prometheus.Registerer) *Checker {
	gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "kairoi",
		Name:      "health_check_up",
		Help:      "Whether a dependency is healthy. 1 = up, 0 = down.",
	}, []string{"dependency"})
	reg.MustRegister(gauge)

	return &Checker{
		engine:  engine,
		journal: journal,
		logger:  logger.With("component", "health"),
		gauge:   gauge,
	}
}

// Liveness returns a simple "up" response if the process is running.
func (c *Checker) Liveness(_ context.Context) HealthResult {
	return HealthResult{Status: "up"}
}

// Readiness checks that the engine has ticked recently and the journal
// is still writable.
func (c *Checker) Readiness(_ context.Context) HealthResult {
	result := HealthResult{
		Status: "up",
		Checks: make(map[string]CheckResult),
	}

	last := c.engine.LastTickAt()
	if last.IsZero() || time.Since(last) > staleAfter {
		c.logger.Warn("engine tick is stale", "last_tick", last)
		result.Status = "down"
		result.Checks["engine"] = CheckResult{Status: "down", Error: "no recent tick"}
		c.gauge.WithLabelValues("engine").Set(0)
	} else {
		result.Checks["engine"] = CheckResult{Status: "up"}
		c.gauge.WithLabelValues("engine").Set(1)
	}

	if !c.journal.Writable() {
		result.Status = "down"
		result.Checks["journal"] = CheckResult{Status: "down", Error: "journal not writable"}
		c.gauge.WithLabelValues("journal").Set(0)
	} else {
		result.Checks["journal"] = CheckResult{Status: "up"}
		c.gauge.WithLabelValues("journal").Set(1)
	}

	return result
}
