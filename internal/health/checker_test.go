package health_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/emerick42/kairoi/internal/health"
	"github.com/prometheus/client_golang/prometheus"
)

type mockEngine struct {
	last time.Time
}

func (m *mockEngine) LastTickAt() time.Time { return m.last }

type mockJournal struct {
	writable bool
}

func (m *mockJournal) Writable() bool { return m.writable }

func newTestChecker(e health.EngineProbe, j health.JournalProbe) (*health.Checker, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return health.NewChecker(e, j, logger, reg), reg
}

func TestLiveness_AlwaysUp(t *testing.T) {
	c, _ := newTestChecker(&mockEngine{}, &mockJournal{writable: false})

	result := c.Liveness(context.Background())
	if result.Status != "up" {
		t.Fatalf("expected status up, got %s", result.Status)
	}
	if result.Checks != nil {
		t.Fatalf("expected no checks, got %v", result.Checks)
	}
}

func TestReadiness_FreshTickAndWritableJournalIsUp(t *testing.T) {
	c, _ := newTestChecker(&mockEngine{last: time.Now()}, &mockJournal{writable: true})

	result := c.Readiness(context.Background())
	if result.Status != "up" {
		t.Fatalf("expected status up, got %s", result.Status)
	}
	if result.Checks["engine"].Status != "up" {
		t.Fatalf("expected engine up, got %+v", result.Checks["engine"])
	}
	if result.Checks["journal"].Status != "up" {
		t.Fatalf("expected journal up, got %+v", result.Checks["journal"])
	}
}

func TestReadiness_StaleTickIsDown(t *testing.T) {
	c, _ := newTestChecker(&mockEngine{last: time.Now().Add(-time.Hour)}, &mockJournal{writable: true})

	result := c.Readiness(context.Background())
	if result.Status != "down" {
		t.Fatalf("expected status down, got %s", result.Status)
	}
	if result.Checks["engine"].Status != "down" {
		t.Fatalf("expected engine down, got %+v", result.Checks["engine"])
	}
}

func TestReadiness_UnwritableJournalIsDown(t *testing.T) {
	c, _ := newTestChecker(&mockEngine{last: time.Now()}, &mockJournal{writable: false})

	result := c.Readiness(context.Background())
	if result.Status != "down" {
		t.Fatalf("expected status down, got %s", result.Status)
	}
	if result.Checks["journal"].Status != "down" {
		t.Fatalf("expected journal down, got %+v", result.Checks["journal"])
	}
}
