package runner

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/emerick42/kairoi/internal/domain"
	"github.com/emerick42/kairoi/internal/engine"
	"github.com/emerick42/kairoi/internal/processor"
)

type fakeReporter struct {
	mu      sync.Mutex
	reports []engine.OutcomeReport
}

func (f *fakeReporter) ReportExecution(r engine.OutcomeReport) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, r)
}

func (f *fakeReporter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reports)
}

func (f *fakeReporter) first() engine.OutcomeReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reports[0]
}

// blockingAMQPBackend blocks every Execute call until released, so tests
// can assert on how many calls are in flight at once.
type blockingAMQPBackend struct {
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	release     chan struct{}
}

func newBlockingAMQPBackend() *blockingAMQPBackend {
	return &blockingAMQPBackend{release: make(chan struct{})}
}

func (b *blockingAMQPBackend) Name() string { return "amqp" }

func (b *blockingAMQPBackend) Execute(ctx context.Context, job *domain.Job, args []string) domain.Status {
	n := b.inFlight.Add(1)
	defer b.inFlight.Add(-1)
	for {
		cur := b.maxInFlight.Load()
		if n <= cur || b.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	<-b.release
	return domain.StatusExecuted
}

func testPool(backends map[domain.RunnerKind]Backend) (*Pool, chan processor.ExecuteMsg, *fakeReporter) {
	in := make(chan processor.ExecuteMsg, 64)
	reporter := &fakeReporter{}
	p := New(slog.New(slog.NewTextHandler(io.Discard, nil)), in, reporter, nil, backends)
	return p, in, reporter
}

func TestPool_AMQPDispatchIsBoundedByDedicatedWorkers(t *testing.T) {
	backend := newBlockingAMQPBackend()
	p, in, _ := testPool(map[domain.RunnerKind]Backend{domain.RunnerAMQP: backend})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	const submitted = amqpWorkerCount * 3
	for i := 0; i < submitted; i++ {
		in <- processor.ExecuteMsg{
			Job:  &domain.Job{Identifier: "app.x"},
			Rule: &domain.Rule{Identifier: "r1", RunnerKind: domain.RunnerAMQP},
		}
	}

	// Give the pool time to drain as many as it will ever run
	// concurrently (bounded by amqpWorkerCount), then release them all.
	deadline := time.After(2 * time.Second)
	for backend.inFlight.Load() < amqpWorkerCount {
		select {
		case <-deadline:
			t.Fatalf("expected %d in-flight AMQP executions, got %d", amqpWorkerCount, backend.inFlight.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}

	// Give any would-be extra dispatch a chance to (wrongly) start.
	time.Sleep(100 * time.Millisecond)
	if got := backend.maxInFlight.Load(); got > amqpWorkerCount {
		t.Fatalf("expected at most %d concurrent AMQP executions, saw %d", amqpWorkerCount, got)
	}

	close(backend.release)
}

func TestPool_UnknownBackendReportsFailed(t *testing.T) {
	p, in, reporter := testPool(map[domain.RunnerKind]Backend{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	in <- processor.ExecuteMsg{
		Job:  &domain.Job{Identifier: "app.x"},
		Rule: &domain.Rule{Identifier: "r1", RunnerKind: domain.RunnerShell},
	}

	deadline := time.After(2 * time.Second)
	for reporter.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("expected a Failed outcome report for a rule with no compiled-in backend")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if got := reporter.first().Outcome; got != engine.OutcomeFailed {
		t.Fatalf("expected OutcomeFailed, got %v", got)
	}
}
