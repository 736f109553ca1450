// Package processor implements the stateless pairing stage: it consumes
// triggered jobs from the Database Engine and forwards each, paired with
// its best-matching rule, to the Runner Pool. The Processor never
// mutates state and never persists anything.
package processor

import (
	"context"
	"log/slog"
	"time"

	"github.com/emerick42/kairoi/internal/domain"
	"github.com/emerick42/kairoi/internal/engine"
	"github.com/emerick42/kairoi/internal/metrics"
)

// ExecuteMsg is the (job, rule) handoff to the Runner Pool.
type ExecuteMsg struct {
	Job  *domain.Job
	Rule *domain.Rule
}

// Reporter is the subset of the Engine the Processor needs to report a
// pairing failure back — satisfied by *engine.Engine.
type Reporter interface {
	ReportExecution(engine.OutcomeReport)
}

// Processor subscribes to rule snapshots and pairs every job it receives
// from the Engine with the best matching rule, per the longest-prefix,
// lexicographic-tie-break contract in spec §3 invariant 5.
type Processor struct {
	logger *slog.Logger
	pairs  <-chan engine.PairMsg
	snaps  <-chan []*domain.Rule
	report Reporter
	out    chan ExecuteMsg

	rules []*domain.Rule // current snapshot, sorted by Identifier
}

func New(logger *slog.Logger, pairs <-chan engine.PairMsg, snaps <-chan []*domain.Rule, report Reporter, executeBuffer int) *Processor {
	return &Processor{
		logger: logger.With("component", "processor"),
		pairs:  pairs,
		snaps:  snaps,
		report: report,
		out:    make(chan ExecuteMsg, executeBuffer),
	}
}

// Execute returns the channel the Runner Pool consumes ExecuteMsg from.
// It is bounded: when full, Run blocks, which in turn stalls the
// Engine's Pair channel — the intended back-pressure mechanism.
func (p *Processor) Execute() <-chan ExecuteMsg {
	return p.out
}

// Run consumes Pair messages in FIFO order until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) {
	p.logger.Info("processor started")
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("processor shut down")
			return
		case snap := <-p.snaps:
			p.rules = snap
		case msg := <-p.pairs:
			p.handle(ctx, msg)
		}
	}
}

func (p *Processor) handle(ctx context.Context, msg engine.PairMsg) {
	start := time.Now()
	rule := BestMatch(p.rules, msg.Job.Identifier)
	metrics.PairingDuration.Observe(time.Since(start).Seconds())

	if rule == nil {
		metrics.PairingFailuresTotal.Inc()
		p.logger.Info("no matching rule", "job", msg.Job.Identifier)
		p.report.ReportExecution(engine.OutcomeReport{
			Identifier: msg.Job.Identifier,
			Outcome:    engine.OutcomeFailed,
		})
		return
	}

	select {
	case p.out <- ExecuteMsg{Job: msg.Job, Rule: rule}:
	case <-ctx.Done():
	}
}
