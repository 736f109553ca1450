// Package engine implements the Database Engine: the serialising centre
// of Kairoi. It owns the authoritative Job and Rule maps, is the sole
// writer of the Persistence Journal, and runs the framerate-paced
// scheduler cycle described in spec §4.1.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/emerick42/kairoi/internal/domain"
	"github.com/emerick42/kairoi/internal/exitcode"
	"github.com/emerick42/kairoi/internal/journal"
	"github.com/emerick42/kairoi/internal/metrics"
)

// EventMsg is a single job status transition, broadcast to the Admin
// HTTP event tail. Best-effort: a full events channel drops the event
// rather than blocking the tick loop.
type EventMsg struct {
	JobIdentifier string
	Status        domain.Status
	At            time.Time
}

// Snapshot is a read-only, point-in-time view of the engine's state,
// served to the Admin HTTP surface without it ever touching the live
// maps directly.
type Snapshot struct {
	Jobs  []*domain.Job
	Rules []*domain.Rule
}

// PairMsg is the (job, rule-candidates) handoff to the Processor. The
// Processor computes the best match itself from its own rule snapshot;
// Kairoi only needs the triggered job here.
type PairMsg struct {
	Job *domain.Job
}

// Config controls the scheduler cycle's pacing and durability.
type Config struct {
	JournalPath    string
	FsyncOnPersist bool
	Framerate      int // ticks per second, 1..=65535
}

// Engine owns Jobs and Rules. All mutation happens on its single tick
// goroutine; every other component only ever observes clones.
type Engine struct {
	cfg     Config
	logger  *slog.Logger
	journal *journal.Journal

	jobs  map[string]*domain.Job
	rules map[string]*domain.Rule

	requests  chan Request
	feedback  chan OutcomeReport
	pairs     chan PairMsg
	ruleSnap  chan []*domain.Rule
	snapshots chan chan Snapshot
	events    chan EventMsg

	pendingPairs []PairMsg // due-on-recovery Triggered jobs, flushed on first tick

	lastTickAt atomic.Int64 // unix nanos, read by the Admin HTTP health check
}

// Open replays the journal (if any) into fresh in-memory maps and
// returns an Engine ready to Run. Jobs recovered in Triggered status are
// queued for immediate re-pairing — the at-least-once contract.
func Open(cfg Config, logger *slog.Logger) (*Engine, error) {
	if cfg.Framerate < 1 || cfg.Framerate > 65535 {
		return nil, fmt.Errorf("engine: framerate %d out of range [1, 65535]", cfg.Framerate)
	}

	records, err := journal.ReadAll(cfg.JournalPath)
	if err != nil {
		return nil, fmt.Errorf("engine: replay journal: %w", err)
	}

	e := &Engine{
		cfg:      cfg,
		logger:   logger.With("component", "engine"),
		jobs:     make(map[string]*domain.Job),
		rules:    make(map[string]*domain.Rule),
		requests:  make(chan Request, 1024),
		feedback:  make(chan OutcomeReport, 1024),
		pairs:     make(chan PairMsg, 256),
		ruleSnap:  make(chan []*domain.Rule, 1),
		snapshots: make(chan chan Snapshot),
		events:    make(chan EventMsg, 256),
	}

	for _, rec := range records {
		e.apply(rec)
	}

	j, err := journal.Open(cfg.JournalPath, cfg.FsyncOnPersist)
	if err != nil {
		return nil, fmt.Errorf("engine: open journal: %w", err)
	}
	e.journal = j

	for _, job := range e.jobs {
		if job.Status == domain.StatusTriggered {
			e.pendingPairs = append(e.pendingPairs, PairMsg{Job: job.Clone()})
		}
	}
	e.logger.Info("journal replayed", "jobs", len(e.jobs), "rules", len(e.rules), "reenqueued", len(e.pendingPairs))

	e.pushRuleSnapshot()

	return e, nil
}

// apply mutates the in-memory maps from a single journal record, used
// only during startup replay (no journaling, no acks — it already
// happened).
func (e *Engine) apply(rec journal.Record) {
	switch rec.Tag {
	case journal.TagJobUpserted:
		e.jobs[rec.JobIdentifier] = &domain.Job{
			Identifier:     rec.JobIdentifier,
			Execution:      rec.JobExecution,
			Status:         rec.JobStatus,
			LastTransition: rec.LastTransition,
		}
	case journal.TagJobStatusChanged:
		if j, ok := e.jobs[rec.JobIdentifier]; ok {
			j.Status = rec.JobStatus
			j.LastTransition = rec.LastTransition
		}
	case journal.TagJobRemoved:
		delete(e.jobs, rec.JobIdentifier)
	case journal.TagRuleUpserted:
		e.rules[rec.RuleIdentifier] = &domain.Rule{
			Identifier:      rec.RuleIdentifier,
			Pattern:         rec.RulePattern,
			RunnerKind:      rec.RunnerKind,
			RunnerArguments: rec.RunnerArgs,
		}
	case journal.TagRuleRemoved:
		delete(e.rules, rec.RuleIdentifier)
	}
}

// Submit enqueues req on the inbound channel. Callers (the Controller
// Front, typically) block on req's own Reply channel for the result.
func (e *Engine) Submit(req Request) {
	e.requests <- req
}

// ReportExecution enqueues a runner outcome for the next tick's feedback
// drain. Never blocks the caller beyond the channel's buffer.
func (e *Engine) ReportExecution(r OutcomeReport) {
	e.feedback <- r
}

// Pairs returns the channel the Processor consumes triggered jobs from.
func (e *Engine) Pairs() <-chan PairMsg {
	return e.pairs
}

// Events returns a best-effort feed of job status transitions, for the
// Admin HTTP event tail. Never blocks the tick loop: a full channel
// drops the event.
func (e *Engine) Events() <-chan EventMsg {
	return e.events
}

func (e *Engine) emit(identifier string, status domain.Status, at time.Time) {
	select {
	case e.events <- EventMsg{JobIdentifier: identifier, Status: status, At: at}:
	default:
	}
}

// RuleSnapshots returns a depth-1, overwrite-oldest channel of the full
// rule set, pushed after every SetRule/UnsetRule. The Processor treats
// staleness of a few ticks as acceptable, per spec §4.2.
func (e *Engine) RuleSnapshots() <-chan []*domain.Rule {
	return e.ruleSnap
}

// Snapshot requests a read-only copy of the engine's state, served by
// the tick goroutine so the Admin HTTP surface never races the live
// maps. Blocks until the next tick answers; callers should pass a
// context with a short timeout.
func (e *Engine) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	select {
	case e.snapshots <- reply:
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// Writable reports whether the journal is still open for appends. It
// satisfies health.JournalProbe so main can hand the Engine itself to
// the health checker for both probes.
func (e *Engine) Writable() bool {
	return e.journal.Writable()
}

// LastTickAt returns the timestamp of the most recently completed
// scheduler cycle, for use as a liveness signal.
func (e *Engine) LastTickAt() time.Time {
	nanos := e.lastTickAt.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos).UTC()
}

func (e *Engine) buildSnapshot() Snapshot {
	snap := Snapshot{
		Jobs:  make([]*domain.Job, 0, len(e.jobs)),
		Rules: make([]*domain.Rule, 0, len(e.rules)),
	}
	for _, j := range e.jobs {
		snap.Jobs = append(snap.Jobs, j.Clone())
	}
	for _, r := range e.rules {
		snap.Rules = append(snap.Rules, r.Clone())
	}
	sort.Slice(snap.Jobs, func(i, k int) bool { return snap.Jobs[i].Identifier < snap.Jobs[k].Identifier })
	sort.Slice(snap.Rules, func(i, k int) bool { return snap.Rules[i].Identifier < snap.Rules[k].Identifier })
	return snap
}

func (e *Engine) drainSnapshotRequests() {
	for {
		select {
		case reply := <-e.snapshots:
			reply <- e.buildSnapshot()
		default:
			return
		}
	}
}

func (e *Engine) pushRuleSnapshot() {
	snap := make([]*domain.Rule, 0, len(e.rules))
	for _, r := range e.rules {
		snap = append(snap, r.Clone())
	}
	sort.Slice(snap, func(i, j int) bool { return snap[i].Identifier < snap[j].Identifier })

	select {
	case <-e.ruleSnap:
	default:
	}
	e.ruleSnap <- snap
}

// fatal logs and terminates the process with JournalWriteFailure. It is
// called on journal append or fsync failure, so durability never silently
// degrades; the engine detects no channel-peer disconnection.
func (e *Engine) fatal(msg string, err error) {
	exitcode.Fatal(e.logger, exitcode.JournalWriteFailure, msg, err)
}

// Run executes the framerate-paced scheduler cycle until ctx is
// cancelled. Cancellation is checked after each tick's work and during
// the sleep between ticks; once seen, Run closes the journal and returns
// without a further drain, so requests still queued at that point are not
// applied. Callers perform the rest of graceful shutdown.
func (e *Engine) Run(ctx context.Context) {
	period := time.Second / time.Duration(e.cfg.Framerate)
	e.logger.Info("engine started", "framerate", e.cfg.Framerate, "period", period)

	e.flushPendingPairs(ctx)

	for {
		tickStart := time.Now()

		e.drainRequests()
		e.triggerDueJobs()
		e.drainFeedback()
		e.drainSnapshotRequests()

		metrics.EngineTickDuration.Observe(time.Since(tickStart).Seconds())
		metrics.EngineJobsGauge.Set(float64(len(e.jobs)))
		metrics.EngineRulesGauge.Set(float64(len(e.rules)))
		e.lastTickAt.Store(time.Now().UnixNano())

		select {
		case <-ctx.Done():
			e.logger.Info("engine shutting down")
			if err := e.journal.Close(); err != nil {
				e.logger.Error("close journal", "error", err)
			}
			return
		default:
		}

		elapsed := time.Since(tickStart)
		if elapsed < period {
			select {
			case <-time.After(period - elapsed):
			case <-ctx.Done():
				e.logger.Info("engine shutting down")
				if err := e.journal.Close(); err != nil {
					e.logger.Error("close journal", "error", err)
				}
				return
			}
		}
	}
}

func (e *Engine) flushPendingPairs(ctx context.Context) {
	for _, p := range e.pendingPairs {
		select {
		case e.pairs <- p:
		case <-ctx.Done():
			return
		}
	}
	e.pendingPairs = nil
}

// drainRequests implements step 1-2 of the tick: drain the inbound
// channel without blocking, up to the queue depth observed at tick
// start, apply each in arrival order, journal the batch, fsync if
// configured, then release replies.
func (e *Engine) drainRequests() {
	depth := len(e.requests)
	if depth == 0 {
		return
	}

	batch := make([]Request, 0, depth)
	for i := 0; i < depth; i++ {
		batch = append(batch, <-e.requests)
	}

	var records []journal.Record
	replies := make([]func(error), 0, len(batch))
	rulesChanged := false

	for _, req := range batch {
		switch r := req.(type) {
		case SetJobRequest:
			rec, err := e.applySetJob(r.Identifier, r.Execution)
			if err == nil {
				records = append(records, rec)
			}
			reply := r.Reply
			result := err
			replies = append(replies, func(journalErr error) {
				if journalErr != nil {
					return // fatal path already terminated the process
				}
				reply <- result
			})

		case SetRuleRequest:
			rec := e.applySetRule(r.Identifier, r.Pattern, r.RunnerKind, r.RunnerArguments)
			records = append(records, rec)
			rulesChanged = true
			reply := r.Reply
			replies = append(replies, func(journalErr error) {
				if journalErr != nil {
					return
				}
				reply <- nil
			})

		case UnsetJobRequest:
			rec, err := e.applyUnsetJob(r.Identifier)
			if err == nil {
				records = append(records, rec)
			}
			reply := r.Reply
			result := err
			replies = append(replies, func(journalErr error) {
				if journalErr != nil {
					return
				}
				reply <- result
			})

		case UnsetRuleRequest:
			rec, err := e.applyUnsetRule(r.Identifier)
			if err == nil {
				records = append(records, rec)
				rulesChanged = true
			}
			reply := r.Reply
			result := err
			replies = append(replies, func(journalErr error) {
				if journalErr != nil {
					return
				}
				reply <- result
			})
		}
	}

	var journalErr error
	if len(records) > 0 {
		if err := e.journal.AppendBatch(records); err != nil {
			e.fatal("journal write failed, terminating", err)
			journalErr = err // unreachable after exitcode.Fatal, kept for clarity
		}
	}

	if rulesChanged {
		e.pushRuleSnapshot()
	}

	for _, release := range replies {
		release(journalErr)
	}
}

func (e *Engine) applySetJob(identifier string, execution time.Time) (journal.Record, error) {
	existing, ok := e.jobs[identifier]
	if ok && existing.Status == domain.StatusTriggered {
		return journal.Record{}, domain.ErrConflictTriggered
	}

	now := time.Now().UTC()
	j := &domain.Job{
		Identifier:     identifier,
		Execution:      execution.UTC(),
		Status:         domain.StatusPlanned,
		LastTransition: now,
	}
	e.jobs[identifier] = j
	metrics.JobsSetTotal.Inc()
	return journal.JobUpserted(j), nil
}

func (e *Engine) applySetRule(identifier, pattern string, kind domain.RunnerKind, args []string) journal.Record {
	r := &domain.Rule{
		Identifier:      identifier,
		Pattern:         pattern,
		RunnerKind:      kind,
		RunnerArguments: append([]string(nil), args...),
	}
	e.rules[identifier] = r
	return journal.RuleUpserted(r)
}

func (e *Engine) applyUnsetJob(identifier string) (journal.Record, error) {
	j, ok := e.jobs[identifier]
	if !ok {
		return journal.Record{}, domain.ErrJobNotFound
	}
	if j.Status == domain.StatusTriggered {
		return journal.Record{}, domain.ErrConflictTriggered
	}
	delete(e.jobs, identifier)
	return journal.JobRemoved(identifier), nil
}

func (e *Engine) applyUnsetRule(identifier string) (journal.Record, error) {
	if _, ok := e.rules[identifier]; !ok {
		return journal.Record{}, domain.ErrRuleNotFound
	}
	delete(e.rules, identifier)
	return journal.RuleRemoved(identifier), nil
}

// triggerDueJobs implements step 3: scan for Planned jobs whose
// execution has passed, transition them to Triggered in ascending
// (execution, identifier) order, journal the batch, then enqueue Pair
// messages in that same order.
func (e *Engine) triggerDueJobs() {
	now := time.Now().UTC()

	var due []*domain.Job
	for _, j := range e.jobs {
		if j.Status == domain.StatusPlanned && !j.Execution.After(now) {
			due = append(due, j)
		}
	}
	if len(due) == 0 {
		return
	}

	sort.Slice(due, func(i, k int) bool {
		if !due[i].Execution.Equal(due[k].Execution) {
			return due[i].Execution.Before(due[k].Execution)
		}
		return due[i].Identifier < due[k].Identifier
	})

	records := make([]journal.Record, 0, len(due))
	for _, j := range due {
		j.Status = domain.StatusTriggered
		j.LastTransition = now
		records = append(records, journal.JobStatusChanged(j.Identifier, j.Status, j.LastTransition))
	}

	if err := e.journal.AppendBatch(records); err != nil {
		e.fatal("journal write failed while triggering jobs", err)
		return
	}

	for _, j := range due {
		metrics.JobsTriggeredTotal.Inc()
		e.emit(j.Identifier, j.Status, j.LastTransition)
		e.pairs <- PairMsg{Job: j.Clone()}
	}
}

// drainFeedback implements step 4: apply ReportExecution outcomes.
// No-op if the job no longer exists or is not Triggered — this protects
// against races with a client mutation performed after dispatch.
func (e *Engine) drainFeedback() {
	depth := len(e.feedback)
	if depth == 0 {
		return
	}

	var records []journal.Record
	var transitioned []*domain.Job
	for i := 0; i < depth; i++ {
		r := <-e.feedback
		j, ok := e.jobs[r.Identifier]
		if !ok || j.Status != domain.StatusTriggered {
			continue
		}
		now := time.Now().UTC()
		switch r.Outcome {
		case OutcomeExecuted:
			j.Status = domain.StatusExecuted
			metrics.JobsExecutedTotal.Inc()
		case OutcomeFailed:
			j.Status = domain.StatusFailed
			metrics.JobsFailedTotal.Inc()
		}
		j.LastTransition = now
		records = append(records, journal.JobStatusChanged(j.Identifier, j.Status, j.LastTransition))
		transitioned = append(transitioned, j)
	}

	if len(records) == 0 {
		return
	}
	if err := e.journal.AppendBatch(records); err != nil {
		e.fatal("journal write failed while applying outcomes", err)
		return
	}

	for _, j := range transitioned {
		e.emit(j.Identifier, j.Status, j.LastTransition)
	}
}
