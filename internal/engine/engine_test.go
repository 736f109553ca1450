package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/emerick42/kairoi/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestEngine(t *testing.T, path string) *Engine {
	t.Helper()
	e, err := Open(Config{JournalPath: path, FsyncOnPersist: false, Framerate: 1000}, testLogger())
	if err != nil {
		t.Fatalf("open engine: %v", err)
	}
	return e
}

func submitAndWait(t *testing.T, e *Engine, req Request) error {
	t.Helper()
	reply := make(chan error, 1)
	switch r := req.(type) {
	case SetJobRequest:
		r.Reply = reply
		req = r
	case SetRuleRequest:
		r.Reply = reply
		req = r
	case UnsetJobRequest:
		r.Reply = reply
		req = r
	case UnsetRuleRequest:
		r.Reply = reply
		req = r
	}
	e.Submit(req)
	select {
	case err := <-reply:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reply")
		return nil
	}
}

func TestEngine_SetJob_RejectsConflictWhenTriggered(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.bin")
	e := openTestEngine(t, path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	if err := submitAndWait(t, e, SetJobRequest{Identifier: "app.x", Execution: time.Unix(0, 0)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case <-e.Pairs():
	case <-time.After(2 * time.Second):
		t.Fatal("expected job to trigger and pair")
	}

	err := submitAndWait(t, e, SetJobRequest{Identifier: "app.x", Execution: time.Now().Add(time.Hour)})
	if !errors.Is(err, domain.ErrConflictTriggered) {
		t.Fatalf("expected ErrConflictTriggered, got %v", err)
	}
}

func TestEngine_UnsetJob_NotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.bin")
	e := openTestEngine(t, path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	err := submitAndWait(t, e, UnsetJobRequest{Identifier: "nope"})
	if !errors.Is(err, domain.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestEngine_ReportExecution_TransitionsToExecuted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.bin")
	e := openTestEngine(t, path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	if err := submitAndWait(t, e, SetJobRequest{Identifier: "app.x", Execution: time.Unix(0, 0)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case <-e.Pairs():
	case <-time.After(2 * time.Second):
		t.Fatal("expected job to trigger and pair")
	}

	e.ReportExecution(OutcomeReport{Identifier: "app.x", Outcome: OutcomeExecuted})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := e.Snapshot(context.Background())
		if err != nil {
			t.Fatalf("snapshot: %v", err)
		}
		for _, j := range snap.Jobs {
			if j.Identifier == "app.x" && j.Status == domain.StatusExecuted {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected job app.x to reach Executed")
}

func TestEngine_RecoversTriggeredJobsAndRequeuesForPairing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.bin")

	e1 := openTestEngine(t, path)
	ctx1, cancel1 := context.WithCancel(context.Background())
	go e1.Run(ctx1)

	if err := submitAndWait(t, e1, SetJobRequest{Identifier: "app.x", Execution: time.Unix(0, 0)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	select {
	case <-e1.Pairs():
	case <-time.After(2 * time.Second):
		t.Fatal("expected job to trigger")
	}
	cancel1()
	time.Sleep(50 * time.Millisecond) // let Run close the journal

	e2, err := Open(Config{JournalPath: path, FsyncOnPersist: false, Framerate: 1000}, testLogger())
	if err != nil {
		t.Fatalf("reopen engine: %v", err)
	}
	if len(e2.pendingPairs) != 1 || e2.pendingPairs[0].Job.Identifier != "app.x" {
		t.Fatalf("expected recovery to queue app.x for re-pairing, got %+v", e2.pendingPairs)
	}

	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	go e2.Run(ctx2)

	select {
	case pm := <-e2.Pairs():
		if pm.Job.Identifier != "app.x" || pm.Job.Status != domain.StatusTriggered {
			t.Fatalf("unexpected recovered pair: %+v", pm.Job)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected recovered Triggered job to be re-paired on Run")
	}
}

func TestEngine_SetRule_ThenPairingProcessorSeesSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.bin")
	e := openTestEngine(t, path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	if err := submitAndWait(t, e, SetRuleRequest{
		Identifier:      "r1",
		Pattern:         "app.",
		RunnerKind:      domain.RunnerShell,
		RunnerArguments: []string{"/bin/true"},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case snap := <-e.RuleSnapshots():
		if len(snap) != 1 || snap[0].Identifier != "r1" {
			t.Fatalf("unexpected rule snapshot: %+v", snap)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected a rule snapshot")
	}
}
