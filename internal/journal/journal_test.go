package journal_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/emerick42/kairoi/internal/domain"
	"github.com/emerick42/kairoi/internal/journal"
)

func TestAppendAndReadAll(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kairoi.journal")

	j, err := journal.Open(path, true)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	now := time.Unix(1700000000, 0).UTC()
	batch1 := []journal.Record{
		journal.JobUpserted(&domain.Job{Identifier: "app.x", Execution: now, Status: domain.StatusPlanned, LastTransition: now}),
	}
	batch2 := []journal.Record{
		journal.JobStatusChanged("app.x", domain.StatusTriggered, now),
		journal.RuleUpserted(&domain.Rule{Identifier: "r1", Pattern: "app.", RunnerKind: domain.RunnerShell, RunnerArguments: []string{"/bin/true"}}),
	}

	if err := j.AppendBatch(batch1); err != nil {
		t.Fatalf("append batch1: %v", err)
	}
	if err := j.AppendBatch(batch2); err != nil {
		t.Fatalf("append batch2: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	records, err := journal.ReadAll(path)
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[0].Tag != journal.TagJobUpserted {
		t.Fatalf("record 0: got tag %v", records[0].Tag)
	}
	if records[1].Tag != journal.TagJobStatusChanged {
		t.Fatalf("record 1: got tag %v", records[1].Tag)
	}
	if records[2].Tag != journal.TagRuleUpserted {
		t.Fatalf("record 2: got tag %v", records[2].Tag)
	}
}

func TestOpenRejectsUnsupportedVersion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kairoi.journal")

	j, err := journal.Open(path, false)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Corrupt the version byte in place.
	corrupt(t, path)

	if _, err := journal.Open(path, false); err == nil {
		t.Fatal("expected error opening journal with unsupported version")
	}
}

func corrupt(t *testing.T, path string) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	data[4] = 0xFE
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}
