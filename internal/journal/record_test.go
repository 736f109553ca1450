package journal_test

import (
	"reflect"
	"testing"
	"time"

	"github.com/emerick42/kairoi/internal/domain"
	"github.com/emerick42/kairoi/internal/journal"
)

func TestRecordRoundTrip(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()

	cases := []journal.Record{
		journal.JobUpserted(&domain.Job{
			Identifier:     "app.x",
			Execution:      now,
			Status:         domain.StatusPlanned,
			LastTransition: now,
		}),
		journal.JobStatusChanged("app.x", domain.StatusTriggered, now),
		journal.JobRemoved("app.x"),
		journal.RuleUpserted(&domain.Rule{
			Identifier:      "r1",
			Pattern:         "app.",
			RunnerKind:      domain.RunnerAMQP,
			RunnerArguments: []string{"amqp://guest@localhost", "ex", "rk"},
		}),
		journal.RuleRemoved("r1"),
	}

	for _, rec := range cases {
		encoded := rec.Encode(nil)
		decoded, err := journal.Decode(encoded)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !reflect.DeepEqual(rec, decoded) {
			t.Fatalf("round trip mismatch: got %+v, want %+v", decoded, rec)
		}

		// encode -> decode -> encode must be byte-identical
		reencoded := decoded.Encode(nil)
		if !reflect.DeepEqual(encoded, reencoded) {
			t.Fatalf("re-encode mismatch: got %x, want %x", reencoded, encoded)
		}
	}
}

func TestDecodeRejectsUnknownTag(t *testing.T) {
	_, err := journal.Decode([]byte{0xFF})
	if err == nil {
		t.Fatal("expected error for unknown tag")
	}
}

func TestDecodeRejectsTruncatedPayload(t *testing.T) {
	rec := journal.JobRemoved("app.x")
	encoded := rec.Encode(nil)
	_, err := journal.Decode(encoded[:len(encoded)-1])
	if err == nil {
		t.Fatal("expected error for truncated payload")
	}
}
