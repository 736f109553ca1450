package processor_test

import (
	"testing"

	"github.com/emerick42/kairoi/internal/domain"
	"github.com/emerick42/kairoi/internal/processor"
)

func rule(id, pattern string) *domain.Rule {
	return &domain.Rule{Identifier: id, Pattern: pattern, RunnerKind: domain.RunnerShell, RunnerArguments: []string{"/bin/true"}}
}

func TestBestMatch_LongestPrefixWins(t *testing.T) {
	rules := []*domain.Rule{
		rule("r1", "app."),
		rule("r2", "app.special."),
	}
	got := processor.BestMatch(rules, "app.special.y")
	if got == nil || got.Identifier != "r2" {
		t.Fatalf("expected r2, got %+v", got)
	}
}

func TestBestMatch_TieBrokenByIdentifier(t *testing.T) {
	rules := []*domain.Rule{
		rule("rb", "app."),
		rule("ra", "app."),
	}
	got := processor.BestMatch(rules, "app.x")
	if got == nil || got.Identifier != "ra" {
		t.Fatalf("expected ra, got %+v", got)
	}
}

func TestBestMatch_NoMatch(t *testing.T) {
	rules := []*domain.Rule{rule("r1", "other.")}
	if got := processor.BestMatch(rules, "app.x"); got != nil {
		t.Fatalf("expected no match, got %+v", got)
	}
}

func TestBestMatch_EmptyPatternMatchesEverything(t *testing.T) {
	rules := []*domain.Rule{rule("catchall", "")}
	got := processor.BestMatch(rules, "anything")
	if got == nil || got.Identifier != "catchall" {
		t.Fatalf("expected catchall, got %+v", got)
	}
}
