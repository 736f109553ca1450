package engine

import (
	"time"

	"github.com/emerick42/kairoi/internal/domain"
)

// Request is the sum type of operations the Database Engine accepts on
// its inbound channel. Each concrete type carries its own reply channel,
// the "one channel per call" shape the engine's callers block on.
type Request interface {
	isRequest()
}

type SetJobRequest struct {
	Identifier string
	Execution  time.Time
	Reply      chan error
}

func (SetJobRequest) isRequest() {}

type SetRuleRequest struct {
	Identifier      string
	Pattern         string
	RunnerKind      domain.RunnerKind
	RunnerArguments []string
	Reply           chan error
}

func (SetRuleRequest) isRequest() {}

type UnsetJobRequest struct {
	Identifier string
	Reply      chan error
}

func (UnsetJobRequest) isRequest() {}

type UnsetRuleRequest struct {
	Identifier string
	Reply      chan error
}

func (UnsetRuleRequest) isRequest() {}

// Outcome is a runner's terminal verdict on a triggered job.
type Outcome uint8

const (
	OutcomeExecuted Outcome = iota
	OutcomeFailed
)

// OutcomeReport flows back from the Runner Pool (or the Processor, on a
// pairing failure) to the Engine's feedback channel.
type OutcomeReport struct {
	Identifier string
	Outcome    Outcome
}
