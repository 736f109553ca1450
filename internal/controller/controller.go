package controller

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/emerick42/kairoi/internal/domain"
	"github.com/emerick42/kairoi/internal/engine"
	"github.com/emerick42/kairoi/internal/requestid"
)

// executionLayout is the wire timestamp format from §6: `Y-m-d H:i:s`,
// interpreted as UTC.
const executionLayout = "2006-01-02 15:04:05"

// Submitter is the subset of the Engine the Controller Front needs.
// Requests block on their Reply channel, so the front is a thin,
// stateless adapter: tokenize, build a request, submit, wait, format.
type Submitter interface {
	Submit(engine.Request)
}

// Server accepts TCP connections and speaks the KCP line protocol on
// each, one connection per goroutine, strict request/response
// alternation enforced by reading one line before replying and only
// then reading the next.
type Server struct {
	listen       string
	engine       Submitter
	enabledKinds map[domain.RunnerKind]bool
	logger       *slog.Logger
}

// New builds a Controller Front. enabledKinds names the runner kinds that
// have a compiled-in, configured back-end; a RULE SET naming any other
// kind is rejected at admission time with ERROR invalid_runner, before it
// ever reaches the Engine.
func New(listen string, eng Submitter, enabledKinds map[domain.RunnerKind]bool, logger *slog.Logger) *Server {
	return &Server{listen: listen, engine: eng, enabledKinds: enabledKinds, logger: logger.With("component", "controller")}
}

// Run binds the listener and serves connections until ctx is
// cancelled. It returns once the listener is closed and all in-flight
// connections have been asked to stop accepting new instructions.
func (s *Server) Run(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", s.listen)
	if err != nil {
		return fmt.Errorf("controller listen on %s: %w", s.listen, err)
	}
	s.logger.Info("controller front listening", "addr", s.listen)

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.logger.Info("controller front shut down")
				return nil
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}
		connID := requestid.New()
		go s.serve(ctx, conn, connID)
	}
}

func (s *Server) serve(ctx context.Context, conn net.Conn, connID string) {
	defer conn.Close()
	logger := s.logger.With("conn", connID, "remote", conn.RemoteAddr().String())
	logger.Info("connection accepted")

	reader := bufio.NewReader(conn)
	for {
		if ctx.Err() != nil {
			return
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				logger.Debug("connection closed", "error", err)
			}
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}

		resp := s.handleLine(ctx, line, logger)
		if _, err := conn.Write([]byte(resp)); err != nil {
			logger.Debug("write failed", "error", err)
			return
		}
	}
}

func (s *Server) handleLine(ctx context.Context, line string, logger *slog.Logger) string {
	tokens, err := tokenize(line)
	if err != nil {
		logger.Warn("malformed instruction", "error", err)
		return errorResponse("malformed_instruction")
	}
	if len(tokens) == 0 {
		return errorResponse("empty_instruction")
	}

	switch strings.ToUpper(tokens[0]) {
	case "SET":
		return s.handleSet(ctx, tokens)
	case "UNSET":
		return s.handleUnset(ctx, tokens)
	case "RULE":
		if len(tokens) < 2 {
			return errorResponse("unknown_instruction")
		}
		switch strings.ToUpper(tokens[1]) {
		case "SET":
			return s.handleRuleSet(ctx, tokens)
		case "UNSET":
			return s.handleRuleUnset(ctx, tokens)
		default:
			return errorResponse("unknown_instruction")
		}
	default:
		return errorResponse("unknown_instruction")
	}
}

func (s *Server) handleSet(ctx context.Context, tokens []string) string {
	// The execution is either one universal string ("Y-m-d H:i:s") or the
	// date and time as two simple strings.
	var raw string
	switch len(tokens) {
	case 3:
		raw = tokens[2]
	case 4:
		raw = tokens[2] + " " + tokens[3]
	default:
		return errorResponse("invalid_execution")
	}
	execution, err := time.ParseInLocation(executionLayout, raw, time.UTC)
	if err != nil {
		return errorResponse("invalid_execution")
	}

	reply := make(chan error, 1)
	s.engine.Submit(engine.SetJobRequest{Identifier: tokens[1], Execution: execution, Reply: reply})
	return waitReply(ctx, reply)
}

func (s *Server) handleUnset(ctx context.Context, tokens []string) string {
	if len(tokens) != 2 {
		return errorResponse("invalid_arguments")
	}
	reply := make(chan error, 1)
	s.engine.Submit(engine.UnsetJobRequest{Identifier: tokens[1], Reply: reply})
	return waitReply(ctx, reply)
}

func (s *Server) handleRuleSet(ctx context.Context, tokens []string) string {
	// tokens: RULE SET <identifier> <pattern> <runner> [args...]
	if len(tokens) < 5 {
		return errorResponse("invalid_arguments")
	}
	identifier, pattern, runnerToken := tokens[2], tokens[3], tokens[4]
	args := tokens[5:]

	kind, err := domain.ParseRunnerKind(runnerToken)
	if err != nil {
		return errorResponse("invalid_runner")
	}
	if !s.enabledKinds[kind] {
		return errorResponse("invalid_runner")
	}
	if len(args) != kind.ArgCount() {
		return errorResponse("invalid_arguments")
	}

	reply := make(chan error, 1)
	s.engine.Submit(engine.SetRuleRequest{
		Identifier:      identifier,
		Pattern:         pattern,
		RunnerKind:      kind,
		RunnerArguments: args,
		Reply:           reply,
	})
	return waitReply(ctx, reply)
}

func (s *Server) handleRuleUnset(ctx context.Context, tokens []string) string {
	if len(tokens) != 3 {
		return errorResponse("invalid_arguments")
	}
	reply := make(chan error, 1)
	s.engine.Submit(engine.UnsetRuleRequest{Identifier: tokens[2], Reply: reply})
	return waitReply(ctx, reply)
}

func waitReply(ctx context.Context, reply chan error) string {
	select {
	case err := <-reply:
		if err == nil {
			return "OK\n"
		}
		return errorResponse(reasonFor(err))
	case <-ctx.Done():
		return errorResponse("shutting_down")
	}
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, domain.ErrConflictTriggered):
		return "conflict_triggered"
	case errors.Is(err, domain.ErrJobNotFound), errors.Is(err, domain.ErrRuleNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrInvalidRunnerKind):
		return "invalid_runner"
	case errors.Is(err, domain.ErrInvalidArguments):
		return "invalid_arguments"
	default:
		return "internal_error"
	}
}

func errorResponse(reason string) string {
	return fmt.Sprintf("ERROR %s\n", reason)
}
