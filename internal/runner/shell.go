package runner

import (
	"context"
	"log/slog"
	"os/exec"

	"github.com/emerick42/kairoi/internal/domain"
)

// ShellBackend spawns `sh -c <script> <job.identifier>` per execution.
// Each call occupies one OS thread waiting on the child — the
// documented scaling limit for this backend; no pool bound is imposed.
type ShellBackend struct {
	logger *slog.Logger
}

func NewShellBackend(logger *slog.Logger) *ShellBackend {
	return &ShellBackend{logger: logger.With("backend", "shell")}
}

func (b *ShellBackend) Name() string { return "shell" }

// Execute runs args[0] as the script, passing job.Identifier as the
// first positional argument. Exit code 0 is Executed; anything else,
// including a spawn failure, is Failed.
func (b *ShellBackend) Execute(ctx context.Context, job *domain.Job, args []string) domain.Status {
	if len(args) != 1 {
		b.logger.Error("shell rule has wrong argument count", "job", job.Identifier, "args", args)
		return domain.StatusFailed
	}
	script := args[0]

	cmd := exec.CommandContext(ctx, "sh", "-c", script, "sh", job.Identifier)
	out, err := cmd.CombinedOutput()
	if err != nil {
		b.logger.Info("shell execution failed", "job", job.Identifier, "script", script, "error", err, "output", string(out))
		return domain.StatusFailed
	}
	return domain.StatusExecuted
}
