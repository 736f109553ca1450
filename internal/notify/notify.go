// Package notify sends a best-effort email alert when a job reaches a
// terminal Failed state. It is entirely ambient: disabled by default,
// and never on any path the scheduler cycle depends on for correctness.
//
// Grounded on the teacher's internal/email package — same Sender
// interface, same LogSender/ResendSender split by environment — rewired
// from "magic link" to "job permanently failed" alerts and rate-limited
// per job identifier so a misconfigured rule can't flood the channel.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/resend/resend-go/v2"
	"golang.org/x/time/rate"
)

// Sender alerts an operator that a job permanently failed.
type Sender interface {
	NotifyFailed(ctx context.Context, jobIdentifier string) error
}

// Config controls whether and how failure notifications are sent.
type Config struct {
	Enabled    bool
	Env        string // "local" uses LogSender regardless of API key
	ResendKey  string
	ResendFrom string
	To         string
	// MinInterval bounds how often a single job identifier can trigger
	// a notification; defaults to 5 minutes if zero.
	MinInterval time.Duration
}

// New returns a Sender per cfg, or nil if notifications are disabled.
// A nil Sender is a valid value everywhere this package's consumers use
// it — they treat it as "do nothing."
func New(cfg Config, logger *slog.Logger) Sender {
	if !cfg.Enabled {
		return nil
	}

	interval := cfg.MinInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	var base emailSender
	if cfg.Env == "local" || cfg.ResendKey == "" {
		base = &logSender{logger: logger.With("component", "notify")}
	} else {
		base = &resendSender{
			client: resend.NewClient(cfg.ResendKey),
			from:   cfg.ResendFrom,
			to:     cfg.To,
		}
	}

	return &rateLimited{
		inner:   base,
		limiter: newPerKeyLimiter(interval),
	}
}

type emailSender interface {
	send(ctx context.Context, subject, body string) error
}

// logSender logs the alert instead of sending it — used in env=local,
// mirroring the teacher's LogSender for magic-link emails.
type logSender struct {
	logger *slog.Logger
}

func (s *logSender) send(_ context.Context, subject, body string) error {
	s.logger.Info("job failure alert (local dev)", "subject", subject, "body", body)
	return nil
}

// resendSender sends the alert via the Resend API.
type resendSender struct {
	client *resend.Client
	from   string
	to     string
}

func (s *resendSender) send(ctx context.Context, subject, body string) error {
	params := &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{s.to},
		Subject: subject,
		Html:    body,
	}
	_, err := s.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		return fmt.Errorf("send failure alert: %w", err)
	}
	return nil
}

// rateLimited wraps an emailSender with a per-job-identifier token
// bucket so a rule that fails repeatedly can't flood the alert channel.
type rateLimited struct {
	inner   emailSender
	limiter *perKeyLimiter
}

func (r *rateLimited) NotifyFailed(ctx context.Context, jobIdentifier string) error {
	if !r.limiter.allow(jobIdentifier) {
		return nil
	}
	subject := fmt.Sprintf("kairoi: job %q failed", jobIdentifier)
	body := fmt.Sprintf("Job %q reached a terminal Failed state and will not be retried automatically.", jobIdentifier)
	return r.inner.send(ctx, subject, body)
}

// perKeyLimiter holds one rate.Limiter per key, each allowing one event
// per interval with a burst of 1 — enough to suppress floods without
// ever fully silencing a persistently failing job.
type perKeyLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	limiters map[string]*rate.Limiter
}

func newPerKeyLimiter(interval time.Duration) *perKeyLimiter {
	return &perKeyLimiter{interval: interval, limiters: make(map[string]*rate.Limiter)}
}

func (p *perKeyLimiter) allow(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	l, ok := p.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Every(p.interval), 1)
		p.limiters[key] = l
	}
	return l.Allow()
}
