package runner

import (
	"context"
	"log/slog"

	"github.com/streadway/amqp"

	"github.com/emerick42/kairoi/internal/domain"
)

// AMQPBackend publishes the job identifier to (exchange, routing_key) on
// a connection keyed by data-source-name, reusing cached connections per
// spec §4.3. Connection/handshake/publish errors are Failed and evict
// the cache entry so the next attempt retries fresh.
type AMQPBackend struct {
	logger *slog.Logger
	cache  *amqpCache
}

func NewAMQPBackend(logger *slog.Logger) *AMQPBackend {
	return &AMQPBackend{
		logger: logger.With("backend", "amqp"),
		cache:  newAMQPCache(),
	}
}

func (b *AMQPBackend) Name() string { return "amqp" }

// Execute expects args = [dsn, exchange, routing_key].
func (b *AMQPBackend) Execute(ctx context.Context, job *domain.Job, args []string) domain.Status {
	if len(args) != 3 {
		b.logger.Error("amqp rule has wrong argument count", "job", job.Identifier, "args", args)
		return domain.StatusFailed
	}
	dsn, exchange, routingKey := args[0], args[1], args[2]

	conn, err := b.cache.getOrOpen(dsn, func() (*amqpConn, error) { return b.open(dsn) })
	if err != nil {
		b.logger.Error("amqp connect failed", "job", job.Identifier, "error", err)
		return domain.StatusFailed
	}

	err = conn.ch.Publish(
		exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "text/plain",
			Body:        []byte(job.Identifier),
		},
	)
	if err != nil {
		b.logger.Error("amqp publish failed", "job", job.Identifier, "dsn", dsn, "error", err)
		b.cache.evict(dsn)
		return domain.StatusFailed
	}

	return domain.StatusExecuted
}

func (b *AMQPBackend) open(dsn string) (*amqpConn, error) {
	conn, err := amqp.Dial(dsn)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &amqpConn{dsn: dsn, conn: conn, ch: ch}, nil
}
