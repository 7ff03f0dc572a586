// Package queue connects the pipeline to RabbitMQ: the work-queue consumer
// with bounded retry and dead-lettering, the dead-letter consumer, and the
// publisher used by the producer side.
package queue

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/paywire/backend/internal/config"
)

// RetryHeader carries the explicit retry counter on re-published messages.
const RetryHeader = "x-retries"

// declareTopology asserts the broker resources every connected process
// agrees on: a direct dead-letter exchange, the dead-letter queue bound to
// it, and the main work queue with that pair as its dead-letter target.
// Declarations are idempotent as long as every declarer uses the same
// arguments, which is why publisher and consumers share this function.
func declareTopology(ch *amqp.Channel, cfg config.BrokerConfig) error {
	if err := ch.ExchangeDeclare(cfg.DLXExchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead-letter exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(cfg.DLQQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead-letter queue: %w", err)
	}
	if err := ch.QueueBind(cfg.DLQQueue, cfg.DLQQueue, cfg.DLXExchange, false, nil); err != nil {
		return fmt.Errorf("bind dead-letter queue: %w", err)
	}
	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    cfg.DLXExchange,
		"x-dead-letter-routing-key": cfg.DLQQueue,
	}); err != nil {
		return fmt.Errorf("declare work queue: %w", err)
	}
	return nil
}

// retryCount reads the retry counter from message headers, absent or
// unreadable meaning zero. The broker may hand the value back as any
// integer width.
func retryCount(headers amqp.Table) int {
	switch v := headers[RetryHeader].(type) {
	case int:
		return v
	case int8:
		return int(v)
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	default:
		return 0
	}
}
