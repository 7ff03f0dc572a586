package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/paywire/backend/internal/config"
	"github.com/paywire/backend/internal/models"
	"github.com/paywire/backend/internal/services"
)

// TransferProcessor drives the transfer engine for one message.
type TransferProcessor interface {
	ProcessTransaction(ctx context.Context, msg models.TransferMessage) error
}

// republisher re-publishes a message body for a bounded retry. Satisfied
// by the live channel in production and by a stub in tests.
type republisher interface {
	publish(ctx context.Context, queueName string, body []byte, headers amqp.Table) error
}

// Consumer processes the main work queue one message at a time with manual
// acknowledgment. The per-message outcome is exactly one of: ack (applied),
// nack plus re-publish with an incremented retry counter, or reject letting
// the broker dead-letter the message.
type Consumer struct {
	cfg       config.BrokerConfig
	processor TransferProcessor
	log       zerolog.Logger

	conn      *amqp.Connection
	ch        *amqp.Channel
	pub       republisher
	done      chan struct{}
	closeOnce sync.Once
}

func NewConsumer(cfg config.BrokerConfig, processor TransferProcessor, log zerolog.Logger) *Consumer {
	return &Consumer{cfg: cfg, processor: processor, log: log}
}

// Start connects, declares the queue topology and begins consuming in a
// background goroutine. It returns an error only for startup failures,
// which callers treat as fatal.
func (c *Consumer) Start(ctx context.Context) error {
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("broker connect: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("broker channel: %w", err)
	}
	if err := declareTopology(ch, c.cfg); err != nil {
		conn.Close()
		return err
	}
	// One in-flight message per consumer; delivery order is preserved and
	// handler work is never concurrent within one instance.
	if err := ch.Qos(1, 0, false); err != nil {
		conn.Close()
		return fmt.Errorf("broker qos: %w", err)
	}

	deliveries, err := ch.Consume(c.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		conn.Close()
		return fmt.Errorf("broker consume: %w", err)
	}

	c.conn = conn
	c.ch = ch
	if c.pub == nil {
		c.pub = channelPublisher{ch: ch}
	}
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		for d := range deliveries {
			c.handle(ctx, d)
		}
	}()

	c.log.Info().Str("queue", c.cfg.Queue).Msg("transaction consumer started")
	return nil
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	c.log.Info().Str("body", string(d.Body)).Msg("received message")

	var procErr error
	var msg models.TransferMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		procErr = services.InvalidTransaction(err)
	} else {
		procErr = c.processor.ProcessTransaction(ctx, msg)
	}

	if procErr == nil {
		if err := d.Ack(false); err != nil {
			c.log.Error().Err(err).Msg("ack failed")
		}
		return
	}

	c.log.Error().Err(procErr).Msg("error processing transaction")

	// A malformed message can never succeed; drop it instead of burning
	// retries on it.
	if services.IsKind(procErr, services.KindInvalidTransaction) {
		if err := d.Ack(false); err != nil {
			c.log.Error().Err(err).Msg("ack of invalid message failed")
		}
		return
	}

	retries := retryCount(d.Headers)
	if retries < c.cfg.MaxRetries {
		headers := amqp.Table{}
		for k, v := range d.Headers {
			headers[k] = v
		}
		headers[RetryHeader] = int32(retries + 1)

		// Nack without requeue on a DLX-backed queue dead-letters this
		// delivery, so every retry leaves a copy on the DLQ before the
		// terminal reject. The dead-letter handler converges all copies
		// of one transaction id to the same state.
		if err := d.Nack(false, false); err != nil {
			c.log.Error().Err(err).Msg("nack failed")
		}
		if err := c.pub.publish(ctx, c.cfg.Queue, d.Body, headers); err != nil {
			c.log.Error().Err(err).Int("retries", retries+1).Msg("retry publish failed")
		}
		return
	}

	c.log.Error().Int("retries", retries).Msg("message failed after max retries, sending to DLQ")
	if err := d.Reject(false); err != nil {
		c.log.Error().Err(err).Msg("reject failed")
	}
}

// Stop closes the channel, waits for the in-flight handler to finish so no
// acknowledgment state is dropped, then closes the connection. Safe to
// call once; subsequent calls are no-ops.
func (c *Consumer) Stop() error {
	var err error
	c.closeOnce.Do(func() {
		if c.ch != nil {
			err = c.ch.Close()
		}
		if c.done != nil {
			<-c.done
		}
		if c.conn != nil {
			if cerr := c.conn.Close(); err == nil {
				err = cerr
			}
		}
	})
	return err
}

type channelPublisher struct {
	ch *amqp.Channel
}

func (p channelPublisher) publish(ctx context.Context, queueName string, body []byte, headers amqp.Table) error {
	return p.ch.PublishWithContext(ctx, "", queueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Headers:      headers,
		Body:         body,
	})
}
