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
)

// DeadLetterHandler reconciles one dead-lettered message. It owns its own
// error handling; by the time a message is here there is nowhere left to
// escalate.
type DeadLetterHandler interface {
	HandleMessage(ctx context.Context, msg models.TransferMessage)
}

// DLQConsumer drains the dead-letter queue. Every message is acknowledged
// exactly once, whatever reconciliation did, so dead letters can never
// loop.
type DLQConsumer struct {
	cfg     config.BrokerConfig
	handler DeadLetterHandler
	log     zerolog.Logger

	conn      *amqp.Connection
	ch        *amqp.Channel
	done      chan struct{}
	closeOnce sync.Once
}

func NewDLQConsumer(cfg config.BrokerConfig, handler DeadLetterHandler, log zerolog.Logger) *DLQConsumer {
	return &DLQConsumer{cfg: cfg, handler: handler, log: log}
}

func (c *DLQConsumer) Start(ctx context.Context) error {
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
	if err := ch.Qos(1, 0, false); err != nil {
		conn.Close()
		return fmt.Errorf("broker qos: %w", err)
	}

	deliveries, err := ch.Consume(c.cfg.DLQQueue, "", false, false, false, false, nil)
	if err != nil {
		conn.Close()
		return fmt.Errorf("broker consume: %w", err)
	}

	c.conn = conn
	c.ch = ch
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		for d := range deliveries {
			c.handle(ctx, d)
		}
	}()

	c.log.Info().Str("queue", c.cfg.DLQQueue).Msg("dead-letter consumer started")
	return nil
}

func (c *DLQConsumer) handle(ctx context.Context, d amqp.Delivery) {
	c.log.Info().Str("body", string(d.Body)).Msg("received dead-letter message")

	var msg models.TransferMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		c.log.Error().Err(err).Msg("unparseable dead-letter message, dropping")
	} else {
		c.handler.HandleMessage(ctx, msg)
	}

	if err := d.Ack(false); err != nil {
		c.log.Error().Err(err).Msg("dead-letter ack failed")
	}
}

// Stop mirrors Consumer.Stop: channel first, wait for the in-flight
// handler, then connection. Idempotent.
func (c *DLQConsumer) Stop() error {
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
