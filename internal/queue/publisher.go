package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/paywire/backend/internal/config"
	"github.com/paywire/backend/internal/models"
)

// Publisher sends transfer-request messages to the main work queue. It is
// the producer half of the pipeline boundary.
type Publisher struct {
	cfg config.BrokerConfig

	conn      *amqp.Connection
	ch        *amqp.Channel
	closeOnce sync.Once
}

// NewPublisher connects and declares the same topology as the consumers,
// so whichever process starts first the broker ends up with identical
// queue arguments.
func NewPublisher(cfg config.BrokerConfig) (*Publisher, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("broker connect: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("broker channel: %w", err)
	}
	if err := declareTopology(ch, cfg); err != nil {
		conn.Close()
		return nil, err
	}
	return &Publisher{cfg: cfg, conn: conn, ch: ch}, nil
}

// Publish sends one persistent JSON message to the work queue.
func (p *Publisher) Publish(ctx context.Context, msg models.TransferMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal transfer message: %w", err)
	}
	return p.ch.PublishWithContext(ctx, "", p.cfg.Queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

func (p *Publisher) Close() error {
	var err error
	p.closeOnce.Do(func() {
		if p.ch != nil {
			err = p.ch.Close()
		}
		if p.conn != nil {
			if cerr := p.conn.Close(); err == nil {
				err = cerr
			}
		}
	})
	return err
}
