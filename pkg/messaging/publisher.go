// Package messaging publishes reconciliation outcomes to RabbitMQ.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	RoutingBookingConfirmed = "booking.confirmed"
	RoutingBookingReleased  = "booking.released"
)

// dialTimeout caps connect plus handshake when the caller has no deadline.
const dialTimeout = 5 * time.Second

// Publisher sends one JSON message per routing key.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
	Close() error
}

// AMQPPublisher keeps one connection and reopens it after a broker drop.
// Every call gives up when its context ends, including while waiting for
// another call to finish dialing.
type AMQPPublisher struct {
	url      string
	exchange string
	log      *zap.Logger

	sem      chan struct{}
	conn     *amqp.Connection
	ch       *amqp.Channel
	declared map[string]bool
}

func NewAMQPPublisher(url, exchange string, log *zap.Logger) *AMQPPublisher {
	return &AMQPPublisher{
		url:      url,
		exchange: exchange,
		log:      log.With(zap.String("component", "amqp_publisher")),
		sem:      make(chan struct{}, 1),
		declared: make(map[string]bool),
	}
}

func (p *AMQPPublisher) Publish(ctx context.Context, routingKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", routingKey, err)
	}

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("publish %s: %w", routingKey, ctx.Err())
	}
	defer func() { <-p.sem }()

	ch, err := p.channel(ctx)
	if err != nil {
		return err
	}

	// Default exchange: queue name = routing key, declare sekali saja
	if p.exchange == "" && !p.declared[routingKey] {
		if _, err := ch.QueueDeclare(routingKey, true, false, false, false, nil); err != nil {
			p.reset()
			return fmt.Errorf("declare queue %s: %w", routingKey, err)
		}
		p.declared[routingKey] = true
	}

	err = ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		p.reset()
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}

	return nil
}

func (p *AMQPPublisher) channel(ctx context.Context) (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	p.reset()

	timeout := dialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}
	if timeout <= 0 || ctx.Err() != nil {
		return nil, fmt.Errorf("dial amqp: %w", context.DeadlineExceeded)
	}

	// DefaultDial juga membatasi handshake, bukan hanya TCP connect
	conn, err := amqp.DialConfig(p.url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(timeout),
	})
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}

	p.conn = conn
	p.ch = ch
	p.log.Info("AMQP channel opened")
	return ch, nil
}

func (p *AMQPPublisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
	p.declared = make(map[string]bool)
}

func (p *AMQPPublisher) Close() error {
	p.sem <- struct{}{}
	defer func() { <-p.sem }()
	p.reset()
	return nil
}

// NopPublisher is used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, any) error { return nil }
func (NopPublisher) Close() error                               { return nil }
