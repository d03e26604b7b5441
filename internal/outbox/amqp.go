package outbox

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPPublisher publishes events to a durable topic exchange, routed by
// event topic. The channel runs in confirm mode and Publish returns only
// after the broker acks the message. The channel is reopened after it is
// closed by the broker.
type AMQPPublisher struct {
	url      string
	exchange string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

var _ Publisher = (*AMQPPublisher)(nil)

// DialAMQP connects to the broker and declares exchange.
func DialAMQP(url, exchange string) (*AMQPPublisher, error) {
	p := &AMQPPublisher{url: url, exchange: exchange}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *AMQPPublisher) connect() error {
	if p.conn == nil || p.conn.IsClosed() {
		conn, err := amqp.Dial(p.url)
		if err != nil {
			return errors.Wrap(err, "dial")
		}
		p.conn = conn
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return errors.Wrap(err, "open channel")
	}
	if err := ch.ExchangeDeclare(p.exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return errors.Wrap(err, "declare exchange")
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return errors.Wrap(err, "enable confirms")
	}
	p.ch = ch
	return nil
}

// Publish sends e as a persistent JSON message whose ID is the event ID.
func (p *AMQPPublisher) Publish(ctx context.Context, e Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil || p.ch.IsClosed() {
		if err := p.connect(); err != nil {
			return errors.Wrap(err, "reconnect")
		}
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    e.ID.String(),
		Timestamp:    e.CreatedAt,
		Type:         e.Topic,
		Body:         e.Payload,
	}
	dc, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, e.Topic, false, false, msg)
	if err != nil {
		return errors.Wrap(err, "publish")
	}
	if dc == nil {
		return errors.New("channel not in confirm mode")
	}
	return awaitConfirm(ctx, dc)
}

// confirmation is the broker's pending answer to one publish.
type confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

// awaitConfirm blocks until c is acked, nacked or ctx is done. Only an ack
// counts as delivered.
func awaitConfirm(ctx context.Context, c confirmation) error {
	ack, err := c.WaitContext(ctx)
	if err != nil {
		return errors.Wrap(err, "wait for confirm")
	}
	if !ack {
		return errors.New("broker nacked message")
	}
	return nil
}

// Close closes the channel and connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch != nil {
		if err := p.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			return errors.Wrap(err, "close channel")
		}
	}
	if p.conn != nil && !p.conn.IsClosed() {
		return p.conn.Close()
	}
	return nil
}
