package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"shelfkeeper/pkg/domain"
)

// amqpChannel is the part of *amqp.Channel the publisher uses.
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	IsClosed() bool
	Close() error
}

// AMQPPublisher publishes changes to a durable fanout exchange. The routing
// key is the resource name. A channel closed by the broker is reopened on the
// next publish, redialing the connection when that is gone too.
type AMQPPublisher struct {
	url      string
	exchange string
	open     func() (amqpChannel, error)

	mu   sync.Mutex
	conn *amqp.Connection
	ch   amqpChannel
}

func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("amqp url required")
	}
	p := newAMQPPublisher(exchange, nil)
	p.url = url
	p.open = p.dialChannel
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.reopen(); err != nil {
		p.closeConn()
		return nil, err
	}
	return p, nil
}

func newAMQPPublisher(exchange string, open func() (amqpChannel, error)) *AMQPPublisher {
	exchange = strings.TrimSpace(exchange)
	if exchange == "" {
		exchange = "shelfkeeper.changes"
	}
	return &AMQPPublisher{exchange: exchange, open: open}
}

func (p *AMQPPublisher) Publish(ctx context.Context, change domain.Change) error {
	body, err := json.Marshal(change)
	if err != nil {
		return err
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    change.At,
		Type:         string(change.Op),
		Body:         body,
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil || p.ch.IsClosed() {
		if err := p.reopen(); err != nil {
			return err
		}
	}
	err = p.ch.PublishWithContext(ctx, p.exchange, change.Resource, false, false, msg)
	if errors.Is(err, amqp.ErrClosed) {
		// The channel died between the check and the publish; retry once.
		if err := p.reopen(); err != nil {
			return err
		}
		err = p.ch.PublishWithContext(ctx, p.exchange, change.Resource, false, false, msg)
	}
	return err
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	return p.closeConn()
}

// reopen replaces the channel and redeclares the exchange. Callers hold p.mu.
func (p *AMQPPublisher) reopen() error {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	ch, err := p.open()
	if err != nil {
		return fmt.Errorf("open amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(p.exchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return fmt.Errorf("declare exchange: %w", err)
	}
	p.ch = ch
	return nil
}

func (p *AMQPPublisher) dialChannel() (amqpChannel, error) {
	if p.conn == nil || p.conn.IsClosed() {
		conn, err := amqp.Dial(p.url)
		if err != nil {
			return nil, fmt.Errorf("dial amqp: %w", err)
		}
		p.conn = conn
	}
	return p.conn.Channel()
}

func (p *AMQPPublisher) closeConn() error {
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	if errors.Is(err, amqp.ErrClosed) {
		return nil
	}
	return err
}
