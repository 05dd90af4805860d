package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"shelfkeeper/pkg/domain"
)

type fakeChannel struct {
	closed     bool
	declared   []string
	published  []amqp.Publishing
	keys       []string
	publishErr error
}

func (c *fakeChannel) ExchangeDeclare(name, kind string, _, _, _, _ bool, _ amqp.Table) error {
	c.declared = append(c.declared, name+":"+kind)
	return nil
}

func (c *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	if c.closed {
		return amqp.ErrClosed
	}
	if c.publishErr != nil {
		// A channel exception closes the channel for good.
		c.closed = true
		return c.publishErr
	}
	c.keys = append(c.keys, key)
	c.published = append(c.published, msg)
	return nil
}

func (c *fakeChannel) IsClosed() bool { return c.closed }

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

type channelFactory struct {
	opened []*fakeChannel
	err    error
}

func (f *channelFactory) open() (amqpChannel, error) {
	if f.err != nil {
		return nil, f.err
	}
	ch := &fakeChannel{}
	f.opened = append(f.opened, ch)
	return ch, nil
}

func newFakePublisher(t *testing.T) (*AMQPPublisher, *channelFactory) {
	t.Helper()
	f := &channelFactory{}
	p := newAMQPPublisher("", f.open)
	t.Cleanup(func() { _ = p.Close() })
	return p, f
}

func TestAMQPPublishEncodesChange(t *testing.T) {
	p, f := newFakePublisher(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	change := domain.Change{Resource: "inventory", ID: 3, Op: domain.OpUpdate, At: at}
	if err := p.Publish(context.Background(), change); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(f.opened) != 1 || len(f.opened[0].declared) != 1 || f.opened[0].declared[0] != "shelfkeeper.changes:fanout" {
		t.Fatalf("unexpected channel setup %+v", f.opened)
	}
	ch := f.opened[0]
	if len(ch.published) != 1 || ch.keys[0] != "inventory" {
		t.Fatalf("published %d messages with keys %v", len(ch.published), ch.keys)
	}
	msg := ch.published[0]
	if msg.Type != "update" || msg.DeliveryMode != amqp.Persistent || !msg.Timestamp.Equal(at) {
		t.Fatalf("unexpected message %+v", msg)
	}
	var got domain.Change
	if err := json.Unmarshal(msg.Body, &got); err != nil || got.ID != 3 {
		t.Fatalf("body = %s, %v", msg.Body, err)
	}
}

func TestAMQPPublishReopensAfterChannelException(t *testing.T) {
	p, f := newFakePublisher(t)
	ctx := context.Background()
	change := domain.Change{Resource: "books", ID: 1, Op: domain.OpCreate}

	if err := p.Publish(ctx, change); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	f.opened[0].publishErr = &amqp.Error{Code: amqp.PreconditionFailed, Reason: "PRECONDITION_FAILED"}
	if err := p.Publish(ctx, change); err == nil {
		t.Fatalf("expected the channel exception to surface")
	}
	if err := p.Publish(ctx, change); err != nil {
		t.Fatalf("publish after exception: %v", err)
	}
	if len(f.opened) != 2 || len(f.opened[1].published) != 1 || len(f.opened[1].declared) != 1 {
		t.Fatalf("expected a fresh declared channel, got %d channels", len(f.opened))
	}
}

func TestAMQPPublishRetriesOnceWhenClosedUnderneath(t *testing.T) {
	p, f := newFakePublisher(t)
	ctx := context.Background()
	change := domain.Change{Resource: "authors", ID: 2, Op: domain.OpDelete}
	if err := p.Publish(ctx, change); err != nil {
		t.Fatalf("first publish: %v", err)
	}

	// IsClosed still reports open but the publish hits a closed channel.
	stale := f.opened[0]
	p.ch = &closedOnPublish{fakeChannel: stale}
	if err := p.Publish(ctx, change); err != nil {
		t.Fatalf("publish should retry on a new channel: %v", err)
	}
	if len(f.opened) != 2 || len(f.opened[1].published) != 1 {
		t.Fatalf("expected the retry on a second channel, got %d", len(f.opened))
	}
}

type closedOnPublish struct{ *fakeChannel }

func (c *closedOnPublish) IsClosed() bool { return false }

func (c *closedOnPublish) PublishWithContext(context.Context, string, string, bool, bool, amqp.Publishing) error {
	return amqp.ErrClosed
}

func TestAMQPPublishReportsReopenFailure(t *testing.T) {
	p, f := newFakePublisher(t)
	f.err = errors.New("broker unreachable")
	err := p.Publish(context.Background(), domain.Change{Resource: "books", ID: 1, Op: domain.OpCreate})
	if err == nil || !errors.Is(err, f.err) {
		t.Fatalf("publish = %v, want wrapped broker error", err)
	}
}

func TestNewAMQPPublisherRequiresURL(t *testing.T) {
	if _, err := NewAMQPPublisher("  ", ""); err == nil {
		t.Fatalf("expected error without url")
	}
}
