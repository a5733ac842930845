package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqplib "github.com/rabbitmq/amqp091-go"

	"github.com/oriys/vela/internal/logging"
)

// AMQPBroker is the RabbitMQ-backed broker variant. Queues are declared
// durable, consumers run with prefetch 1, and publishes wait for a
// publisher confirm so a send only returns once the broker has accepted
// the message durably.
type AMQPBroker struct {
	url string

	mu        sync.Mutex
	conn      *amqplib.Connection
	pubCh     *amqplib.Channel // confirm-mode channel for publishes
	consumers map[string]*amqpConsumer
	closed    bool
}

type amqpConsumer struct {
	ch         *amqplib.Channel
	deliveries <-chan amqplib.Delivery
	tag        string
}

// DialAMQP connects to an AMQP broker at the given URL.
func DialAMQP(rawURL string) (*AMQPBroker, error) {
	b := &AMQPBroker{
		url:       rawURL,
		consumers: make(map[string]*amqpConsumer),
	}
	if err := b.dial(); err != nil {
		return nil, err
	}
	return b, nil
}

// dial establishes the connection and the confirm-mode publish channel.
// Callers must hold b.mu or be in the constructor.
func (b *AMQPBroker) dial() error {
	conn, err := amqplib.Dial(b.url)
	if err != nil {
		return fmt.Errorf("amqp dial: %w", err)
	}
	pubCh, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("amqp publish channel: %w", err)
	}
	if err := pubCh.Confirm(false); err != nil {
		conn.Close()
		return fmt.Errorf("amqp confirm mode: %w", err)
	}
	b.conn = conn
	b.pubCh = pubCh
	b.consumers = make(map[string]*amqpConsumer)
	return nil
}

// ensure redials after a dropped connection. Consumer channels are
// rebuilt lazily by the next Receive.
func (b *AMQPBroker) ensure() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if b.conn != nil && !b.conn.IsClosed() {
		return nil
	}
	logging.Op().Warn("amqp connection lost, redialing")
	return b.dial()
}

// consumer returns (creating if needed) the prefetch-1 consumer for a queue.
func (b *AMQPBroker) consumer(queue string) (*amqpConsumer, error) {
	if err := b.ensure(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.consumers[queue]; ok {
		return c, nil
	}

	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("amqp consumer channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("amqp declare %s: %w", queue, err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("amqp qos: %w", err)
	}

	tag := "vela-" + uuid.New().String()[:8]
	deliveries, err := ch.Consume(queue, tag, false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("amqp consume %s: %w", queue, err)
	}

	c := &amqpConsumer{ch: ch, deliveries: deliveries, tag: tag}
	b.consumers[queue] = c
	return c, nil
}

func (b *AMQPBroker) dropConsumer(queue string, c *amqpConsumer) {
	b.mu.Lock()
	if b.consumers[queue] == c {
		delete(b.consumers, queue)
	}
	b.mu.Unlock()
	c.ch.Close()
}

// Receive waits up to maxWait for one delivery from the queue.
func (b *AMQPBroker) Receive(ctx context.Context, queue string, maxWait time.Duration) (*Message, error) {
	c, err := b.consumer(queue)
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(maxWait)
	defer timer.Stop()

	select {
	case d, ok := <-c.deliveries:
		if !ok {
			// Channel closed underneath us; rebuild on the next call.
			b.dropConsumer(queue, c)
			return nil, fmt.Errorf("amqp consumer for %s closed", queue)
		}
		return &Message{
			ID:      d.MessageId,
			Queue:   queue,
			Body:    d.Body,
			receipt: d,
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrNoMessage
	}
}

// Complete acks the message.
func (b *AMQPBroker) Complete(_ context.Context, msg *Message) error {
	d, ok := msg.receipt.(amqplib.Delivery)
	if !ok {
		return fmt.Errorf("complete: message not received from this broker")
	}
	return d.Ack(false)
}

// Abandon nacks the message with requeue; redelivery or dead-lettering
// follows the broker's queue policy.
func (b *AMQPBroker) Abandon(_ context.Context, msg *Message) error {
	d, ok := msg.receipt.(amqplib.Delivery)
	if !ok {
		return fmt.Errorf("abandon: message not received from this broker")
	}
	return d.Nack(false, true)
}

// Send publishes a persistent message and waits for the broker confirm.
func (b *AMQPBroker) Send(ctx context.Context, queue string, body []byte) error {
	if err := b.ensure(); err != nil {
		return err
	}

	b.mu.Lock()
	pubCh := b.pubCh
	b.mu.Unlock()

	if _, err := pubCh.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("amqp declare %s: %w", queue, err)
	}

	dc, err := pubCh.PublishWithDeferredConfirmWithContext(ctx, "", queue, false, false, amqplib.Publishing{
		DeliveryMode: amqplib.Persistent,
		ContentType:  "application/json",
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("amqp publish %s: %w", queue, err)
	}

	acked, err := dc.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("amqp confirm %s: %w", queue, err)
	}
	if !acked {
		return fmt.Errorf("amqp publish %s: broker nacked", queue)
	}
	return nil
}

// Depth reports the message count via a passive declare. A missing queue
// reports zero. The scratch channel is required because a failed passive
// declare closes the channel it ran on.
func (b *AMQPBroker) Depth(_ context.Context, queue string) (int, error) {
	if err := b.ensure(); err != nil {
		return 0, err
	}

	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()

	ch, err := conn.Channel()
	if err != nil {
		return 0, fmt.Errorf("amqp depth channel: %w", err)
	}
	defer ch.Close()

	q, err := ch.QueueDeclarePassive(queue, true, false, false, false, nil)
	if err != nil {
		var amqpErr *amqplib.Error
		if errors.As(err, &amqpErr) && amqpErr.Code == amqplib.NotFound {
			return 0, nil
		}
		return 0, fmt.Errorf("amqp depth %s: %w", queue, err)
	}
	return q.Messages, nil
}

// Ping checks the connection is still open.
func (b *AMQPBroker) Ping(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if b.conn == nil || b.conn.IsClosed() {
		return errors.New("amqp connection closed")
	}
	return nil
}

// Close shuts down all channels and the connection.
func (b *AMQPBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, c := range b.consumers {
		c.ch.Close()
	}
	b.consumers = nil
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
