// Package broker abstracts the durable message queue the router and the
// elasticity controller run against. Implementations must provide durable
// queues, per-message acknowledgement, and at-least-once redelivery of
// abandoned messages. Concrete variants (AMQP, Redis lists) are selected
// at startup from the connection URL scheme.
package broker

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/oriys/vela/internal/logging"
)

// ErrNoMessage is returned by Receive when the queue is empty for the
// duration of the wait. Idle empty returns are normal.
var ErrNoMessage = errors.New("broker: no message available")

// ErrClosed is returned by operations on a closed broker.
var ErrClosed = errors.New("broker: closed")

// Connection retry policy applied by Connect.
const (
	MaxRetries = 10
	RetryDelay = 5 * time.Second
)

// Message is a single received message. The receipt is implementation
// private state needed to settle the message.
type Message struct {
	ID    string
	Queue string
	Body  []byte

	receipt any
}

// Broker is the minimum queue contract the core needs.
type Broker interface {
	// Receive blocks up to maxWait for one message from the queue.
	// Returns ErrNoMessage when nothing arrives in time.
	Receive(ctx context.Context, queue string, maxWait time.Duration) (*Message, error)

	// Complete positively acknowledges a message, removing it from the queue.
	Complete(ctx context.Context, msg *Message) error

	// Abandon negatively acknowledges a message. The broker redelivers or
	// dead-letters it according to its own policy.
	Abandon(ctx context.Context, msg *Message) error

	// Send publishes a durable message, blocking until the broker accepts it.
	Send(ctx context.Context, queue string, body []byte) error

	// Depth reports the best-effort current message count of a queue.
	// Unknown queues report zero.
	Depth(ctx context.Context, queue string) (int, error)

	// Ping verifies connectivity to the underlying broker.
	Ping(ctx context.Context) error

	// Close releases the broker connection.
	Close() error
}

// Open dials the broker identified by the connection URL, selecting the
// implementation from the scheme.
func Open(ctx context.Context, rawURL string) (Broker, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse broker url: %w", err)
	}
	switch u.Scheme {
	case "amqp", "amqps":
		return DialAMQP(rawURL)
	case "redis", "rediss":
		return DialRedis(ctx, rawURL)
	default:
		return nil, fmt.Errorf("unsupported broker scheme %q", u.Scheme)
	}
}

// Connect opens the broker with the startup retry policy: up to MaxRetries
// attempts with a fixed RetryDelay between them. Exhaustion is terminal.
func Connect(ctx context.Context, rawURL string) (Broker, error) {
	var lastErr error
	for attempt := 1; attempt <= MaxRetries; attempt++ {
		logging.Op().Info("connecting to broker", "attempt", attempt, "max", MaxRetries)
		b, err := Open(ctx, rawURL)
		if err == nil {
			logging.Op().Info("broker connected")
			return b, nil
		}
		lastErr = err
		logging.Op().Warn("broker connection failed", "attempt", attempt, "error", err)
		if attempt == MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(RetryDelay):
		}
	}
	return nil, fmt.Errorf("broker connection retries exhausted: %w", lastErr)
}
