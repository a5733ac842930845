package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix        = "vela:queue:"
	redisProcessingSuffix = ":processing"
)

// RedisBroker is a Redis list-backed broker variant using the reliable
// queue pattern: producers LPUSH onto the queue list, consumers BLMOVE a
// message to a per-queue processing list, and settlement either removes
// the entry (complete) or moves it back to the consuming end (abandon).
// A crash between receive and settle leaves the message parked on the
// processing list for operator-driven recovery; within a live process
// the handler invariant guarantees one settle per receive.
type RedisBroker struct {
	client *redis.Client
}

// DialRedis connects to a Redis broker at the given URL.
func DialRedis(ctx context.Context, rawURL string) (*RedisBroker, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisBroker{client: client}, nil
}

// NewRedisBrokerFromClient wraps an existing client, mainly for tests.
func NewRedisBrokerFromClient(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client}
}

func redisKey(queue string) string {
	return redisKeyPrefix + queue
}

// Receive block-moves one message from the queue list to its processing
// list, waiting up to maxWait.
func (b *RedisBroker) Receive(ctx context.Context, queue string, maxWait time.Duration) (*Message, error) {
	src := redisKey(queue)
	val, err := b.client.BLMove(ctx, src, src+redisProcessingSuffix, "RIGHT", "LEFT", maxWait).Result()
	if err == redis.Nil {
		return nil, ErrNoMessage
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("redis receive %s: %w", queue, err)
	}
	return &Message{
		ID:      uuid.New().String(),
		Queue:   queue,
		Body:    []byte(val),
		receipt: val,
	}, nil
}

// Complete removes the message from the processing list.
func (b *RedisBroker) Complete(ctx context.Context, msg *Message) error {
	val, ok := msg.receipt.(string)
	if !ok {
		return fmt.Errorf("complete: message not received from this broker")
	}
	key := redisKey(msg.Queue) + redisProcessingSuffix
	if err := b.client.LRem(ctx, key, 1, val).Err(); err != nil {
		return fmt.Errorf("redis complete %s: %w", msg.Queue, err)
	}
	return nil
}

// Abandon moves the message back to the consuming end of the queue so the
// next receive redelivers it.
func (b *RedisBroker) Abandon(ctx context.Context, msg *Message) error {
	val, ok := msg.receipt.(string)
	if !ok {
		return fmt.Errorf("abandon: message not received from this broker")
	}
	src := redisKey(msg.Queue)
	pipe := b.client.TxPipeline()
	pipe.LRem(ctx, src+redisProcessingSuffix, 1, val)
	pipe.RPush(ctx, src, val)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis abandon %s: %w", msg.Queue, err)
	}
	return nil
}

// Send pushes a message onto the queue list. Redis acknowledges the write
// before LPUSH returns, which is the durability the deployment's
// persistence configuration provides.
func (b *RedisBroker) Send(ctx context.Context, queue string, body []byte) error {
	if err := b.client.LPush(ctx, redisKey(queue), body).Err(); err != nil {
		return fmt.Errorf("redis send %s: %w", queue, err)
	}
	return nil
}

// Depth reports the list length. Missing keys naturally report zero.
func (b *RedisBroker) Depth(ctx context.Context, queue string) (int, error) {
	n, err := b.client.LLen(ctx, redisKey(queue)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis depth %s: %w", queue, err)
	}
	return int(n), nil
}

// Ping verifies connectivity.
func (b *RedisBroker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close releases the client.
func (b *RedisBroker) Close() error {
	return b.client.Close()
}
