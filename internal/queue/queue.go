package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// TypeNotification marks a message carrying a notification job.
const TypeNotification = "notification"

// Message is one unit of work. Publish fills ID and PublishedAt when they are empty.
type Message struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Body        []byte    `json:"body"`
	PublishedAt time.Time `json:"published_at"`
}

// Queue is the abstraction over different backends.
type Queue interface {
	Publish(ctx context.Context, msg Message) error
	// Consume streams messages until ctx is done, then closes the channel.
	Consume(ctx context.Context) (<-chan Message, error)
	// Len reports how many messages wait to be consumed.
	Len(ctx context.Context) (int64, error)
}

func stamp(msg Message) Message {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.PublishedAt.IsZero() {
		msg.PublishedAt = time.Now().UTC()
	}
	return msg
}

// InMemory is a channel-backed queue for dev/testing. Publish and Consume must run in the
// same process.
type InMemory struct {
	ch chan Message
}

// NewInMemory creates a bounded in-memory queue.
func NewInMemory(size int) *InMemory {
	if size <= 0 {
		size = 64
	}
	return &InMemory{ch: make(chan Message, size)}
}

// Publish enqueues a message, blocking while the buffer is full.
func (q *InMemory) Publish(ctx context.Context, msg Message) error {
	select {
	case q.ch <- stamp(msg):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *InMemory) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			select {
			case msg := <-q.ch:
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (q *InMemory) Len(context.Context) (int64, error) {
	return int64(len(q.ch)), nil
}

// popTimeout bounds each blocking pop so Consume notices cancellation.
const popTimeout = 5 * time.Second

// RedisQueue keeps JSON-encoded messages in a Redis list: LPUSH to publish, BRPOP to
// consume. Entries that cannot be decoded move to the dead-letter list DeadKey.
type RedisQueue struct {
	client  *redis.Client
	key     string
	DeadKey string
	logger  *log.Logger
}

// NewRedisQueue builds a queue on the list named key.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = "training:notifications"
	}
	return &RedisQueue{client: client, key: key, DeadKey: key + ":dead", logger: log.Default()}
}

func (q *RedisQueue) Publish(ctx context.Context, msg Message) error {
	raw, err := encode(stamp(msg))
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.key, raw).Err()
}

func (q *RedisQueue) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			res, err := q.client.BRPop(ctx, popTimeout, q.key).Result()
			switch {
			case errors.Is(err, redis.Nil):
				continue
			case err != nil:
				if ctx.Err() != nil {
					return
				}
				q.logger.Printf("[queue] brpop %s: %v", q.key, err)
				time.Sleep(time.Second)
				continue
			case len(res) != 2:
				continue
			}
			msg, err := decode(res[1])
			if err != nil {
				q.bury(ctx, res[1], err)
				continue
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

func (q *RedisQueue) bury(ctx context.Context, raw string, cause error) {
	q.logger.Printf("[queue] %s: moving undecodable entry to %s: %v", q.key, q.DeadKey, cause)
	if err := q.client.LPush(ctx, q.DeadKey, raw).Err(); err != nil {
		q.logger.Printf("[queue] dead-letter %s: %v", q.DeadKey, err)
	}
}

func encode(msg Message) (string, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("encode message: %w", err)
	}
	return string(b), nil
}

func decode(raw string) (Message, error) {
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if msg.Type == "" {
		return Message{}, errors.New("decode message: missing type")
	}
	return msg, nil
}
