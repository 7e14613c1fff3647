package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"trainingattend/internal/queue"
)

// Job is a notification waiting on the queue.
type Job struct {
	To         string    `json:"to"`
	Template   string    `json:"template"`
	Data       Data      `json:"data"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// EncodeJob wraps a job as a queue message.
func EncodeJob(j Job) (queue.Message, error) {
	body, err := json.Marshal(j)
	if err != nil {
		return queue.Message{}, fmt.Errorf("encode notification job: %w", err)
	}
	return queue.Message{Type: queue.TypeNotification, Body: body}, nil
}

// DecodeJob reads a job from a queue message.
func DecodeJob(msg queue.Message) (Job, error) {
	if msg.Type != queue.TypeNotification {
		return Job{}, fmt.Errorf("unexpected message type %q", msg.Type)
	}
	var j Job
	if err := json.Unmarshal(msg.Body, &j); err != nil {
		return Job{}, fmt.Errorf("decode notification job: %w", err)
	}
	return j, nil
}

// QueueNotifier hands notifications to the worker through a queue. Send succeeds once the
// job is enqueued; delivery happens asynchronously in the Dispatcher.
type QueueNotifier struct {
	q   queue.Queue
	now func() time.Time
}

// NewQueueNotifier creates a notifier publishing to q.
func NewQueueNotifier(q queue.Queue) *QueueNotifier {
	return &QueueNotifier{q: q, now: time.Now}
}

// Send implements Notifier.
func (n *QueueNotifier) Send(ctx context.Context, to, template string, data Data) error {
	if to == "" {
		return ErrNoRecipient
	}
	msg, err := EncodeJob(Job{To: to, Template: template, Data: data, EnqueuedAt: n.now().UTC()})
	if err != nil {
		return err
	}
	if err := n.q.Publish(ctx, msg); err != nil {
		return fmt.Errorf("enqueue %s for %s: %w", template, to, err)
	}
	return nil
}
