package notify

import (
	"context"
	"log"
)

// LogSink writes notifications to a logger instead of sending them. It is the development
// transport when no mail gateway is configured.
type LogSink struct {
	Logger *log.Logger
}

func (s LogSink) logger() *log.Logger {
	if s.Logger == nil {
		return log.Default()
	}
	return s.Logger
}

// Send implements Notifier.
func (s LogSink) Send(_ context.Context, to, template string, data Data) error {
	if to == "" {
		return ErrNoRecipient
	}
	s.logger().Printf("[notify] %s -> %s %v", template, to, data)
	return nil
}

// Deliver implements Deliverer.
func (s LogSink) Deliver(_ context.Context, msg Message) error {
	if msg.To == "" {
		return ErrNoRecipient
	}
	s.logger().Printf("[notify] deliver %q -> %s", msg.Subject, msg.To)
	return nil
}
