package notify

import (
	"context"
	"log"
	"time"

	"trainingattend/internal/metrics"
	"trainingattend/internal/queue"
)

// Deliverer sends a rendered message over some transport.
type Deliverer interface {
	Deliver(ctx context.Context, msg Message) error
}

// Dispatcher drains notification jobs from the queue, renders them and delivers them.
type Dispatcher struct {
	renderer *Renderer
	out      Deliverer
	timeout  time.Duration
	logger   *log.Logger
}

// NewDispatcher creates a dispatcher. timeout bounds each delivery.
func NewDispatcher(renderer *Renderer, out Deliverer, timeout time.Duration, logger *log.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Dispatcher{renderer: renderer, out: out, timeout: timeout, logger: logger}
}

// Run processes messages until the channel closes. A failed job is logged and dropped;
// it never stops the loop.
func (d *Dispatcher) Run(ctx context.Context, msgs <-chan queue.Message) (delivered, failed int) {
	for msg := range msgs {
		if msg.Type != queue.TypeNotification {
			continue
		}
		if !msg.PublishedAt.IsZero() {
			metrics.QueueWait.Observe(time.Since(msg.PublishedAt).Seconds())
		}
		if err := d.Handle(ctx, msg); err != nil {
			failed++
			metrics.Deliveries.WithLabelValues(metrics.ResultFailed).Inc()
			d.logger.Printf("[notify] delivery failed: %v", err)
			continue
		}
		delivered++
		metrics.Deliveries.WithLabelValues(metrics.ResultSent).Inc()
	}
	return delivered, failed
}

// Handle delivers a single queued job.
func (d *Dispatcher) Handle(ctx context.Context, msg queue.Message) error {
	job, err := DecodeJob(msg)
	if err != nil {
		return err
	}
	rendered, err := d.renderer.Render(job.To, job.Template, job.Data)
	if err != nil {
		return err
	}
	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return d.out.Deliver(sendCtx, rendered)
}
