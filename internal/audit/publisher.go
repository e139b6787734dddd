package audit

import (
	"context"
	"log/slog"
	"time"
)

// Sink receives audit events for durable delivery.
type Sink interface {
	Append(ctx context.Context, event Event) error
}

// Publisher buffers audit events for background delivery. Auditing is
// best-effort by design: a full buffer drops the event rather than blocking
// the verification path.
type Publisher struct {
	inbox  chan Event
	logger *slog.Logger
}

func NewPublisher(buffer int, logger *slog.Logger) *Publisher {
	if buffer <= 0 {
		buffer = 256
	}
	return &Publisher{
		inbox:  make(chan Event, buffer),
		logger: logger,
	}
}

// Emit enqueues an event without blocking.
func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case p.inbox <- event:
	default:
		p.logger.WarnContext(ctx, "audit buffer full, event dropped",
			"action", event.Action,
			"session_id", event.SessionID,
		)
	}
	return nil
}

// Inbox exposes the queue to the worker.
func (p *Publisher) Inbox() <-chan Event { return p.inbox }
