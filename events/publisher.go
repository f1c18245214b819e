package events

import (
	"context"
	"log/slog"
)

// Publisher emits relay events to an external bus.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Envelope) error { return nil }
func (Nop) Close() error                            { return nil }

// Emit publishes best-effort: failures are logged and never returned.
func Emit(ctx context.Context, p Publisher, logger *slog.Logger, env Envelope) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, env); err != nil && logger != nil {
		logger.Warn("publish event failed",
			slog.String("type", string(env.Meta.Type)),
			slog.Any("error", err),
		)
	}
}
