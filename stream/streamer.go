package stream

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/creastat/relay"
	"github.com/creastat/relay/events"
	"github.com/creastat/relay/queue"
)

const (
	DefaultInterval       = 3 * time.Second
	DefaultHeartbeatEvery = 5
)

// Source is the part of a queue the delivery loop needs.
type Source interface {
	Peek(ctx context.Context, sessionID string) (queue.Batch, error)
	Ack(ctx context.Context, batch queue.Batch) error
}

// Streamer runs the per-connection delivery loop.
type Streamer struct {
	source    Source
	conns     *Connections
	publisher events.Publisher
	logger    *slog.Logger

	// base is cancelled by Shutdown and bounds every Serve loop.
	base     context.Context
	shutdown context.CancelFunc

	// Interval between polls of the session's queue.
	Interval time.Duration
	// HeartbeatEvery sends a keep-alive comment after every N poll intervals.
	HeartbeatEvery int
}

// NewStreamer creates a streamer over source. A nil publisher disables events.
func NewStreamer(source Source, conns *Connections, publisher events.Publisher, logger *slog.Logger) *Streamer {
	if logger == nil {
		logger = slog.Default()
	}
	if conns == nil {
		conns = NewConnections()
	}
	base, shutdown := context.WithCancel(context.Background())
	return &Streamer{
		base:           base,
		shutdown:       shutdown,
		source:         source,
		conns:          conns,
		publisher:      publisher,
		logger:         logger.With(slog.String("component", "stream")),
		Interval:       DefaultInterval,
		HeartbeatEvery: DefaultHeartbeatEvery,
	}
}

// Connections returns the open stream registry.
func (s *Streamer) Connections() *Connections {
	return s.conns
}

// Shutdown ends every running Serve loop. Serve calls made afterwards return
// immediately.
func (s *Streamer) Shutdown() {
	s.shutdown()
}

// Serve delivers sessionID's messages to sink until ctx is done, Shutdown is
// called or a send fails. A batch is acked only after every message in it was
// sent; on a send failure nothing is acked and relay.ErrTransmission is
// returned.
func (s *Streamer) Serve(ctx context.Context, sessionID string, sink Sink) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.base, cancel)
	defer stop()

	s.conns.Add(sessionID)
	defer s.conns.Remove(sessionID)

	log := s.logger.With(slog.String("session_id", sessionID))
	log.Info("stream opened")
	defer log.Info("stream closed")

	interval := s.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for iteration := 1; ; iteration++ {
		if err := s.deliver(ctx, log, sessionID, sink); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		// Keep-alive after every HeartbeatEvery intervals of waiting.
		if s.HeartbeatEvery > 0 && iteration%s.HeartbeatEvery == 0 {
			if err := sink.KeepAlive(); err != nil {
				return fmt.Errorf("%w: %v", relay.ErrTransmission, err)
			}
		}
	}
}

func (s *Streamer) deliver(ctx context.Context, log *slog.Logger, sessionID string, sink Sink) error {
	if ctx.Err() != nil {
		return nil
	}
	batch, err := s.source.Peek(ctx, sessionID)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn("read queue failed", slog.Any("error", err))
		}
		return nil
	}
	if batch.Empty() {
		return nil
	}

	for _, msg := range batch.Messages {
		if err := sink.Send(msg); err != nil {
			log.Warn("send failed, batch left queued", slog.Int("count", len(batch.Messages)), slog.Any("error", err))
			return fmt.Errorf("%w: %v", relay.ErrTransmission, err)
		}
	}

	// The batch reached the client; clear it even if the request is going away.
	ackCtx := context.WithoutCancel(ctx)
	if err := s.source.Ack(ackCtx, batch); err != nil {
		log.Warn("ack failed", slog.Any("error", err))
		return nil
	}
	log.Debug("delivered messages", slog.Int("count", len(batch.Messages)))

	events.Emit(ackCtx, s.publisher, log, events.NewEnvelope(events.MessageDelivered, sessionID, events.MessageData{
		SessionID:  sessionID,
		MessageIDs: batch.IDs(),
	}))
	return nil
}
