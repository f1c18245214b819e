package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/creastat/relay"
	"github.com/creastat/relay/events"
)

// BroadcastPolicy decides what happens to a direct message with no target session.
type BroadcastPolicy string

const (
	// BroadcastOff drops direct messages.
	BroadcastOff BroadcastPolicy = "off"
	// BroadcastRegistered enqueues direct messages for every registered session.
	BroadcastRegistered BroadcastPolicy = "registered"
)

// ParseBroadcastPolicy maps a config value onto a policy. Empty means registered.
func ParseBroadcastPolicy(s string) (BroadcastPolicy, error) {
	switch BroadcastPolicy(s) {
	case "", BroadcastRegistered:
		return BroadcastRegistered, nil
	case BroadcastOff:
		return BroadcastOff, nil
	default:
		return "", fmt.Errorf("%w: broadcast policy %q", relay.ErrInvalidConfig, s)
	}
}

// Enqueuer appends a message to a session's queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, sessionID string, msg relay.Message) error
}

// SessionLister lists registered sessions.
type SessionLister interface {
	List(ctx context.Context) ([]string, error)
}

// ToolResult is one entry of a tool-call acknowledgment.
type ToolResult struct {
	ToolCallID string `json:"toolCallId"`
	Result     string `json:"result"`
}

// ToolResponse is the acknowledgment the assistant provider waits for.
type ToolResponse struct {
	Results []ToolResult `json:"results"`
}

// GenericResponse answers every payload that is not a tool call.
type GenericResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

// Service turns webhook payloads into queued messages.
type Service struct {
	queue     Enqueuer
	sessions  SessionLister
	broadcast BroadcastPolicy
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithBroadcastPolicy sets the direct message policy.
func WithBroadcastPolicy(p BroadcastPolicy) Option {
	return func(s *Service) { s.broadcast = p }
}

// WithPublisher attaches an event publisher.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a webhook service.
func NewService(q Enqueuer, sessions SessionLister, opts ...Option) *Service {
	s := &Service{
		queue:     q,
		sessions:  sessions,
		broadcast: BroadcastRegistered,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "webhook"))
	return s
}

// Handle processes one webhook body and returns the acknowledgment to send.
// The only error is relay.ErrMalformedPayload.
func (s *Service) Handle(ctx context.Context, body []byte) (any, error) {
	ev, err := Parse(body)
	if err != nil {
		s.logger.Warn("malformed webhook payload", slog.Any("error", err))
		return nil, err
	}
	s.logger.Debug("webhook received", slog.String("kind", ev.Kind.String()))

	switch ev.Kind {
	case KindToolCall:
		return s.toolCall(ctx, ev), nil
	case KindEmptyToolCalls:
		return GenericResponse{Success: false, Message: "No tool calls found", Data: map[string]any{}}, nil
	case KindDirectMessage:
		return s.direct(ctx, ev), nil
	default:
		return GenericResponse{
			Success: true,
			Message: "Unknown webhook format received",
			Data:    map[string]any{"raw_data": ev.Raw},
		}, nil
	}
}

func (s *Service) toolCall(ctx context.Context, ev Event) ToolResponse {
	log := s.logger.With(slog.String("tool_call_id", ev.ToolCallID), slog.String("function", ev.Function))
	reply := func(text string) ToolResponse {
		return ToolResponse{Results: []ToolResult{{ToolCallID: ev.ToolCallID, Result: text}}}
	}

	if err := ev.Validate(); err != nil {
		switch {
		case errors.Is(err, relay.ErrUnknownFunction):
			log.Info("unknown tool call")
			return reply(fmt.Sprintf("Unknown tool call '%s' received", ev.Function))
		default:
			log.Warn("tool call rejected", slog.Any("error", err))
			return reply("Missing session_id or message")
		}
	}

	msg := relay.NewMessage(ev.Content, ev.Role, relay.SourceVapiTool, s.now())
	if err := s.enqueue(ctx, ev.SessionID, msg); err != nil {
		log.Error("enqueue failed", slog.String("session_id", ev.SessionID), slog.Any("error", err))
		return reply(fmt.Sprintf("Message could not be delivered to session %s", ev.SessionID))
	}
	log.Info("message queued", slog.String("session_id", ev.SessionID), slog.String("message_id", msg.ID))
	return reply(fmt.Sprintf("Message '%s' sent to session %s", ev.Content, ev.SessionID))
}

func (s *Service) direct(ctx context.Context, ev Event) GenericResponse {
	data := map[string]any{
		"message_content": ev.Content,
		"message_role":    string(ev.Role),
		"broadcasted_to":  0,
	}
	if s.broadcast != BroadcastRegistered {
		return GenericResponse{Success: true, Message: "Direct message ignored: no target session", Data: data}
	}
	if ev.Content == "" {
		return GenericResponse{Success: true, Message: "Direct message was empty", Data: data}
	}

	ids, err := s.sessions.List(ctx)
	if err != nil {
		s.logger.Error("list sessions failed", slog.Any("error", err))
		return GenericResponse{Success: false, Message: "Direct message could not be broadcast", Data: data}
	}

	now := s.now()
	delivered := 0
	for _, id := range ids {
		msg := relay.NewMessage(ev.Content, ev.Role, relay.SourceVoiceFunction, now)
		if err := s.enqueue(ctx, id, msg); err != nil {
			s.logger.Warn("broadcast enqueue failed", slog.String("session_id", id), slog.Any("error", err))
			continue
		}
		delivered++
	}
	data["broadcasted_to"] = delivered
	s.logger.Info("direct message broadcast", slog.Int("sessions", delivered))
	return GenericResponse{
		Success: true,
		Message: "Direct message processed and broadcasted to all sessions",
		Data:    data,
	}
}

func (s *Service) enqueue(ctx context.Context, sessionID string, msg relay.Message) error {
	if err := s.queue.Enqueue(ctx, sessionID, msg); err != nil {
		return err
	}
	events.Emit(ctx, s.publisher, s.logger, events.NewEnvelope(events.MessageEnqueued, sessionID, events.MessageData{
		SessionID:  sessionID,
		MessageIDs: []string{msg.ID},
		Source:     msg.Source,
	}))
	return nil
}
