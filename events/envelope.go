package events

import (
	"time"

	"github.com/google/uuid"
)

// Type names an event and its schema version.
type Type string

const (
	SessionRegistered Type = "relay.session.registered.v1"
	MessageEnqueued   Type = "relay.message.enqueued.v1"
	MessageDelivered  Type = "relay.message.delivered.v1"
)

// Meta carries envelope metadata.
type Meta struct {
	ID            string    `json:"id"`
	Type          Type      `json:"type"`
	Time          time.Time `json:"time"`
	Producer      string    `json:"producer,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// Envelope wraps an event payload.
type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

// NewEnvelope builds an envelope with a fresh id. The session id is used as
// the correlation id so consumers can stitch a session's events together.
func NewEnvelope(typ Type, sessionID string, data any) Envelope {
	return Envelope{
		Meta: Meta{
			ID:            uuid.NewString(),
			Type:          typ,
			Time:          time.Now().UTC(),
			CorrelationID: sessionID,
		},
		Data: data,
	}
}

// SessionData is the payload of SessionRegistered.
type SessionData struct {
	SessionID      string `json:"session_id"`
	CustomerDomain string `json:"customer_domain,omitempty"`
	CompanyName    string `json:"company_name,omitempty"`
}

// MessageData is the payload of MessageEnqueued and MessageDelivered.
type MessageData struct {
	SessionID  string   `json:"session_id"`
	MessageIDs []string `json:"message_ids"`
	Source     string   `json:"source,omitempty"`
}
