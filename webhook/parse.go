package webhook

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/creastat/relay"
)

// SendChatMessage is the only tool the relay executes.
const SendChatMessage = "send_chat_message"

// Kind classifies an inbound webhook payload.
type Kind int

const (
	// KindUnrecognized is any payload the relay does not act on.
	KindUnrecognized Kind = iota
	// KindToolCall carries a function invocation from the assistant.
	KindToolCall
	// KindEmptyToolCalls is a tool-calls wrapper without any calls.
	KindEmptyToolCalls
	// KindDirectMessage is a flat message with no target session.
	KindDirectMessage
)

func (k Kind) String() string {
	switch k {
	case KindToolCall:
		return "tool_call"
	case KindEmptyToolCalls:
		return "empty_tool_calls"
	case KindDirectMessage:
		return "direct_message"
	default:
		return "unrecognized"
	}
}

// Event is the normalized form of a webhook payload.
type Event struct {
	Kind       Kind
	ToolCallID string
	Function   string
	SessionID  string
	Content    string
	Role       relay.Role
	Raw        map[string]any
}

// Validate reports why a tool call cannot be executed.
func (e Event) Validate() error {
	if e.Function != SendChatMessage {
		return fmt.Errorf("%w: %q", relay.ErrUnknownFunction, e.Function)
	}
	if e.SessionID == "" {
		return fmt.Errorf("%w: session_id", relay.ErrMissingRequiredField)
	}
	if e.Content == "" {
		return fmt.Errorf("%w: message", relay.ErrMissingRequiredField)
	}
	return nil
}

// Parse normalizes a webhook body. Only invalid JSON is an error; shapes the
// relay does not understand come back as KindUnrecognized.
func Parse(body []byte) (Event, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return Event{}, fmt.Errorf("%w: %v", relay.ErrMalformedPayload, err)
	}
	ev := Event{Raw: raw, Role: relay.RoleAssistant}

	message, _ := raw["message"].(map[string]any)

	if call, ok := legacyFunctionCall(raw, message); ok {
		ev.Kind = KindToolCall
		ev.ToolCallID = stringOr(call["id"], "unknown")
		ev.Function = str(call["name"])
		applyArguments(&ev, arguments(call["parameters"]), raw)
		return ev, nil
	}

	if message != nil {
		calls, _ := message["toolCalls"].([]any)
		if len(calls) > 0 {
			call, _ := calls[0].(map[string]any)
			fn, _ := call["function"].(map[string]any)
			ev.Kind = KindToolCall
			ev.ToolCallID = stringOr(call["id"], "unknown")
			ev.Function = str(fn["name"])
			applyArguments(&ev, arguments(fn["arguments"]), raw)
			return ev, nil
		}
		if str(message["type"]) == "tool-calls" {
			ev.Kind = KindEmptyToolCalls
			return ev, nil
		}
	}

	if m, ok := raw["message"]; ok && m != nil {
		ev.Kind = KindDirectMessage
		if message != nil {
			ev.Content = str(message["content"])
			ev.Role = relay.ParseRole(str(message["role"]))
		} else {
			ev.Content = str(m)
		}
		return ev, nil
	}

	ev.Kind = KindUnrecognized
	return ev, nil
}

func legacyFunctionCall(raw, message map[string]any) (map[string]any, bool) {
	if call, ok := raw["functionCall"].(map[string]any); ok {
		return call, true
	}
	if message != nil {
		if call, ok := message["functionCall"].(map[string]any); ok {
			return call, true
		}
	}
	return nil, false
}

// arguments accepts an object or a JSON-encoded object.
func arguments(v any) map[string]any {
	switch a := v.(type) {
	case map[string]any:
		return a
	case string:
		var out map[string]any
		if err := json.Unmarshal([]byte(a), &out); err == nil {
			return out
		}
	}
	return map[string]any{}
}

func applyArguments(ev *Event, args, raw map[string]any) {
	ev.Content = str(args["message"])
	ev.Role = relay.ParseRole(str(args["role"]))
	ev.SessionID = strings.TrimSpace(str(args["session_id"]))
	if ev.SessionID == "" {
		ev.SessionID = strings.TrimSpace(str(raw["sessionId"]))
	}
	if ev.SessionID == "" {
		if call, ok := raw["call"].(map[string]any); ok {
			ev.SessionID = strings.TrimSpace(str(call["sessionId"]))
		}
	}
}

func str(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64, bool:
		return fmt.Sprint(s)
	default:
		b, err := json.Marshal(s)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func stringOr(v any, fallback string) string {
	if s := str(v); s != "" {
		return s
	}
	return fallback
}
