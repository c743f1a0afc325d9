// Package events defines the typed event contracts for the gateway.
// Every event crossing the HTTP boundary, the SSE stream, or the events
// webhook uses one of these types. No ad-hoc map[string]interface{}
// events.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pocketping/bridge-gateway/pkg/bridge"
)

// --- Incoming events (backend -> gateway) ---

// Incoming event type names. The set is closed: anything else is a
// decode error.
const (
	TypeNewSession            = "new_session"
	TypeVisitorMessage        = "visitor_message"
	TypeVisitorMessageEdited  = "visitor_message_edited"
	TypeVisitorMessageDeleted = "visitor_message_deleted"
	TypeOperatorStatus        = "operator_status"
	TypeMessageRead           = "message_read"
	TypeCustomEvent           = "custom_event"
	TypeIdentityUpdate        = "identity_update"
	TypeVisitorDisconnect     = "visitor_disconnect"
)

// DecodeError distinguishes malformed input from downstream failures so
// the HTTP layer can answer 400.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string { return "decode event: " + e.Reason }

// Incoming is the closed union of events the gateway accepts.
type Incoming interface {
	EventType() string
}

type NewSession struct {
	Session bridge.Session `json:"session"`
}

func (NewSession) EventType() string { return TypeNewSession }

type VisitorMessage struct {
	Message bridge.Message `json:"message"`
	Session bridge.Session `json:"session"`
}

func (VisitorMessage) EventType() string { return TypeVisitorMessage }

type VisitorMessageEdited struct {
	SessionID string `json:"sessionId"`
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
}

func (VisitorMessageEdited) EventType() string { return TypeVisitorMessageEdited }

type VisitorMessageDeleted struct {
	SessionID string `json:"sessionId"`
	MessageID string `json:"messageId"`
}

func (VisitorMessageDeleted) EventType() string { return TypeVisitorMessageDeleted }

type OperatorStatus struct {
	SessionID string `json:"sessionId"`
	Online    bool   `json:"online"`
}

func (OperatorStatus) EventType() string { return TypeOperatorStatus }

type MessageRead struct {
	SessionID  string   `json:"sessionId"`
	MessageIDs []string `json:"messageIds"`
}

func (MessageRead) EventType() string { return TypeMessageRead }

type CustomEvent struct {
	SessionID string         `json:"sessionId"`
	Name      string         `json:"name"`
	Data      map[string]any `json:"data,omitempty"`
}

func (CustomEvent) EventType() string { return TypeCustomEvent }

type IdentityUpdate struct {
	SessionID string          `json:"sessionId"`
	Identity  bridge.Identity `json:"identity"`
}

func (IdentityUpdate) EventType() string { return TypeIdentityUpdate }

type VisitorDisconnect struct {
	SessionID string `json:"sessionId"`
}

func (VisitorDisconnect) EventType() string { return TypeVisitorDisconnect }

// Decode parses a raw event envelope into its typed variant.
func Decode(raw []byte) (Incoming, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, &DecodeError{Reason: err.Error()}
	}

	var (
		ev  Incoming
		err error
	)
	switch head.Type {
	case TypeNewSession:
		var v NewSession
		err = json.Unmarshal(raw, &v)
		ev = v
	case TypeVisitorMessage:
		var v VisitorMessage
		err = json.Unmarshal(raw, &v)
		ev = v
	case TypeVisitorMessageEdited:
		var v VisitorMessageEdited
		err = json.Unmarshal(raw, &v)
		ev = v
	case TypeVisitorMessageDeleted:
		var v VisitorMessageDeleted
		err = json.Unmarshal(raw, &v)
		ev = v
	case TypeOperatorStatus:
		var v OperatorStatus
		err = json.Unmarshal(raw, &v)
		ev = v
	case TypeMessageRead:
		var v MessageRead
		err = json.Unmarshal(raw, &v)
		ev = v
	case TypeCustomEvent:
		var v CustomEvent
		err = json.Unmarshal(raw, &v)
		ev = v
	case TypeIdentityUpdate:
		var v IdentityUpdate
		err = json.Unmarshal(raw, &v)
		ev = v
	case TypeVisitorDisconnect:
		var v VisitorDisconnect
		err = json.Unmarshal(raw, &v)
		ev = v
	default:
		return nil, &DecodeError{Reason: fmt.Sprintf("unknown event type %q", head.Type)}
	}
	if err != nil {
		return nil, &DecodeError{Reason: err.Error()}
	}
	return ev, nil
}

// --- Outgoing events (gateway -> SSE listeners and events webhook) ---

// Outgoing event names.
const (
	OutNewSession     = "new_session"
	OutVisitorMessage = "visitor_message"
	OutOperatorMsg    = "operator_message"
	OutMessageEdited  = "message_edited"
	OutMessageDeleted = "message_deleted"
	OutMessageRead    = "message_read"
	OutCustomEvent    = "custom_event"
	OutOperatorStatus = "operator_status"
	OutDisconnect     = "disconnect"
)

// Outgoing is the envelope pushed to SSE subscribers and the events
// webhook.
type Outgoing struct {
	Name      string    `json:"name"`
	SessionID string    `json:"sessionId"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// NewOutgoing creates a timestamped outgoing event.
func NewOutgoing(name, sessionID string, data any) Outgoing {
	return Outgoing{
		Name:      name,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// OperatorMessageData is the payload for operator_message events.
type OperatorMessageData struct {
	Message      bridge.Message `json:"message"`
	SourceBridge string         `json:"sourceBridge"`
	OperatorName string         `json:"operatorName,omitempty"`
}

// MessageEditData is the payload for message_edited and message_deleted
// events.
type MessageEditData struct {
	SessionID string `json:"sessionId"`
	MessageID string `json:"messageId"`
	Content   string `json:"content,omitempty"`
}
