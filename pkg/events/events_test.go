package events

import (
	"testing"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantType string
	}{
		{
			name:     "new session",
			raw:      `{"type":"new_session","session":{"id":"s1","visitorId":"v1"}}`,
			wantType: TypeNewSession,
		},
		{
			name:     "visitor message",
			raw:      `{"type":"visitor_message","message":{"id":"m1","sessionId":"s1","content":"hi"},"session":{"id":"s1"}}`,
			wantType: TypeVisitorMessage,
		},
		{
			name:     "edit",
			raw:      `{"type":"visitor_message_edited","sessionId":"s1","messageId":"m1","content":"fixed"}`,
			wantType: TypeVisitorMessageEdited,
		},
		{
			name:     "delete",
			raw:      `{"type":"visitor_message_deleted","sessionId":"s1","messageId":"m1"}`,
			wantType: TypeVisitorMessageDeleted,
		},
		{
			name:     "operator status",
			raw:      `{"type":"operator_status","sessionId":"s1","online":true}`,
			wantType: TypeOperatorStatus,
		},
		{
			name:     "message read",
			raw:      `{"type":"message_read","sessionId":"s1","messageIds":["m1","m2"]}`,
			wantType: TypeMessageRead,
		},
		{
			name:     "custom event",
			raw:      `{"type":"custom_event","sessionId":"s1","name":"cart_updated","data":{"items":3}}`,
			wantType: TypeCustomEvent,
		},
		{
			name:     "identity update",
			raw:      `{"type":"identity_update","sessionId":"s1","identity":{"email":"a@b.c"}}`,
			wantType: TypeIdentityUpdate,
		},
		{
			name:     "disconnect",
			raw:      `{"type":"visitor_disconnect","sessionId":"s1"}`,
			wantType: TypeVisitorDisconnect,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Decode([]byte(tt.raw))
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if ev.EventType() != tt.wantType {
				t.Errorf("EventType() = %q, want %q", ev.EventType(), tt.wantType)
			}
		})
	}
}

func TestDecodeRejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"unknown type", `{"type":"made_up_event"}`},
		{"missing type", `{"sessionId":"s1"}`},
		{"not json", `{{{`},
		{"wrong field shape", `{"type":"operator_status","online":"yes"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode([]byte(tt.raw)); err == nil {
				t.Errorf("Decode(%q) should fail", tt.raw)
			}
		})
	}
}

func TestDecodePayloadFields(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"visitor_message","message":{"id":"m1","sessionId":"s1","content":"hi","replyTo":"m0"},"session":{"id":"s1"}}`))
	if err != nil {
		t.Fatal(err)
	}
	vm, ok := ev.(VisitorMessage)
	if !ok {
		t.Fatalf("wrong variant %T", ev)
	}
	if vm.Message.ReplyTo != "m0" || vm.Message.Content != "hi" {
		t.Errorf("payload fields lost: %+v", vm.Message)
	}
}
