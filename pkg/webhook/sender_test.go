package webhook

import (
	"crypto/hmac"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pocketping/bridge-gateway/pkg/bridge"
	"github.com/pocketping/bridge-gateway/pkg/events"
)

type capture struct {
	body      []byte
	signature string
}

func TestSenderSignsAndDelivers(t *testing.T) {
	got := make(chan capture, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- capture{body: body, signature: r.Header.Get(SignatureHeader)}
	}))
	defer ts.Close()

	s := NewSender(ts.URL, "topsecret")
	sess := &bridge.Session{ID: "s1", VisitorID: "v1", Metadata: bridge.SessionMetadata{Page: "/pricing"}}
	s.Send(events.NewOutgoing(events.OutVisitorMessage, "s1", map[string]string{"content": "hi"}), sess)

	var c capture
	select {
	case c = <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("webhook never delivered")
	}

	if want := Sign("topsecret", c.body); !hmac.Equal([]byte(c.signature), []byte(want)) {
		t.Errorf("signature = %q, want %q", c.signature, want)
	}

	var payload Payload
	if err := json.Unmarshal(c.body, &payload); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if payload.Event.Name != events.OutVisitorMessage {
		t.Errorf("event name = %q", payload.Event.Name)
	}
	if payload.Session.ID != "s1" || payload.Session.VisitorID != "v1" {
		t.Errorf("session info = %+v", payload.Session)
	}
	if payload.SentAt.IsZero() {
		t.Error("sentAt missing")
	}
}

func TestSenderNilIsNoop(t *testing.T) {
	var s *Sender
	// Must not panic.
	s.Send(events.NewOutgoing(events.OutDisconnect, "s1", nil), nil)

	if NewSender("", "secret") != nil {
		t.Error("NewSender with empty URL should return nil")
	}
}

func TestSignFormat(t *testing.T) {
	sig := Sign("secret", []byte(`{"a":1}`))
	if len(sig) != len("sha256=")+64 {
		t.Errorf("unexpected signature length: %q", sig)
	}
	if sig[:7] != "sha256=" {
		t.Errorf("missing prefix: %q", sig)
	}
}
