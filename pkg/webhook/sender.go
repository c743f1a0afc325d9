// Package webhook delivers outgoing gateway events to a backend
// endpoint, signed with HMAC-SHA256.
package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/pocketping/bridge-gateway/pkg/bridge"
	"github.com/pocketping/bridge-gateway/pkg/events"
	"github.com/pocketping/bridge-gateway/pkg/logger"
)

// SignatureHeader carries the hex HMAC of the raw request body.
const SignatureHeader = "X-PocketPing-Signature"

const sendTimeout = 10 * time.Second

// Payload is the wire shape posted to the events webhook.
type Payload struct {
	Event   events.Outgoing `json:"event"`
	Session SessionInfo     `json:"session"`
	SentAt  time.Time       `json:"sentAt"`
}

// SessionInfo is the session summary attached to every delivery.
type SessionInfo struct {
	ID        string                 `json:"id"`
	VisitorID string                 `json:"visitorId,omitempty"`
	Metadata  bridge.SessionMetadata `json:"metadata,omitempty"`
}

// Sender posts events fire-and-forget. Failures are logged, never
// retried.
type Sender struct {
	url    string
	secret string
	client *http.Client
	log    zerolog.Logger
}

// NewSender returns nil when no URL is configured, so callers can treat
// webhook delivery as optional.
func NewSender(url, secret string) *Sender {
	if url == "" {
		return nil
	}
	return &Sender{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: sendTimeout},
		log:    logger.Component("webhook"),
	}
}

// Sign computes the signature header value for a raw body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Send delivers one event asynchronously.
func (s *Sender) Send(ev events.Outgoing, session *bridge.Session) {
	if s == nil {
		return
	}
	payload := Payload{Event: ev, SentAt: time.Now().UTC()}
	if session != nil {
		payload.Session = SessionInfo{
			ID:        session.ID,
			VisitorID: session.VisitorID,
			Metadata:  session.Metadata,
		}
	} else {
		payload.Session = SessionInfo{ID: ev.SessionID}
	}

	go s.post(payload)
}

func (s *Sender) post(payload Payload) {
	body, err := json.Marshal(payload)
	if err != nil {
		s.log.Error().Err(err).Msg("marshal webhook payload")
		return
	}

	req, err := http.NewRequest(http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		s.log.Error().Err(err).Msg("build webhook request")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if s.secret != "" {
		req.Header.Set(SignatureHeader, Sign(s.secret, body))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.log.Warn().Err(err).Str("event", payload.Event.Name).Msg("webhook delivery failed")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		s.log.Warn().Int("status", resp.StatusCode).Str("event", payload.Event.Name).Msg("webhook rejected")
	}
}
