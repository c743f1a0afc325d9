// Package registry tracks sessions, messages, and the cross-platform
// message-id mappings that tie one logical message to its Telegram,
// Discord, and Slack counterparts.
package registry

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pocketping/bridge-gateway/pkg/bridge"
	"github.com/pocketping/bridge-gateway/pkg/logger"
)

const quoteMaxLen = 140

// Store is the optional persistence hook for bridge message ids, so id
// mappings survive a restart.
type Store interface {
	LoadBridgeIDs(messageID string) (*bridge.MessageIDs, error)
	SaveBridgeIDs(messageID string, ids *bridge.MessageIDs) error
	Close() error
}

// Registry is the in-memory source of truth. All maps are guarded by a
// single mutex; merges happen inside one lock scope so concurrent
// writers never lose fields.
type Registry struct {
	mu        sync.RWMutex
	sessions  map[string]*bridge.Session
	messages  map[string]*bridge.Message    // sessionID/messageID
	bridgeIDs map[string]*bridge.MessageIDs // messageID
	store     Store
	log       zerolog.Logger
}

// New creates a registry. store may be nil for memory-only operation.
func New(store Store) *Registry {
	return &Registry{
		sessions:  make(map[string]*bridge.Session),
		messages:  make(map[string]*bridge.Message),
		bridgeIDs: make(map[string]*bridge.MessageIDs),
		store:     store,
		log:       logger.Component("registry"),
	}
}

func messageKey(sessionID, messageID string) string {
	return sessionID + "/" + messageID
}

// UpsertSession stores or refreshes a session.
func (r *Registry) UpsertSession(s *bridge.Session) {
	if s == nil || s.ID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.sessions[s.ID]; ok {
		existing.LastActivity = time.Now()
		existing.Identity.Merge(s.Identity)
		existing.Metadata.Merge(s.Metadata)
		return
	}
	cp := *s
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	cp.LastActivity = time.Now()
	r.sessions[s.ID] = &cp
}

// Session returns a copy of the session, if known.
func (r *Registry) Session(id string) (bridge.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return bridge.Session{}, false
	}
	return *s, true
}

// Touch bumps a session's last-activity time.
func (r *Registry) Touch(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sessionID]; ok {
		s.LastActivity = time.Now()
	}
}

// SetOperatorOnline records operator presence for a session.
func (r *Registry) SetOperatorOnline(sessionID string, online bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sessionID]; ok {
		s.OperatorOnline = online
		s.LastActivity = time.Now()
	}
}

// MergeIdentity folds identity fields into a session, append-only.
func (r *Registry) MergeIdentity(sessionID string, id bridge.Identity) (bridge.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return bridge.Session{}, false
	}
	s.Identity.Merge(id)
	s.LastActivity = time.Now()
	return *s, true
}

// SaveMessage stores a message for later reply-quote and edit lookups.
func (r *Registry) SaveMessage(m *bridge.Message) {
	if m == nil || m.ID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *m
	r.messages[messageKey(m.SessionID, m.ID)] = &cp
}

// Message returns a copy of a stored message.
func (r *Registry) Message(sessionID, messageID string) (bridge.Message, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.messages[messageKey(sessionID, messageID)]
	if !ok {
		return bridge.Message{}, false
	}
	return *m, true
}

// MarkEdited updates stored content and the edit timestamp.
func (r *Registry) MarkEdited(sessionID, messageID, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.messages[messageKey(sessionID, messageID)]; ok {
		m.Content = content
		now := time.Now()
		m.EditedAt = &now
	}
}

// MarkDeleted tombstones a stored message. The record stays so reply
// quotes can render "Message deleted".
func (r *Registry) MarkDeleted(sessionID, messageID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.messages[messageKey(sessionID, messageID)]; ok {
		now := time.Now()
		m.DeletedAt = &now
	}
}

// MarkRead flags stored messages as read.
func (r *Registry) MarkRead(sessionID string, messageIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range messageIDs {
		if m, ok := r.messages[messageKey(sessionID, id)]; ok {
			m.Status = bridge.StatusRead
		}
	}
}

// SaveBridgeIDs merges platform ids for a message. The read-merge-write
// happens under the lock, so two adapters reporting different platforms
// for the same message never clobber each other.
func (r *Registry) SaveBridgeIDs(messageID string, ids *bridge.MessageIDs) {
	if messageID == "" || ids.IsEmpty() {
		return
	}
	r.mu.Lock()
	existing, ok := r.bridgeIDs[messageID]
	if !ok {
		existing = &bridge.MessageIDs{}
		r.bridgeIDs[messageID] = existing
	}
	existing.Merge(ids)
	merged := *existing
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.SaveBridgeIDs(messageID, &merged); err != nil {
			r.log.Warn().Err(err).Str("message_id", messageID).Msg("persist bridge ids failed")
		}
	}
}

// BridgeIDs returns a copy of the platform ids for a message, falling
// back to the persistent store on a miss.
func (r *Registry) BridgeIDs(messageID string) (bridge.MessageIDs, bool) {
	r.mu.RLock()
	ids, ok := r.bridgeIDs[messageID]
	if ok {
		cp := *ids
		r.mu.RUnlock()
		return cp, true
	}
	r.mu.RUnlock()

	if r.store == nil {
		return bridge.MessageIDs{}, false
	}
	loaded, err := r.store.LoadBridgeIDs(messageID)
	if err != nil || loaded == nil {
		return bridge.MessageIDs{}, false
	}
	r.mu.Lock()
	r.bridgeIDs[messageID] = loaded
	cp := *loaded
	r.mu.Unlock()
	return cp, true
}

// ReplyContextFor resolves the reply context for a message replying to
// replyTo within a session. Returns nil when there is nothing to quote.
func (r *Registry) ReplyContextFor(sessionID, replyTo string) *bridge.ReplyContext {
	if replyTo == "" {
		return nil
	}
	ctx := &bridge.ReplyContext{}
	if ids, ok := r.BridgeIDs(replyTo); ok {
		ctx.IDs = &ids
	}
	if quoted, ok := r.Message(sessionID, replyTo); ok {
		ctx.Quote = BuildReplyQuote(&quoted)
	}
	if ctx.IDs == nil && ctx.Quote == "" {
		return nil
	}
	return ctx
}

// BuildReplyQuote renders a quoted message as a one-line fallback for
// platforms without native replies.
func BuildReplyQuote(msg *bridge.Message) string {
	label := "Visitor"
	switch msg.Sender {
	case bridge.SenderOperator:
		label = "Support"
	case bridge.SenderAI:
		label = "AI"
	}

	body := msg.Content
	if msg.DeletedAt != nil {
		body = "Message deleted"
	} else if runes := []rune(body); len(runes) > quoteMaxLen {
		body = string(runes[:quoteMaxLen]) + "..."
	}

	attach := ""
	if msg.DeletedAt == nil && len(msg.Attachments) > 0 {
		images, files := 0, 0
		for _, a := range msg.Attachments {
			if a.Type == "image" {
				images++
			} else {
				files++
			}
		}
		var parts []string
		if images > 0 {
			parts = append(parts, fmt.Sprintf("🖼️ %d image(s)", images))
		}
		if files > 0 {
			parts = append(parts, fmt.Sprintf("📎 %d file(s)", files))
		}
		attach = " [" + strings.Join(parts, ", ") + "]"
	}

	return fmt.Sprintf("> *%s*%s — %s", label, attach, body)
}

// Close releases the persistent store, if any.
func (r *Registry) Close() error {
	if r.store != nil {
		return r.store.Close()
	}
	return nil
}
