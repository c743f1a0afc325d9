// Package router fans gateway events out to every platform adapter and
// every SSE listener, and ingests operator activity coming back from
// the platforms.
package router

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pocketping/bridge-gateway/pkg/bridge"
	"github.com/pocketping/bridge-gateway/pkg/events"
	"github.com/pocketping/bridge-gateway/pkg/logger"
	"github.com/pocketping/bridge-gateway/pkg/registry"
	"github.com/pocketping/bridge-gateway/pkg/webhook"
)

// subscriberBuffer is the per-listener channel capacity. A listener that
// falls behind loses events rather than blocking the pipeline.
const subscriberBuffer = 10

// Router owns the adapter list and the outbound event fan-out.
type Router struct {
	bridges []bridge.Bridge
	reg     *registry.Registry
	sender  *webhook.Sender
	log     zerolog.Logger

	subscribers sync.Map // id -> chan events.Outgoing
}

// New builds a router over the given adapters. sender may be nil.
func New(reg *registry.Registry, sender *webhook.Sender, bridges ...bridge.Bridge) *Router {
	return &Router{
		bridges: bridges,
		reg:     reg,
		sender:  sender,
		log:     logger.Component("router"),
	}
}

// Bridges returns the adapter names, for health reporting.
func (r *Router) Bridges() []string {
	names := make([]string, 0, len(r.bridges))
	for _, b := range r.bridges {
		names = append(names, b.Name())
	}
	return names
}

// Registry exposes the backing registry.
func (r *Router) Registry() *registry.Registry { return r.reg }

// Dispatch decodes a raw event envelope and processes it. A decode
// failure is returned; adapter failures are logged and absorbed.
func (r *Router) Dispatch(raw []byte) error {
	ev, err := events.Decode(raw)
	if err != nil {
		return err
	}
	r.Handle(ev)
	return nil
}

// Handle routes one decoded event.
func (r *Router) Handle(ev events.Incoming) {
	switch e := ev.(type) {
	case events.NewSession:
		r.handleNewSession(e)
	case events.VisitorMessage:
		r.handleVisitorMessage(e)
	case events.VisitorMessageEdited:
		r.handleVisitorMessageEdited(e)
	case events.VisitorMessageDeleted:
		r.handleVisitorMessageDeleted(e)
	case events.OperatorStatus:
		r.reg.SetOperatorOnline(e.SessionID, e.Online)
		r.Emit(events.NewOutgoing(events.OutOperatorStatus, e.SessionID, e))
	case events.MessageRead:
		r.reg.MarkRead(e.SessionID, e.MessageIDs)
		r.fanout("message read", func(b bridge.Bridge) error {
			return b.OnMessageRead(e.SessionID, e.MessageIDs)
		})
		r.Emit(events.NewOutgoing(events.OutMessageRead, e.SessionID, e))
	case events.CustomEvent:
		r.handleCustomEvent(e)
	case events.IdentityUpdate:
		r.handleIdentityUpdate(e)
	case events.VisitorDisconnect:
		r.handleVisitorDisconnect(e)
	}
}

func (r *Router) handleNewSession(e events.NewSession) {
	sess := e.Session
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	r.reg.UpsertSession(&sess)
	r.fanout("new session", func(b bridge.Bridge) error {
		return b.OnNewSession(&sess)
	})
	r.Emit(events.NewOutgoing(events.OutNewSession, sess.ID, sess))
}

func (r *Router) handleVisitorMessage(e events.VisitorMessage) {
	msg := e.Message
	sess := e.Session
	if sess.ID == "" {
		sess.ID = msg.SessionID
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	r.reg.UpsertSession(&sess)
	r.reg.SaveMessage(&msg)

	reply := r.reg.ReplyContextFor(msg.SessionID, msg.ReplyTo)

	// Each adapter posts independently; its returned platform id is
	// merged so later edits and replies can address every copy.
	var (
		mu     sync.Mutex
		merged bridge.MessageIDs
	)
	var wg sync.WaitGroup
	for _, b := range r.bridges {
		wg.Add(1)
		go func(b bridge.Bridge) {
			defer wg.Done()
			ids, err := b.OnVisitorMessage(&msg, &sess, reply)
			if err != nil {
				r.log.Error().Err(err).Str("bridge", b.Name()).Msg("visitor message failed")
				return
			}
			if !ids.IsEmpty() {
				mu.Lock()
				merged.Merge(ids)
				mu.Unlock()
			}
		}(b)
	}
	wg.Wait()

	if !merged.IsEmpty() {
		r.reg.SaveBridgeIDs(msg.ID, &merged)
	}
	r.Emit(events.NewOutgoing(events.OutVisitorMessage, msg.SessionID, msg))
}

func (r *Router) handleVisitorMessageEdited(e events.VisitorMessageEdited) {
	r.reg.MarkEdited(e.SessionID, e.MessageID, e.Content)
	ids, _ := r.reg.BridgeIDs(e.MessageID)

	var (
		mu     sync.Mutex
		merged bridge.MessageIDs
	)
	var wg sync.WaitGroup
	for _, b := range r.bridges {
		wg.Add(1)
		go func(b bridge.Bridge) {
			defer wg.Done()
			updated, err := b.OnVisitorMessageEdited(e.SessionID, e.MessageID, e.Content, &ids)
			if err != nil {
				r.log.Error().Err(err).Str("bridge", b.Name()).Msg("edit failed")
				return
			}
			if !updated.IsEmpty() {
				mu.Lock()
				merged.Merge(updated)
				mu.Unlock()
			}
		}(b)
	}
	wg.Wait()

	if !merged.IsEmpty() {
		r.reg.SaveBridgeIDs(e.MessageID, &merged)
	}
	r.Emit(events.NewOutgoing(events.OutMessageEdited, e.SessionID, events.MessageEditData{
		SessionID: e.SessionID,
		MessageID: e.MessageID,
		Content:   e.Content,
	}))
}

func (r *Router) handleVisitorMessageDeleted(e events.VisitorMessageDeleted) {
	r.reg.MarkDeleted(e.SessionID, e.MessageID)
	ids, _ := r.reg.BridgeIDs(e.MessageID)
	r.fanout("delete", func(b bridge.Bridge) error {
		return b.OnVisitorMessageDeleted(e.SessionID, e.MessageID, &ids)
	})
	r.Emit(events.NewOutgoing(events.OutMessageDeleted, e.SessionID, events.MessageEditData{
		SessionID: e.SessionID,
		MessageID: e.MessageID,
	}))
}

func (r *Router) handleCustomEvent(e events.CustomEvent) {
	// Typing indicators arrive as a custom event so the widget protocol
	// stays small.
	if e.Name == "typing" {
		isTyping, _ := e.Data["isTyping"].(bool)
		r.fanout("typing", func(b bridge.Bridge) error {
			return b.OnTyping(e.SessionID, isTyping)
		})
		return
	}
	r.fanout("custom event", func(b bridge.Bridge) error {
		return b.OnCustomEvent(e.SessionID, e.Name, e.Data)
	})
	r.Emit(events.NewOutgoing(events.OutCustomEvent, e.SessionID, e))
}

func (r *Router) handleIdentityUpdate(e events.IdentityUpdate) {
	sess, ok := r.reg.MergeIdentity(e.SessionID, e.Identity)
	if !ok {
		r.log.Warn().Str("session", e.SessionID).Msg("identity update for unknown session")
		return
	}
	r.fanout("identity update", func(b bridge.Bridge) error {
		return b.OnIdentityUpdate(&sess)
	})
}

func (r *Router) handleVisitorDisconnect(e events.VisitorDisconnect) {
	notice := "👋 Visitor left"
	var sessPtr *bridge.Session
	if sess, ok := r.reg.Session(e.SessionID); ok {
		sessPtr = &sess
		who := "Visitor"
		if sess.Identity.Name != "" {
			who = sess.Identity.Name
		}
		notice = fmt.Sprintf("👋 %s left (was here for %s)", who, formatDuration(time.Since(sess.CreatedAt)))
	}
	r.fanout("disconnect", func(b bridge.Bridge) error {
		return b.OnVisitorDisconnect(e.SessionID, notice)
	})
	ev := events.NewOutgoing(events.OutDisconnect, e.SessionID, e)
	r.emit(ev, sessPtr)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	h := int(d.Hours())
	m := int(d.Minutes()) - h*60
	return fmt.Sprintf("%dh %dm", h, m)
}

// fanout invokes fn on every adapter concurrently. Errors are logged
// per adapter and never abort the rest.
func (r *Router) fanout(op string, fn func(bridge.Bridge) error) {
	var wg sync.WaitGroup
	for _, b := range r.bridges {
		wg.Add(1)
		go func(b bridge.Bridge) {
			defer wg.Done()
			if err := fn(b); err != nil {
				r.log.Error().Err(err).Str("bridge", b.Name()).Msg(op + " failed")
			}
		}(b)
	}
	wg.Wait()
}

// --- Operator ingest (platform webhooks and the Discord gateway) ---

// ResolveThread maps a platform thread or topic id to the session it
// belongs to, asking the adapter that owns the platform.
func (r *Router) ResolveThread(platform, threadID string) (string, bool) {
	for _, b := range r.bridges {
		if b.Name() == platform {
			return b.SessionForThread(threadID)
		}
	}
	return "", false
}

// RecordOperatorMessage stores an operator message under its composite
// id, records the source platform's message id, notifies listeners, and
// mirrors the message to every other platform.
func (r *Router) RecordOperatorMessage(sourceBridge, bridgeMessageID, sessionID, content, operatorName string) {
	msg := bridge.Message{
		ID:        bridge.OperatorMessageID(sourceBridge, bridgeMessageID),
		SessionID: sessionID,
		Content:   content,
		Sender:    bridge.SenderOperator,
		Timestamp: time.Now().UTC(),
		Status:    bridge.StatusDelivered,
	}
	r.reg.SaveMessage(&msg)
	r.reg.Touch(sessionID)

	ids := sourceMessageIDs(sourceBridge, bridgeMessageID)
	if !ids.IsEmpty() {
		r.reg.SaveBridgeIDs(msg.ID, ids)
	}

	r.Emit(events.NewOutgoing(events.OutOperatorMsg, sessionID, events.OperatorMessageData{
		Message:      msg,
		SourceBridge: sourceBridge,
		OperatorName: operatorName,
	}))

	sess, ok := r.reg.Session(sessionID)
	if !ok {
		sess = bridge.Session{ID: sessionID}
	}
	var wg sync.WaitGroup
	for _, b := range r.bridges {
		if b.Name() == sourceBridge {
			continue
		}
		wg.Add(1)
		go func(b bridge.Bridge) {
			defer wg.Done()
			if err := b.OnOperatorMessage(&msg, &sess, sourceBridge, operatorName); err != nil {
				r.log.Error().Err(err).Str("bridge", b.Name()).Msg("operator sync failed")
			}
		}(b)
	}
	wg.Wait()
}

// RecordOperatorEdit updates a previously recorded operator message and
// notifies listeners. Cross-platform mirrors are informational posts
// without stored ids, so edits propagate to the widget only.
func (r *Router) RecordOperatorEdit(sourceBridge, bridgeMessageID, sessionID, content string) {
	id := bridge.OperatorMessageID(sourceBridge, bridgeMessageID)
	r.reg.MarkEdited(sessionID, id, content)
	r.Emit(events.NewOutgoing(events.OutMessageEdited, sessionID, events.MessageEditData{
		SessionID: sessionID,
		MessageID: id,
		Content:   content,
	}))
}

// RecordOperatorDelete tombstones a recorded operator message and
// notifies listeners.
func (r *Router) RecordOperatorDelete(sourceBridge, bridgeMessageID, sessionID string) {
	id := bridge.OperatorMessageID(sourceBridge, bridgeMessageID)
	r.reg.MarkDeleted(sessionID, id)
	r.Emit(events.NewOutgoing(events.OutMessageDeleted, sessionID, events.MessageEditData{
		SessionID: sessionID,
		MessageID: id,
	}))
}

func sourceMessageIDs(sourceBridge, bridgeMessageID string) *bridge.MessageIDs {
	switch sourceBridge {
	case "telegram":
		if n, err := strconv.Atoi(bridgeMessageID); err == nil {
			return &bridge.MessageIDs{TelegramMessageID: n}
		}
		return &bridge.MessageIDs{}
	case "discord":
		return &bridge.MessageIDs{DiscordMessageID: bridgeMessageID}
	case "slack":
		return &bridge.MessageIDs{SlackMessageTS: bridgeMessageID}
	}
	return &bridge.MessageIDs{}
}

// --- SSE fan-out ---

// Subscribe registers a listener. The channel drops events when full.
func (r *Router) Subscribe() (string, <-chan events.Outgoing) {
	id := uuid.NewString()
	ch := make(chan events.Outgoing, subscriberBuffer)
	r.subscribers.Store(id, ch)
	return id, ch
}

// Unsubscribe removes a listener. The channel is left open so a
// concurrent Emit never hits a closed channel; the subscriber stops
// reading on its own context.
func (r *Router) Unsubscribe(id string) {
	r.subscribers.Delete(id)
}

// Emit pushes an event to every subscriber and the events webhook.
func (r *Router) Emit(ev events.Outgoing) {
	var sessPtr *bridge.Session
	if sess, ok := r.reg.Session(ev.SessionID); ok {
		sessPtr = &sess
	}
	r.emit(ev, sessPtr)
}

func (r *Router) emit(ev events.Outgoing, sess *bridge.Session) {
	r.subscribers.Range(func(key, value any) bool {
		ch := value.(chan events.Outgoing)
		select {
		case ch <- ev:
		default:
			r.log.Debug().Str("subscriber", key.(string)).Str("event", ev.Name).Msg("subscriber full, dropping")
		}
		return true
	})
	// Only custom events leave the gateway through the signed webhook;
	// everything else is observable on the SSE stream.
	if ev.Name == events.OutCustomEvent {
		r.sender.Send(ev, sess)
	}
}
