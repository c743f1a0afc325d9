// Package slack bridges sessions onto Slack threads.
package slack

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	goslack "github.com/slack-go/slack"

	"github.com/pocketping/bridge-gateway/pkg/bridge"
	"github.com/pocketping/bridge-gateway/pkg/logger"
)

const callTimeout = 15 * time.Second

// Channel posts each session as a thread under one Slack channel. The
// root message doubles as the session card; its ts keys the thread.
type Channel struct {
	bridge.BaseBridge

	api       *goslack.Client
	channelID string
	username  string
	iconEmoji string
	log       zerolog.Logger

	mu       sync.Mutex
	threads  map[string]string // sessionID -> thread_ts
	sessions map[string]string // thread_ts -> sessionID
}

// New creates the Slack channel.
func New(token, channelID, username, iconEmoji string) *Channel {
	return &Channel{
		api:       goslack.New(token),
		channelID: channelID,
		username:  username,
		iconEmoji: iconEmoji,
		log:       logger.Component("slack"),
		threads:   make(map[string]string),
		sessions:  make(map[string]string),
	}
}

func (c *Channel) Name() string { return "slack" }

func callCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), callTimeout)
}

// escape applies Slack's required entity escaping.
var escaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escape(s string) string { return escaper.Replace(s) }

func (c *Channel) baseOptions() []goslack.MsgOption {
	var opts []goslack.MsgOption
	if c.username != "" {
		opts = append(opts, goslack.MsgOptionUsername(c.username))
	}
	if c.iconEmoji != "" {
		opts = append(opts, goslack.MsgOptionIconEmoji(c.iconEmoji))
	}
	return opts
}

// ensureThread lazily posts the session card whose ts anchors the
// thread.
func (c *Channel) ensureThread(session *bridge.Session) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts, ok := c.threads[session.ID]; ok {
		return ts, nil
	}

	ctx, cancel := callCtx()
	defer cancel()
	opts := append(c.baseOptions(), goslack.MsgOptionBlocks(sessionBlocks(session)...))
	_, ts, err := c.api.PostMessageContext(ctx, c.channelID, opts...)
	if err != nil {
		return "", fmt.Errorf("post session card: %w", err)
	}
	c.threads[session.ID] = ts
	c.sessions[ts] = session.ID
	return ts, nil
}

func sessionBlocks(session *bridge.Session) []goslack.Block {
	blocks := []goslack.Block{
		goslack.NewHeaderBlock(goslack.NewTextBlockObject(goslack.PlainTextType, "🆕 New chat started", true, false)),
	}
	var fields []*goslack.TextBlockObject
	add := func(label, value string) {
		if value != "" {
			fields = append(fields, goslack.NewTextBlockObject(goslack.MarkdownType,
				fmt.Sprintf("*%s:* %s", label, escape(value)), false, false))
		}
	}
	md := session.Metadata
	add("Page", md.Page)
	add("Location", strings.TrimPrefix(md.City+", "+md.Country, ", "))
	add("Referrer", md.Referrer)
	add("Session", session.ID)
	if len(fields) > 0 {
		blocks = append(blocks, goslack.NewSectionBlock(nil, fields, nil))
	}
	return blocks
}

// SessionForThread resolves a thread ts back to its session.
func (c *Channel) SessionForThread(threadID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[threadID]
	return s, ok
}

func (c *Channel) threadFor(sessionID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts, ok := c.threads[sessionID]
	return ts, ok
}

func (c *Channel) OnNewSession(session *bridge.Session) error {
	_, err := c.ensureThread(session)
	return err
}

func (c *Channel) OnVisitorMessage(msg *bridge.Message, session *bridge.Session, reply *bridge.ReplyContext) (*bridge.MessageIDs, error) {
	threadTS, err := c.ensureThread(session)
	if err != nil {
		return nil, err
	}

	text := formatVisitorMessage(msg, session)
	if reply != nil && reply.Quote != "" {
		text = escape(reply.Quote) + "\n" + text
	}

	ctx, cancel := callCtx()
	defer cancel()
	opts := append(c.baseOptions(),
		goslack.MsgOptionText(text, false),
		goslack.MsgOptionTS(threadTS),
	)
	_, ts, err := c.api.PostMessageContext(ctx, c.channelID, opts...)
	if err != nil {
		return nil, fmt.Errorf("post message: %w", err)
	}
	return &bridge.MessageIDs{SlackMessageTS: ts}, nil
}

func formatVisitorMessage(msg *bridge.Message, session *bridge.Session) string {
	who := "Visitor"
	if session.Identity.Name != "" {
		who = session.Identity.Name
	}
	text := fmt.Sprintf("*%s*: %s", escape(who), escape(msg.Content))
	for _, a := range msg.Attachments {
		icon := "📎"
		if a.Type == "image" {
			icon = "🖼️"
		}
		text += fmt.Sprintf("\n%s <%s|%s>", icon, a.URL, escape(a.Name))
	}
	return text
}

// OnOperatorMessage drops messages originating on Slack so the operator
// never sees their own reply twice.
func (c *Channel) OnOperatorMessage(msg *bridge.Message, session *bridge.Session, sourceBridge, operatorName string) error {
	if sourceBridge == c.Name() {
		return nil
	}
	threadTS, ok := c.threadFor(session.ID)
	if !ok {
		return nil
	}
	who := operatorName
	if who == "" {
		who = "Support"
	}
	ctx, cancel := callCtx()
	defer cancel()
	opts := append(c.baseOptions(),
		goslack.MsgOptionText(fmt.Sprintf("↩️ *%s* (via %s): %s", escape(who), sourceBridge, escape(msg.Content)), false),
		goslack.MsgOptionTS(threadTS),
	)
	_, _, err := c.api.PostMessageContext(ctx, c.channelID, opts...)
	return err
}

func (c *Channel) OnVisitorMessageEdited(sessionID, messageID, content string, ids *bridge.MessageIDs) (*bridge.MessageIDs, error) {
	if ids == nil || ids.SlackMessageTS == "" {
		return nil, nil
	}
	ctx, cancel := callCtx()
	defer cancel()
	_, _, _, err := c.api.UpdateMessageContext(ctx, c.channelID, ids.SlackMessageTS,
		goslack.MsgOptionText(fmt.Sprintf("*Visitor*: %s ✏️", escape(content)), false))
	if err != nil {
		return nil, fmt.Errorf("update message: %w", err)
	}
	return ids, nil
}

func (c *Channel) OnVisitorMessageDeleted(sessionID, messageID string, ids *bridge.MessageIDs) error {
	if ids == nil || ids.SlackMessageTS == "" {
		return nil
	}
	ctx, cancel := callCtx()
	defer cancel()
	_, _, err := c.api.DeleteMessageContext(ctx, c.channelID, ids.SlackMessageTS)
	return err
}

func (c *Channel) OnIdentityUpdate(session *bridge.Session) error {
	threadTS, ok := c.threadFor(session.ID)
	if !ok {
		return nil
	}
	id := session.Identity
	var parts []string
	if id.Name != "" {
		parts = append(parts, "*Name:* "+escape(id.Name))
	}
	if id.Email != "" {
		parts = append(parts, "*Email:* "+escape(id.Email))
	}
	if id.Phone != "" {
		parts = append(parts, "*Phone:* "+escape(id.Phone))
	}
	if len(parts) == 0 {
		return nil
	}
	ctx, cancel := callCtx()
	defer cancel()
	opts := append(c.baseOptions(),
		goslack.MsgOptionText("👤 *Visitor identified*\n"+strings.Join(parts, "\n"), false),
		goslack.MsgOptionTS(threadTS),
	)
	_, _, err := c.api.PostMessageContext(ctx, c.channelID, opts...)
	return err
}

func (c *Channel) OnVisitorDisconnect(sessionID, notice string) error {
	threadTS, ok := c.threadFor(sessionID)
	if !ok {
		return nil
	}
	ctx, cancel := callCtx()
	defer cancel()
	opts := append(c.baseOptions(),
		goslack.MsgOptionText("_"+escape(notice)+"_", false),
		goslack.MsgOptionTS(threadTS),
	)
	_, _, err := c.api.PostMessageContext(ctx, c.channelID, opts...)
	return err
}

func (c *Channel) OnCustomEvent(sessionID, name string, data map[string]any) error {
	threadTS, ok := c.threadFor(sessionID)
	if !ok {
		return nil
	}
	ctx, cancel := callCtx()
	defer cancel()
	opts := append(c.baseOptions(),
		goslack.MsgOptionText("📌 *"+escape(name)+"*", false),
		goslack.MsgOptionTS(threadTS),
	)
	_, _, err := c.api.PostMessageContext(ctx, c.channelID, opts...)
	return err
}
