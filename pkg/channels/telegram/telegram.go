// Package telegram bridges sessions onto Telegram forum topics.
package telegram

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/rs/zerolog"

	"github.com/pocketping/bridge-gateway/pkg/bridge"
	"github.com/pocketping/bridge-gateway/pkg/logger"
)

const callTimeout = 15 * time.Second

// Channel posts each session into its own forum topic of one supergroup
// chat, so operators reply in-thread from any Telegram client.
type Channel struct {
	bridge.BaseBridge

	bot    *telego.Bot
	chatID int64
	log    zerolog.Logger

	mu       sync.Mutex
	topics   map[string]int // sessionID -> message_thread_id
	sessions map[int]string // message_thread_id -> sessionID
}

// New creates the Telegram channel. The chat must be a forum-enabled
// supergroup.
func New(token string, chatID int64) (*Channel, error) {
	bot, err := telego.NewBot(token, telego.WithDiscardLogger())
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &Channel{
		bot:      bot,
		chatID:   chatID,
		log:      logger.Component("telegram"),
		topics:   make(map[string]int),
		sessions: make(map[int]string),
	}, nil
}

func (c *Channel) Name() string { return "telegram" }

func callCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), callTimeout)
}

// ensureTopic lazily creates the forum topic for a session. Repeated
// calls for the same session reuse the cached topic.
func (c *Channel) ensureTopic(session *bridge.Session) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.topics[session.ID]; ok {
		return id, nil
	}

	ctx, cancel := callCtx()
	defer cancel()
	topic, err := c.bot.CreateForumTopic(ctx, &telego.CreateForumTopicParams{
		ChatID: tu.ID(c.chatID),
		Name:   topicName(session),
	})
	if err != nil {
		return 0, fmt.Errorf("create forum topic: %w", err)
	}
	c.topics[session.ID] = topic.MessageThreadID
	c.sessions[topic.MessageThreadID] = session.ID
	return topic.MessageThreadID, nil
}

func topicName(session *bridge.Session) string {
	if session.Identity.Name != "" {
		return "💬 " + session.Identity.Name
	}
	short := session.ID
	if len(short) > 8 {
		short = short[:8]
	}
	return "💬 Visitor " + short
}

// SessionForThread resolves a topic id back to its session.
func (c *Channel) SessionForThread(threadID string) (string, bool) {
	id, err := strconv.Atoi(threadID)
	if err != nil {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[id]
	return s, ok
}

func (c *Channel) send(topicID int, text string, replyTo int) (*telego.Message, error) {
	ctx, cancel := callCtx()
	defer cancel()
	params := &telego.SendMessageParams{
		ChatID:          tu.ID(c.chatID),
		MessageThreadID: topicID,
		Text:            text,
		ParseMode:       telego.ModeHTML,
	}
	if replyTo != 0 {
		params.ReplyParameters = &telego.ReplyParameters{MessageID: replyTo}
	}
	return c.bot.SendMessage(ctx, params)
}

func (c *Channel) OnNewSession(session *bridge.Session) error {
	topicID, err := c.ensureTopic(session)
	if err != nil {
		return err
	}
	_, err = c.send(topicID, sessionCard(session), 0)
	return err
}

func sessionCard(session *bridge.Session) string {
	var b strings.Builder
	b.WriteString("🆕 <b>New chat started</b>\n")
	md := session.Metadata
	if md.Page != "" {
		fmt.Fprintf(&b, "📄 %s\n", html.EscapeString(md.Page))
	}
	if md.Country != "" || md.City != "" {
		fmt.Fprintf(&b, "📍 %s\n", html.EscapeString(strings.TrimPrefix(md.City+", "+md.Country, ", ")))
	}
	if md.Referrer != "" {
		fmt.Fprintf(&b, "🔗 %s\n", html.EscapeString(md.Referrer))
	}
	fmt.Fprintf(&b, "<code>%s</code>", html.EscapeString(session.ID))
	return b.String()
}

func (c *Channel) OnVisitorMessage(msg *bridge.Message, session *bridge.Session, reply *bridge.ReplyContext) (*bridge.MessageIDs, error) {
	topicID, err := c.ensureTopic(session)
	if err != nil {
		return nil, err
	}

	text := formatVisitorMessage(msg, session)
	replyTo := 0
	if reply != nil {
		if reply.IDs != nil && reply.IDs.TelegramMessageID != 0 {
			replyTo = reply.IDs.TelegramMessageID
		} else if reply.Quote != "" {
			text = html.EscapeString(reply.Quote) + "\n" + text
		}
	}

	sent, err := c.send(topicID, text, replyTo)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	return &bridge.MessageIDs{TelegramMessageID: sent.MessageID}, nil
}

func formatVisitorMessage(msg *bridge.Message, session *bridge.Session) string {
	who := "Visitor"
	if session.Identity.Name != "" {
		who = session.Identity.Name
	}
	text := fmt.Sprintf("<b>%s</b>: %s", html.EscapeString(who), html.EscapeString(msg.Content))
	for _, a := range msg.Attachments {
		icon := "📎"
		if a.Type == "image" {
			icon = "🖼️"
		}
		text += fmt.Sprintf("\n%s <a href=\"%s\">%s</a>", icon, a.URL, html.EscapeString(a.Name))
	}
	return text
}

func (c *Channel) OnOperatorMessage(msg *bridge.Message, session *bridge.Session, sourceBridge, operatorName string) error {
	if sourceBridge == c.Name() {
		return nil
	}
	c.mu.Lock()
	topicID, ok := c.topics[session.ID]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	who := operatorName
	if who == "" {
		who = "Support"
	}
	text := fmt.Sprintf("↩️ <b>%s</b> (via %s): %s",
		html.EscapeString(who), sourceBridge, html.EscapeString(msg.Content))
	_, err := c.send(topicID, text, 0)
	return err
}

func (c *Channel) OnTyping(sessionID string, isTyping bool) error {
	if !isTyping {
		return nil
	}
	c.mu.Lock()
	topicID, ok := c.topics[sessionID]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	ctx, cancel := callCtx()
	defer cancel()
	return c.bot.SendChatAction(ctx, &telego.SendChatActionParams{
		ChatID:          tu.ID(c.chatID),
		MessageThreadID: topicID,
		Action:          telego.ChatActionTyping,
	})
}

func (c *Channel) OnVisitorMessageEdited(sessionID, messageID, content string, ids *bridge.MessageIDs) (*bridge.MessageIDs, error) {
	if ids == nil || ids.TelegramMessageID == 0 {
		return nil, nil
	}
	ctx, cancel := callCtx()
	defer cancel()
	_, err := c.bot.EditMessageText(ctx, &telego.EditMessageTextParams{
		ChatID:    tu.ID(c.chatID),
		MessageID: ids.TelegramMessageID,
		Text:      fmt.Sprintf("<b>Visitor</b>: %s ✏️", html.EscapeString(content)),
		ParseMode: telego.ModeHTML,
	})
	if err != nil {
		return nil, fmt.Errorf("edit message: %w", err)
	}
	return ids, nil
}

func (c *Channel) OnVisitorMessageDeleted(sessionID, messageID string, ids *bridge.MessageIDs) error {
	if ids == nil || ids.TelegramMessageID == 0 {
		return nil
	}
	ctx, cancel := callCtx()
	defer cancel()
	return c.bot.DeleteMessage(ctx, &telego.DeleteMessageParams{
		ChatID:    tu.ID(c.chatID),
		MessageID: ids.TelegramMessageID,
	})
}

func (c *Channel) OnIdentityUpdate(session *bridge.Session) error {
	c.mu.Lock()
	topicID, ok := c.topics[session.ID]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	parts := identityLines(session.Identity)
	if len(parts) == 0 {
		return nil
	}
	_, err := c.send(topicID, "👤 <b>Visitor identified</b>\n"+strings.Join(parts, "\n"), 0)
	return err
}

func identityLines(id bridge.Identity) []string {
	var parts []string
	if id.Name != "" {
		parts = append(parts, "Name: "+html.EscapeString(id.Name))
	}
	if id.Email != "" {
		parts = append(parts, "Email: "+html.EscapeString(id.Email))
	}
	if id.Phone != "" {
		parts = append(parts, "Phone: "+html.EscapeString(id.Phone))
	}
	return parts
}

func (c *Channel) OnVisitorDisconnect(sessionID, notice string) error {
	c.mu.Lock()
	topicID, ok := c.topics[sessionID]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	_, err := c.send(topicID, "<i>"+html.EscapeString(notice)+"</i>", 0)
	return err
}

func (c *Channel) OnCustomEvent(sessionID, name string, data map[string]any) error {
	c.mu.Lock()
	topicID, ok := c.topics[sessionID]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	_, err := c.send(topicID, fmt.Sprintf("📌 <b>%s</b>", html.EscapeString(name)), 0)
	return err
}
