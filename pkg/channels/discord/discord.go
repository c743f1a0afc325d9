// Package discord bridges sessions onto Discord threads.
package discord

import (
	"fmt"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/pocketping/bridge-gateway/pkg/bridge"
	"github.com/pocketping/bridge-gateway/pkg/logger"
)

// Embed colors.
const (
	colorTeal   = 0x00D4AA // new session
	colorGreen  = 0x57F287 // identity
	colorYellow = 0xFEE75C // notices
)

const threadArchiveMinutes = 10080 // one week

// Channel posts each session into its own thread under one text
// channel. Operator replies flow back through the gateway socket or the
// interactions webhook.
type Channel struct {
	bridge.BaseBridge

	session   *discordgo.Session
	channelID string
	log       zerolog.Logger

	mu       sync.Mutex
	threads  map[string]string // sessionID -> threadID
	sessions map[string]string // threadID -> sessionID
}

// New creates the Discord channel over a bot token.
func New(token, channelID string) (*Channel, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	return &Channel{
		session:   s,
		channelID: channelID,
		log:       logger.Component("discord"),
		threads:   make(map[string]string),
		sessions:  make(map[string]string),
	}, nil
}

func (c *Channel) Name() string { return "discord" }

func (c *Channel) ensureThread(session *bridge.Session) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.threads[session.ID]; ok {
		return id, nil
	}

	thread, err := c.session.ThreadStart(c.channelID, threadName(session),
		discordgo.ChannelTypeGuildPublicThread, threadArchiveMinutes)
	if err != nil {
		return "", fmt.Errorf("start thread: %w", err)
	}
	c.threads[session.ID] = thread.ID
	c.sessions[thread.ID] = session.ID
	return thread.ID, nil
}

func threadName(session *bridge.Session) string {
	if session.Identity.Name != "" {
		return "💬 " + session.Identity.Name
	}
	short := session.ID
	if len(short) > 8 {
		short = short[:8]
	}
	return "💬 Visitor " + short
}

// SessionForThread resolves a thread id back to its session.
func (c *Channel) SessionForThread(threadID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[threadID]
	return s, ok
}

func (c *Channel) threadFor(sessionID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.threads[sessionID]
	return id, ok
}

func (c *Channel) OnNewSession(session *bridge.Session) error {
	threadID, err := c.ensureThread(session)
	if err != nil {
		return err
	}
	embed := &discordgo.MessageEmbed{
		Title: "🆕 New chat started",
		Color: colorTeal,
	}
	md := session.Metadata
	addField := func(name, value string) {
		if value != "" {
			embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
				Name: name, Value: value, Inline: true,
			})
		}
	}
	addField("Page", md.Page)
	addField("Location", strings.TrimPrefix(md.City+", "+md.Country, ", "))
	addField("Referrer", md.Referrer)
	addField("Session", session.ID)
	_, err = c.session.ChannelMessageSendEmbed(threadID, embed)
	return err
}

func (c *Channel) OnVisitorMessage(msg *bridge.Message, session *bridge.Session, reply *bridge.ReplyContext) (*bridge.MessageIDs, error) {
	threadID, err := c.ensureThread(session)
	if err != nil {
		return nil, err
	}

	content := formatVisitorMessage(msg, session)
	var sent *discordgo.Message
	if reply != nil && reply.IDs != nil && reply.IDs.DiscordMessageID != "" {
		sent, err = c.session.ChannelMessageSendReply(threadID, content, &discordgo.MessageReference{
			MessageID: reply.IDs.DiscordMessageID,
			ChannelID: threadID,
		})
	} else {
		if reply != nil && reply.Quote != "" {
			content = reply.Quote + "\n" + content
		}
		sent, err = c.session.ChannelMessageSend(threadID, content)
	}
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	return &bridge.MessageIDs{DiscordMessageID: sent.ID}, nil
}

func formatVisitorMessage(msg *bridge.Message, session *bridge.Session) string {
	who := "Visitor"
	if session.Identity.Name != "" {
		who = session.Identity.Name
	}
	content := fmt.Sprintf("**%s**: %s", who, msg.Content)
	for _, a := range msg.Attachments {
		icon := "📎"
		if a.Type == "image" {
			icon = "🖼️"
		}
		content += fmt.Sprintf("\n%s [%s](%s)", icon, a.Name, a.URL)
	}
	return content
}

func (c *Channel) OnOperatorMessage(msg *bridge.Message, session *bridge.Session, sourceBridge, operatorName string) error {
	if sourceBridge == c.Name() {
		return nil
	}
	threadID, ok := c.threadFor(session.ID)
	if !ok {
		return nil
	}
	who := operatorName
	if who == "" {
		who = "Support"
	}
	_, err := c.session.ChannelMessageSend(threadID,
		fmt.Sprintf("↩️ **%s** (via %s): %s", who, sourceBridge, msg.Content))
	return err
}

func (c *Channel) OnTyping(sessionID string, isTyping bool) error {
	if !isTyping {
		return nil
	}
	threadID, ok := c.threadFor(sessionID)
	if !ok {
		return nil
	}
	return c.session.ChannelTyping(threadID)
}

func (c *Channel) OnVisitorMessageEdited(sessionID, messageID, content string, ids *bridge.MessageIDs) (*bridge.MessageIDs, error) {
	if ids == nil || ids.DiscordMessageID == "" {
		return nil, nil
	}
	threadID, ok := c.threadFor(sessionID)
	if !ok {
		return nil, nil
	}
	_, err := c.session.ChannelMessageEdit(threadID, ids.DiscordMessageID,
		fmt.Sprintf("**Visitor**: %s ✏️", content))
	if err != nil {
		return nil, fmt.Errorf("edit message: %w", err)
	}
	return ids, nil
}

func (c *Channel) OnVisitorMessageDeleted(sessionID, messageID string, ids *bridge.MessageIDs) error {
	if ids == nil || ids.DiscordMessageID == "" {
		return nil
	}
	threadID, ok := c.threadFor(sessionID)
	if !ok {
		return nil
	}
	return c.session.ChannelMessageDelete(threadID, ids.DiscordMessageID)
}

func (c *Channel) OnIdentityUpdate(session *bridge.Session) error {
	threadID, ok := c.threadFor(session.ID)
	if !ok {
		return nil
	}
	embed := &discordgo.MessageEmbed{
		Title: "👤 Visitor identified",
		Color: colorGreen,
	}
	id := session.Identity
	add := func(name, value string) {
		if value != "" {
			embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
				Name: name, Value: value, Inline: true,
			})
		}
	}
	add("Name", id.Name)
	add("Email", id.Email)
	add("Phone", id.Phone)
	if len(embed.Fields) == 0 {
		return nil
	}
	_, err := c.session.ChannelMessageSendEmbed(threadID, embed)
	return err
}

func (c *Channel) OnVisitorDisconnect(sessionID, notice string) error {
	threadID, ok := c.threadFor(sessionID)
	if !ok {
		return nil
	}
	_, err := c.session.ChannelMessageSendEmbed(threadID, &discordgo.MessageEmbed{
		Description: notice,
		Color:       colorYellow,
	})
	return err
}

func (c *Channel) OnCustomEvent(sessionID, name string, data map[string]any) error {
	threadID, ok := c.threadFor(sessionID)
	if !ok {
		return nil
	}
	_, err := c.session.ChannelMessageSend(threadID, "📌 **"+name+"**")
	return err
}
