// Package bridge defines the data model shared by the gateway and its
// platform adapters.
package bridge

import (
	"fmt"
	"time"
)

// Sender identifies who authored a message.
type Sender string

const (
	SenderVisitor  Sender = "visitor"
	SenderOperator Sender = "operator"
	SenderAI       Sender = "ai"
)

// Status tracks message delivery state.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

// SessionMetadata carries visitor context captured at session start.
type SessionMetadata struct {
	UserAgent string `json:"userAgent,omitempty"`
	Language  string `json:"language,omitempty"`
	Page      string `json:"page,omitempty"`
	PageTitle string `json:"pageTitle,omitempty"`
	Referrer  string `json:"referrer,omitempty"`
	IP        string `json:"ip,omitempty"`
	Country   string `json:"country,omitempty"`
	City      string `json:"city,omitempty"`
	Timezone  string `json:"timezone,omitempty"`
}

// Merge folds incoming metadata fields into m. Empty incoming fields
// never clobber existing values, so server-populated fields like IP and
// Country survive client resends that omit them.
func (m *SessionMetadata) Merge(in SessionMetadata) {
	if in.UserAgent != "" {
		m.UserAgent = in.UserAgent
	}
	if in.Language != "" {
		m.Language = in.Language
	}
	if in.Page != "" {
		m.Page = in.Page
	}
	if in.PageTitle != "" {
		m.PageTitle = in.PageTitle
	}
	if in.Referrer != "" {
		m.Referrer = in.Referrer
	}
	if in.IP != "" {
		m.IP = in.IP
	}
	if in.Country != "" {
		m.Country = in.Country
	}
	if in.City != "" {
		m.City = in.City
	}
	if in.Timezone != "" {
		m.Timezone = in.Timezone
	}
}

// Identity holds cross-platform visitor identity fields.
type Identity struct {
	UserID string `json:"userId,omitempty"`
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
	Phone  string `json:"phone,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

// Merge folds incoming identity fields into i. Empty incoming fields
// never clobber existing values.
func (i *Identity) Merge(in Identity) {
	if in.UserID != "" {
		i.UserID = in.UserID
	}
	if in.Name != "" {
		i.Name = in.Name
	}
	if in.Email != "" {
		i.Email = in.Email
	}
	if in.Phone != "" {
		i.Phone = in.Phone
	}
	if in.Avatar != "" {
		i.Avatar = in.Avatar
	}
}

// Session is one visitor conversation.
type Session struct {
	ID             string          `json:"id"`
	VisitorID      string          `json:"visitorId"`
	CreatedAt      time.Time       `json:"createdAt"`
	LastActivity   time.Time       `json:"lastActivity"`
	OperatorOnline bool            `json:"operatorOnline"`
	Metadata       SessionMetadata `json:"metadata"`
	Identity       Identity        `json:"identity"`
}

// Attachment is a file or image referenced by a message.
type Attachment struct {
	ID       string `json:"id"`
	Type     string `json:"type"` // image or file
	Name     string `json:"name"`
	Size     int64  `json:"size,omitempty"`
	URL      string `json:"url"`
	MimeType string `json:"mimeType,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
}

// Message is a chat message within a session.
type Message struct {
	ID          string       `json:"id"`
	SessionID   string       `json:"sessionId"`
	Content     string       `json:"content"`
	Sender      Sender       `json:"sender"`
	Timestamp   time.Time    `json:"timestamp"`
	ReplyTo     string       `json:"replyTo,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Status      Status       `json:"status,omitempty"`
	EditedAt    *time.Time   `json:"editedAt,omitempty"`
	DeletedAt   *time.Time   `json:"deletedAt,omitempty"`
}

// MessageIDs maps one logical message onto its per-platform ids.
type MessageIDs struct {
	TelegramMessageID int    `json:"telegramMessageId,omitempty"`
	DiscordMessageID  string `json:"discordMessageId,omitempty"`
	SlackMessageTS    string `json:"slackMessageTs,omitempty"`
}

// Merge folds non-zero fields of in into m. Zero incoming values never
// replace existing ones, so merging is idempotent and order-independent
// for disjoint fields.
func (m *MessageIDs) Merge(in *MessageIDs) {
	if in == nil {
		return
	}
	if in.TelegramMessageID != 0 {
		m.TelegramMessageID = in.TelegramMessageID
	}
	if in.DiscordMessageID != "" {
		m.DiscordMessageID = in.DiscordMessageID
	}
	if in.SlackMessageTS != "" {
		m.SlackMessageTS = in.SlackMessageTS
	}
}

// IsEmpty reports whether no platform id is set.
func (m *MessageIDs) IsEmpty() bool {
	return m == nil || (m.TelegramMessageID == 0 && m.DiscordMessageID == "" && m.SlackMessageTS == "")
}

// OperatorMessageID builds the composite id for an operator message that
// originated on a platform, e.g. "telegram:482910". The same platform
// message always maps to the same id.
func OperatorMessageID(sourceBridge, bridgeMessageID string) string {
	return fmt.Sprintf("%s:%s", sourceBridge, bridgeMessageID)
}
