// Platform webhook ingestion. Each handler normalizes its platform's
// payload quirks into operator ingest calls on the router; nothing
// platform-specific escapes this file.
package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
)

func (s *Server) allowedBot(id string) bool {
	for _, allowed := range s.cfg.TestBotIDs {
		if allowed == id {
			return true
		}
	}
	return false
}

// --- Telegram ---

type telegramUser struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
}

type telegramMessage struct {
	MessageID       int           `json:"message_id"`
	MessageThreadID int           `json:"message_thread_id"`
	Text            string        `json:"text"`
	Caption         string        `json:"caption"`
	From            *telegramUser `json:"from"`
}

type telegramUpdate struct {
	Message       *telegramMessage `json:"message"`
	EditedMessage *telegramMessage `json:"edited_message"`
}

// handleTelegramWebhook ingests operator replies typed into forum
// topics. Commands, general-chat messages, and unknown topics are
// ignored.
func (s *Server) handleTelegramWebhook(w http.ResponseWriter, r *http.Request) {
	var update telegramUpdate
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&update); err != nil {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	msg, edited := update.Message, false
	if msg == nil {
		msg, edited = update.EditedMessage, true
	}
	if msg == nil {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}

	switch {
	case text == "" || strings.HasPrefix(text, "/"):
		// Commands and empty payloads never reach visitors.
	case msg.MessageThreadID == 0:
		// General chat, not a session topic.
	case msg.From != nil && msg.From.IsBot && !s.allowedBot(strconv.FormatInt(msg.From.ID, 10)):
		// Another bot; only allow-listed test bots pass.
	default:
		sessionID, ok := s.router.ResolveThread("telegram", strconv.Itoa(msg.MessageThreadID))
		if !ok {
			s.log.Debug().Int("topic", msg.MessageThreadID).Msg("telegram message for unknown topic")
			break
		}
		operatorName := ""
		if msg.From != nil {
			operatorName = msg.From.FirstName
		}
		bridgeID := strconv.Itoa(msg.MessageID)
		if edited {
			s.router.RecordOperatorEdit("telegram", bridgeID, sessionID, text)
		} else {
			s.router.RecordOperatorMessage("telegram", bridgeID, sessionID, text, operatorName)
		}
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// --- Slack ---

type slackEvent struct {
	Type            string      `json:"type"`
	Subtype         string      `json:"subtype"`
	Text            string      `json:"text"`
	TS              string      `json:"ts"`
	ThreadTS        string      `json:"thread_ts"`
	User            string      `json:"user"`
	BotID           string      `json:"bot_id"`
	Username        string      `json:"username"`
	DeletedTS       string      `json:"deleted_ts"`
	Message         *slackEvent `json:"message"`
	PreviousMessage *slackEvent `json:"previous_message"`
}

type slackEnvelope struct {
	Type      string      `json:"type"`
	Challenge string      `json:"challenge"`
	Event     *slackEvent `json:"event"`
}

// handleSlackWebhook ingests Slack Events API callbacks: thread replies
// become operator messages, message_changed and message_deleted
// subtypes become edits and deletes.
func (s *Server) handleSlackWebhook(w http.ResponseWriter, r *http.Request) {
	var env slackEnvelope
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&env); err != nil {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	if env.Type == "url_verification" {
		writeJSON(w, http.StatusOK, map[string]string{"challenge": env.Challenge})
		return
	}

	if env.Type == "event_callback" && env.Event != nil && env.Event.Type == "message" {
		s.handleSlackMessage(env.Event)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleSlackMessage(ev *slackEvent) {
	switch ev.Subtype {
	case "":
		if ev.BotID != "" && !s.allowedBot(ev.BotID) {
			return
		}
		if ev.ThreadTS == "" || ev.Text == "" {
			return
		}
		sessionID, ok := s.router.ResolveThread("slack", ev.ThreadTS)
		if !ok {
			return
		}
		name := ev.Username
		s.router.RecordOperatorMessage("slack", ev.TS, sessionID, ev.Text, name)

	case "message_changed":
		if ev.Message == nil {
			return
		}
		threadTS := ev.Message.ThreadTS
		if threadTS == "" && ev.PreviousMessage != nil {
			threadTS = ev.PreviousMessage.ThreadTS
		}
		sessionID, ok := s.router.ResolveThread("slack", threadTS)
		if !ok {
			return
		}
		s.router.RecordOperatorEdit("slack", ev.Message.TS, sessionID, ev.Message.Text)

	case "message_deleted":
		threadTS := ev.ThreadTS
		if threadTS == "" && ev.PreviousMessage != nil {
			threadTS = ev.PreviousMessage.ThreadTS
		}
		sessionID, ok := s.router.ResolveThread("slack", threadTS)
		if !ok {
			return
		}
		s.router.RecordOperatorDelete("slack", ev.DeletedTS, sessionID)
	}
}

// --- Discord interactions ---

type discordInteraction struct {
	ID        string `json:"id"`
	Type      int    `json:"type"`
	ChannelID string `json:"channel_id"`
	Member    *struct {
		User struct {
			Username string `json:"username"`
		} `json:"user"`
	} `json:"member"`
	Data *struct {
		Name    string `json:"name"`
		Options []struct {
			Name  string `json:"name"`
			Value any    `json:"value"`
		} `json:"options"`
	} `json:"data"`
}

const (
	interactionPing               = 1
	interactionApplicationCommand = 2

	interactionCallbackPong           = 1
	interactionCallbackChannelMessage = 4
)

// handleDiscordWebhook answers the interactions endpoint: PING gets a
// PONG, and the /reply slash command posts an operator message into the
// visitor's session.
func (s *Server) handleDiscordWebhook(w http.ResponseWriter, r *http.Request) {
	var in discordInteraction
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	switch in.Type {
	case interactionPing:
		writeJSON(w, http.StatusOK, map[string]int{"type": interactionCallbackPong})
	case interactionApplicationCommand:
		s.handleDiscordCommand(w, &in)
	default:
		writeJSON(w, http.StatusOK, map[string]int{"type": interactionCallbackPong})
	}
}

func (s *Server) handleDiscordCommand(w http.ResponseWriter, in *discordInteraction) {
	respond := func(content string) {
		writeJSON(w, http.StatusOK, map[string]any{
			"type": interactionCallbackChannelMessage,
			"data": map[string]string{"content": content},
		})
	}

	if in.Data == nil || in.Data.Name != "reply" {
		respond("Unknown command")
		return
	}

	text := ""
	for _, opt := range in.Data.Options {
		if opt.Name == "message" {
			text, _ = opt.Value.(string)
		}
	}
	if text == "" {
		respond("Nothing to send")
		return
	}

	sessionID, ok := s.router.ResolveThread("discord", in.ChannelID)
	if !ok {
		respond("No session is attached to this channel")
		return
	}

	operatorName := ""
	if in.Member != nil {
		operatorName = in.Member.User.Username
	}
	s.router.RecordOperatorMessage("discord", in.ID, sessionID, text, operatorName)
	respond("✅ Sent to visitor")
}
