package bridge

// ReplyContext carries everything an adapter needs to render a native
// reply: the platform ids of the quoted message plus a pre-rendered
// fallback quote for platforms without native replies.
type ReplyContext struct {
	IDs   *MessageIDs
	Quote string
}

// Bridge is the uniform adapter contract. Every adapter receives every
// event; unsupported hooks are no-ops via BaseBridge.
type Bridge interface {
	// Name returns the adapter's stable identifier ("telegram",
	// "discord", "slack").
	Name() string

	OnNewSession(session *Session) error

	// OnVisitorMessage delivers a visitor message and returns the
	// platform id of the message it posted, if any.
	OnVisitorMessage(msg *Message, session *Session, reply *ReplyContext) (*MessageIDs, error)

	// OnOperatorMessage mirrors an operator message from another
	// platform. Adapters must drop the event when sourceBridge equals
	// their own Name to avoid echo loops.
	OnOperatorMessage(msg *Message, session *Session, sourceBridge, operatorName string) error

	OnTyping(sessionID string, isTyping bool) error
	OnMessageRead(sessionID string, messageIDs []string) error
	OnCustomEvent(sessionID, name string, data map[string]any) error
	OnIdentityUpdate(session *Session) error

	// OnVisitorMessageEdited applies an edit using the stored platform
	// ids and returns updated ids, if any.
	OnVisitorMessageEdited(sessionID, messageID, content string, ids *MessageIDs) (*MessageIDs, error)

	OnVisitorMessageDeleted(sessionID, messageID string, ids *MessageIDs) error

	// OnVisitorDisconnect notifies that the visitor left after the given
	// pre-rendered farewell line.
	OnVisitorDisconnect(sessionID, notice string) error

	// SessionForThread maps a platform thread or topic id back to the
	// session it belongs to.
	SessionForThread(threadID string) (string, bool)
}

// BaseBridge provides no-op defaults so adapters implement only what
// their platform supports.
type BaseBridge struct{}

func (BaseBridge) OnNewSession(*Session) error { return nil }

func (BaseBridge) OnVisitorMessage(*Message, *Session, *ReplyContext) (*MessageIDs, error) {
	return nil, nil
}

func (BaseBridge) OnOperatorMessage(*Message, *Session, string, string) error { return nil }

func (BaseBridge) OnTyping(string, bool) error { return nil }

func (BaseBridge) OnMessageRead(string, []string) error { return nil }

func (BaseBridge) OnCustomEvent(string, string, map[string]any) error { return nil }

func (BaseBridge) OnIdentityUpdate(*Session) error { return nil }

func (BaseBridge) OnVisitorMessageEdited(string, string, string, *MessageIDs) (*MessageIDs, error) {
	return nil, nil
}

func (BaseBridge) OnVisitorMessageDeleted(string, string, *MessageIDs) error { return nil }

func (BaseBridge) OnVisitorDisconnect(string, string) error { return nil }

func (BaseBridge) SessionForThread(string) (string, bool) { return "", false }
