// Package gateway maintains the persistent Discord socket used to
// receive operator replies in real time.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/pocketping/bridge-gateway/pkg/logger"
)

// Gateway opcodes.
const (
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opResume         = 6
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatAck   = 11
)

// Identify intents: Guilds | GuildMessages | MessageContent.
const intents = (1 << 0) | (1 << 9) | (1 << 15)

const (
	defaultGatewayURL    = "wss://gateway.discord.gg/?v=10&encoding=json"
	maxReconnectAttempts = 5
	reconnectBaseDelay   = 5 * time.Second
)

const trashEmoji = "🗑️"

// State is the connection lifecycle phase.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateIdentifying
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateIdentifying:
		return "identifying"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// Conn is one live socket.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Transport dials sockets. Tests inject a scripted implementation.
type Transport interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Author is the sender of a gateway message event.
type Author struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Bot      bool   `json:"bot"`
}

// MessageEvent is a MESSAGE_CREATE or MESSAGE_UPDATE dispatch.
type MessageEvent struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
	Author    Author `json:"author"`
}

// MessageDeleteEvent is a MESSAGE_DELETE dispatch.
type MessageDeleteEvent struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
}

// ReactionEvent is a MESSAGE_REACTION_ADD dispatch.
type ReactionEvent struct {
	UserID    string `json:"user_id"`
	MessageID string `json:"message_id"`
	ChannelID string `json:"channel_id"`
	Member    *struct {
		User Author `json:"user"`
	} `json:"member"`
	Emoji struct {
		Name string `json:"name"`
	} `json:"emoji"`
}

// Handler receives normalized operator activity.
type Handler interface {
	OperatorMessage(channelID, messageID, content, operatorName string)
	OperatorEdit(channelID, messageID, content string)
	OperatorDelete(channelID, messageID string)
}

type payload struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  int64           `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
}

// Gateway runs the connection state machine. One Gateway manages one
// socket; restart-on-failure lives inside Run.
type Gateway struct {
	token       string
	url         string
	transport   Transport
	handler     Handler
	allowedBots map[string]struct{}
	baseDelay   time.Duration
	log         zerolog.Logger

	state atomic.Int32
	seq   atomic.Int64

	mu        sync.Mutex
	sessionID string
	resumeURL string
	resumable bool
	lastAck   time.Time
	conn      Conn
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithTransport swaps the socket transport.
func WithTransport(t Transport) Option {
	return func(g *Gateway) { g.transport = t }
}

// WithURL overrides the initial gateway URL.
func WithURL(url string) Option {
	return func(g *Gateway) { g.url = url }
}

// WithReconnectDelay overrides the reconnect backoff unit.
func WithReconnectDelay(d time.Duration) Option {
	return func(g *Gateway) { g.baseDelay = d }
}

// WithAllowedBots lets messages from the listed bot ids through the bot
// filter, for end-to-end tests against live channels.
func WithAllowedBots(ids []string) Option {
	return func(g *Gateway) {
		for _, id := range ids {
			g.allowedBots[id] = struct{}{}
		}
	}
}

// New builds a gateway. Call Run to connect.
func New(token string, handler Handler, opts ...Option) *Gateway {
	g := &Gateway{
		token:       token,
		url:         defaultGatewayURL,
		transport:   wsTransport{},
		handler:     handler,
		allowedBots: make(map[string]struct{}),
		baseDelay:   reconnectBaseDelay,
		log:         logger.Component("gateway"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// State returns the current lifecycle phase.
func (g *Gateway) State() State {
	return State(g.state.Load())
}

func (g *Gateway) setState(s State) {
	old := State(g.state.Swap(int32(s)))
	if old != s {
		g.log.Debug().Stringer("from", old).Stringer("to", s).Msg("state change")
	}
}

// Run connects and keeps the socket alive until ctx is canceled or the
// reconnect budget is exhausted. Exhaustion stops only the gateway;
// the rest of the process keeps serving.
func (g *Gateway) Run(ctx context.Context) error {
	attempts := 0
	for {
		err := g.connectOnce(ctx)
		if ctx.Err() != nil {
			g.setState(StateDisconnected)
			return ctx.Err()
		}
		// A connection that made it to READY earns a fresh budget.
		if g.State() == StateConnected {
			attempts = 0
		}
		attempts++
		if attempts > maxReconnectAttempts {
			g.setState(StateDisconnected)
			return fmt.Errorf("gateway: giving up after %d reconnect attempts: %w", maxReconnectAttempts, err)
		}
		g.setState(StateReconnecting)
		delay := time.Duration(attempts) * g.baseDelay
		g.log.Warn().Err(err).Int("attempt", attempts).Dur("delay", delay).Msg("reconnecting")
		select {
		case <-ctx.Done():
			g.setState(StateDisconnected)
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// Close tears down the current socket.
func (g *Gateway) Close() {
	g.mu.Lock()
	conn := g.conn
	g.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (g *Gateway) dialURL() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.resumable && g.resumeURL != "" {
		return g.resumeURL
	}
	return g.url
}

func (g *Gateway) connectOnce(ctx context.Context) error {
	g.setState(StateConnecting)
	conn, err := g.transport.Dial(ctx, g.dialURL())
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	g.mu.Lock()
	g.conn = conn
	g.lastAck = time.Now()
	g.mu.Unlock()
	defer conn.Close()

	// First frame must be hello.
	raw, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read hello: %w", err)
	}
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil || p.Op != opHello {
		return errors.New("expected hello")
	}
	var hello struct {
		HeartbeatInterval int64 `json:"heartbeat_interval"`
	}
	if err := json.Unmarshal(p.D, &hello); err != nil {
		return fmt.Errorf("decode hello: %w", err)
	}
	interval := time.Duration(hello.HeartbeatInterval) * time.Millisecond
	if interval <= 0 {
		return fmt.Errorf("hello with invalid heartbeat interval %d", hello.HeartbeatInterval)
	}

	g.setState(StateIdentifying)
	if err := g.identifyOrResume(conn); err != nil {
		return err
	}

	hbCtx, cancelHB := context.WithCancel(ctx)
	defer cancelHB()
	hbErr := make(chan error, 1)
	go g.heartbeatLoop(hbCtx, conn, interval, hbErr)

	readErr := make(chan error, 1)
	go func() { readErr <- g.readLoop(conn) }()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-hbErr:
		conn.Close()
		<-readErr
		return err
	case err := <-readErr:
		return err
	}
}

func (g *Gateway) identifyOrResume(conn Conn) error {
	g.mu.Lock()
	resumable := g.resumable && g.sessionID != ""
	sessionID := g.sessionID
	g.mu.Unlock()

	if resumable {
		return g.send(conn, payload{Op: opResume, D: mustMarshal(map[string]any{
			"token":      g.token,
			"session_id": sessionID,
			"seq":        g.seq.Load(),
		})})
	}
	return g.send(conn, payload{Op: opIdentify, D: mustMarshal(map[string]any{
		"token":   g.token,
		"intents": intents,
		"properties": map[string]string{
			"os":      "linux",
			"browser": "pocketping",
			"device":  "pocketping",
		},
	})})
}

func (g *Gateway) send(conn Conn, p payload) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return conn.WriteMessage(raw)
}

func mustMarshal(v any) json.RawMessage {
	raw, _ := json.Marshal(v)
	return raw
}

func (g *Gateway) heartbeatLoop(ctx context.Context, conn Conn, interval time.Duration, errCh chan<- error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.mu.Lock()
			sinceAck := time.Since(g.lastAck)
			g.mu.Unlock()
			if sinceAck > 2*interval {
				errCh <- errors.New("heartbeat ack timeout")
				return
			}
			if err := g.sendHeartbeat(conn); err != nil {
				errCh <- err
				return
			}
		}
	}
}

func (g *Gateway) sendHeartbeat(conn Conn) error {
	return g.send(conn, payload{Op: opHeartbeat, D: mustMarshal(g.seq.Load())})
}

func (g *Gateway) readLoop(conn Conn) error {
	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var p payload
		if err := json.Unmarshal(raw, &p); err != nil {
			g.log.Warn().Err(err).Msg("bad frame")
			continue
		}

		switch p.Op {
		case opHeartbeatAck:
			g.mu.Lock()
			g.lastAck = time.Now()
			g.mu.Unlock()
		case opHeartbeat:
			if err := g.sendHeartbeat(conn); err != nil {
				return err
			}
		case opReconnect:
			g.mu.Lock()
			g.resumable = true
			g.mu.Unlock()
			return errors.New("server requested reconnect")
		case opInvalidSession:
			var resumable bool
			_ = json.Unmarshal(p.D, &resumable)
			g.mu.Lock()
			g.resumable = resumable
			if !resumable {
				g.sessionID = ""
				g.resumeURL = ""
				g.seq.Store(0)
			}
			g.mu.Unlock()
			return errors.New("invalid session")
		case opDispatch:
			if p.S != 0 {
				g.seq.Store(p.S)
			}
			g.dispatch(p.T, p.D)
		}
	}
}

func (g *Gateway) dispatch(event string, data json.RawMessage) {
	switch event {
	case "READY":
		var ready struct {
			SessionID        string `json:"session_id"`
			ResumeGatewayURL string `json:"resume_gateway_url"`
		}
		if err := json.Unmarshal(data, &ready); err != nil {
			g.log.Warn().Err(err).Msg("bad READY")
			return
		}
		g.mu.Lock()
		g.sessionID = ready.SessionID
		g.resumeURL = ready.ResumeGatewayURL
		g.resumable = true
		g.mu.Unlock()
		g.setState(StateConnected)
		g.log.Info().Msg("gateway ready")
	case "RESUMED":
		g.setState(StateConnected)
		g.log.Info().Msg("gateway resumed")
	case "MESSAGE_CREATE":
		var m MessageEvent
		if json.Unmarshal(data, &m) != nil || !g.wantMessage(m) {
			return
		}
		g.handler.OperatorMessage(m.ChannelID, m.ID, m.Content, m.Author.Username)
	case "MESSAGE_UPDATE":
		var m MessageEvent
		if json.Unmarshal(data, &m) != nil || !g.wantMessage(m) {
			return
		}
		g.handler.OperatorEdit(m.ChannelID, m.ID, m.Content)
	case "MESSAGE_DELETE":
		var m MessageDeleteEvent
		if json.Unmarshal(data, &m) != nil {
			return
		}
		g.handler.OperatorDelete(m.ChannelID, m.ID)
	case "MESSAGE_REACTION_ADD":
		var r ReactionEvent
		if json.Unmarshal(data, &r) != nil {
			return
		}
		// A trash reaction on a message is a delete request.
		if r.Emoji.Name == trashEmoji {
			g.handler.OperatorDelete(r.ChannelID, r.MessageID)
		}
	}
}

// wantMessage drops empty and bot-authored messages, unless the bot id
// is explicitly allowed.
func (g *Gateway) wantMessage(m MessageEvent) bool {
	if m.Content == "" {
		return false
	}
	if m.Author.Bot {
		_, ok := g.allowedBots[m.Author.ID]
		return ok
	}
	return true
}
