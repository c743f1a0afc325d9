package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeConn is a scriptable in-memory socket.
type fakeConn struct {
	in  chan []byte // server -> client frames
	out chan []byte // client -> server frames

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		out:    make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.in:
		return data, nil
	case <-c.closed:
		return nil, errors.New("connection closed")
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	select {
	case c.out <- data:
		return nil
	case <-c.closed:
		return errors.New("connection closed")
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// serverSend pushes a frame as the fake Discord side.
func (c *fakeConn) serverSend(t *testing.T, op int, typ string, seq int64, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatal(err)
	}
	frame, err := json.Marshal(payload{Op: op, D: raw, S: seq, T: typ})
	if err != nil {
		t.Fatal(err)
	}
	select {
	case c.in <- frame:
	case <-time.After(time.Second):
		t.Fatal("server send stalled")
	}
}

// expectFrame reads the next client frame.
func (c *fakeConn) expectFrame(t *testing.T) payload {
	t.Helper()
	select {
	case raw := <-c.out:
		var p payload
		if err := json.Unmarshal(raw, &p); err != nil {
			t.Fatalf("bad client frame: %v", err)
		}
		return p
	case <-time.After(time.Second):
		t.Fatal("no client frame")
		return payload{}
	}
}

// fakeTransport hands out queued connections.
type fakeTransport struct {
	mu    sync.Mutex
	conns []*fakeConn
	urls  []string
}

func (ft *fakeTransport) Dial(ctx context.Context, url string) (Conn, error) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.urls = append(ft.urls, url)
	if len(ft.conns) == 0 {
		return nil, errors.New("no more connections scripted")
	}
	c := ft.conns[0]
	ft.conns = ft.conns[1:]
	return c, nil
}

type recordingHandler struct {
	mu       sync.Mutex
	messages []string // "channel/id/content/name"
	edits    []string
	deletes  []string
}

func (h *recordingHandler) OperatorMessage(channelID, messageID, content, operatorName string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, fmt.Sprintf("%s/%s/%s/%s", channelID, messageID, content, operatorName))
}

func (h *recordingHandler) OperatorEdit(channelID, messageID, content string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.edits = append(h.edits, fmt.Sprintf("%s/%s/%s", channelID, messageID, content))
}

func (h *recordingHandler) OperatorDelete(channelID, messageID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deletes = append(h.deletes, channelID+"/"+messageID)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestHandshakeAndDispatch(t *testing.T) {
	conn := newFakeConn()
	ft := &fakeTransport{conns: []*fakeConn{conn}}
	h := &recordingHandler{}
	g := New("tok", h, WithTransport(ft))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()

	conn.serverSend(t, opHello, "", 0, map[string]any{"heartbeat_interval": 60000})

	identify := conn.expectFrame(t)
	if identify.Op != opIdentify {
		t.Fatalf("first client frame op = %d, want identify", identify.Op)
	}
	var d struct {
		Token   string `json:"token"`
		Intents int    `json:"intents"`
	}
	if err := json.Unmarshal(identify.D, &d); err != nil {
		t.Fatal(err)
	}
	if d.Token != "tok" {
		t.Errorf("identify token = %q", d.Token)
	}
	if d.Intents != intents {
		t.Errorf("identify intents = %d, want %d", d.Intents, intents)
	}

	conn.serverSend(t, opDispatch, "READY", 1, map[string]string{
		"session_id":         "sess123",
		"resume_gateway_url": "wss://resume.example",
	})
	waitFor(t, func() bool { return g.State() == StateConnected }, "never reached connected")

	conn.serverSend(t, opDispatch, "MESSAGE_CREATE", 2, map[string]any{
		"id":         "msg1",
		"channel_id": "thread1",
		"content":    "hello visitor",
		"author":     map[string]any{"id": "u1", "username": "dana", "bot": false},
	})
	waitFor(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.messages) == 1
	}, "message never dispatched")

	h.mu.Lock()
	got := h.messages[0]
	h.mu.Unlock()
	if got != "thread1/msg1/hello visitor/dana" {
		t.Errorf("handler saw %q", got)
	}

	cancel()
	conn.Close()
	<-done
}

func TestBotMessagesFiltered(t *testing.T) {
	conn := newFakeConn()
	ft := &fakeTransport{conns: []*fakeConn{conn}}
	h := &recordingHandler{}
	g := New("tok", h, WithTransport(ft), WithAllowedBots([]string{"bot-ok"}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.Run(ctx)

	conn.serverSend(t, opHello, "", 0, map[string]any{"heartbeat_interval": 60000})
	conn.expectFrame(t) // identify
	conn.serverSend(t, opDispatch, "READY", 1, map[string]string{"session_id": "s"})

	conn.serverSend(t, opDispatch, "MESSAGE_CREATE", 2, map[string]any{
		"id": "m1", "channel_id": "c1", "content": "spam",
		"author": map[string]any{"id": "bot-bad", "username": "bad", "bot": true},
	})
	conn.serverSend(t, opDispatch, "MESSAGE_CREATE", 3, map[string]any{
		"id": "m2", "channel_id": "c1", "content": "test run",
		"author": map[string]any{"id": "bot-ok", "username": "tester", "bot": true},
	})

	waitFor(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.messages) == 1
	}, "allow-listed bot message never arrived")

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.messages[0] != "c1/m2/test run/tester" {
		t.Errorf("wrong message passed the filter: %v", h.messages)
	}
}

func TestTrashReactionDeletes(t *testing.T) {
	conn := newFakeConn()
	ft := &fakeTransport{conns: []*fakeConn{conn}}
	h := &recordingHandler{}
	g := New("tok", h, WithTransport(ft))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.Run(ctx)

	conn.serverSend(t, opHello, "", 0, map[string]any{"heartbeat_interval": 60000})
	conn.expectFrame(t)
	conn.serverSend(t, opDispatch, "READY", 1, map[string]string{"session_id": "s"})

	conn.serverSend(t, opDispatch, "MESSAGE_REACTION_ADD", 2, map[string]any{
		"message_id": "m9", "channel_id": "c1",
		"emoji": map[string]string{"name": trashEmoji},
	})
	conn.serverSend(t, opDispatch, "MESSAGE_REACTION_ADD", 3, map[string]any{
		"message_id": "m10", "channel_id": "c1",
		"emoji": map[string]string{"name": "👍"},
	})

	waitFor(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.deletes) == 1
	}, "trash reaction never handled")

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.deletes[0] != "c1/m9" {
		t.Errorf("deletes = %v", h.deletes)
	}
}

func TestResumeAfterReconnectRequest(t *testing.T) {
	first := newFakeConn()
	second := newFakeConn()
	ft := &fakeTransport{conns: []*fakeConn{first, second}}
	g := New("tok", &recordingHandler{}, WithTransport(ft), WithReconnectDelay(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.Run(ctx)

	first.serverSend(t, opHello, "", 0, map[string]any{"heartbeat_interval": 60000})
	first.expectFrame(t) // identify
	first.serverSend(t, opDispatch, "READY", 5, map[string]string{
		"session_id":         "sess123",
		"resume_gateway_url": "wss://resume.example",
	})
	waitFor(t, func() bool { return g.State() == StateConnected }, "never connected")

	// Server asks for a reconnect; the next dial must resume.
	first.serverSend(t, opReconnect, "", 0, nil)

	second.serverSend(t, opHello, "", 0, map[string]any{"heartbeat_interval": 60000})
	resume := second.expectFrame(t)
	if resume.Op != opResume {
		t.Fatalf("second connection frame op = %d, want resume", resume.Op)
	}
	var d struct {
		SessionID string `json:"session_id"`
		Seq       int64  `json:"seq"`
	}
	if err := json.Unmarshal(resume.D, &d); err != nil {
		t.Fatal(err)
	}
	if d.SessionID != "sess123" || d.Seq != 5 {
		t.Errorf("resume payload = %+v", d)
	}

	ft.mu.Lock()
	lastURL := ft.urls[len(ft.urls)-1]
	ft.mu.Unlock()
	if lastURL != "wss://resume.example" {
		t.Errorf("resumed against %q", lastURL)
	}
}

func TestInvalidSessionClearsResumeState(t *testing.T) {
	first := newFakeConn()
	second := newFakeConn()
	ft := &fakeTransport{conns: []*fakeConn{first, second}}
	g := New("tok", &recordingHandler{}, WithTransport(ft), WithReconnectDelay(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.Run(ctx)

	first.serverSend(t, opHello, "", 0, map[string]any{"heartbeat_interval": 60000})
	first.expectFrame(t)
	first.serverSend(t, opDispatch, "READY", 3, map[string]string{
		"session_id":         "sess123",
		"resume_gateway_url": "wss://resume.example",
	})
	waitFor(t, func() bool { return g.State() == StateConnected }, "never connected")

	// Non-resumable invalid session: identify from scratch next time.
	first.serverSend(t, opInvalidSession, "", 0, false)

	second.serverSend(t, opHello, "", 0, map[string]any{"heartbeat_interval": 60000})
	frame := second.expectFrame(t)
	if frame.Op != opIdentify {
		t.Fatalf("after invalid session, op = %d, want identify", frame.Op)
	}
	if g.seq.Load() != 0 {
		t.Errorf("sequence not cleared: %d", g.seq.Load())
	}
}

func TestHelloWithoutHeartbeatIntervalRejected(t *testing.T) {
	conn := newFakeConn()
	ft := &fakeTransport{conns: []*fakeConn{conn}}
	g := New("tok", &recordingHandler{}, WithTransport(ft), WithReconnectDelay(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()

	conn.serverSend(t, opHello, "", 0, map[string]any{"heartbeat_interval": 0})

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("zero heartbeat interval should fail the handshake")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("gateway kept running on a zero heartbeat interval")
	}
	if g.State() != StateDisconnected {
		t.Errorf("state = %v, want disconnected", g.State())
	}
}

func TestHeartbeatLoop(t *testing.T) {
	conn := newFakeConn()
	ft := &fakeTransport{conns: []*fakeConn{conn}}
	g := New("tok", &recordingHandler{}, WithTransport(ft))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.Run(ctx)

	conn.serverSend(t, opHello, "", 0, map[string]any{"heartbeat_interval": 50})
	conn.expectFrame(t) // identify
	conn.serverSend(t, opDispatch, "READY", 2, map[string]string{"session_id": "s"})

	hb := conn.expectFrame(t)
	if hb.Op != opHeartbeat {
		t.Fatalf("op = %d, want heartbeat", hb.Op)
	}
	var seq int64
	if err := json.Unmarshal(hb.D, &seq); err != nil {
		t.Fatal(err)
	}
	if seq != 2 {
		t.Errorf("heartbeat seq = %d, want 2", seq)
	}

	// Never ack: the connection must be torn down.
	select {
	case <-conn.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("missed acks never closed the connection")
	}
}

func TestServerHeartbeatRequestAnsweredImmediately(t *testing.T) {
	conn := newFakeConn()
	ft := &fakeTransport{conns: []*fakeConn{conn}}
	g := New("tok", &recordingHandler{}, WithTransport(ft))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.Run(ctx)

	conn.serverSend(t, opHello, "", 0, map[string]any{"heartbeat_interval": 60000})
	conn.expectFrame(t) // identify
	conn.serverSend(t, opHeartbeat, "", 0, nil)

	hb := conn.expectFrame(t)
	if hb.Op != opHeartbeat {
		t.Errorf("op = %d, want immediate heartbeat", hb.Op)
	}
}
