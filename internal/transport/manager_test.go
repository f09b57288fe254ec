package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ineilsen/agent-builder-sub002/internal/chat"
	"github.com/ineilsen/agent-builder-sub002/internal/trace"
)

type backend struct {
	srv *httptest.Server

	wsEnabled     bool
	closeChat     bool
	silentChat    bool
	streamHandler http.HandlerFunc

	mu         sync.Mutex
	conns      []*websocket.Conn
	wsPaths    []string
	chatWrites [][]byte
	postBodies [][]byte
}

func newBackend(t *testing.T, configure func(*backend)) *backend {
	t.Helper()
	b := &backend{wsEnabled: true}
	if configure != nil {
		configure(b)
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/", func(w http.ResponseWriter, r *http.Request) {
		if !b.wsEnabled {
			http.NotFound(w, r)
			return
		}
		b.mu.Lock()
		b.wsPaths = append(b.wsPaths, r.URL.Path)
		b.mu.Unlock()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		b.mu.Lock()
		b.conns = append(b.conns, conn)
		b.mu.Unlock()
		b.serveWS(conn, strings.Split(strings.TrimPrefix(r.URL.Path, "/ws/"), "/")[0])
	})
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/streaming_chat") || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var body json.RawMessage
		json.NewDecoder(r.Body).Decode(&body)
		b.mu.Lock()
		b.postBodies = append(b.postBodies, body)
		b.mu.Unlock()
		if b.streamHandler != nil {
			b.streamHandler(w, r)
		}
	})
	b.srv = httptest.NewServer(mux)

	t.Cleanup(func() {
		b.mu.Lock()
		for _, c := range b.conns {
			c.Close()
		}
		b.mu.Unlock()
		b.srv.Close()
	})
	return b
}

func (b *backend) serveWS(conn *websocket.Conn, path string) {
	switch path {
	case "chat":
		if b.closeChat {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
			conn.Close()
			return
		}
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			b.mu.Lock()
			b.chatWrites = append(b.chatWrites, data)
			b.mu.Unlock()
			if b.silentChat {
				continue
			}
			var in struct {
				Message string `json:"message"`
			}
			json.Unmarshal(data, &in)
			conn.WriteJSON(map[string]any{"message": map[string]any{"type": "AI", "text": "echo: " + in.Message}})
		}
	case "logs":
		conn.WriteJSON(map[string]any{"message": "telemetry channel says hello there"})
	case "internalchat":
		conn.WriteJSON(map[string]any{"message": map[string]any{"otrace": []string{"net1", "helper"}, "text": "hi from helper"}})
	}
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (b *backend) config() Config {
	return Config{
		APIBase:     b.srv.URL + "/api/",
		WSBase:      "ws" + strings.TrimPrefix(b.srv.URL, "http") + "/ws",
		DialTimeout: time.Second,
	}
}

func (b *backend) counts() (posts, chatWrites int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.postBodies), len(b.chatWrites)
}

func newManager(t *testing.T, b *backend) (*Manager, *chat.Conversation) {
	t.Helper()
	conv := chat.New(chat.WithClearDelay(10 * time.Millisecond))
	m := NewManager(b.config(), conv)
	t.Cleanup(func() {
		m.Disconnect()
		conv.Close()
	})
	return m, conv
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func lastMessage(conv *chat.Conversation) chat.Message {
	msgs := conv.Messages()
	if len(msgs) == 0 {
		return chat.Message{}
	}
	return msgs[len(msgs)-1]
}

func logHas(conv *chat.Conversation, source, substr string) bool {
	for _, e := range conv.Log() {
		if e.Source == source && strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}

func TestSendRequiresConnection(t *testing.T) {
	b := newBackend(t, nil)
	m, _ := newManager(t, b)
	if err := m.Send(context.Background(), "hi"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestConnectRejectsEmptyNetwork(t *testing.T) {
	b := newBackend(t, nil)
	m, _ := newManager(t, b)
	if err := m.Connect(context.Background(), ""); err == nil {
		t.Fatal("expected an error for an empty network")
	}
}

func TestChannelTurn(t *testing.T) {
	b := newBackend(t, nil)
	m, conv := newManager(t, b)

	if err := m.Connect(context.Background(), "net1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	for _, k := range []Kind{KindPrimary, KindTelemetry, KindInternal} {
		if s := m.State(k); s != StateOpen {
			t.Fatalf("%s: expected open, got %s", k, s)
		}
	}

	b.mu.Lock()
	paths := append([]string(nil), b.wsPaths...)
	b.mu.Unlock()
	if len(paths) != 3 || paths[0] != "/ws/chat/net1/"+conv.SessionID() {
		t.Fatalf("unexpected dial paths %v", paths)
	}

	if err := m.Send(context.Background(), "hi"); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, "agent reply", func() bool {
		last := lastMessage(conv)
		return last.Role == chat.RoleAgent && last.Text == "echo: hi"
	})
	if last := lastMessage(conv); last.Trace == nil || last.Trace.Reply() != "echo: hi" {
		t.Fatalf("reply should carry its trace: %+v", last)
	}

	posts, writes := b.counts()
	if posts != 0 || writes != 1 {
		t.Fatalf("expected one channel write and no posts, got writes=%d posts=%d", writes, posts)
	}
	b.mu.Lock()
	var payload map[string]json.RawMessage
	err := json.Unmarshal(b.chatWrites[0], &payload)
	b.mu.Unlock()
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if string(payload["message"]) != `"hi"` || string(payload["chat_context"]) != "{}" || string(payload["sly_data"]) != "{}" {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestSideChannelsReachConversation(t *testing.T) {
	b := newBackend(t, nil)
	m, conv := newManager(t, b)
	if err := m.Connect(context.Background(), "net1"); err != nil {
		t.Fatalf("connect: %v", err)
	}

	waitFor(t, "telemetry log line", func() bool {
		return logHas(conv, "nsflow", "telemetry channel says hello there")
	})
	waitFor(t, "internal message", func() bool {
		for _, im := range conv.InternalMessages() {
			if im.Sender == "helper" && im.Text == "hi from helper" {
				return true
			}
		}
		return false
	})
}

func TestFallbackWhenChannelsUnavailable(t *testing.T) {
	b := newBackend(t, func(b *backend) {
		b.wsEnabled = false
		b.streamHandler = func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintln(w, `{"token_accounting":{"successful_requests":1}}`)
			fmt.Fprintln(w, `{"response":{"text":"thinking","origin":"helper"}}`)
			fmt.Fprint(w, `{"response":{"text":"done"},"chat_context":{"n":1}}`)
		}
	})
	m, conv := newManager(t, b)

	if err := m.Connect(context.Background(), "net1"); err != nil {
		t.Fatalf("connect should tolerate failed channels: %v", err)
	}
	if s := m.State(KindPrimary); s != StateErrored {
		t.Fatalf("expected errored chat channel, got %s", s)
	}

	if err := m.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}

	posts, writes := b.counts()
	if posts != 1 || writes != 0 {
		t.Fatalf("expected exactly one post, got posts=%d writes=%d", posts, writes)
	}

	b.mu.Lock()
	var body struct {
		UserMessage struct {
			Text string `json:"text"`
		} `json:"user_message"`
		SlyData     map[string]any  `json:"sly_data"`
		ChatContext json.RawMessage `json:"chat_context"`
	}
	err := json.Unmarshal(b.postBodies[0], &body)
	b.mu.Unlock()
	if err != nil || body.UserMessage.Text != "hello" || body.SlyData == nil || string(body.ChatContext) != "{}" {
		t.Fatalf("unexpected request body %+v (%v)", body, err)
	}

	last := lastMessage(conv)
	if last.Role != chat.RoleAgent || last.Text != "done" {
		t.Fatalf("trailing record should be flushed into the reply, got %+v", last)
	}
	if string(conv.ChatContext()) != `{"n":1}` {
		t.Fatalf("chat context not updated: %s", conv.ChatContext())
	}
	if s := conv.Stats(); s.LLMCalls != 2 {
		t.Fatalf("expected 2 llm calls, got %+v", s)
	}
}

func TestFallbackAfterRemoteClose(t *testing.T) {
	b := newBackend(t, func(b *backend) {
		b.closeChat = true
		b.streamHandler = func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintln(w, `{"response":{"text":"via http"}}`)
		}
	})
	m, conv := newManager(t, b)
	if err := m.Connect(context.Background(), "net1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, "chat channel close", func() bool { return m.State(KindPrimary) == StateClosed })

	if err := m.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if posts, _ := b.counts(); posts != 1 {
		t.Fatalf("expected fallback post, got %d", posts)
	}
	if last := lastMessage(conv); last.Text != "via http" {
		t.Fatalf("unexpected reply %+v", last)
	}
}

func TestFallbackStatusError(t *testing.T) {
	b := newBackend(t, func(b *backend) {
		b.wsEnabled = false
		b.streamHandler = func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	})
	m, conv := newManager(t, b)
	m.Connect(context.Background(), "net1")

	err := m.Send(context.Background(), "hello")
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusInternalServerError || se.Body != "boom" {
		t.Fatalf("expected StatusError 500, got %v", err)
	}
	if last := lastMessage(conv); last.Role != chat.RoleSystem || last.Text != "Error: HTTP 500: boom" {
		t.Fatalf("unexpected error message %+v", last)
	}
	if _, ok := conv.ActiveTrace(); ok {
		t.Fatal("failed turn should close its trace")
	}
}

func blockingStream(started chan<- struct{}, release <-chan struct{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"log":"working on it, please hold on"}`)
		w.(http.Flusher).Flush()
		close(started)
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}
}

func TestFallbackCancelledByContext(t *testing.T) {
	started, release := make(chan struct{}), make(chan struct{})
	b := newBackend(t, func(b *backend) {
		b.wsEnabled = false
		b.streamHandler = blockingStream(started, release)
	})
	t.Cleanup(func() { close(release) })
	m, conv := newManager(t, b)
	m.Connect(context.Background(), "net1")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	before := len(conv.Messages())
	if err := m.Send(ctx, "hello"); !errors.Is(err, ErrTurnCancelled) {
		t.Fatalf("expected ErrTurnCancelled, got %v", err)
	}
	if n := len(conv.Messages()); n != before+1 {
		t.Fatalf("cancellation should only leave the user message, got %d new", n-before)
	}
	if !logHas(conv, "Cancelled", "cancelled") {
		t.Fatal("cancellation should be logged")
	}
	if _, ok := conv.ActiveTrace(); ok {
		t.Fatal("cancelled turn should close its trace")
	}
}

func TestDisconnectCancelsFallback(t *testing.T) {
	started, release := make(chan struct{}), make(chan struct{})
	b := newBackend(t, func(b *backend) {
		b.wsEnabled = false
		b.streamHandler = blockingStream(started, release)
	})
	t.Cleanup(func() { close(release) })
	m, _ := newManager(t, b)
	m.Connect(context.Background(), "net1")

	errc := make(chan error, 1)
	go func() { errc <- m.Send(context.Background(), "hello") }()
	<-started

	m.Disconnect()
	select {
	case err := <-errc:
		if !errors.Is(err, ErrTurnCancelled) {
			t.Fatalf("expected ErrTurnCancelled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("send did not return after disconnect")
	}

	m.Disconnect()
	if m.Network() != "" {
		t.Fatalf("network should be cleared, got %q", m.Network())
	}
	if err := m.Send(context.Background(), "again"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected after disconnect, got %v", err)
	}
}

func TestReconnectSwitchesNetwork(t *testing.T) {
	b := newBackend(t, nil)
	m, conv := newManager(t, b)
	if err := m.Connect(context.Background(), "net1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	first := conv.SessionID()
	if err := m.Connect(context.Background(), "net2"); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if m.Network() != "net2" {
		t.Fatalf("expected net2, got %q", m.Network())
	}
	msgs := conv.Messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0].Text, "net2") {
		t.Fatalf("conversation should be reset for net2: %+v", msgs)
	}
	if conv.SessionID() != first {
		t.Fatal("reconnecting keeps the session id")
	}
	if s := m.State(KindPrimary); s != StateOpen {
		t.Fatalf("expected open chat channel, got %s", s)
	}
}

func TestClosedChannelRejectsWrites(t *testing.T) {
	b := newBackend(t, nil)
	cfg := b.config()
	dialer := &websocket.Dialer{HandshakeTimeout: time.Second}
	ch, err := dialChannel(context.Background(), dialer, KindTelemetry, "logws_1", cfg.WSBase+"/logs/net1/s")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if ch.State() != StateOpen {
		t.Fatalf("expected open, got %s", ch.State())
	}
	if !ch.Close() {
		t.Fatal("first close should win")
	}
	if ch.Close() {
		t.Fatal("second close should be a no-op")
	}
	if err := ch.WriteJSON(map[string]string{"a": "b"}); !errors.Is(err, ErrChannelClosed) {
		t.Fatalf("expected ErrChannelClosed, got %v", err)
	}
}

type memArchive struct {
	mu     sync.Mutex
	traces []trace.Trace
}

func (m *memArchive) CreateSession(context.Context, string, string) error { return nil }
func (m *memArchive) EndSession(context.Context, string) error            { return nil }
func (m *memArchive) SaveTrace(_ context.Context, _ string, tr trace.Trace) error {
	m.mu.Lock()
	m.traces = append(m.traces, tr)
	m.mu.Unlock()
	return nil
}

func TestSwitchingNetworkCancelsUnansweredTurn(t *testing.T) {
	b := newBackend(t, func(b *backend) { b.silentChat = true })
	arch := &memArchive{}
	rec := trace.NewRecorder(arch)
	conv := chat.New(chat.WithRecorder(rec))
	m := NewManager(b.config(), conv)

	if err := m.Connect(context.Background(), "net1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := m.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, "chat write", func() bool {
		_, writes := b.counts()
		return writes == 1
	})
	if _, ok := conv.ActiveTrace(); !ok {
		t.Fatal("turn should still be waiting for its reply")
	}

	if err := m.Connect(context.Background(), "net2"); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if _, ok := conv.ActiveTrace(); ok {
		t.Fatal("switching networks should close the unanswered trace")
	}

	m.Disconnect()
	conv.Close()
	rec.Close()

	if len(arch.traces) != 1 {
		t.Fatalf("expected one archived trace, got %d", len(arch.traces))
	}
	tr := arch.traces[0]
	last := tr.Steps[len(tr.Steps)-1]
	if tr.Network != "net1" || last.Kind != trace.KindError || last.Description != "Request Cancelled" {
		t.Fatalf("unexpected archived trace %+v", tr)
	}
}

func TestDisconnectCancelsUnansweredTurn(t *testing.T) {
	b := newBackend(t, func(b *backend) { b.silentChat = true })
	m, conv := newManager(t, b)

	if err := m.Connect(context.Background(), "net1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := m.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	m.Disconnect()

	if _, ok := conv.ActiveTrace(); ok {
		t.Fatal("disconnect should close the unanswered trace")
	}
	if conv.Busy() {
		t.Fatal("no turn should be open after disconnect")
	}
	if !logHas(conv, "Cancelled", "cancelled") {
		t.Fatal("cancellation should be logged")
	}
}
