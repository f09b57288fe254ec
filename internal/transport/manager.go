// Package transport connects a conversation to an agent network: three
// websocket channels for chat, telemetry and agent-to-agent traffic, plus a
// streaming HTTP fallback for turns the chat channel cannot carry.
package transport

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ineilsen/agent-builder-sub002/internal/chat"
	"github.com/ineilsen/agent-builder-sub002/internal/connid"
	"github.com/ineilsen/agent-builder-sub002/internal/event"
	"github.com/ineilsen/agent-builder-sub002/internal/metrics"
)

const inboundBuffer = 256

// Config addresses the agent network backend.
type Config struct {
	APIBase     string // e.g. http://localhost:4173/api/v1
	WSBase      string // e.g. ws://localhost:4173/api/v1/ws
	DialTimeout time.Duration
	HTTPClient  *http.Client
	Dialer      *websocket.Dialer
}

type channelDef struct {
	kind   Kind
	path   string
	prefix string
	label  string
}

// Channels are dialed in this order.
var channelDefs = []channelDef{
	{KindPrimary, "chat", connid.PrefixChat, "Chat"},
	{KindTelemetry, "logs", connid.PrefixLogs, "Logs"},
	{KindInternal, "internalchat", connid.PrefixInternal, "Internal chat"},
}

// Manager owns every connection of one conversation. At most one generation
// of connections exists at a time.
type Manager struct {
	cfg  Config
	conv *chat.Conversation
	ids  connid.Generator

	lifecycle sync.Mutex // serializes Connect and Disconnect

	mu           sync.Mutex
	network      string
	gen          uint64
	channels     map[Kind]*Channel
	states       map[Kind]State
	inbound      chan inbound
	dispatchDone chan struct{}
	readers      sync.WaitGroup

	fallbackCancel context.CancelFunc
	fallbackDone   chan struct{}
}

func NewManager(cfg Config, conv *chat.Conversation) *Manager {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = NewPooledHTTPClient(4, 0)
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.DialTimeout,
		}
	}
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	cfg.WSBase = strings.TrimRight(cfg.WSBase, "/")
	return &Manager{cfg: cfg, conv: conv, states: map[Kind]State{}}
}

// Connect tears down any previous connections, resets the conversation and
// opens the three channels for network. A channel that fails to open is
// logged and left errored; Connect itself does not fail on it.
func (m *Manager) Connect(ctx context.Context, network string) error {
	if network == "" {
		return errors.New("transport: empty network name")
	}
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	m.disconnect()

	m.conv.Reset(network)
	sessionID := m.conv.SessionID()

	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.network = network
	m.channels = map[Kind]*Channel{}
	m.states = map[Kind]State{}
	m.inbound = make(chan inbound, inboundBuffer)
	m.dispatchDone = make(chan struct{})
	in, done := m.inbound, m.dispatchDone
	m.mu.Unlock()

	go m.dispatch(in, done)

	for _, def := range channelDefs {
		m.setState(def.kind, StateConnecting)
		connID := m.ids.Next(def.prefix)
		target := m.cfg.WSBase + "/" + def.path + "/" + url.PathEscape(network) + "/" + sessionID

		dctx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
		ch, err := dialChannel(dctx, m.cfg.Dialer, def.kind, connID, target)
		cancel()
		if err != nil {
			m.setState(def.kind, StateErrored)
			logChannelState(network, &Channel{Kind: def.kind, ConnID: connID}, StateErrored, err)
			m.conv.AddLog(network, "nsflow", def.label+" WebSocket failed to connect")
			continue
		}

		m.mu.Lock()
		m.channels[def.kind] = ch
		m.states[def.kind] = StateOpen
		m.readers.Add(1)
		m.mu.Unlock()

		logChannelState(network, ch, StateOpen, nil)
		m.conv.AddLog(network, "nsflow", def.label+" WebSocket connected")

		label := def.label
		go func() {
			defer m.readers.Done()
			ch.readLoop(gen, in, func(c *Channel, rerr error) {
				state := c.State()
				m.setState(c.Kind, state)
				logChannelState(network, c, state, rerr)
				m.conv.AddLog(network, "nsflow", label+" WebSocket disconnected")
			})
		}()
	}
	return nil
}

// Disconnect cancels any in-flight fallback, closes every channel and waits
// for the read loops and the dispatcher to exit. A turn still waiting for its
// reply is cancelled. It is idempotent.
func (m *Manager) Disconnect() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	m.disconnect()
}

func (m *Manager) disconnect() {
	m.mu.Lock()
	network := m.network
	channels := m.channels
	in, done := m.inbound, m.dispatchDone
	m.gen++
	m.network = ""
	m.channels = nil
	m.inbound, m.dispatchDone = nil, nil
	m.mu.Unlock()

	m.cancelFallback()

	for _, ch := range channels {
		if ch.Close() {
			m.setState(ch.Kind, StateClosed)
			logChannelState(network, ch, StateClosed, nil)
		}
	}
	m.readers.Wait()

	if in != nil {
		close(in)
		<-done
	}
	if network == "" {
		return
	}
	// A turn sent over the chat channel ends here if its reply never came.
	if _, ok := m.conv.ActiveTrace(); ok {
		m.conv.CancelTurn()
	}
	m.conv.AddLog(network, "Frontend", "Disconnected")
}

// Send starts a user turn. Over an open chat channel it returns as soon as
// the message is written; otherwise the turn runs over the HTTP fallback and
// Send returns when the stream ends.
func (m *Manager) Send(ctx context.Context, text string) error {
	m.mu.Lock()
	network, gen := m.network, m.gen
	primary := m.channels[KindPrimary]
	m.mu.Unlock()

	if network == "" {
		m.conv.AddLog("System", "Frontend", "Cannot send - not connected")
		return ErrNotConnected
	}

	m.conv.BeginTurn(text)

	if primary != nil && primary.State() == StateOpen {
		payload := map[string]any{
			"message":      text,
			"chat_context": m.conv.ChatContext(),
			"sly_data":     map[string]any{},
		}
		err := primary.WriteJSON(payload)
		if err == nil {
			m.conv.SentOverChannel()
			return nil
		}
		slog.Warn("chat channel send failed, falling back to http", "network", network, "error", err)
	}

	return m.fallback(ctx, network, gen, text)
}

// State reports the lifecycle state of the channel of the given kind.
func (m *Manager) State(kind Kind) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.states[kind]; ok {
		return s
	}
	return StateClosed
}

// Network returns the connected network, or "" when disconnected.
func (m *Manager) Network() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.network
}

func (m *Manager) setState(kind Kind, s State) {
	m.mu.Lock()
	m.states[kind] = s
	m.mu.Unlock()
}

func (m *Manager) currentGen() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen
}

// dispatch applies inbound frames in arrival order until in is closed.
func (m *Manager) dispatch(in <-chan inbound, done chan<- struct{}) {
	defer close(done)
	for msg := range in {
		if msg.gen != m.currentGen() {
			metrics.RecordsDecoded.WithLabelValues("stale").Inc()
			continue
		}
		network := m.Network()
		events := classify(msg.kind, msg.payload, network)
		countEvents(events)
		m.conv.Apply(msg.kind, events)
	}
}

func classify(kind Kind, payload []byte, network string) []event.Event {
	switch kind {
	case KindPrimary:
		return event.ClassifyChat(payload, network)
	case KindTelemetry:
		return event.ClassifyTelemetry(payload, network)
	case KindInternal:
		return event.ClassifyInternal(payload, network)
	}
	return event.ClassifyLine(string(payload), network)
}

func countEvents(events []event.Event) {
	if len(events) == 0 {
		metrics.RecordsDecoded.WithLabelValues("ignored").Inc()
		return
	}
	for _, ev := range events {
		metrics.RecordsDecoded.WithLabelValues(string(ev.Kind())).Inc()
	}
}
