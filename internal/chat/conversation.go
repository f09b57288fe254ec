// Package chat holds the state of one conversation with an agent network:
// chat and agent-to-agent messages, the execution log, the active trace and
// usage counters.
package chat

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ineilsen/agent-builder-sub002/internal/connid"
	"github.com/ineilsen/agent-builder-sub002/internal/event"
	"github.com/ineilsen/agent-builder-sub002/internal/stats"
	"github.com/ineilsen/agent-builder-sub002/internal/trace"
)

// DefaultClearDelay is how long agents stay highlighted after a reply.
const DefaultClearDelay = 2 * time.Second

// Source names the transport a batch of events arrived on.
type Source string

const (
	SourcePrimary   Source = "primary-chat"
	SourceTelemetry Source = "telemetry"
	SourceInternal  Source = "internal-chat"
	SourceFallback  Source = "http-fallback"
)

type Role string

const (
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
	RoleSystem Role = "system"
)

// Message is a chat panel entry. Agent replies carry the closed trace of their turn.
type Message struct {
	Role      Role         `json:"sender" yaml:"sender"`
	Text      string       `json:"text" yaml:"text"`
	Agent     string       `json:"agent,omitempty" yaml:"agent,omitempty"`
	Trace     *trace.Trace `json:"executionData,omitempty" yaml:"-"`
	Timestamp time.Time    `json:"timestamp" yaml:"timestamp"`
}

// InternalMessage is an agent-to-agent chat entry.
type InternalMessage struct {
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Sender    string    `json:"sender" yaml:"sender"`
	Text      string    `json:"text" yaml:"text"`
	Type      string    `json:"type" yaml:"type"`
	Chain     []string  `json:"trace,omitempty" yaml:"trace,omitempty"`
}

// Option configures a Conversation.
type Option func(*Conversation)

// WithRecorder archives every closed trace through rec.
func WithRecorder(rec *trace.Recorder) Option {
	return func(c *Conversation) { c.recorder = rec }
}

// WithClearDelay overrides DefaultClearDelay.
func WithClearDelay(d time.Duration) Option {
	return func(c *Conversation) { c.clearDelay = d }
}

// WithExecutionLog replaces the default LogBook.
func WithExecutionLog(l ExecutionLog) Option {
	return func(c *Conversation) { c.log = l }
}

// Conversation is safe for concurrent use.
type Conversation struct {
	mu          sync.Mutex
	sessionID   atomic.Value // string
	network     string
	chatContext json.RawMessage
	messages    []Message
	internal    []InternalMessage
	chain       []string
	input       string
	reply       string
	turnOpen    bool
	clearTimer  *time.Timer
	observers   []func(Message)

	archMu  sync.Mutex
	pending []closedTrace

	log        ExecutionLog
	acc        *trace.Accumulator
	stats      stats.Aggregator
	recorder   *trace.Recorder
	clearDelay time.Duration
}

func New(opts ...Option) *Conversation {
	c := &Conversation{
		chatContext: json.RawMessage("{}"),
		log:         &LogBook{},
		acc:         trace.NewAccumulator(),
		clearDelay:  DefaultClearDelay,
	}
	for _, o := range opts {
		o(c)
	}
	c.sessionID.Store(connid.NewSessionID())
	c.acc.OnClose(func(tr trace.Trace) {
		c.archMu.Lock()
		c.pending = append(c.pending, closedTrace{sessionID: c.SessionID(), trace: tr})
		c.archMu.Unlock()
	})
	return c
}

// OnMessage registers fn to be called for every chat message added.
func (c *Conversation) OnMessage(fn func(Message)) {
	c.mu.Lock()
	c.observers = append(c.observers, fn)
	c.mu.Unlock()
}

func (c *Conversation) SessionID() string {
	return c.sessionID.Load().(string)
}

func (c *Conversation) Network() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.network
}

// RegenerateSession starts a fresh session id, ending the previous archive session.
func (c *Conversation) RegenerateSession() string {
	id := connid.NewSessionID()
	old := c.sessionID.Swap(id).(string)
	network := c.Network()

	c.recorder.EndSession(old)
	if network != "" {
		c.recorder.BeginSession(id, network)
	}
	return id
}

// Reset clears all per-conversation state and binds the conversation to network.
// A turn still waiting for its reply is cancelled first.
func (c *Conversation) Reset(network string) {
	if _, ok := c.acc.Active(); ok {
		c.CancelTurn()
	}

	c.mu.Lock()
	if c.clearTimer != nil {
		c.clearTimer.Stop()
		c.clearTimer = nil
	}
	c.network = network
	c.chatContext = json.RawMessage("{}")
	c.messages = nil
	c.internal = nil
	c.chain = nil
	c.input, c.reply, c.turnOpen = "", "", false
	if lb, ok := c.log.(*LogBook); ok {
		lb.Reset()
	}
	c.acc.Reset()
	c.stats.Reset()
	sessionID := c.SessionID()

	c.log.Add("System", "Frontend", "Ready to chat with "+network)
	msg := c.addMessageLocked(RoleSystem, fmt.Sprintf("Connected to %s. Send a message to begin.", network), "", nil)
	c.mu.Unlock()

	c.recorder.BeginSession(sessionID, network)
	c.emit(msg)
}

// BeginTurn records the user's message and opens its trace.
func (c *Conversation) BeginTurn(text string) {
	c.mu.Lock()
	msg := c.addMessageLocked(RoleUser, text, "", nil)
	c.addInternalLocked("User", text, "user_input", nil)
	quoted := truncate(text, 80)
	if quoted != text {
		quoted += "..."
	}
	c.log.Add("User", "Input", `"`+quoted+`"`)
	c.input, c.reply, c.turnOpen = text, "", true
	network := c.network
	c.mu.Unlock()

	c.acc.Start(network, text)
	c.archiveClosed()
	c.emit(msg)
}

// SentOverChannel notes that the turn went out on the primary chat channel.
func (c *Conversation) SentOverChannel() {
	c.log.Add(c.Network(), "WebSocket", "Message sent via nsflow chat")
}

// BeginFallback notes that the turn is going out over the HTTP stream.
func (c *Conversation) BeginFallback() {
	c.mu.Lock()
	network, input := c.network, c.input
	c.mu.Unlock()

	c.log.Add(network, "HTTP", "Falling back to HTTP streaming...")
	c.acc.Append("System", trace.KindStart, "Workflow Started", map[string]any{"input": input}, trace.StatusSuccess)
}

// FallbackAccepted counts the LLM call a successful stream response represents.
func (c *Conversation) FallbackAccepted() {
	c.stats.AddCalls(1)
}

// Apply folds events that arrived on src into the conversation.
func (c *Conversation) Apply(src Source, events []event.Event) {
	var notify []Message
	c.mu.Lock()
	for _, ev := range events {
		if m, ok := c.applyLocked(src, ev); ok {
			notify = append(notify, m)
		}
	}
	c.mu.Unlock()
	c.archiveClosed()
	c.emit(notify...)
}

func (c *Conversation) applyLocked(src Source, ev event.Event) (Message, bool) {
	network := c.network
	switch e := ev.(type) {
	case event.Delegation:
		c.chain = append([]string(nil), e.Chain...)
		c.log.Add(network, "NeuroSan", jsonString(map[string]any{"otrace": e.Chain}))
		c.acc.Append(e.Agent, trace.KindDelegation, "Delegated to "+e.Agent,
			map[string]any{"from": e.From, "chain": e.Chain}, trace.StatusSuccess)
		if src == SourceFallback {
			c.addInternalLocked(e.Agent, "Agent invoked", "delegation", e.Chain)
		}

	case event.TokenAccounting:
		c.log.Add(network, "NeuroSan", jsonString(map[string]any{"token_accounting": e.Raw}))
		desc := "Token Usage"
		if src == SourceFallback {
			desc = "Token Usage Recorded"
		}
		c.acc.Append(network, trace.KindMetric, desc, e.Raw, trace.StatusSuccess)
		c.stats.RecordTokens(e)

	case event.Response:
		return c.applyResponseLocked(src, e)

	case event.ToolCall:
		c.addInternalLocked(network, "Invoking: "+e.Name, "tool_call", nil)
		c.log.Add(network, "Tool", "Invoking "+e.Name)
		c.acc.Append(network, trace.KindTool, "Executing Tool: "+e.Name,
			map[string]any{"tool": e.Name, "arguments": e.Arguments}, trace.StatusWarning)

	case event.StateUpdate:
		c.log.Add(network, "nsflow", "state updated")

	case event.ContextUpdate:
		c.chatContext = append(json.RawMessage(nil), e.Blob...)

	case event.LogLine:
		c.log.Add(e.Agent, logSource(src), e.Text)
		if src != SourceInternal && e.Significant() {
			c.acc.Append(e.Agent, trace.KindThought, "Reasoning", map[string]any{"content": e.Text}, trace.StatusSuccess)
		}

	case event.RawLine:
		c.log.Add(network, "Raw", e.Text)
	}
	return Message{}, false
}

func (c *Conversation) applyResponseLocked(src Source, e event.Response) (Message, bool) {
	network := c.network
	switch {
	case e.Final:
		tr, ok := c.acc.Finalize(e.Text)
		var attached *trace.Trace
		if ok {
			attached = &tr
		}
		msg := c.addMessageLocked(RoleAgent, e.Text, network, attached)
		c.log.Add(network, "Agent", "Response received via WebSocket")
		c.turnOpen = false
		c.scheduleClearLocked()
		return msg, true

	case e.Internal:
		if len(e.Chain) > 0 {
			c.chain = append([]string(nil), e.Chain...)
		}
		c.addInternalLocked(e.Origin, e.Text, "agent_message", e.Chain)
		if len(e.Chain) > 1 {
			c.log.Add(e.Origin, "Internal", fmt.Sprintf("🔗 %s: %s...", strings.Join(e.Chain, " → "), truncate(e.Text, 100)))
		} else {
			c.log.Add(e.Origin, "Internal", truncate(e.Text, 150))
		}
		c.acc.Append(e.Origin, trace.KindResponse, "Internal Agent Response", map[string]any{"text": e.Text}, trace.StatusSuccess)

	default:
		if src == SourceFallback {
			c.reply = e.Text
		}
		c.log.Add(e.Origin, "Agent", "Responding...")
		c.acc.Append(e.Origin, trace.KindResponse, "Generating Response", map[string]any{"text": e.Text}, trace.StatusSuccess)
		if e.Origin != network {
			c.addInternalLocked(e.Origin, e.Text, "agent_message", nil)
		}
	}
	return Message{}, false
}

// CompleteTurn closes a fallback turn at end of stream. The last streamed
// response becomes the agent's reply when there was one.
func (c *Conversation) CompleteTurn(elapsed time.Duration) (trace.Trace, bool) {
	c.mu.Lock()
	reply, network := c.reply, c.network
	c.turnOpen = false
	c.mu.Unlock()

	tr, ok := c.acc.Finalize(reply)
	c.archiveClosed()
	c.stats.AddResponseTime(elapsed)
	c.log.Add(network, "Complete", fmt.Sprintf("Response received in %dms", elapsed.Milliseconds()))

	if reply == "" {
		return tr, ok
	}
	var attached *trace.Trace
	if ok {
		attached = &tr
	}
	c.mu.Lock()
	msg := c.addMessageLocked(RoleAgent, reply, network, attached)
	c.mu.Unlock()
	c.emit(msg)
	return tr, ok
}

// FailTurn ends the turn with an error visible to the user.
func (c *Conversation) FailTurn(err error) {
	text := "Error: " + err.Error()
	c.log.Add("System", "Error", "Request failed: "+err.Error())

	c.mu.Lock()
	c.turnOpen = false
	msg := c.addMessageLocked(RoleSystem, text, "", nil)
	c.mu.Unlock()

	c.acc.Fail("System", text)
	c.archiveClosed()
	c.emit(msg)
}

// CancelTurn ends the turn without reporting a failure.
func (c *Conversation) CancelTurn() {
	c.mu.Lock()
	c.turnOpen = false
	c.mu.Unlock()

	c.log.Add("System", "Cancelled", "Request was cancelled")
	c.acc.Fail("System", "Request Cancelled")
	c.archiveClosed()
}

// AddLog writes to the execution log.
func (c *Conversation) AddLog(agent, source, message string) {
	c.log.Add(agent, source, message)
}

// ChatContext returns the opaque context blob to send with the next turn.
func (c *Conversation) ChatContext() json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append(json.RawMessage(nil), c.chatContext...)
}

func (c *Conversation) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.messages...)
}

func (c *Conversation) InternalMessages() []InternalMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]InternalMessage(nil), c.internal...)
}

// Log returns the execution log when it is the default LogBook.
func (c *Conversation) Log() []LogEntry {
	if lb, ok := c.log.(*LogBook); ok {
		return lb.Entries()
	}
	return nil
}

// ActiveAgents returns the current delegation chain.
func (c *Conversation) ActiveAgents() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.chain...)
}

func (c *Conversation) Stats() stats.Snapshot {
	return c.stats.Snapshot()
}

func (c *Conversation) ActiveTrace() (trace.Trace, bool) {
	return c.acc.Active()
}

// Busy reports whether a turn is waiting for its reply.
func (c *Conversation) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.turnOpen
}

// Close stops pending timers and ends the archive session.
func (c *Conversation) Close() {
	c.mu.Lock()
	if c.clearTimer != nil {
		c.clearTimer.Stop()
		c.clearTimer = nil
	}
	network := c.network
	c.mu.Unlock()
	if network != "" {
		c.recorder.EndSession(c.SessionID())
	}
}

type closedTrace struct {
	sessionID string
	trace     trace.Trace
}

// archiveClosed hands traces closed since the last call to the recorder.
// Recording may block on a slow archive, so callers must not hold c.mu.
func (c *Conversation) archiveClosed() {
	c.archMu.Lock()
	batch := c.pending
	c.pending = nil
	c.archMu.Unlock()
	for _, ct := range batch {
		c.recorder.Record(ct.sessionID, ct.trace)
	}
}

func (c *Conversation) scheduleClearLocked() {
	if c.clearTimer != nil {
		c.clearTimer.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(c.clearDelay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.clearTimer != t {
			return
		}
		c.chain = nil
		c.clearTimer = nil
	})
	c.clearTimer = t
}

func (c *Conversation) addMessageLocked(role Role, text, agent string, tr *trace.Trace) Message {
	m := Message{Role: role, Text: text, Agent: agent, Trace: tr, Timestamp: time.Now()}
	c.messages = append(c.messages, m)
	return m
}

func (c *Conversation) addInternalLocked(sender, text, kind string, chain []string) {
	c.internal = append(c.internal, InternalMessage{
		Timestamp: time.Now(),
		Sender:    sender,
		Text:      text,
		Type:      kind,
		Chain:     append([]string(nil), chain...),
	})
}

func (c *Conversation) emit(msgs ...Message) {
	if len(msgs) == 0 {
		return
	}
	c.mu.Lock()
	obs := slices.Clone(c.observers)
	c.mu.Unlock()
	for _, m := range msgs {
		for _, fn := range obs {
			fn(m)
		}
	}
}

func logSource(src Source) string {
	if src == SourceFallback {
		return "Stream"
	}
	return "nsflow"
}

func jsonString(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
