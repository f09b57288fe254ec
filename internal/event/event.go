// Package event turns raw transport records into typed events.
package event

import (
	"encoding/json"
	"unicode/utf8"
)

// Kind names an event type.
type Kind string

const (
	KindDelegation      Kind = "delegation"
	KindTokenAccounting Kind = "token_accounting"
	KindResponse        Kind = "response"
	KindToolCall        Kind = "tool_call"
	KindStateUpdate     Kind = "state_update"
	KindContextUpdate   Kind = "context_update"
	KindLogLine         Kind = "log"
	KindRawLine         Kind = "raw"
)

// RootAgent stands in for the delegating parent of a single-element chain.
const RootAgent = "Orchestrator"

// significantLogLen is the length a log line must exceed to be traced as reasoning.
const significantLogLen = 20

// Event is one normalized unit derived from a raw record.
type Event interface {
	Kind() Kind
}

// Delegation carries an otrace chain. Agent is the active (last) agent.
type Delegation struct {
	Chain []string
	Agent string
	From  string
}

// TokenAccounting carries usage figures. Has* report which counters were present.
type TokenAccounting struct {
	Raw                map[string]any
	SuccessfulRequests float64
	HasRequests        bool
	TimeTakenSeconds   float64
	HasTimeTaken       bool
}

// Response carries agent text.
// Final is set for the primary chat channel's completed reply;
// Internal marks agent-to-agent traffic.
type Response struct {
	Text     string
	Origin   string
	Chain    []string
	Final    bool
	Internal bool
}

// ToolCall carries a tool or function invocation.
type ToolCall struct {
	Name      string
	Arguments any
}

// StateUpdate marks a state or last_chat_response record.
type StateUpdate struct{}

// ContextUpdate carries the opaque chat_context blob verbatim.
type ContextUpdate struct {
	Blob json.RawMessage
}

// LogLine is free-form log text.
type LogLine struct {
	Agent string
	Text  string
}

// RawLine is a record that could not be parsed; it is kept so no data is lost.
type RawLine struct {
	Text string
}

func (Delegation) Kind() Kind      { return KindDelegation }
func (TokenAccounting) Kind() Kind { return KindTokenAccounting }
func (Response) Kind() Kind        { return KindResponse }
func (ToolCall) Kind() Kind        { return KindToolCall }
func (StateUpdate) Kind() Kind     { return KindStateUpdate }
func (ContextUpdate) Kind() Kind   { return KindContextUpdate }
func (LogLine) Kind() Kind         { return KindLogLine }
func (RawLine) Kind() Kind         { return KindRawLine }

// Significant reports whether the line is long enough to count as a reasoning step.
func (l LogLine) Significant() bool {
	return utf8.RuneCountInString(l.Text) > significantLogLen
}
