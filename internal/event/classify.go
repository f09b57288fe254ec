package event

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// Classify inspects one decoded record and returns an event for every
// recognised key it carries, in a fixed order.
func Classify(record gjson.Result, network string) []Event {
	if !record.IsObject() {
		return nil
	}

	var events []Event

	if ot := record.Get("otrace"); truthy(ot) {
		if d, ok := delegationFrom(ot); ok {
			events = append(events, d)
		}
	}

	if ta := record.Get("token_accounting"); ta.IsObject() {
		events = append(events, tokenAccountingFrom(ta))
	}

	if resp := record.Get("response"); truthy(resp) {
		events = append(events, responseFrom(resp, network))
	}

	tc, fc := record.Get("tool_call"), record.Get("function_call")
	if truthy(tc) || truthy(fc) {
		events = append(events, toolCallFrom(tc, fc))
	}

	if truthy(record.Get("state")) || truthy(record.Get("last_chat_response")) {
		events = append(events, StateUpdate{})
	}

	if cc := record.Get("chat_context"); cc.Exists() && cc.Type != gjson.Null {
		events = append(events, ContextUpdate{Blob: json.RawMessage(cc.Raw)})
	}

	if lg := record.Get("log"); truthy(lg) {
		agent := record.Get("agent_name").String()
		if agent == "" {
			agent = network
		}
		events = append(events, LogLine{Agent: agent, Text: lg.String()})
	}

	return events
}

// ClassifyLine classifies one newline-delimited record from the HTTP stream.
// Anything that is not a JSON object comes back as a RawLine.
func ClassifyLine(line, network string) []Event {
	if !gjson.Valid(line) {
		return []Event{RawLine{Text: line}}
	}
	record := gjson.Parse(line)
	if !record.IsObject() {
		return []Event{RawLine{Text: line}}
	}
	return Classify(record, network)
}

// ClassifyChat handles the primary chat channel shape {message: {type: "AI", text}}.
func ClassifyChat(payload []byte, network string) []Event {
	if !gjson.ValidBytes(payload) {
		return []Event{RawLine{Text: string(payload)}}
	}
	msg := gjson.GetBytes(payload, "message")
	if !msg.IsObject() || msg.Get("type").String() != "AI" {
		return nil
	}
	text := msg.Get("text").String()
	if text == "" {
		return nil
	}
	return []Event{Response{Text: text, Origin: network, Final: true}}
}

// ClassifyTelemetry handles the logs channel. The record may arrive bare, or
// wrapped in "message" either as an object or as a JSON-encoded string.
func ClassifyTelemetry(payload []byte, network string) []Event {
	if !gjson.ValidBytes(payload) {
		return []Event{RawLine{Text: string(payload)}}
	}
	record := gjson.ParseBytes(payload)
	if !record.IsObject() {
		return []Event{RawLine{Text: string(payload)}}
	}

	msg := record.Get("message")
	switch {
	case msg.IsObject():
		return Classify(msg, network)
	case msg.Type == gjson.String && gjson.Valid(msg.Str) && gjson.Parse(msg.Str).IsObject():
		return Classify(gjson.Parse(msg.Str), network)
	}

	events := Classify(record, network)
	if msg.Type == gjson.String && msg.Str != "" && !record.Get("log").Exists() {
		agent := record.Get("agent_name").String()
		if agent == "" {
			agent = network
		}
		events = append(events, LogLine{Agent: agent, Text: msg.Str})
	}
	return events
}

// ClassifyInternal handles the agent-to-agent channel:
// {message: {otrace, text}} or {message: string}.
func ClassifyInternal(payload []byte, network string) []Event {
	if !gjson.ValidBytes(payload) {
		return []Event{RawLine{Text: string(payload)}}
	}
	msg := gjson.GetBytes(payload, "message")

	if msg.Type == gjson.String {
		if msg.Str == "" {
			return nil
		}
		return []Event{LogLine{Agent: network, Text: msg.Str}}
	}
	if !msg.IsObject() {
		return nil
	}

	ot, text := msg.Get("otrace"), msg.Get("text").String()
	if !truthy(ot) || strings.TrimSpace(text) == "" {
		return nil
	}
	chain := chainFrom(ot)
	sender := network
	if len(chain) > 0 {
		sender = chain[len(chain)-1]
	}
	return []Event{Response{Text: text, Origin: sender, Chain: chain, Internal: true}}
}

func delegationFrom(ot gjson.Result) (Delegation, bool) {
	chain := chainFrom(ot)
	if len(chain) == 0 {
		return Delegation{}, false
	}
	from := RootAgent
	if len(chain) > 1 {
		from = chain[len(chain)-2]
	}
	return Delegation{Chain: chain, Agent: chain[len(chain)-1], From: from}, true
}

func chainFrom(ot gjson.Result) []string {
	if !ot.IsArray() {
		return []string{ot.String()}
	}
	var chain []string
	for _, item := range ot.Array() {
		chain = append(chain, item.String())
	}
	return chain
}

func tokenAccountingFrom(ta gjson.Result) TokenAccounting {
	out := TokenAccounting{}
	if raw, ok := ta.Value().(map[string]any); ok {
		out.Raw = raw
	}
	if v := firstOf(ta, "successful_requests", "successfulRequests"); v.Exists() {
		out.SuccessfulRequests = v.Float()
		out.HasRequests = true
	}
	if v := firstOf(ta, "time_taken_in_seconds", "timeTakenSeconds"); v.Exists() {
		out.TimeTakenSeconds = v.Float()
		out.HasTimeTaken = true
	}
	return out
}

func responseFrom(resp gjson.Result, network string) Response {
	if resp.Type == gjson.String {
		return Response{Text: resp.Str, Origin: network}
	}
	text := resp.Get("text").String()
	if text == "" {
		text = resp.Get("message").String()
	}
	if text == "" {
		text = resp.Raw
	}
	origin := resp.Get("origin").String()
	if origin == "" {
		origin = network
	}
	return Response{Text: text, Origin: origin}
}

func toolCallFrom(tc, fc gjson.Result) ToolCall {
	name := tc.Get("name").String()
	if name == "" {
		name = fc.Get("name").String()
	}
	if name == "" {
		name = "unknown"
	}

	args := tc.Get("arguments")
	if !truthy(args) {
		args = fc.Get("arguments")
	}
	var arguments any = map[string]any{}
	if truthy(args) {
		arguments = args.Value()
	}
	return ToolCall{Name: name, Arguments: arguments}
}

func firstOf(r gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if v := r.Get(p); v.Exists() && v.Type != gjson.Null {
			return v
		}
	}
	return gjson.Result{}
}

// truthy mirrors how the wire producers treat optional fields: absent, null,
// false, 0 and "" count as not set; objects and arrays always count.
func truthy(r gjson.Result) bool {
	switch r.Type {
	case gjson.Null:
		return false
	case gjson.False:
		return false
	case gjson.Number:
		return r.Num != 0
	case gjson.String:
		return r.Str != ""
	case gjson.True:
		return true
	case gjson.JSON:
		return true
	}
	return false
}
