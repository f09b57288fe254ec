package trace

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ineilsen/agent-builder-sub002/internal/metrics"
)

// Accumulator builds the trace of the current turn. Appends may arrive from
// several channels at once; every method is safe for concurrent use.
type Accumulator struct {
	mu      sync.Mutex
	cur     *Trace
	now     func() time.Time
	onClose func(Trace)
}

// NewAccumulator returns an accumulator with no active trace.
func NewAccumulator() *Accumulator {
	return &Accumulator{now: time.Now}
}

// OnClose registers fn to receive a copy of every trace as it closes.
// fn runs outside the accumulator lock.
func (a *Accumulator) OnClose(fn func(Trace)) {
	a.mu.Lock()
	a.onClose = fn
	a.mu.Unlock()
}

// Start opens a new trace and appends its trigger step. An open trace is
// closed first with a superseded step.
func (a *Accumulator) Start(network, input string) string {
	a.mu.Lock()
	var superseded *Trace
	if a.cur != nil && !a.cur.Closed {
		a.appendLocked(a.cur.Network, KindSuperseded, "Superseded by a new message", nil, StatusWarning)
		a.cur.Closed = true
		c := a.cur.clone()
		superseded = &c
	}
	a.cur = &Trace{
		ID:        "exec_" + uuid.NewString(),
		Timestamp: a.now(),
		Network:   network,
	}
	a.appendLocked(network, KindTrigger, "Message Sent", map[string]any{"input": input}, StatusSuccess)
	id, fn := a.cur.ID, a.onClose
	a.mu.Unlock()

	if superseded != nil && fn != nil {
		fn(*superseded)
	}
	return id
}

// Append adds a step linked to the previous one. It reports false when no
// trace is open.
func (a *Accumulator) Append(agent string, kind Kind, description string, details map[string]any, status Status) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cur == nil || a.cur.Closed {
		return false
	}
	a.appendLocked(agent, kind, description, details, status)
	return true
}

// Finalize appends the finish step carrying text, attributed to the network,
// and closes the trace.
func (a *Accumulator) Finalize(text string) (Trace, bool) {
	return a.close("", KindFinish, "Process Completed", map[string]any{"response": text}, StatusSuccess)
}

// Fail appends an error step and closes the trace.
func (a *Accumulator) Fail(agent, description string) (Trace, bool) {
	return a.close(agent, KindError, description, nil, StatusError)
}

// Active returns a copy of the open trace.
func (a *Accumulator) Active() (Trace, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cur == nil || a.cur.Closed {
		return Trace{}, false
	}
	return a.cur.clone(), true
}

// Reset forgets the current trace. Callers close an open trace first.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	a.cur = nil
	a.mu.Unlock()
}

func (a *Accumulator) close(agent string, kind Kind, description string, details map[string]any, status Status) (Trace, bool) {
	a.mu.Lock()
	if a.cur == nil || a.cur.Closed {
		a.mu.Unlock()
		return Trace{}, false
	}
	if agent == "" {
		agent = a.cur.Network
	}
	a.appendLocked(agent, kind, description, details, status)
	a.cur.Closed = true
	out, fn := a.cur.clone(), a.onClose
	a.mu.Unlock()

	if fn != nil {
		fn(out)
	}
	return out.clone(), true
}

func (a *Accumulator) appendLocked(agent string, kind Kind, description string, details map[string]any, status Status) {
	if status == "" {
		status = StatusSuccess
	}
	step := Step{
		ID:          fmt.Sprintf("step_%d", len(a.cur.Steps)+1),
		Timestamp:   a.now(),
		Agent:       agent,
		Kind:        kind,
		Description: description,
		Status:      status,
		Details:     details,
	}
	if n := len(a.cur.Steps); n > 0 {
		a.cur.Edges = append(a.cur.Edges, Edge{From: a.cur.Steps[n-1].ID, To: step.ID})
	}
	a.cur.Steps = append(a.cur.Steps, step)
	metrics.TraceSteps.WithLabelValues(string(kind)).Inc()
}
