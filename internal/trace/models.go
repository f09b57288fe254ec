package trace

import "time"

// Kind classifies a step in an execution trace.
type Kind string

const (
	KindTrigger    Kind = "trigger"
	KindStart      Kind = "start"
	KindDelegation Kind = "delegation"
	KindMetric     Kind = "metric"
	KindResponse   Kind = "response"
	KindTool       Kind = "tool"
	KindThought    Kind = "thought"
	KindFinish     Kind = "finish"
	KindError      Kind = "error"
	KindSuperseded Kind = "superseded"
)

// Status of a step. The empty status is stored as StatusSuccess.
type Status string

const (
	StatusSuccess Status = "success"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
)

// Trace is the ordered record of one user turn.
type Trace struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Network   string    `json:"network"`
	Steps     []Step    `json:"steps"`
	Edges     []Edge    `json:"edges"`
	Closed    bool      `json:"closed"`
}

// Step is one node of a trace.
type Step struct {
	ID          string         `json:"id"`
	Timestamp   time.Time      `json:"timestamp"`
	Agent       string         `json:"agent"`
	Kind        Kind           `json:"type"`
	Description string         `json:"description"`
	Status      Status         `json:"status"`
	Details     map[string]any `json:"details,omitempty"`
}

// Edge links two adjacent steps.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Reply returns the response text carried by the finish step, if any.
func (t Trace) Reply() string {
	for i := len(t.Steps) - 1; i >= 0; i-- {
		if t.Steps[i].Kind != KindFinish {
			continue
		}
		if s, ok := t.Steps[i].Details["response"].(string); ok {
			return s
		}
		return ""
	}
	return ""
}

// Summary is a stored trace without its steps.
type Summary struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Network   string    `json:"network"`
	StartedAt time.Time `json:"started_at"`
	Status    Status    `json:"status"`
	Reply     string    `json:"reply,omitempty"`
	StepCount int       `json:"step_count"`
}

func (t Trace) clone() Trace {
	out := t
	out.Steps = make([]Step, len(t.Steps))
	for i, s := range t.Steps {
		if s.Details != nil {
			d := make(map[string]any, len(s.Details))
			for k, v := range s.Details {
				d[k] = v
			}
			s.Details = d
		}
		out.Steps[i] = s
	}
	out.Edges = append([]Edge(nil), t.Edges...)
	return out
}

// status summarizes a closed trace by its last step.
func (t Trace) status() Status {
	if len(t.Steps) == 0 {
		return StatusSuccess
	}
	last := t.Steps[len(t.Steps)-1]
	switch last.Kind {
	case KindError:
		return StatusError
	case KindSuperseded:
		return StatusWarning
	}
	return StatusSuccess
}
