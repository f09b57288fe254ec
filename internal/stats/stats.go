// Package stats keeps the running LLM call and response time counters of a conversation.
package stats

import (
	"sync"
	"time"

	"github.com/ineilsen/agent-builder-sub002/internal/event"
	"github.com/ineilsen/agent-builder-sub002/internal/metrics"
)

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	LLMCalls       int     `json:"llm_calls" yaml:"llm_calls"`
	ResponseTimeMs float64 `json:"response_time_ms" yaml:"response_time_ms"`
}

// Aggregator accumulates counters for one conversation.
type Aggregator struct {
	mu sync.Mutex
	s  Snapshot
}

// RecordTokens adds the counters a token accounting record carries.
func (a *Aggregator) RecordTokens(ta event.TokenAccounting) {
	if ta.HasRequests {
		a.AddCalls(int(ta.SuccessfulRequests))
	}
	if ta.HasTimeTaken {
		a.addMillis(ta.TimeTakenSeconds * 1000)
	}
}

// AddCalls adds n LLM calls.
func (a *Aggregator) AddCalls(n int) {
	if n <= 0 {
		return
	}
	a.mu.Lock()
	a.s.LLMCalls += n
	a.mu.Unlock()
	metrics.LLMCalls.Add(float64(n))
}

// AddResponseTime adds d to the cumulative response time.
func (a *Aggregator) AddResponseTime(d time.Duration) {
	a.addMillis(float64(d) / float64(time.Millisecond))
}

func (a *Aggregator) addMillis(ms float64) {
	if ms <= 0 {
		return
	}
	a.mu.Lock()
	a.s.ResponseTimeMs += ms
	a.mu.Unlock()
	metrics.ResponseSeconds.Add(ms / 1000)
}

// Reset zeroes the counters.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.s = Snapshot{}
	a.mu.Unlock()
}

// Snapshot returns a copy of the counters.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.s
}
