package chat

import (
	"log/slog"
	"sync"
	"time"
)

// ExecutionLog receives human-readable progress lines. Implementations must
// not block and never fail.
type ExecutionLog interface {
	Add(agent, source, message string)
}

// LogEntry is one execution log line.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Agent     string    `json:"agent" yaml:"agent"`
	Source    string    `json:"source" yaml:"source"`
	Message   string    `json:"message" yaml:"message"`
}

// LogBook is the default ExecutionLog. It keeps every entry in memory and
// mirrors it to slog at debug level.
type LogBook struct {
	mu      sync.Mutex
	entries []LogEntry
}

func (b *LogBook) Add(agent, source, message string) {
	b.mu.Lock()
	b.entries = append(b.entries, LogEntry{Timestamp: time.Now(), Agent: agent, Source: source, Message: message})
	b.mu.Unlock()
	slog.Debug("execution log", "agent", agent, "source", source, "message", message)
}

// Entries returns a copy of the log.
func (b *LogBook) Entries() []LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]LogEntry(nil), b.entries...)
}

func (b *LogBook) Reset() {
	b.mu.Lock()
	b.entries = nil
	b.mu.Unlock()
}
