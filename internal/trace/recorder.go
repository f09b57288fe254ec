package trace

import (
	"context"
	"log/slog"
	"time"
)

const writeTimeout = 5 * time.Second

// Archive is the persistence the Recorder writes to. *Store satisfies it.
type Archive interface {
	CreateSession(ctx context.Context, id, network string) error
	EndSession(ctx context.Context, id string) error
	SaveTrace(ctx context.Context, sessionID string, tr Trace) error
}

type recordMsg struct {
	kind      string // "session_start", "session_end", "trace"
	sessionID string
	network   string
	trace     Trace
}

// Recorder writes archive data asynchronously via a buffered channel.
// All methods are nil-safe (no-op on nil receiver).
type Recorder struct {
	archive Archive
	ch      chan recordMsg
	done    chan struct{}
}

// NewRecorder starts a recorder over archive. Must call Close when done.
func NewRecorder(archive Archive) *Recorder {
	r := &Recorder{
		archive: archive,
		ch:      make(chan recordMsg, 64),
		done:    make(chan struct{}),
	}
	go r.drain()
	return r
}

func (r *Recorder) drain() {
	defer close(r.done)
	for msg := range r.ch {
		r.handle(msg)
	}
}

func (r *Recorder) handle(m recordMsg) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	handlers := map[string]func() error{
		"session_start": func() error { return r.archive.CreateSession(ctx, m.sessionID, m.network) },
		"session_end":   func() error { return r.archive.EndSession(ctx, m.sessionID) },
		"trace":         func() error { return r.archive.SaveTrace(ctx, m.sessionID, m.trace) },
	}
	fn, ok := handlers[m.kind]
	if !ok {
		return
	}
	if err := fn(); err != nil {
		slog.Warn("trace archive write failed", "kind", m.kind, "session", m.sessionID, "error", err)
	}
}

// BeginSession registers a conversation with the archive.
func (r *Recorder) BeginSession(sessionID, network string) {
	if r == nil {
		return
	}
	r.ch <- recordMsg{kind: "session_start", sessionID: sessionID, network: network}
}

// EndSession marks a conversation finished.
func (r *Recorder) EndSession(sessionID string) {
	if r == nil {
		return
	}
	r.ch <- recordMsg{kind: "session_end", sessionID: sessionID}
}

// Record queues a closed trace for storage.
func (r *Recorder) Record(sessionID string, tr Trace) {
	if r == nil {
		return
	}
	r.ch <- recordMsg{kind: "trace", sessionID: sessionID, trace: tr}
}

// Close drains pending writes and shuts down the background goroutine.
func (r *Recorder) Close() {
	if r == nil {
		return
	}
	close(r.ch)
	<-r.done
}
