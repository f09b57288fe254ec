package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ineilsen/agent-builder-sub002/internal/chat"
	"github.com/ineilsen/agent-builder-sub002/internal/metrics"
)

// Kind is the transport a channel or stream carries.
type Kind = chat.Source

const (
	KindPrimary   = chat.SourcePrimary
	KindTelemetry = chat.SourceTelemetry
	KindInternal  = chat.SourceInternal
	KindFallback  = chat.SourceFallback
)

// State is a channel's lifecycle state.
type State string

const (
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosed     State = "closed"
	StateErrored    State = "errored"
)

const writeWait = 10 * time.Second

// Channel is one open websocket. Reads happen on the manager's read loop;
// writes are serialized here.
type Channel struct {
	Kind   Kind
	ConnID string
	URL    string

	conn    *websocket.Conn
	writeMu sync.Mutex

	mu    sync.Mutex
	state State
}

func dialChannel(ctx context.Context, dialer *websocket.Dialer, kind Kind, connID, url string) (*Channel, error) {
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", kind, err)
	}
	metrics.ChannelsOpen.Inc()
	return &Channel{Kind: kind, ConnID: connID, URL: url, conn: conn, state: StateOpen}, nil
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// WriteJSON sends v as one text frame. A closed channel rejects the write
// with ErrChannelClosed.
func (c *Channel) WriteJSON(v any) error {
	if c.State() != StateOpen {
		return ErrChannelClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("write %s: %w", c.Kind, err)
	}
	return nil
}

// Close closes the socket. It reports whether this call did the closing.
func (c *Channel) Close() bool {
	if !c.transition(StateClosed) {
		return false
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.conn.Close()
	return true
}

// transition moves an open channel to s. Only the first transition wins.
func (c *Channel) transition(s State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateOpen {
		return false
	}
	c.state = s
	metrics.ChannelsOpen.Dec()
	return true
}

// readLoop forwards every inbound frame to out until the socket fails or is
// closed locally.
func (c *Channel) readLoop(gen uint64, out chan<- inbound, onRemoteClose func(*Channel, error)) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			state := StateClosed
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				state = StateErrored
			}
			if c.transition(state) {
				c.conn.Close()
				onRemoteClose(c, err)
			}
			return
		}
		out <- inbound{kind: c.Kind, connID: c.ConnID, gen: gen, payload: data}
	}
}

type inbound struct {
	kind    Kind
	connID  string
	gen     uint64
	payload []byte
}

func logChannelState(network string, c *Channel, state State, err error) {
	metrics.TransportEvents.WithLabelValues(string(c.Kind), string(state)).Inc()
	if err != nil {
		slog.Warn("channel state", "network", network, "kind", c.Kind, "conn_id", c.ConnID, "state", state, "error", err)
		return
	}
	slog.Info("channel state", "network", network, "kind", c.Kind, "conn_id", c.ConnID, "state", state)
}
