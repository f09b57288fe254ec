package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/ineilsen/agent-builder-sub002/internal/connid"
	"github.com/ineilsen/agent-builder-sub002/internal/event"
	"github.com/ineilsen/agent-builder-sub002/internal/metrics"
	"github.com/ineilsen/agent-builder-sub002/internal/stream"
)

const readChunk = 4096

type streamingRequest struct {
	UserMessage struct {
		Text string `json:"text"`
	} `json:"user_message"`
	SlyData     map[string]any  `json:"sly_data"`
	ChatContext json.RawMessage `json:"chat_context"`
}

// fallback runs one turn over the streaming HTTP endpoint. A previous
// in-flight fallback is cancelled and waited for first.
func (m *Manager) fallback(ctx context.Context, network string, gen uint64, text string) error {
	fctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	defer func() {
		cancel()
		m.mu.Lock()
		if m.fallbackDone == done {
			m.fallbackCancel, m.fallbackDone = nil, nil
		}
		m.mu.Unlock()
		close(done)
	}()

	for {
		m.mu.Lock()
		if m.gen != gen {
			m.mu.Unlock()
			m.conv.CancelTurn()
			return ErrTurnCancelled
		}
		if m.fallbackCancel == nil {
			m.fallbackCancel, m.fallbackDone = cancel, done
			m.mu.Unlock()
			break
		}
		prevCancel, prevDone := m.fallbackCancel, m.fallbackDone
		m.mu.Unlock()
		prevCancel()
		<-prevDone
	}

	connID := m.ids.Next(connid.PrefixStream)
	metrics.FallbackTotal.Inc()
	metrics.TransportEvents.WithLabelValues(string(KindFallback), string(StateConnecting)).Inc()
	slog.Info("http fallback", "network", network, "conn_id", connID)

	start := time.Now()
	m.conv.BeginFallback()

	resp, err := m.postStreamingChat(fctx, network, text)
	if err != nil {
		return m.endFallback(fctx, connID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.Errors.WithLabelValues("fallback", "status").Inc()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return m.endFallback(fctx, connID, &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(body))})
	}

	metrics.TransportEvents.WithLabelValues(string(KindFallback), string(StateOpen)).Inc()
	m.conv.FallbackAccepted()

	var dec stream.Decoder
	buf := make([]byte, readChunk)
	for {
		n, rerr := resp.Body.Read(buf)
		if fctx.Err() != nil {
			return m.endFallback(fctx, connID, fctx.Err())
		}
		if n > 0 {
			m.applyLines(network, dec.Feed(buf[:n]))
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return m.endFallback(fctx, connID, fmt.Errorf("read stream: %w", rerr))
		}
	}
	m.applyLines(network, dec.Flush())

	elapsed := time.Since(start)
	metrics.TurnDuration.Observe(elapsed.Seconds())
	metrics.TransportEvents.WithLabelValues(string(KindFallback), string(StateClosed)).Inc()
	m.conv.CompleteTurn(elapsed)
	return nil
}

func (m *Manager) postStreamingChat(ctx context.Context, network, text string) (*http.Response, error) {
	var body streamingRequest
	body.UserMessage.Text = text
	body.SlyData = map[string]any{}
	body.ChatContext = m.conv.ChatContext()

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal streaming request: %w", err)
	}

	endpoint := m.cfg.APIBase + "/" + url.PathEscape(network) + "/streaming_chat"
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("create streaming request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.cfg.HTTPClient.Do(req)
	if err != nil {
		metrics.Errors.WithLabelValues("fallback", "http").Inc()
		return nil, fmt.Errorf("streaming request: %w", err)
	}
	return resp, nil
}

func (m *Manager) applyLines(network string, lines []string) {
	for _, line := range lines {
		events := event.ClassifyLine(line, network)
		countEvents(events)
		m.conv.Apply(KindFallback, events)
	}
}

// endFallback closes the turn for err. Cancellation is its own terminal
// state and is not reported to the user as a failure.
func (m *Manager) endFallback(fctx context.Context, connID string, err error) error {
	if fctx.Err() != nil {
		metrics.TransportEvents.WithLabelValues(string(KindFallback), string(StateClosed)).Inc()
		slog.Info("http fallback cancelled", "conn_id", connID)
		m.conv.CancelTurn()
		return ErrTurnCancelled
	}
	metrics.TransportEvents.WithLabelValues(string(KindFallback), string(StateErrored)).Inc()
	slog.Warn("http fallback failed", "conn_id", connID, "error", err)
	m.conv.FailTurn(err)
	return err
}

func (m *Manager) cancelFallback() {
	m.mu.Lock()
	cancel, done := m.fallbackCancel, m.fallbackDone
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
