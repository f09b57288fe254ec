package transport

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected  = errors.New("transport: not connected to a network")
	ErrChannelClosed = errors.New("transport: channel closed")
	ErrTurnCancelled = errors.New("transport: turn cancelled")
)

// StatusError is a non-2xx reply from the streaming chat endpoint.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.Code)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Body)
}
