package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrRetriesExhausted is wrapped by the ConnectionError a client returns
	// once client.max_attempts consecutive dials have failed.
	ErrRetriesExhausted = errors.New("connection retries exhausted")
	// ErrNotConnected is returned when emitting without a live session.
	ErrNotConnected = errors.New("not connected")
	// ErrConnClosed is returned when writing to a closed connection.
	ErrConnClosed = errors.New("connection closed")
)

// ConnectionError describes a refused, reset, or otherwise failed socket
// operation.
type ConnectionError struct {
	Op   string
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	if e.Addr == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
