package socket

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState is returned by operations invoked in a state that does
	// not allow them, including any I/O on a closed Connection.
	ErrInvalidState = errors.New("invalid socket state")

	// ErrInterrupted is returned by Accept when it was woken before a client
	// arrived. Callers check their shutdown flag and either retry or stop.
	// A connect attempt woken by Abort fails with it as well.
	ErrInterrupted = errors.New("interrupted")

	// ErrTimeout is wrapped by TransportError when a configured I/O timeout
	// expires.
	ErrTimeout = errors.New("i/o timeout")

	// ErrBufferFull is returned by Fill when no input space is left.
	ErrBufferFull = errors.New("input buffer full")

	// ErrLineTooLong is returned when a line exceeds the configured maximum.
	ErrLineTooLong = errors.New("line too long")
)

// TransportError reports a send or receive failure on an established
// connection. It is fatal to that connection only.
type TransportError struct {
	Op  string // "send" or "recv"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ConnectionError reports that no endpoint of a sequence accepted the
// connection. Err is the error of the last attempt; it is nil when the
// sequence was empty.
type ConnectionError struct {
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return "Failed connecting to host: no endpoints to try"
	}
	return fmt.Sprintf("Failed connecting to host: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// BindError reports a failure to set up a listening socket.
type BindError struct {
	Op   string // "socket", "bind", "listen"
	Port int
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("%s on port %d: %v", e.Op, e.Port, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }
