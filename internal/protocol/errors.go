package protocol

import "fmt"

// ProtocolError reports a malformed message from the peer.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// StatusError carries a non-OK response status to the caller.
type StatusError struct {
	Status  Status
	Message string
}

func (e *StatusError) Error() string {
	return "Error: " + e.Message
}
