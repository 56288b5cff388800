package session

import "fmt"

// SignalingError is a publish/subscribe failure on the signaling channel.
// Session-fatal: the session tears down and the user must restart.
type SignalingError struct {
	Op  string
	Err error
}

func (e *SignalingError) Error() string {
	return fmt.Sprintf("signaling: %s: %v", e.Op, e.Err)
}

func (e *SignalingError) Unwrap() error { return e.Err }

// ConnectionError reports the underlying peer connection failing.
// Session-fatal, handled like SignalingError.
type ConnectionError struct {
	Reason string
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("peer connection %s", e.Reason)
}
