package session

import (
	"errors"
	"fmt"
)

// ErrConnectAborted is returned by Connect when Disconnect ran while the
// handshake was in flight. The just-opened remote session has been closed.
var ErrConnectAborted = errors.New("session: connect aborted by disconnect")

// PermissionError means a local audio device could not be acquired.
type PermissionError struct {
	Device string
	Err    error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("session: %s unavailable: %v", e.Device, e.Err)
}

func (e *PermissionError) Unwrap() error { return e.Err }

// ConnectionError means the realtime endpoint could not be reached, the
// handshake failed, or the transport failed mid-session.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("session: %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// DecodeError marks one server audio payload that could not be decoded.
// It is logged and counted; the session continues.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "session: decode audio: " + e.Err.Error() }

func (e *DecodeError) Unwrap() error { return e.Err }
