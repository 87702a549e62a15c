package sandbox

import (
	"errors"
	"fmt"
	"syscall"
)

// ErrNotConnected is returned when an operation needs a remote session and
// none is held. It is never retried.
var ErrNotConnected = errors.New("sandbox session not connected")

// TransportError is a network-level failure talking to the service: the
// host was unreachable, the connection was refused, or the call timed out.
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("sandbox %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ConnectionRefused reports whether the service actively refused the
// connection, i.e. it is not running.
func (e *TransportError) ConnectionRefused() bool {
	return errors.Is(e.Err, syscall.ECONNREFUSED)
}

// RemoteStatusError is a non-2xx response from a reachable service.
type RemoteStatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *RemoteStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("sandbox %s: HTTP %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("sandbox %s: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
}

// ExecutionError is returned by Session operations. Err is ErrNotConnected,
// a *TransportError or a *RemoteStatusError.
type ExecutionError struct {
	Op        string
	SessionID SessionID
	Err       error
}

func (e *ExecutionError) Error() string {
	if e.SessionID == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s (session %s): %v", e.Op, e.SessionID, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// IsConnectionRefused reports whether err wraps a refused connection.
func IsConnectionRefused(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.ConnectionRefused()
}

// StatusCode returns the HTTP status wrapped in err, or 0.
func StatusCode(err error) int {
	var se *RemoteStatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}
