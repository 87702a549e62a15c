package sandbox

import (
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"testing"
)

func TestTransportError_ConnectionRefused(t *testing.T) {
	refused := &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}
	te := &TransportError{Op: "session_create", URL: "http://localhost:1", Err: refused}
	if !te.ConnectionRefused() {
		t.Error("expected ConnectionRefused() to be true")
	}
	if !IsConnectionRefused(fmt.Errorf("wrapped: %w", &ExecutionError{Op: "open session", Err: te})) {
		t.Error("expected IsConnectionRefused through wrapping")
	}

	other := &TransportError{Op: "execute", Err: errors.New("i/o timeout")}
	if other.ConnectionRefused() {
		t.Error("timeout should not count as refused")
	}
}

func TestExecutionError_Unwrap(t *testing.T) {
	err := &ExecutionError{Op: "execute", Err: ErrNotConnected}
	if !errors.Is(err, ErrNotConnected) {
		t.Error("expected errors.Is(err, ErrNotConnected)")
	}
	if got := err.Error(); got != "execute: sandbox session not connected" {
		t.Errorf("Error() = %q", got)
	}

	withID := &ExecutionError{Op: "execute", SessionID: "7", Err: &RemoteStatusError{Op: "execute", StatusCode: 500}}
	if StatusCode(withID) != 500 {
		t.Errorf("StatusCode() = %d, want 500", StatusCode(withID))
	}
	if got := withID.Error(); got != "execute (session 7): sandbox execute: HTTP 500" {
		t.Errorf("Error() = %q", got)
	}
}

func TestStatusCode_NoStatus(t *testing.T) {
	if StatusCode(errors.New("plain")) != 0 {
		t.Error("expected 0 for plain error")
	}
}
