package transport

import (
	"errors"
	"net"
	"os"
	"strings"
	"syscall"
)

// IsRemoteClose classifies a UDP I/O error as indicating the peer is gone:
// host-unreachable, connection-reset, connection-refused, or a broken pipe.
// Grounded on original_source/src/transport.rs's treatment of transient
// socket errors as session termination signals.
func IsRemoteClose(err error) bool {
	if err == nil {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		err = opErr.Err
	}
	var sysErr *os.SyscallError
	if errors.As(err, &sysErr) {
		err = sysErr.Err
	}
	switch {
	case errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EPIPE):
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "host unreachable") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "aborted")
}

// RemoteCloseMessage renders the message the renderer shows the user when
// IsRemoteClose(err) holds: a graceful shutdown or an observed peer goodbye
// reports a clean close; anything else surfaces the raw error text.
func (tr *Transport) RemoteCloseMessage(err error) string {
	if tr.shutdownInProgress || tr.sawGoodbyeAck {
		return "server closed the session"
	}
	return err.Error()
}
