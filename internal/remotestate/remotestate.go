// Package remotestate wraps the terminal emulator with the monotone
// echo-ack counter, applying host diffs per spec.md §4.4.
package remotestate

import (
	"errors"
	"fmt"

	"rmosh/internal/term"
	"rmosh/internal/wire"
)

// ErrEchoAckRegression is a protocol violation: the remote's echo-ack MUST
// be monotone non-decreasing.
var ErrEchoAckRegression = errors.New("remotestate: echo-ack-regression")

// RemoteState is the server→client document: a terminal snapshot plus the
// highest user-event-stream state number whose effects have been echoed.
type RemoteState struct {
	terminal *term.Terminal
	echoAck  uint64
}

// New allocates a RemoteState with a blank w x h terminal.
func New(w, h int) *RemoteState {
	return &RemoteState{terminal: term.NewTerminal(w, h)}
}

// Terminal exposes the wrapped emulator.
func (r *RemoteState) Terminal() *term.Terminal { return r.terminal }

// EchoAck reports the current echo-ack counter.
func (r *RemoteState) EchoAck() uint64 { return r.echoAck }

// Clone returns a deep copy, including the echo-ack counter.
func (r *RemoteState) Clone() *RemoteState {
	return &RemoteState{terminal: r.terminal.Clone(), echoAck: r.echoAck}
}

// Equal reports structural equality (terminal framebuffer + echo-ack).
func (r *RemoteState) Equal(other *RemoteState) bool {
	return r.echoAck == other.echoAck && r.terminal.Framebuffer().Equal(other.terminal.Framebuffer())
}

// ApplyString decodes a HostMessage and, in order, feeds host bytes to the
// emulator, resizes it, and advances echo-ack. Regression in echo-ack fails
// fatally, matching spec.md's bad-host-diff/echo-ack-regression errors.
func (r *RemoteState) ApplyString(diff []byte) error {
	if len(diff) == 0 {
		return nil
	}
	hm, err := wire.UnmarshalHostMessage(diff)
	if err != nil {
		return fmt.Errorf("remotestate: bad-host-diff: %w", err)
	}
	for _, inst := range hm.Instructions {
		switch {
		case inst.HostBytes != nil:
			r.terminal.Process(inst.HostBytes.HostString)
		case inst.Resize != nil:
			r.terminal.Resize(int(inst.Resize.Width), int(inst.Resize.Height))
		case inst.EchoAck != nil:
			if inst.EchoAck.EchoAckNum < r.echoAck {
				return ErrEchoAckRegression
			}
			r.echoAck = inst.EchoAck.EchoAckNum
		default:
			return fmt.Errorf("remotestate: bad-host-diff: empty instruction")
		}
	}
	return nil
}
