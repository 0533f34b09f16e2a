// Package userstream implements the client-side user-event document: an
// ordered, monotone-growing log of keystrokes and resizes, grounded on
// original_source/src/userstream.rs's UserStream.
package userstream

import (
	"fmt"

	"rmosh/internal/wire"
)

// EventKind distinguishes the two event shapes a UserStream carries.
type EventKind int

const (
	EventKeystroke EventKind = iota
	EventResize
)

// Event is a single user action: either a keystroke byte or a resize.
type Event struct {
	Kind          EventKind
	Keystroke     byte
	Width, Height int32
}

// UserStream is a monotone-growing deque of user events.
type UserStream struct {
	actions []Event
}

// New returns an empty UserStream.
func New() *UserStream {
	return &UserStream{}
}

// PushKeystroke appends a single keystroke byte.
func (s *UserStream) PushKeystroke(b byte) {
	s.actions = append(s.actions, Event{Kind: EventKeystroke, Keystroke: b})
}

// PushKeystrokes appends a run of keystroke bytes.
func (s *UserStream) PushKeystrokes(bs []byte) {
	for _, b := range bs {
		s.PushKeystroke(b)
	}
}

// PushResize appends a resize event.
func (s *UserStream) PushResize(w, h int32) {
	s.actions = append(s.actions, Event{Kind: EventResize, Width: w, Height: h})
}

// IsEmpty reports whether the stream has no events.
func (s *UserStream) IsEmpty() bool { return len(s.actions) == 0 }

// Len reports the number of events in the stream.
func (s *UserStream) Len() int { return len(s.actions) }

// Equal reports structural equality with another stream.
func (s *UserStream) Equal(other *UserStream) bool {
	if len(s.actions) != len(other.actions) {
		return false
	}
	for i := range s.actions {
		if s.actions[i] != other.actions[i] {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the stream.
func (s *UserStream) Clone() *UserStream {
	c := &UserStream{actions: append([]Event(nil), s.actions...)}
	return c
}

// Subtract removes a validated common prefix from the head of the stream.
// It panics if prefix is not in fact a prefix of s — this mirrors the
// original's assert-based programmer-error contract.
func (s *UserStream) Subtract(prefix *UserStream) {
	if s.Equal(prefix) {
		s.actions = nil
		return
	}
	n := len(prefix.actions)
	if len(s.actions) < n {
		panic(fmt.Sprintf("userstream: subtract prefix longer than state (state_len=%d, prefix_len=%d)", len(s.actions), n))
	}
	for i := 0; i < n; i++ {
		if s.actions[i] != prefix.actions[i] {
			panic("userstream: subtract prefix mismatch")
		}
	}
	s.actions = append([]Event(nil), s.actions[n:]...)
}

// DiffFrom serializes the tail of the stream beyond the common prefix
// existing, batching consecutive keystrokes into a single keystroke
// instruction; each resize flushes the batch and is its own instruction.
func (s *UserStream) DiffFrom(existing *UserStream) []byte {
	start := len(existing.actions)
	if start > len(s.actions) {
		panic(fmt.Sprintf("userstream: diff_from existing longer than state (state_len=%d, existing_len=%d)", len(s.actions), start))
	}
	for i := 0; i < start; i++ {
		if s.actions[i] != existing.actions[i] {
			panic("userstream: diff_from existing is not prefix")
		}
	}
	if start >= len(s.actions) {
		return nil
	}

	var um wire.UserMessage
	for _, ev := range s.actions[start:] {
		switch ev.Kind {
		case EventKeystroke:
			n := len(um.Instructions)
			if n > 0 && um.Instructions[n-1].Keystroke != nil && um.Instructions[n-1].Resize == nil {
				um.Instructions[n-1].Keystroke.Keys = append(um.Instructions[n-1].Keystroke.Keys, ev.Keystroke)
			} else {
				um.Instructions = append(um.Instructions, wire.UserInstruction{
					Keystroke: &wire.Keystroke{Keys: []byte{ev.Keystroke}},
				})
			}
		case EventResize:
			um.Instructions = append(um.Instructions, wire.UserInstruction{
				Resize: &wire.ResizeMessage{Width: ev.Width, Height: ev.Height},
			})
		}
	}
	return um.Marshal()
}

// InitDiff is DiffFrom(empty).
func (s *UserStream) InitDiff() []byte {
	return s.DiffFrom(New())
}

// ApplyString parses a serialized diff and appends its events. Malformed
// framing fails with a wrapped error (spec.md's bad-user-diff).
func (s *UserStream) ApplyString(diff []byte) error {
	if len(diff) == 0 {
		return nil
	}
	um, err := wire.UnmarshalUserMessage(diff)
	if err != nil {
		return fmt.Errorf("userstream: bad-user-diff: %w", err)
	}
	for _, inst := range um.Instructions {
		switch {
		case inst.Keystroke != nil:
			s.PushKeystrokes(inst.Keystroke.Keys)
		case inst.Resize != nil:
			s.PushResize(inst.Resize.Width, inst.Resize.Height)
		default:
			return fmt.Errorf("userstream: bad-user-diff: empty instruction")
		}
	}
	return nil
}
