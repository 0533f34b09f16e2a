package transport

import (
	"time"

	"rmosh/internal/remotestate"
	"rmosh/internal/userstream"
)

// SentState is one entry of the sender's state-snapshot queue: a
// (wall-time-of-send, state-number, state-value) triple.
type SentState struct {
	Timestamp time.Time
	Num       uint64
	State     *userstream.UserStream
}

// ReceivedState is the receiver-side analogue, keyed by state-number.
type ReceivedState struct {
	Timestamp time.Time
	Num       uint64
	State     *remotestate.RemoteState
}
