// Package transport implements the State Synchronisation Protocol (SSP):
// a UDP-based full-state synchroniser with versioned sent/received state
// queues, optimistic acks, RTO-driven retransmission, fragment assembly,
// compression, chaff, and the shutdown handshake. Grounded in full on
// original_source/src/transport.rs.
package transport

import "time"

// ProtocolVersion is the only value this transport emits or accepts.
const ProtocolVersion = 2

// Goodbye is the reserved state-number used for the shutdown handshake.
const Goodbye = ^uint64(0)

const (
	ackDelay           = 100 * time.Millisecond
	ackInterval        = 3000 * time.Millisecond
	sendMindelay       = 8 * time.Millisecond
	activeRetryTimeout = 10 * time.Second
	shutdownRetries    = 16
	shutdownTimeout    = 10 * time.Second
	receiverQuench     = 15 * time.Second

	sentQueueCap      = 32
	sentQueueTrim     = 16 // evict at len-16 when cap exceeded
	receivedQueueCap  = 1024

	sendIntervalMin = 20 * time.Millisecond
	sendIntervalMax = 250 * time.Millisecond
)
