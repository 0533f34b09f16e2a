// Package cryptosess implements the authenticated datagram layer: a
// direction-tagged, strictly increasing nonce discipline over an AEAD cipher.
package cryptosess

import (
	"encoding/binary"
	"fmt"
)

// Direction distinguishes the two fixed roles of a session. It is baked into
// the high bit of every nonce this endpoint generates.
type Direction uint8

const (
	ToServer Direction = iota
	ToClient
)

// bit returns the value ORed into the high bit of the 64-bit nonce
// suffix for this direction.
func (d Direction) bit() uint64 {
	if d == ToClient {
		return 1 << 63
	}
	return 0
}

// NonceSize is the full reconstructed nonce length fed to the AEAD.
const NonceSize = 12

// WireNonceSize is the portion of the nonce actually transmitted; the leading
// four zero octets are implicit and reconstructed by the receiver.
const WireNonceSize = 8

// MakeNonce builds the full 12-octet nonce for a given direction and sequence
// number: four zero octets followed by the big-endian 64-bit value whose high
// bit is the direction and whose low 63 bits are seq.
//
// seq must fit in 63 bits; callers must never wrap within a session.
func MakeNonce(dir Direction, seq uint64) [NonceSize]byte {
	var n [NonceSize]byte
	v := dir.bit() | (seq & (1<<63 - 1))
	binary.BigEndian.PutUint64(n[4:], v)
	return n
}

// NonceToWire extracts the 8-octet wire form (the low 8 octets) of a full
// nonce.
func NonceToWire(n [NonceSize]byte) [WireNonceSize]byte {
	var w [WireNonceSize]byte
	copy(w[:], n[4:])
	return w
}

// WireToNonce reconstructs the full 12-octet nonce from the 8-octet wire
// form by prepending four zero octets.
func WireToNonce(w [WireNonceSize]byte) [NonceSize]byte {
	var n [NonceSize]byte
	copy(n[4:], w[:])
	return n
}

// ParseNonce decodes the direction and sequence number encoded in a full
// nonce.
func ParseNonce(n [NonceSize]byte) (Direction, uint64) {
	v := binary.BigEndian.Uint64(n[4:])
	dir := ToServer
	if v&(1<<63) != 0 {
		dir = ToClient
	}
	return dir, v & (1<<63 - 1)
}

func (d Direction) String() string {
	switch d {
	case ToServer:
		return "to-server"
	case ToClient:
		return "to-client"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}
