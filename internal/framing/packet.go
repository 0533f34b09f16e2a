// Package framing implements the two wire codecs between the crypto layer
// and the transport: the cleartext packet (timestamp header + fragment
// payload) and the fragment header (instruction id + final/num).
package framing

import (
	"encoding/binary"
	"errors"
)

// TimestampLen is the length in octets of the packet's timestamp header
// (two 16-bit big-endian fields).
const TimestampLen = 4

// NoTimestampReply is the sentinel value meaning "nothing received yet".
const NoTimestampReply uint16 = 0xFFFF

// ErrShortPacket is returned when a datagram is too short to contain a
// timestamp header.
var ErrShortPacket = errors.New("framing: short packet")

// Packet is the cleartext structure carried inside each encrypted datagram.
type Packet struct {
	Timestamp      uint16
	TimestampReply uint16
	Fragment       []byte
}

// Encode serializes a Packet to its wire form.
func (p Packet) Encode() []byte {
	out := make([]byte, TimestampLen+len(p.Fragment))
	binary.BigEndian.PutUint16(out[0:2], p.Timestamp)
	binary.BigEndian.PutUint16(out[2:4], p.TimestampReply)
	copy(out[4:], p.Fragment)
	return out
}

// DecodePacket parses the timestamp header and remaining fragment bytes.
func DecodePacket(b []byte) (Packet, error) {
	if len(b) < TimestampLen {
		return Packet{}, ErrShortPacket
	}
	return Packet{
		Timestamp:      binary.BigEndian.Uint16(b[0:2]),
		TimestampReply: binary.BigEndian.Uint16(b[2:4]),
		Fragment:       b[4:],
	}, nil
}

// CurrentTimestamp returns nowMillis mod 2^16, matching
// original_source/src/network.rs's current_timestamp().
func CurrentTimestamp(nowMillis int64) uint16 {
	return uint16(uint64(nowMillis) & 0xFFFF)
}
