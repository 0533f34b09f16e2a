// Package wire hand-encodes the self-describing binary schema spec.md §6
// mandates, using google.golang.org/protobuf/encoding/protowire's low-level
// varint/tag primitives directly rather than generated .pb.go code (no
// protoc invocation is available in this environment — see DESIGN.md).
package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ProtocolVersion is the only value spec.md §6 permits in field 1.
const ProtocolVersion = 2

// Instruction is the outer self-describing record carried by every
// transport datagram once reassembled. Field tags below match spec.md §6's
// "outer Instruction record uses tags 1..7" in the order protocol-version,
// old-num, new-num, ack-num, throwaway-num, diff, chaff.
type Instruction struct {
	ProtocolVersion uint64
	OldNum          uint64
	NewNum          uint64
	AckNum          uint64
	ThrowawayNum    uint64
	Diff            []byte
	Chaff           []byte
}

const (
	tagProtocolVersion protowire.Number = 1
	tagOldNum          protowire.Number = 2
	tagNewNum          protowire.Number = 3
	tagAckNum          protowire.Number = 4
	tagThrowawayNum    protowire.Number = 5
	tagDiff            protowire.Number = 6
	tagChaff           protowire.Number = 7
)

// Marshal serializes an Instruction.
func (in Instruction) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, tagProtocolVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, in.ProtocolVersion)
	b = protowire.AppendTag(b, tagOldNum, protowire.VarintType)
	b = protowire.AppendVarint(b, in.OldNum)
	b = protowire.AppendTag(b, tagNewNum, protowire.VarintType)
	b = protowire.AppendVarint(b, in.NewNum)
	b = protowire.AppendTag(b, tagAckNum, protowire.VarintType)
	b = protowire.AppendVarint(b, in.AckNum)
	b = protowire.AppendTag(b, tagThrowawayNum, protowire.VarintType)
	b = protowire.AppendVarint(b, in.ThrowawayNum)
	if len(in.Diff) > 0 {
		b = protowire.AppendTag(b, tagDiff, protowire.BytesType)
		b = protowire.AppendBytes(b, in.Diff)
	}
	if len(in.Chaff) > 0 {
		b = protowire.AppendTag(b, tagChaff, protowire.BytesType)
		b = protowire.AppendBytes(b, in.Chaff)
	}
	return b
}

// UnmarshalInstruction parses a serialized Instruction.
func UnmarshalInstruction(b []byte) (Instruction, error) {
	var in Instruction
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return in, fmt.Errorf("wire: bad instruction tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case tagProtocolVersion, tagOldNum, tagNewNum, tagAckNum, tagThrowawayNum:
			if typ != protowire.VarintType {
				return in, fmt.Errorf("wire: field %d: unexpected wire type %d", num, typ)
			}
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return in, fmt.Errorf("wire: field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case tagProtocolVersion:
				in.ProtocolVersion = v
			case tagOldNum:
				in.OldNum = v
			case tagNewNum:
				in.NewNum = v
			case tagAckNum:
				in.AckNum = v
			case tagThrowawayNum:
				in.ThrowawayNum = v
			}
		case tagDiff, tagChaff:
			if typ != protowire.BytesType {
				return in, fmt.Errorf("wire: field %d: unexpected wire type %d", num, typ)
			}
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return in, fmt.Errorf("wire: field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			cp := append([]byte(nil), v...)
			if num == tagDiff {
				in.Diff = cp
			} else {
				in.Chaff = cp
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return in, fmt.Errorf("wire: field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return in, nil
}
