package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// HostMessage is the server→client document: a sequence of host-bytes /
// resize / echo-ack instructions. Field tag numbers must match the upstream
// schema exactly per spec.md §6: host-bytes=2 (host-string=4), resize=3
// (width=5 height=6), echo-ack=7 (echo-ack-num=8).
type HostMessage struct {
	Instructions []HostInstruction
}

type HostInstruction struct {
	HostBytes *HostBytes
	Resize    *ResizeMessage
	EchoAck   *EchoAck
}

type HostBytes struct {
	HostString []byte
}

type EchoAck struct {
	EchoAckNum uint64
}

const (
	tagHMInstruction protowire.Number = 1
	tagHIHostBytes   protowire.Number = 2
	tagHIResize      protowire.Number = 3
	tagHIEchoAck     protowire.Number = 7
	tagHBHostString  protowire.Number = 4
	tagEAEchoAckNum  protowire.Number = 8
)

func (hb HostBytes) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, tagHBHostString, protowire.BytesType)
	b = protowire.AppendBytes(b, hb.HostString)
	return b
}

func unmarshalHostBytes(b []byte) (HostBytes, error) {
	var hb HostBytes
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return hb, fmt.Errorf("wire: host bytes: %w", protowire.ParseError(n))
		}
		b = b[n:]
		if num == tagHBHostString {
			if typ != protowire.BytesType {
				return hb, fmt.Errorf("wire: host bytes: unexpected wire type %d", typ)
			}
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return hb, fmt.Errorf("wire: host bytes: %w", protowire.ParseError(n))
			}
			b = b[n:]
			hb.HostString = append(hb.HostString, v...)
		} else {
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return hb, fmt.Errorf("wire: host bytes: %w", protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return hb, nil
}

func (ea EchoAck) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, tagEAEchoAckNum, protowire.VarintType)
	b = protowire.AppendVarint(b, ea.EchoAckNum)
	return b
}

func unmarshalEchoAck(b []byte) (EchoAck, error) {
	var ea EchoAck
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return ea, fmt.Errorf("wire: echo ack: %w", protowire.ParseError(n))
		}
		b = b[n:]
		if num == tagEAEchoAckNum {
			if typ != protowire.VarintType {
				return ea, fmt.Errorf("wire: echo ack: unexpected wire type %d", typ)
			}
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return ea, fmt.Errorf("wire: echo ack: %w", protowire.ParseError(n))
			}
			b = b[n:]
			ea.EchoAckNum = v
		} else {
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return ea, fmt.Errorf("wire: echo ack: %w", protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return ea, nil
}

func (hi HostInstruction) marshal() []byte {
	var b []byte
	if hi.HostBytes != nil {
		b = protowire.AppendTag(b, tagHIHostBytes, protowire.BytesType)
		b = protowire.AppendBytes(b, hi.HostBytes.marshal())
	}
	if hi.Resize != nil {
		b = protowire.AppendTag(b, tagHIResize, protowire.BytesType)
		b = protowire.AppendBytes(b, hi.Resize.marshal())
	}
	if hi.EchoAck != nil {
		b = protowire.AppendTag(b, tagHIEchoAck, protowire.BytesType)
		b = protowire.AppendBytes(b, hi.EchoAck.marshal())
	}
	return b
}

func unmarshalHostInstruction(b []byte) (HostInstruction, error) {
	var hi HostInstruction
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return hi, fmt.Errorf("wire: host instruction: %w", protowire.ParseError(n))
		}
		b = b[n:]
		if typ != protowire.BytesType {
			return hi, fmt.Errorf("wire: host instruction field %d: unexpected wire type %d", num, typ)
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return hi, fmt.Errorf("wire: host instruction field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case tagHIHostBytes:
			hb, err := unmarshalHostBytes(v)
			if err != nil {
				return hi, err
			}
			hi.HostBytes = &hb
		case tagHIResize:
			rm, err := unmarshalResizeMessage(v)
			if err != nil {
				return hi, err
			}
			hi.Resize = &rm
		case tagHIEchoAck:
			ea, err := unmarshalEchoAck(v)
			if err != nil {
				return hi, err
			}
			hi.EchoAck = &ea
		}
	}
	return hi, nil
}

// Marshal serializes a HostMessage.
func (hm HostMessage) Marshal() []byte {
	var b []byte
	for _, hi := range hm.Instructions {
		b = protowire.AppendTag(b, tagHMInstruction, protowire.BytesType)
		b = protowire.AppendBytes(b, hi.marshal())
	}
	return b
}

// UnmarshalHostMessage parses a serialized HostMessage.
func UnmarshalHostMessage(b []byte) (HostMessage, error) {
	var hm HostMessage
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return hm, fmt.Errorf("wire: host message: %w", protowire.ParseError(n))
		}
		b = b[n:]
		if num != tagHMInstruction || typ != protowire.BytesType {
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return hm, fmt.Errorf("wire: host message: %w", protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return hm, fmt.Errorf("wire: host message: %w", protowire.ParseError(n))
		}
		b = b[n:]
		hi, err := unmarshalHostInstruction(v)
		if err != nil {
			return hm, err
		}
		hm.Instructions = append(hm.Instructions, hi)
	}
	return hm, nil
}
