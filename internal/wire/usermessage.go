package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// UserMessage is the client→server document: a sequence of keystroke/resize
// instructions. Field tag numbers below must match the upstream schema
// exactly per spec.md §6: keystroke=2 (keys=4), resize=3 (width=5 height=6).
type UserMessage struct {
	Instructions []UserInstruction
}

type UserInstruction struct {
	Keystroke *Keystroke
	Resize    *ResizeMessage
}

type Keystroke struct {
	Keys []byte
}

type ResizeMessage struct {
	Width  int32
	Height int32
}

const (
	tagUMInstruction protowire.Number = 1
	tagUIKeystroke   protowire.Number = 2
	tagUIResize      protowire.Number = 3
	tagKSKeys        protowire.Number = 4
	tagRMWidth       protowire.Number = 5
	tagRMHeight      protowire.Number = 6
)

func (rm ResizeMessage) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, tagRMWidth, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(uint32(rm.Width)))
	b = protowire.AppendTag(b, tagRMHeight, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(uint32(rm.Height)))
	return b
}

func unmarshalResizeMessage(b []byte) (ResizeMessage, error) {
	var rm ResizeMessage
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return rm, fmt.Errorf("wire: resize: %w", protowire.ParseError(n))
		}
		b = b[n:]
		if typ != protowire.VarintType {
			return rm, fmt.Errorf("wire: resize field %d: unexpected wire type %d", num, typ)
		}
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return rm, fmt.Errorf("wire: resize field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case tagRMWidth:
			rm.Width = int32(uint32(v))
		case tagRMHeight:
			rm.Height = int32(uint32(v))
		}
	}
	return rm, nil
}

func (ks Keystroke) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, tagKSKeys, protowire.BytesType)
	b = protowire.AppendBytes(b, ks.Keys)
	return b
}

func unmarshalKeystroke(b []byte) (Keystroke, error) {
	var ks Keystroke
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return ks, fmt.Errorf("wire: keystroke: %w", protowire.ParseError(n))
		}
		b = b[n:]
		if num == tagKSKeys {
			if typ != protowire.BytesType {
				return ks, fmt.Errorf("wire: keystroke: unexpected wire type %d", typ)
			}
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return ks, fmt.Errorf("wire: keystroke: %w", protowire.ParseError(n))
			}
			b = b[n:]
			ks.Keys = append(ks.Keys, v...)
		} else {
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return ks, fmt.Errorf("wire: keystroke: %w", protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return ks, nil
}

func (ui UserInstruction) marshal() []byte {
	var b []byte
	if ui.Keystroke != nil {
		b = protowire.AppendTag(b, tagUIKeystroke, protowire.BytesType)
		b = protowire.AppendBytes(b, ui.Keystroke.marshal())
	}
	if ui.Resize != nil {
		b = protowire.AppendTag(b, tagUIResize, protowire.BytesType)
		b = protowire.AppendBytes(b, ui.Resize.marshal())
	}
	return b
}

func unmarshalUserInstruction(b []byte) (UserInstruction, error) {
	var ui UserInstruction
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return ui, fmt.Errorf("wire: user instruction: %w", protowire.ParseError(n))
		}
		b = b[n:]
		if typ != protowire.BytesType {
			return ui, fmt.Errorf("wire: user instruction field %d: unexpected wire type %d", num, typ)
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return ui, fmt.Errorf("wire: user instruction field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case tagUIKeystroke:
			ks, err := unmarshalKeystroke(v)
			if err != nil {
				return ui, err
			}
			ui.Keystroke = &ks
		case tagUIResize:
			rm, err := unmarshalResizeMessage(v)
			if err != nil {
				return ui, err
			}
			ui.Resize = &rm
		}
	}
	return ui, nil
}

// Marshal serializes a UserMessage.
func (um UserMessage) Marshal() []byte {
	var b []byte
	for _, ui := range um.Instructions {
		b = protowire.AppendTag(b, tagUMInstruction, protowire.BytesType)
		b = protowire.AppendBytes(b, ui.marshal())
	}
	return b
}

// UnmarshalUserMessage parses a serialized UserMessage.
func UnmarshalUserMessage(b []byte) (UserMessage, error) {
	var um UserMessage
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return um, fmt.Errorf("wire: user message: %w", protowire.ParseError(n))
		}
		b = b[n:]
		if num != tagUMInstruction || typ != protowire.BytesType {
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return um, fmt.Errorf("wire: user message: %w", protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return um, fmt.Errorf("wire: user message: %w", protowire.ParseError(n))
		}
		b = b[n:]
		ui, err := unmarshalUserInstruction(v)
		if err != nil {
			return um, err
		}
		um.Instructions = append(um.Instructions, ui)
	}
	return um, nil
}
