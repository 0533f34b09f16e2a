package framing

import "bytes"

// Fragmenter splits a payload into fragments, reusing the previous
// instruction id when called again with the identical (payload, max) pair —
// this is how natural retransmits stay indistinguishable on the wire.
type Fragmenter struct {
	nextID uint64

	havePrev  bool
	prevMax   int
	prevBytes []byte
}

// NewFragmenter returns a Fragmenter starting at instruction id 0.
func NewFragmenter() *Fragmenter {
	return &Fragmenter{}
}

// MakeFragments splits payload into fragments of at most max octets. A
// zero-length payload still produces exactly one fragment (final, empty).
func (f *Fragmenter) MakeFragments(payload []byte, max int) []Fragment {
	reuse := f.havePrev && f.prevMax == max && bytes.Equal(f.prevBytes, payload)
	if f.havePrev && !reuse {
		f.nextID++
	}
	f.havePrev = true
	f.prevMax = max
	f.prevBytes = append([]byte(nil), payload...)

	id := f.nextID

	if len(payload) == 0 {
		return []Fragment{{ID: id, Final: true, Num: 0, Data: nil}}
	}

	var frags []Fragment
	num := uint16(0)
	for off := 0; off < len(payload); off += max {
		end := off + max
		if end > len(payload) {
			end = len(payload)
		}
		final := end == len(payload)
		frags = append(frags, Fragment{
			ID:    id,
			Final: final,
			Num:   num,
			Data:  payload[off:end],
		})
		num++
	}
	return frags
}
