package framing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketRoundtrip(t *testing.T) {
	p := Packet{Timestamp: 12345, TimestampReply: 54321, Fragment: []byte("hello world")}
	enc := p.Encode()
	assert.Equal(t, []byte{0x30, 0x39, 0xD4, 0x31, 'h', 'e', 'l', 'l', 'o', ' ', 'w', 'o', 'r', 'l', 'd'}, enc)

	got, err := DecodePacket(enc)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestPacketShort(t *testing.T) {
	_, err := DecodePacket([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrShortPacket)
}

func TestFragmentShort(t *testing.T) {
	_, err := DecodeFragment(make([]byte, HeaderLen-1))
	assert.ErrorIs(t, err, ErrShortFragment)
}

func TestFragmentRoundtrip(t *testing.T) {
	f := Fragment{ID: 7, Final: true, Num: 3, Data: []byte("chunk")}
	enc := f.Encode()
	got, err := DecodeFragment(enc)
	require.NoError(t, err)
	assert.Equal(t, f, got)
}

func TestFragmenterIDReuse(t *testing.T) {
	fr := NewFragmenter()
	f1 := fr.MakeFragments([]byte("same payload"), 100)
	f2 := fr.MakeFragments([]byte("same payload"), 100)
	require.NotEmpty(t, f1)
	require.NotEmpty(t, f2)
	assert.Equal(t, f1[0].ID, f2[0].ID)

	f3 := fr.MakeFragments([]byte("other"), 100)
	assert.Equal(t, f1[0].ID+1, f3[0].ID)
}

func TestFragmenterEmptyPayload(t *testing.T) {
	fr := NewFragmenter()
	frags := fr.MakeFragments(nil, 100)
	require.Len(t, frags, 1)
	assert.True(t, frags[0].Final)
	assert.Empty(t, frags[0].Data)
}

func TestFragmenterSplitsAtMax(t *testing.T) {
	fr := NewFragmenter()
	payload := make([]byte, 250)
	for i := range payload {
		payload[i] = byte(i)
	}
	frags := fr.MakeFragments(payload, 100)
	require.Len(t, frags, 3)
	assert.False(t, frags[0].Final)
	assert.False(t, frags[1].Final)
	assert.True(t, frags[2].Final)
	assert.Equal(t, uint16(0), frags[0].Num)
	assert.Equal(t, uint16(1), frags[1].Num)
	assert.Equal(t, uint16(2), frags[2].Num)
}

func TestReassemblyRoundtrip(t *testing.T) {
	for _, max := range []int{1, 2, 7, 1242} {
		for _, payload := range [][]byte{nil, []byte("x"), []byte("the quick brown fox jumps over the lazy dog")} {
			fr := NewFragmenter()
			re := NewReassembler()
			frags := fr.MakeFragments(payload, max)

			var got []byte
			var complete bool
			for _, f := range frags {
				var err error
				got, complete, err = re.AddFragment(f)
				require.NoError(t, err)
			}
			require.True(t, complete)
			assert.Equal(t, payload, got)
		}
	}
}

func TestReassemblyResetsOnNewID(t *testing.T) {
	re := NewReassembler()
	_, complete, err := re.AddFragment(Fragment{ID: 1, Final: false, Num: 0, Data: []byte("partial")})
	require.NoError(t, err)
	assert.False(t, complete)

	out, complete, err := re.AddFragment(Fragment{ID: 2, Final: true, Num: 0, Data: []byte("fresh")})
	require.NoError(t, err)
	require.True(t, complete)
	assert.Equal(t, []byte("fresh"), out)
}

func TestReassemblyConflictingDuplicate(t *testing.T) {
	re := NewReassembler()
	_, _, err := re.AddFragment(Fragment{ID: 1, Final: false, Num: 0, Data: []byte("aaa")})
	require.NoError(t, err)
	_, _, err = re.AddFragment(Fragment{ID: 1, Final: false, Num: 0, Data: []byte("bbb")})
	assert.Error(t, err)
}

func TestMaxFragmentPayloadIs1242(t *testing.T) {
	assert.Equal(t, 1242, MaxFragmentPayload)
}
