package remotestate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rmosh/internal/wire"
)

func buildHostDiff(hostBytes string, echoAck uint64) []byte {
	hm := wire.HostMessage{Instructions: []wire.HostInstruction{
		{HostBytes: &wire.HostBytes{HostString: []byte(hostBytes)}},
		{EchoAck: &wire.EchoAck{EchoAckNum: echoAck}},
	}}
	return hm.Marshal()
}

func TestApplyHostBytesAndEchoAck(t *testing.T) {
	rs := New(10, 3)
	require.NoError(t, rs.ApplyString(buildHostDiff("ab", 1)))
	assert.Equal(t, 'a', rs.Terminal().Framebuffer().Cell(0, 0).Char)
	assert.Equal(t, 'b', rs.Terminal().Framebuffer().Cell(0, 1).Char)
	assert.EqualValues(t, 1, rs.EchoAck())
}

func TestEchoAckRegressionFails(t *testing.T) {
	rs := New(10, 3)
	require.NoError(t, rs.ApplyString(buildHostDiff("a", 5)))
	err := rs.ApplyString(buildHostDiff("b", 2))
	assert.ErrorIs(t, err, ErrEchoAckRegression)
}

func TestEchoAckGapsAreLegal(t *testing.T) {
	rs := New(10, 3)
	require.NoError(t, rs.ApplyString(buildHostDiff("a", 1)))
	require.NoError(t, rs.ApplyString(buildHostDiff("b", 10)))
	assert.EqualValues(t, 10, rs.EchoAck())
}

func TestResizeInstruction(t *testing.T) {
	rs := New(10, 3)
	hm := wire.HostMessage{Instructions: []wire.HostInstruction{
		{Resize: &wire.ResizeMessage{Width: 4, Height: 2}},
	}}
	require.NoError(t, rs.ApplyString(hm.Marshal()))
	assert.Equal(t, 4, rs.Terminal().Framebuffer().Width)
	assert.Equal(t, 2, rs.Terminal().Framebuffer().Height)
}
