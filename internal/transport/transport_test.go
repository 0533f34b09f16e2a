package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rmosh/internal/cryptosess"
	"rmosh/internal/framing"
	"rmosh/internal/wire"
)

func testKey() cryptosess.Key {
	k, err := cryptosess.ParseKey("AAAAAAAAAAAAAAAAAAAAAA")
	if err != nil {
		panic(err)
	}
	return k
}

type recordingSender struct {
	datagrams [][]byte
}

func (r *recordingSender) send(d []byte) error {
	r.datagrams = append(r.datagrams, append([]byte(nil), d...))
	return nil
}

func newTestTransport(t *testing.T) (*Transport, *recordingSender) {
	t.Helper()
	rs := &recordingSender{}
	tr, err := New(testKey(), 80, 24, time.Unix(0, 0), rs.send)
	require.NoError(t, err)
	return tr, rs
}

// buildServerDatagram encrypts a host-side transport instruction the way the
// peer would, so it can be fed to Transport.ProcessDatagram in tests.
func buildServerDatagram(t *testing.T, key cryptosess.Key, inst wire.Instruction, ts, tsReply uint16) []byte {
	t.Helper()
	sess, err := cryptosess.NewSession(key, cryptosess.ToClient)
	require.NoError(t, err)
	compressed, err := wire.ZlibCompress(inst.Marshal())
	require.NoError(t, err)
	f := framing.NewFragmenter()
	frags := f.MakeFragments(compressed, framing.MaxFragmentPayload)
	require.Len(t, frags, 1)
	pkt := framing.Packet{Timestamp: ts, TimestampReply: tsReply, Fragment: frags[0].Encode()}
	datagram, err := sess.Encrypt(pkt.Encode())
	require.NoError(t, err)
	return datagram
}

func hostBytesDiff(s string) []byte {
	hm := wire.HostMessage{Instructions: []wire.HostInstruction{
		{HostBytes: &wire.HostBytes{HostString: []byte(s)}},
	}}
	return hm.Marshal()
}

// TestOutOfOrderReceive reproduces spec.md's literal out-of-order-receive
// scenario: new=2 arrives before new=1, both based on old=0.
func TestOutOfOrderReceive(t *testing.T) {
	tr, _ := newTestTransport(t)
	key := testKey()
	now := time.Unix(100, 0)

	d1 := buildServerDatagram(t, key, wire.Instruction{
		ProtocolVersion: wire.ProtocolVersion,
		OldNum:          0,
		NewNum:          2,
		AckNum:          0,
		Diff:            hostBytesDiff("ab"),
	}, 1, framing.NoTimestampReply)
	require.NoError(t, tr.ProcessDatagram(d1, now))

	d2 := buildServerDatagram(t, key, wire.Instruction{
		ProtocolVersion: wire.ProtocolVersion,
		OldNum:          0,
		NewNum:          1,
		AckNum:          0,
		Diff:            hostBytesDiff("a"),
	}, 2, framing.NoTimestampReply)
	require.NoError(t, tr.ProcessDatagram(d2, now.Add(time.Millisecond)))

	require.Len(t, tr.receivedStates, 3)
	assert.EqualValues(t, 0, tr.receivedStates[0].Num)
	assert.EqualValues(t, 1, tr.receivedStates[1].Num)
	assert.EqualValues(t, 2, tr.receivedStates[2].Num)
	assert.EqualValues(t, 2, tr.ackNum)

	fb := tr.RemoteState().Terminal().Framebuffer()
	assert.Equal(t, 'a', fb.Cell(0, 0).Char)
	assert.Equal(t, 'b', fb.Cell(0, 1).Char)
}

func TestVersionMismatchFails(t *testing.T) {
	tr, _ := newTestTransport(t)
	key := testKey()
	d := buildServerDatagram(t, key, wire.Instruction{
		ProtocolVersion: 99,
		OldNum:          0,
		NewNum:          1,
	}, 1, framing.NoTimestampReply)
	err := tr.ProcessDatagram(d, time.Unix(1, 0))
	assert.Error(t, err)
}

func TestDuplicateNewNumDropped(t *testing.T) {
	tr, _ := newTestTransport(t)
	key := testKey()
	inst := wire.Instruction{ProtocolVersion: wire.ProtocolVersion, OldNum: 0, NewNum: 1, Diff: hostBytesDiff("x")}
	d := buildServerDatagram(t, key, inst, 1, framing.NoTimestampReply)
	require.NoError(t, tr.ProcessDatagram(d, time.Unix(1, 0)))
	require.Len(t, tr.receivedStates, 2)

	d2 := buildServerDatagram(t, key, inst, 2, framing.NoTimestampReply)
	require.NoError(t, tr.ProcessDatagram(d2, time.Unix(2, 0)))
	assert.Len(t, tr.receivedStates, 2)
}

func TestMissingReferenceDropped(t *testing.T) {
	tr, _ := newTestTransport(t)
	key := testKey()
	d := buildServerDatagram(t, key, wire.Instruction{
		ProtocolVersion: wire.ProtocolVersion,
		OldNum:          99,
		NewNum:          1,
		Diff:            hostBytesDiff("x"),
	}, 1, framing.NoTimestampReply)
	require.NoError(t, tr.ProcessDatagram(d, time.Unix(1, 0)))
	assert.Len(t, tr.receivedStates, 1)
}

// TestSenderQueueInvariants drives many ticks with new keystroke data and
// checks the queue invariants spec.md §8 names: head.num <= assumed.num <=
// tail.num, strictly increasing nums, length <= 32.
func TestSenderQueueInvariants(t *testing.T) {
	tr, _ := newTestTransport(t)
	base := time.Unix(1000, 0)
	for i := 0; i < 60; i++ {
		tr.PushKeystroke(byte('a' + i%26))
		now := base.Add(time.Duration(i) * 50 * time.Millisecond)
		require.NoError(t, tr.Tick(now))

		assert.LessOrEqual(t, len(tr.sentStates), sentQueueCap)
		head := tr.sentStates[0].Num
		tail := tr.sentStates[len(tr.sentStates)-1].Num
		assumed := tr.sentStates[tr.assumedReceiverState].Num
		assert.LessOrEqual(t, head, assumed)
		assert.LessOrEqual(t, assumed, tail)
		for j := 1; j < len(tr.sentStates); j++ {
			assert.Greater(t, tr.sentStates[j].Num, tr.sentStates[j-1].Num)
		}
	}
}

// TestReceiverQueueInvariants checks the receiver-side invariants: always
// non-empty, sorted by num, unique nums.
func TestReceiverQueueInvariants(t *testing.T) {
	tr, _ := newTestTransport(t)
	key := testKey()
	now := time.Unix(2000, 0)
	prevOld := uint64(0)
	for i := 1; i <= 10; i++ {
		d := buildServerDatagram(t, key, wire.Instruction{
			ProtocolVersion: wire.ProtocolVersion,
			OldNum:          prevOld,
			NewNum:          uint64(i),
			Diff:            hostBytesDiff("x"),
		}, uint16(i), framing.NoTimestampReply)
		require.NoError(t, tr.ProcessDatagram(d, now.Add(time.Duration(i)*time.Millisecond)))
		prevOld = uint64(i)

		require.NotEmpty(t, tr.receivedStates)
		for j := 1; j < len(tr.receivedStates); j++ {
			assert.Greater(t, tr.receivedStates[j].Num, tr.receivedStates[j-1].Num)
		}
	}
}

// TestAckProcessingDropsOlderSentStates checks that a matching ack-num
// drops all strictly-smaller-numbered sent-states and corrects the
// assumed-receiver-state index.
func TestAckProcessingDropsOlderSentStates(t *testing.T) {
	tr, _ := newTestTransport(t)
	base := time.Unix(3000, 0)
	for i := 0; i < 5; i++ {
		tr.PushKeystroke('x')
		require.NoError(t, tr.Tick(base.Add(time.Duration(i)*100*time.Millisecond)))
	}
	require.Greater(t, len(tr.sentStates), 1)
	ackTarget := tr.sentStates[len(tr.sentStates)-1].Num

	key := testKey()
	d := buildServerDatagram(t, key, wire.Instruction{
		ProtocolVersion: wire.ProtocolVersion,
		OldNum:          0,
		NewNum:          1,
		AckNum:          ackTarget,
	}, 1, framing.NoTimestampReply)
	require.NoError(t, tr.ProcessDatagram(d, base.Add(time.Second)))

	assert.Len(t, tr.sentStates, 1)
	assert.Equal(t, ackTarget, tr.sentStates[0].Num)
	assert.Equal(t, 0, tr.assumedReceiverState)
}

// TestShutdownTerminatesWithinOneTick reproduces spec.md §8's shutdown
// property: once the peer's reply acknowledges the goodbye state, the very
// next Tick reports completion.
func TestShutdownTerminatesWithinOneTick(t *testing.T) {
	tr, _ := newTestTransport(t)
	t0 := time.Unix(5000, 0)
	tr.Shutdown(t0)
	require.NoError(t, tr.Tick(t0))
	require.NoError(t, tr.Tick(t0.Add(30*time.Millisecond)))
	require.Len(t, tr.sentStates, 2)
	assert.Equal(t, Goodbye, tr.sentStates[len(tr.sentStates)-1].Num)

	key := testKey()
	d := buildServerDatagram(t, key, wire.Instruction{
		ProtocolVersion: wire.ProtocolVersion,
		OldNum:          0,
		NewNum:          1,
		AckNum:          Goodbye,
	}, 1, framing.NoTimestampReply)
	require.NoError(t, tr.ProcessDatagram(d, t0.Add(40*time.Millisecond)))

	assert.True(t, tr.ShutdownComplete(t0.Add(40*time.Millisecond)))
	err := tr.Tick(t0.Add(50 * time.Millisecond))
	assert.ErrorIs(t, err, ErrShutdownDone)
}

func TestRTTEstimatorBasics(t *testing.T) {
	var e RTTEstimator
	e.Sample(100 * time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, e.SRTT())
	assert.Equal(t, 300*time.Millisecond, e.RTO())
	e.Sample(200 * time.Millisecond)
	assert.Greater(t, e.SRTT(), 100*time.Millisecond)
}

func TestClientFacingAccessorsReflectQueueState(t *testing.T) {
	tr, _ := newTestTransport(t)
	t0 := time.Unix(500, 0)

	assert.False(t, tr.HasReceivedData())
	assert.False(t, tr.ShutdownInProgress())
	assert.Equal(t, uint64(0), tr.SentStateNum())
	assert.Equal(t, uint64(0), tr.AckedStateNum())

	tr.PushKeystrokes([]byte("hi"))
	require.NoError(t, tr.Tick(t0))
	assert.Equal(t, uint64(1), tr.SentStateNum())

	key := testKey()
	d := buildServerDatagram(t, key, wire.Instruction{
		ProtocolVersion: wire.ProtocolVersion,
		OldNum:          0,
		NewNum:          1,
		AckNum:          1,
		Diff:            hostBytesDiff("hi"),
	}, 1, framing.NoTimestampReply)
	require.NoError(t, tr.ProcessDatagram(d, t0.Add(10*time.Millisecond)))

	assert.True(t, tr.HasReceivedData())
	assert.Equal(t, t0.Add(10*time.Millisecond), tr.LastRecvTime())
	assert.Equal(t, uint64(1), tr.AckedStateNum())
	assert.False(t, tr.RemoteRequestedShutdown())
}
