package transport

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"rmosh/internal/cryptosess"
	"rmosh/internal/framing"
	"rmosh/internal/remotestate"
	"rmosh/internal/userstream"
	"rmosh/internal/wire"
)

// ErrShutdownDone is returned by Tick once one of the three shutdown
// termination conditions in spec.md §4.5.3 is satisfied; callers should stop
// driving the transport and close the socket.
var ErrShutdownDone = errors.New("transport: shutdown handshake complete")

// Sender transmits one already-encrypted UDP datagram to the peer.
type Sender func(datagram []byte) error

// Transport is the client side of the State Synchronisation Protocol: it
// owns the crypto session, fragmenter, reassembler, RTT estimator, and the
// sent/received state queues, grounded on original_source/src/transport.rs.
type Transport struct {
	sendSession *cryptosess.Session
	recvSession *cryptosess.Session
	fragmenter  *framing.Fragmenter
	reassembler *framing.Reassembler
	rtt         RTTEstimator
	send        Sender

	currentState         *userstream.UserStream
	sentStates           []SentState
	assumedReceiverState int

	receivedStates []ReceivedState
	quenchUntil    time.Time

	ackNum             uint64
	pendingDataAck     bool
	remoteStateChanged bool

	nextAckTime   time.Time
	nextSendTime  time.Time
	mindelayClock time.Time

	lastHeard         time.Time
	lastRecvTime      time.Time
	lastRecvTimestamp uint16

	shutdownInProgress          bool
	shutdownStart               time.Time
	shutdownTries               int
	sawGoodbyeAck               bool
	counterpartyShutdownAckSent bool
}

// New constructs a Transport seeded with an empty user-stream at state 0 and
// an empty w x h remote terminal at state 0, matching the initial handshake
// state both endpoints agree on out of band.
func New(key cryptosess.Key, w, h int, now time.Time, send Sender) (*Transport, error) {
	sendSess, err := cryptosess.NewSession(key, cryptosess.ToServer)
	if err != nil {
		return nil, err
	}
	recvSess, err := cryptosess.NewSession(key, cryptosess.ToClient)
	if err != nil {
		return nil, err
	}
	return &Transport{
		sendSession:    sendSess,
		recvSession:    recvSess,
		fragmenter:     framing.NewFragmenter(),
		reassembler:    framing.NewReassembler(),
		send:           send,
		currentState:   userstream.New(),
		sentStates:     []SentState{{Timestamp: now, Num: 0, State: userstream.New()}},
		receivedStates: []ReceivedState{{Timestamp: now, Num: 0, State: remotestate.New(w, h)}},
		mindelayClock:  now,
	}, nil
}

// PushKeystroke queues a single keystroke byte into the live user-event
// stream.
func (tr *Transport) PushKeystroke(b byte) { tr.currentState.PushKeystroke(b) }

// PushKeystrokes queues a run of keystroke bytes.
func (tr *Transport) PushKeystrokes(bs []byte) { tr.currentState.PushKeystrokes(bs) }

// PushResize queues a terminal resize event.
func (tr *Transport) PushResize(w, h int32) { tr.currentState.PushResize(w, h) }

// RemoteState returns the most recently assembled host-state snapshot.
func (tr *Transport) RemoteState() *remotestate.RemoteState {
	return tr.receivedStates[len(tr.receivedStates)-1].State
}

// ConsumeRemoteStateChanged reports and clears the sticky flag set whenever
// the receiver's tail state number has advanced since the flag was last
// consumed.
func (tr *Transport) ConsumeRemoteStateChanged() bool {
	v := tr.remoteStateChanged
	tr.remoteStateChanged = false
	return v
}

// Shutdown begins the local shutdown handshake: subsequent transmissions use
// new-num = Goodbye until one of the three termination conditions fires.
func (tr *Transport) Shutdown(now time.Time) {
	if tr.shutdownInProgress {
		return
	}
	logrus.Debugf("transport: beginning shutdown handshake")
	tr.shutdownInProgress = true
	tr.shutdownStart = now
}

// ShutdownComplete reports whether any of the three termination conditions
// in spec.md §4.5.3 holds.
func (tr *Transport) ShutdownComplete(now time.Time) bool {
	if tr.counterpartyShutdownAckSent {
		return true // counterparty-shutdown-ack-sent
	}
	if !tr.shutdownInProgress {
		return false
	}
	if tr.sentStates[0].Num == Goodbye {
		return true // shutdown-acknowledged
	}
	return tr.shutdownTries >= shutdownRetries || now.Sub(tr.shutdownStart) >= shutdownTimeout // shutdown-ack-timed-out
}

// ShutdownInProgress reports whether Shutdown has been called locally.
func (tr *Transport) ShutdownInProgress() bool { return tr.shutdownInProgress }

// RemoteRequestedShutdown reports whether the latest state number received
// from the peer is the reserved Goodbye value, i.e. the server sent its
// goodbye state.
func (tr *Transport) RemoteRequestedShutdown() bool { return tr.ackNum == Goodbye }

// LastRecvTime reports the local time of the most recently processed
// datagram; the zero Time if none has been received yet.
func (tr *Transport) LastRecvTime() time.Time { return tr.lastRecvTime }

// HasReceivedData reports whether any datagram has been processed yet.
func (tr *Transport) HasReceivedData() bool { return !tr.lastRecvTime.IsZero() }

// SentStateNum returns the state number most recently sent to the peer, for
// feeding the prediction engine's local-frame-sent watermark.
func (tr *Transport) SentStateNum() uint64 { return tr.sentStates[len(tr.sentStates)-1].Num }

// AckedStateNum returns the head of the sent-state queue, the latest state
// number the peer is known to have acknowledged, for feeding the prediction engine's local-frame-acked
// watermark.
func (tr *Transport) AckedStateNum() uint64 { return tr.sentStates[0].Num }

// SendIntervalMS reports the current smoothed send interval in
// milliseconds, for feeding the prediction engine's adaptive-display
// hysteresis.
func (tr *Transport) SendIntervalMS() uint64 { return uint64(tr.rtt.SendInterval() / time.Millisecond) }

// Tick drives the sender side: it updates the optimistic receiver-state
// estimate, bounds queue memory, decides whether a send or ack is due, and
// transmits if so. Callers should invoke it on every iteration of the event
// loop and whenever a timer it controls fires.
func (tr *Transport) Tick(now time.Time) error {
	tr.updateAssumedReceiverState(now)
	tr.rationalizeStates()

	if tr.pendingDataAck && (tr.nextAckTime.IsZero() || tr.nextAckTime.Sub(now) > ackDelay) {
		tr.nextAckTime = now.Add(ackDelay)
	}

	tr.decideNextSendTime(now)

	if tr.shutdownInProgress || tr.ackNum == Goodbye {
		tail := tr.sentStates[len(tr.sentStates)-1]
		accel := tail.Timestamp.Add(tr.rtt.SendInterval())
		if tr.nextAckTime.IsZero() || accel.Before(tr.nextAckTime) {
			tr.nextAckTime = accel
		}
	}

	due := (!tr.nextSendTime.IsZero() && !now.Before(tr.nextSendTime)) ||
		(!tr.nextAckTime.IsZero() && !now.Before(tr.nextAckTime))
	if due {
		if err := tr.transmit(now); err != nil {
			return err
		}
	}

	if tr.ShutdownComplete(now) {
		logrus.Debugf("transport: shutdown handshake complete")
		return ErrShutdownDone
	}
	return nil
}

func (tr *Transport) updateAssumedReceiverState(now time.Time) {
	window := tr.rtt.RTO() + ackDelay
	idx := 0
	for i := 1; i < len(tr.sentStates); i++ {
		if now.Sub(tr.sentStates[i].Timestamp) < window {
			idx = i
		} else {
			break
		}
	}
	tr.assumedReceiverState = idx
}

// rationalizeStates subtracts the known-acked head from current-state and
// every queue entry, bounding memory use; it is a no-op once the head has
// already been reduced to empty.
func (tr *Transport) rationalizeStates() {
	head := tr.sentStates[0].State
	if head.IsEmpty() {
		return
	}
	headCopy := head.Clone()
	tr.currentState.Subtract(headCopy)
	for i := range tr.sentStates {
		tr.sentStates[i].State.Subtract(headCopy)
	}
}

func (tr *Transport) decideNextSendTime(now time.Time) {
	tail := tr.sentStates[len(tr.sentStates)-1]
	head := tr.sentStates[0]
	assumed := tr.sentStates[tr.assumedReceiverState]
	active := !tr.lastHeard.IsZero() && now.Sub(tr.lastHeard) < 10*time.Second

	switch {
	case !tr.currentState.Equal(tail.State):
		a := tr.mindelayClock.Add(sendMindelay)
		b := tail.Timestamp.Add(tr.rtt.SendInterval())
		next := a
		if b.After(a) {
			next = b
		}
		tr.nextSendTime = next
	case active && !tr.currentState.Equal(assumed.State):
		tr.nextSendTime = now.Add(tr.rtt.SendInterval())
	case active && !tr.currentState.Equal(head.State):
		tr.nextSendTime = now.Add(tr.rtt.RTO() + ackDelay)
	default:
		tr.nextSendTime = time.Time{}
	}
}

// transmit builds and sends one transport instruction, applying the
// prospective-resend optimisation, then serializes, compresses, fragments,
// and sends each fragment as its own encrypted datagram.
func (tr *Transport) transmit(now time.Time) error {
	assumedIdx := tr.assumedReceiverState
	diff := tr.currentState.DiffFrom(tr.sentStates[assumedIdx].State)
	if assumedIdx != 0 {
		diffHead := tr.currentState.DiffFrom(tr.sentStates[0].State)
		if len(diffHead) <= len(diff) || (len(diffHead) < 1000 && len(diffHead)-len(diff) < 100) {
			assumedIdx = 0
			diff = diffHead
		}
	}

	tail := tr.sentStates[len(tr.sentStates)-1]
	var newNum uint64
	switch {
	case len(diff) == 0 && tail.Num == Goodbye:
		// already sent the goodbye state; a repeat ack-only send just
		// refreshes its timestamp rather than minting a new number.
		newNum = Goodbye
		tr.sentStates[len(tr.sentStates)-1].Timestamp = now
	case len(diff) == 0:
		newNum = tail.Num + 1
		if tr.shutdownInProgress {
			newNum = Goodbye
		}
		tr.sentStates = append(tr.sentStates, SentState{Timestamp: now, Num: newNum, State: tr.currentState.Clone()})
	case tr.currentState.Equal(tail.State):
		newNum = tail.Num
		tr.sentStates[len(tr.sentStates)-1].Timestamp = now
	default:
		newNum = tail.Num + 1
		if tr.shutdownInProgress {
			newNum = Goodbye
		}
		tr.sentStates = append(tr.sentStates, SentState{Timestamp: now, Num: newNum, State: tr.currentState.Clone()})
	}
	tr.enforceSentQueueCap()

	chaff, err := wire.MakeChaff()
	if err != nil {
		return err
	}
	inst := wire.Instruction{
		ProtocolVersion: wire.ProtocolVersion,
		OldNum:          tr.sentStates[assumedIdx].Num,
		NewNum:          newNum,
		AckNum:          tr.ackNum,
		ThrowawayNum:    tr.sentStates[0].Num,
		Diff:            diff,
		Chaff:           chaff,
	}
	compressed, err := wire.ZlibCompress(inst.Marshal())
	if err != nil {
		return err
	}

	if tr.shutdownInProgress {
		tr.shutdownTries++
	}

	ts := framing.CurrentTimestamp(now.UnixMilli())
	tsReply := framing.NoTimestampReply
	if !tr.lastRecvTime.IsZero() {
		tsReply = tr.lastRecvTimestamp
	}
	for _, f := range tr.fragmenter.MakeFragments(compressed, framing.MaxFragmentPayload) {
		pkt := framing.Packet{Timestamp: ts, TimestampReply: tsReply, Fragment: f.Encode()}
		datagram, err := tr.sendSession.Encrypt(pkt.Encode())
		if err != nil {
			return err
		}
		if err := tr.send(datagram); err != nil {
			return err
		}
	}

	if tr.sawGoodbyeAck {
		tr.counterpartyShutdownAckSent = true
	}
	tr.pendingDataAck = false
	tr.nextAckTime = now.Add(ackInterval)
	tr.nextSendTime = time.Time{}
	tr.mindelayClock = now
	return nil
}

func (tr *Transport) enforceSentQueueCap() {
	if len(tr.sentStates) <= sentQueueCap {
		return
	}
	idx := len(tr.sentStates) - sentQueueTrim
	tr.sentStates = append(tr.sentStates[:idx], tr.sentStates[idx+1:]...)
	switch {
	case tr.assumedReceiverState > idx:
		tr.assumedReceiverState--
	case tr.assumedReceiverState == idx:
		tr.assumedReceiverState = idx - 1
		if tr.assumedReceiverState < 0 {
			tr.assumedReceiverState = 0
		}
	}
}

// ProcessDatagram decrypts and applies one received UDP datagram per
// spec.md §4.5.2. A version mismatch and a diff that fails to apply to the
// remote state are returned as errors; every other failure mode is a silent
// drop, matching the protocol's tolerance of reordering, loss, and noise.
func (tr *Transport) ProcessDatagram(raw []byte, now time.Time) error {
	_, plaintext, err := tr.recvSession.Decrypt(raw)
	if err != nil {
		logrus.Debugf("transport: dropping datagram: %v", err)
		return nil
	}
	pkt, err := framing.DecodePacket(plaintext)
	if err != nil {
		logrus.Debugf("transport: dropping malformed packet: %v", err)
		return nil
	}

	tr.lastRecvTime = now
	tr.lastHeard = now
	tr.lastRecvTimestamp = pkt.Timestamp

	if pkt.TimestampReply != framing.NoTimestampReply {
		nowTS := framing.CurrentTimestamp(now.UnixMilli())
		rttTicks := nowTS - pkt.TimestampReply // uint16 subtraction wraps mod 2^16
		if rttTicks < 10000 {
			sample := time.Duration(rttTicks) * time.Millisecond
			tr.rtt.Sample(sample)
			logrus.Debugf("transport: rtt sample %s (smoothed %s)", sample, tr.rtt.SRTT())
		}
	}

	if len(pkt.Fragment) == 0 {
		return nil // heartbeat
	}

	frag, err := framing.DecodeFragment(pkt.Fragment)
	if err != nil {
		return nil
	}
	assembled, complete, err := tr.reassembler.AddFragment(frag)
	if err != nil || !complete {
		return nil
	}

	decompressed, err := wire.ZlibDecompress(assembled)
	if err != nil {
		return nil
	}
	inst, err := wire.UnmarshalInstruction(decompressed)
	if err != nil {
		return nil
	}
	if inst.ProtocolVersion != wire.ProtocolVersion {
		logrus.Warnf("transport: version mismatch: got %d want %d", inst.ProtocolVersion, wire.ProtocolVersion)
		return fmt.Errorf("transport: version-mismatch: got %d want %d", inst.ProtocolVersion, wire.ProtocolVersion)
	}

	tr.processAcknowledgmentThrough(inst.AckNum)

	for _, rs := range tr.receivedStates {
		if rs.Num == inst.NewNum {
			return nil // duplicate
		}
	}

	refIdx := -1
	for i, rs := range tr.receivedStates {
		if rs.Num == inst.OldNum {
			refIdx = i
			break
		}
	}
	if refIdx < 0 {
		return nil // basis culled; ignore
	}

	newState := tr.receivedStates[refIdx].State.Clone()
	tr.processThrowawayUntil(inst.ThrowawayNum)

	if len(inst.Diff) > 0 {
		if err := newState.ApplyString(inst.Diff); err != nil {
			return fmt.Errorf("transport: %w", err)
		}
	}

	tr.insertReceivedState(ReceivedState{Timestamp: now, Num: inst.NewNum, State: newState})

	if len(tr.receivedStates) > receivedQueueCap {
		if !tr.quenchUntil.IsZero() && now.Before(tr.quenchUntil) {
			tr.removeReceivedState(inst.NewNum)
			return nil
		}
		tr.quenchUntil = now.Add(receiverQuench)
	}

	tail := tr.receivedStates[len(tr.receivedStates)-1]
	advanced := tail.Num != tr.ackNum
	tr.ackNum = tail.Num
	if tr.ackNum == Goodbye {
		tr.sawGoodbyeAck = true
	}
	if len(inst.Diff) > 0 {
		tr.pendingDataAck = true
	}
	if advanced {
		tr.remoteStateChanged = true
	}
	return nil
}

func (tr *Transport) processAcknowledgmentThrough(ackNum uint64) {
	matched := false
	for _, ss := range tr.sentStates {
		if ss.Num == ackNum {
			matched = true
			break
		}
	}
	if !matched {
		return
	}
	removed := 0
	for len(tr.sentStates) > 1 && tr.sentStates[0].Num < ackNum {
		tr.sentStates = tr.sentStates[1:]
		removed++
	}
	tr.assumedReceiverState -= removed
	if tr.assumedReceiverState < 0 {
		tr.assumedReceiverState = 0
	}
}

// processThrowawayUntil retains only received-states with num >= throwaway,
// always leaving at least one entry behind.
func (tr *Transport) processThrowawayUntil(throwaway uint64) {
	kept := tr.receivedStates[:0:0]
	for _, rs := range tr.receivedStates {
		if rs.Num >= throwaway {
			kept = append(kept, rs)
		}
	}
	if len(kept) == 0 {
		kept = append(kept, tr.receivedStates[len(tr.receivedStates)-1])
	}
	tr.receivedStates = kept
}

func (tr *Transport) insertReceivedState(entry ReceivedState) {
	i := sort.Search(len(tr.receivedStates), func(i int) bool { return tr.receivedStates[i].Num >= entry.Num })
	tr.receivedStates = append(tr.receivedStates, ReceivedState{})
	copy(tr.receivedStates[i+1:], tr.receivedStates[i:])
	tr.receivedStates[i] = entry
}

func (tr *Transport) removeReceivedState(num uint64) {
	for i, rs := range tr.receivedStates {
		if rs.Num == num {
			tr.receivedStates = append(tr.receivedStates[:i], tr.receivedStates[i+1:]...)
			return
		}
	}
}
