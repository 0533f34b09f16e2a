package transport

import "time"

// RTTEstimator is a TCP-style smoothed-RTT estimator (RFC 6298 shape).
type RTTEstimator struct {
	srtt, rttvar time.Duration
	hasSample    bool
}

// Sample feeds one RTT measurement into the estimator.
func (e *RTTEstimator) Sample(rtt time.Duration) {
	if !e.hasSample {
		e.srtt = rtt
		e.rttvar = rtt / 2
		e.hasSample = true
		return
	}
	diff := e.srtt - rtt
	if diff < 0 {
		diff = -diff
	}
	e.rttvar = e.rttvar*3/4 + diff/4
	e.srtt = e.srtt*7/8 + rtt/8
}

// SRTT returns the current smoothed RTT (zero until the first sample).
func (e *RTTEstimator) SRTT() time.Duration { return e.srtt }

// RTO returns the retransmission timeout: clamp(SRTT + 4*RTTVAR, 50, 1000)ms.
func (e *RTTEstimator) RTO() time.Duration {
	rto := e.srtt + 4*e.rttvar
	return clamp(rto, 50*time.Millisecond, 1000*time.Millisecond)
}

// SendInterval returns clamp(ceil(SRTT/2), 20, 250)ms.
func (e *RTTEstimator) SendInterval() time.Duration {
	ms := e.srtt.Milliseconds()
	halfMs := (ms + 1) / 2 // integer ceil of ms/2
	return clamp(time.Duration(halfMs)*time.Millisecond, sendIntervalMin, sendIntervalMax)
}

func clamp(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}
