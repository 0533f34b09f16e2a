/*
 * nosshtradamus: predictive terminal emulation for SSH
 * Copyright 2019-2023 Daniel Selifonov
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package main

import (
	"io"
	"runtime"
	"sync"
	"time"
)

// asyncStdout buffers writes to the local tty so a slow terminal emulator
// can never stall the event loop's select: Render hands it a frame, the
// write returns as soon as it fits in stdoutBufferCapacity, and a background
// goroutine drains to the real os.Stdout at whatever pace the tty accepts.
type asyncStdout struct {
	upstream io.Writer
	cond     *sync.Cond
	buffer   []byte
	fill     int

	notify chan struct{}
	err    error
}

func newAsyncStdout(upstream io.Writer, capacity int) *asyncStdout {
	a := &asyncStdout{
		upstream: upstream,
		cond:     sync.NewCond(&sync.Mutex{}),
		buffer:   make([]byte, capacity),
		notify:   make(chan struct{}, 1),
	}
	go a.drain()
	return a
}

func (a *asyncStdout) drain() {
	sent := 0
	for range a.notify {
		a.cond.L.Lock()
		fill := a.fill
		a.cond.L.Unlock()

		_, err := a.upstream.Write(a.buffer[sent:fill])
		sent = fill

		a.cond.L.Lock()
		if err != nil {
			a.err = err
			a.cond.L.Unlock()
			return
		}
		if a.fill == fill {
			// drained everything buffered so far; reclaim the space
			a.fill = 0
			sent = 0
		}
		a.cond.Signal()
		a.cond.L.Unlock()
	}
}

func (a *asyncStdout) Close() error {
	a.cond.L.Lock()
	if a.err == nil {
		a.err = io.EOF
	}
	a.cond.L.Unlock()
	close(a.notify)
	a.cond.Broadcast()
	if c, ok := a.upstream.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (a *asyncStdout) Write(p []byte) (int, error) {
	a.cond.L.Lock()
	if a.err != nil {
		err := a.err
		a.cond.L.Unlock()
		return 0, err
	}
	n := copy(a.buffer[a.fill:], p)
	a.fill += n
	a.cond.L.Unlock()

	select {
	case a.notify <- struct{}{}:
		if n < len(p) {
			runtime.Gosched()
			return a.Write(p[n:])
		}
		return n, nil
	default:
		// drain goroutine is already behind; block for room rather than
		// dropping a frame silently.
		if n < len(p) {
			a.cond.L.Lock()
			a.cond.Wait()
			a.cond.L.Unlock()
			return a.Write(p[n:])
		}
		return n, nil
	}
}

// delayedSocket wraps the UDP connection with an artificial one-way send
// latency, driving the -fakeDelay flag used to exercise prediction under
// simulated long-haul round trips. Reads pass through unmodified; only
// writes queue in a ring sized by fakeDelayRingSize before reaching the
// wire.
type delayedSocket struct {
	upstream io.ReadWriteCloser
	latency  time.Duration

	pending [][]byte
	sendAt  []time.Time
	head    int
	tail    int

	cond *sync.Cond
	err  error
	wake chan struct{}
}

func newDelayedSocket(upstream io.ReadWriteCloser, latency time.Duration, ringSize int) *delayedSocket {
	d := &delayedSocket{
		upstream: upstream,
		latency:  latency,
		pending:  make([][]byte, ringSize),
		sendAt:   make([]time.Time, ringSize),
		cond:     sync.NewCond(&sync.Mutex{}),
		wake:     make(chan struct{}, ringSize),
	}
	go d.pump()
	return d
}

func (d *delayedSocket) pump() {
	for range d.wake {
		d.cond.L.Lock()
		due := d.sendAt[d.head]
		datagram := d.pending[d.head]
		d.cond.L.Unlock()

		if wait := time.Until(due); wait > 0 {
			time.Sleep(wait)
		}

		d.cond.L.Lock()
		d.pending[d.head] = nil
		d.head = (d.head + 1) % len(d.pending)
		d.cond.Signal()
		d.cond.L.Unlock()

		if _, err := d.upstream.Write(datagram); err != nil {
			d.cond.L.Lock()
			d.err = err
			d.cond.L.Unlock()
			close(d.wake)
			return
		}
	}
}

func (d *delayedSocket) Close() error {
	d.cond.L.Lock()
	if d.err == nil {
		d.err = io.EOF
	}
	d.cond.L.Unlock()
	close(d.wake)
	return d.upstream.Close()
}

func (d *delayedSocket) Read(p []byte) (int, error) {
	return d.upstream.Read(p)
}

func (d *delayedSocket) Write(p []byte) (int, error) {
	d.cond.L.Lock()
	if d.err != nil {
		err := d.err
		d.cond.L.Unlock()
		return 0, err
	}
	for d.pending[d.tail] != nil {
		d.cond.Wait()
	}
	datagram := make([]byte, len(p))
	copy(datagram, p)
	d.pending[d.tail] = datagram
	d.sendAt[d.tail] = time.Now().Add(d.latency)
	d.tail = (d.tail + 1) % len(d.pending)
	d.cond.L.Unlock()

	d.wake <- struct{}{}
	return len(p), nil
}
