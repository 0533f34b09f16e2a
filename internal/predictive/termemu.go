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
package predictive

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"rmosh/internal/prediction"
	"rmosh/internal/term"
	"rmosh/internal/transport"
)

// DefaultCoalesceInterval specifies the time interval within which multiple
// remote-state updates are coalesced into a single local redraw. 60 frames
// per second.
const DefaultCoalesceInterval = time.Second / 60

// DefaultDisplayPreference is the default prediction mode: adaptive engages
// local echo only once round-trip latency crosses the hysteresis thresholds.
const DefaultDisplayPreference = prediction.ModeAdaptive

// DefaultDisplayPredictOverwrites enables the more aggressive overwrite
// prediction policy by default.
const DefaultDisplayPredictOverwrites = true

// RenderFunc renders the transition from prev to next as a byte sequence
// suitable for writing directly to the local terminal. full forces a
// complete redraw instead of a cell-level diff (e.g. after a resize).
type RenderFunc func(prev, next *term.Framebuffer, full bool) []byte

// Interposer sits between the local terminal (stdin/stdout) and the state
// synchronization transport. Writes are fed through the prediction engine
// for immediate local echo and forwarded to the transport as user-stream
// keystrokes; reads produce the terminal byte sequence needed to bring the
// local display in line with the transport's remote state plus any active
// predictions.
//
// This interposer satisfies io.ReadWriteCloser, wrapping the transport the
// same way the original wrapped an upstream byte stream: Write ingests user
// input, Read produces the display's response.
type Interposer struct {
	tr        *transport.Transport
	predictor *prediction.Engine
	render    RenderFunc

	width, height int

	pending *bytes.Buffer

	controlMutex, emulatorMutex *sync.Mutex

	prevFB      *term.Framebuffer
	forceRedraw bool

	opened bool
}

// Interpose wires a transport into a predictive local-echo interposer. A
// nil render uses the built-in plain-ANSI renderer.
func Interpose(tr *transport.Transport, mode prediction.Mode, overwrite bool, width, height int, render RenderFunc) *Interposer {
	if render == nil {
		render = defaultRenderFrame
	}
	return &Interposer{
		tr:        tr,
		predictor: prediction.New(mode, width, height, overwrite),
		render:    render,

		width:  width,
		height: height,

		controlMutex:  &sync.Mutex{},
		emulatorMutex: &sync.Mutex{},

		prevFB:      term.NewFramebuffer(width, height),
		forceRedraw: true,
	}
}

// Close triggers the transport's shutdown handshake; the caller remains
// responsible for driving Tick until ShutdownComplete.
func (i *Interposer) Close() error {
	i.tr.Shutdown(time.Now())
	return nil
}

// Read produces the terminal byte sequence needed to reconcile the local
// display with the current remote state and active predictions. Returns
// (0, nil) when nothing has changed since the last call; the caller is
// expected to poll this on a DefaultCoalesceInterval-ish cadence (or
// whenever the transport reports a remote-state change).
func (i *Interposer) Read(p []byte) (int, error) {
	if i.pending != nil {
		i.controlMutex.Lock()
		defer i.controlMutex.Unlock()
		n, err := i.pending.Read(p)
		if err == io.EOF {
			i.pending = nil
			return n, nil
		}
		return n, err
	}

	now := time.Now()
	i.emulatorMutex.Lock()
	remoteFB := i.tr.RemoteState().Terminal().Framebuffer()
	i.predictor.Cull(remoteFB, now)

	overlay := remoteFB.Clone()
	if row, col, ok := i.predictor.ApplyOverlays(overlay); ok {
		overlay.CursorRow, overlay.CursorCol = row, col
	}

	full := i.forceRedraw
	emission := i.render(i.prevFB, overlay, full)
	i.prevFB = overlay
	i.forceRedraw = false
	i.emulatorMutex.Unlock()

	i.opened = true

	if len(emission) == 0 {
		return 0, nil
	}

	n := copy(p, emission)
	if n < len(emission) {
		rest := emission[n:]
		i.controlMutex.Lock()
		if i.pending == nil {
			i.pending = &bytes.Buffer{}
		}
		i.pending.Write(rest)
		i.controlMutex.Unlock()
	}
	return n, nil
}

// Write feeds user input: predicts its effect locally for immediate echo,
// then forwards the raw keystrokes to the transport's user stream.
func (i *Interposer) Write(p []byte) (int, error) {
	now := time.Now()
	i.emulatorMutex.Lock()
	remoteFB := i.tr.RemoteState().Terminal().Framebuffer()
	i.predictor.NewUserInputBatch(p, remoteFB, now)
	i.emulatorMutex.Unlock()

	i.tr.PushKeystrokes(p)
	return len(p), nil
}

// Resize changes the width and height of the interposed terminal, in
// response to e.g. SIGWINCH or equivalent signal. Forces a full redraw on
// the next Read, since predictions cannot survive a resize.
func (i *Interposer) Resize(w, h int) {
	i.emulatorMutex.Lock()
	i.width, i.height = w, h
	i.predictor.Resize(w, h)
	i.prevFB = term.NewFramebuffer(w, h)
	i.forceRedraw = true
	i.emulatorMutex.Unlock()

	i.tr.PushResize(int32(w), int32(h))
}

// CurrentContents produces a full-redraw byte sequence transforming a blank
// terminal into one matching the interposer's current predicted display,
// for use on initial attach or reconnection.
func (i *Interposer) CurrentContents() string {
	i.emulatorMutex.Lock()
	defer i.emulatorMutex.Unlock()

	remoteFB := i.tr.RemoteState().Terminal().Framebuffer()
	overlay := remoteFB.Clone()
	if row, col, ok := i.predictor.ApplyOverlays(overlay); ok {
		overlay.CursorRow, overlay.CursorCol = row, col
	}
	blank := term.NewFramebuffer(i.width, i.height)
	return string(i.render(blank, overlay, true))
}

// defaultRenderFrame is a plain-ANSI fallback: cursor addressing, basic SGR
// codes, and a full-screen clear on a forced redraw. It is used when
// Interpose is given a nil RenderFunc, so the interposer is independently
// usable (tests, headless callers) without depending on internal/renderer.
func defaultRenderFrame(prev, next *term.Framebuffer, full bool) []byte {
	var buf bytes.Buffer
	lastRow, lastCol := -1, -1
	var lastAttrs term.Attributes
	lastFg, lastBg := term.DefaultColor, term.DefaultColor
	touched := false

	emit := func(row, col int, c term.Cell) {
		touched = true
		if row != lastRow || col != lastCol {
			fmt.Fprintf(&buf, "\x1b[%d;%dH", row+1, col+1)
		}
		if c.Attrs != lastAttrs || c.Fg != lastFg || c.Bg != lastBg {
			buf.WriteString(sgrCodes(c))
			lastAttrs, lastFg, lastBg = c.Attrs, c.Fg, c.Bg
		}
		if c.Char == 0 {
			buf.WriteByte(' ')
		} else {
			buf.WriteRune(c.Char)
		}
		lastRow, lastCol = row, col+1
	}

	if full || prev.Width != next.Width || prev.Height != next.Height {
		buf.WriteString("\x1b[2J")
		for row := 0; row < next.Height; row++ {
			for col := 0; col < next.Width; col++ {
				emit(row, col, next.Cell(row, col))
			}
		}
	} else {
		for row := 0; row < next.Height && row < prev.Height; row++ {
			for col := 0; col < next.Width && col < prev.Width; col++ {
				c := next.Cell(row, col)
				if c != prev.Cell(row, col) {
					emit(row, col, c)
				}
			}
		}
	}

	if !touched && !full {
		return nil
	}

	buf.WriteString("\x1b[0m")
	if next.CursorVisible {
		fmt.Fprintf(&buf, "\x1b[%d;%dH", next.CursorRow+1, next.CursorCol+1)
	}
	return buf.Bytes()
}

func sgrCodes(c term.Cell) string {
	codes := []string{"0"}
	if c.Attrs.Bold {
		codes = append(codes, "1")
	}
	if c.Attrs.Italic {
		codes = append(codes, "3")
	}
	if c.Attrs.Underline {
		codes = append(codes, "4")
	}
	if c.Attrs.Reverse {
		codes = append(codes, "7")
	}
	if !c.Fg.Default {
		codes = append(codes, fmt.Sprintf("%d", 30+int(c.Fg.Index)%8))
	}
	if !c.Bg.Default {
		codes = append(codes, fmt.Sprintf("%d", 40+int(c.Bg.Index)%8))
	}
	return "\x1b[" + strings.Join(codes, ";") + "m"
}
