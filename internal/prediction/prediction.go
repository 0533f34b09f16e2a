// Package prediction implements the speculative local-echo engine: per-row
// overlay predictions and a predicted-cursor stack, gated by a tentative/
// confirmed epoch pair and culled against the authoritative remote
// framebuffer. Grounded in full on original_source/src/prediction.rs.
package prediction

import (
	"time"

	"rmosh/internal/term"
)

// Mode selects when predicted input is displayed.
type Mode int

const (
	ModeNever Mode = iota
	ModeAlways
	ModeAdaptive
)

type validity int

const (
	validityPending validity = iota
	validityCorrect
	validityCorrectNoCredit
	validityIncorrectOrExpired
	validityInactive
)

// Hysteresis and glitch constants, matching upstream mosh's
// terminaloverlay.cc thresholds.
const (
	srttTriggerLowMS        = 20
	srttTriggerHighMS       = 30
	flagTriggerLowMS        = 50
	flagTriggerHighMS       = 80
	glitchThreshold         = 250 * time.Millisecond
	glitchRepairCount       = 10
	glitchRepairMinInterval = 150 * time.Millisecond
	glitchFlagThreshold     = 5000 * time.Millisecond
)

type predictedCell struct {
	expirationFrame     uint64
	col                 int
	active              bool
	tentativeUntilEpoch uint64
	predictionTime      time.Time
	replacement         term.Cell
	unknown             bool
	originalContents    []term.Cell
}

func newPredictedCell(col int) predictedCell {
	return predictedCell{col: col}
}

func (c *predictedCell) tentative(confirmedEpoch uint64) bool {
	return c.tentativeUntilEpoch > confirmedEpoch
}

func (c *predictedCell) reset() {
	c.expirationFrame = 0
	c.tentativeUntilEpoch = 0
	c.active = false
	c.unknown = false
	c.originalContents = nil
}

func (c *predictedCell) resetWithOrig() {
	if !c.active || c.unknown {
		c.reset()
		return
	}
	c.originalContents = append(c.originalContents, c.replacement)
	c.expirationFrame = 0
	c.tentativeUntilEpoch = 0
	c.active = false
}

func (c *predictedCell) expire(frame uint64, now time.Time) {
	c.expirationFrame = frame
	c.predictionTime = now
}

type predictedRow struct {
	rowNum       int
	overlayCells []predictedCell
}

type predictedCursor struct {
	expirationFrame     uint64
	row, col            int
	active              bool
	tentativeUntilEpoch uint64
}

func (c *predictedCursor) tentative(confirmedEpoch uint64) bool {
	return c.tentativeUntilEpoch > confirmedEpoch
}

func (c *predictedCursor) expire(frame uint64) { c.expirationFrame = frame }

// Engine is the predictive local-echo state machine: a set of per-row
// overlays plus a stack of predicted cursor positions.
type Engine struct {
	mode    Mode
	overlays []predictedRow
	cursors  []predictedCursor

	localFrameSent      uint64
	localFrameAcked     uint64
	localFrameLateAcked uint64

	predictionEpoch uint64
	confirmedEpoch  uint64

	sendIntervalMS uint64
	srttTrigger    bool
	flagging       bool
	glitchTrigger  uint32

	lastQuickConfirmation time.Time
	haveLastQuick         bool

	escState int

	width, height         int
	lastWidth, lastHeight int

	predictOverwrite bool
}

// New constructs an Engine in the given display mode for a w x h terminal.
// overwrite selects whether printable-character prediction assumes the
// server will overwrite the cell under the cursor (the aggressive default
// matching the teacher's DefaultDisplayPredictOverwrites) or shift it, per
// original_source/src/prediction.rs's PredictionEngine::new(overwrite).
func New(mode Mode, w, h int, overwrite bool) *Engine {
	return &Engine{
		mode:             mode,
		predictionEpoch:  1,
		sendIntervalMS:   250,
		width:            w,
		height:           h,
		lastWidth:        w,
		lastHeight:       h,
		predictOverwrite: overwrite,
	}
}

// SetPredictOverwrite changes the overwrite-vs-shift prediction policy at
// runtime.
func (e *Engine) SetPredictOverwrite(overwrite bool) { e.predictOverwrite = overwrite }

// Resize updates the tracked dimensions and drops all predictions.
func (e *Engine) Resize(w, h int) {
	e.width, e.height = w, h
	e.lastWidth, e.lastHeight = w, h
	e.Reset()
}

// Reset drops every overlay and predicted cursor and enters a new tentative
// epoch.
func (e *Engine) Reset() {
	e.overlays = nil
	e.cursors = nil
	e.escState = 0
	e.becomeTentative()
}

func (e *Engine) SetLocalFrameSent(n uint64)   { e.localFrameSent = n }
func (e *Engine) SetLocalFrameAcked(n uint64)  { e.localFrameAcked = n }
func (e *Engine) SetSendInterval(ms uint64)    { e.sendIntervalMS = ms }

// SetLocalFrameLateAcked advances the late-ack counter; it is monotone.
func (e *Engine) SetLocalFrameLateAcked(n uint64) {
	if n > e.localFrameLateAcked {
		e.localFrameLateAcked = n
	}
}

// ServerAck is an alias for SetLocalFrameLateAcked, matching the host
// echo-ack counter's role as the predictive engine's confirmation signal.
func (e *Engine) ServerAck(echoAckNum uint64) { e.SetLocalFrameLateAcked(echoAckNum) }

// HasPredictions reports whether any overlay cell or cursor is active.
func (e *Engine) HasPredictions() bool { return e.active() }

func (e *Engine) active() bool {
	if len(e.cursors) > 0 {
		return true
	}
	for _, row := range e.overlays {
		for _, cell := range row.overlayCells {
			if cell.active {
				return true
			}
		}
	}
	return false
}

func (e *Engine) shouldDisplayPredictions() bool {
	switch e.mode {
	case ModeNever:
		return false
	case ModeAlways:
		return true
	default:
		return e.srttTrigger || e.glitchTrigger > 0
	}
}

func (e *Engine) becomeTentative() { e.predictionEpoch++ }

func (e *Engine) getOrMakeRow(rowNum, numCols int) *predictedRow {
	for i := range e.overlays {
		if e.overlays[i].rowNum == rowNum {
			return &e.overlays[i]
		}
	}
	row := predictedRow{rowNum: rowNum, overlayCells: make([]predictedCell, numCols)}
	for c := 0; c < numCols; c++ {
		row.overlayCells[c] = newPredictedCell(c)
	}
	e.overlays = append(e.overlays, row)
	return &e.overlays[len(e.overlays)-1]
}

func (e *Engine) initCursor(fb *term.Framebuffer) {
	if fb.Width == 0 || fb.Height == 0 {
		return
	}
	if len(e.cursors) == 0 {
		e.cursors = append(e.cursors, predictedCursor{
			expirationFrame:     e.localFrameSent + 1,
			row:                 clampIdx(fb.CursorRow, fb.Height),
			col:                 clampIdx(fb.CursorCol, fb.Width),
			active:              true,
			tentativeUntilEpoch: e.predictionEpoch,
		})
		return
	}
	last := e.cursors[len(e.cursors)-1]
	if last.tentativeUntilEpoch != e.predictionEpoch {
		e.cursors = append(e.cursors, predictedCursor{
			expirationFrame:     e.localFrameSent + 1,
			row:                 last.row,
			col:                 last.col,
			active:              true,
			tentativeUntilEpoch: e.predictionEpoch,
		})
	}
}

func clampIdx(v, limit int) int {
	if limit <= 0 {
		return 0
	}
	if v >= limit {
		return limit - 1
	}
	if v < 0 {
		return 0
	}
	return v
}

func (e *Engine) cursor() *predictedCursor     { return &e.cursors[len(e.cursors)-1] }

func (e *Engine) killEpoch(epoch uint64, fb *term.Framebuffer) {
	threshold := uint64(0)
	if epoch > 0 {
		threshold = epoch - 1
	}
	kept := e.cursors[:0]
	for _, c := range e.cursors {
		if !c.tentative(threshold) {
			kept = append(kept, c)
		}
	}
	e.cursors = kept

	if fb.Width > 0 && fb.Height > 0 {
		e.cursors = append(e.cursors, predictedCursor{
			expirationFrame:     e.localFrameSent + 1,
			row:                 clampIdx(fb.CursorRow, fb.Height),
			col:                 clampIdx(fb.CursorCol, fb.Width),
			active:              true,
			tentativeUntilEpoch: e.predictionEpoch,
		})
	}

	for r := range e.overlays {
		for c := range e.overlays[r].overlayCells {
			cell := &e.overlays[r].overlayCells[c]
			if cell.tentative(threshold) {
				cell.reset()
			}
		}
	}

	e.becomeTentative()
}

// NewUserInputBatch feeds one chunk of raw keyboard input. Batches larger
// than 100 bytes (pastes) clear predictions outright rather than attempt to
// predict them.
func (e *Engine) NewUserInputBatch(data []byte, baseFB *term.Framebuffer, now time.Time) {
	if len(data) > 100 {
		e.Reset()
		return
	}
	for _, b := range data {
		e.newUserByte(b, baseFB, now)
	}
}

func (e *Engine) newUserByte(theByte byte, fb *term.Framebuffer, now time.Time) {
	if e.mode == ModeNever {
		return
	}
	e.cull(fb, now)

	if e.escState == 1 && theByte == 'O' {
		theByte = '['
	}

	switch e.escState {
	case 0:
		switch {
		case theByte == 0x1B:
			e.escState = 1
		case theByte == 0x7F:
			e.predictBackspace(fb, now)
		case theByte == 0x0D:
			e.becomeTentative()
			e.newlineCarriageReturn(fb, now)
		case theByte >= 0x20 && theByte <= 0x7E:
			e.predictPrintable(rune(theByte), fb, now)
		default:
			e.becomeTentative()
		}
	case 1:
		if theByte == '[' {
			e.escState = 2
		} else {
			e.becomeTentative()
			e.escState = 0
		}
	default:
		if theByte >= 0x40 && theByte <= 0x7E {
			switch theByte {
			case 'C':
				e.predictMoveRight(fb)
			case 'D':
				e.predictMoveLeft(fb)
			default:
				e.becomeTentative()
			}
			e.escState = 0
		}
	}
}

func (e *Engine) newlineCarriageReturn(fb *term.Framebuffer, now time.Time) {
	if fb.Width == 0 || fb.Height == 0 {
		return
	}
	e.initCursor(fb)
	expiration := e.localFrameSent + 1
	cur := e.cursor()
	cur.col = 0
	cur.expire(expiration)

	if cur.row == fb.Height-1 {
		rowNum := cur.row
		tentative := e.predictionEpoch
		row := e.getOrMakeRow(rowNum, fb.Width)
		for i := range row.overlayCells {
			cell := &row.overlayCells[i]
			cell.active = true
			cell.tentativeUntilEpoch = tentative
			cell.expire(expiration, now)
			cell.unknown = false
			cell.replacement = term.Cell{Char: ' ', Fg: term.DefaultColor, Bg: term.DefaultColor, Dirty: true}
		}
	} else {
		cur.row++
	}
}

func (e *Engine) predictMoveRight(fb *term.Framebuffer) {
	if fb.Width == 0 || fb.Height == 0 {
		return
	}
	e.initCursor(fb)
	cur := e.cursor()
	if cur.col < fb.Width-1 {
		cur.col++
		cur.expire(e.localFrameSent + 1)
	}
}

func (e *Engine) predictMoveLeft(fb *term.Framebuffer) {
	if fb.Width == 0 || fb.Height == 0 {
		return
	}
	e.initCursor(fb)
	cur := e.cursor()
	if cur.col > 0 {
		cur.col--
		cur.expire(e.localFrameSent + 1)
	}
}

func (e *Engine) predictBackspace(fb *term.Framebuffer, now time.Time) {
	if fb.Width == 0 || fb.Height == 0 {
		return
	}
	e.initCursor(fb)
	cur := e.cursor()
	if cur.col == 0 || cur.row >= fb.Height {
		return
	}
	expiration := e.localFrameSent + 1
	cur.col--
	cur.expire(expiration)

	rowNum, col := cur.row, cur.col
	tentative := e.predictionEpoch
	row := e.getOrMakeRow(rowNum, fb.Width)

	if e.predictOverwrite {
		cell := &row.overlayCells[col]
		cell.resetWithOrig()
		cell.active = true
		cell.tentativeUntilEpoch = tentative
		cell.expire(expiration, now)
		orig := fb.Cell(rowNum, col)
		cell.originalContents = append(cell.originalContents, orig)
		cell.unknown = false
		cell.replacement = orig
		cell.replacement.Char = ' '
		cell.replacement.Dirty = true
		return
	}

	for i := col; i < fb.Width; i++ {
		var unknown bool
		var replacement term.Cell
		haveReplacement := false
		if i+2 < fb.Width {
			next := &row.overlayCells[i+1]
			if next.active {
				if next.unknown {
					unknown = true
				} else {
					replacement = next.replacement
					haveReplacement = true
				}
			} else {
				replacement = fb.Cell(rowNum, i+1)
				haveReplacement = true
			}
		} else {
			unknown = true
		}

		cell := &row.overlayCells[i]
		cell.resetWithOrig()
		cell.active = true
		cell.tentativeUntilEpoch = tentative
		cell.expire(expiration, now)
		cell.originalContents = append(cell.originalContents, fb.Cell(rowNum, i))
		cell.unknown = unknown
		if haveReplacement {
			cell.replacement = replacement
		}
	}
}

func (e *Engine) predictPrintable(ch rune, fb *term.Framebuffer, now time.Time) {
	if fb.Width == 0 || fb.Height == 0 {
		return
	}
	e.initCursor(fb)
	rowNum, col := e.cursor().row, e.cursor().col
	if rowNum >= fb.Height || col >= fb.Width {
		return
	}

	expiration := e.localFrameSent + 1
	tentative := e.predictionEpoch

	if col+1 >= fb.Width {
		e.becomeTentative()
	}

	rightmost := fb.Width - 1
	if e.predictOverwrite {
		rightmost = col
	}

	row := e.getOrMakeRow(rowNum, fb.Width)

	for i := rightmost; i > col; i-- {
		var unknown bool
		var replacement term.Cell
		haveReplacement := false
		if i == fb.Width-1 {
			unknown = true
		} else {
			prev := &row.overlayCells[i-1]
			if prev.active {
				if prev.unknown {
					unknown = true
				} else {
					replacement = prev.replacement
					haveReplacement = true
				}
			} else {
				replacement = fb.Cell(rowNum, i-1)
				haveReplacement = true
			}
		}

		cell := &row.overlayCells[i]
		cell.resetWithOrig()
		cell.active = true
		cell.tentativeUntilEpoch = tentative
		cell.expire(expiration, now)
		cell.originalContents = append(cell.originalContents, fb.Cell(rowNum, i))
		cell.unknown = unknown
		if haveReplacement {
			cell.replacement = replacement
		}
	}

	replacement := fb.Cell(rowNum, col)
	if col > 0 {
		prev := &row.overlayCells[col-1]
		if prev.active && !prev.unknown {
			replacement.Fg = prev.replacement.Fg
			replacement.Bg = prev.replacement.Bg
			replacement.Attrs = prev.replacement.Attrs
		} else {
			prevActual := fb.Cell(rowNum, col-1)
			replacement.Fg = prevActual.Fg
			replacement.Bg = prevActual.Bg
			replacement.Attrs = prevActual.Attrs
		}
	}
	replacement.Char = ch
	replacement.Dirty = true

	cell := &row.overlayCells[col]
	cell.resetWithOrig()
	cell.active = true
	cell.tentativeUntilEpoch = tentative
	cell.expire(expiration, now)
	cell.replacement = replacement
	cell.unknown = false
	cell.originalContents = append(cell.originalContents, fb.Cell(rowNum, col))

	cur := e.cursor()
	cur.expire(expiration)
	if cur.col < fb.Width-1 {
		cur.col++
		return
	}

	e.becomeTentative()
	e.newlineCarriageReturn(fb, now)
}

func cellValidity(lateAck uint64, fb *term.Framebuffer, row int, cell *predictedCell) validity {
	if !cell.active {
		return validityInactive
	}
	if row >= fb.Height || cell.col >= fb.Width {
		return validityIncorrectOrExpired
	}
	if lateAck < cell.expirationFrame {
		return validityPending
	}
	if cell.unknown {
		return validityCorrectNoCredit
	}
	current := fb.Cell(row, cell.col)
	if cellIsBlank(cell.replacement) {
		return validityCorrectNoCredit
	}
	if cellContentsMatch(current, cell.replacement) {
		for _, orig := range cell.originalContents {
			if cellContentsMatch(orig, cell.replacement) {
				return validityCorrectNoCredit
			}
		}
		return validityCorrect
	}
	return validityIncorrectOrExpired
}

func cursorValidity(lateAck uint64, fb *term.Framebuffer, c *predictedCursor) validity {
	if !c.active {
		return validityInactive
	}
	if c.row >= fb.Height || c.col >= fb.Width {
		return validityIncorrectOrExpired
	}
	if lateAck >= c.expirationFrame {
		if fb.CursorRow == c.row && fb.CursorCol == c.col {
			return validityCorrect
		}
		return validityIncorrectOrExpired
	}
	return validityPending
}

// Cull classifies every overlay cell and predicted cursor against the
// authoritative server framebuffer, discarding confirmed and expired
// predictions and updating the srtt/flagging/glitch hysteresis.
func (e *Engine) Cull(serverFB *term.Framebuffer, now time.Time) {
	if e.mode == ModeNever {
		return
	}
	if e.lastHeight != serverFB.Height || e.lastWidth != serverFB.Width {
		e.lastHeight = serverFB.Height
		e.lastWidth = serverFB.Width
		e.Reset()
		return
	}

	if e.sendIntervalMS > srttTriggerHighMS {
		e.srttTrigger = true
	} else if e.srttTrigger && e.sendIntervalMS <= srttTriggerLowMS && !e.active() {
		e.srttTrigger = false
	}

	if e.sendIntervalMS > flagTriggerHighMS {
		e.flagging = true
	} else if e.sendIntervalMS <= flagTriggerLowMS {
		e.flagging = false
	}

	if e.glitchTrigger > glitchRepairCount {
		e.flagging = true
	}

	for {
		kept := e.overlays[:0]
		for _, row := range e.overlays {
			if row.rowNum < serverFB.Height {
				kept = append(kept, row)
			}
		}
		e.overlays = kept

		var killEpoch uint64
		haveKillEpoch := false
		fullReset := false

	scan:
		for r := range e.overlays {
			row := &e.overlays[r]
			for idx := range row.overlayCells {
				cell := &row.overlayCells[idx]
				v := cellValidity(e.localFrameLateAcked, serverFB, row.rowNum, cell)
				switch v {
				case validityIncorrectOrExpired:
					if cell.tentative(e.confirmedEpoch) {
						killEpoch = cell.tentativeUntilEpoch
						haveKillEpoch = true
					} else {
						fullReset = true
					}
					break scan
				case validityCorrect:
					if cell.tentativeUntilEpoch > e.confirmedEpoch {
						e.confirmedEpoch = cell.tentativeUntilEpoch
					}
					if now.Sub(cell.predictionTime) < glitchThreshold {
						enough := !e.haveLastQuick || now.Sub(e.lastQuickConfirmation) >= glitchRepairMinInterval
						if e.glitchTrigger > 0 && enough {
							e.glitchTrigger--
							e.lastQuickConfirmation = now
							e.haveLastQuick = true
						}
					}
					actual := serverFB.Cell(row.rowNum, cell.col)
					for k := idx; k < len(row.overlayCells); k++ {
						row.overlayCells[k].replacement.Fg = actual.Fg
						row.overlayCells[k].replacement.Bg = actual.Bg
						row.overlayCells[k].replacement.Attrs = actual.Attrs
					}
					row.overlayCells[idx].reset()
				case validityCorrectNoCredit:
					row.overlayCells[idx].reset()
				case validityPending:
					age := now.Sub(cell.predictionTime)
					if age >= glitchFlagThreshold {
						e.glitchTrigger = glitchRepairCount * 2
					} else if age >= glitchThreshold && e.glitchTrigger < glitchRepairCount {
						e.glitchTrigger = glitchRepairCount
					}
				case validityInactive:
				}
			}
		}

		if fullReset {
			e.Reset()
			return
		}
		if haveKillEpoch {
			e.killEpoch(killEpoch, serverFB)
			continue
		}
		break
	}

	if len(e.cursors) > 0 {
		last := &e.cursors[len(e.cursors)-1]
		if cursorValidity(e.localFrameLateAcked, serverFB, last) == validityIncorrectOrExpired {
			e.Reset()
			return
		}
	}

	kept := e.cursors[:0]
	for i := range e.cursors {
		if cursorValidity(e.localFrameLateAcked, serverFB, &e.cursors[i]) == validityPending {
			kept = append(kept, e.cursors[i])
		}
	}
	e.cursors = kept
}

// ApplyOverlays paints active, non-tentative predictions onto fb (normally a
// clone of the authoritative remote framebuffer made just for rendering),
// returning the predicted cursor position if one should be shown.
func (e *Engine) ApplyOverlays(fb *term.Framebuffer) (row, col int, ok bool) {
	if !e.shouldDisplayPredictions() {
		return 0, 0, false
	}

	for i := range e.cursors {
		c := &e.cursors[i]
		if !c.active || c.tentative(e.confirmedEpoch) {
			continue
		}
		if c.row < fb.Height && c.col < fb.Width {
			row, col, ok = c.row, c.col, true
		}
	}

	for r := range e.overlays {
		orow := &e.overlays[r]
		if orow.rowNum >= fb.Height {
			continue
		}
		for ci := range orow.overlayCells {
			cell := &orow.overlayCells[ci]
			if !cell.active || cell.tentative(e.confirmedEpoch) {
				continue
			}
			if cell.col >= fb.Width {
				continue
			}

			if cell.unknown {
				if e.flagging && cell.col != fb.Width-1 {
					c := fb.Cell(orow.rowNum, cell.col)
					c.Attrs.Underline = true
					c.Dirty = true
					fb.Row(orow.rowNum)[cell.col] = c
				}
				continue
			}

			underline := e.flagging
			current := fb.Cell(orow.rowNum, cell.col)
			if cellIsBlank(cell.replacement) && cellIsBlank(current) {
				underline = false
			}
			if current != cell.replacement {
				next := cell.replacement
				if underline {
					next.Attrs.Underline = true
				}
				next.Dirty = true
				fb.Row(orow.rowNum)[cell.col] = next
			}
		}
	}

	return row, col, ok
}

func cellIsBlank(c term.Cell) bool { return c.Char == ' ' }

func cellContentsMatch(a, b term.Cell) bool {
	return (cellIsBlank(a) && cellIsBlank(b)) || a.Char == b.Char
}
