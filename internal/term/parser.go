package term

// parserState tracks where we are inside an escape/control sequence.
type parserState int

const (
	stateGround parserState = iota
	stateEscape
	stateCSI
	stateOSC
)

// Terminal couples a Framebuffer with the VT/ANSI parser state that
// interprets a host byte stream into framebuffer mutations. Mirrors
// original_source/src/terminal.rs's Terminal wrapper around vte::Parser.
type Terminal struct {
	fb *Framebuffer

	state      parserState
	params     []int
	curParam   bool
	private    bool
	oscBuf     []byte
}

// NewTerminal allocates a Terminal with a blank w x h framebuffer.
func NewTerminal(w, h int) *Terminal {
	return &Terminal{fb: NewFramebuffer(w, h), state: stateGround}
}

// Framebuffer exposes the authoritative cell grid.
func (t *Terminal) Framebuffer() *Framebuffer { return t.fb }

// Process feeds bytes through the parser; it is idempotent on equal inputs
// (processing the same byte sequence twice from the same state produces the
// same resulting framebuffer), per spec.md §4.4's collaborator contract.
func (t *Terminal) Process(data []byte) {
	t.fb.clearDirty()
	for _, b := range data {
		t.step(b)
	}
}

// Resize is total, delegating to the framebuffer.
func (t *Terminal) Resize(w, h int) {
	t.fb.Resize(w, h)
}

// Clone produces a structurally equal snapshot. Parser state is
// intentionally reset (host diffs are complete patches reproducible from
// framebuffer state alone), matching spec.md §4.4.
func (t *Terminal) Clone() *Terminal {
	return &Terminal{fb: t.fb.Clone(), state: stateGround}
}

func (t *Terminal) step(b byte) {
	switch t.state {
	case stateGround:
		t.stepGround(b)
	case stateEscape:
		t.stepEscape(b)
	case stateCSI:
		t.stepCSI(b)
	case stateOSC:
		t.stepOSC(b)
	}
}

func (t *Terminal) stepGround(b byte) {
	switch {
	case b == 0x1B:
		t.state = stateEscape
	case b == '\r':
		t.fb.CursorCol = 0
	case b == '\n':
		t.fb.newlineInRegion()
	case b == '\b':
		if t.fb.CursorCol > 0 {
			t.fb.CursorCol--
		}
	case b == '\t':
		t.fb.CursorCol = t.fb.NextTabStop(t.fb.CursorCol)
	case b >= 0x20 && b < 0x7F:
		t.fb.PutChar(rune(b))
	case b >= 0xC0:
		// Leading byte of a multi-byte UTF-8 rune: treat as printable; full
		// UTF-8 decoding is the renderer's concern once host-bytes accumulate,
		// but the framebuffer cell model here is single-rune-per-cell, so we
		// pass the byte through verbatim as a best-effort placeholder rune.
		t.fb.PutChar(rune(b))
	default:
		// other C0 controls: no-op
	}
}

func (t *Terminal) stepEscape(b byte) {
	switch b {
	case '[':
		t.state = stateCSI
		t.params = nil
		t.curParam = false
		t.private = false
	case ']':
		t.state = stateOSC
		t.oscBuf = nil
	case '7':
		t.fb.SaveCursor()
		t.state = stateGround
	case '8':
		t.fb.RestoreCursor()
		t.state = stateGround
	case 'M':
		// reverse index: move up, scrolling down if at top margin
		t.fb.MoveRowsAutoscroll(-1)
		t.state = stateGround
	case 'D':
		// index: move down, scrolling up if at bottom margin
		t.fb.MoveRowsAutoscroll(1)
		t.state = stateGround
	case 'E':
		t.fb.CursorCol = 0
		t.fb.MoveRowsAutoscroll(1)
		t.state = stateGround
	case 'c':
		w, h := t.fb.Width, t.fb.Height
		t.fb = NewFramebuffer(w, h)
		t.state = stateGround
	default:
		t.state = stateGround
	}
}

func (t *Terminal) stepCSI(b byte) {
	switch {
	case b == '?':
		t.private = true
	case b >= '0' && b <= '9':
		if !t.curParam {
			t.params = append(t.params, 0)
			t.curParam = true
		}
		t.params[len(t.params)-1] = t.params[len(t.params)-1]*10 + int(b-'0')
	case b == ';':
		t.params = append(t.params, 0)
		t.curParam = false
	case b >= 0x40 && b <= 0x7E:
		t.dispatchCSI(b)
		t.state = stateGround
	default:
		// intermediate bytes (space, etc.): ignored
	}
}

func (t *Terminal) stepOSC(b byte) {
	if b == 0x07 || b == 0x1B {
		// BEL or ESC terminates OSC (ESC \\ == ST, approximated here)
		t.applyOSC()
		t.state = stateGround
		return
	}
	t.oscBuf = append(t.oscBuf, b)
}

func (t *Terminal) applyOSC() {
	// OSC 0/2 ; title ST sets the window title.
	if len(t.oscBuf) > 2 && (t.oscBuf[0] == '0' || t.oscBuf[0] == '2') && t.oscBuf[1] == ';' {
		t.fb.Title = string(t.oscBuf[2:])
	}
}

func (t *Terminal) param(i, def int) int {
	if i >= len(t.params) || t.params[i] == 0 {
		return def
	}
	return t.params[i]
}

func (t *Terminal) dispatchCSI(final byte) {
	fb := t.fb
	switch final {
	case 'A':
		fb.MoveRowsAutoscrollClamped(-t.param(0, 1))
	case 'B':
		fb.MoveRowsAutoscrollClamped(t.param(0, 1))
	case 'C':
		fb.MoveCol(fb.CursorCol + t.param(0, 1))
	case 'D':
		fb.MoveCol(fb.CursorCol - t.param(0, 1))
	case 'H', 'f':
		row := t.param(0, 1) - 1
		col := t.param(1, 1) - 1
		fb.MoveRow(row)
		fb.MoveCol(col)
	case 'J':
		fb.EraseInDisplay(t.param(0, 0))
	case 'K':
		fb.EraseInLine(t.param(0, 0))
	case 'm':
		if len(t.params) == 0 {
			fb.ApplySGR(0)
		}
		for _, p := range t.params {
			fb.ApplySGR(p)
		}
	case 'r':
		top := t.param(0, 1) - 1
		bottom := t.param(1, fb.Height) - 1
		if top < 0 {
			top = 0
		}
		if bottom >= fb.Height {
			bottom = fb.Height - 1
		}
		if top < bottom {
			fb.ScrollTop, fb.ScrollBottom = top, bottom
		}
		fb.MoveRow(0)
		fb.MoveCol(0)
	case '@':
		fb.InsertChars(t.param(0, 1))
	case 'P':
		fb.DeleteChars(t.param(0, 1))
	case 'L':
		fb.InsertLines(t.param(0, 1))
	case 'M':
		fb.DeleteLines(t.param(0, 1))
	case 'h':
		t.setMode(true)
	case 'l':
		t.setMode(false)
	case 'G':
		fb.MoveCol(t.param(0, 1) - 1)
	case 'd':
		fb.MoveRow(t.param(0, 1) - 1)
	}
}

func (t *Terminal) setMode(on bool) {
	if !t.private {
		return
	}
	for _, p := range t.params {
		switch p {
		case 6:
			t.fb.OriginMode = on
		case 7:
			t.fb.AutoWrap = on
		case 25:
			t.fb.CursorVisible = on
		case 1049, 47, 1047:
			t.fb.AltScreen = on
		}
	}
}
