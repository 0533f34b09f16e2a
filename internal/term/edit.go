package term

// PutChar writes r at the current cursor position using the current
// attributes, advancing the cursor (wrapping at the right margin if
// AutoWrap is set) and scrolling the scroll region if needed.
func (fb *Framebuffer) PutChar(r rune) {
	if fb.CursorCol >= fb.Width {
		if fb.AutoWrap {
			fb.CursorCol = 0
			fb.newlineInRegion()
		} else {
			fb.CursorCol = fb.Width - 1
		}
	}
	fb.setCell(fb.CursorRow, fb.CursorCol, Cell{
		Char: r, Fg: fb.CurrentFg, Bg: fb.CurrentBg, Attrs: fb.CurrentAttrs,
	})
	fb.CursorCol++
}

// MoveRow moves the cursor to an absolute row, clamped to the framebuffer
// (or the scroll region in origin mode).
func (fb *Framebuffer) MoveRow(row int) {
	top, bottom := 0, fb.Height-1
	if fb.OriginMode {
		top, bottom = fb.ScrollTop, fb.ScrollBottom
		row += fb.ScrollTop
	}
	if row < top {
		row = top
	}
	if row > bottom {
		row = bottom
	}
	fb.CursorRow = row
}

// MoveCol moves the cursor to an absolute column, clamped to the width.
func (fb *Framebuffer) MoveCol(col int) {
	if col < 0 {
		col = 0
	}
	if col >= fb.Width {
		col = fb.Width - 1
	}
	fb.CursorCol = col
}

// SnapCursorToBorder clamps the cursor into the framebuffer's bounds.
func (fb *Framebuffer) SnapCursorToBorder() {
	if fb.CursorRow < 0 {
		fb.CursorRow = 0
	}
	if fb.CursorRow >= fb.Height {
		fb.CursorRow = fb.Height - 1
	}
	if fb.CursorCol < 0 {
		fb.CursorCol = 0
	}
	if fb.CursorCol >= fb.Width {
		fb.CursorCol = fb.Width - 1
	}
}

// LimitTop returns the topmost row the cursor may autoscroll into.
func (fb *Framebuffer) LimitTop() int {
	if fb.OriginMode {
		return fb.ScrollTop
	}
	return 0
}

// LimitBottom returns the bottommost row the cursor may autoscroll into.
func (fb *Framebuffer) LimitBottom() int {
	if fb.OriginMode {
		return fb.ScrollBottom
	}
	return fb.Height - 1
}

// ScrollUp shifts the scroll region up by n rows, filling the bottom with
// blanks.
func (fb *Framebuffer) ScrollUp(n int) {
	top, bottom := fb.ScrollTop, fb.ScrollBottom
	if n <= 0 || top > bottom {
		return
	}
	for i := 0; i < n; i++ {
		copy(fb.cells[top:bottom], fb.cells[top+1:bottom+1])
		fb.cells[bottom] = blankRow(fb.Width)
	}
}

// ScrollDown shifts the scroll region down by n rows, filling the top with
// blanks.
func (fb *Framebuffer) ScrollDown(n int) {
	top, bottom := fb.ScrollTop, fb.ScrollBottom
	if n <= 0 || top > bottom {
		return
	}
	for i := 0; i < n; i++ {
		copy(fb.cells[top+1:bottom+1], fb.cells[top:bottom])
		fb.cells[top] = blankRow(fb.Width)
	}
}

func blankRow(w int) []Cell {
	row := make([]Cell, w)
	for i := range row {
		row[i] = blankCell()
	}
	return row
}

// newlineInRegion advances the cursor row by one, scrolling the scroll
// region when the cursor is already on its bottom line.
func (fb *Framebuffer) newlineInRegion() {
	if fb.CursorRow == fb.ScrollBottom {
		fb.ScrollUp(1)
	} else if fb.CursorRow < fb.Height-1 {
		fb.CursorRow++
	}
}

// MoveRowsAutoscroll moves the cursor by delta rows, scrolling the region
// when it would leave the scroll bounds.
func (fb *Framebuffer) MoveRowsAutoscroll(delta int) {
	for delta > 0 {
		if fb.CursorRow == fb.ScrollBottom {
			fb.ScrollUp(1)
		} else {
			fb.CursorRow++
		}
		delta--
	}
	for delta < 0 {
		if fb.CursorRow == fb.ScrollTop {
			fb.ScrollDown(1)
		} else {
			fb.CursorRow--
		}
		delta++
	}
}

// MoveRowsAutoscrollClamped moves the cursor by delta rows without
// scrolling, clamping at the framebuffer edges. Used by cursor-up/down CSI
// sequences, as distinct from index/reverse-index which scroll.
func (fb *Framebuffer) MoveRowsAutoscrollClamped(delta int) {
	row := fb.CursorRow + delta
	if row < 0 {
		row = 0
	}
	if row >= fb.Height {
		row = fb.Height - 1
	}
	fb.CursorRow = row
}

// NextTabStop returns the column of the next tab stop at or after col.
func (fb *Framebuffer) NextTabStop(col int) int {
	for c := col + 1; c < fb.Width; c++ {
		if fb.tabStops[c] {
			return c
		}
	}
	return fb.Width - 1
}

// EraseInLine erases part of the cursor's row. mode: 0=to end, 1=to start,
// 2=whole line.
func (fb *Framebuffer) EraseInLine(mode int) {
	row := fb.CursorRow
	switch mode {
	case 0:
		for c := fb.CursorCol; c < fb.Width; c++ {
			fb.setCell(row, c, blankCell())
		}
	case 1:
		for c := 0; c <= fb.CursorCol && c < fb.Width; c++ {
			fb.setCell(row, c, blankCell())
		}
	case 2:
		for c := 0; c < fb.Width; c++ {
			fb.setCell(row, c, blankCell())
		}
	}
}

// EraseInDisplay erases part of the screen. mode: 0=to end, 1=to start,
// 2=whole screen.
func (fb *Framebuffer) EraseInDisplay(mode int) {
	switch mode {
	case 0:
		fb.EraseInLine(0)
		for r := fb.CursorRow + 1; r < fb.Height; r++ {
			fb.cells[r] = blankRow(fb.Width)
		}
	case 1:
		fb.EraseInLine(1)
		for r := 0; r < fb.CursorRow; r++ {
			fb.cells[r] = blankRow(fb.Width)
		}
	case 2:
		for r := 0; r < fb.Height; r++ {
			fb.cells[r] = blankRow(fb.Width)
		}
	}
}

// InsertChars inserts n blank cells at the cursor, shifting the rest of the
// row right (cells pushed off the right edge are discarded).
func (fb *Framebuffer) InsertChars(n int) {
	row := fb.CursorRow
	if n <= 0 {
		return
	}
	for i := fb.Width - 1; i >= fb.CursorCol+n; i-- {
		fb.cells[row][i] = fb.cells[row][i-n]
	}
	for i := fb.CursorCol; i < fb.CursorCol+n && i < fb.Width; i++ {
		fb.cells[row][i] = blankCell()
	}
}

// DeleteChars deletes n cells at the cursor, shifting the rest of the row
// left and filling the vacated right edge with blanks.
func (fb *Framebuffer) DeleteChars(n int) {
	row := fb.CursorRow
	if n <= 0 {
		return
	}
	for i := fb.CursorCol; i < fb.Width; i++ {
		src := i + n
		if src < fb.Width {
			fb.cells[row][i] = fb.cells[row][src]
		} else {
			fb.cells[row][i] = blankCell()
		}
	}
}

// InsertLines inserts n blank lines at the cursor row within the scroll
// region.
func (fb *Framebuffer) InsertLines(n int) {
	if fb.CursorRow < fb.ScrollTop || fb.CursorRow > fb.ScrollBottom {
		return
	}
	saved := fb.ScrollTop
	fb.ScrollTop = fb.CursorRow
	fb.ScrollDown(n)
	fb.ScrollTop = saved
}

// DeleteLines deletes n lines at the cursor row within the scroll region.
func (fb *Framebuffer) DeleteLines(n int) {
	if fb.CursorRow < fb.ScrollTop || fb.CursorRow > fb.ScrollBottom {
		return
	}
	saved := fb.ScrollTop
	fb.ScrollTop = fb.CursorRow
	fb.ScrollUp(n)
	fb.ScrollTop = saved
}

// ApplySGR applies one SGR parameter to the current attribute/color state.
func (fb *Framebuffer) ApplySGR(param int) {
	switch {
	case param == 0:
		fb.CurrentAttrs = Attributes{}
		fb.CurrentFg = DefaultColor
		fb.CurrentBg = DefaultColor
	case param == 1:
		fb.CurrentAttrs.Bold = true
	case param == 3:
		fb.CurrentAttrs.Italic = true
	case param == 4:
		fb.CurrentAttrs.Underline = true
	case param == 7:
		fb.CurrentAttrs.Reverse = true
	case param == 22:
		fb.CurrentAttrs.Bold = false
	case param == 23:
		fb.CurrentAttrs.Italic = false
	case param == 24:
		fb.CurrentAttrs.Underline = false
	case param == 27:
		fb.CurrentAttrs.Reverse = false
	case param >= 30 && param <= 37:
		fb.CurrentFg = Color{Index: uint8(param - 30)}
	case param == 39:
		fb.CurrentFg = DefaultColor
	case param >= 40 && param <= 47:
		fb.CurrentBg = Color{Index: uint8(param - 40)}
	case param == 49:
		fb.CurrentBg = DefaultColor
	case param >= 90 && param <= 97:
		fb.CurrentFg = Color{Index: uint8(param - 90 + 8)}
	case param >= 100 && param <= 107:
		fb.CurrentBg = Color{Index: uint8(param - 100 + 8)}
	}
}

// SaveCursor stashes the cursor position and attributes (DECSC / ESC 7).
func (fb *Framebuffer) SaveCursor() {
	fb.savedRow, fb.savedCol = fb.CursorRow, fb.CursorCol
	fb.savedAttrs = fb.CurrentAttrs
	fb.hasSaved = true
}

// RestoreCursor restores a previously saved cursor (DECRC / ESC 8). A no-op
// if nothing was saved.
func (fb *Framebuffer) RestoreCursor() {
	if !fb.hasSaved {
		return
	}
	fb.CursorRow, fb.CursorCol = fb.savedRow, fb.savedCol
	fb.CurrentAttrs = fb.savedAttrs
}
