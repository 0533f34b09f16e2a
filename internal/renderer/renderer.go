// Package renderer owns the local terminal's raw-mode lifecycle and turns a
// term.Framebuffer into the minimal escape sequence needed to update the
// physical display, grounded on original_source/src/renderer.rs's
// Renderer/NotificationBar (differential rendering, cursor restore, a
// bottom-row status bar) translated from crossterm calls to raw ANSI/VT
// escapes, since no terminal-styling crate appears in the example corpus.
package renderer

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"golang.org/x/term"

	vt "rmosh/internal/term"
)

// Renderer tracks the previously-drawn frame so Render only emits the bytes
// needed to reconcile the physical terminal with a new framebuffer.
type Renderer struct {
	out io.Writer

	width, height int
	prev          *vt.Framebuffer
	forceRedraw   bool

	bar NotificationBar
}

// New creates a Renderer for the given terminal dimensions, writing to out
// (typically os.Stdout).
func New(out io.Writer, width, height int) *Renderer {
	return &Renderer{
		out:         out,
		width:       width,
		height:      height,
		prev:        vt.NewFramebuffer(width, height),
		forceRedraw: true,
	}
}

// Resize adopts a new terminal size, forcing the next Render to be a full
// redraw (matches original_source/src/renderer.rs's resize()).
func (r *Renderer) Resize(width, height int) {
	r.width, r.height = width, height
	r.prev = vt.NewFramebuffer(width, height)
	r.forceRedraw = true
}

// ForceRedraw requests a full redraw on the next Render call.
func (r *Renderer) ForceRedraw() { r.forceRedraw = true }

// SetMessage shows (or, with an empty string, hides) the bottom-row
// notification bar on the next Render.
func (r *Renderer) SetMessage(msg string) {
	r.bar.Set(msg)
	r.forceRedraw = true
}

// Render writes the byte sequence needed to bring the physical terminal in
// line with fb, restoring cursor position and visibility afterward.
func (r *Renderer) Render(fb *vt.Framebuffer) error {
	var buf bytes.Buffer
	buf.WriteString("\x1b[?25l")

	full := r.forceRedraw || fb.Width != r.width || fb.Height != r.height
	r.width, r.height = fb.Width, fb.Height

	var lastRow, lastCol = -1, -1
	var lastAttrs vt.Attributes
	lastFg, lastBg := vt.DefaultColor, vt.DefaultColor

	emit := func(row, col int, c vt.Cell) {
		if row != lastRow || col != lastCol {
			fmt.Fprintf(&buf, "\x1b[%d;%dH", row+1, col+1)
		}
		if c.Attrs != lastAttrs || c.Fg != lastFg || c.Bg != lastBg {
			buf.WriteString(sgr(c))
			lastAttrs, lastFg, lastBg = c.Attrs, c.Fg, c.Bg
		}
		if c.Char == 0 {
			buf.WriteByte(' ')
		} else {
			buf.WriteRune(c.Char)
		}
		lastRow, lastCol = row, col+1
	}

	if full {
		buf.WriteString("\x1b[2J")
		for row := 0; row < fb.Height; row++ {
			for col := 0; col < fb.Width; col++ {
				emit(row, col, fb.Cell(row, col))
			}
		}
	} else {
		for row := 0; row < fb.Height && row < r.prev.Height; row++ {
			for col := 0; col < fb.Width && col < r.prev.Width; col++ {
				c := fb.Cell(row, col)
				if c != r.prev.Cell(row, col) {
					emit(row, col, c)
				}
			}
		}
	}
	buf.WriteString("\x1b[0m")

	r.bar.render(&buf, fb.Width, fb.Height)

	row := fb.CursorRow
	if row >= fb.Height {
		row = fb.Height - 1
	}
	col := fb.CursorCol
	if col >= fb.Width {
		col = fb.Width - 1
	}
	fmt.Fprintf(&buf, "\x1b[%d;%dH", row+1, col+1)
	if fb.CursorVisible {
		buf.WriteString("\x1b[?25h")
	}

	r.prev = fb.Clone()
	r.forceRedraw = false

	_, err := r.out.Write(buf.Bytes())
	return err
}

func sgr(c vt.Cell) string {
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

// Init puts fd (typically os.Stdin's descriptor) into raw mode and returns
// the saved state for Cleanup, matching
// original_source/src/renderer.rs's Renderer::init.
func Init(fd int) (*term.State, error) {
	return term.MakeRaw(fd)
}

// Cleanup restores fd's terminal state saved by Init.
func Cleanup(fd int, state *term.State) error {
	return term.Restore(fd, state)
}

// WindowSize reports fd's current terminal dimensions.
func WindowSize(fd int) (width, height int, err error) {
	return term.GetSize(fd)
}
