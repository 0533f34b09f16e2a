package term

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintableAdvancesCursor(t *testing.T) {
	term := NewTerminal(10, 5)
	term.Process([]byte("abc"))
	fb := term.Framebuffer()
	assert.Equal(t, 'a', fb.Cell(0, 0).Char)
	assert.Equal(t, 'b', fb.Cell(0, 1).Char)
	assert.Equal(t, 'c', fb.Cell(0, 2).Char)
	assert.Equal(t, 3, fb.CursorCol)
}

func TestCarriageReturnLineFeed(t *testing.T) {
	term := NewTerminal(10, 5)
	term.Process([]byte("ab\r\ncd"))
	fb := term.Framebuffer()
	assert.Equal(t, 'c', fb.Cell(1, 0).Char)
	assert.Equal(t, 'd', fb.Cell(1, 1).Char)
}

func TestCursorPositioning(t *testing.T) {
	term := NewTerminal(10, 5)
	term.Process([]byte("\x1b[3;4Hx"))
	fb := term.Framebuffer()
	assert.Equal(t, 'x', fb.Cell(2, 3).Char)
}

func TestEraseInLine(t *testing.T) {
	term := NewTerminal(5, 1)
	term.Process([]byte("abcde\x1b[1;1H\x1b[K"))
	fb := term.Framebuffer()
	for c := 0; c < 5; c++ {
		assert.Equal(t, ' ', fb.Cell(0, c).Char)
	}
}

func TestSGRBold(t *testing.T) {
	term := NewTerminal(5, 1)
	term.Process([]byte("\x1b[1mX\x1b[0mY"))
	fb := term.Framebuffer()
	assert.True(t, fb.Cell(0, 0).Attrs.Bold)
	assert.False(t, fb.Cell(0, 1).Attrs.Bold)
}

func TestCloneResetsParserNotState(t *testing.T) {
	term := NewTerminal(5, 1)
	term.Process([]byte("\x1b[")) // begin a CSI sequence, left unterminated
	clone := term.Clone()
	assert.Equal(t, stateGround, clone.state)
	assert.True(t, term.Framebuffer().Equal(clone.Framebuffer()))
}

func TestResizeIsTotal(t *testing.T) {
	term := NewTerminal(5, 2)
	term.Process([]byte("hi"))
	term.Resize(3, 1)
	fb := term.Framebuffer()
	assert.Equal(t, 3, fb.Width)
	assert.Equal(t, 1, fb.Height)
}

func TestScrollOnNewlineAtBottom(t *testing.T) {
	term := NewTerminal(5, 2)
	term.Process([]byte("ab\r\ncd\r\nef"))
	fb := term.Framebuffer()
	assert.Equal(t, 'c', fb.Cell(0, 0).Char)
	assert.Equal(t, 'e', fb.Cell(1, 0).Char)
}

func TestBackspaceAndInsertDeleteChars(t *testing.T) {
	term := NewTerminal(5, 1)
	term.Process([]byte("abc"))
	require.Equal(t, 3, term.Framebuffer().CursorCol)
	term.Process([]byte("\b"))
	assert.Equal(t, 2, term.Framebuffer().CursorCol)

	// insert one blank at column 2: "abc  " becomes "ab c "
	term.Process([]byte("\x1b[@"))
	assert.Equal(t, ' ', term.Framebuffer().Cell(0, 2).Char)
	assert.Equal(t, 'c', term.Framebuffer().Cell(0, 3).Char)

	// delete it again: back to "abc  "
	term.Process([]byte("\x1b[P"))
	assert.Equal(t, 'c', term.Framebuffer().Cell(0, 2).Char)
	assert.Equal(t, ' ', term.Framebuffer().Cell(0, 3).Char)
}
