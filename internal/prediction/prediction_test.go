package prediction

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rmosh/internal/term"
)

func blankFB() *term.Framebuffer {
	return term.NewFramebuffer(80, 24)
}

func TestClearsPredictionsOnLateAckFrame(t *testing.T) {
	now := time.Unix(0, 0)
	p := New(ModeAlways, 80, 24, true)
	p.SetLocalFrameSent(0)
	fb := blankFB()
	p.NewUserInputBatch([]byte("abc"), fb, now)
	require.True(t, p.HasPredictions())

	p.SetLocalFrameLateAcked(1)
	p.Cull(fb, now)
	assert.False(t, p.HasPredictions())
}

func TestKeepsPredictionsWhenLateAckNotReached(t *testing.T) {
	now := time.Unix(0, 0)
	p := New(ModeAlways, 80, 24, true)
	p.SetLocalFrameSent(5)
	fb := blankFB()
	p.NewUserInputBatch([]byte("a"), fb, now)
	require.True(t, p.HasPredictions())

	p.SetLocalFrameLateAcked(5)
	p.Cull(fb, now)
	assert.True(t, p.HasPredictions())
}

func TestAdaptiveModeUsesSRTTHysteresis(t *testing.T) {
	now := time.Unix(0, 0)
	p := New(ModeAdaptive, 80, 24, true)
	p.SetSendInterval(31)
	p.SetLocalFrameSent(0)
	fb := blankFB()
	p.NewUserInputBatch([]byte("a"), fb, now)
	require.True(t, p.HasPredictions())

	p.SetLocalFrameLateAcked(1)
	p.Cull(fb, now)
	p.SetSendInterval(20)
	p.Cull(fb, now)
	assert.False(t, p.shouldDisplayPredictions())
}

func TestDoesNotCullOnEarlyTransportAckOnly(t *testing.T) {
	now := time.Unix(0, 0)
	p := New(ModeAlways, 80, 24, true)
	fb := blankFB()
	p.SetLocalFrameSent(10)
	p.NewUserInputBatch([]byte("d"), fb, now)
	require.True(t, p.HasPredictions())

	p.SetLocalFrameAcked(11)
	p.Cull(fb, now)
	assert.True(t, p.HasPredictions())
}

// TestPredictsBackspaceByErasingPreviousCell reproduces spec.md's literal
// backspace-prediction scenario: a row "abc" with cursor at column 3, fed a
// single 0x7F byte, predicts the cursor moving to column 2 with a blanked
// cell there.
func TestPredictsBackspaceByErasingPreviousCell(t *testing.T) {
	t0 := time.Unix(0, 0)
	p := New(ModeAlways, 80, 24, true)
	primeFB := blankFB()
	p.SetLocalFrameSent(0)
	p.NewUserInputBatch([]byte("x"), primeFB, t0)

	confirmedFB := blankFB()
	confirmedFB.Row(0)[0] = term.Cell{Char: 'x', Fg: term.DefaultColor, Bg: term.DefaultColor}
	confirmedFB.CursorCol = 1
	p.SetLocalFrameLateAcked(1)
	p.Cull(confirmedFB, t0.Add(time.Second))

	fb := blankFB()
	fb.Row(0)[0] = term.Cell{Char: 'a', Fg: term.DefaultColor, Bg: term.DefaultColor}
	fb.Row(0)[1] = term.Cell{Char: 'b', Fg: term.DefaultColor, Bg: term.DefaultColor}
	fb.Row(0)[2] = term.Cell{Char: 'c', Fg: term.DefaultColor, Bg: term.DefaultColor}
	fb.CursorRow = 0
	fb.CursorCol = 3

	p.SetLocalFrameSent(1)
	p.NewUserInputBatch([]byte{0x7F}, fb, t0.Add(2*time.Second))

	overlay := fb.Clone()
	row, col, ok := p.ApplyOverlays(overlay)
	require.True(t, ok)
	assert.Equal(t, 0, row)
	assert.Equal(t, 2, col)
	assert.Equal(t, ' ', overlay.Cell(0, 2).Char)
}
