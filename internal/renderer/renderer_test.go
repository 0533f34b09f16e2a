package renderer

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vt "rmosh/internal/term"
)

func TestFirstRenderIsFullRedraw(t *testing.T) {
	var out bytes.Buffer
	r := New(&out, 10, 3)

	fb := vt.NewFramebuffer(10, 3)
	require.NoError(t, r.Render(fb))
	assert.Contains(t, out.String(), "\x1b[2J")
}

func TestSubsequentRenderIsDifferential(t *testing.T) {
	var out bytes.Buffer
	r := New(&out, 10, 3)

	fb := vt.NewFramebuffer(10, 3)
	require.NoError(t, r.Render(fb))
	out.Reset()

	fb2 := fb.Clone()
	fb2.Row(0)[0] = vt.Cell{Char: 'x', Fg: vt.DefaultColor, Bg: vt.DefaultColor}
	require.NoError(t, r.Render(fb2))

	assert.NotContains(t, out.String(), "\x1b[2J")
	assert.Contains(t, out.String(), "x")
}

func TestResizeForcesFullRedraw(t *testing.T) {
	var out bytes.Buffer
	r := New(&out, 10, 3)
	fb := vt.NewFramebuffer(10, 3)
	require.NoError(t, r.Render(fb))

	r.Resize(20, 6)
	out.Reset()
	require.NoError(t, r.Render(vt.NewFramebuffer(20, 6)))
	assert.Contains(t, out.String(), "\x1b[2J")
}

func TestNotificationBarRendersAtBottomRow(t *testing.T) {
	var out bytes.Buffer
	r := New(&out, 10, 3)
	r.SetMessage("hello")

	require.NoError(t, r.Render(vt.NewFramebuffer(10, 3)))
	assert.Contains(t, out.String(), "hello")
	assert.Contains(t, out.String(), "\x1b[3;1H")
}
