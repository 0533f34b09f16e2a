package predictive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rmosh/internal/cryptosess"
	"rmosh/internal/prediction"
	"rmosh/internal/transport"
)

func testTransport(t *testing.T) *transport.Transport {
	t.Helper()
	key, err := cryptosess.ParseKey("AAAAAAAAAAAAAAAAAAAAAA")
	require.NoError(t, err)
	tr, err := transport.New(key, 10, 3, time.Unix(0, 0), func([]byte) error { return nil })
	require.NoError(t, err)
	return tr
}

func TestInterposerFirstReadIsFullRedraw(t *testing.T) {
	tr := testTransport(t)
	i := Interpose(tr, prediction.ModeAlways, true, 10, 3, nil)

	buf := make([]byte, 4096)
	n, err := i.Read(buf)
	require.NoError(t, err)
	assert.Greater(t, n, 0)
	assert.Contains(t, string(buf[:n]), "\x1b[2J")
}

func TestInterposerWritePushesKeystrokesToTransport(t *testing.T) {
	tr := testTransport(t)
	i := Interpose(tr, prediction.ModeAlways, true, 10, 3, nil)

	n, err := i.Write([]byte("ab"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, tr.Tick(time.Unix(0, 0)))
	assert.True(t, i.predictor.HasPredictions())

	// once the send mindelay has passed, the pushed keystrokes go out as
	// sent state 1
	require.NoError(t, tr.Tick(time.Unix(1, 0)))
	assert.EqualValues(t, 1, tr.SentStateNum())
}

func TestInterposerResizeForcesRedraw(t *testing.T) {
	tr := testTransport(t)
	i := Interpose(tr, prediction.ModeAlways, true, 10, 3, nil)

	buf := make([]byte, 4096)
	_, err := i.Read(buf)
	require.NoError(t, err)

	i.Resize(20, 6)
	n, err := i.Read(buf)
	require.NoError(t, err)
	assert.Greater(t, n, 0)
	assert.Contains(t, string(buf[:n]), "\x1b[2J")
}

func TestInterposerCurrentContentsIsNonEmpty(t *testing.T) {
	tr := testTransport(t)
	i := Interpose(tr, prediction.ModeAlways, true, 10, 3, nil)
	assert.NotEmpty(t, i.CurrentContents())
}
