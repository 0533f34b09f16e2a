package renderer

import (
	"bytes"
	"fmt"
	"strings"
)

// NotificationBar is a bold white-on-blue status line pinned to the terminal's
// bottom row, grounded on original_source/src/renderer.rs's
// NotificationBar (used for e.g. "server closed the session" messages).
type NotificationBar struct {
	message string
	visible bool
}

// Set shows msg (or hides the bar, if msg is empty).
func (n *NotificationBar) Set(msg string) {
	n.message = msg
	n.visible = msg != ""
}

// Clear hides the bar.
func (n *NotificationBar) Clear() {
	n.message = ""
	n.visible = false
}

// render appends the bar's escape sequence to buf for a height-row terminal
// of the given width. A no-op if the bar is hidden or the terminal has no
// rows.
func (n *NotificationBar) render(buf *bytes.Buffer, width, height int) {
	if !n.visible || height == 0 {
		return
	}
	barRow := height - 1

	msg := n.message
	if len(msg) > width {
		msg = msg[:width]
	}
	padding := width - len(msg)

	fmt.Fprintf(buf, "\x1b[%d;1H", barRow+1)
	buf.WriteString("\x1b[44;37;1m")
	buf.WriteString(msg)
	if padding > 0 {
		buf.WriteString(strings.Repeat(" ", padding))
	}
	buf.WriteString("\x1b[0m")
}
