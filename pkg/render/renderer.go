// Package render turns raw message content into display-safe HTML, with
// incremental highlighting of newly streamed text.
package render

import (
	"html"
	"regexp"
	"strings"
)

var urlPattern = regexp.MustCompile(`https?://[^\s]+`)

// Cursor tracks, per message id, how many characters of content have
// already been rendered. Counts never regress within one message lifetime;
// a regression would re-highlight old text as new.
type Cursor map[string]int

// Len returns the rendered length recorded for a message, persisting a
// zero entry when the id is unknown.
func (c Cursor) Len(messageID string) int {
	n, ok := c[messageID]
	if !ok {
		c[messageID] = 0
	}
	return n
}

// Set records the rendered length for a message
func (c Cursor) Set(messageID string, n int) {
	c[messageID] = n
}

// Reset removes a message's entry, used when its streaming lifetime ends
func (c Cursor) Reset(messageID string) {
	delete(c, messageID)
}

// Renderer formats message content for display
type Renderer struct {
	cursor Cursor
}

// NewRenderer creates a renderer with an empty stream cursor
func NewRenderer() *Renderer {
	return &Renderer{cursor: make(Cursor)}
}

// Cursor exposes the renderer's stream cursor
func (r *Renderer) Cursor() Cursor {
	return r.cursor
}

// ResetCursor forgets the streaming position of a message
func (r *Renderer) ResetCursor(messageID string) {
	r.cursor.Reset(messageID)
}

// Render formats content as HTML. For streaming messages the portion that
// arrived since the previous call is wrapped in a highlight span so the
// caller can animate only the newest text. Duplicate or non-growing updates
// render unmarked and leave the cursor untouched.
func (r *Renderer) Render(content string, isStreaming bool, messageID string) string {
	if content == "" {
		return ""
	}

	if !isStreaming {
		return formatText(content)
	}

	prevLen := r.cursor.Len(messageID)
	curLen := len([]rune(content))

	if curLen <= prevLen {
		return formatText(content)
	}

	runes := []rune(content)
	existing := formatText(string(runes[:prevLen]))
	fresh := formatText(string(runes[prevLen:]))

	r.cursor.Set(messageID, curLen)

	return existing + `<span class="newest-chunk">` + fresh + `</span>`
}

// formatText escapes content and then applies markup-generating
// substitutions. Escaping must run first so injected content can never
// reintroduce markup.
func formatText(content string) string {
	escaped := html.EscapeString(content)
	linked := urlPattern.ReplaceAllString(escaped,
		`<a href="$0" target="_blank" class="text-primary">$0</a>`)
	return strings.ReplaceAll(linked, "\n", "<br>")
}
