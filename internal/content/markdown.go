// Package content converts message bodies between what operators type
// (Markdown), what the platform accepts (HTML), and what the inbox list
// shows (short plain-text previews).
package content

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// Renderer handles Markdown rendering.
type Renderer struct {
	md goldmark.Markdown
}

// NewRenderer creates a Markdown renderer for outbound messages. Raw HTML
// in the source is dropped.
func NewRenderer() *Renderer {
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.Strikethrough,
			extension.Linkify,
		),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
		),
	)
	return &Renderer{md: md}
}

// Render converts Markdown to HTML.
func (r *Renderer) Render(source string) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(source), &buf); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}
