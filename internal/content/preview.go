package content

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DefaultPreviewLength is the rune budget of an inbox preview.
const DefaultPreviewLength = 120

// Preview extracts plain text from an HTML message body, collapses
// whitespace and truncates to maxRunes (with an ellipsis).
func Preview(body string, maxRunes int) string {
	if body == "" {
		return ""
	}

	text := body
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(body)); err == nil {
		doc.Find("script, style").Remove()
		// Keep words in adjacent blocks apart
		doc.Find("p, div, br, li").Each(func(_ int, s *goquery.Selection) {
			s.PrependHtml(" ")
		})
		text = doc.Text()
	}

	text = strings.Join(strings.Fields(text), " ")
	if maxRunes <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return text
	}
	return strings.TrimSpace(string(runes[:maxRunes-1])) + "…"
}
