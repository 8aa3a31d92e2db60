package parser

import (
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
)

var excessiveLinesRe = regexp.MustCompile(`\n{3,}`)

// TextCleaner turns listing HTML fragments into readable plain text for
// matching and for notification bodies.
type TextCleaner struct {
	converter *md.Converter
}

// NewTextCleaner creates a cleaner backed by an HTML to markdown converter.
func NewTextCleaner() *TextCleaner {
	return &TextCleaner{converter: md.NewConverter("", true, nil)}
}

// Clean converts an HTML fragment. When conversion fails the fragment is
// returned with tags left in place, which still matches keywords.
func (c *TextCleaner) Clean(html string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}
	out, err := c.converter.ConvertString(html)
	if err != nil {
		out = html
	}

	lines := strings.Split(out, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	out = strings.Join(lines, "\n")
	out = excessiveLinesRe.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}
