package mail

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var (
	multiSpaces   = regexp.MustCompile(`[ \t\x{00a0}]+`)
	multiNewlines = regexp.MustCompile(`\n{3,}`)
)

// skipped elements contribute no text.
var skipped = map[string]bool{
	"script":   true,
	"style":    true,
	"head":     true,
	"noscript": true,
	"svg":      true,
	"title":    true,
}

// blocks end a line of text.
var blocks = map[string]bool{
	"p": true, "div": true, "br": true, "hr": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"blockquote": true, "pre": true, "table": true, "section": true, "article": true,
}

// StripHTML converts an HTML body to readable plain text. Entities are
// decoded, block elements become line breaks and blank lines are dropped.
func StripHTML(src string) string {
	z := html.NewTokenizer(strings.NewReader(src))
	var b strings.Builder
	depth := 0

	for {
		switch z.Next() {
		case html.ErrorToken:
			return tidy(b.String())
		case html.TextToken:
			if depth == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skipped[tag] {
				depth++
			} else if blocks[tag] {
				b.WriteByte('\n')
			}
		case html.SelfClosingTagToken:
			name, _ := z.TagName()
			if blocks[string(name)] {
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skipped[tag] {
				if depth > 0 {
					depth--
				}
			} else if blocks[tag] {
				b.WriteByte('\n')
			}
		}
	}
}

func tidy(s string) string {
	s = multiSpaces.ReplaceAllString(s, " ")
	s = multiNewlines.ReplaceAllString(s, "\n\n")

	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// LooksLikeHTML is a cheap check for bodies sent as text/plain that are
// really markup.
func LooksLikeHTML(s string) bool {
	head := strings.ToLower(Truncate(strings.TrimSpace(s), 512))
	return strings.HasPrefix(head, "<!doctype html") ||
		strings.HasPrefix(head, "<html") ||
		strings.Contains(head, "<body")
}
