// Package mail defines the email record indexed by mailindex and the
// projections built from it: the embedding text, the flat metadata stored
// next to each vector, and the Gmail-style query grammar understood by
// mail sources.
package mail

import (
	"slices"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxSnippetRunes bounds the snippet stored in collection metadata.
const MaxSnippetRunes = 500

// Attachment describes one attachment of a message. Content is never kept.
type Attachment struct {
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

// Email is one message as seen by the index. ID is unique within a source,
// stable across syncs, and used as the dedup key.
type Email struct {
	ID          string       `json:"id"`
	ThreadID    string       `json:"thread_id"`
	Subject     string       `json:"subject"`
	Sender      string       `json:"sender"`
	Recipients  []string     `json:"recipients"`
	Date        time.Time    `json:"date"`
	Body        string       `json:"body"`
	Labels      []string     `json:"labels"`
	Snippet     string       `json:"snippet"`
	Attachments []Attachment `json:"attachments"`
}

// ContentForEmbedding renders the text handed to the embedding model and
// stored as the collection document.
func (e *Email) ContentForEmbedding() string {
	var b strings.Builder
	b.Grow(len(e.Subject) + len(e.Sender) + len(e.Body) + 32)
	b.WriteString("Subject: ")
	b.WriteString(e.Subject)
	b.WriteString("\nFrom: ")
	b.WriteString(e.Sender)
	b.WriteString("\nTo: ")
	b.WriteString(strings.Join(e.Recipients, ", "))
	b.WriteString("\n\n")
	b.WriteString(e.Body)
	return b.String()
}

// BodyFromDocument recovers the body from a document produced by
// ContentForEmbedding. Documents without the header block are returned as is.
func BodyFromDocument(doc string) string {
	if !strings.HasPrefix(doc, "Subject: ") {
		return doc
	}
	_, body, ok := strings.Cut(doc, "\n\n")
	if !ok {
		return ""
	}
	return body
}

// HasAttachments reports whether the message carries any attachment.
func (e *Email) HasAttachments() bool {
	return len(e.Attachments) > 0
}

// NormalizeLabels returns labels trimmed, deduplicated and sorted.
func NormalizeLabels(labels []string) []string {
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// MakeSnippet derives a single-line preview from a body.
func MakeSnippet(body string) string {
	return Truncate(strings.Join(strings.Fields(body), " "), MaxSnippetRunes)
}
