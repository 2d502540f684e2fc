package mail

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Metadata keys stored next to every vector.
const (
	MetaID             = "id"
	MetaSubject        = "subject"
	MetaSender         = "sender"
	MetaRecipients     = "recipients"
	MetaDate           = "date"
	MetaThreadID       = "thread_id"
	MetaSnippet        = "snippet"
	MetaLabels         = "labels"
	MetaHasAttachments = "has_attachments"
	MetaAttachments    = "attachments"
)

// Metadata flattens e into the string map persisted by the vector index.
// List fields are JSON encoded; the snippet is capped at MaxSnippetRunes.
func (e *Email) Metadata() map[string]string {
	return map[string]string{
		MetaID:             e.ID,
		MetaSubject:        e.Subject,
		MetaSender:         e.Sender,
		MetaRecipients:     mustJSON(nonNil(e.Recipients)),
		MetaDate:           e.Date.Format(time.RFC3339),
		MetaThreadID:       e.ThreadID,
		MetaSnippet:        Truncate(e.Snippet, MaxSnippetRunes),
		MetaLabels:         mustJSON(nonNil(e.Labels)),
		MetaHasAttachments: strconv.FormatBool(e.HasAttachments()),
		MetaAttachments:    mustJSON(nonNil(e.Attachments)),
	}
}

// FromMetadata rebuilds an Email from stored metadata and its document.
// id wins over the stored id key, which older collections may lack.
// Malformed list fields decode as empty rather than failing the record.
func FromMetadata(id string, meta map[string]string, document string) (*Email, error) {
	e := &Email{
		ID:       id,
		ThreadID: meta[MetaThreadID],
		Subject:  meta[MetaSubject],
		Sender:   meta[MetaSender],
		Snippet:  meta[MetaSnippet],
		Body:     BodyFromDocument(document),
	}
	if e.ID == "" {
		e.ID = meta[MetaID]
	}

	if raw := meta[MetaDate]; raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("parsing date of %s: %w", e.ID, err)
		}
		e.Date = t
	}

	e.Recipients = decodeList[string](meta[MetaRecipients])
	e.Labels = decodeList[string](meta[MetaLabels])
	e.Attachments = decodeList[Attachment](meta[MetaAttachments])
	return e, nil
}

func decodeList[T any](raw string) []T {
	out := []T{}
	if raw == "" {
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return []T{}
	}
	return out
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}
