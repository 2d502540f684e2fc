package mail

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEmail() *Email {
	return &Email{
		ID:         "msg-1",
		ThreadID:   "thr-1",
		Subject:    "Quarterly budget",
		Sender:     "alice@example.com",
		Recipients: []string{"bob@example.com", "carol@example.com"},
		Date:       time.Date(2024, 3, 5, 9, 30, 0, 0, time.FixedZone("CET", 3600)),
		Body:       "Numbers attached.\n\nRegards",
		Labels:     []string{"finance", "inbox"},
		Snippet:    "Numbers attached.",
		Attachments: []Attachment{
			{Filename: "q1.xlsx", MimeType: "application/vnd.ms-excel", Size: 2048},
		},
	}
}

func TestEmail_ContentForEmbedding(t *testing.T) {
	e := sampleEmail()
	want := "Subject: Quarterly budget\nFrom: alice@example.com\nTo: bob@example.com, carol@example.com\n\nNumbers attached.\n\nRegards"
	assert.Equal(t, want, e.ContentForEmbedding())
	assert.Equal(t, e.Body, BodyFromDocument(e.ContentForEmbedding()))

	empty := &Email{}
	assert.Equal(t, "Subject: \nFrom: \nTo: \n\n", empty.ContentForEmbedding())
	assert.Equal(t, "plain document", BodyFromDocument("plain document"))
}

func TestEmail_MetadataRoundTrip(t *testing.T) {
	e := sampleEmail()
	meta := e.Metadata()

	assert.Equal(t, "2024-03-05T09:30:00+01:00", meta[MetaDate])
	assert.Equal(t, `["bob@example.com","carol@example.com"]`, meta[MetaRecipients])
	assert.Equal(t, `["finance","inbox"]`, meta[MetaLabels])
	assert.Equal(t, "true", meta[MetaHasAttachments])

	got, err := FromMetadata(e.ID, meta, e.ContentForEmbedding())
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, e.Recipients, got.Recipients)
	assert.Equal(t, e.Labels, got.Labels)
	assert.Equal(t, e.Attachments, got.Attachments)
	assert.Equal(t, e.Body, got.Body)
	assert.True(t, e.Date.Equal(got.Date))
	_, offset := got.Date.Zone()
	assert.Equal(t, 3600, offset, "zone offset survives storage")
}

func TestEmail_MetadataEmptyLists(t *testing.T) {
	e := &Email{ID: "x", Date: time.Unix(0, 0).UTC()}
	meta := e.Metadata()
	assert.Equal(t, "[]", meta[MetaRecipients])
	assert.Equal(t, "false", meta[MetaHasAttachments])

	meta[MetaLabels] = "not json"
	got, err := FromMetadata("", meta, "")
	require.NoError(t, err)
	assert.Equal(t, "x", got.ID)
	assert.Empty(t, got.Labels)
}

func TestFromMetadata_BadDate(t *testing.T) {
	_, err := FromMetadata("x", map[string]string{MetaDate: "yesterday"}, "")
	assert.Error(t, err)
}

func TestSnippetBounds(t *testing.T) {
	long := strings.Repeat("é", 600)
	e := &Email{Snippet: long}
	assert.Equal(t, MaxSnippetRunes, len([]rune(e.Metadata()[MetaSnippet])))

	assert.Equal(t, "a b c", MakeSnippet("  a\n\tb   c "))
	assert.Equal(t, "ab", Truncate("abc", 2))
	assert.Equal(t, "", Truncate("abc", 0))
}

func TestNormalizeLabels(t *testing.T) {
	assert.Equal(t, []string{"INBOX", "work"}, NormalizeLabels([]string{"work", " INBOX", "work", ""}))
	assert.Empty(t, NormalizeLabels(nil))
}

func TestStripHTML(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "paragraphs",
			in:   "<p>Hello&nbsp;there</p><p>Second   line</p>",
			want: "Hello there\nSecond line",
		},
		{
			name: "script and style removed",
			in:   "<html><head><title>x</title><style>p{}</style></head><body><script>alert(1)</script>Visible</body></html>",
			want: "Visible",
		},
		{
			name: "line breaks",
			in:   "one<br>two<br/>three",
			want: "one\ntwo\nthree",
		},
		{
			name: "entities",
			in:   "Tom &amp; Jerry &lt;3",
			want: "Tom & Jerry <3",
		},
		{
			name: "comments",
			in:   "a<!-- hidden -->b",
			want: "ab",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripHTML(tt.in))
		})
	}
}

func TestLooksLikeHTML(t *testing.T) {
	assert.True(t, LooksLikeHTML("<!DOCTYPE html><html>"))
	assert.True(t, LooksLikeHTML("  <html><body>x"))
	assert.False(t, LooksLikeHTML("a < b and c > d"))
}
