package emldir

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	gomail "github.com/emersion/go-message/mail"

	"github.com/fyrsmithlabs/mailindex/internal/mail"
)

// maxMessageSize caps how much of one file is parsed.
const maxMessageSize = 32 << 20

// ErrMalformed marks files that are not parseable RFC 5322 messages.
var ErrMalformed = errors.New("malformed message")

// Parse reads one RFC 5322 message. fallbackID is used when the message has
// no Message-ID header.
func Parse(r io.Reader, fallbackID string) (*mail.Email, error) {
	mr, err := gomail.CreateReader(io.LimitReader(r, maxMessageSize))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	defer mr.Close()

	h := mr.Header
	e := &mail.Email{}

	if id, err := h.MessageID(); err == nil && id != "" {
		e.ID = id
	} else {
		e.ID = fallbackID
	}
	if e.ID == "" {
		return nil, fmt.Errorf("%w: no message id", ErrMalformed)
	}

	e.Subject, _ = h.Subject()
	e.Date, err = h.Date()
	if err != nil || e.Date.IsZero() {
		e.Date = time.Unix(0, 0).UTC()
	}

	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		e.Sender = formatAddress(from[0])
	} else {
		e.Sender = strings.TrimSpace(h.Get("From"))
	}
	for _, key := range []string{"To", "Cc"} {
		addrs, err := h.AddressList(key)
		if err != nil {
			continue
		}
		for _, a := range addrs {
			e.Recipients = append(e.Recipients, formatAddress(a))
		}
	}

	e.ThreadID = threadID(h, e.ID)
	e.Labels = mail.NormalizeLabels(splitLabels(h.Get("X-Gmail-Labels")))

	plain, html, err := readParts(mr, e)
	if err != nil {
		return nil, err
	}
	switch {
	case plain != "" && !mail.LooksLikeHTML(plain):
		e.Body = strings.TrimSpace(plain)
	case html != "":
		e.Body = mail.StripHTML(html)
	default:
		e.Body = mail.StripHTML(plain)
	}
	e.Snippet = mail.MakeSnippet(e.Body)
	return e, nil
}

// readParts walks the MIME tree, returning the first text/plain and
// text/html bodies and recording attachments on e.
func readParts(mr *gomail.Reader, e *mail.Email) (plain, html string, err error) {
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return plain, html, nil
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return plain, html, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if p == nil {
			return plain, html, nil
		}

		switch ph := p.Header.(type) {
		case *gomail.InlineHeader:
			ct, _, _ := ph.ContentType()
			b, err := io.ReadAll(p.Body)
			if err != nil {
				continue
			}
			switch {
			case ct == "text/plain" && plain == "":
				plain = string(b)
			case ct == "text/html" && html == "":
				html = string(b)
			}
		case *gomail.AttachmentHeader:
			name, _ := ph.Filename()
			ct, _, _ := ph.ContentType()
			n, _ := io.Copy(io.Discard, p.Body)
			e.Attachments = append(e.Attachments, mail.Attachment{Filename: name, MimeType: ct, Size: n})
		}
	}
}

func formatAddress(a *gomail.Address) string {
	if a.Name == "" {
		return a.Address
	}
	return a.Name + " <" + a.Address + ">"
}

func threadID(h gomail.Header, id string) string {
	if t := strings.TrimSpace(h.Get("X-GM-THRID")); t != "" {
		return t
	}
	if refs, err := h.MsgIDList("References"); err == nil && len(refs) > 0 {
		return refs[0]
	}
	if irt, err := h.MsgIDList("In-Reply-To"); err == nil && len(irt) > 0 {
		return irt[0]
	}
	return id
}

func splitLabels(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}
