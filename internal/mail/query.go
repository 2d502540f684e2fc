package mail

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
)

// QueryDateLayout is the date form used by after: and before:.
const QueryDateLayout = "2006/01/02"

// ErrInvalidQuery is returned for malformed query strings.
var ErrInvalidQuery = errors.New("invalid query")

// Query is a parsed Gmail-style search expression. Dates are calendar days
// in UTC: After is inclusive, Before is exclusive.
type Query struct {
	After   time.Time
	Before  time.Time
	From    []string
	To      []string
	Subject []string
	Labels  []string
	Terms   []string
}

// ParseQuery parses after:, before:, from:, to:, subject: and label:
// operators plus bare words. Values may be double quoted.
func ParseQuery(s string) (Query, error) {
	var q Query
	tokens, err := tokenize(s)
	if err != nil {
		return q, err
	}
	for _, tok := range tokens {
		key, val, ok := strings.Cut(tok, ":")
		if !ok || val == "" {
			q.Terms = append(q.Terms, strings.ToLower(tok))
			continue
		}
		switch strings.ToLower(key) {
		case "after":
			t, err := parseQueryDate(val)
			if err != nil {
				return q, err
			}
			if t.After(q.After) {
				q.After = t
			}
		case "before":
			t, err := parseQueryDate(val)
			if err != nil {
				return q, err
			}
			if q.Before.IsZero() || t.Before(q.Before) {
				q.Before = t
			}
		case "from":
			q.From = append(q.From, strings.ToLower(val))
		case "to":
			q.To = append(q.To, strings.ToLower(val))
		case "subject":
			q.Subject = append(q.Subject, strings.ToLower(val))
		case "label", "in":
			q.Labels = append(q.Labels, strings.ToLower(val))
		default:
			q.Terms = append(q.Terms, strings.ToLower(tok))
		}
	}
	return q, nil
}

func tokenize(s string) ([]string, error) {
	var (
		out     []string
		cur     strings.Builder
		inQuote bool
	)
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	for _, r := range s {
		switch {
		case r == '"':
			inQuote = !inQuote
		case unicode.IsSpace(r) && !inQuote:
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	if inQuote {
		return nil, fmt.Errorf("%w: unterminated quote in %q", ErrInvalidQuery, s)
	}
	flush()
	return out, nil
}

func parseQueryDate(v string) (time.Time, error) {
	for _, layout := range []string{QueryDateLayout, time.DateOnly} {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: date %q, want YYYY/MM/DD", ErrInvalidQuery, v)
}

// HasAfter reports whether the query bounds dates from below.
func (q Query) HasAfter() bool { return !q.After.IsZero() }

// Matches reports whether e satisfies every clause of q.
func (q Query) Matches(e *Email) bool {
	if !q.After.IsZero() && e.Date.Before(q.After) {
		return false
	}
	if !q.Before.IsZero() && !e.Date.Before(q.Before) {
		return false
	}
	sender := strings.ToLower(e.Sender)
	for _, f := range q.From {
		if !strings.Contains(sender, f) {
			return false
		}
	}
	for _, t := range q.To {
		if !containsAny(e.Recipients, t) {
			return false
		}
	}
	subject := strings.ToLower(e.Subject)
	for _, s := range q.Subject {
		if !strings.Contains(subject, s) {
			return false
		}
	}
	for _, l := range q.Labels {
		if !hasLabel(e.Labels, l) {
			return false
		}
	}
	if len(q.Terms) > 0 {
		text := strings.ToLower(e.Subject + "\n" + e.Sender + "\n" + e.Body)
		for _, term := range q.Terms {
			if !strings.Contains(text, term) {
				return false
			}
		}
	}
	return true
}

func containsAny(values []string, needle string) bool {
	for _, v := range values {
		if strings.Contains(strings.ToLower(v), needle) {
			return true
		}
	}
	return false
}

func hasLabel(labels []string, want string) bool {
	for _, l := range labels {
		if strings.EqualFold(l, want) {
			return true
		}
	}
	return false
}

// AfterQuery renders the after: clause for t.
func AfterQuery(t time.Time) string {
	return "after:" + t.UTC().Format(QueryDateLayout)
}

// IncrementalQuery returns the query an incremental sync should run. A user
// query that already bounds dates with after: is kept as is; otherwise the
// watermark day is appended.
func IncrementalQuery(userQuery string, watermark time.Time) (string, error) {
	q, err := ParseQuery(userQuery)
	if err != nil {
		return "", err
	}
	if q.HasAfter() || watermark.IsZero() {
		return userQuery, nil
	}
	return strings.TrimSpace(userQuery + " " + AfterQuery(watermark)), nil
}
