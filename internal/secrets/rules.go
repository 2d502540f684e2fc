package secrets

import (
	"regexp"
	"strings"
	"unicode"
)

// mailRule matches a secret that the gitleaks rule set, tuned for source
// code, lets through in prose. Group 1 of pattern is the secret unless
// whole is set.
type mailRule struct {
	id      string
	pattern *regexp.Regexp
	whole   bool
	accept  func(string) bool
}

// mailRules returns the prose rules, applied after gitleaks.
func mailRules() []mailRule {
	return []mailRule{
		{
			id:      "mail-password",
			pattern: regexp.MustCompile(`(?i)\b(?:password|passcode|passwd|pwd|passphrase)(?:\s+is\s*[:=]?|\s*[:=])\s*["'\x60]?([^\s"'\x60]{6,128})`),
			accept:  looksLikeCredential,
		},
		{
			id:      "mail-otp",
			pattern: regexp.MustCompile(`(?i)\b(?:verification|security|login|one[- ]time|confirmation)\s+code\s*(?:is\s*)?[:=]?\s*(\d{4,8})\b`),
		},
		{
			id:      "private-key-block",
			pattern: regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY(?: BLOCK)?-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY(?: BLOCK)?-----`),
			whole:   true,
		},
		{
			id:      "basic-auth-url",
			pattern: regexp.MustCompile(`\b[a-z][a-z0-9+.-]*://[^\s:/@]+:([^\s:/@]{3,})@[^\s/]+`),
		},
	}
}

// looksLikeCredential rejects plain words ("password is expired") by
// requiring a digit or symbol.
func looksLikeCredential(s string) bool {
	s = strings.TrimRight(s, ".,;:!?)")
	if len(s) < 6 {
		return false
	}
	for _, r := range s {
		if unicode.IsDigit(r) || (!unicode.IsLetter(r) && !unicode.IsSpace(r)) {
			return true
		}
	}
	return false
}

// span is a byte range of text to redact.
type span struct {
	start, end int
	ruleID     string
}

// find returns the spans rule matches in text.
func (r mailRule) find(text string) []span {
	var out []span
	for _, m := range r.pattern.FindAllStringSubmatchIndex(text, -1) {
		start, end := m[0], m[1]
		if !r.whole && len(m) >= 4 && m[2] >= 0 {
			start, end = m[2], m[3]
		}
		if r.accept != nil && !r.accept(text[start:end]) {
			continue
		}
		out = append(out, span{start: start, end: end, ruleID: r.id})
	}
	return out
}
