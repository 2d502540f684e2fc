// Package secrets redacts credentials from message text before it is
// embedded and stored.
//
// Detection runs the gitleaks default rule set plus a few rules for
// patterns that show up in mail rather than code, such as "your password
// is ...". Each secret is replaced by a [REDACTED:rule-id] marker, which
// keeps enough context for the embedding while dropping the value.
package secrets
