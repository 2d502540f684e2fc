package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration is a time.Duration that reads "90s", "2m" or a bare number of
// seconds, so MAILINDEX_SERVER_SHUTDOWN_TIMEOUT=30 works from a shell.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		*d = 0
		return nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		s = strconv.FormatFloat(secs, 'f', -1, 64) + "s"
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	if parsed < 0 {
		return fmt.Errorf("duration cannot be negative: %s", text)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration().String()), nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration().String())
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

const redacted = "[REDACTED]"

// Secret holds an API key. Every encoding prints a placeholder; only Value
// returns the key itself.
type Secret string

func (s Secret) mask() string {
	if s == "" {
		return ""
	}
	return redacted
}

func (s Secret) String() string   { return s.mask() }
func (s Secret) GoString() string { return "Secret(" + redacted + ")" }

func (s Secret) MarshalText() ([]byte, error) { return []byte(s.mask()), nil }
func (s Secret) MarshalJSON() ([]byte, error) { return json.Marshal(s.mask()) }

// UnmarshalText accepts the raw key, as read from YAML or the environment.
func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(text)
	return nil
}

// UnmarshalJSON treats the placeholder from a dumped config as unset.
func (s *Secret) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == redacted {
		raw = ""
	}
	*s = Secret(raw)
	return nil
}

// Value returns the key. Never log it.
func (s Secret) Value() string { return string(s) }

func (s Secret) IsSet() bool { return s != "" }

// Or returns s when set, otherwise fallback, e.g. OPENAI_API_KEY.
func (s Secret) Or(fallback string) Secret {
	if s.IsSet() {
		return s
	}
	return Secret(strings.TrimSpace(fallback))
}
