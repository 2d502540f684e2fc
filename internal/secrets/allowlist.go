package secrets

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
)

var (
	// ErrInvalidRegex indicates an allowlist pattern failed to compile.
	ErrInvalidRegex = errors.New("invalid regex pattern")

	// ErrInvalidTOML indicates the allowlist file could not be parsed.
	ErrInvalidTOML = errors.New("invalid TOML format")
)

// Allowlist holds values that must never be redacted.
//
// The file format is the gitleaks one:
//
//	[allowlist]
//	regexes = ['''^ghp_EXAMPLE''']
//	stopwords = ["example", "dummy"]
type Allowlist struct {
	Regexes   []string
	StopWords []string

	compiled []*regexp.Regexp
}

// LoadAllowlist reads path. An empty path or a missing file yields an empty
// allowlist; an unreadable or invalid one is an error.
func LoadAllowlist(path string) (*Allowlist, error) {
	a := &Allowlist{}
	if path == "" {
		return a, nil
	}

	var doc struct {
		Allowlist struct {
			Regexes   []string `toml:"regexes"`
			StopWords []string `toml:"stopwords"`
		} `toml:"allowlist"`
	}
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return a, nil
		}
		if errors.Is(err, os.ErrPermission) {
			return nil, fmt.Errorf("reading allowlist %s: %w", path, err)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTOML, path, err)
	}

	a.Regexes = doc.Allowlist.Regexes
	a.StopWords = doc.Allowlist.StopWords
	if err := a.compile(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return a, nil
}

func (a *Allowlist) compile() error {
	a.compiled = a.compiled[:0]
	for _, p := range a.Regexes {
		re, err := regexp.Compile(p)
		if err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidRegex, p, err)
		}
		a.compiled = append(a.compiled, re)
	}
	return nil
}

// Allows reports whether secret is exempt from redaction.
func (a *Allowlist) Allows(secret string) bool {
	if a == nil {
		return false
	}
	for _, re := range a.compiled {
		if re.MatchString(secret) {
			return true
		}
	}
	lower := strings.ToLower(secret)
	for _, w := range a.StopWords {
		if w != "" && strings.Contains(lower, strings.ToLower(w)) {
			return true
		}
	}
	return false
}

// Empty reports whether the allowlist exempts nothing.
func (a *Allowlist) Empty() bool {
	return a == nil || (len(a.Regexes) == 0 && len(a.StopWords) == 0)
}
