// Package collections provides model identity and collection naming for mailindex.
//
// Every embedding model gets its own collection. The collection name is a pure
// function of the model identity, so callers can locate a collection without
// enumerating metadata:
//
//	id, err := collections.NewModelIdentity("ollama", "nomic-embed-text:latest")
//	// id = "ollama_nomic_embed_text_latest"
//	name := collections.Name(id)
//	// name = "emails_ollama_nomic_embed_text_latest"
package collections

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Prefix is prepended to every model identity to form a collection name.
const Prefix = "emails_"

// Provider names understood by the identity functions.
const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderFastEmbed = "fastembed"
)

// KnownProviders lists every provider namespace, in resolution order.
var KnownProviders = []string{ProviderOllama, ProviderOpenAI, ProviderFastEmbed}

var (
	// ErrInvalidProvider indicates an empty or unknown provider name
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidModel indicates an empty model name
	ErrInvalidModel = errors.New("invalid model name")

	// ErrInvalidCollectionName indicates malformed collection name
	ErrInvalidCollectionName = errors.New("invalid collection name format")
)

// separators collapses every run of characters that different spellings of
// the same model use as delimiters.
var separators = regexp.MustCompile(`[\s:\-/._]+`)

// namePattern bounds collection names to what both vector backends accept.
var namePattern = regexp.MustCompile(`^[a-z0-9_]{1,128}$`)

// ModelIdentity is the canonical "<provider>_<model>" form of an embedding model.
type ModelIdentity string

// NewModelIdentity canonicalizes a provider and model name.
//
// Canonicalization lowercases both parts and collapses separator runs
// (colon, dash, slash, dot, underscore, whitespace) to a single underscore,
// so "nomic-embed-text:latest" and "nomic_embed_text-latest" are the same model.
func NewModelIdentity(provider, model string) (ModelIdentity, error) {
	p := strings.ToLower(strings.TrimSpace(provider))
	if !IsKnownProvider(p) {
		return "", fmt.Errorf("%w: %q", ErrInvalidProvider, provider)
	}
	m := CanonicalModel(model)
	if m == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidModel, model)
	}
	return ModelIdentity(p + "_" + m), nil
}

// MustModelIdentity is NewModelIdentity for static inputs; it panics on error.
func MustModelIdentity(provider, model string) ModelIdentity {
	id, err := NewModelIdentity(provider, model)
	if err != nil {
		panic(err)
	}
	return id
}

// CanonicalModel returns the model-name half of an identity.
func CanonicalModel(model string) string {
	m := strings.ToLower(strings.TrimSpace(model))
	m = separators.ReplaceAllString(m, "_")
	return strings.Trim(m, "_")
}

// IsKnownProvider reports whether p is one of KnownProviders.
func IsKnownProvider(p string) bool {
	for _, known := range KnownProviders {
		if p == known {
			return true
		}
	}
	return false
}

// Provider returns the provider namespace of the identity, or "" if the
// identity does not start with a known provider.
func (id ModelIdentity) Provider() string {
	p, _, ok := strings.Cut(string(id), "_")
	if !ok || !IsKnownProvider(p) {
		return ""
	}
	return p
}

// Model returns the canonical model half of the identity.
func (id ModelIdentity) Model() string {
	_, m, _ := strings.Cut(string(id), "_")
	return m
}

// String implements fmt.Stringer.
func (id ModelIdentity) String() string {
	return string(id)
}

// Name returns the collection name owned by id.
func Name(id ModelIdentity) string {
	return Prefix + string(id)
}

// ParseName extracts the model identity from a collection name.
func ParseName(name string) (ModelIdentity, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	rest, ok := strings.CutPrefix(name, Prefix)
	if !ok || rest == "" {
		return "", fmt.Errorf("%w: %q lacks %q prefix", ErrInvalidCollectionName, name, Prefix)
	}
	id := ModelIdentity(rest)
	if id.Provider() == "" {
		return "", fmt.Errorf("%w: %q has no known provider", ErrInvalidCollectionName, name)
	}
	return id, nil
}

// ValidateName checks that name is safe to use as a collection name on disk
// and in Qdrant.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name required", ErrInvalidCollectionName)
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %q must match %s", ErrInvalidCollectionName, name, namePattern)
	}
	return nil
}
