package embeddings

import (
	"strings"

	"github.com/fyrsmithlabs/mailindex/pkg/collections"
)

// ModelInfo describes a catalogued embedding model.
type ModelInfo struct {
	Provider    string
	Name        string
	Dimension   int
	Description string
}

// Identity returns the model's canonical identity.
func (m ModelInfo) Identity() collections.ModelIdentity {
	return collections.MustModelIdentity(m.Provider, m.Name)
}

// catalog lists the models each provider is known to serve. The first entry
// per provider is its default.
var catalog = []ModelInfo{
	{collections.ProviderOllama, "nomic-embed-text", 768, "General purpose, long context"},
	{collections.ProviderOllama, "mxbai-embed-large", 1024, "High accuracy, larger footprint"},
	{collections.ProviderOllama, "all-minilm", 384, "Small and fast"},

	{collections.ProviderOpenAI, "text-embedding-3-small", 1536, "Cost efficient"},
	{collections.ProviderOpenAI, "text-embedding-3-large", 3072, "Highest accuracy"},
	{collections.ProviderOpenAI, "text-embedding-ada-002", 1536, "Legacy"},

	{collections.ProviderFastEmbed, "BAAI/bge-small-en-v1.5", 384, "In-process ONNX, small"},
	{collections.ProviderFastEmbed, "BAAI/bge-base-en-v1.5", 768, "In-process ONNX, base"},
	{collections.ProviderFastEmbed, "sentence-transformers/all-MiniLM-L6-v2", 384, "In-process ONNX, MiniLM"},
}

// Catalog returns the known models, optionally filtered by provider.
func Catalog(provider string) []ModelInfo {
	out := make([]ModelInfo, 0, len(catalog))
	for _, m := range catalog {
		if provider == "" || m.Provider == provider {
			out = append(out, m)
		}
	}
	return out
}

// DefaultModel returns the default model for provider, or "" if unknown.
func DefaultModel(provider string) string {
	for _, m := range catalog {
		if m.Provider == provider {
			return m.Name
		}
	}
	return ""
}

// KnownDimension looks up the catalogued dimension of a model. Spellings
// that canonicalize to the same identity match, and an Ollama ":latest" tag
// is ignored.
func KnownDimension(provider, model string) (int, bool) {
	if m, ok := lookup(provider, model); ok {
		return m.Dimension, true
	}
	return 0, false
}

func lookup(provider, model string) (ModelInfo, bool) {
	if provider == collections.ProviderOllama {
		model = strings.TrimSuffix(model, ":latest")
	}
	want, err := collections.NewModelIdentity(provider, model)
	if err != nil {
		return ModelInfo{}, false
	}
	return LookupIdentity(want)
}

// LookupIdentity finds the catalogue entry for a canonical identity. It lets
// a provider be rebuilt from a collection name alone.
func LookupIdentity(id collections.ModelIdentity) (ModelInfo, bool) {
	for _, m := range catalog {
		if m.Identity() == id {
			return m, true
		}
	}
	if id.Provider() == collections.ProviderOllama {
		if trimmed, ok := strings.CutSuffix(string(id), "_latest"); ok {
			return LookupIdentity(collections.ModelIdentity(trimmed))
		}
	}
	return ModelInfo{}, false
}
