package collections

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewModelIdentity(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		model    string
		want     ModelIdentity
		wantErr  error
	}{
		{
			name:     "ollama with tag",
			provider: "ollama",
			model:    "nomic-embed-text:latest",
			want:     "ollama_nomic_embed_text_latest",
		},
		{
			name:     "openai dashed model",
			provider: "openai",
			model:    "text-embedding-3-small",
			want:     "openai_text_embedding_3_small",
		},
		{
			name:     "fastembed org prefixed model",
			provider: "fastembed",
			model:    "BAAI/bge-small-en-v1.5",
			want:     "fastembed_baai_bge_small_en_v1_5",
		},
		{
			name:     "provider case and whitespace",
			provider: " Ollama ",
			model:    "all-minilm",
			want:     "ollama_all_minilm",
		},
		{
			name:     "unknown provider",
			provider: "cohere",
			model:    "embed-english-v3",
			wantErr:  ErrInvalidProvider,
		},
		{
			name:     "empty model",
			provider: "openai",
			model:    " :- ",
			wantErr:  ErrInvalidModel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewModelIdentity(tt.provider, tt.model)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewModelIdentity_SpellingsCanonicalizeIdentically(t *testing.T) {
	spellings := []string{
		"nomic-embed-text:v1.5",
		"nomic_embed_text:v1_5",
		"Nomic-Embed-Text-v1.5",
		"nomic:embed:text:v1.5",
	}

	first := MustModelIdentity("ollama", spellings[0])
	for _, s := range spellings[1:] {
		assert.Equal(t, first, MustModelIdentity("ollama", s), "spelling %q", s)
	}

	// Same model name under another provider is a different identity.
	assert.NotEqual(t, first, MustModelIdentity("openai", spellings[0]))
}

func TestModelIdentity_Parts(t *testing.T) {
	id := MustModelIdentity("openai", "text-embedding-3-large")

	assert.Equal(t, "openai", id.Provider())
	assert.Equal(t, "text_embedding_3_large", id.Model())
	assert.Equal(t, "openai_text_embedding_3_large", id.String())

	assert.Empty(t, ModelIdentity("unknown_model").Provider())
}

func TestName_RoundTrip(t *testing.T) {
	id := MustModelIdentity("ollama", "mxbai-embed-large")
	name := Name(id)

	assert.Equal(t, "emails_ollama_mxbai_embed_large", name)

	parsed, err := ParseName(name)
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestParseName_Invalid(t *testing.T) {
	for _, name := range []string{
		"",
		"emails_",
		"memories_ollama_x",
		"emails_cohere_embed",
		"emails_Ollama_X",
		"emails_" + strings.Repeat("a", 200),
	} {
		_, err := ParseName(name)
		assert.ErrorIs(t, err, ErrInvalidCollectionName, "name %q", name)
	}
}
