//go:build cgo

package embeddings

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipWithoutONNX(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping FastEmbed test in short mode")
	}
	if ONNXLibraryPath() == "" {
		if _, err := os.Stat("/usr/lib/libonnxruntime.so"); os.IsNotExist(err) {
			t.Skip("ONNX runtime not available, skipping FastEmbed test")
		}
	}
}

func TestNewFastEmbedProvider_Validation(t *testing.T) {
	tests := []struct {
		name    string
		model   string
		wantErr bool
	}{
		{"default model", "", false},
		{"catalogue name", "BAAI/bge-base-en-v1.5", false},
		{"fastembed name", "fast-bge-small-en-v1.5", false},
		{"unknown", "unknown-model", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewFastEmbedProvider(FastEmbedConfig{Model: tt.model}, nil)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "fastembed", p.ProviderName())
			// Construction does not load the model.
			assert.Nil(t, p.embed)
			require.NoError(t, p.Close())
		})
	}
}

func TestFastEmbedProvider_Dimension_FromCatalogue(t *testing.T) {
	p, err := NewFastEmbedProvider(FastEmbedConfig{Model: "BAAI/bge-base-en-v1.5"}, nil)
	require.NoError(t, err)

	dim, err := p.Dimension(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 768, dim)
	assert.Nil(t, p.embed)
}

func TestFastEmbedProvider_Embed(t *testing.T) {
	skipWithoutONNX(t)

	p, err := NewFastEmbedProvider(FastEmbedConfig{
		Model:    "BAAI/bge-small-en-v1.5",
		CacheDir: t.TempDir(),
	}, nil)
	require.NoError(t, err)
	defer p.Close()

	ctx := context.Background()
	require.NoError(t, p.EnsureModel(ctx))
	require.NoError(t, p.EnsureModel(ctx))

	vec, err := p.Embed(ctx, "quarterly invoice")
	require.NoError(t, err)
	assert.Len(t, vec, 384)

	vecs := p.EmbedBatch(ctx, []string{"hello", "world", "again"})
	require.Len(t, vecs, 3)
	for _, v := range vecs {
		assert.Len(t, v, 384)
	}

	_, err = p.Embed(ctx, "")
	assert.ErrorIs(t, err, ErrEmbeddingAbsent)
}
