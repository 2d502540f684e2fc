package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOpenAI serves /v1/embeddings and /v1/models. Requests containing
// failInput in any text get a 500.
type fakeOpenAI struct {
	dim       int
	apiKey    string
	failInput string
	reverse   bool

	requests atomic.Int64
}

func (f *fakeOpenAI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer "+f.apiKey {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid api key","type":"invalid_request_error"}}`))
		return
	}

	switch r.URL.Path {
	case "/v1/models":
		_, _ = w.Write([]byte(`{"object":"list","data":[{"id":"text-embedding-3-small","object":"model"}]}`))

	case "/v1/embeddings":
		f.requests.Add(1)
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for _, in := range req.Input {
			if f.failInput != "" && strings.Contains(in, f.failInput) {
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error":{"message":"upstream failure","type":"server_error"}}`))
				return
			}
		}

		type item struct {
			Object    string    `json:"object"`
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		data := make([]item, 0, len(req.Input))
		for i, in := range req.Input {
			vec := make([]float32, f.dim)
			vec[len(in)%f.dim] = 1
			data = append(data, item{Object: "embedding", Embedding: vec, Index: i})
		}
		if f.reverse {
			for i, j := 0, len(data)-1; i < j; i, j = i+1, j-1 {
				data[i], data[j] = data[j], data[i]
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  req.Model,
		})

	default:
		http.NotFound(w, r)
	}
}

func newOpenAIForTest(t *testing.T, f *fakeOpenAI, model string, batch int) *OpenAIProvider {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	p, err := NewOpenAIProvider(OpenAIConfig{
		APIKey:    f.apiKey,
		BaseURL:   srv.URL + "/v1",
		Model:     model,
		BatchSize: batch,
	}, nil)
	require.NoError(t, err)
	return p
}

func TestNewOpenAIProvider_RequiresKey(t *testing.T) {
	_, err := NewOpenAIProvider(OpenAIConfig{}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestOpenAIProvider_Identity(t *testing.T) {
	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "sk-test"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "text-embedding-3-small", p.ModelName())
	assert.Equal(t, "openai_text_embedding_3_small", p.ModelIdentity().String())

	dim, err := p.Dimension(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1536, dim)
}

func TestOpenAIProvider_EmbedBatch(t *testing.T) {
	t.Run("one request per chunk", func(t *testing.T) {
		f := &fakeOpenAI{dim: 6, apiKey: "sk-test"}
		p := newOpenAIForTest(t, f, "", 100)

		texts := make([]string, 250)
		for i := range texts {
			texts[i] = strings.Repeat("x", i+1)
		}
		vecs := p.EmbedBatch(context.Background(), texts)

		require.Len(t, vecs, 250)
		for i, v := range vecs {
			require.Len(t, v, 6, "entry %d", i)
		}
		assert.EqualValues(t, 3, f.requests.Load())
	})

	t.Run("response order follows index", func(t *testing.T) {
		f := &fakeOpenAI{dim: 6, apiKey: "sk-test", reverse: true}
		p := newOpenAIForTest(t, f, "", 10)

		vecs := p.EmbedBatch(context.Background(), []string{"a", "bb", "ccc"})
		require.Len(t, vecs, 3)
		assert.Equal(t, float32(1), vecs[0][1])
		assert.Equal(t, float32(1), vecs[1][2])
		assert.Equal(t, float32(1), vecs[2][3])
	})

	t.Run("failed chunk is absent", func(t *testing.T) {
		f := &fakeOpenAI{dim: 6, apiKey: "sk-test", failInput: "poison"}
		p := newOpenAIForTest(t, f, "", 2)

		vecs := p.EmbedBatch(context.Background(), []string{"a", "poison", "c", "d"})
		require.Len(t, vecs, 4)
		assert.Nil(t, vecs[0])
		assert.Nil(t, vecs[1])
		assert.NotNil(t, vecs[2])
		assert.NotNil(t, vecs[3])
	})

	t.Run("empty input", func(t *testing.T) {
		f := &fakeOpenAI{dim: 6, apiKey: "sk-test"}
		p := newOpenAIForTest(t, f, "", 10)

		assert.Empty(t, p.EmbedBatch(context.Background(), nil))
		assert.Zero(t, f.requests.Load())
	})
}

func TestOpenAIProvider_Embed(t *testing.T) {
	f := &fakeOpenAI{dim: 6, apiKey: "sk-test", failInput: "poison"}
	p := newOpenAIForTest(t, f, "text-embedding-3-small", 0)
	ctx := context.Background()

	vec, err := p.Embed(ctx, "invoice")
	require.NoError(t, err)
	assert.Len(t, vec, 6)

	vec, err = p.Embed(ctx, "poison")
	assert.Nil(t, vec)
	assert.ErrorIs(t, err, ErrEmbeddingAbsent)
}

func TestOpenAIProvider_TestConnection(t *testing.T) {
	f := &fakeOpenAI{dim: 6, apiKey: "sk-good"}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	good, err := NewOpenAIProvider(OpenAIConfig{APIKey: "sk-good", BaseURL: srv.URL + "/v1"}, nil)
	require.NoError(t, err)
	assert.True(t, good.TestConnection(context.Background()))

	bad, err := NewOpenAIProvider(OpenAIConfig{APIKey: "sk-bad", BaseURL: srv.URL + "/v1"}, nil)
	require.NoError(t, err)
	assert.False(t, bad.TestConnection(context.Background()))
}

func TestOpenAIProvider_UnknownModelProbes(t *testing.T) {
	f := &fakeOpenAI{dim: 9, apiKey: "sk-test"}
	p := newOpenAIForTest(t, f, "text-embedding-custom", 0)

	dim, err := p.Dimension(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 9, dim)
	assert.EqualValues(t, 1, f.requests.Load())
}
