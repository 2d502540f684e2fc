package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mailindex/internal/config"
	"github.com/fyrsmithlabs/mailindex/internal/embeddings"
	"github.com/fyrsmithlabs/mailindex/internal/logging"
	"github.com/fyrsmithlabs/mailindex/internal/services"
	"github.com/fyrsmithlabs/mailindex/internal/vectorstore"
)

const testCollection = "emails_ollama_nomic_embed_text"

func topicVector(text string) ([]float32, error) {
	t := strings.ToLower(text)
	v := []float32{0.01, 0.01, 0.01}
	for i, kw := range []string{"budget", "lunch", "travel"} {
		if strings.Contains(t, kw) {
			v[i] = 1
		}
	}
	return v, nil
}

func staticFactory(_ context.Context, provider, model string) (embeddings.Provider, error) {
	s := embeddings.Settings{Provider: "ollama"}.With(provider, model)
	if s.Model == "" {
		s.Model = embeddings.DefaultModel(s.Provider)
	}
	return embeddings.NewStaticProvider(s.Provider, s.Model, 3, topicVector), nil
}

func newRegistry(t *testing.T) services.Registry {
	t.Helper()
	mailDir := t.TempDir()
	for i, m := range []struct{ id, subject, body string }{
		{"budget@example.com", "Q3 budget", "The budget review is on Thursday."},
		{"lunch@example.com", "Lunch?", "Want to grab lunch tomorrow?"},
		{"travel@example.com", "Trip", "Travel itinerary attached."},
	} {
		msg := fmt.Sprintf("Message-ID: <%s>\r\nFrom: alice@example.com\r\nTo: bob@example.com\r\n"+
			"Subject: %s\r\nDate: Mon, %d Jun 2024 10:00:00 +0000\r\n\r\n%s\r\n", m.id, m.subject, i+3, m.body)
		require.NoError(t, os.WriteFile(filepath.Join(mailDir, fmt.Sprintf("%d.eml", i)), []byte(msg), 0o600))
	}

	cfg := config.Default()
	cfg.Index.Path = t.TempDir()
	cfg.Index.Compress = false
	cfg.Sync.SourceDir = mailDir
	cfg.Redaction.Enabled = false

	h := vectorstore.NewHandles(nil)
	t.Cleanup(func() { _ = h.Close() })
	ix, err := vectorstore.Open(context.Background(), cfg.Index, h, nil)
	require.NoError(t, err)

	return services.NewRegistry(services.Options{
		Config:  cfg,
		Logger:  logging.NewNop(),
		Index:   ix,
		Factory: staticFactory,
	})
}

// connect starts s on an in-memory transport and returns a client session.
func connect(t *testing.T, s *Server) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	serverT, clientT := mcp.NewInMemoryTransports()

	ss, err := s.mcp.Connect(ctx, serverT, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	cs, err := client.Connect(ctx, clientT, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func setupSession(t *testing.T, cfg *Config) *mcp.ClientSession {
	t.Helper()
	reg := newRegistry(t)
	_, err := services.Sync(context.Background(), reg, services.SyncRequest{})
	require.NoError(t, err)

	s, err := NewServer(cfg, reg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return connect(t, s)
}

// call invokes a tool and decodes its structured output into out.
func call(t *testing.T, cs *mcp.ClientSession, name string, args map[string]any, out any) *mcp.CallToolResult {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	if out != nil && !res.IsError {
		raw, err := json.Marshal(res.StructuredContent)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, out))
	}
	return res
}

func textOf(res *mcp.CallToolResult) string {
	var b strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

func TestNewServer(t *testing.T) {
	t.Run("requires a registry", func(t *testing.T) {
		_, err := NewServer(nil, nil)
		assert.ErrorContains(t, err, "registry is required")
	})

	t.Run("uses defaults when config is nil", func(t *testing.T) {
		s, err := NewServer(nil, newRegistry(t))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		assert.Equal(t, "mailindex", s.cfg.Name)
		assert.NotNil(t, s.MCP())
	})
}

func TestListTools(t *testing.T) {
	tests := []struct {
		name      string
		allowSync bool
		want      []string
	}{
		{"read only", false, []string{"collection_stats", "get_email", "list_collections", "search_emails"}},
		{"with sync", true, []string{"collection_stats", "get_email", "list_collections", "search_emails", "sync_emails"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.AllowSync = tt.allowSync
			cs := setupSession(t, cfg)

			res, err := cs.ListTools(context.Background(), nil)
			require.NoError(t, err)
			var names []string
			for _, tool := range res.Tools {
				names = append(names, tool.Name)
			}
			assert.ElementsMatch(t, tt.want, names)
		})
	}
}

func TestSearchEmails(t *testing.T) {
	cs := setupSession(t, nil)

	var out searchEmailsOutput
	res := call(t, cs, "search_emails", map[string]any{"query": "lunch plans", "k": 2}, &out)
	require.False(t, res.IsError, textOf(res))

	assert.Equal(t, testCollection, out.Collection)
	assert.Equal(t, 2, out.Count)
	require.Len(t, out.Results, 2)
	assert.Equal(t, "lunch@example.com", out.Results[0].ID)
	assert.Equal(t, "2024-06-04T10:00:00Z", out.Results[0].Date)
	assert.Contains(t, textOf(res), "Lunch?")

	t.Run("empty query is a tool error", func(t *testing.T) {
		res := call(t, cs, "search_emails", map[string]any{"query": ""}, nil)
		assert.True(t, res.IsError)
		assert.Contains(t, textOf(res), "query is required")
	})

	t.Run("unmatched model is a tool error", func(t *testing.T) {
		res := call(t, cs, "search_emails", map[string]any{"query": "lunch", "provider": "openai"}, nil)
		assert.True(t, res.IsError)
	})
}

func TestCollectionTools(t *testing.T) {
	cs := setupSession(t, nil)

	var list listCollectionsOutput
	res := call(t, cs, "list_collections", map[string]any{}, &list)
	require.False(t, res.IsError, textOf(res))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, testCollection, list.Collections[0].Name)
	assert.Equal(t, "ollama_nomic_embed_text", list.Collections[0].ModelID)
	assert.Equal(t, 3, list.Collections[0].MemberCount)

	var st collectionSummary
	res = call(t, cs, "collection_stats", map[string]any{"collection": testCollection}, &st)
	require.False(t, res.IsError, textOf(res))
	assert.Equal(t, 3, st.MemberCount)
	assert.Equal(t, 3, st.Dimension)
	assert.NotEmpty(t, st.LastSync)

	res = call(t, cs, "collection_stats", map[string]any{"collection": "emails_openai_text_embedding_3_small"}, nil)
	assert.True(t, res.IsError)
}

func TestGetEmail(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxBodyChars = 10
	cs := setupSession(t, cfg)

	var out getEmailOutput
	res := call(t, cs, "get_email", map[string]any{"collection": testCollection, "id": "budget@example.com"}, &out)
	require.False(t, res.IsError, textOf(res))
	assert.Equal(t, "Q3 budget", out.Subject)
	assert.Equal(t, []string{"bob@example.com"}, out.Recipients)
	assert.Equal(t, "The budget", out.Body)
	assert.True(t, out.Truncated)

	res = call(t, cs, "get_email", map[string]any{"collection": testCollection, "id": "nope@example.com"}, nil)
	assert.True(t, res.IsError)
	assert.Contains(t, textOf(res), "email not found")
}

func TestSyncEmails(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowSync = true
	cfg.Logger = zap.NewNop()
	cs := setupSession(t, cfg)

	var out syncEmailsOutput
	res := call(t, cs, "sync_emails", map[string]any{"incremental": true}, &out)
	require.False(t, res.IsError, textOf(res))
	assert.Equal(t, testCollection, out.Collection)
	assert.False(t, out.Created)
	assert.Zero(t, out.Inserted)
}
