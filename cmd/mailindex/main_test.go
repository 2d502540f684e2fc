package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/mailindex/internal/config"
	"github.com/fyrsmithlabs/mailindex/internal/embeddings"
	"github.com/fyrsmithlabs/mailindex/internal/ingest"
	"github.com/fyrsmithlabs/mailindex/internal/mail"
	"github.com/fyrsmithlabs/mailindex/internal/search"
	"github.com/fyrsmithlabs/mailindex/internal/services"
	"github.com/fyrsmithlabs/mailindex/internal/vectorstore"
	"github.com/fyrsmithlabs/mailindex/pkg/collections"
)

func findCommand(t *testing.T, parent *cobra.Command, name string) *cobra.Command {
	t.Helper()
	for _, c := range parent.Commands() {
		if c.Name() == name {
			return c
		}
	}
	t.Fatalf("%s command not found", name)
	return nil
}

func TestCommands_Registered(t *testing.T) {
	for _, name := range []string{
		"setup", "models", "sync", "search", "stats", "collections",
		"clear", "test", "serve", "mcp", "watch", "monitor",
	} {
		t.Run(name, func(t *testing.T) {
			c := findCommand(t, rootCmd, name)
			assert.NotEmpty(t, c.Short)
			assert.NotNil(t, c.RunE)
		})
	}

	coll := findCommand(t, rootCmd, "collections")
	findCommand(t, coll, "list")
	findCommand(t, coll, "delete")
}

func TestCommands_Flags(t *testing.T) {
	tests := []struct {
		command string
		flags   []string
	}{
		{"sync", []string{"query", "limit", "clear", "incremental", "provider", "model", "json"}},
		{"search", []string{"provider", "model", "k", "json"}},
		{"setup", []string{"provider", "model", "source-dir", "force", "no-probe"}},
		{"serve", []string{"host", "port", "allow-sync"}},
		{"mcp", []string{"allow-sync", "max-body-chars"}},
		{"watch", []string{"provider", "model", "no-initial-sync"}},
		{"test", []string{"provider", "model", "json"}},
		{"monitor", []string{"url", "interval"}},
	}
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			c := findCommand(t, rootCmd, tt.command)
			for _, f := range tt.flags {
				assert.NotNil(t, c.Flags().Lookup(f), "missing --%s", f)
			}
		})
	}

	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("log-level"))
	assert.Equal(t, "k", findCommand(t, rootCmd, "search").Flags().Lookup("k").Shorthand)
}

func TestSearch_RequiresQuery(t *testing.T) {
	c := findCommand(t, rootCmd, "search")
	assert.Error(t, c.Args(c, nil))
	assert.NoError(t, c.Args(c, []string{"lunch", "plans"}))
}

func TestLoggingConfig(t *testing.T) {
	tests := []struct {
		name    string
		in      config.LoggingConfig
		stderr  bool
		want    func(t *testing.T, c *zapcoreView)
		wantErr bool
	}{
		{
			name: "defaults",
			in:   config.LoggingConfig{},
			want: func(t *testing.T, c *zapcoreView) {
				assert.Equal(t, zapcore.InfoLevel, c.level)
				assert.True(t, c.stderr)
				assert.False(t, c.stdout)
			},
		},
		{
			name: "stdout debug",
			in:   config.LoggingConfig{Level: "debug", Output: "stdout", Format: "json"},
			want: func(t *testing.T, c *zapcoreView) {
				assert.Equal(t, zapcore.DebugLevel, c.level)
				assert.True(t, c.stdout)
				assert.Equal(t, "json", c.format)
				assert.True(t, c.caller)
			},
		},
		{
			name:   "stdout forced to stderr",
			in:     config.LoggingConfig{Output: "stdout"},
			stderr: true,
			want: func(t *testing.T, c *zapcoreView) {
				assert.False(t, c.stdout)
				assert.True(t, c.stderr)
			},
		},
		{
			name: "otel keeps stderr",
			in:   config.LoggingConfig{Output: "otel"},
			want: func(t *testing.T, c *zapcoreView) {
				assert.True(t, c.otel)
				assert.True(t, c.stderr)
			},
		},
		{name: "bad output", in: config.LoggingConfig{Output: "syslog"}, wantErr: true},
		{name: "bad level", in: config.LoggingConfig{Level: "loud"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := loggingConfig(tt.in, tt.stderr)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.want(t, &zapcoreView{
				level:  got.Level,
				format: got.Format,
				stdout: got.Output.Stdout,
				stderr: got.Output.Stderr,
				otel:   got.Output.OTEL,
				caller: got.Caller.Enabled,
			})
		})
	}
}

type zapcoreView struct {
	level                        zapcore.Level
	format                       string
	stdout, stderr, otel, caller bool
}

func TestTelemetryConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Index.Backend = "qdrant"
	cfg.Telemetry = config.TelemetryConfig{
		Enabled:    true,
		Endpoint:   "localhost:4318",
		Protocol:   "http/protobuf",
		Insecure:   true,
		SampleRate: 0.25,
	}
	got := telemetryConfig(cfg)
	assert.True(t, got.Enabled)
	assert.Equal(t, "localhost:4318", got.Endpoint)
	assert.Equal(t, "http/protobuf", got.Protocol)
	assert.Equal(t, 0.25, got.Sampling.Rate)
	assert.Equal(t, "mailindex", got.ServiceName)
	assert.Equal(t, "qdrant", got.Attributes["mailindex.index.backend"])
	assert.Equal(t, "ollama", got.Attributes["mailindex.embedding.provider"])
	require.NoError(t, got.Validate())

	off := telemetryConfig(config.Default())
	assert.False(t, off.Enabled)
	assert.Equal(t, 1.0, off.Sampling.Rate)
}

func TestModelRows(t *testing.T) {
	current := collections.MustModelIdentity("ollama", "nomic-embed-text")
	out := modelRows(embeddings.Catalog("ollama"), current, map[string]bool{"nomic-embed-text": true})

	assert.Contains(t, out, "nomic-embed-text")
	assert.Contains(t, out, "768")
	assert.Contains(t, out, "installed")
	assert.Contains(t, out, "not pulled")
	assert.NotContains(t, out, "text-embedding-3-small")

	noLocal := modelRows(embeddings.Catalog(""), current, nil)
	assert.Contains(t, noLocal, "text-embedding-3-small")
	assert.NotContains(t, noLocal, "not pulled")
}

func TestPrintCollectionsAndStats(t *testing.T) {
	ci := vectorstore.CollectionInfo{
		Name:        "emails_ollama_nomic_embed_text",
		ModelID:     "ollama_nomic_embed_text",
		Provider:    "ollama",
		ModelName:   "nomic-embed-text",
		Dimension:   768,
		Space:       "cosine",
		MemberCount: 12345,
	}

	var buf bytes.Buffer
	printCollections(&buf, []vectorstore.CollectionInfo{ci})
	assert.Contains(t, buf.String(), "emails_ollama_nomic_embed_text")
	assert.Contains(t, buf.String(), "12,345")
	assert.Contains(t, buf.String(), "never")

	buf.Reset()
	printStats(&buf, ci)
	assert.Contains(t, buf.String(), "cosine")
	assert.Contains(t, buf.String(), "nomic-embed-text")
}

func TestPrintSearch(t *testing.T) {
	resp := &services.SearchResponse{
		Query:        "lunch",
		Collection:   "emails_ollama_nomic_embed_text",
		Descriptor:   "ollama/nomic-embed-text",
		Alternatives: []string{"emails_openai_text_embedding_3_small"},
		Results: []search.Result{{
			Email: &mail.Email{
				ID:      "m-1",
				Subject: "Lunch on Tuesday?",
				Sender:  "Ana <ana@example.com>",
				Date:    time.Date(2024, 6, 4, 10, 0, 0, 0, time.UTC),
				Snippet: "Are you free\n for lunch?",
			},
			Score: 0.8731,
		}},
	}

	var buf bytes.Buffer
	printSearch(&buf, resp)
	out := buf.String()
	assert.Contains(t, out, "Lunch on Tuesday?")
	assert.Contains(t, out, "0.873")
	assert.Contains(t, out, "also available: emails_openai_text_embedding_3_small")
	assert.Contains(t, out, "Are you free for lunch?")
	assert.Contains(t, out, "[m-1]")

	buf.Reset()
	printSearch(&buf, &services.SearchResponse{Collection: "c", Descriptor: "d"})
	assert.Contains(t, buf.String(), "no matches")
}

func TestPrintSyncReport(t *testing.T) {
	resp := &services.SyncResponse{
		Descriptor: "ollama/nomic-embed-text",
		Created:    true,
		Report: &ingest.Report{
			RunID:      "run-1",
			Collection: "emails_ollama_nomic_embed_text",
			Listed:     2500,
			Fetched:    2498,
			AddResult:  vectorstore.AddResult{Inserted: 2490, Absent: 8},
			Advanced:   true,
			Watermark:  time.Date(2024, 6, 4, 10, 0, 0, 0, time.UTC),
		},
	}

	var buf bytes.Buffer
	printSyncReport(&buf, resp)
	out := buf.String()
	assert.Contains(t, out, "new collection")
	assert.Contains(t, out, "2,500")
	assert.Contains(t, out, "2,490")
	assert.Contains(t, out, "synced through")
	assert.Contains(t, out, "run-1")

	resp.Report.Advanced = false
	buf.Reset()
	printSyncReport(&buf, resp)
	assert.Contains(t, buf.String(), "watermark unchanged")
}

func TestProgressPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := progressPrinter(&buf)
	p(1, 1000)
	p(2, 1000)
	p(1000, 1000)
	out := buf.String()
	assert.Contains(t, out, "1/1,000")
	assert.NotContains(t, out, "2/1,000", "updates inside the redraw window are dropped")
	assert.True(t, strings.HasSuffix(out, "1,000/1,000\n"))
}

func TestOneLine(t *testing.T) {
	assert.Equal(t, "a b c", oneLine("a\n b\t c", 10))
	assert.Equal(t, "abcd…", oneLine("abcdefgh", 5))
	assert.Equal(t, "héllo", oneLine("héllo", 5))
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"yes\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			c := &cobra.Command{}
			c.SetIn(strings.NewReader(tt.input))
			c.SetOut(&bytes.Buffer{})
			assert.Equal(t, tt.want, confirm(c, "sure?"))
		})
	}
}

func TestSetupThenCollections(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("OPENAI_API_KEY", "")

	run := func(args ...string) string {
		t.Helper()
		var out bytes.Buffer
		rootCmd.SetOut(&out)
		rootCmd.SetErr(&out)
		rootCmd.SetArgs(args)
		t.Cleanup(func() {
			rootCmd.SetOut(nil)
			rootCmd.SetErr(nil)
			rootCmd.SetArgs(nil)
			configPath = ""
		})
		require.NoError(t, rootCmd.ExecuteContext(context.Background()), out.String())
		return out.String()
	}

	out := run("setup", "--no-probe", "--log-level", "error")
	assert.Contains(t, out, "config.yaml")

	path, err := config.DefaultPath()
	require.NoError(t, err)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ollama", cfg.Embeddings.Provider)

	configPath = ""
	out = run("collections", "--log-level", "error")
	assert.Contains(t, out, "no collections yet")
}
