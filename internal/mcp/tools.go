package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/fyrsmithlabs/mailindex/internal/mail"
	"github.com/fyrsmithlabs/mailindex/internal/services"
	"github.com/fyrsmithlabs/mailindex/internal/vectorstore"
)

var printer = message.NewPrinter(language.English)

// emailSummary is one search hit. Dates are RFC3339 strings.
type emailSummary struct {
	ID             string   `json:"id" jsonschema:"Email id, usable with get_email"`
	ThreadID       string   `json:"thread_id" jsonschema:"Thread id"`
	Subject        string   `json:"subject" jsonschema:"Subject line"`
	Sender         string   `json:"sender" jsonschema:"From header"`
	Recipients     []string `json:"recipients" jsonschema:"To recipients"`
	Date           string   `json:"date" jsonschema:"Send date (RFC3339)"`
	Snippet        string   `json:"snippet" jsonschema:"Short preview of the body"`
	HasAttachments bool     `json:"has_attachments" jsonschema:"Whether the email has attachments"`
	Score          float64  `json:"score" jsonschema:"Similarity score, higher is closer"`
}

type collectionSummary struct {
	Name        string `json:"name" jsonschema:"Collection name"`
	ModelID     string `json:"model_id" jsonschema:"Embedding model identity (provider_model)"`
	Dimension   int    `json:"dimension" jsonschema:"Embedding dimension"`
	Space       string `json:"space" jsonschema:"Distance space (cosine, l2 or ip)"`
	MemberCount int    `json:"member_count" jsonschema:"Number of emails stored"`
	LastSync    string `json:"last_sync" jsonschema:"Watermark of the last sync that inserted emails (RFC3339), empty if never synced"`
}

type searchEmailsInput struct {
	Query    string `json:"query" jsonschema:"required,Natural-language description of the emails to find"`
	K        int    `json:"k,omitempty" jsonschema:"Maximum results to return (default from search.default_k)"`
	Provider string `json:"provider,omitempty" jsonschema:"Only search collections built by this provider (ollama, openai, fastembed)"`
	Model    string `json:"model,omitempty" jsonschema:"Only search collections built by this model"`
}

type searchEmailsOutput struct {
	Query        string         `json:"query" jsonschema:"Query used"`
	Collection   string         `json:"collection" jsonschema:"Collection searched"`
	Alternatives []string       `json:"alternatives" jsonschema:"Other collections that matched but were not searched"`
	Results      []emailSummary `json:"results" jsonschema:"Emails ordered by similarity"`
	Count        int            `json:"count" jsonschema:"Number of results"`
}

type listCollectionsInput struct{}

type listCollectionsOutput struct {
	Collections []collectionSummary `json:"collections" jsonschema:"Every collection in the index"`
	Count       int                 `json:"count" jsonschema:"Number of collections"`
}

type collectionStatsInput struct {
	Collection string `json:"collection" jsonschema:"required,Collection name from list_collections"`
}

type getEmailInput struct {
	Collection string `json:"collection" jsonschema:"required,Collection name from a search result"`
	ID         string `json:"id" jsonschema:"required,Email id from a search result"`
}

type attachmentOutput struct {
	Filename string `json:"filename" jsonschema:"Attachment file name"`
	MimeType string `json:"mime_type" jsonschema:"MIME type"`
	Size     int64  `json:"size" jsonschema:"Size in bytes"`
}

type getEmailOutput struct {
	ID          string             `json:"id" jsonschema:"Email id"`
	ThreadID    string             `json:"thread_id" jsonschema:"Thread id"`
	Subject     string             `json:"subject" jsonschema:"Subject line"`
	Sender      string             `json:"sender" jsonschema:"From header"`
	Recipients  []string           `json:"recipients" jsonschema:"To recipients"`
	Date        string             `json:"date" jsonschema:"Send date (RFC3339)"`
	Labels      []string           `json:"labels" jsonschema:"Labels or folders"`
	Body        string             `json:"body" jsonschema:"Plain-text body with secrets redacted"`
	Truncated   bool               `json:"truncated" jsonschema:"Whether the body was cut to the configured limit"`
	Attachments []attachmentOutput `json:"attachments" jsonschema:"Attachment metadata"`
}

type syncEmailsInput struct {
	Query       string `json:"query,omitempty" jsonschema:"Source query (from:, subject:, after:, before:, free text)"`
	MaxResults  int    `json:"max_results,omitempty" jsonschema:"Maximum messages to list"`
	Incremental bool   `json:"incremental,omitempty" jsonschema:"Only fetch mail newer than the last sync"`
	Provider    string `json:"provider,omitempty" jsonschema:"Embedding provider"`
	Model       string `json:"model,omitempty" jsonschema:"Embedding model"`
}

type syncEmailsOutput struct {
	Collection     string `json:"collection" jsonschema:"Collection synced into"`
	Created        bool   `json:"created" jsonschema:"Whether the collection was created by this run"`
	Listed         int    `json:"listed" jsonschema:"Messages listed by the source"`
	AlreadyIndexed int    `json:"already_indexed" jsonschema:"Listed messages already in the collection"`
	FetchFailed    int    `json:"fetch_failed" jsonschema:"Messages that could not be read"`
	Inserted       int    `json:"inserted" jsonschema:"Emails added"`
	Absent         int    `json:"absent" jsonschema:"Emails whose embedding failed"`
	Redactions     int    `json:"redactions" jsonschema:"Secrets redacted before embedding"`
}

func (s *Server) registerTools() {
	// search_emails
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_emails",
		Description: "Semantic search over the indexed email archive. Returns the closest emails with subject, sender, date, snippet and score.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args searchEmailsInput) (*mcp.CallToolResult, searchEmailsOutput, error) {
		call := s.metrics.begin(ctx, "search_emails")
		var (
			toolErr error
			items   int
		)
		defer func() { call.end(toolErr, items) }()

		resp, err := services.Search(ctx, s.reg, services.SearchRequest{
			Query:    args.Query,
			K:        args.K,
			Provider: args.Provider,
			Model:    args.Model,
		})
		if err != nil {
			toolErr = fmt.Errorf("search failed: %w", err)
			return nil, searchEmailsOutput{}, toolErr
		}

		out := searchEmailsOutput{
			Query:        resp.Query,
			Collection:   resp.Collection,
			Alternatives: nonNil(resp.Alternatives),
			Results:      make([]emailSummary, 0, len(resp.Results)),
		}
		var b strings.Builder
		printer.Fprintf(&b, "%d results from %s\n", len(resp.Results), resp.Descriptor)
		for i, r := range resp.Results {
			e := r.Email
			out.Results = append(out.Results, emailSummary{
				ID:             e.ID,
				ThreadID:       e.ThreadID,
				Subject:        e.Subject,
				Sender:         e.Sender,
				Recipients:     nonNil(e.Recipients),
				Date:           formatDate(e.Date),
				Snippet:        e.Snippet,
				HasAttachments: e.HasAttachments(),
				Score:          r.Score,
			})
			fmt.Fprintf(&b, "%d. [%.3f] %s | %s | %s (id: %s)\n", i+1, r.Score, e.Subject, e.Sender, formatDate(e.Date), e.ID)
		}
		out.Count = len(out.Results)
		items = out.Count

		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: b.String()}},
		}, out, nil
	})

	// list_collections
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_collections",
		Description: "List the email collections in the index, one per embedding model, with their sizes and last sync.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args listCollectionsInput) (*mcp.CallToolResult, listCollectionsOutput, error) {
		call := s.metrics.begin(ctx, "list_collections")
		var (
			toolErr error
			items   int
		)
		defer func() { call.end(toolErr, items) }()

		infos, err := services.Collections(ctx, s.reg)
		if err != nil {
			toolErr = fmt.Errorf("listing collections failed: %w", err)
			return nil, listCollectionsOutput{}, toolErr
		}

		out := listCollectionsOutput{Collections: make([]collectionSummary, 0, len(infos))}
		var b strings.Builder
		for _, info := range infos {
			out.Collections = append(out.Collections, summarizeCollection(info))
			printer.Fprintf(&b, "%s: %d emails (%s, %d dims)\n", info.Name, info.MemberCount, info.ModelID, info.Dimension)
		}
		out.Count = len(out.Collections)
		items = out.Count
		if out.Count == 0 {
			b.WriteString("No collections. Run a sync first.\n")
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: b.String()}},
		}, out, nil
	})

	// collection_stats
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "collection_stats",
		Description: "Show one collection's embedding model, dimension, email count and last sync.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args collectionStatsInput) (*mcp.CallToolResult, collectionSummary, error) {
		call := s.metrics.begin(ctx, "collection_stats")
		var (
			toolErr error
			items   int
		)
		defer func() { call.end(toolErr, items) }()

		if args.Collection == "" {
			toolErr = fmt.Errorf("%w: collection is required", services.ErrInvalidRequest)
			return nil, collectionSummary{}, toolErr
		}
		st, err := services.Stats(ctx, s.reg, args.Collection)
		if err != nil {
			toolErr = fmt.Errorf("collection stats failed: %w", err)
			return nil, collectionSummary{}, toolErr
		}

		out := summarizeCollection(st.CollectionInfo)
		items = 1
		last := out.LastSync
		if last == "" {
			last = "never"
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: printer.Sprintf(
				"%s: %d emails, model %s, %d dims, last sync %s", out.Name, out.MemberCount, out.ModelID, out.Dimension, last)}},
		}, out, nil
	})

	// get_email
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_email",
		Description: "Fetch one stored email by collection and id, including its body.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args getEmailInput) (*mcp.CallToolResult, getEmailOutput, error) {
		call := s.metrics.begin(ctx, "get_email")
		var (
			toolErr error
			items   int
		)
		defer func() { call.end(toolErr, items) }()

		if args.Collection == "" || args.ID == "" {
			toolErr = fmt.Errorf("%w: collection and id are required", services.ErrInvalidRequest)
			return nil, getEmailOutput{}, toolErr
		}
		e, err := services.GetEmail(ctx, s.reg, args.Collection, args.ID)
		if err != nil {
			toolErr = fmt.Errorf("get email failed: %w", err)
			return nil, getEmailOutput{}, toolErr
		}

		out := s.emailOutput(e)
		items = 1
		text := fmt.Sprintf("Subject: %s\nFrom: %s\nTo: %s\nDate: %s\n\n%s",
			out.Subject, out.Sender, strings.Join(out.Recipients, ", "), out.Date, out.Body)
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: text}},
		}, out, nil
	})

	if s.cfg.AllowSync {
		s.registerSyncTool()
	}
}

func (s *Server) registerSyncTool() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "sync_emails",
		Description: "Sync the mail source into the collection for the chosen embedding model.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args syncEmailsInput) (*mcp.CallToolResult, syncEmailsOutput, error) {
		call := s.metrics.begin(ctx, "sync_emails")
		var (
			toolErr error
			items   int
		)
		defer func() { call.end(toolErr, items) }()

		resp, err := services.Sync(ctx, s.reg, services.SyncRequest{
			Query:       args.Query,
			MaxResults:  args.MaxResults,
			Incremental: args.Incremental,
			Provider:    args.Provider,
			Model:       args.Model,
		})
		if err != nil {
			toolErr = fmt.Errorf("sync failed: %w", err)
			return nil, syncEmailsOutput{}, toolErr
		}

		out := syncEmailsOutput{
			Collection:     resp.Collection,
			Created:        resp.Created,
			Listed:         resp.Listed,
			AlreadyIndexed: resp.AlreadyIndexed,
			FetchFailed:    resp.FetchFailed,
			Inserted:       resp.Inserted,
			Absent:         resp.Absent,
			Redactions:     resp.Redactions,
		}
		items = out.Inserted
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: printer.Sprintf(
				"Synced %s: %d listed, %d new, %d failed", resp.Descriptor, out.Listed, out.Inserted, out.FetchFailed+out.Absent)}},
		}, out, nil
	})
}

func (s *Server) emailOutput(e *mail.Email) getEmailOutput {
	out := getEmailOutput{
		ID:          e.ID,
		ThreadID:    e.ThreadID,
		Subject:     e.Subject,
		Sender:      e.Sender,
		Recipients:  nonNil(e.Recipients),
		Date:        formatDate(e.Date),
		Labels:      nonNil(e.Labels),
		Body:        e.Body,
		Attachments: make([]attachmentOutput, 0, len(e.Attachments)),
	}
	if limit := s.cfg.MaxBodyChars; limit > 0 {
		if r := []rune(out.Body); len(r) > limit {
			out.Body = string(r[:limit])
			out.Truncated = true
		}
	}
	for _, a := range e.Attachments {
		out.Attachments = append(out.Attachments, attachmentOutput(a))
	}
	return out
}

func summarizeCollection(info vectorstore.CollectionInfo) collectionSummary {
	out := collectionSummary{
		Name:        info.Name,
		ModelID:     info.ModelID,
		Dimension:   info.Dimension,
		Space:       info.Space,
		MemberCount: info.MemberCount,
	}
	if info.Synced() {
		out.LastSync = formatDate(info.LastSync)
	}
	return out
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
