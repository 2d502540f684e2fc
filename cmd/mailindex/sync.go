package main

import (
	"context"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/mailindex/internal/services"
)

var (
	syncQuery       string
	syncLimit       int
	syncClear       bool
	syncIncremental bool
	syncProvider    string
	syncModel       string
	syncJSON        bool
	syncQuiet       bool
)

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().StringVarP(&syncQuery, "query", "q", "", "mail query, e.g. 'from:alice after:2024/01/01' (default sync.query)")
	syncCmd.Flags().IntVarP(&syncLimit, "limit", "n", 0, "maximum messages to list (default sync.max_results)")
	syncCmd.Flags().BoolVar(&syncClear, "clear", false, "empty the collection before syncing")
	syncCmd.Flags().BoolVarP(&syncIncremental, "incremental", "i", false, "only fetch mail newer than the last sync")
	syncCmd.Flags().StringVar(&syncProvider, "provider", "", "embedding provider (default embeddings.provider)")
	syncCmd.Flags().StringVar(&syncModel, "model", "", "embedding model (default embeddings.model)")
	syncCmd.Flags().BoolVar(&syncJSON, "json", false, "print the report as JSON")
	syncCmd.Flags().BoolVar(&syncQuiet, "quiet", false, "do not show embedding progress")
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Embed mail into the collection for a model",
	Long: `Read messages from sync.source_dir, redact secrets, embed them and store
them in the collection for the chosen model. The collection is created on
first sync.

Messages already in the collection are skipped, so re-running sync is cheap.
With --incremental the query is narrowed to mail after the last successful
sync; an explicit after: in --query wins.

Examples:
  # Everything in the archive with the configured model
  mailindex sync

  # New mail only
  mailindex sync --incremental

  # Build a second collection with OpenAI
  mailindex sync --provider openai

  # Re-embed from scratch
  mailindex sync --clear`,
	RunE: runSync,
}

func runSync(cmd *cobra.Command, _ []string) error {
	return withRegistry(cmd, func(ctx context.Context, _ *app, reg services.Registry) error {
		req := services.SyncRequest{
			Query:       syncQuery,
			MaxResults:  syncLimit,
			Incremental: syncIncremental,
			Clear:       syncClear,
			Provider:    syncProvider,
			Model:       syncModel,
		}
		if !syncQuiet && !syncJSON {
			req.Progress = progressPrinter(cmd.ErrOrStderr())
		}

		resp, err := services.Sync(ctx, reg, req)
		if err != nil {
			return exitIfCanceled(ctx, err)
		}
		if syncJSON {
			return writeJSON(cmd.OutOrStdout(), resp)
		}
		printSyncReport(cmd.OutOrStdout(), resp)
		return nil
	})
}

// progressPrinter redraws one status line at most every 200ms.
func progressPrinter(w io.Writer) func(done, total int) {
	var last time.Time
	return func(done, total int) {
		if done < total && time.Since(last) < 200*time.Millisecond {
			return
		}
		last = time.Now()
		fprintf(w, "\rembedding %s/%s", count(done), count(total))
		if done >= total {
			fprintf(w, "\n")
		}
	}
}

func printSyncReport(w io.Writer, resp *services.SyncResponse) {
	r := resp.Report
	title := "Synced " + r.Collection
	if resp.Created {
		title += " (new collection)"
	}
	fprintf(w, "%s\n", titleStyle.Render(title))
	fprintf(w, "%s %s\n", dimStyle.Render("model:"), resp.Descriptor)
	if r.Query != "" {
		fprintf(w, "%s %s\n", dimStyle.Render("query:"), r.Query)
	}
	fprintf(w, "%s\n", renderTable(
		[]string{"LISTED", "ALREADY INDEXED", "FETCHED", "FETCH FAILED", "REDACTIONS", "INSERTED", "SKIPPED", "NO EMBEDDING"},
		[][]string{{
			count(r.Listed),
			count(r.AlreadyIndexed),
			count(r.Fetched),
			count(r.FetchFailed),
			count(r.Redactions),
			count(r.Inserted),
			count(r.Skipped),
			count(r.Absent),
		}},
	))
	if r.Advanced {
		fprintf(w, "%s %s\n", dimStyle.Render("synced through:"), formatDate(r.Watermark))
	} else {
		fprintf(w, "%s\n", dimStyle.Render("nothing new was stored; sync watermark unchanged"))
	}
	fprintf(w, "%s %s  %s %s\n", dimStyle.Render("run:"), r.RunID, dimStyle.Render("took:"), r.Duration.Round(time.Millisecond))
}
