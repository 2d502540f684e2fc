package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/mailindex/internal/services"
)

var (
	searchProvider string
	searchModel    string
	searchK        int
	searchJSON     bool
)

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().StringVar(&searchProvider, "provider", "", "search the collection built with this provider")
	searchCmd.Flags().StringVar(&searchModel, "model", "", "search the collection built with this model")
	searchCmd.Flags().IntVarP(&searchK, "k", "k", 0, "number of results (default search.default_k)")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "print results as JSON")
}

var searchCmd = &cobra.Command{
	Use:   "search <query>...",
	Short: "Find mail by meaning",
	Long: `Embed the query with the collection's own model and return the closest
messages, best first.

Without --provider or --model the configured model's collection is used.
Search never creates a collection; run sync first.

Examples:
  mailindex search "who sent the Q3 budget spreadsheet"
  mailindex search -k 20 --provider openai "visa appointment"
  mailindex search --json "lunch next week" | jq '.results[0].email.subject'`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func runSearch(cmd *cobra.Command, args []string) error {
	return withRegistry(cmd, func(ctx context.Context, _ *app, reg services.Registry) error {
		resp, err := services.Search(ctx, reg, services.SearchRequest{
			Query:    strings.Join(args, " "),
			K:        searchK,
			Provider: searchProvider,
			Model:    searchModel,
		})
		if err != nil {
			return err
		}
		if searchJSON {
			return writeJSON(cmd.OutOrStdout(), resp)
		}
		printSearch(cmd.OutOrStdout(), resp)
		return nil
	})
}

func printSearch(w io.Writer, resp *services.SearchResponse) {
	fprintf(w, "%s %s\n", titleStyle.Render(resp.Collection), dimStyle.Render("("+resp.Descriptor+")"))
	if len(resp.Alternatives) > 0 {
		fprintf(w, "%s\n", dimStyle.Render("also available: "+strings.Join(resp.Alternatives, ", ")))
	}
	if len(resp.Results) == 0 {
		fprintf(w, "no matches\n")
		return
	}

	rows := make([][]string, 0, len(resp.Results))
	for i, r := range resp.Results {
		e := r.Email
		rows = append(rows, []string{
			fmt.Sprintf("%d", i+1),
			fmt.Sprintf("%.3f", r.Score),
			formatDate(e.Date),
			oneLine(e.Sender, 28),
			oneLine(e.Subject, 48),
		})
	}
	fprintf(w, "%s\n", renderTable([]string{"#", "SCORE", "DATE", "FROM", "SUBJECT"}, rows))

	for i, r := range resp.Results {
		if r.Email.Snippet == "" {
			continue
		}
		fprintf(w, "%s %s %s\n", dimStyle.Render(fmt.Sprintf("%2d.", i+1)), oneLine(r.Email.Snippet, 100), dimStyle.Render("["+r.Email.ID+"]"))
	}
}
