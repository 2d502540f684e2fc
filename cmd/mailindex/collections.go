package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/mailindex/internal/services"
	"github.com/fyrsmithlabs/mailindex/internal/vectorstore"
)

var (
	collectionsJSON bool
	statsJSON       bool
	deleteYes       bool
	clearYes        bool
)

func init() {
	rootCmd.AddCommand(collectionsCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(clearCmd)
	collectionsCmd.AddCommand(collectionsListCmd)
	collectionsCmd.AddCommand(collectionsDeleteCmd)

	collectionsCmd.PersistentFlags().BoolVar(&collectionsJSON, "json", false, "print as JSON")
	collectionsDeleteCmd.Flags().BoolVarP(&deleteYes, "yes", "y", false, "do not ask for confirmation")
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "print as JSON")
	clearCmd.Flags().BoolVarP(&clearYes, "yes", "y", false, "do not ask for confirmation")
}

var collectionsCmd = &cobra.Command{
	Use:     "collections",
	Aliases: []string{"ls"},
	Short:   "List or delete collections",
	Long: `A collection holds the mail embedded with one model. Its name is derived
from the model, e.g. emails_ollama_nomic_embed_text.

Without a subcommand the collections are listed.`,
	RunE: runCollectionsList,
}

var collectionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List collections with their model and size",
	RunE:  runCollectionsList,
}

var collectionsDeleteCmd = &cobra.Command{
	Use:   "delete <collection>",
	Short: "Delete a collection and its sync state",
	Args:  cobra.ExactArgs(1),
	RunE:  runCollectionsDelete,
}

var statsCmd = &cobra.Command{
	Use:   "stats [collection]",
	Short: "Show a collection's model, size and last sync",
	Long: `Show stats for one collection, or for every collection when none is named.

Examples:
  mailindex stats
  mailindex stats emails_openai_text_embedding_3_small`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStats,
}

var clearCmd = &cobra.Command{
	Use:   "clear <collection>",
	Short: "Remove every message from a collection",
	Long: `Empty a collection and reset its sync watermark. The collection keeps its
model, so the next sync re-embeds everything into it.`,
	Args: cobra.ExactArgs(1),
	RunE: runClear,
}

func runCollectionsList(cmd *cobra.Command, _ []string) error {
	return withRegistry(cmd, func(ctx context.Context, _ *app, reg services.Registry) error {
		infos, err := services.Collections(ctx, reg)
		if err != nil {
			return err
		}
		if collectionsJSON {
			return writeJSON(cmd.OutOrStdout(), infos)
		}
		if len(infos) == 0 {
			fprintf(cmd.OutOrStdout(), "no collections yet; run `mailindex sync`\n")
			return nil
		}
		printCollections(cmd.OutOrStdout(), infos)
		return nil
	})
}

func printCollections(w io.Writer, infos []vectorstore.CollectionInfo) {
	rows := make([][]string, 0, len(infos))
	for _, ci := range infos {
		rows = append(rows, []string{
			ci.Name,
			ci.ModelID,
			fmt.Sprintf("%d", ci.Dimension),
			count(ci.MemberCount),
			formatDate(ci.LastSync),
		})
	}
	fprintf(w, "%s\n", renderTable([]string{"COLLECTION", "MODEL", "DIM", "EMAILS", "LAST SYNC"}, rows))
}

func runCollectionsDelete(cmd *cobra.Command, args []string) error {
	name := args[0]
	if !deleteYes && !confirm(cmd, fmt.Sprintf("Delete collection %s and its sync state?", name)) {
		return fmt.Errorf("aborted")
	}
	return withRegistry(cmd, func(ctx context.Context, _ *app, reg services.Registry) error {
		if err := services.DeleteCollection(ctx, reg, name); err != nil {
			return err
		}
		cmd.Printf("%s deleted %s\n", okStyle.Render("✓"), name)
		return nil
	})
}

func runStats(cmd *cobra.Command, args []string) error {
	return withRegistry(cmd, func(ctx context.Context, _ *app, reg services.Registry) error {
		var infos []vectorstore.CollectionInfo
		if len(args) == 1 {
			st, err := services.Stats(ctx, reg, args[0])
			if err != nil {
				return err
			}
			infos = append(infos, st.CollectionInfo)
		} else {
			all, err := services.Collections(ctx, reg)
			if err != nil {
				return err
			}
			infos = all
		}
		if statsJSON {
			return writeJSON(cmd.OutOrStdout(), infos)
		}
		for _, ci := range infos {
			printStats(cmd.OutOrStdout(), ci)
		}
		return nil
	})
}

func printStats(w io.Writer, ci vectorstore.CollectionInfo) {
	fprintf(w, "%s\n", titleStyle.Render(ci.Name))
	rows := [][]string{
		{"model", ci.ModelID},
		{"provider", ci.Provider},
		{"model name", ci.ModelName},
		{"dimension", fmt.Sprintf("%d", ci.Dimension)},
		{"distance", ci.Space},
		{"emails", count(ci.MemberCount)},
		{"last sync", formatDate(ci.LastSync)},
	}
	fprintf(w, "%s\n", renderTable([]string{"FIELD", "VALUE"}, rows))
}

func runClear(cmd *cobra.Command, args []string) error {
	name := args[0]
	if !clearYes && !confirm(cmd, fmt.Sprintf("Remove every message from %s?", name)) {
		return fmt.Errorf("aborted")
	}
	return withRegistry(cmd, func(ctx context.Context, _ *app, reg services.Registry) error {
		if err := services.ClearCollection(ctx, reg, name); err != nil {
			return err
		}
		cmd.Printf("%s cleared %s\n", okStyle.Render("✓"), name)
		return nil
	})
}

// confirm asks a yes/no question on the command's input.
func confirm(cmd *cobra.Command, question string) bool {
	cmd.Printf("%s [y/N] ", question)
	var answer string
	if _, err := fmt.Fscanln(cmd.InOrStdin(), &answer); err != nil {
		return false
	}
	return answer == "y" || answer == "Y" || answer == "yes"
}
