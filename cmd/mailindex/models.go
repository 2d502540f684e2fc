package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/mailindex/internal/embeddings"
	"github.com/fyrsmithlabs/mailindex/pkg/collections"
)

var (
	modelsProvider string
	modelsNoLocal  bool
)

func init() {
	rootCmd.AddCommand(modelsCmd)
	modelsCmd.Flags().StringVar(&modelsProvider, "provider", "", "only list this provider's models")
	modelsCmd.Flags().BoolVar(&modelsNoLocal, "no-local", false, "do not ask Ollama which models are installed")
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the embedding models mailindex knows about",
	Long: `List the catalogue of embedding models with their dimensions.

For Ollama the installed models are listed as well, so you can see which
catalogue entries still need a pull. Models outside the catalogue work too;
their dimension is probed on first use.`,
	RunE: runModels,
}

func runModels(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := loadApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	settings, err := embeddings.SettingsFromConfig(a.cfg.Embeddings)
	if err != nil {
		return err
	}
	current, _ := settings.Identity()

	var installed map[string]bool
	showOllama := modelsProvider == "" || modelsProvider == collections.ProviderOllama
	if showOllama && !modelsNoLocal {
		names, err := ollamaModels(ctx, settings, a)
		if err != nil {
			cmd.PrintErrln(dimStyle.Render(fmt.Sprintf("ollama: %v", err)))
		} else {
			installed = make(map[string]bool, len(names))
			for _, n := range names {
				installed[strings.TrimSuffix(n, ":latest")] = true
			}
		}
	}

	fprintf(cmd.OutOrStdout(), "%s\n", modelRows(embeddings.Catalog(modelsProvider), current, installed))
	return nil
}

func ollamaModels(ctx context.Context, s embeddings.Settings, a *app) ([]string, error) {
	cfg := s.Ollama
	cfg.Model = embeddings.DefaultModel(collections.ProviderOllama)
	p, err := embeddings.NewOllamaProvider(cfg, a.logger.Underlying())
	if err != nil {
		return nil, err
	}
	defer func() { _ = p.Close() }()
	return p.ListLocalModels(ctx)
}

// modelRows renders the catalogue. installed is nil when Ollama was not
// asked or did not answer.
func modelRows(models []embeddings.ModelInfo, current collections.ModelIdentity, installed map[string]bool) string {
	rows := make([][]string, 0, len(models))
	for _, m := range models {
		mark := ""
		if m.Identity() == current {
			mark = "*"
		}
		local := ""
		if m.Provider == collections.ProviderOllama && installed != nil {
			local = status(installed[m.Name], "installed", "not pulled")
		}
		rows = append(rows, []string{
			mark,
			m.Provider,
			m.Name,
			fmt.Sprintf("%d", m.Dimension),
			m.Description,
			local,
		})
	}
	return renderTable([]string{"", "PROVIDER", "MODEL", "DIM", "NOTES", "LOCAL"}, rows)
}
