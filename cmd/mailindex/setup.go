package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/mailindex/internal/config"
	"github.com/fyrsmithlabs/mailindex/internal/services"
)

var (
	setupProvider  string
	setupModel     string
	setupSourceDir string
	setupForce     bool
	setupNoProbe   bool
)

func init() {
	rootCmd.AddCommand(setupCmd)
	setupCmd.Flags().StringVar(&setupProvider, "provider", "", "embedding provider (ollama, openai, fastembed)")
	setupCmd.Flags().StringVar(&setupModel, "model", "", "embedding model (default: the provider's default)")
	setupCmd.Flags().StringVar(&setupSourceDir, "source-dir", "", "mail directory to index (default ~/Mail)")
	setupCmd.Flags().BoolVarP(&setupForce, "force", "f", false, "overwrite an existing config file")
	setupCmd.Flags().BoolVar(&setupNoProbe, "no-probe", false, "skip the provider connectivity check")
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Write a config file and check the embedding provider",
	Long: `Write a default config file with 0600 permissions, create the index
directory and check that the embedding provider answers.

API keys are never written to the file. Put them in the environment or in a
.env file in the working directory (OPENAI_API_KEY,
MAILINDEX_INDEX_QDRANT_API_KEY).

Examples:
  # Local embeddings through Ollama
  mailindex setup

  # OpenAI with the large model
  mailindex setup --provider openai --model text-embedding-3-large

  # Replace an existing config
  mailindex setup --force`,
	RunE: runSetup,
}

func runSetup(cmd *cobra.Command, _ []string) error {
	path := configPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return err
		}
		path = p
	}

	cfg := config.Default()
	if setupProvider != "" {
		cfg.Embeddings.Provider = setupProvider
	}
	cfg.Embeddings.Model = setupModel
	if setupSourceDir != "" {
		cfg.Sync.SourceDir = setupSourceDir
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := config.Write(path, cfg, setupForce); err != nil {
		if errors.Is(err, config.ErrConfigExists) {
			return fmt.Errorf("%w (use --force to replace it)", err)
		}
		return err
	}
	cmd.Printf("%s wrote %s\n", okStyle.Render("✓"), path)
	configPath = path

	if setupNoProbe {
		return nil
	}
	return withRegistry(cmd, func(ctx context.Context, a *app, reg services.Registry) error {
		cmd.Printf("%s index ready at %s (%s)\n", okStyle.Render("✓"), a.cfg.Index.Path, a.cfg.Index.Backend)
		st, err := services.TestProvider(ctx, reg, "", "")
		if err != nil {
			return err
		}
		printProviderStatus(cmd, st)
		if !st.Connected {
			cmd.Println(dimStyle.Render("The config was written; fix the provider and run `mailindex test`."))
		}
		return nil
	})
}

func printProviderStatus(cmd *cobra.Command, st services.ProviderStatus) {
	if st.Connected && st.Error == "" {
		cmd.Printf("%s %s/%s answered (dimension %d, collection id %s)\n",
			okStyle.Render("✓"), st.Provider, st.Model, st.Dimension, st.ModelID)
		return
	}
	cmd.Printf("%s %s/%s: %s\n", failStyle.Render("✗"), st.Provider, st.Model, st.Error)
}
