package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/mailindex/internal/services"
)

var (
	testProvider string
	testModel    string
	testJSON     bool
)

func init() {
	rootCmd.AddCommand(testCmd)
	testCmd.Flags().StringVar(&testProvider, "provider", "", "provider to check (default embeddings.provider)")
	testCmd.Flags().StringVar(&testModel, "model", "", "model to check (default the provider's configured or default model)")
	testCmd.Flags().BoolVar(&testJSON, "json", false, "print the result as JSON")
}

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Check that an embedding provider answers",
	Long: `Build the provider, send it a probe and report the embedding dimension.

Examples:
  mailindex test
  mailindex test --provider openai
  mailindex test --provider ollama --model mxbai-embed-large`,
	RunE: runTest,
}

func runTest(cmd *cobra.Command, _ []string) error {
	return withRegistry(cmd, func(ctx context.Context, _ *app, reg services.Registry) error {
		st, err := services.TestProvider(ctx, reg, testProvider, testModel)
		if err != nil {
			return err
		}
		if testJSON {
			if err := writeJSON(cmd.OutOrStdout(), st); err != nil {
				return err
			}
		} else {
			printProviderStatus(cmd, st)
		}
		if !st.Connected || st.Error != "" {
			return fmt.Errorf("provider %s is not usable", st.ModelID)
		}
		return nil
	})
}
