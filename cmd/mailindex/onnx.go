//go:build cgo

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/mailindex/internal/embeddings"
)

var forceDownload bool

func init() {
	rootCmd.AddCommand(onnxCmd)
	onnxCmd.Flags().BoolVarP(&forceDownload, "force", "f", false, "Force re-download even if ONNX runtime exists")
}

// onnxCmd installs the runtime the fastembed provider needs.
var onnxCmd = &cobra.Command{
	Use:   "onnx",
	Short: "Install the ONNX runtime for fastembed",
	Long: `Download the ONNX runtime library required for in-process embeddings
with the fastembed provider. The library is installed under the mailindex
cache directory.

If ONNX_PATH environment variable is set, that path takes precedence.

Examples:
  mailindex onnx
  mailindex onnx --force`,
	RunE: runONNX,
}

func runONNX(cmd *cobra.Command, _ []string) error {
	if !forceDownload {
		if path := embeddings.ONNXLibraryPath(); path != "" {
			cmd.Printf("ONNX runtime already installed at: %s\n", path)
			cmd.Println("Use --force to re-download.")
			return nil
		}
	}

	cmd.Printf("Downloading ONNX runtime v%s...\n", embeddings.DefaultONNXRuntimeVersion)
	if err := embeddings.DownloadONNXRuntime(cmd.Context(), ""); err != nil {
		return fmt.Errorf("failed to download ONNX runtime: %w", err)
	}

	path := embeddings.ONNXLibraryPath()
	if path == "" {
		return fmt.Errorf("download completed but library not found")
	}
	cmd.Printf("Successfully installed ONNX runtime to: %s\n", path)
	return nil
}
