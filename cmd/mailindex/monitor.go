package main

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/mailindex/internal/config"
	"github.com/fyrsmithlabs/mailindex/internal/monitor"
)

var (
	monitorURL      string
	monitorInterval time.Duration
)

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().StringVar(&monitorURL, "url", "", "mailindex server URL (default from server.host and server.port)")
	monitorCmd.Flags().DurationVar(&monitorInterval, "interval", 2*time.Second, "refresh interval")
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live dashboard for a running `mailindex serve`",
	Long: `Show search and sync activity, collection sizes and process stats from
the /metrics endpoint of a running server.

Keys: q quit, r refresh.`,
	RunE: runMonitor,
}

func runMonitor(cmd *cobra.Command, _ []string) error {
	url := monitorURL
	if url == "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		url = fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	if monitorInterval < 500*time.Millisecond {
		monitorInterval = 500 * time.Millisecond
	}

	p := tea.NewProgram(monitor.NewModel(url, monitorInterval),
		tea.WithAltScreen(),
		tea.WithContext(cmd.Context()),
	)
	_, err := p.Run()
	if err != nil && cmd.Context().Err() != nil {
		return nil
	}
	return err
}
