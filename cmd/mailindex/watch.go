package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mailindex/internal/config"
	"github.com/fyrsmithlabs/mailindex/internal/services"
	"github.com/fyrsmithlabs/mailindex/internal/watcher"
)

var (
	watchProvider  string
	watchModel     string
	watchNoInitial bool
)

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVar(&watchProvider, "provider", "", "embedding provider (default embeddings.provider)")
	watchCmd.Flags().StringVar(&watchModel, "model", "", "embedding model (default embeddings.model)")
	watchCmd.Flags().BoolVar(&watchNoInitial, "no-initial-sync", false, "wait for new mail before the first sync")
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Sync new mail as it arrives",
	Long: `Watch sync.source_dir and run an incremental sync once new messages stop
arriving for sync.watch_debounce. New maildir folders are picked up
automatically. Stop with Ctrl-C.`,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, _ []string) error {
	return withRegistry(cmd, func(ctx context.Context, a *app, reg services.Registry) error {
		dir, err := config.ExpandPath(a.cfg.Sync.SourceDir)
		if err != nil {
			return err
		}
		logger := a.logger.Underlying().Named("watch")

		syncFn := func(ctx context.Context) error {
			resp, err := services.Sync(ctx, reg, services.SyncRequest{
				Incremental: true,
				Provider:    watchProvider,
				Model:       watchModel,
			})
			if err != nil {
				return err
			}
			logger.Info("sync finished",
				zap.String("collection", resp.Collection),
				zap.Int("inserted", resp.Inserted),
				zap.Int("skipped", resp.Skipped),
				zap.Int("absent", resp.Absent),
			)
			return nil
		}

		w, err := watcher.New(dir, syncFn, watcher.Options{
			Debounce:    a.cfg.Sync.WatchDebounce.Duration(),
			SyncOnStart: !watchNoInitial,
		}, logger)
		if err != nil {
			return err
		}
		cmd.Printf("watching %s (Ctrl-C to stop)\n", dir)
		return w.Run(ctx)
	})
}
