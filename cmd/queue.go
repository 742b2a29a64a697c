package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/queue"
)

var (
	queueLimit  int
	queueSource string
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Work with the lead request queue",
}

var queueProcessCmd = &cobra.Command{
	Use:   "process",
	Short: "Run pending and queued lead requests",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if queueSource != "" {
			cfg.Queue.Source = queueSource
		}
		env, err := initPipeline(ctx, "queue")
		if err != nil {
			return err
		}
		defer env.Close()

		src, err := initQueueSource(env.Store, cfg.Queue.Source)
		if err != nil {
			return err
		}

		limit := queueLimit
		if limit <= 0 {
			limit = cfg.Queue.Limit
		}

		sum, err := queue.NewProcessor(src, env.Orchestrator).Process(ctx, limit)
		zap.L().Info("queue processing complete",
			zap.String("source", cfg.Queue.Source),
			zap.Int("fetched", sum.Fetched),
			zap.Int("succeeded", sum.Succeeded),
			zap.Int("failed", sum.Failed),
		)
		return err
	},
}

func init() {
	queueProcessCmd.Flags().IntVar(&queueLimit, "limit", 0, "max requests to process (default from config)")
	queueProcessCmd.Flags().StringVar(&queueSource, "source", "", "queue source: store or notion (default from config)")
	queueCmd.AddCommand(queueProcessCmd)
	rootCmd.AddCommand(queueCmd)
}
