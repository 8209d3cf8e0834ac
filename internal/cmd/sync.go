package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/reelsync/reelsync/internal/core/engine"
	"github.com/reelsync/reelsync/internal/observability"
	"github.com/reelsync/reelsync/internal/output"
)

var syncOutputFormat string

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Replay the buffered write queue against the backend",
	Long: `Replay buffered writes in enqueue order.

Operations that fail are requeued and retried on later passes until the
retry ceiling is reached, after which they are dropped. A rate limited
replay stops the pass and leaves the remaining operations queued.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(syncOutputFormat)
		if err != nil {
			return err
		}

		sess, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer sess.Close()

		if online := sess.probeOnline(cmd.Context()); !online {
			return fmt.Errorf("backend unreachable at %s, queue left intact", sess.cfg.Backend.BaseURL)
		}

		result, err := sess.syncer.Sync(cmd.Context())
		if err != nil {
			if errors.Is(err, engine.ErrSyncInProgress) {
				return fmt.Errorf("a sync pass is already running")
			}
			return err
		}

		observability.CLILogger.Info("Sync pass finished",
			zap.Int("synced", result.Synced),
			zap.Int("failed", result.Failed),
			zap.Int("remaining", result.Remaining))

		rendered, err := output.FormatSyncResult(format, result)
		if err != nil {
			return err
		}
		fmt.Println(rendered)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().StringVarP(&syncOutputFormat, "output-format", "f", "table", "output format: table|json|markdown")
}
