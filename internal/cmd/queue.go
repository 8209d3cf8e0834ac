package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/reelsync/reelsync/internal/observability"
	"github.com/reelsync/reelsync/internal/output"
)

var (
	queueOutputFormat string
	queueOutPath      string
	queueOutDir       string
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and manage the offline write queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List buffered operations in replay order",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(queueOutputFormat)
		if err != nil {
			return err
		}

		sess, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer sess.Close()

		ops, err := sess.syncer.Operations(cmd.Context())
		if err != nil {
			return err
		}

		rendered, err := output.FormatQueue(format, ops)
		if err != nil {
			return err
		}

		sink, err := resolveSink(queueOutPath, queueOutDir, "queue", format)
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		fmt.Fprintln(sink.writer, rendered)
		if sink.path != "-" {
			observability.CLILogger.Info("Queue written", zap.String("path", sink.path))
		}
		return nil
	},
}

var queueResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop every buffered operation",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer sess.Close()

		length, err := sess.syncer.QueueLength(cmd.Context())
		if err != nil {
			return err
		}
		if err := sess.syncer.ResetQueue(cmd.Context()); err != nil {
			return err
		}

		fmt.Printf("Dropped %d buffered operation(s).\n", length)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(queueCmd)
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueResetCmd)

	queueListCmd.Flags().StringVarP(&queueOutputFormat, "output-format", "f", "table", "output format: table|json|markdown")
	queueListCmd.Flags().StringVarP(&queueOutPath, "out", "o", "", "write output to file (- for stdout)")
	queueListCmd.Flags().StringVar(&queueOutDir, "out-dir", "", "write output into directory")
}
