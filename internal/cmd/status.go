package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reelsync/reelsync/internal/output"
)

var statusOutputFormat string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connectivity and queue state",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(statusOutputFormat)
		if err != nil {
			return err
		}

		sess, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer sess.Close()

		sess.probeOnline(cmd.Context())

		status, err := sess.syncer.Status(cmd.Context())
		if err != nil {
			return err
		}

		rendered, err := output.FormatStatus(format, status)
		if err != nil {
			return err
		}
		fmt.Println(rendered)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVarP(&statusOutputFormat, "output-format", "f", "table", "output format: table|json|markdown")
}
