package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/reelsync/reelsync/internal/core/ratelimit"
	"github.com/reelsync/reelsync/internal/output"
)

var (
	rateLimitOutputFormat string
	rateLimitBudget       int
	rateLimitWindow       time.Duration
)

var rateLimitCmd = &cobra.Command{
	Use:   "rate-limit",
	Short: "Inspect and tune per-endpoint-class request budgets",
}

var rateLimitListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the current budgets and window usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(rateLimitOutputFormat)
		if err != nil {
			return err
		}

		sess, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer sess.Close()

		rendered, err := output.FormatRateLimits(format, sess.limiter.Snapshot())
		if err != nil {
			return err
		}
		fmt.Println(rendered)
		return nil
	},
}

var rateLimitSetCmd = &cobra.Command{
	Use:   "set KEY",
	Short: "Override the budget for an endpoint class",
	Long: `Override the request budget for an endpoint class.

Overrides set here apply to this invocation only. Persist them under
rate_limits in the config file to make them stick.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := strings.TrimSpace(args[0])
		if key == "" {
			return fmt.Errorf("key must not be empty")
		}
		if rateLimitBudget <= 0 {
			return fmt.Errorf("--budget must be positive")
		}
		if rateLimitWindow <= 0 {
			return fmt.Errorf("--window must be positive")
		}

		sess, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer sess.Close()

		sess.limiter.SetRule(key, ratelimit.Rule{Limit: rateLimitBudget, Window: rateLimitWindow})

		rendered, err := output.FormatRateLimits(output.FormatTable, sess.limiter.Snapshot())
		if err != nil {
			return err
		}
		fmt.Println(rendered)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rateLimitCmd)
	rateLimitCmd.AddCommand(rateLimitListCmd)
	rateLimitCmd.AddCommand(rateLimitSetCmd)

	rateLimitListCmd.Flags().StringVarP(&rateLimitOutputFormat, "output-format", "f", "table", "output format: table|json|markdown")
	rateLimitSetCmd.Flags().IntVar(&rateLimitBudget, "budget", 0, "requests allowed per window (required)")
	rateLimitSetCmd.Flags().DurationVar(&rateLimitWindow, "window", 0, "window duration, e.g. 30s (required)")
}
