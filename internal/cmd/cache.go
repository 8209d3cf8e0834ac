package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reelsync/reelsync/internal/output"
)

var cacheOutputFormat string

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and manage the local read cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache entry counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(cacheOutputFormat)
		if err != nil {
			return err
		}

		sess, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer sess.Close()

		stats, err := sess.syncer.CacheStats(cmd.Context())
		if err != nil {
			return err
		}

		rendered, err := output.FormatCacheStats(format, stats)
		if err != nil {
			return err
		}
		fmt.Println(rendered)
		return nil
	},
}

var cacheSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove expired cache entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer sess.Close()

		removed, err := sess.syncer.SweepExpiredCache(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d expired entr%s.\n", removed, pluralY(removed))
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cache entry",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer sess.Close()

		removed, err := sess.syncer.ClearCache(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d entr%s.\n", removed, pluralY(removed))
		return nil
	},
}

func pluralY(n int64) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheSweepCmd)
	cacheCmd.AddCommand(cacheClearCmd)

	cacheStatsCmd.Flags().StringVarP(&cacheOutputFormat, "output-format", "f", "table", "output format: table|json|markdown")
}
