package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/reelsync/reelsync/internal/core/engine"
	"github.com/reelsync/reelsync/internal/observability"
)

var getRefresh bool

var getCmd = &cobra.Command{
	Use:   "get KEY",
	Short: "Fetch data, with the local cache as offline fallback",
	Long: `Fetch data for a key from the backend, writing the response through the
local cache. When the backend cannot be reached the last cached value is
served instead; offline with no cached value is an error.

--refresh forces a backend read and fails rather than serving stale data.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := strings.TrimSpace(args[0])
		if key == "" {
			return fmt.Errorf("key must not be empty")
		}

		sess, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer sess.Close()

		online := sess.probeOnline(cmd.Context())
		observability.CLILogger.Debug("Connectivity probe", zap.Bool("online", online))

		value, fromCache, err := sess.syncer.Get(cmd.Context(), key, getRefresh)
		if err != nil {
			if errors.Is(err, engine.ErrOffline) {
				return fmt.Errorf("offline and no cached entry for %s", key)
			}
			return err
		}

		if fromCache {
			observability.CLILogger.Debug("Served from cache", zap.String("key", key))
		}
		fmt.Println(string(value))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(getCmd)
	getCmd.Flags().BoolVar(&getRefresh, "refresh", false, "force a backend read, never serving the cache")
}
