package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/reelsync/reelsync/internal/core"
	"github.com/reelsync/reelsync/internal/observability"
)

var (
	saveMethod  string
	saveSyncKey string
	savePayload string
)

var saveCmd = &cobra.Command{
	Use:   "save URL",
	Short: "Save tracker data, buffering it when the backend is unreachable",
	Long: `Save tracker data to the backend.

When the backend is unreachable the write is buffered in the local queue
and replayed on the next sync pass. A buffered write prints the payload
back as a provisional value.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		url := strings.TrimSpace(args[0])
		method := core.Method(strings.ToUpper(strings.TrimSpace(saveMethod)))
		if !method.Valid() {
			return fmt.Errorf("invalid --method %q: must be POST, PUT, PATCH or DELETE", saveMethod)
		}
		if strings.TrimSpace(saveSyncKey) == "" {
			return fmt.Errorf("--sync-key is required")
		}

		var payload json.RawMessage
		if strings.TrimSpace(savePayload) != "" {
			if !json.Valid([]byte(savePayload)) {
				return fmt.Errorf("--payload must be valid JSON")
			}
			payload = json.RawMessage(savePayload)
		}

		sess, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer sess.Close()

		online := sess.probeOnline(cmd.Context())
		observability.CLILogger.Debug("Connectivity probe", zap.Bool("online", online))

		result, err := sess.syncer.Save(cmd.Context(), url, method, strings.TrimSpace(saveSyncKey), payload)
		if err != nil {
			return err
		}

		if result.Provisional {
			length, _ := sess.syncer.QueueLength(cmd.Context())
			fmt.Printf("Buffered offline (queue length %d). Provisional value:\n%s\n", length, string(result.Value))
			return nil
		}

		fmt.Printf("Saved.\n%s\n", string(result.Value))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(saveCmd)

	saveCmd.Flags().StringVarP(&saveMethod, "method", "m", "POST", "HTTP method: POST|PUT|PATCH|DELETE")
	saveCmd.Flags().StringVarP(&saveSyncKey, "sync-key", "k", "", "logical write identity for offline dedup (required)")
	saveCmd.Flags().StringVarP(&savePayload, "payload", "d", "", "JSON payload")
}
