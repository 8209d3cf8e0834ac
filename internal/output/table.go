package output

import (
	"fmt"
	"math"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/reelsync/reelsync/internal/core"
	"github.com/reelsync/reelsync/internal/core/ratelimit"
)

// FormatQueue renders the buffered operations in replay order.
func FormatQueue(format Format, ops []core.SyncOperation) (string, error) {
	if format == FormatJSON {
		return renderJSON(ops)
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"#", "Method", "URL", "Sync Key", "Retries", "Enqueued"})

	for i, op := range ops {
		t.AppendRow(table.Row{
			i + 1,
			string(op.Method),
			op.URL,
			op.SyncKey,
			op.RetryCount,
			op.EnqueuedAt.UTC().Format(time.RFC3339),
		})
	}

	t.AppendFooter(table.Row{"", "", "", "", "", fmt.Sprintf("%d pending", len(ops))})

	return render(t, format), nil
}

// FormatCacheStats renders cache table statistics.
func FormatCacheStats(format Format, stats *core.CacheStats) (string, error) {
	if format == FormatJSON {
		return renderJSON(stats)
	}

	oldest := "-"
	if stats != nil && stats.OldestStoredAt != nil {
		oldest = stats.OldestStoredAt.UTC().Format(time.RFC3339)
	}

	entries, expired := 0, 0
	if stats != nil {
		entries = stats.Entries
		expired = stats.Expired
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Entries", "Expired", "Oldest"})
	t.AppendRow(table.Row{entries, expired, oldest})

	return render(t, format), nil
}

// FormatRateLimits renders the per-endpoint-class budgets.
func FormatRateLimits(format Format, entries []ratelimit.SnapshotEntry) (string, error) {
	if format == FormatJSON {
		return renderJSON(entries)
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Class", "Limit", "Window", "In Window", "Remaining", "Retry After"})

	for _, entry := range entries {
		retryAfter := "-"
		if entry.RetryAfter > 0 {
			retryAfter = fmt.Sprintf("%ds", int(math.Ceil(entry.RetryAfter.Seconds())))
		}
		t.AppendRow(table.Row{
			entry.Key,
			entry.Limit,
			entry.Window.String(),
			entry.InWindow,
			entry.Remaining,
			retryAfter,
		})
	}

	return render(t, format), nil
}

// FormatSyncResult renders the outcome of one replay pass.
func FormatSyncResult(format Format, result *core.SyncResult) (string, error) {
	if format == FormatJSON {
		return renderJSON(result)
	}

	synced, failed, remaining := 0, 0, 0
	if result != nil {
		synced = result.Synced
		failed = result.Failed
		remaining = result.Remaining
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Synced", "Failed", "Remaining"})
	t.AppendRow(table.Row{synced, failed, remaining})

	return render(t, format), nil
}

// FormatStatus renders connectivity and queue state.
func FormatStatus(format Format, status *core.SyncStatus) (string, error) {
	if format == FormatJSON {
		return renderJSON(status)
	}

	online, inProgress, length := false, false, 0
	if status != nil {
		online = status.Online
		inProgress = status.InProgress
		length = status.QueueLength
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Online", "Sync In Progress", "Queue Length"})
	t.AppendRow(table.Row{online, inProgress, length})

	return render(t, format), nil
}

func render(t table.Writer, format Format) string {
	if format == FormatMarkdown {
		return t.RenderMarkdown()
	}
	return t.Render()
}
