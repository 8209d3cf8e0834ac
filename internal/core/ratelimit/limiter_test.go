package ratelimit

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fixedClock(at *time.Time) func() time.Time {
	return func() time.Time { return *at }
}

func TestAllowWithinWindow(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	limiter := New(map[string]Rule{
		"search": {Limit: 2, Window: 10 * time.Second},
	})
	limiter.Clock = fixedClock(&now)

	require.True(t, limiter.Allow("/api/search?q=dune"))
	require.True(t, limiter.Allow("/api/search?q=dune"))
	require.False(t, limiter.Allow("/api/search?q=dune"))
}

func TestWindowReopensAfterOldestExpires(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	limiter := New(map[string]Rule{
		"search": {Limit: 1, Window: 10 * time.Second},
	})
	limiter.Clock = fixedClock(&now)

	require.True(t, limiter.Allow("/api/search"))
	require.False(t, limiter.Allow("/api/search"))

	now = now.Add(10*time.Second + time.Millisecond)
	require.True(t, limiter.Allow("/api/search"))
}

func TestAllowIsCheckAndReserve(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	limiter := New(map[string]Rule{
		"rating": {Limit: 2, Window: time.Minute},
	})
	limiter.Clock = fixedClock(&now)

	// Two probes without real requests consume both slots.
	require.True(t, limiter.Allow("/api/rating/42"))
	require.True(t, limiter.Allow("/api/rating/42"))
	require.Equal(t, 0, limiter.Remaining("/api/rating/42"))
}

func TestPeekDoesNotReserve(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	limiter := New(map[string]Rule{
		"rating": {Limit: 1, Window: time.Minute},
	})
	limiter.Clock = fixedClock(&now)

	require.True(t, limiter.Peek("/api/rating/42"))
	require.True(t, limiter.Peek("/api/rating/42"))
	require.Equal(t, 1, limiter.Remaining("/api/rating/42"))
}

func TestRetryAfterAgreesWithPeek(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	limiter := New(map[string]Rule{
		"review": {Limit: 1, Window: 30 * time.Second},
	})
	limiter.Clock = fixedClock(&now)

	require.Zero(t, limiter.RetryAfter("/api/review/7"))
	require.True(t, limiter.Peek("/api/review/7"))

	require.True(t, limiter.Allow("/api/review/7"))

	require.False(t, limiter.Peek("/api/review/7"))
	require.Equal(t, 30*time.Second, limiter.RetryAfter("/api/review/7"))

	now = now.Add(12 * time.Second)
	require.Equal(t, 18*time.Second, limiter.RetryAfter("/api/review/7"))
}

func TestResolveKeyLongestMatchAndDefault(t *testing.T) {
	limiter := New(map[string]Rule{
		"review":        {Limit: 5, Window: time.Minute},
		"review/recent": {Limit: 2, Window: time.Minute},
	})

	require.Equal(t, "review/recent", limiter.resolveKeyLocked("/api/review/recent?page=1"))
	require.Equal(t, "review", limiter.resolveKeyLocked("/api/review/7"))
	require.Equal(t, DefaultKey, limiter.resolveKeyLocked("/api/movies/550"))
}

func TestSetRuleReplacesBudget(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	limiter := New(nil)
	limiter.Clock = fixedClock(&now)

	limiter.SetRule("search", Rule{Limit: 1, Window: time.Minute})
	require.True(t, limiter.Allow("/api/search"))
	require.False(t, limiter.Allow("/api/search"))

	limiter.SetRule("search", Rule{Limit: 3, Window: time.Minute})
	require.True(t, limiter.Allow("/api/search"))
}

func TestResetClearsLogs(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	limiter := New(map[string]Rule{
		"search": {Limit: 1, Window: time.Minute},
		"rating": {Limit: 1, Window: time.Minute},
	})
	limiter.Clock = fixedClock(&now)

	require.True(t, limiter.Allow("/api/search"))
	require.True(t, limiter.Allow("/api/rating/1"))

	limiter.Reset("search")
	require.True(t, limiter.Peek("/api/search"))
	require.False(t, limiter.Peek("/api/rating/1"))

	limiter.Reset()
	require.True(t, limiter.Peek("/api/rating/1"))
}

func TestSnapshotReportsConfiguredClasses(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	limiter := New(map[string]Rule{
		"search": {Limit: 2, Window: time.Minute},
	})
	limiter.Clock = fixedClock(&now)

	require.True(t, limiter.Allow("/api/search"))

	var entry *SnapshotEntry
	for _, candidate := range limiter.Snapshot() {
		if candidate.Key == "search" {
			entry = &candidate
			break
		}
	}
	require.NotNil(t, entry)
	require.Equal(t, 2, entry.Limit)
	require.Equal(t, 1, entry.InWindow)
	require.Equal(t, 1, entry.Remaining)
	require.Zero(t, entry.RetryAfter)
}

func TestLoadRulesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	content := "search:\n  limit: 3\n  window: 10s\nbroken:\n  limit: 0\n  window: 1m\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	rules, err := LoadRulesFile(path)
	require.NoError(t, err)
	require.Equal(t, map[string]Rule{"search": {Limit: 3, Window: 10 * time.Second}}, rules)

	_, err = LoadRulesFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
