// Package ratelimit implements per-endpoint sliding-window admission control
// for outbound calls. Each endpoint class keeps a pruned log of admitted
// request timestamps; a request is admitted while the log holds fewer than
// Limit entries younger than Window.
package ratelimit

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultKey is the fallback endpoint class for URLs that match no
// configured pattern.
const DefaultKey = "default"

// Rule is one sliding-window budget.
type Rule struct {
	Limit  int           `json:"limit"`
	Window time.Duration `json:"window"`
}

// DefaultRules provides conservative defaults per endpoint class.
var DefaultRules = map[string]Rule{
	"search":   {Limit: 30, Window: time.Minute},
	"rating":   {Limit: 10, Window: time.Minute},
	"review":   {Limit: 5, Window: time.Minute},
	DefaultKey: {Limit: 60, Window: time.Minute},
}

// Limiter tracks admitted request timestamps per endpoint class.
//
// Allow combines the admission check with the reservation: an admitted call
// is immediately counted against the window, so calling Allow twice without
// issuing a real request consumes two slots. Use Peek to probe without
// consuming one.
type Limiter struct {
	mu    sync.Mutex
	rules map[string]Rule
	log   map[string][]time.Time

	// Clock overrides time.Now for tests.
	Clock func() time.Time
}

// New creates a limiter seeded with DefaultRules merged with overrides.
func New(overrides map[string]Rule) *Limiter {
	rules := make(map[string]Rule, len(DefaultRules)+len(overrides))
	for key, rule := range DefaultRules {
		rules[key] = rule
	}
	for key, rule := range overrides {
		key = strings.TrimSpace(key)
		if key == "" || rule.Limit <= 0 || rule.Window <= 0 {
			continue
		}
		rules[key] = rule
	}

	return &Limiter{
		rules: rules,
		log:   make(map[string][]time.Time),
	}
}

// Allow reports whether a request to url is admitted and, if so, reserves a
// slot in the window.
func (l *Limiter) Allow(url string) bool {
	if l == nil {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := l.resolveKeyLocked(url)
	rule := l.rule(key)
	now := l.now()

	pruned := l.prune(key, now, rule.Window)
	if len(pruned) >= rule.Limit {
		return false
	}

	l.log[key] = append(pruned, now)
	return true
}

// Peek reports whether a request to url would be admitted without reserving
// a slot.
func (l *Limiter) Peek(url string) bool {
	if l == nil {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := l.resolveKeyLocked(url)
	rule := l.rule(key)

	return len(l.prune(key, l.now(), rule.Window)) < rule.Limit
}

// Remaining returns how many requests to url are still admittable in the
// current window, floored at zero.
func (l *Limiter) Remaining(url string) int {
	if l == nil {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := l.resolveKeyLocked(url)
	rule := l.rule(key)

	remaining := rule.Limit - len(l.prune(key, l.now(), rule.Window))
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// RetryAfter returns how long until a request to url becomes admittable.
// Zero means the request is admittable now.
func (l *Limiter) RetryAfter(url string) time.Duration {
	if l == nil {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := l.resolveKeyLocked(url)
	rule := l.rule(key)
	now := l.now()

	pruned := l.prune(key, now, rule.Window)
	if len(pruned) < rule.Limit {
		return 0
	}

	oldest := pruned[0]
	for _, ts := range pruned[1:] {
		if ts.Before(oldest) {
			oldest = ts
		}
	}

	wait := oldest.Add(rule.Window).Sub(now)
	if wait < 0 {
		wait = 0
	}
	return wait
}

// SetRule replaces or inserts the budget for an endpoint class.
func (l *Limiter) SetRule(key string, rule Rule) {
	if l == nil {
		return
	}
	key = strings.TrimSpace(key)
	if key == "" || rule.Limit <= 0 || rule.Window <= 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.rules == nil {
		l.rules = make(map[string]Rule)
	}
	l.rules[key] = rule
}

// Reset clears the timestamp log for the given endpoint classes, or every
// class when none are given.
func (l *Limiter) Reset(keys ...string) {
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(keys) == 0 {
		l.log = make(map[string][]time.Time)
		return
	}
	for _, key := range keys {
		delete(l.log, strings.TrimSpace(key))
	}
}

// SnapshotEntry describes one endpoint class for introspection.
type SnapshotEntry struct {
	Key        string        `json:"key"`
	Limit      int           `json:"limit"`
	Window     time.Duration `json:"window"`
	InWindow   int           `json:"in_window"`
	Remaining  int           `json:"remaining"`
	RetryAfter time.Duration `json:"retry_after"`
}

// Snapshot returns the current state of every configured endpoint class,
// sorted by key. It does not reserve slots.
func (l *Limiter) Snapshot() []SnapshotEntry {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	entries := make([]SnapshotEntry, 0, len(l.rules))
	for key, rule := range l.rules {
		pruned := l.prune(key, now, rule.Window)

		remaining := rule.Limit - len(pruned)
		if remaining < 0 {
			remaining = 0
		}

		var retryAfter time.Duration
		if len(pruned) >= rule.Limit {
			oldest := pruned[0]
			for _, ts := range pruned[1:] {
				if ts.Before(oldest) {
					oldest = ts
				}
			}
			retryAfter = oldest.Add(rule.Window).Sub(now)
			if retryAfter < 0 {
				retryAfter = 0
			}
		}

		entries = append(entries, SnapshotEntry{
			Key:        key,
			Limit:      rule.Limit,
			Window:     rule.Window,
			InWindow:   len(pruned),
			Remaining:  remaining,
			RetryAfter: retryAfter,
		})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries
}

// ResolveKey returns the endpoint class a URL is billed against.
func (l *Limiter) ResolveKey(url string) string {
	if l == nil {
		return DefaultKey
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.resolveKeyLocked(url)
}

// resolveKeyLocked maps a URL to its endpoint class: the longest configured
// non-default pattern contained in the URL wins, unmatched URLs fall back to
// DefaultKey. Callers must hold l.mu.
func (l *Limiter) resolveKeyLocked(url string) string {
	match := ""
	for key := range l.rules {
		if key == DefaultKey {
			continue
		}
		if !strings.Contains(url, key) {
			continue
		}
		if len(key) > len(match) || (len(key) == len(match) && key < match) {
			match = key
		}
	}
	if match == "" {
		return DefaultKey
	}
	return match
}

// prune drops timestamps older than now-window from the key's log and stores
// the result. Callers must hold l.mu.
func (l *Limiter) prune(key string, now time.Time, window time.Duration) []time.Time {
	entries := l.log[key]
	cutoff := now.Add(-window)

	kept := entries[:0]
	for _, ts := range entries {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) == 0 {
		delete(l.log, key)
		return nil
	}
	l.log[key] = kept
	return kept
}

func (l *Limiter) rule(key string) Rule {
	if rule, ok := l.rules[key]; ok {
		return rule
	}
	if rule, ok := l.rules[DefaultKey]; ok {
		return rule
	}
	return DefaultRules[DefaultKey]
}

func (l *Limiter) now() time.Time {
	if l != nil && l.Clock != nil {
		return l.Clock()
	}
	return time.Now().UTC()
}
