// Package ratelimit enforces per-model tokens-per-minute quotas for LLM calls.
// One process-wide Limiter throttles every caller; it never fails a request,
// it only delays it.
package ratelimit

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	// window is the sliding accounting window.
	window = time.Minute

	// softCeiling is the fraction of the quota above which new calls block.
	softCeiling = 0.7
)

// DefaultQuotas holds the seeded tokens-per-minute quotas.
// Unknown model names fall back to the flash bucket.
var DefaultQuotas = map[string]int{
	"gemini-2.5-pro":   2_000_000,
	"gemini-2.5-flash": 1_000_000,
}

const defaultBucket = "gemini-2.5-flash"

type usageEntry struct {
	at     time.Time
	tokens int
}

// Limiter is a process-wide sliding-window token accountant.
// Safe for concurrent use; all updates to a single model bucket are atomic.
type Limiter struct {
	mu     sync.Mutex
	quotas map[string]int
	usage  map[string][]usageEntry

	// injectable for tests
	now func() time.Time
}

// New creates a Limiter with the given quotas. Passing nil uses DefaultQuotas.
func New(quotas map[string]int) *Limiter {
	if quotas == nil {
		quotas = DefaultQuotas
	}
	qs := make(map[string]int, len(quotas))
	for k, v := range quotas {
		qs[k] = v
	}
	return &Limiter{
		quotas: qs,
		usage:  make(map[string][]usageEntry),
		now:    time.Now,
	}
}

// bucketKey normalizes a model name to its quota bucket.
// Variant names (preview suffixes, vendor prefixes) map onto the base
// bucket; anything unrecognized lands in the flash bucket.
func (l *Limiter) bucketKey(model string) string {
	if _, ok := l.quotas[model]; ok {
		return model
	}
	for key := range l.quotas {
		if strings.Contains(model, key) {
			return key
		}
	}
	return defaultBucket
}

// WaitIfNeeded blocks until the model's usage over the last 60 seconds is
// at or below 70% of its quota. It returns early with the context error if
// ctx is cancelled while waiting. With no usage history it returns
// immediately.
func (l *Limiter) WaitIfNeeded(ctx context.Context, model string) error {
	key := l.bucketKey(model)
	quota := l.quotas[key]
	if quota <= 0 {
		quota = l.quotas[defaultBucket]
	}
	ceiling := int(float64(quota) * softCeiling)

	for {
		l.mu.Lock()
		now := l.now()
		l.pruneLocked(key, now)
		used := 0
		var oldest time.Time
		for i, e := range l.usage[key] {
			used += e.tokens
			if i == 0 {
				oldest = e.at
			}
		}
		l.mu.Unlock()

		if used <= ceiling {
			return nil
		}

		wait := oldest.Add(window).Sub(now)
		if wait <= 0 {
			wait = 100 * time.Millisecond
		}
		slog.Debug("Rate limiter throttling LLM call",
			"model", model, "bucket", key, "used", used, "ceiling", ceiling, "wait", wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// RecordUsage appends a usage entry to the model's bucket and drops entries
// older than the window.
func (l *Limiter) RecordUsage(model string, tokens int) {
	if tokens <= 0 {
		return
	}
	key := l.bucketKey(model)

	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.usage[key] = append(l.usage[key], usageEntry{at: now, tokens: tokens})
	l.pruneLocked(key, now)
}

// WindowUsage reports the tokens recorded for the model over the last
// 60 seconds. Used by health reporting and tests.
func (l *Limiter) WindowUsage(model string) int {
	key := l.bucketKey(model)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(key, l.now())
	total := 0
	for _, e := range l.usage[key] {
		total += e.tokens
	}
	return total
}

// pruneLocked drops entries older than the window. Caller holds l.mu.
func (l *Limiter) pruneLocked(key string, now time.Time) {
	entries := l.usage[key]
	cutoff := now.Add(-window)
	i := 0
	for i < len(entries) && !entries[i].at.After(cutoff) {
		i++
	}
	if i > 0 {
		l.usage[key] = append([]usageEntry(nil), entries[i:]...)
	}
}
