// Package ratelimit implements a sliding-window request limiter keyed by
// caller address. The limit is read live from the config store on every
// check, so a settings update takes effect without rebuilding the limiter.
package ratelimit

import (
	"sync"
	"time"

	"github.com/glyphgate/voicegate/internal/config"
)

// hardCap bounds the number of tracked windows between prune intervals, per
// spec.md §3/§8.
const hardCap = 10000

const pruneInterval = 60 * time.Second

// Clock abstracts time.Now for deterministic tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type window struct {
	count   int
	resetAt time.Time
}

// Limiter is a sliding-window counter configured by reference to a config
// store: each Check reads the store's current rateLimitPerMinute rather than
// capturing it at construction time.
type Limiter struct {
	store *config.Store
	clock Clock

	mu      sync.Mutex
	windows map[string]*window

	done     chan struct{}
	stopOnce sync.Once
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the default wall-clock, primarily for tests.
func WithClock(c Clock) Option {
	return func(l *Limiter) { l.clock = c }
}

// New creates a Limiter bound to store and starts its background pruner.
// Close stops the pruner for clean teardown.
func New(store *config.Store, opts ...Option) *Limiter {
	l := &Limiter{
		store:   store,
		clock:   realClock{},
		windows: make(map[string]*window),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	go l.prunePeriodically()
	return l
}

// Check reports whether key is still within its current per-minute window.
// The first call for a key (or the first after its window resets) always
// succeeds and starts a fresh window.
func (l *Limiter) Check(key string) bool {
	limit := l.store.Get().Server.RateLimitPerMinute

	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		l.windows[key] = &window{count: 1, resetAt: now.Add(time.Minute)}
		l.pruneIfOverCapLocked(now)
		return true
	}

	w.count++
	return w.count <= limit
}

// pruneIfOverCapLocked runs Prune synchronously when the map has grown past
// hardCap, an eager safeguard between background prune ticks. Caller must
// hold l.mu.
func (l *Limiter) pruneIfOverCapLocked(now time.Time) {
	if len(l.windows) <= hardCap {
		return
	}
	l.pruneLocked(now)
}

// Prune removes every window whose resetAt has passed.
func (l *Limiter) Prune() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(l.clock.Now())
}

func (l *Limiter) pruneLocked(now time.Time) {
	for key, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, key)
		}
	}
}

func (l *Limiter) prunePeriodically() {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.Prune()
		}
	}
}

// Close stops the background pruner. The Limiter must not be used after
// Close returns.
func (l *Limiter) Close() {
	l.stopOnce.Do(func() {
		close(l.done)
	})
}
