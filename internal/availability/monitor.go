// Package availability answers one question — "can we talk to the upstream
// system right now" — by composing token validity with a gateway wake
// check, caching the verdict to avoid redundant probes.
package availability

import (
	"context"
	"sync"
	"time"

	"github.com/seventic/acelle-sync/internal/pkg/logger"
)

// TokenSource is the slice of the token provider the monitor needs.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	ForceRefresh(ctx context.Context) (string, error)
}

// Waker wakes the proxy gateway (a cold-started instance records a fresh
// heartbeat and is ready to relay).
type Waker interface {
	Wake(ctx context.Context) error
}

const (
	defaultVerdictTTL = 60 * time.Second
	inflightPoll      = 100 * time.Millisecond
	backgroundPeriod  = 5 * time.Minute
)

// Monitor caches the last availability verdict process-wide. Concurrent
// callers share one in-flight check; whichever refresh completes last wins
// the cache, which is safe because verdicts are idempotently re-derived.
type Monitor struct {
	tokens TokenSource
	waker  Waker
	ttl    time.Duration

	mu        sync.Mutex
	checking  bool
	lastCheck time.Time
	available bool
	lastErr   error
}

// NewMonitor creates a monitor with the given verdict TTL. A zero TTL
// falls back to 60 seconds.
func NewMonitor(tokens TokenSource, waker Waker, ttl time.Duration) *Monitor {
	if ttl <= 0 {
		ttl = defaultVerdictTTL
	}
	return &Monitor{tokens: tokens, waker: waker, ttl: ttl}
}

// Ensure returns the availability verdict. If a check is already in
// flight it waits for that one instead of starting a duplicate. A cached
// successful verdict younger than the TTL is returned unless forceRefresh
// is set. A failed wake gets exactly one retry after a forced token
// refresh.
func (m *Monitor) Ensure(ctx context.Context, forceRefresh bool) (bool, error) {
	m.mu.Lock()
	for m.checking {
		m.mu.Unlock()
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(inflightPoll):
		}
		m.mu.Lock()
	}

	if !forceRefresh && m.available && time.Since(m.lastCheck) < m.ttl {
		defer m.mu.Unlock()
		return m.available, m.lastErr
	}

	m.checking = true
	m.mu.Unlock()

	available, err := m.check(ctx)

	m.mu.Lock()
	m.checking = false
	m.lastCheck = time.Now()
	m.available = available
	m.lastErr = err
	m.mu.Unlock()

	return available, err
}

// check obtains a token and wakes the gateway, retrying the wake exactly
// once after a forced token refresh.
func (m *Monitor) check(ctx context.Context) (bool, error) {
	tok, err := m.tokens.Token(ctx)
	if err != nil || tok == "" {
		if tok, err = m.tokens.ForceRefresh(ctx); err != nil {
			return false, err
		}
		if tok == "" {
			return false, nil
		}
	}

	if err := m.waker.Wake(ctx); err != nil {
		logger.Warn("availability: wake failed, refreshing token and retrying once", "error", err)
		if _, refreshErr := m.tokens.ForceRefresh(ctx); refreshErr != nil {
			return false, refreshErr
		}
		if err := m.waker.Wake(ctx); err != nil {
			return false, err
		}
	}

	return true, nil
}

// Start performs the initial check and then re-checks every 5 minutes in
// quiet mode (no user-facing notifications) until ctx is canceled.
func (m *Monitor) Start(ctx context.Context) {
	if _, err := m.Ensure(ctx, false); err != nil {
		logger.Warn("availability: initial check failed", "error", err)
	}

	ticker := time.NewTicker(backgroundPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Ensure(ctx, true); err != nil {
				logger.Debug("availability: background check failed", "error", err)
			}
		}
	}
}
