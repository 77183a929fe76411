// Package token supplies the caller identity token used against the proxy
// gateway, refreshing it proactively through the backend auth service.
package token

import (
	"context"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/seventic/acelle-sync/internal/config"
	"github.com/seventic/acelle-sync/internal/pkg/logger"
)

// Provider obtains and periodically refreshes the session credential.
// Token absence is a routine condition (no session configured), so lookups
// return an empty token rather than an error; failures are captured in
// LastError for observability instead of being thrown at unrelated callers.
type Provider struct {
	cfg  config.AuthConfig
	conf *oauth2.Config

	mu      sync.Mutex
	current *oauth2.Token
	lastErr error
}

// NewProvider creates a token provider for the configured auth service.
func NewProvider(cfg config.AuthConfig) *Provider {
	return &Provider{
		cfg: cfg,
		conf: &oauth2.Config{
			ClientID: cfg.ClientID,
			Endpoint: oauth2.Endpoint{TokenURL: cfg.TokenURL},
		},
	}
}

// Token returns a currently-valid access token, attempting a best-effort
// refresh first. A refresh failure is recorded but does not abort: the
// previous token, if any, is still returned. With no session configured
// the result is "" and a nil error.
func (p *Provider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cfg.RefreshToken == "" && p.current == nil {
		return "", nil
	}

	if p.current == nil || !p.current.Valid() {
		if err := p.refreshLocked(ctx); err != nil {
			logger.Warn("token: refresh failed", "error", err)
		}
	}

	if p.current == nil {
		return "", nil
	}
	return p.current.AccessToken, nil
}

// ForceRefresh discards the cached token and fetches a fresh one. Used by
// the availability monitor and the orchestrator's single auth retry.
func (p *Provider) ForceRefresh(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current = nil
	if err := p.refreshLocked(ctx); err != nil {
		return "", err
	}
	if p.current == nil {
		return "", nil
	}
	return p.current.AccessToken, nil
}

// LastError returns the most recent refresh failure, or nil.
func (p *Provider) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// refreshLocked exchanges the configured refresh token for a fresh access
// token. Caller holds p.mu.
func (p *Provider) refreshLocked(ctx context.Context) error {
	if p.cfg.RefreshToken == "" {
		return nil
	}

	src := p.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: p.cfg.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		p.lastErr = err
		return err
	}

	p.current = tok
	p.lastErr = nil
	return nil
}

// Start runs the background refresh loop until ctx is canceled. The token
// is re-derived idempotently from the same session, so last-write-wins
// between this loop and explicit refreshes is safe.
func (p *Provider) Start(ctx context.Context) {
	interval := p.cfg.RefreshInterval()
	if interval <= 0 {
		interval = 25 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.ForceRefresh(ctx); err != nil {
				logger.Warn("token: background refresh failed", "error", err)
			}
		}
	}
}
