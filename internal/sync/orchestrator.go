// Package sync orchestrates campaign statistics synchronization: per
// active account, pull every campaign's latest statistics through the
// Acelle API and persist them into the cache store, tolerating one
// mid-flight authentication failure.
package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/seventic/acelle-sync/internal/acelle"
	"github.com/seventic/acelle-sync/internal/domain"
	"github.com/seventic/acelle-sync/internal/notify"
	"github.com/seventic/acelle-sync/internal/pkg/logger"
)

// OpID is the fixed operation id for sync progress notifications, so
// repeated runs update one status line instead of stacking.
const OpID = "email-campaign-sync"

// RunState is the phase a sync run ended in.
type RunState string

const (
	StateIdle             RunState = "idle"
	StateConnecting       RunState = "connecting"
	StateConnectionFailed RunState = "connection_failed"
	StateConnected        RunState = "connected"
	StatePaginating       RunState = "paginating"
	StatePageFailed       RunState = "page_failed"
	StateAllPagesFetched  RunState = "all_pages_fetched"
	StatePersisting       RunState = "persisting"
	StateSucceeded        RunState = "succeeded"
	StateFailed           RunState = "failed"
)

// API is the Acelle surface the orchestrator drives. Both the
// gateway-mediated client and the direct upstream client satisfy it.
type API interface {
	TestConnection(ctx context.Context, acct domain.Account) (*acelle.ConnectionTestResult, error)
	ListCampaigns(ctx context.Context, acct domain.Account, page, perPage int) ([]acelle.CampaignSummary, error)
	GetCampaignStats(ctx context.Context, acct domain.Account, uid string) (map[string]any, error)
}

// Forcer delegates an account's entire resync to the server-side batch
// operation. Only the gateway-mediated client implements it.
type Forcer interface {
	ForceSync(ctx context.Context, acct domain.Account) (int, error)
}

// AvailabilityChecker re-establishes token + gateway availability before a
// retry. Nil when the orchestrator runs inside the gateway itself.
type AvailabilityChecker interface {
	Ensure(ctx context.Context, forceRefresh bool) (bool, error)
}

// AccountStore is the account schema surface the orchestrator reads and writes.
type AccountStore interface {
	ListActive(ctx context.Context) ([]domain.Account, error)
	Get(ctx context.Context, id string) (*domain.Account, error)
	RecordSyncResult(ctx context.Context, id string, syncErr error) error
}

// CacheStore persists last-known campaign statistics keyed by campaign UID.
type CacheStore interface {
	Upsert(ctx context.Context, row domain.CacheRow) error
}

// RunResult summarizes one account's sync run.
type RunResult struct {
	RunID     string
	AccountID string
	State     RunState
	Campaigns int
	Retries   int
	Err       error
}

// Orchestrator drives sync runs. Accounts are processed sequentially in
// cache-priority order; pages are fetched sequentially within a run.
type Orchestrator struct {
	api      API
	forcer   Forcer
	avail    AvailabilityChecker
	accounts AccountStore
	cache    CacheStore
	notifier notify.Notifier
	pageSize int
}

// NewOrchestrator wires an orchestrator. forcer and avail may be nil (the
// gateway-embedded instance has neither).
func NewOrchestrator(api API, forcer Forcer, avail AvailabilityChecker, accounts AccountStore, cache CacheStore, notifier notify.Notifier, pageSize int) *Orchestrator {
	if pageSize <= 0 {
		pageSize = 50
	}
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	return &Orchestrator{
		api:      api,
		forcer:   forcer,
		avail:    avail,
		accounts: accounts,
		cache:    cache,
		notifier: notifier,
		pageSize: pageSize,
	}
}

// SyncAll syncs every active account sequentially, highest cache priority
// first. One account's failure is recorded on that account and does not
// abort the batch.
func (o *Orchestrator) SyncAll(ctx context.Context) ([]RunResult, error) {
	accounts, err := o.accounts.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing active accounts: %w", err)
	}

	o.progress(ctx, notify.LevelInfo, fmt.Sprintf("Synchronisation de %d comptes Acelle...", len(accounts)))

	results := make([]RunResult, 0, len(accounts))
	for _, acct := range accounts {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		results = append(results, o.SyncAccount(ctx, acct))
	}

	failed := 0
	for _, r := range results {
		if r.State != StateSucceeded {
			failed++
		}
	}
	if failed == 0 {
		o.progress(ctx, notify.LevelSuccess, fmt.Sprintf("Synchronisation terminée: %d comptes", len(results)))
	} else {
		o.progress(ctx, notify.LevelError, fmt.Sprintf("Synchronisation terminée: %d comptes en erreur sur %d", failed, len(results)))
	}
	return results, nil
}

// SyncAccount runs the full state machine for one account:
// Connecting → Paginating → Persisting. A connection failure gets exactly
// one retry after re-establishing availability.
func (o *Orchestrator) SyncAccount(ctx context.Context, acct domain.Account) RunResult {
	res := RunResult{RunID: uuid.New().String(), AccountID: acct.ID, State: StateIdle}

	if !acct.Syncable() {
		res.State = StateFailed
		res.Err = fmt.Errorf("account %s is %s, not syncable", acct.ID, acct.Status)
		return res
	}

	logger.Info("sync: starting account run", "run_id", res.RunID, "account", acct.Name)
	o.progress(ctx, notify.LevelInfo, fmt.Sprintf("Synchronisation du compte %s...", acct.Name))

	// Connecting
	res.State = StateConnecting
	if err := o.connect(ctx, acct, &res); err != nil {
		res.State = StateFailed
		res.Err = err
		o.finish(ctx, acct, &res)
		return res
	}
	res.State = StateConnected

	// Paginating
	res.State = StatePaginating
	campaigns, pageErr := o.paginate(ctx, acct)
	if pageErr != nil && len(campaigns) == 0 {
		// First-page failure aborts the run.
		res.State = StateFailed
		res.Err = pageErr
		o.finish(ctx, acct, &res)
		return res
	}
	if pageErr != nil {
		// Mid-pagination failure: keep what was fetched.
		res.State = StatePageFailed
		logger.Warn("sync: pagination aborted, persisting partial result",
			"run_id", res.RunID, "account", acct.Name, "fetched", len(campaigns), "error", pageErr)
	} else {
		res.State = StateAllPagesFetched
	}

	// Persisting
	res.State = StatePersisting
	if err := o.persist(ctx, acct, campaigns); err != nil {
		res.State = StateFailed
		res.Err = err
		o.finish(ctx, acct, &res)
		return res
	}

	res.Campaigns = len(campaigns)
	res.State = StateSucceeded
	o.finish(ctx, acct, &res)
	return res
}

// connect verifies upstream reachability through the connection test. On
// failure it forces a fresh identity token, re-wakes the gateway, and
// retries exactly once.
func (o *Orchestrator) connect(ctx context.Context, acct domain.Account, res *RunResult) error {
	err := o.tryConnect(ctx, acct)
	if err == nil {
		return nil
	}

	res.Retries++
	logger.Warn("sync: connection failed, refreshing availability and retrying once",
		"run_id", res.RunID, "account", acct.Name, "error", err)

	if o.avail != nil {
		if _, ensureErr := o.avail.Ensure(ctx, true); ensureErr != nil {
			return fmt.Errorf("connection failed and availability refresh failed: %w", errors.Join(err, ensureErr))
		}
	}

	if retryErr := o.tryConnect(ctx, acct); retryErr != nil {
		return fmt.Errorf("connection failed after retry: %w", retryErr)
	}
	return nil
}

func (o *Orchestrator) tryConnect(ctx context.Context, acct domain.Account) error {
	result, err := o.api.TestConnection(ctx, acct)
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("connection test failed: %s", result.Message)
	}
	return nil
}

// paginate fetches campaigns page by page until a short or empty page.
// The error return is non-nil when a page fetch failed; campaigns fetched
// before the failure are still returned.
func (o *Orchestrator) paginate(ctx context.Context, acct domain.Account) ([]acelle.CampaignSummary, error) {
	var all []acelle.CampaignSummary
	for page := 1; ; page++ {
		items, err := o.api.ListCampaigns(ctx, acct, page, o.pageSize)
		if err != nil {
			return all, fmt.Errorf("page %d: %w", page, err)
		}
		all = append(all, items...)
		if len(items) < o.pageSize {
			return all, nil
		}
	}
}

// persist normalizes and upserts each campaign's statistics. A missing or
// malformed statistics payload degrades to a zero-filled record; a cache
// write failure aborts this account's run.
func (o *Orchestrator) persist(ctx context.Context, acct domain.Account, campaigns []acelle.CampaignSummary) error {
	now := time.Now().UTC()
	for _, c := range campaigns {
		raw := c.Statistics
		if raw == nil {
			fetched, err := o.api.GetCampaignStats(ctx, acct, c.UID)
			if err != nil {
				logger.Warn("sync: statistics fetch failed, caching zero-filled record",
					"account", acct.Name, "campaign_uid", c.UID, "error", err)
			} else {
				raw = fetched
			}
		}

		row := domain.CacheRow{
			CampaignUID:    c.UID,
			AccountID:      acct.ID,
			Name:           c.Name,
			Subject:        c.Subject,
			Status:         c.Status,
			CreatedAt:      acelle.ParseTime(c.CreatedAt),
			UpdatedAt:      acelle.ParseTime(c.UpdatedAt),
			DeliveryDate:   acelle.ParseTime(c.DeliveryAt),
			RunAt:          acelle.ParseTime(c.RunAt),
			LastError:      c.LastError,
			DeliveryInfo:   acelle.NormalizeStatistics(raw, false),
			CacheUpdatedAt: now,
		}
		if err := o.cache.Upsert(ctx, row); err != nil {
			return fmt.Errorf("caching campaign %s: %w", c.UID, err)
		}
	}
	return nil
}

// ForceResync bypasses client-side pagination: the gateway's batch
// operation does the whole fetch+upsert and reports a campaign count.
// Without a forcer (gateway-embedded mode) the batch runs locally.
func (o *Orchestrator) ForceResync(ctx context.Context, accountID string) (int, error) {
	acct, err := o.accounts.Get(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("loading account %s: %w", accountID, err)
	}

	if o.forcer != nil {
		count, err := o.forcer.ForceSync(ctx, *acct)
		if err != nil {
			_ = o.accounts.RecordSyncResult(ctx, accountID, err)
			return 0, err
		}
		_ = o.accounts.RecordSyncResult(ctx, accountID, nil)
		return count, nil
	}

	return o.BatchSync(ctx, accountID)
}

// BatchSync fetches and caches every campaign of one account in a single
// server-side pass, returning the campaign count. This is the operation
// behind the gateway's forced-resync route.
func (o *Orchestrator) BatchSync(ctx context.Context, accountID string) (int, error) {
	acct, err := o.accounts.Get(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("loading account %s: %w", accountID, err)
	}
	if !acct.Syncable() {
		return 0, fmt.Errorf("account %s is %s, not syncable", acct.ID, acct.Status)
	}

	campaigns, pageErr := o.paginate(ctx, *acct)
	if pageErr != nil && len(campaigns) == 0 {
		_ = o.accounts.RecordSyncResult(ctx, accountID, pageErr)
		return 0, pageErr
	}

	if err := o.persist(ctx, *acct, campaigns); err != nil {
		_ = o.accounts.RecordSyncResult(ctx, accountID, err)
		return 0, err
	}

	_ = o.accounts.RecordSyncResult(ctx, accountID, pageErr)
	return len(campaigns), nil
}

// finish records the run outcome on the account and notifies progress.
func (o *Orchestrator) finish(ctx context.Context, acct domain.Account, res *RunResult) {
	if err := o.accounts.RecordSyncResult(ctx, acct.ID, res.Err); err != nil {
		logger.Error("sync: recording sync result failed", "account", acct.Name, "error", err)
	}

	if res.Err != nil {
		logger.Error("sync: account run failed",
			"run_id", res.RunID, "account", acct.Name, "state", string(res.State), "error", res.Err)
		o.progress(ctx, notify.LevelError, fmt.Sprintf("Échec de la synchronisation du compte %s: %v", acct.Name, res.Err))
		return
	}

	logger.Info("sync: account run succeeded",
		"run_id", res.RunID, "account", acct.Name, "campaigns", fmt.Sprintf("%d", res.Campaigns), "retries", fmt.Sprintf("%d", res.Retries))
	o.progress(ctx, notify.LevelSuccess, fmt.Sprintf("Compte %s synchronisé (%d campagnes)", acct.Name, res.Campaigns))
}

func (o *Orchestrator) progress(ctx context.Context, level, message string) {
	if err := o.notifier.Publish(ctx, notify.Notification{OpID: OpID, Level: level, Message: message}); err != nil {
		logger.Debug("sync: notification publish failed", "error", err)
	}
}
