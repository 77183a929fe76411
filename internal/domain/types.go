// Package domain holds the core data model shared across the sync service:
// Acelle accounts, mirrored campaigns, canonical statistics, and cache rows.
package domain

import "time"

// Account status values. An account that is not active is never synced.
const (
	AccountStatusActive   = "active"
	AccountStatusInactive = "inactive"
	AccountStatusError    = "error"
)

// Account represents one tenant's credentials for the Acelle API.
type Account struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	APIEndpoint   string     `json:"api_endpoint"`
	APIToken      string     `json:"api_token"`
	Status        string     `json:"status"`
	CachePriority int        `json:"cache_priority"`
	LastSyncDate  *time.Time `json:"last_sync_date,omitempty"`
	LastSyncError *string    `json:"last_sync_error,omitempty"`
}

// Syncable reports whether the account may be selected for a sync run.
func (a Account) Syncable() bool {
	return a.Status == AccountStatusActive
}

// Campaign is one upstream email campaign belonging to an Account.
// Campaigns are mirrored from Acelle, never created or mutated here.
type Campaign struct {
	UID          string     `json:"uid"`
	AccountID    string     `json:"account_id"`
	Name         string     `json:"name"`
	Subject      string     `json:"subject"`
	Status       string     `json:"status"`
	CreatedAt    *time.Time `json:"created_at,omitempty"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
	DeliveryDate *time.Time `json:"delivery_date,omitempty"`
	RunAt        *time.Time `json:"run_at,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
}

// Statistics is the canonical, fully-populated metrics record for one
// campaign. Rates are always on a 0-100 scale. Every normalization call
// produces a fresh value; cache rows are replaced wholesale, never patched.
type Statistics struct {
	SubscriberCount     int64   `json:"subscriber_count"`
	DeliveredCount      int64   `json:"delivered_count"`
	DeliveredRate       float64 `json:"delivered_rate"`
	OpenCount           int64   `json:"open_count"`
	UniqOpenCount       int64   `json:"uniq_open_count"`
	UniqOpenRate        float64 `json:"uniq_open_rate"`
	ClickCount          int64   `json:"click_count"`
	ClickRate           float64 `json:"click_rate"`
	BounceCount         int64   `json:"bounce_count"`
	SoftBounceCount     int64   `json:"soft_bounce_count"`
	HardBounceCount     int64   `json:"hard_bounce_count"`
	UnsubscribeCount    int64   `json:"unsubscribe_count"`
	AbuseComplaintCount int64   `json:"abuse_complaint_count"`
}

// CacheRow is the persisted last-known statistics for one campaign, keyed
// by campaign UID. Staleness is advisory: callers compare CacheUpdatedAt
// against their own freshness tolerance and request a resync explicitly.
type CacheRow struct {
	CampaignUID    string     `json:"campaign_uid"`
	AccountID      string     `json:"account_id"`
	Name           string     `json:"name"`
	Subject        string     `json:"subject"`
	Status         string     `json:"status"`
	CreatedAt      *time.Time `json:"created_at,omitempty"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty"`
	DeliveryDate   *time.Time `json:"delivery_date,omitempty"`
	RunAt          *time.Time `json:"run_at,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	DeliveryInfo   Statistics `json:"delivery_info"`
	CacheUpdatedAt time.Time  `json:"cache_updated_at"`
}

// Heartbeat is one row of the shared operational table that edge services
// report into, letting an external monitor detect hung or cold instances.
type Heartbeat struct {
	FunctionName  string    `json:"function_name"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	Status        string    `json:"status"`
}
