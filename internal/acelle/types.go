// Package acelle contains the Acelle email-marketing API surface: campaign
// payload types, the statistics normalizer, and two clients — one that goes
// through the proxy gateway (browser/worker path) and one that talks to the
// Acelle endpoint directly (server-side batch path).
package acelle

import (
	"strings"
	"time"
)

// CampaignSummary is one campaign as returned by the Acelle campaign list.
// Timestamps stay as strings: Acelle mixes formats across versions and the
// cache layer stores what it got.
type CampaignSummary struct {
	UID        string         `json:"uid"`
	Name       string         `json:"name"`
	Subject    string         `json:"subject"`
	Status     string         `json:"status"`
	CreatedAt  string         `json:"created_at"`
	UpdatedAt  string         `json:"updated_at"`
	DeliveryAt string         `json:"delivery_at"`
	RunAt      string         `json:"run_at"`
	LastError  string         `json:"last_error"`
	Statistics map[string]any `json:"statistics,omitempty"`
}

// ConnectionTestResult is the structured body of the gateway connection
// test. The gateway always answers HTTP 200; the real outcome lives here so
// diagnostics UIs can render it without exception handling.
type ConnectionTestResult struct {
	Success    bool            `json:"success"`
	StatusCode int             `json:"statusCode,omitempty"`
	Message    string          `json:"message"`
	Details    ConnTestDetails `json:"details"`
}

// ConnTestDetails carries the raw diagnostic of a connection test.
type ConnTestDetails struct {
	Endpoint string `json:"endpoint"`
	Status   int    `json:"status,omitempty"`
	Error    string `json:"error,omitempty"`
	Timeout  bool   `json:"timeout,omitempty"`
}

// BatchSyncResult is the response of the server-side forced resync
// operation. The batch path reports a campaign count, not individual rows.
type BatchSyncResult struct {
	Success       bool   `json:"success"`
	AccountID     string `json:"account_id"`
	CampaignCount int    `json:"campaign_count"`
	Message       string `json:"message,omitempty"`
}

// APIBase normalizes an account endpoint to its API root. Accounts are
// stored with or without the /api/v1 suffix depending on who created them.
func APIBase(endpoint string) string {
	base := trimBase(endpoint)
	if !strings.HasSuffix(base, "/api/v1") {
		base += "/api/v1"
	}
	return base
}

func trimBase(u string) string {
	return strings.TrimSuffix(strings.TrimSpace(u), "/")
}

// Timestamp layouts seen across Acelle versions, most common first.
var timeLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseTime parses an Acelle timestamp string, returning nil for empty or
// unrecognized values rather than failing.
func ParseTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" || s == "0000-00-00 00:00:00" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
