package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/seventic/acelle-sync/internal/domain"
)

// CacheRepo implements the campaign statistics cache against PostgreSQL.
// Rows are keyed by campaign_uid (unique constraint); the upsert relies on
// the database's conflict handling, no application-level locking.
type CacheRepo struct{ db *sql.DB }

// NewCacheRepo creates a Postgres-backed statistics cache repository.
func NewCacheRepo(db *sql.DB) *CacheRepo { return &CacheRepo{db: db} }

// Upsert replaces the cached statistics for one campaign wholesale.
func (r *CacheRepo) Upsert(ctx context.Context, row domain.CacheRow) error {
	info, err := json.Marshal(row.DeliveryInfo)
	if err != nil {
		return fmt.Errorf("marshal delivery_info: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO email_campaigns_cache
			(campaign_uid, account_id, name, subject, status,
			 created_at, updated_at, delivery_date, run_at, last_error,
			 delivery_info, cache_updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (campaign_uid) DO UPDATE SET
			account_id = EXCLUDED.account_id,
			name = EXCLUDED.name,
			subject = EXCLUDED.subject,
			status = EXCLUDED.status,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at,
			delivery_date = EXCLUDED.delivery_date,
			run_at = EXCLUDED.run_at,
			last_error = EXCLUDED.last_error,
			delivery_info = EXCLUDED.delivery_info,
			cache_updated_at = EXCLUDED.cache_updated_at
	`, row.CampaignUID, row.AccountID, row.Name, row.Subject, row.Status,
		row.CreatedAt, row.UpdatedAt, row.DeliveryDate, row.RunAt, row.LastError,
		info, row.CacheUpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert campaign cache: %w", err)
	}
	return nil
}

const cacheColumns = `campaign_uid, account_id, name, COALESCE(subject, ''), COALESCE(status, ''),
	created_at, updated_at, delivery_date, run_at, COALESCE(last_error, ''),
	delivery_info, cache_updated_at`

func scanCacheRow(row interface{ Scan(...any) error }) (*domain.CacheRow, error) {
	c := &domain.CacheRow{}
	var info []byte
	err := row.Scan(&c.CampaignUID, &c.AccountID, &c.Name, &c.Subject, &c.Status,
		&c.CreatedAt, &c.UpdatedAt, &c.DeliveryDate, &c.RunAt, &c.LastError,
		&info, &c.CacheUpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(info) > 0 {
		if err := json.Unmarshal(info, &c.DeliveryInfo); err != nil {
			return nil, fmt.Errorf("parse delivery_info: %w", err)
		}
	}
	return c, nil
}

// GetByCampaignUID returns one cached row.
func (r *CacheRepo) GetByCampaignUID(ctx context.Context, uid string) (*domain.CacheRow, error) {
	c, err := scanCacheRow(r.db.QueryRowContext(ctx, `
		SELECT `+cacheColumns+`
		FROM email_campaigns_cache
		WHERE campaign_uid = $1
	`, uid))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign cache: %w", err)
	}
	return c, nil
}

// ListByAccount returns all cached rows for an account, most recently
// refreshed first.
func (r *CacheRepo) ListByAccount(ctx context.Context, accountID string) ([]domain.CacheRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+cacheColumns+`
		FROM email_campaigns_cache
		WHERE account_id = $1
		ORDER BY cache_updated_at DESC
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list campaign cache: %w", err)
	}
	defer rows.Close()

	var out []domain.CacheRow
	for rows.Next() {
		c, err := scanCacheRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign cache: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}
