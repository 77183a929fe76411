package postgres

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seventic/acelle-sync/internal/domain"
)

func newCacheMock(t *testing.T) (*CacheRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewCacheRepo(db), mock
}

func TestCacheUpsertConflictOnCampaignUID(t *testing.T) {
	repo, mock := newCacheMock(t)

	now := time.Now().UTC()
	row := domain.CacheRow{
		CampaignUID: "c1",
		AccountID:   "a1",
		Name:        "Newsletter",
		Subject:     "Hello",
		Status:      "sent",
		DeliveryInfo: domain.Statistics{
			SubscriberCount: 100,
			DeliveredCount:  90,
			DeliveredRate:   90,
		},
		CacheUpdatedAt: now,
	}

	info, err := json.Marshal(row.DeliveryInfo)
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta(`ON CONFLICT (campaign_uid) DO UPDATE SET`)).
		WithArgs(row.CampaignUID, row.AccountID, row.Name, row.Subject, row.Status,
			nil, nil, nil, nil, "", info, row.CacheUpdatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Upsert(context.Background(), row))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCacheGetByCampaignUID(t *testing.T) {
	repo, mock := newCacheMock(t)

	info, _ := json.Marshal(domain.Statistics{SubscriberCount: 42, DeliveredRate: 95.5})
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM email_campaigns_cache\s+WHERE campaign_uid = \$1`).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{
			"campaign_uid", "account_id", "name", "subject", "status",
			"created_at", "updated_at", "delivery_date", "run_at", "last_error",
			"delivery_info", "cache_updated_at",
		}).AddRow("c1", "a1", "Newsletter", "Hello", "sent",
			nil, nil, nil, nil, "", info, now))

	row, err := repo.GetByCampaignUID(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", row.CampaignUID)
	assert.Equal(t, int64(42), row.DeliveryInfo.SubscriberCount)
	assert.Equal(t, 95.5, row.DeliveryInfo.DeliveredRate)
}

func TestCacheGetNotFound(t *testing.T) {
	repo, mock := newCacheMock(t)

	mock.ExpectQuery(`FROM email_campaigns_cache`).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"campaign_uid"}))

	_, err := repo.GetByCampaignUID(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCacheListByAccount(t *testing.T) {
	repo, mock := newCacheMock(t)

	info, _ := json.Marshal(domain.Statistics{})
	now := time.Now().UTC()

	mock.ExpectQuery(`WHERE account_id = \$1\s+ORDER BY cache_updated_at DESC`).
		WithArgs("a1").
		WillReturnRows(sqlmock.NewRows([]string{
			"campaign_uid", "account_id", "name", "subject", "status",
			"created_at", "updated_at", "delivery_date", "run_at", "last_error",
			"delivery_info", "cache_updated_at",
		}).
			AddRow("c2", "a1", "Recent", "", "sent", nil, nil, nil, nil, "", info, now).
			AddRow("c1", "a1", "Older", "", "sent", nil, nil, nil, nil, "", info, now.Add(-time.Hour)))

	rows, err := repo.ListByAccount(context.Background(), "a1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "c2", rows[0].CampaignUID)
}

func TestHeartbeatUpsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	repo := NewHeartbeatRepo(db)

	now := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta(`ON CONFLICT (function_name) DO UPDATE SET`)).
		WithArgs("acelle-proxy", now, "healthy").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = repo.Upsert(context.Background(), domain.Heartbeat{
		FunctionName:  "acelle-proxy",
		LastHeartbeat: now,
		Status:        "healthy",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
