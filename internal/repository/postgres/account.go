// Package postgres implements the persistence layer: Acelle accounts, the
// campaign statistics cache, and the operational heartbeat table.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/seventic/acelle-sync/internal/domain"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// AccountRepo implements account storage against PostgreSQL.
type AccountRepo struct{ db *sql.DB }

// NewAccountRepo creates a Postgres-backed account repository.
func NewAccountRepo(db *sql.DB) *AccountRepo { return &AccountRepo{db: db} }

const accountColumns = `id, name, api_endpoint, api_token, status, cache_priority, last_sync_date, last_sync_error`

func scanAccount(row interface{ Scan(...any) error }) (*domain.Account, error) {
	a := &domain.Account{}
	err := row.Scan(&a.ID, &a.Name, &a.APIEndpoint, &a.APIToken, &a.Status,
		&a.CachePriority, &a.LastSyncDate, &a.LastSyncError)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Get returns one account by id.
func (r *AccountRepo) Get(ctx context.Context, id string) (*domain.Account, error) {
	a, err := scanAccount(r.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM acelle_accounts
		WHERE id = $1
	`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

// List returns all accounts ordered by cache priority.
func (r *AccountRepo) List(ctx context.Context) ([]domain.Account, error) {
	return r.list(ctx, `
		SELECT `+accountColumns+`
		FROM acelle_accounts
		ORDER BY cache_priority DESC, name ASC
	`)
}

// ListActive returns syncable accounts, highest cache priority first.
// Accounts in inactive or error status are never selected for sync.
func (r *AccountRepo) ListActive(ctx context.Context) ([]domain.Account, error) {
	return r.list(ctx, `
		SELECT `+accountColumns+`
		FROM acelle_accounts
		WHERE status = 'active'
		ORDER BY cache_priority DESC, name ASC
	`)
}

func (r *AccountRepo) list(ctx context.Context, query string) ([]domain.Account, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// Create inserts a new account.
func (r *AccountRepo) Create(ctx context.Context, a *domain.Account) (string, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Status == "" {
		a.Status = domain.AccountStatusActive
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO acelle_accounts
			(id, name, api_endpoint, api_token, status, cache_priority)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, a.ID, a.Name, a.APIEndpoint, a.APIToken, a.Status, a.CachePriority)
	if err != nil {
		return "", fmt.Errorf("create account: %w", err)
	}
	return a.ID, nil
}

// Update rewrites an account's editable fields.
func (r *AccountRepo) Update(ctx context.Context, a *domain.Account) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE acelle_accounts
		SET name = $2, api_endpoint = $3, api_token = $4, status = $5, cache_priority = $6
		WHERE id = $1
	`, a.ID, a.Name, a.APIEndpoint, a.APIToken, a.Status, a.CachePriority)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordSyncResult stamps the outcome of a sync run. A failure flips the
// account to error status with the message; a success clears the error and
// restores active status. The sync timestamp is updated either way.
func (r *AccountRepo) RecordSyncResult(ctx context.Context, id string, syncErr error) error {
	var err error
	if syncErr == nil {
		_, err = r.db.ExecContext(ctx, `
			UPDATE acelle_accounts
			SET status = 'active', last_sync_error = NULL, last_sync_date = NOW()
			WHERE id = $1
		`, id)
	} else {
		_, err = r.db.ExecContext(ctx, `
			UPDATE acelle_accounts
			SET status = 'error', last_sync_error = $2, last_sync_date = NOW()
			WHERE id = $1
		`, id, syncErr.Error())
	}
	if err != nil {
		return fmt.Errorf("record sync result: %w", err)
	}
	return nil
}
