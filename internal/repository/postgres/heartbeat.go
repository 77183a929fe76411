package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/seventic/acelle-sync/internal/domain"
)

// HeartbeatRepo persists edge-service liveness rows into the shared
// operational table.
type HeartbeatRepo struct{ db *sql.DB }

// NewHeartbeatRepo creates a Postgres-backed heartbeat repository.
func NewHeartbeatRepo(db *sql.DB) *HeartbeatRepo { return &HeartbeatRepo{db: db} }

// Upsert records a heartbeat, one row per function name.
func (r *HeartbeatRepo) Upsert(ctx context.Context, hb domain.Heartbeat) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO edge_function_stats (function_name, last_heartbeat, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (function_name) DO UPDATE SET
			last_heartbeat = EXCLUDED.last_heartbeat,
			status = EXCLUDED.status
	`, hb.FunctionName, hb.LastHeartbeat, hb.Status)
	if err != nil {
		return fmt.Errorf("upsert heartbeat: %w", err)
	}
	return nil
}

// Get returns the heartbeat row for one function, or ErrNotFound.
func (r *HeartbeatRepo) Get(ctx context.Context, functionName string) (*domain.Heartbeat, error) {
	hb := &domain.Heartbeat{}
	err := r.db.QueryRowContext(ctx, `
		SELECT function_name, last_heartbeat, status
		FROM edge_function_stats
		WHERE function_name = $1
	`, functionName).Scan(&hb.FunctionName, &hb.LastHeartbeat, &hb.Status)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get heartbeat: %w", err)
	}
	return hb, nil
}
