package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/seventic/acelle-sync/internal/acelle"
	"github.com/seventic/acelle-sync/internal/pkg/httputil"
	"github.com/seventic/acelle-sync/internal/pkg/logger"
)

// handleBatchSync runs the forced resync for one account entirely on the
// server side: the whole fetch+upsert happens here, and only a campaign
// count goes back. Used when client-side pagination across many accounts
// would be too slow or rate-limited.
func (s *Server) handleBatchSync(w http.ResponseWriter, r *http.Request) {
	defer s.recordHeartbeat()

	if s.syncer == nil {
		httputil.Error(w, http.StatusServiceUnavailable, "batch sync not configured")
		return
	}

	var req struct {
		AccountID string `json:"account_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid JSON: "+err.Error())
		return
	}
	if req.AccountID == "" {
		httputil.BadRequest(w, "account_id is required")
		return
	}

	count, err := s.syncer.BatchSync(r.Context(), req.AccountID)
	if err != nil {
		logger.Error("gateway: batch sync failed", "account_id", req.AccountID, "error", err)
		httputil.JSON(w, http.StatusInternalServerError, acelle.BatchSyncResult{
			Success:   false,
			AccountID: req.AccountID,
			Message:   err.Error(),
		})
		return
	}

	httputil.OK(w, acelle.BatchSyncResult{
		Success:       true,
		AccountID:     req.AccountID,
		CampaignCount: count,
	})
}
