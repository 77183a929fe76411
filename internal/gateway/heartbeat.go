package gateway

import (
	"context"
	"time"

	"github.com/seventic/acelle-sync/internal/domain"
	"github.com/seventic/acelle-sync/internal/pkg/logger"
)

// recordHeartbeat upserts this instance's liveness row, at most once per
// idle window (default 30s). An external monitor watches the timestamp to
// detect hung or cold-started gateway instances. The write is best-effort
// and off the request path.
func (s *Server) recordHeartbeat() {
	if s.heartbeats == nil {
		return
	}

	s.hbMu.Lock()
	if time.Since(s.lastBeat) < s.cfg.HeartbeatWindow() {
		s.hbMu.Unlock()
		return
	}
	s.lastBeat = time.Now()
	s.hbMu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		hb := domain.Heartbeat{
			FunctionName:  s.cfg.HeartbeatFunctionName,
			LastHeartbeat: time.Now().UTC(),
			Status:        "healthy",
		}
		if err := s.heartbeats.Upsert(ctx, hb); err != nil {
			logger.Warn("gateway: heartbeat upsert failed", "error", err)
		}
	}()
}
