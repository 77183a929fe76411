// Package gateway implements the proxy relay between browser/worker
// callers and tenant Acelle endpoints. It is the single network hop the
// browser is allowed to make: it hides the tenant secret token, absorbs
// CORS and slow-upstream failures, and self-reports liveness heartbeats.
package gateway

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/seventic/acelle-sync/internal/config"
	"github.com/seventic/acelle-sync/internal/domain"
	"github.com/seventic/acelle-sync/internal/pkg/httputil"
)

// Acelle credential headers set by callers and consumed by the proxy.
const (
	HeaderEndpoint = "x-acelle-endpoint"
	HeaderToken    = "x-acelle-token"
)

// HeartbeatStore persists gateway liveness records into the shared
// operational table.
type HeartbeatStore interface {
	Upsert(ctx context.Context, hb domain.Heartbeat) error
}

// BatchSyncer runs the server-side forced resync for one account.
type BatchSyncer interface {
	BatchSync(ctx context.Context, accountID string) (int, error)
}

// Server is the proxy gateway HTTP service.
type Server struct {
	cfg        config.GatewayConfig
	heartbeats HeartbeatStore
	syncer     BatchSyncer
	router     *chi.Mux
	srv        *http.Server

	proxyClient *http.Client
	pingClient  *http.Client
	testClient  *http.Client

	hbMu     sync.Mutex
	lastBeat time.Time
}

// NewServer creates the gateway with its routes mounted.
func NewServer(cfg config.GatewayConfig, heartbeats HeartbeatStore, syncer BatchSyncer) *Server {
	s := &Server{
		cfg:        cfg,
		heartbeats: heartbeats,
		syncer:     syncer,
		proxyClient: &http.Client{
			Timeout: cfg.ProxyTimeout(),
			// Acelle answers 302 to its login page on auth failure; the
			// proxy must see that status, not follow it.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		pingClient: &http.Client{Timeout: cfg.PingTimeout()},
		testClient: &http.Client{
			Timeout: cfg.ConnTestTimeout(),
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", HeaderEndpoint, HeaderToken},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(s.requireCallerToken)

	r.Get("/wake", s.handleWake)
	r.Get("/test-acelle-connection", s.handleConnectionTest)
	r.Post("/sync-email-campaigns", s.handleBatchSync)
	r.HandleFunc("/*", s.handleProxy)

	s.router = r
	return s
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe starts the gateway HTTP server.
func (s *Server) ListenAndServe(addr string) error {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		// Write timeout exceeds the 25s proxy budget so the 504 envelope
		// still reaches the caller.
		WriteTimeout: 40 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s.srv.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// requireCallerToken rejects requests without a plausibly-shaped Bearer
// token. Full signature verification belongs to the fronting auth layer;
// the gateway refuses obviously absent or malformed credentials.
func (s *Server) requireCallerToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		authz := r.Header.Get("Authorization")
		if !strings.HasPrefix(authz, "Bearer ") {
			httputil.Unauthorized(w, "missing bearer token")
			return
		}
		tok := strings.TrimPrefix(authz, "Bearer ")
		if tok == "" || strings.Count(tok, ".") != 2 {
			httputil.Unauthorized(w, "malformed bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleWake answers liveness probes and records a heartbeat. The monitor
// uses this to wake a cold-started instance before a sync run.
func (s *Server) handleWake(w http.ResponseWriter, r *http.Request) {
	s.recordHeartbeat()
	httputil.OK(w, map[string]any{
		"status":        "awake",
		"function_name": s.cfg.HeartbeatFunctionName,
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
	})
}

// credentials extracts the Acelle endpoint and secret headers, writing a
// 400 and returning false when either is missing.
func (s *Server) credentials(w http.ResponseWriter, r *http.Request) (endpoint, secret string, ok bool) {
	endpoint = strings.TrimSpace(r.Header.Get(HeaderEndpoint))
	secret = strings.TrimSpace(r.Header.Get(HeaderToken))
	if endpoint == "" {
		httputil.BadRequest(w, "missing "+HeaderEndpoint+" header")
		return "", "", false
	}
	if secret == "" {
		httputil.BadRequest(w, "missing "+HeaderToken+" header")
		return "", "", false
	}
	return endpoint, secret, true
}
