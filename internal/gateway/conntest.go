package gateway

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/seventic/acelle-sync/internal/acelle"
	"github.com/seventic/acelle-sync/internal/pkg/httputil"
	"github.com/seventic/acelle-sync/internal/pkg/logger"
)

// handleConnectionTest probes a tenant endpoint in two stages: a bare
// HEAD ping (5s) to separate "unreachable" from everything else, then an
// authenticated whoami GET (10s). The HTTP answer is always 200; the real
// outcome is carried in the JSON body so the diagnostics UI can render
// upstream failures without treating them as transport errors.
func (s *Server) handleConnectionTest(w http.ResponseWriter, r *http.Request) {
	defer s.recordHeartbeat()

	endpoint, secret, ok := s.credentials(w, r)
	if !ok {
		return
	}

	result := s.testConnection(r.Context(), endpoint, secret)
	httputil.OK(w, result)
}

func (s *Server) testConnection(ctx context.Context, endpoint, secret string) *acelle.ConnectionTestResult {
	base := strings.TrimSuffix(endpoint, "/")

	// Stage 1: basic reachability before spending an authenticated call.
	pingReq, err := http.NewRequestWithContext(ctx, http.MethodHead, base, nil)
	if err != nil {
		return &acelle.ConnectionTestResult{
			Success: false,
			Message: "Endpoint invalide",
			Details: acelle.ConnTestDetails{Endpoint: endpoint, Error: err.Error()},
		}
	}
	pingResp, err := s.pingClient.Do(pingReq)
	if err != nil {
		timeout := isTimeoutErr(err)
		msg := "Endpoint injoignable"
		if timeout {
			msg = "Délai d'attente dépassé lors du test de connexion (5s)"
		}
		logger.Warn("gateway: connection test ping failed", "endpoint", endpoint, "error", err)
		return &acelle.ConnectionTestResult{
			Success: false,
			Message: msg,
			Details: acelle.ConnTestDetails{Endpoint: endpoint, Error: err.Error(), Timeout: timeout},
		}
	}
	pingResp.Body.Close()

	// Stage 2: authenticated whoami with the secret as query parameter.
	params := url.Values{}
	params.Set("api_token", secret)
	meURL := acelle.APIBase(endpoint) + "/me?" + params.Encode()

	meReq, err := http.NewRequestWithContext(ctx, http.MethodGet, meURL, nil)
	if err != nil {
		return &acelle.ConnectionTestResult{
			Success: false,
			Message: "Endpoint invalide",
			Details: acelle.ConnTestDetails{Endpoint: endpoint, Error: err.Error()},
		}
	}
	meReq.Header.Set("Accept", "application/json")

	meResp, err := s.testClient.Do(meReq)
	if err != nil {
		timeout := isTimeoutErr(err)
		msg := "Erreur réseau lors du test authentifié"
		if timeout {
			msg = "Délai d'attente dépassé lors du test authentifié (10s)"
		}
		return &acelle.ConnectionTestResult{
			Success: false,
			Message: msg,
			Details: acelle.ConnTestDetails{Endpoint: endpoint, Error: err.Error(), Timeout: timeout},
		}
	}
	defer meResp.Body.Close()

	// A redirect here means the token was rejected and Acelle bounced us
	// to its login page.
	if meResp.StatusCode == http.StatusFound || meResp.StatusCode >= 400 {
		return &acelle.ConnectionTestResult{
			Success:    false,
			StatusCode: meResp.StatusCode,
			Message:    "Endpoint joignable mais erreur d'authentification Acelle",
			Details:    acelle.ConnTestDetails{Endpoint: endpoint, Status: meResp.StatusCode},
		}
	}

	return &acelle.ConnectionTestResult{
		Success:    true,
		StatusCode: meResp.StatusCode,
		Message:    "Connexion établie",
		Details:    acelle.ConnTestDetails{Endpoint: endpoint, Status: meResp.StatusCode},
	}
}
