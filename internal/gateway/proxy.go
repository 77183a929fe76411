package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/seventic/acelle-sync/internal/acelle"
	"github.com/seventic/acelle-sync/internal/pkg/httputil"
	"github.com/seventic/acelle-sync/internal/pkg/logger"
)

// Query parameters never forwarded upstream: the secret is injected from
// the header, and cache_key is an internal cache-busting artifact.
var strippedParams = map[string]bool{
	"api_token": true,
	"cache_key": true,
}

// handleProxy relays one request to the tenant's Acelle endpoint. The path
// is rewritten to the upstream convention /api/v1/<resource>[/<id>] with
// the secret as the api_token query parameter; method and body pass
// through unchanged (body omitted for GET/HEAD/OPTIONS); the upstream
// status and body are relayed back.
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	defer s.recordHeartbeat()

	endpoint, secret, ok := s.credentials(w, r)
	if !ok {
		return
	}

	resource := chi.URLParam(r, "*")
	params := url.Values{}
	for k, vs := range r.URL.Query() {
		if strippedParams[k] {
			continue
		}
		for _, v := range vs {
			params.Add(k, v)
		}
	}
	params.Set("api_token", secret)

	upstreamURL := acelle.APIBase(endpoint) + "/" + resource + "?" + params.Encode()

	var body io.Reader
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		// no body
	default:
		body = r.Body
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, upstreamURL, body)
	if err != nil {
		httputil.BadRequest(w, "invalid upstream request: "+err.Error())
		return
	}
	req.Header.Set("Accept", "application/json")
	if ct := r.Header.Get("Content-Type"); ct != "" && body != nil {
		req.Header.Set("Content-Type", ct)
	}

	resp, err := s.proxyClient.Do(req)
	if err != nil {
		if isTimeoutErr(err) {
			logger.Warn("gateway: upstream timeout", "endpoint", endpoint, "resource", resource)
			httputil.GatewayTimeout(w, "Délai d'attente dépassé lors de l'appel Acelle (25s)")
			return
		}
		logger.Error("gateway: upstream call failed", "endpoint", endpoint, "resource", resource, "error", err)
		httputil.Error(w, http.StatusInternalServerError, "erreur réseau lors de l'appel Acelle: "+err.Error())
		return
	}
	defer resp.Body.Close()

	// Acelle answers 302 toward its login page when the api_token is
	// rejected. Surface that as an auth failure, not a generic redirect.
	if resp.StatusCode == http.StatusFound || resp.StatusCode == http.StatusMovedPermanently {
		httputil.Unauthorized(w, "Session Acelle expirée: l'endpoint a redirigé vers sa page de connexion")
		return
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	// Relay valid JSON untouched; wrap anything else in the standard
	// envelope so callers never have to parse Acelle's HTML error pages.
	if json.Valid(respBody) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(resp.StatusCode)
		w.Write(respBody)
		return
	}

	snippet := string(respBody)
	if len(snippet) > 300 {
		snippet = snippet[:300]
	}
	httputil.JSON(w, resp.StatusCode, httputil.ErrorResponse{
		Error:   "réponse Acelle non-JSON",
		Code:    "invalid_upstream_payload",
		Details: map[string]any{"status": resp.StatusCode, "raw": snippet},
	})
}

func isTimeoutErr(err error) bool {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}
