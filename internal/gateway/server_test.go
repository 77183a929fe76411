package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/seventic/acelle-sync/internal/acelle"
	"github.com/seventic/acelle-sync/internal/config"
	"github.com/seventic/acelle-sync/internal/domain"
)

const callerToken = "header.payload.signature"

func testGatewayConfig() config.GatewayConfig {
	return config.GatewayConfig{
		ProxyTimeoutSeconds:   25,
		PingTimeoutSeconds:    1,
		ConnTestTimeoutSecs:   2,
		HeartbeatWindowSecs:   30,
		HeartbeatFunctionName: "acelle-proxy",
	}
}

type memHeartbeats struct {
	mu    sync.Mutex
	beats []domain.Heartbeat
}

func (m *memHeartbeats) Upsert(_ context.Context, hb domain.Heartbeat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.beats = append(m.beats, hb)
	return nil
}

func (m *memHeartbeats) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.beats)
}

type fakeSyncer struct {
	count int
	err   error
}

func (f *fakeSyncer) BatchSync(context.Context, string) (int, error) {
	return f.count, f.err
}

func doRequest(t *testing.T, s *Server, method, target, endpoint, secret string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Authorization", "Bearer "+callerToken)
	if endpoint != "" {
		req.Header.Set(HeaderEndpoint, endpoint)
	}
	if secret != "" {
		req.Header.Set(HeaderToken, secret)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestRequireCallerTokenMissing(t *testing.T) {
	s := NewServer(testGatewayConfig(), nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/wake", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestRequireCallerTokenMalformed(t *testing.T) {
	s := NewServer(testGatewayConfig(), nil, nil)

	for _, tok := range []string{"justonepart", "two.parts", "too.many.parts.here"} {
		req := httptest.NewRequest(http.MethodGet, "/wake", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("token %q: status = %d, want 401", tok, w.Code)
		}
	}
}

func TestWake(t *testing.T) {
	hb := &memHeartbeats{}
	s := NewServer(testGatewayConfig(), hb, nil)

	w := doRequest(t, s, http.MethodGet, "/wake", "", "", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse body: %v", err)
	}
	if body["status"] != "awake" {
		t.Errorf("body = %+v", body)
	}

	// The heartbeat write is async.
	deadline := time.Now().Add(time.Second)
	for hb.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hb.count() != 1 {
		t.Errorf("heartbeats = %d, want 1", hb.count())
	}
}

func TestHeartbeatThrottled(t *testing.T) {
	hb := &memHeartbeats{}
	s := NewServer(testGatewayConfig(), hb, nil)

	for i := 0; i < 5; i++ {
		doRequest(t, s, http.MethodGet, "/wake", "", "", nil)
	}

	deadline := time.Now().Add(time.Second)
	for hb.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := hb.count(); got != 1 {
		t.Errorf("heartbeats = %d, want 1 within the idle window", got)
	}
}

func TestProxyMissingCredentialHeaders(t *testing.T) {
	s := NewServer(testGatewayConfig(), nil, nil)

	w := doRequest(t, s, http.MethodGet, "/campaigns", "", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing endpoint: status = %d, want 400", w.Code)
	}

	w = doRequest(t, s, http.MethodGet, "/campaigns", "https://mail.example.com", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing token: status = %d, want 400", w.Code)
	}
}

func TestProxyRewritesAndStripsParams(t *testing.T) {
	var gotPath string
	var gotQuery map[string][]string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query()
		json.NewEncoder(w).Encode([]map[string]any{})
	}))
	defer upstream.Close()

	s := NewServer(testGatewayConfig(), nil, nil)

	w := doRequest(t, s, http.MethodGet,
		"/campaigns?page=2&per_page=50&api_token=spoofed&cache_key=xyz",
		upstream.URL, "real-secret", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if gotPath != "/api/v1/campaigns" {
		t.Errorf("upstream path = %q", gotPath)
	}
	if got := gotQuery["api_token"]; len(got) != 1 || got[0] != "real-secret" {
		t.Errorf("api_token = %v, want the header secret only", got)
	}
	if _, ok := gotQuery["cache_key"]; ok {
		t.Error("cache_key must not be forwarded")
	}
	if got := gotQuery["page"]; len(got) != 1 || got[0] != "2" {
		t.Errorf("page = %v, want [2]", got)
	}
}

func TestProxyLoginRedirectBecomesUnauthorized(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/login")
		w.WriteHeader(http.StatusFound)
	}))
	defer upstream.Close()

	s := NewServer(testGatewayConfig(), nil, nil)

	w := doRequest(t, s, http.MethodGet, "/campaigns", upstream.URL, "expired", nil)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Session Acelle expirée") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestProxyWrapsNonJSONBody(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("<html><body>Whoops, something went wrong</body></html>"))
	}))
	defer upstream.Close()

	s := NewServer(testGatewayConfig(), nil, nil)

	w := doRequest(t, s, http.MethodGet, "/campaigns", upstream.URL, "secret", nil)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want relayed 500", w.Code)
	}
	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("wrapped body is not JSON: %v", err)
	}
	if body.Code != "invalid_upstream_payload" {
		t.Errorf("code = %q", body.Code)
	}
}

func TestProxyRelaysValidJSON(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"uid":"c1"}`))
	}))
	defer upstream.Close()

	s := NewServer(testGatewayConfig(), nil, nil)

	w := doRequest(t, s, http.MethodPost, "/campaigns", upstream.URL, "secret", []byte(`{"name":"x"}`))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want relayed 201", w.Code)
	}
	if w.Body.String() != `{"uid":"c1"}` {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestConnectionTestTimeoutAlwaysAnswers200(t *testing.T) {
	// Upstream that never answers within the 1s ping budget.
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(1500 * time.Millisecond)
	}))
	defer upstream.Close()

	s := NewServer(testGatewayConfig(), nil, nil)

	w := doRequest(t, s, http.MethodGet, "/test-acelle-connection", upstream.URL, "secret", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 even on failure", w.Code)
	}
	var result acelle.ConnectionTestResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("parse result: %v", err)
	}
	if result.Success {
		t.Error("expected failed result")
	}
	if !strings.Contains(result.Message, "Délai") {
		t.Errorf("message = %q, want a timeout diagnostic", result.Message)
	}
	if !result.Details.Timeout {
		t.Error("expected timeout detail flag")
	}
}

func TestConnectionTestBadToken(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer upstream.Close()

	s := NewServer(testGatewayConfig(), nil, nil)

	w := doRequest(t, s, http.MethodGet, "/test-acelle-connection", upstream.URL, "bad", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var result acelle.ConnectionTestResult
	json.Unmarshal(w.Body.Bytes(), &result)
	if result.Success {
		t.Error("expected failure")
	}
	if result.StatusCode != http.StatusUnauthorized {
		t.Errorf("statusCode = %d, want 401", result.StatusCode)
	}
	if !strings.Contains(result.Message, "authentification") {
		t.Errorf("message = %q", result.Message)
	}
}

func TestConnectionTestSuccess(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"email": "admin@example.com"})
	}))
	defer upstream.Close()

	s := NewServer(testGatewayConfig(), nil, nil)

	w := doRequest(t, s, http.MethodGet, "/test-acelle-connection", upstream.URL, "good", nil)

	var result acelle.ConnectionTestResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("parse result: %v", err)
	}
	if !result.Success {
		t.Errorf("expected success, got %+v", result)
	}
}

func TestBatchSyncSuccess(t *testing.T) {
	s := NewServer(testGatewayConfig(), nil, &fakeSyncer{count: 12})

	w := doRequest(t, s, http.MethodPost, "/sync-email-campaigns", "", "",
		[]byte(`{"account_id":"acct-1"}`))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var result acelle.BatchSyncResult
	json.Unmarshal(w.Body.Bytes(), &result)
	if !result.Success || result.CampaignCount != 12 {
		t.Errorf("result = %+v", result)
	}
}

func TestBatchSyncFailure(t *testing.T) {
	s := NewServer(testGatewayConfig(), nil, &fakeSyncer{err: errors.New("upstream unreachable")})

	w := doRequest(t, s, http.MethodPost, "/sync-email-campaigns", "", "",
		[]byte(`{"account_id":"acct-1"}`))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	var result acelle.BatchSyncResult
	json.Unmarshal(w.Body.Bytes(), &result)
	if result.Success {
		t.Error("expected failure result")
	}
	if result.Message != "upstream unreachable" {
		t.Errorf("message = %q", result.Message)
	}
}

func TestBatchSyncValidation(t *testing.T) {
	s := NewServer(testGatewayConfig(), nil, &fakeSyncer{})

	w := doRequest(t, s, http.MethodPost, "/sync-email-campaigns", "", "", []byte(`{`))
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed JSON: status = %d, want 400", w.Code)
	}

	w = doRequest(t, s, http.MethodPost, "/sync-email-campaigns", "", "", []byte(`{}`))
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty account_id: status = %d, want 400", w.Code)
	}
}

func TestBatchSyncNotConfigured(t *testing.T) {
	s := NewServer(testGatewayConfig(), nil, nil)

	w := doRequest(t, s, http.MethodPost, "/sync-email-campaigns", "", "",
		[]byte(`{"account_id":"acct-1"}`))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}
