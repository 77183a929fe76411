package acelle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/seventic/acelle-sync/internal/config"
	"github.com/seventic/acelle-sync/internal/domain"
	"github.com/seventic/acelle-sync/internal/pkg/httpretry"
)

// CallerTokenSource supplies the caller identity token sent to the gateway.
type CallerTokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client calls the Acelle API through the proxy gateway. Every request
// carries the caller identity token plus the account's endpoint and secret
// as distinct headers; the gateway rewrites them into the upstream call.
type Client struct {
	gatewayURL  string
	tokens      CallerTokenSource
	httpClient  httpretry.HTTPDoer
	listTimeout time.Duration
}

// NewClient creates a gateway-mediated Acelle client.
func NewClient(gwCfg config.GatewayConfig, syncCfg config.SyncConfig, tokens CallerTokenSource) *Client {
	return &Client{
		gatewayURL: trimBase(gwCfg.BaseURL),
		tokens:     tokens,
		httpClient: httpretry.NewRetryClient(&http.Client{
			Timeout: gwCfg.ProxyTimeout() + 5*time.Second,
		}, 2),
		listTimeout: syncCfg.ListTimeout(),
	}
}

// SetHTTPClient sets a custom HTTP client (useful for testing).
func (c *Client) SetHTTPClient(client httpretry.HTTPDoer) {
	c.httpClient = client
}

// doRequest performs one gateway call on behalf of an account.
func (c *Client) doRequest(ctx context.Context, acct domain.Account, method, path string, params url.Values, body any) ([]byte, error) {
	fullURL := c.gatewayURL + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("obtaining caller token: %w", err)
	}
	if tok == "" {
		return nil, &APIError{StatusCode: http.StatusUnauthorized, Message: "no active session"}
	}

	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-acelle-endpoint", acct.APIEndpoint)
	req.Header.Set("x-acelle-token", acct.APIToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
	}

	return respBody, nil
}

// errorMessage extracts the gateway error envelope, falling back to the raw body.
func errorMessage(body []byte) string {
	var envelope struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		if envelope.Error != "" {
			return envelope.Error
		}
		if envelope.Message != "" {
			return envelope.Message
		}
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}

// TestConnection runs the gateway connection test for the account. A
// transport failure reaching the gateway itself is returned as an error;
// an unreachable or misconfigured Acelle endpoint comes back as a result
// with Success=false (the gateway answers 200 either way).
func (c *Client) TestConnection(ctx context.Context, acct domain.Account) (*ConnectionTestResult, error) {
	body, err := c.doRequest(ctx, acct, http.MethodGet, "/test-acelle-connection", nil, nil)
	if err != nil {
		return nil, err
	}

	var result ConnectionTestResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parsing connection test result: %w", err)
	}
	return &result, nil
}

// ListCampaigns fetches one page of the account's campaign list.
func (c *Client) ListCampaigns(ctx context.Context, acct domain.Account, page, perPage int) ([]CampaignSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, c.listTimeout)
	defer cancel()

	params := url.Values{}
	params.Set("page", strconv.Itoa(page))
	params.Set("per_page", strconv.Itoa(perPage))

	body, err := c.doRequest(ctx, acct, http.MethodGet, "/campaigns", params, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching campaigns page %d: %w", page, err)
	}

	return decodeCampaignList(body)
}

// GetCampaignStats fetches the raw statistics payload for one campaign.
// The payload shape varies by Acelle version, so it stays untyped until
// normalization.
func (c *Client) GetCampaignStats(ctx context.Context, acct domain.Account, uid string) (map[string]any, error) {
	body, err := c.doRequest(ctx, acct, http.MethodGet, "/campaigns/"+uid, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching statistics for campaign %s: %w", uid, err)
	}
	return decodeStatsPayload(body)
}

// ForceSync delegates the account's entire fetch+upsert to the gateway's
// server-side batch operation and returns the synced campaign count.
func (c *Client) ForceSync(ctx context.Context, acct domain.Account) (int, error) {
	body, err := c.doRequest(ctx, acct, http.MethodPost, "/sync-email-campaigns", nil,
		map[string]string{"account_id": acct.ID})
	if err != nil {
		return 0, fmt.Errorf("forced resync: %w", err)
	}

	var result BatchSyncResult
	if err := json.Unmarshal(body, &result); err != nil {
		return 0, fmt.Errorf("parsing forced resync result: %w", err)
	}
	if !result.Success {
		return 0, fmt.Errorf("forced resync rejected: %s", result.Message)
	}
	return result.CampaignCount, nil
}

// Wake pings the gateway so a cold-started or hung instance records a fresh
// heartbeat. Used by the availability monitor.
func (c *Client) Wake(ctx context.Context) error {
	_, err := c.doRequest(ctx, domain.Account{}, http.MethodGet, "/wake", nil, nil)
	if err != nil {
		return fmt.Errorf("waking gateway: %w", err)
	}
	return nil
}

// decodeCampaignList accepts the two list shapes Acelle produces: a bare
// array (v1) or an object with a data field (v2).
func decodeCampaignList(body []byte) ([]CampaignSummary, error) {
	var direct []CampaignSummary
	if err := json.Unmarshal(body, &direct); err == nil {
		return direct, nil
	}

	var wrapped struct {
		Data []CampaignSummary `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("parsing campaign list: %w", err)
	}
	return wrapped.Data, nil
}

// decodeStatsPayload extracts the statistics object from a campaign detail
// response, tolerating payloads where the statistics are the top level.
func decodeStatsPayload(body []byte) (map[string]any, error) {
	var detail map[string]any
	if err := json.Unmarshal(body, &detail); err != nil {
		return nil, fmt.Errorf("parsing campaign detail: %w", err)
	}
	if stats, ok := detail["statistics"].(map[string]any); ok {
		return stats, nil
	}
	if stats, ok := detail["campaign"].(map[string]any); ok {
		if inner, ok := stats["statistics"].(map[string]any); ok {
			return inner, nil
		}
	}
	return detail, nil
}
