package acelle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/seventic/acelle-sync/internal/config"
	"github.com/seventic/acelle-sync/internal/domain"
	"github.com/seventic/acelle-sync/internal/pkg/httpretry"
)

// Upstream talks to an Acelle endpoint directly, authenticating with the
// account's api_token query parameter. It serves the server-side batch
// resync, where going back through the proxy would be a pointless loop.
type Upstream struct {
	httpClient  httpretry.HTTPDoer
	pingClient  *http.Client
	listTimeout config.SyncConfig
	gwCfg       config.GatewayConfig
}

// NewUpstream creates a direct Acelle client.
func NewUpstream(gwCfg config.GatewayConfig, syncCfg config.SyncConfig) *Upstream {
	return &Upstream{
		httpClient: httpretry.NewRetryClient(&http.Client{
			Timeout: gwCfg.ProxyTimeout(),
			// Acelle answers 302 to its login page on auth failure; the
			// client must see that status, not follow it.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}, 2),
		pingClient:  &http.Client{Timeout: gwCfg.PingTimeout()},
		listTimeout: syncCfg,
		gwCfg:       gwCfg,
	}
}

// SetHTTPClient sets a custom HTTP client (useful for testing).
func (u *Upstream) SetHTTPClient(client httpretry.HTTPDoer) {
	u.httpClient = client
}

func (u *Upstream) doRequest(ctx context.Context, acct domain.Account, path string, params url.Values) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("api_token", acct.APIToken)
	fullURL := APIBase(acct.APIEndpoint) + path + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	// Acelle redirects to its login page when the token is rejected.
	if resp.StatusCode == http.StatusFound {
		return nil, &APIError{StatusCode: http.StatusUnauthorized, Message: "upstream redirected to login page"}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}

	return body, nil
}

// TestConnection probes the account endpoint the same way the gateway
// connection test does: a bare reachability ping, then an authenticated
// whoami call. It reports a structured result rather than failing, so the
// orchestrator treats "unreachable" and "bad token" as data.
func (u *Upstream) TestConnection(ctx context.Context, acct domain.Account) (*ConnectionTestResult, error) {
	pingCtx, cancel := context.WithTimeout(ctx, u.gwCfg.PingTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(pingCtx, http.MethodHead, trimBase(acct.APIEndpoint), nil)
	if err != nil {
		return nil, fmt.Errorf("creating ping request: %w", err)
	}
	if resp, err := u.pingClient.Do(req); err != nil {
		return &ConnectionTestResult{
			Success: false,
			Message: "Délai d'attente dépassé ou endpoint injoignable",
			Details: ConnTestDetails{Endpoint: acct.APIEndpoint, Error: err.Error(), Timeout: isTimeout(err)},
		}, nil
	} else {
		resp.Body.Close()
	}

	testCtx, cancel := context.WithTimeout(ctx, u.gwCfg.ConnTestTimeout())
	defer cancel()

	body, err := u.doRequest(testCtx, acct, "/me", nil)
	if err != nil {
		result := &ConnectionTestResult{
			Success: false,
			Message: "Endpoint joignable mais erreur d'authentification Acelle",
			Details: ConnTestDetails{Endpoint: acct.APIEndpoint, Error: err.Error()},
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			result.StatusCode = apiErr.StatusCode
			result.Details.Status = apiErr.StatusCode
		}
		return result, nil
	}

	var me map[string]any
	_ = json.Unmarshal(body, &me)
	return &ConnectionTestResult{
		Success:    true,
		StatusCode: http.StatusOK,
		Message:    "Connexion établie",
		Details:    ConnTestDetails{Endpoint: acct.APIEndpoint, Status: http.StatusOK},
	}, nil
}

// ListCampaigns fetches one page of the account's campaign list directly.
func (u *Upstream) ListCampaigns(ctx context.Context, acct domain.Account, page, perPage int) ([]CampaignSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, u.listTimeout.ListTimeout())
	defer cancel()

	params := url.Values{}
	params.Set("page", strconv.Itoa(page))
	params.Set("per_page", strconv.Itoa(perPage))

	body, err := u.doRequest(ctx, acct, "/campaigns", params)
	if err != nil {
		return nil, fmt.Errorf("fetching campaigns page %d: %w", page, err)
	}
	return decodeCampaignList(body)
}

// GetCampaignStats fetches the raw statistics payload for one campaign.
func (u *Upstream) GetCampaignStats(ctx context.Context, acct domain.Account, uid string) (map[string]any, error) {
	body, err := u.doRequest(ctx, acct, "/campaigns/"+uid, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching statistics for campaign %s: %w", uid, err)
	}
	return decodeStatsPayload(body)
}
