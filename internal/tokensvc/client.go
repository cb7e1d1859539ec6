// ABOUTME: REST client for the Bot Framework user token service
// ABOUTME: Token lookup, silent exchange, sign-in resources, and sign-out

package tokensvc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/2389/teams-gateway/internal/activity"
)

// DefaultBaseURL is the production token service endpoint.
const DefaultBaseURL = "https://token.botframework.com"

// TokenSource supplies bearer tokens for calls to the token service.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client talks to the Bot Framework token service. It is the gateway's only
// path to user OAuth tokens; token caching and expiry live on the service
// side, never in this process.
type Client struct {
	baseURL string
	source  TokenSource
	client  *http.Client
	logger  *slog.Logger
}

// New creates a token service client. baseURL empty selects production.
func New(baseURL string, source TokenSource, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: baseURL,
		source:  source,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger.With("component", "tokensvc"),
	}
}

// GetUserToken looks up a cached user token for the connection. magicCode is
// the out-of-band verification code and may be empty. A (nil, nil) return
// means the user has no token and must sign in.
func (c *Client) GetUserToken(ctx context.Context, userID, connectionName, channelID, magicCode string) (*activity.TokenResponse, error) {
	q := url.Values{}
	q.Set("userId", userID)
	q.Set("connectionName", connectionName)
	q.Set("channelId", channelID)
	if magicCode != "" {
		q.Set("code", magicCode)
	}

	resp, err := c.do(ctx, http.MethodGet, "/api/usertoken/GetToken?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var token activity.TokenResponse
		if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
			return nil, fmt.Errorf("parsing token response: %w", err)
		}
		if token.Token == "" {
			return nil, nil
		}
		return &token, nil
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, fmt.Errorf("token lookup failed: status %d", resp.StatusCode)
	}
}

// ExchangeToken performs the silent token exchange the Teams client initiates
// via a signin/tokenExchange invoke. A (nil, nil) return means the exchange
// was declined and the caller should fall back to interactive sign-in.
func (c *Client) ExchangeToken(ctx context.Context, userID, connectionName, channelID string, req *activity.TokenExchangeInvokeRequest) (*activity.TokenResponse, error) {
	q := url.Values{}
	q.Set("userId", userID)
	q.Set("connectionName", connectionName)
	q.Set("channelId", channelID)

	body, err := json.Marshal(map[string]string{"token": req.Token})
	if err != nil {
		return nil, fmt.Errorf("encoding exchange request: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/usertoken/exchange?"+q.Encode(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var token activity.TokenResponse
		if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
			return nil, fmt.Errorf("parsing exchange response: %w", err)
		}
		if token.Token == "" {
			return nil, nil
		}
		return &token, nil
	case http.StatusBadRequest, http.StatusNotFound, http.StatusPreconditionFailed, http.StatusConflict:
		// The service declined the silent exchange; interactive sign-in
		// is the fallback, not an error.
		c.logger.Debug("silent token exchange declined", "status", resp.StatusCode)
		return nil, nil
	default:
		return nil, fmt.Errorf("token exchange failed: status %d", resp.StatusCode)
	}
}

// GetSignInResource resolves an encoded state blob into a sign-in link and
// the exchange resources embedded in the OAuth card.
func (c *Client) GetSignInResource(ctx context.Context, state string) (*activity.SignInResource, error) {
	q := url.Values{}
	q.Set("state", state)

	resp, err := c.do(ctx, http.MethodGet, "/api/botsignin/GetSignInResource?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sign-in resource lookup failed: status %d", resp.StatusCode)
	}

	var res activity.SignInResource
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("parsing sign-in resource: %w", err)
	}
	return &res, nil
}

// SignOut deletes the cached user token for the connection.
func (c *Client) SignOut(ctx context.Context, userID, connectionName, channelID string) error {
	q := url.Values{}
	q.Set("userId", userID)
	q.Set("connectionName", connectionName)
	q.Set("channelId", channelID)

	resp, err := c.do(ctx, http.MethodDelete, "/api/usertoken/SignOut?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("sign-out failed: status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	token, err := c.source.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring service token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling token service: %w", err)
	}
	return resp, nil
}
