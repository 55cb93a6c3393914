package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrRelayUnavailable wraps transport-level failures against the relay's
// REST API. Callers treat it as a capability signal and degrade to
// local-only behavior instead of surfacing a failure.
var ErrRelayUnavailable = errors.New("relay unavailable")

// Client is the REST half of the relay: command rows and profile rows live
// in its store, reached through PostgREST-style endpoints.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter

	mutex       sync.RWMutex
	accessToken string
}

// NewClient creates a relay REST client for the given base URL.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
		// Drains walk the backlog row by row; pace the calls so a fat
		// backlog cannot hammer the relay.
		limiter: rate.NewLimiter(rate.Limit(5), 10),
	}
}

// SetAccessToken swaps the bearer token used on subsequent calls.
func (c *Client) SetAccessToken(token string) {
	c.mutex.Lock()
	c.accessToken = token
	c.mutex.Unlock()
}

// do executes one REST call with auth headers and shared error mapping.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body interface{}, prefer string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewBuffer(data)
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}
	c.mutex.RLock()
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}
	c.mutex.RUnlock()

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRelayUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrRelayUnavailable, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("relay error: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}

// PendingCommands returns the pending backlog for a pairing, oldest first.
// The order matters: drains must execute commands in the order players
// issued them.
func (c *Client) PendingCommands(ctx context.Context, pairingID string) ([]CommandRecord, error) {
	q := url.Values{}
	q.Set("pairing_id", "eq."+pairingID)
	q.Set("status", "eq."+string(StatusPending))
	q.Set("order", "created_at.asc")
	q.Set("limit", "200")

	data, err := c.do(ctx, http.MethodGet, "/rest/v1/commands", q, nil, "")
	if err != nil {
		return nil, err
	}
	var rows []CommandRecord
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode commands: %w", err)
	}
	return rows, nil
}

// ClaimCommand marks a pending command as processing. The status filter
// makes this a conditional write: when another companion got there first no
// row matches, zero rows come back and the claim is simply lost, not an
// error.
func (c *Client) ClaimCommand(ctx context.Context, id string) (bool, error) {
	q := url.Values{}
	q.Set("id", "eq."+id)
	q.Set("status", "eq."+string(StatusPending))

	body := map[string]interface{}{"status": StatusProcessing}
	data, err := c.do(ctx, http.MethodPatch, "/rest/v1/commands", q, body, "return=representation")
	if err != nil {
		return false, err
	}
	var rows []CommandRecord
	if err := json.Unmarshal(data, &rows); err != nil {
		return false, fmt.Errorf("decode claim response: %w", err)
	}
	return len(rows) > 0, nil
}

// CompleteCommand writes the terminal completed status with its result.
func (c *Client) CompleteCommand(ctx context.Context, id string, result json.RawMessage) error {
	q := url.Values{}
	q.Set("id", "eq."+id)

	body := map[string]interface{}{
		"status":       StatusCompleted,
		"result":       result,
		"processed_at": time.Now().UTC().Format(time.RFC3339),
	}
	_, err := c.do(ctx, http.MethodPatch, "/rest/v1/commands", q, body, "")
	return err
}

// FailCommand writes the terminal failed status with a human-readable
// message the chat side can show.
func (c *Client) FailCommand(ctx context.Context, id, errorMessage string) error {
	q := url.Values{}
	q.Set("id", "eq."+id)

	body := map[string]interface{}{
		"status":        StatusFailed,
		"error_message": errorMessage,
		"processed_at":  time.Now().UTC().Format(time.RFC3339),
	}
	_, err := c.do(ctx, http.MethodPatch, "/rest/v1/commands", q, body, "")
	return err
}

// Profiles returns the relay's profile rows for a pairing, freshest first.
func (c *Client) Profiles(ctx context.Context, pairingID string) ([]RemoteProfile, error) {
	q := url.Values{}
	q.Set("pairing_id", "eq."+pairingID)
	q.Set("order", "updated_at.desc")

	data, err := c.do(ctx, http.MethodGet, "/rest/v1/character_profiles", q, nil, "")
	if err != nil {
		return nil, err
	}
	var rows []RemoteProfile
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode profiles: %w", err)
	}
	return rows, nil
}

// UpsertProfile pushes a profile row to the relay, merging on conflict.
func (c *Client) UpsertProfile(ctx context.Context, p RemoteProfile) error {
	_, err := c.do(ctx, http.MethodPost, "/rest/v1/character_profiles", nil, p, "resolution=merge-duplicates")
	return err
}

// PairingGrant is the relay's answer to a redeemed pairing code.
type PairingGrant struct {
	PairingID    string `json:"pairing_id"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// ExchangePairingCode redeems a short-lived pairing code from the chat side
// for this companion's pairing id and token pair.
func (c *Client) ExchangePairingCode(code, clientID string) (*PairingGrant, error) {
	if code == "" {
		return nil, errors.New("pairing code is empty")
	}

	reqBody := map[string]string{
		"code":      code,
		"client_id": clientID,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req, err := http.NewRequest("POST", c.baseURL+"/auth/v1/token?grant_type=pairing_code", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pairing request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pairing rejected: %s (status: %d)", string(body), resp.StatusCode)
	}

	var grant PairingGrant
	if err := json.Unmarshal(body, &grant); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if grant.PairingID == "" || grant.AccessToken == "" {
		return nil, errors.New("incomplete pairing grant in response")
	}

	return &grant, nil
}

// RefreshAccessToken exchanges a refresh token for a fresh token pair.
func (c *Client) RefreshAccessToken(refreshToken string) (*TokenResponse, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("no refresh token available: %w", ErrRefreshFailed)
	}

	reqBody := map[string]string{
		"refresh_token": refreshToken,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req, err := http.NewRequest("POST", c.baseURL+"/auth/v1/token?grant_type=refresh_token", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s (status: %d)", ErrRefreshFailed, string(body), resp.StatusCode)
	}

	var tokenResp TokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("no access token in response: %w", ErrRefreshFailed)
	}

	return &tokenResp, nil
}
