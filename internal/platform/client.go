package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var ErrUnauthorized = errors.New("platform: unauthorized")

type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("platform: status %d", e.Status)
	}
	return fmt.Sprintf("platform: status %d: %s", e.Status, e.Body)
}

type API interface {
	UserCredit(ctx context.Context, auth Auth) (CreditBalance, error)
	AutoTopUp(ctx context.Context, auth Auth) (AutoTopUpConfig, error)
	SetAutoTopUp(ctx context.Context, auth Auth, cfg AutoTopUpConfig) error
	RequestTopUp(ctx context.Context, auth Auth, creditAmount int) (CheckoutSession, error)
	TransactionHistory(ctx context.Context, auth Auth, before *time.Time, limit int) (TransactionHistory, error)
	StoreAgent(ctx context.Context, creator, slug string) (StoreAgentDetails, error)
	AddToLibrary(ctx context.Context, auth Auth, storeListingVersionID string) (LibraryAgent, error)
	Ask(ctx context.Context, auth Auth, req AskRequest) (AskResponse, error)
}

type Config struct {
	BaseURL     string
	HTTPClient  *http.Client
	MaxRetries  int
	BackoffBase time.Duration
}

type Client struct {
	cfg Config
}

func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 400 * time.Millisecond
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg}
}

var _ API = (*Client)(nil)

func (c *Client) UserCredit(ctx context.Context, auth Auth) (CreditBalance, error) {
	var out CreditBalance
	err := c.do(ctx, http.MethodGet, "/api/credits", nil, &auth, nil, &out, c.cfg.MaxRetries)
	return out, err
}

func (c *Client) AutoTopUp(ctx context.Context, auth Auth) (AutoTopUpConfig, error) {
	var out AutoTopUpConfig
	err := c.do(ctx, http.MethodGet, "/api/credits/auto-top-up", nil, &auth, nil, &out, c.cfg.MaxRetries)
	return out, err
}

func (c *Client) SetAutoTopUp(ctx context.Context, auth Auth, cfg AutoTopUpConfig) error {
	return c.do(ctx, http.MethodPost, "/api/credits/auto-top-up", nil, &auth, cfg, nil, 0)
}

// Never retried: a duplicate call would open a second checkout session.
func (c *Client) RequestTopUp(ctx context.Context, auth Auth, creditAmount int) (CheckoutSession, error) {
	payload := struct {
		CreditAmount int `json:"credit_amount"`
	}{CreditAmount: creditAmount}
	var out CheckoutSession
	err := c.do(ctx, http.MethodPost, "/api/credits", nil, &auth, payload, &out, 0)
	return out, err
}

func (c *Client) TransactionHistory(ctx context.Context, auth Auth, before *time.Time, limit int) (TransactionHistory, error) {
	q := url.Values{}
	if before != nil {
		q.Set("transaction_time", before.UTC().Format(time.RFC3339Nano))
	}
	q.Set("transaction_count_limit", strconv.Itoa(limit))
	var out TransactionHistory
	err := c.do(ctx, http.MethodGet, "/api/credits/transactions", q, &auth, nil, &out, c.cfg.MaxRetries)
	return out, err
}

func (c *Client) StoreAgent(ctx context.Context, creator, slug string) (StoreAgentDetails, error) {
	path := "/api/store/agents/" + url.PathEscape(creator) + "/" + url.PathEscape(slug)
	var out StoreAgentDetails
	err := c.do(ctx, http.MethodGet, path, nil, nil, nil, &out, c.cfg.MaxRetries)
	return out, err
}

func (c *Client) AddToLibrary(ctx context.Context, auth Auth, storeListingVersionID string) (LibraryAgent, error) {
	payload := struct {
		StoreListingVersionID string `json:"store_listing_version_id"`
	}{StoreListingVersionID: storeListingVersionID}
	var out LibraryAgent
	err := c.do(ctx, http.MethodPost, "/api/library/agents", nil, &auth, payload, &out, 0)
	return out, err
}

// MessageID dedupes the question server-side, so retrying an ask is safe.
func (c *Client) Ask(ctx context.Context, auth Auth, req AskRequest) (AskResponse, error) {
	var out AskResponse
	err := c.do(ctx, http.MethodPost, "/api/otto/ask", nil, &auth, req, &out, c.cfg.MaxRetries)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, auth *Auth, payload, out any, maxRetries int) error {
	var body []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = b
	}

	endpoint := c.cfg.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		retry, err := c.callOnce(ctx, method, endpoint, auth, body, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry || attempt == maxRetries {
			break
		}
		backoff := c.cfg.BackoffBase * (1 << attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return lastErr
}

func (c *Client) callOnce(ctx context.Context, method, endpoint string, auth *Auth, body []byte, out any) (retry bool, err error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth != nil && strings.TrimSpace(auth.AccessToken) != "" {
		req.Header.Set("Authorization", "Bearer "+auth.AccessToken)
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return false, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return false, ErrUnauthorized
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return true, &APIError{Status: resp.StatusCode, Body: truncate(respBody)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, &APIError{Status: resp.StatusCode, Body: truncate(respBody)}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return false, fmt.Errorf("decode response: %w", err)
		}
	}
	return false, nil
}

func truncate(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 512 {
		return s[:512]
	}
	return s
}
