// Package client is a Go client for the loansync HTTP API.
package client

import (
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

// ErrSyncInProgress is matched by errors.Is when a trigger is rejected
// because another run holds the target's lock.
var ErrSyncInProgress = errors.New("sync already running")

// APIError is a non-2xx response. Error and Details carry the sync
// failure fields when present, Detail the RFC 7807 detail.
type APIError struct {
	StatusCode int    `json:"status"`
	Title      string `json:"title"`
	Detail     string `json:"detail"`
	Message    string `json:"error"`
	Details    string `json:"details"`
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Detail
	}
	if e.Details != "" {
		msg += ": " + e.Details
	}
	return fmt.Sprintf("loansync: %d %s", e.StatusCode, msg)
}

// Is reports 429 responses as ErrSyncInProgress.
func (e *APIError) Is(target error) bool {
	return target == ErrSyncInProgress && e.StatusCode == http.StatusTooManyRequests && e.Message != ""
}

// Client talks to a loansync server.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New creates a Client. The default timeout matches the server's write timeout.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http: &http.Client{
			Timeout: 10 * time.Minute,
		},
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http = hc
	return c
}

// Ping checks the public health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/v1/health", nil, nil)
}

// TriggerSync runs one sync of target and waits for it to finish.
func (c *Client) TriggerSync(ctx context.Context, target string) (*SyncResult, error) {
	var out SyncResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/sync/"+url.PathEscape(target), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status returns the cursor and lock of target.
func (c *Client) Status(ctx context.Context, target string) (*Status, error) {
	var out Status
	if err := c.do(ctx, http.MethodGet, "/api/v1/sync/"+url.PathEscape(target), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListApplications returns one page of mirrored applications.
func (c *Client) ListApplications(ctx context.Context, opts ListOptions) (*ApplicationPage, error) {
	q := url.Values{}
	if opts.Status != nil {
		q.Set("status", strconv.FormatInt(*opts.Status, 10))
	}
	setIf(q, "branch_code", opts.BranchCode)
	setIf(q, "from", opts.From)
	setIf(q, "to", opts.To)
	setIf(q, "search", opts.Search)
	if opts.Ascending {
		q.Set("order", "asc")
	}
	if opts.Page > 0 {
		q.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}

	var out ApplicationPage
	if err := c.do(ctx, http.MethodGet, "/api/v1/applications", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func setIf(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}

// do sends an authenticated request and decodes a 2xx body into out.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, out any) error {
	if c.baseURL == "" {
		return errors.New("loansync URL not configured")
	}
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if err := json.Unmarshal(body, apiErr); err != nil {
			apiErr.Detail = strings.TrimSpace(string(body))
		}
		apiErr.StatusCode = resp.StatusCode
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
