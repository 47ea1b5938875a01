package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hyperengineering/loansync/internal/mapping"
)

// filterTimeLayout renders the update_time__gte bound at microsecond precision.
const filterTimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// maxErrorBody caps how much of a failed response body is kept in StatusError.
const maxErrorBody = 512

// Query selects one page of a collection.
type Query struct {
	Collection string
	Values     []string
	Since      time.Time
	Page       int
	Limit      int
}

// Client is the HTTP client for the CMS data API.
type Client struct {
	resolver Resolver
	http     *http.Client
}

// NewClient creates a Client. A zero timeout defaults to 30 seconds.
func NewClient(resolver Resolver, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		resolver: resolver,
		http:     &http.Client{Timeout: timeout},
	}
}

// Ready reports ErrNotConfigured when no base URL can be resolved.
func (c *Client) Ready() error {
	_, err := c.resolver.BaseURL()
	return err
}

// FetchPage requests one page sorted by update_time then id with update_time >= q.Since.
func (c *Client) FetchPage(ctx context.Context, q Query) (*Page, error) {
	base, err := c.resolver.BaseURL()
	if err != nil {
		return nil, err
	}

	reqURL, err := buildURL(base, q)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s page %d: %w", q.Collection, q.Page, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var payload struct {
		Rows []map[string]any `json:"rows"`
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode %s page %d: %w", q.Collection, q.Page, err)
	}

	records := make([]Record, 0, len(payload.Rows))
	for i, raw := range payload.Rows {
		rec, err := toRecord(raw)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		records = append(records, rec)
	}
	return NewPage(records)
}

func buildURL(base string, q Query) (string, error) {
	if q.Collection == "" {
		return "", fmt.Errorf("query collection is required")
	}
	filter, err := json.Marshal(map[string]string{
		"update_time__gte": q.Since.UTC().Format(filterTimeLayout),
	})
	if err != nil {
		return "", fmt.Errorf("encode filter: %w", err)
	}

	params := url.Values{}
	params.Set("page", strconv.Itoa(q.Page))
	params.Set("limit", strconv.Itoa(q.Limit))
	params.Set("sort", "update_time,id")
	if len(q.Values) > 0 {
		params.Set("values", strings.Join(q.Values, ","))
	}
	params.Set("filter", string(filter))

	return fmt.Sprintf("%s/data/%s/?%s", base, url.PathEscape(q.Collection), params.Encode()), nil
}

func toRecord(raw map[string]any) (Record, error) {
	var id int64
	switch v := raw["id"].(type) {
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return Record{}, fmt.Errorf("%w: id %q is not an integer", ErrMalformedRecord, v)
		}
		id = n
	default:
		return Record{}, fmt.Errorf("%w: missing numeric id", ErrMalformedRecord)
	}

	s, ok := raw["update_time"].(string)
	if !ok || s == "" {
		return Record{}, fmt.Errorf("%w: id=%d has no update_time", ErrMalformedRecord, id)
	}
	ts, err := mapping.ParseTimestamp(s)
	if err != nil {
		return Record{}, fmt.Errorf("%w: id=%d update_time: %v", ErrMalformedRecord, id, err)
	}

	return Record{ID: id, UpdateTime: ts, Fields: raw}, nil
}
