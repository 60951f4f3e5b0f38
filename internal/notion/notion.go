// Package notion is a thin client for the Notion pages and database APIs,
// the kanban record store behind the bridge.
package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultVersion = "2022-06-28"

// ErrExternalCall classifies transport failures (network errors and non-200
// responses). Callers retry on the next cycle, never synchronously.
var ErrExternalCall = errors.New("notion: external call failed")

// Client talks to the Notion API for one database.
type Client struct {
	client     *http.Client
	baseURL    string
	token      string
	databaseID string
	version    string
	pageSize   int
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets a custom API base URL (for tests).
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithVersion sets the Notion-Version header value.
func WithVersion(v string) Option {
	return func(c *Client) { c.version = v }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithPageSize sets the query pagination size.
func WithPageSize(n int) Option {
	return func(c *Client) { c.pageSize = n }
}

// New creates a Notion client for the given database.
func New(token, databaseID string, opts ...Option) *Client {
	c := &Client{
		client:     &http.Client{Timeout: 30 * time.Second},
		baseURL:    "https://api.notion.com/v1",
		token:      token,
		databaseID: databaseID,
		version:    defaultVersion,
		pageSize:   100,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreatePage posts a new page into the database. properties is the nested
// payload built by the translator; the parent reference is added here.
func (c *Client) CreatePage(ctx context.Context, properties map[string]any) error {
	body := map[string]any{
		"parent":     map[string]any{"type": "database_id", "database_id": c.databaseID},
		"properties": properties,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("notion: marshal page: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/pages", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("notion: create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: create page: %v", ErrExternalCall, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: create page (status %d): %s", ErrExternalCall, resp.StatusCode, string(respBody))
	}
	return nil
}

// Fetch returns every page in the database as a raw nested payload, walking
// the cursor until has_more is false. It implements the poller's record
// source.
func (c *Client) Fetch(ctx context.Context) ([]map[string]any, error) {
	var pages []map[string]any
	cursor := ""

	for {
		params := map[string]any{"page_size": c.pageSize}
		if cursor != "" {
			params["start_cursor"] = cursor
		}
		payload, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("notion: marshal query: %w", err)
		}

		url := fmt.Sprintf("%s/databases/%s/query", c.baseURL, c.databaseID)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("notion: create request: %w", err)
		}
		c.setHeaders(req)

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: query database: %v", ErrExternalCall, err)
		}
		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: read response: %v", ErrExternalCall, err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%w: query database (status %d): %s", ErrExternalCall, resp.StatusCode, string(respBody))
		}

		var page queryResponse
		if err := json.Unmarshal(respBody, &page); err != nil {
			return nil, fmt.Errorf("notion: unmarshal response: %w", err)
		}
		pages = append(pages, page.Results...)

		if !page.HasMore || page.NextCursor == "" {
			return pages, nil
		}
		cursor = page.NextCursor
	}
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Notion-Version", c.version)
}

type queryResponse struct {
	Results    []map[string]any `json:"results"`
	HasMore    bool             `json:"has_more"`
	NextCursor string           `json:"next_cursor"`
}
