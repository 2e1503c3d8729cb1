// Package limitwatch is a Go SDK for the limitwatch HTTP API.
package limitwatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"limitwatch/internal/domain"
	"limitwatch/internal/httpapi"
)

// Client provides a Go SDK for interacting with a running limitwatch.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new limitwatch API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("limitwatch: %d: %s", e.StatusCode, e.Message)
}

// Status retrieves the feed status.
func (c *Client) Status(ctx context.Context) (httpapi.StatusJSON, error) {
	var out httpapi.StatusJSON
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &out)
	return out, err
}

// Views retrieves every view in display order.
func (c *Client) Views(ctx context.Context) ([]domain.ViewSnapshot, error) {
	var out []domain.ViewSnapshot
	err := c.do(ctx, http.MethodGet, "/api/views", nil, &out)
	return out, err
}

// View retrieves one view by name.
func (c *Client) View(ctx context.Context, name string) (domain.ViewSnapshot, error) {
	var out domain.ViewSnapshot
	err := c.do(ctx, http.MethodGet, "/api/views/"+url.PathEscape(name), nil, &out)
	return out, err
}

// Subscriptions retrieves the acknowledged subscriptions sorted by symbol.
func (c *Client) Subscriptions(ctx context.Context) ([]httpapi.SubscriptionJSON, error) {
	var out []httpapi.SubscriptionJSON
	err := c.do(ctx, http.MethodGet, "/api/subscriptions", nil, &out)
	return out, err
}

// WatchlistPath retrieves the saved watchlist path.
func (c *Client) WatchlistPath(ctx context.Context) (string, error) {
	var out httpapi.WatchlistSettingJSON
	err := c.do(ctx, http.MethodGet, "/api/settings/watchlist", nil, &out)
	return out.Path, err
}

// SetWatchlistPath saves the watchlist path used on the next start.
func (c *Client) SetWatchlistPath(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodPut, "/api/settings/watchlist", httpapi.WatchlistSettingJSON{Path: path}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var e struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}
