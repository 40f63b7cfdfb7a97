// Package tickwise is a Go client for the tickwise-server HTTP and gRPC APIs.
package tickwise

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

// ErrNotFound is returned for a 404 response.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tickwise: %d %s", e.StatusCode, e.Message)
}

// Unwrap maps 404 responses to ErrNotFound.
func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

// Client provides a Go SDK for interacting with the tickwise-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new tickwise API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

// Run starts a backtest. Nil params run the server defaults.
func (c *Client) Run(ctx context.Context, params *Params) (*RunResponse, error) {
	var body io.Reader
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}
	var out RunResponse
	if err := c.do(ctx, http.MethodPost, "/api/backtest", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Latest returns the latest committed run.
func (c *Client) Latest(ctx context.Context) (*Run, error) {
	var out Run
	if err := c.do(ctx, http.MethodGet, "/api/backtest/latest", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Recommendations returns snapshot rows. An empty side returns every
// verdict; top <= 0 returns every row.
func (c *Client) Recommendations(ctx context.Context, side string, top int) ([]Recommendation, error) {
	q := url.Values{}
	if side != "" {
		q.Set("side", side)
	}
	if top > 0 {
		q.Set("top", strconv.Itoa(top))
	}
	path := "/api/recommendations"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []Recommendation
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Prices returns the daily bars of ticker.
func (c *Client) Prices(ctx context.Context, ticker string) ([]Bar, error) {
	var out []Bar
	if err := c.do(ctx, http.MethodGet, "/api/tickers/"+url.PathEscape(ticker)+"/prices", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var e struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(data))
		}
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
