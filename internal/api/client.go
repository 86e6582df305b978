package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrMissingURL is returned when no proxy endpoint is configured.
var ErrMissingURL = errors.New("api url not configured")

const maxBodyBytes = 32 << 20

// fetchRequest is the body understood by the open-data proxy.
type fetchRequest struct {
	Action string `json:"action"`
	Type   string `json:"type"`
	Value  string `json:"value"`
}

// Client talks to the open-data proxy.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client for the proxy at baseURL. A zero timeout means 30s.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// WithHTTPClient swaps the underlying http.Client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// Fetch asks the proxy for a resource and returns the raw JSON reply.
func (c *Client) Fetch(ctx context.Context, resource string) ([]byte, error) {
	if c.baseURL == "" {
		return nil, ErrMissingURL
	}

	body, err := json.Marshal(fetchRequest{Action: "fetch", Type: "api", Value: resource})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	return c.do(req, resource)
}

// Get downloads a static JSON document.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	if url == "" {
		return nil, ErrMissingURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req, url)
}

func (c *Client) do(req *http.Request, what string) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s failed: %w", what, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("request %s returned status %d", what, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", what, err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("decode %s: invalid json", what)
	}
	return data, nil
}
