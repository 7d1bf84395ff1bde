package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is the HTTP Store implementation against the graph API service.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates a client for the graph service at baseURL.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.http = h
	return c
}

func (c *Client) UpsertEntity(ctx context.Context, label, key string) error {
	body := map[string]string{"label": label, "key": key}
	return c.do(ctx, http.MethodPost, "/entities", body, nil)
}

func (c *Client) MaterializeEdge(ctx context.Context, edge Edge) error {
	// 409 means the edge already exists for this claim id; that is the
	// idempotent success case.
	return c.do(ctx, http.MethodPost, "/edges", edge, []int{http.StatusConflict})
}

func (c *Client) RetractEdge(ctx context.Context, claimID string) error {
	// A missing edge is already retracted.
	return c.do(ctx, http.MethodDelete, "/edges/"+claimID, nil, []int{http.StatusNotFound})
}

func (c *Client) GapQuery(ctx context.Context, criteria GapCriteria) ([]Gap, error) {
	var gaps []Gap
	if err := c.doJSON(ctx, http.MethodPost, "/gaps", criteria, &gaps); err != nil {
		return nil, err
	}
	return gaps, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, tolerated []int) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("graph: encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("graph: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("graph: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	for _, code := range tolerated {
		if resp.StatusCode == code {
			return nil
		}
	}
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("graph: %s %s: status %d: %s", method, path, resp.StatusCode, payload)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("graph: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("graph: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("graph: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("graph: %s %s: status %d: %s", method, path, resp.StatusCode, payload)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("graph: decode response: %w", err)
	}
	return nil
}
