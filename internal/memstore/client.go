// Package memstore is the client for the Memory server, a small HTTP
// key-value store holding session state and the per-user current project
// pointer. Values are opaque JSON.
package memstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spirrowgames/prismind/internal/retry"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("memstore: key not found")

// StatusError is a non-2xx, non-404 response from the Memory server.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("memory server: unexpected status %d: %s", e.Code, e.Body)
}

// Client communicates with the Memory server over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	policy     retry.Policy
	available  bool
}

// New creates a Client and probes /health once with a short timeout. The
// result is cached for the client's lifetime.
func New(baseURL string, policy retry.Policy) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		policy:     policy,
	}
	c.available = c.probe(3 * time.Second)
	if !c.available {
		slog.Warn("memory server not available", "url", c.baseURL)
	}
	return c
}

func (c *Client) probe(timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Available reports the connectivity state observed at construction.
func (c *Client) Available() bool { return c.available }

func (c *Client) keyPath(key string) string {
	return "/memory/" + url.PathEscape(key)
}

// Get unmarshals the value stored at key into out. Returns ErrNotFound when
// the key does not exist.
func (c *Client) Get(ctx context.Context, key string, out any) error {
	return c.policy.Do(ctx, "memstore get "+key, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.keyPath(key), nil)
		if err != nil {
			return err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("memory server get %s: %w", key, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return ErrNotFound
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding value of %s: %w", key, err)
		}
		return nil
	})
}

// Set stores value at key, creating or overwriting it.
func (c *Client) Set(ctx context.Context, key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding value of %s: %w", key, err)
	}
	return c.policy.Do(ctx, "memstore set "+key, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+c.keyPath(key), bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("memory server set %s: %w", key, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
		}
		return nil
	})
}

// Delete removes a key. Deleting an absent key is not an error.
func (c *Client) Delete(ctx context.Context, key string) error {
	return c.policy.Do(ctx, "memstore delete "+key, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+c.keyPath(key), nil)
		if err != nil {
			return err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("memory server delete %s: %w", key, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return nil
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
		}
		return nil
	})
}

// ListKeys returns all keys with the given prefix.
func (c *Client) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := c.policy.Do(ctx, "memstore list "+prefix, func() error {
		q := url.Values{}
		q.Set("prefix", prefix)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/memory?"+q.Encode(), nil)
		if err != nil {
			return err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("memory server list %s: %w", prefix, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
		}
		var out struct {
			Keys []string `json:"keys"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("decoding key list: %w", err)
		}
		keys = out.Keys
		return nil
	})
	return keys, err
}
