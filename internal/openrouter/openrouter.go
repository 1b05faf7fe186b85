// Package openrouter queries the OpenRouter API for account balance and
// model context windows.
//
// Balance comes from the key endpoint (/api/v1/key); context windows come
// from the model listing (/api/v1/models). One successful model listing
// populates a process-wide capacity cache, amortizing lookups for every
// model for the rest of the process lifetime.
package openrouter

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// DefaultContextLimit is the context window assumed when the model is absent
// from the listing or the listing cannot be fetched.
const DefaultContextLimit = 131072

// maxResponseBytes caps API response bodies read into memory.
const maxResponseBytes = 10 << 20 // 10 MiB

// ///////////////////////////////////////////////
// Errors
// ///////////////////////////////////////////////

// StatusError is returned when the API responds with a non-success status.
type StatusError struct {
	// URL is the request URL that failed.
	URL string
	// Status is the HTTP status code of the response.
	Status int
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.URL, e.Status)
}

// ///////////////////////////////////////////////
// Types
// ///////////////////////////////////////////////

// Balance is a snapshot of the account's spending state. Limit and
// LimitRemaining are nil for keys without a spending limit.
type Balance struct {
	// Limit is the key's spending limit in dollars, nil when unlimited.
	Limit *float64
	// LimitRemaining is the unspent portion of the limit, nil when unlimited.
	LimitRemaining *float64
	// Usage is the cumulative spend in dollars.
	Usage float64
	// UsageDaily is today's spend in dollars.
	UsageDaily float64
}

// Client queries the OpenRouter API.
type Client struct {
	// base is the API base URL without trailing slash.
	base string
	// apiKey is the bearer credential for all requests.
	apiKey string
	// http is the shared retryable HTTP client.
	http *retryablehttp.Client
}

// NewClient creates an OpenRouter client for the given API base URL and key.
func NewClient(base, apiKey string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.HTTPClient.Timeout = 10 * time.Second
	rc.Logger = nil // suppress retryablehttp's default logging
	return &Client{base: base, apiKey: apiKey, http: rc}
}

// get performs an authorized GET and returns the response body.
// Non-2xx responses are returned as [*StatusError].
func (c *Client) get(path string) ([]byte, error) {
	url := c.base + path
	req, err := retryablehttp.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: url, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", url, err)
	}
	return body, nil
}

// ///////////////////////////////////////////////
// Balance
// ///////////////////////////////////////////////

// keyResponse is the payload of the key endpoint.
type keyResponse struct {
	Data struct {
		Limit          *float64 `json:"limit"`
		LimitRemaining *float64 `json:"limit_remaining"`
		Usage          float64  `json:"usage"`
		UsageDaily     float64  `json:"usage_daily"`
	} `json:"data"`
}

// FetchBalance queries the key endpoint for the current spending state.
func (c *Client) FetchBalance() (*Balance, error) {
	body, err := c.get("/api/v1/key")
	if err != nil {
		return nil, err
	}

	var resp keyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing key response: %w", err)
	}

	return &Balance{
		Limit:          resp.Data.Limit,
		LimitRemaining: resp.Data.LimitRemaining,
		Usage:          resp.Data.Usage,
		UsageDaily:     resp.Data.UsageDaily,
	}, nil
}

// ///////////////////////////////////////////////
// Capacity
// ///////////////////////////////////////////////

// modelsResponse is the payload of the model listing endpoint.
type modelsResponse struct {
	Data []struct {
		ID            string `json:"id"`
		ContextLength int64  `json:"context_length"`
	} `json:"data"`
}

// CapacityCache maps model identifiers to context windows. It is populated
// lazily from the model listing and retained for the process lifetime.
type CapacityCache struct {
	mu     sync.Mutex
	limits map[string]int64
	// fetched records that the listing was loaded at least once, so a model
	// missing from it is not re-fetched on every lookup.
	fetched bool
}

// NewCapacityCache creates an empty capacity cache.
func NewCapacityCache() *CapacityCache {
	return &CapacityCache{limits: make(map[string]int64)}
}

// Lookup returns the cached context window for a model.
func (cc *CapacityCache) Lookup(model string) (int64, bool) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	limit, ok := cc.limits[model]
	return limit, ok
}

// FetchCapacity returns the context window for a model. The first call
// fetches the full model listing and populates cc as a side effect; later
// calls are served from the cache. A model absent from the listing, or a
// failed fetch, yields [DefaultContextLimit]; only the fetch failure is
// reported as an error alongside the default.
func (c *Client) FetchCapacity(cc *CapacityCache, model string) (int64, error) {
	if limit, ok := cc.Lookup(model); ok {
		return limit, nil
	}

	cc.mu.Lock()
	fetched := cc.fetched
	cc.mu.Unlock()
	if fetched {
		return DefaultContextLimit, nil
	}

	body, err := c.get("/api/v1/models")
	if err != nil {
		return DefaultContextLimit, err
	}

	var resp modelsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return DefaultContextLimit, fmt.Errorf("parsing model listing: %w", err)
	}

	cc.mu.Lock()
	for _, m := range resp.Data {
		if m.ContextLength > 0 {
			cc.limits[m.ID] = m.ContextLength
		}
	}
	cc.fetched = true
	limit, ok := cc.limits[model]
	cc.mu.Unlock()

	if !ok {
		return DefaultContextLimit, nil
	}
	return limit, nil
}
