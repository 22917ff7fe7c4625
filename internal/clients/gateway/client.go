// Package gateway holds the admin client used to evict cached
// authorization decisions from gateway runtime nodes.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTimeout = 10 * time.Second

// KeyMapping names one cached authorization decision to evict. CacheKey is
// the full token+resource key the gateway caches under.
type KeyMapping struct {
	CacheKey string `json:"cache_key"`
	Context  string `json:"context"`
	Version  string `json:"version"`
}

// AdminClient invalidates cached keys on one gateway environment.
type AdminClient interface {
	Environment() string
	InvalidateKeys(ctx context.Context, mappings []KeyMapping) error
}

// Config configures an HTTP admin client.
type Config struct {
	// Name identifies the gateway environment in logs.
	Name string
	// AdminURL is the base URL of the gateway admin endpoint.
	AdminURL string
	// HTTPClient executes requests. When nil, a default client with a
	// conservative timeout is used.
	HTTPClient *http.Client
}

// HTTPAdminClient implements AdminClient over the gateway's admin HTTP
// endpoint.
type HTTPAdminClient struct {
	name       string
	adminURL   string
	httpClient *http.Client
}

// NewHTTPAdminClient creates an admin client for one environment.
func NewHTTPAdminClient(cfg Config) (*HTTPAdminClient, error) {
	adminURL := strings.TrimRight(strings.TrimSpace(cfg.AdminURL), "/")
	if adminURL == "" {
		return nil, fmt.Errorf("gateway: AdminURL is required")
	}
	parsed, err := url.Parse(adminURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("gateway: AdminURL must be a valid URL")
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}

	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = parsed.Host
	}

	return &HTTPAdminClient{name: name, adminURL: adminURL, httpClient: client}, nil
}

// Environment returns the environment name.
func (c *HTTPAdminClient) Environment() string { return c.name }

// InvalidateKeys posts the mapping batch to the gateway admin endpoint.
// Transport failures surface to the caller; the orchestration layer treats
// them as best-effort.
func (c *HTTPAdminClient) InvalidateKeys(ctx context.Context, mappings []KeyMapping) error {
	if len(mappings) == 0 {
		return nil
	}

	body, err := json.Marshal(struct {
		Mappings []KeyMapping `json:"mappings"`
	}{Mappings: mappings})
	if err != nil {
		return fmt.Errorf("gateway %s: encode mappings: %w", c.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.adminURL+"/keys/invalidate", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("gateway %s: create request: %w", c.name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway %s: execute request: %w", c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if readErr == nil && len(strings.TrimSpace(string(msg))) > 0 {
			return fmt.Errorf("gateway %s: %s: %s", c.name, resp.Status, strings.TrimSpace(string(msg)))
		}
		return fmt.Errorf("gateway %s: %s", c.name, resp.Status)
	}
	return nil
}

var _ AdminClient = (*HTTPAdminClient)(nil)
