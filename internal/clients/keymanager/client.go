// Package keymanager talks to the OAuth key-management service that mints
// and regenerates application access keys.
package keymanager

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

	"github.com/openapim/devportal/internal/app/domain/application"
)

const (
	defaultTimeout     = 15 * time.Second
	defaultMaxBodySize = 1 << 20 // 1MiB
)

// Config configures the key-manager client.
type Config struct {
	// BaseURL is the base URL of the key-management service.
	BaseURL string
	// APIKey is optionally sent as a bearer token.
	APIKey string
	// HTTPClient executes requests. When nil, a default client with a
	// conservative timeout is used.
	HTTPClient *http.Client
	// MaxBodyBytes caps response bodies to prevent memory exhaustion.
	MaxBodyBytes int64
}

// Client issues and regenerates application access keys over HTTP.
type Client struct {
	baseURL      string
	apiKey       string
	httpClient   *http.Client
	maxBodyBytes int64
}

// New creates a key-manager client.
func New(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("keymanager: BaseURL is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("keymanager: BaseURL must be a valid URL")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("keymanager: BaseURL scheme must be http or https")
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	if client.Timeout == 0 {
		client.Timeout = defaultTimeout
	}

	maxBodyBytes := cfg.MaxBodyBytes
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodySize
	}

	return &Client{
		baseURL:      baseURL,
		apiKey:       strings.TrimSpace(cfg.APIKey),
		httpClient:   client,
		maxBodyBytes: maxBodyBytes,
	}, nil
}

type accessKeyRequest struct {
	Username        string   `json:"username"`
	ApplicationName string   `json:"application_name"`
	KeyType         string   `json:"key_type"`
	CallbackURL     string   `json:"callback_url,omitempty"`
	AllowedDomains  []string `json:"allowed_domains,omitempty"`
	ValiditySecs    int64    `json:"validity_secs"`
	TokenScope      string   `json:"token_scope"`
}

type accessKeyResponse struct {
	AccessToken    string `json:"access_token"`
	ConsumerKey    string `json:"consumer_key"`
	ConsumerSecret string `json:"consumer_secret"`
	ValiditySecs   int64  `json:"validity_secs"`
	TokenScope     string `json:"token_scope"`
}

// GetApplicationAccessKey mints or retrieves the access key material for an
// approved application registration.
func (c *Client) GetApplicationAccessKey(ctx context.Context, username, applicationName string, keyType application.KeyType, callbackURL string, allowedDomains []string, validitySecs int64, tokenScope string) (application.KeyMaterial, error) {
	payload := accessKeyRequest{
		Username:        username,
		ApplicationName: applicationName,
		KeyType:         string(keyType),
		CallbackURL:     callbackURL,
		AllowedDomains:  allowedDomains,
		ValiditySecs:    validitySecs,
		TokenScope:      tokenScope,
	}

	var out accessKeyResponse
	if err := c.post(ctx, "/keys", payload, &out); err != nil {
		return application.KeyMaterial{}, err
	}

	return application.KeyMaterial{
		AccessToken:    out.AccessToken,
		ConsumerKey:    out.ConsumerKey,
		ConsumerSecret: out.ConsumerSecret,
		ValiditySecs:   out.ValiditySecs,
		TokenScope:     out.TokenScope,
	}, nil
}

type regenerateRequest struct {
	Scopes         string   `json:"scopes"`
	OldAccessToken string   `json:"old_access_token"`
	AllowedDomains []string `json:"allowed_domains,omitempty"`
	ConsumerKey    string   `json:"consumer_key"`
	ConsumerSecret string   `json:"consumer_secret"`
	ValiditySecs   int64    `json:"validity_secs"`
}

type regenerateResponse struct {
	AccessToken string `json:"access_token"`
}

// RegenerateApplicationAccessKey replaces an existing access token and
// returns the new one.
func (c *Client) RegenerateApplicationAccessKey(ctx context.Context, scopes, oldToken string, allowedDomains []string, consumerKey, consumerSecret string, validitySecs int64) (string, error) {
	payload := regenerateRequest{
		Scopes:         scopes,
		OldAccessToken: oldToken,
		AllowedDomains: allowedDomains,
		ConsumerKey:    consumerKey,
		ConsumerSecret: consumerSecret,
		ValiditySecs:   validitySecs,
	}

	var out regenerateResponse
	if err := c.post(ctx, "/keys/regenerate", payload, &out); err != nil {
		return "", err
	}
	return out.AccessToken, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("keymanager: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("keymanager: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("keymanager: execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if readErr == nil && len(strings.TrimSpace(string(msg))) > 0 {
			return fmt.Errorf("keymanager: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
		}
		return fmt.Errorf("keymanager: %s", resp.Status)
	}

	dec := json.NewDecoder(io.LimitReader(resp.Body, c.maxBodyBytes))
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("keymanager: decode response: %w", err)
	}
	return nil
}
