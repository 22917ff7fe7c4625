package workflowclient

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

	"github.com/google/uuid"

	"github.com/openapim/devportal/internal/app/domain/workflow"
)

const (
	defaultTimeout     = 15 * time.Second
	defaultMaxBodySize = 1 << 20 // 1MiB
)

// HTTPConfig configures the HTTP workflow executor.
type HTTPConfig struct {
	// EngineURL is the base URL of the external workflow engine.
	EngineURL string
	// CallbackURL is advertised to the engine for asynchronous outcome
	// reports.
	CallbackURL string
	// HTTPClient executes requests. When nil, a default client with a
	// conservative timeout is used.
	HTTPClient *http.Client
	// MaxBodyBytes caps response bodies to prevent memory exhaustion.
	MaxBodyBytes int64
}

// HTTPExecutor submits workflow requests to an external engine over HTTP.
// Outcomes arrive later through the callback URL; Execute only confirms
// the submission was accepted.
type HTTPExecutor struct {
	engineURL    string
	callbackURL  string
	httpClient   *http.Client
	maxBodyBytes int64
}

// NewHTTP creates an HTTP workflow executor.
func NewHTTP(cfg HTTPConfig) (*HTTPExecutor, error) {
	engineURL := strings.TrimRight(strings.TrimSpace(cfg.EngineURL), "/")
	if engineURL == "" {
		return nil, fmt.Errorf("workflow: EngineURL is required")
	}
	parsed, err := url.Parse(engineURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("workflow: EngineURL must be a valid URL")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("workflow: EngineURL scheme must be http or https")
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

	return &HTTPExecutor{
		engineURL:    engineURL,
		callbackURL:  strings.TrimSpace(cfg.CallbackURL),
		httpClient:   client,
		maxBodyBytes: maxBodyBytes,
	}, nil
}

func (e *HTTPExecutor) NewReference() string { return uuid.NewString() }

func (e *HTTPExecutor) CallbackURL() string { return e.callbackURL }

type submitPayload struct {
	Kind            string   `json:"kind"`
	Reference       string   `json:"reference"`
	SubjectID       string   `json:"subject_id"`
	CallbackURL     string   `json:"callback_url,omitempty"`
	TenantID        string   `json:"tenant_id,omitempty"`
	Subscriber      string   `json:"subscriber,omitempty"`
	APIName         string   `json:"api_name,omitempty"`
	APIContext      string   `json:"api_context,omitempty"`
	APIVersion      string   `json:"api_version,omitempty"`
	APIProvider     string   `json:"api_provider,omitempty"`
	Tier            string   `json:"tier,omitempty"`
	ApplicationName string   `json:"application_name,omitempty"`
	KeyType         string   `json:"key_type,omitempty"`
	AllowedDomains  []string `json:"allowed_domains,omitempty"`
	ValiditySecs    int64    `json:"validity_secs,omitempty"`
	TokenScope      string   `json:"token_scope,omitempty"`
}

// Execute posts the request to the engine's /workflows endpoint. Any
// non-2xx response is a submission failure.
func (e *HTTPExecutor) Execute(ctx context.Context, req workflow.Request) error {
	payload := submitPayload{
		Kind:            req.Kind.String(),
		Reference:       req.Reference,
		SubjectID:       req.SubjectID,
		CallbackURL:     req.CallbackURL,
		TenantID:        req.TenantID,
		Subscriber:      req.Subscriber,
		APIName:         req.APIName,
		APIContext:      req.APIContext,
		APIVersion:      req.APIVersion,
		APIProvider:     req.APIProvider,
		Tier:            req.Tier,
		ApplicationName: req.ApplicationName,
		KeyType:         string(req.KeyType),
		AllowedDomains:  req.AllowedDomains,
		ValiditySecs:    req.ValiditySecs,
		TokenScope:      req.TokenScope,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("workflow: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.engineURL+"/workflows", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("workflow: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("workflow: execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if readErr == nil && len(strings.TrimSpace(string(msg))) > 0 {
			return fmt.Errorf("workflow: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
		}
		return fmt.Errorf("workflow: %s", resp.Status)
	}
	return nil
}

var _ workflow.Executor = (*HTTPExecutor)(nil)
