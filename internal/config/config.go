// Package config loads the developer-portal runtime configuration from a
// YAML file with environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the complete runtime configuration.
type Config struct {
	Server     ServerConfig         `yaml:"server"`
	Database   DatabaseConfig       `yaml:"database"`
	Logging    LoggingConfig        `yaml:"logging"`
	Workflow   WorkflowConfig       `yaml:"workflow"`
	KeyManager KeyManagerConfig     `yaml:"key_manager"`
	Gateways   []GatewayEnvironment `yaml:"gateways"`
	Tokens     TokenConfig          `yaml:"tokens"`
	TagCache   TagCacheConfig       `yaml:"tag_cache"`
	Auth       AuthConfig           `yaml:"auth"`

	// AllowedOrigins is passed to the CORS layer. Empty means same-origin
	// only.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig selects the ledger backend. Driver "memory" runs without a
// database; "postgres" requires a DSN.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// LoggingConfig mirrors pkg/logger's construction knobs.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	FilePrefix string `yaml:"file_prefix"`
}

// WorkflowConfig selects how approval workflows execute. Mode "auto"
// approves synchronously in process; "http" submits to an external engine
// that reports outcomes on the callback endpoint. CallbackToken is the
// shared secret the engine must present there; it is required in http
// mode because the callback flips ledger state to terminal status.
type WorkflowConfig struct {
	Mode          string `yaml:"mode"`
	EngineURL     string `yaml:"engine_url"`
	CallbackURL   string `yaml:"callback_url"`
	CallbackToken string `yaml:"callback_token"`
}

// KeyManagerConfig points at the OAuth key-management service.
type KeyManagerConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// GatewayEnvironment names one gateway whose key cache is evicted on
// subscription and application changes.
type GatewayEnvironment struct {
	Name     string `yaml:"name"`
	AdminURL string `yaml:"admin_url"`
}

// TokenConfig carries token issuance defaults. A negative default validity
// means issued tokens never expire.
type TokenConfig struct {
	DefaultValiditySecs int64  `yaml:"default_validity_secs"`
	DefaultScope        string `yaml:"default_scope"`
}

// TagCacheConfig controls the API tag cache. TTLSeconds zero disables
// caching, every read hits the catalog.
type TagCacheConfig struct {
	TTLSeconds int `yaml:"ttl_seconds"`
}

// AuthConfig configures request authentication.
type AuthConfig struct {
	JWTSecret string   `yaml:"jwt_secret"`
	SkipPaths []string `yaml:"skip_paths"`
}

const (
	defaultConfigPath = "config/devportal.yaml"
	envConfigPath     = "DEVPORTAL_CONFIG"
)

// Default returns a configuration suitable for local development: in-memory
// storage, auto-approved workflows, no gateways.
func Default() *Config {
	return &Config{
		Server:     ServerConfig{Host: "0.0.0.0", Port: 8080},
		Database:   DatabaseConfig{Driver: "memory"},
		Logging:    LoggingConfig{Level: "info", Format: "text", Output: "stdout"},
		Workflow:   WorkflowConfig{Mode: "auto"},
		KeyManager: KeyManagerConfig{BaseURL: "http://localhost:9763"},
		Tokens:     TokenConfig{DefaultValiditySecs: 3600, DefaultScope: "default"},
		TagCache:   TagCacheConfig{TTLSeconds: 600},
		Auth:       AuthConfig{SkipPaths: []string{"/healthz", "/metrics"}},
	}
}

// Load reads the YAML file named by DEVPORTAL_CONFIG (falling back to
// config/devportal.yaml), applies environment overrides and validates. A
// missing file is not an error; defaults plus environment apply.
func Load() (*Config, error) {
	cfg := Default()

	path := os.Getenv(envConfigPath)
	if path == "" {
		path = defaultConfigPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("could not parse config file %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// defaults apply
	default:
		return nil, fmt.Errorf("could not read config file %s: %w", path, err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("DEVPORTAL_DB_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv("DEVPORTAL_DB_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("DEVPORTAL_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("DEVPORTAL_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("DEVPORTAL_WORKFLOW_MODE"); v != "" {
		c.Workflow.Mode = v
	}
	if v := os.Getenv("DEVPORTAL_WORKFLOW_ENGINE_URL"); v != "" {
		c.Workflow.EngineURL = v
	}
	if v := os.Getenv("DEVPORTAL_WORKFLOW_CALLBACK_TOKEN"); v != "" {
		c.Workflow.CallbackToken = v
	}
	if v := os.Getenv("DEVPORTAL_KEYMANAGER_URL"); v != "" {
		c.KeyManager.BaseURL = v
	}
	if v := os.Getenv("DEVPORTAL_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	switch strings.ToLower(c.Database.Driver) {
	case "memory":
	case "postgres":
		if strings.TrimSpace(c.Database.DSN) == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver must be \"memory\" or \"postgres\", got %q", c.Database.Driver)
	}

	switch strings.ToLower(c.Workflow.Mode) {
	case "auto":
	case "http":
		if strings.TrimSpace(c.Workflow.EngineURL) == "" {
			return fmt.Errorf("workflow.engine_url is required in http mode")
		}
		if strings.TrimSpace(c.Workflow.CallbackToken) == "" {
			return fmt.Errorf("workflow.callback_token is required in http mode")
		}
	default:
		return fmt.Errorf("workflow.mode must be \"auto\" or \"http\", got %q", c.Workflow.Mode)
	}

	for i, gw := range c.Gateways {
		if strings.TrimSpace(gw.AdminURL) == "" {
			return fmt.Errorf("gateways[%d].admin_url is required", i)
		}
	}

	if c.TagCache.TTLSeconds < 0 {
		return fmt.Errorf("tag_cache.ttl_seconds must not be negative")
	}

	return nil
}
