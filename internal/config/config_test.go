package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestDefaultDoesNotSkipAuthOnWorkflowCallback(t *testing.T) {
	for _, path := range Default().Auth.SkipPaths {
		if path == "/workflows/callback" {
			t.Fatal("workflow callback must not bypass authentication by default")
		}
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "devportal.yaml")
	content := `
server:
  host: 127.0.0.1
  port: 9090
database:
  driver: postgres
  dsn: postgres://localhost/devportal?sslmode=disable
workflow:
  mode: http
  engine_url: https://engine.local
  callback_url: https://portal.local/workflows/callback
  callback_token: s3cret
tokens:
  default_validity_secs: -1
  default_scope: am_application_scope
gateways:
  - name: production
    admin_url: https://gw.local:9443
tag_cache:
  ttl_seconds: 120
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("DEVPORTAL_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 || cfg.Server.Host != "127.0.0.1" {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if cfg.Workflow.Mode != "http" || cfg.Workflow.EngineURL != "https://engine.local" {
		t.Fatalf("workflow = %+v", cfg.Workflow)
	}
	if cfg.Workflow.CallbackToken != "s3cret" {
		t.Fatalf("callback token = %q", cfg.Workflow.CallbackToken)
	}
	if cfg.Tokens.DefaultValiditySecs != -1 {
		t.Fatalf("default validity = %d, want -1", cfg.Tokens.DefaultValiditySecs)
	}
	if len(cfg.Gateways) != 1 || cfg.Gateways[0].Name != "production" {
		t.Fatalf("gateways = %+v", cfg.Gateways)
	}
	if cfg.TagCache.TTLSeconds != 120 {
		t.Fatalf("tag cache ttl = %d", cfg.TagCache.TTLSeconds)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("DEVPORTAL_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 || cfg.Database.Driver != "memory" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DEVPORTAL_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))
	t.Setenv("DEVPORTAL_PORT", "9999")
	t.Setenv("DEVPORTAL_LOG_LEVEL", "debug")
	t.Setenv("DEVPORTAL_WORKFLOW_MODE", "http")
	t.Setenv("DEVPORTAL_WORKFLOW_ENGINE_URL", "https://engine.local")
	t.Setenv("DEVPORTAL_WORKFLOW_CALLBACK_TOKEN", "s3cret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Fatalf("port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("log level = %q", cfg.Logging.Level)
	}
	if cfg.Workflow.Mode != "http" {
		t.Fatalf("workflow mode = %q", cfg.Workflow.Mode)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"unknown driver", func(c *Config) { c.Database.Driver = "sqlite" }},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = "postgres" }},
		{"unknown workflow mode", func(c *Config) { c.Workflow.Mode = "manual" }},
		{"http mode without engine url", func(c *Config) { c.Workflow.Mode = "http" }},
		{"http mode without callback token", func(c *Config) {
			c.Workflow.Mode = "http"
			c.Workflow.EngineURL = "https://engine.local"
		}},
		{"gateway without admin url", func(c *Config) {
			c.Gateways = []GatewayEnvironment{{Name: "production"}}
		}},
		{"negative tag ttl", func(c *Config) { c.TagCache.TTLSeconds = -1 }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
