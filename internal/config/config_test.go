package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vybe.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if cfg.LLM.Model != "deepseek-chat" {
		t.Errorf("expected deepseek-chat, got %s", cfg.LLM.Model)
	}
	if cfg.Agent.MaxIterations != 15 {
		t.Errorf("expected 15 iterations, got %d", cfg.Agent.MaxIterations)
	}
	if cfg.Quota.Points != 5 || cfg.Quota.Window != 30*24*time.Hour || cfg.Quota.Cost != 1 {
		t.Errorf("quota = %+v", cfg.Quota)
	}
	if cfg.Sandbox.Port != 3000 {
		t.Errorf("expected port 3000, got %d", cfg.Sandbox.Port)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}
}

func TestLoadFromTOML(t *testing.T) {
	path := writeConfig(t, `
[llm]
model = "gpt-4o-mini"
base_url = "https://api.openai.com/v1"

[sandbox]
driver = "local"
ttl = "20m"

[sandbox.images]
react = "vybe/react:1"

[worker]
count = 4
backoff = "10s"

[observer.pricing.gpt-4o-mini]
input = 0.15
output = 0.60
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.Model != "gpt-4o-mini" || cfg.LLM.BaseURL != "https://api.openai.com/v1" {
		t.Errorf("llm = %+v", cfg.LLM)
	}
	if cfg.Sandbox.Driver != "local" || cfg.Sandbox.TTL != 20*time.Minute {
		t.Errorf("sandbox = %+v", cfg.Sandbox)
	}
	if cfg.Sandbox.Images["react"] != "vybe/react:1" || cfg.Sandbox.Images["vybe-nextjs-test"] == "" {
		t.Errorf("images = %v", cfg.Sandbox.Images)
	}
	if cfg.Worker.Count != 4 || cfg.Worker.Backoff != 10*time.Second {
		t.Errorf("worker = %+v", cfg.Worker)
	}
	if p := cfg.Observer.Pricing["gpt-4o-mini"]; p.Input != 0.15 || p.Output != 0.60 {
		t.Errorf("pricing = %+v", cfg.Observer.Pricing)
	}
	// Defaults preserved
	if cfg.Sandbox.Template != "vybe-nextjs-test" || cfg.Worker.MaxAttempts != 3 {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path.toml")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("expected defaults, got %+v", cfg.Server)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := writeConfig(t, "[llm\nmodel = ")
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("VYBE_LLM_API_KEY", "env-key")
	t.Setenv("VYBE_DATABASE_URL", "postgres://localhost/vybe")
	t.Setenv("VYBE_WORKER_COUNT", "8")
	t.Setenv("VYBE_OBSERVER_ENABLED", "true")

	path := writeConfig(t, `
[llm]
api_key = "file-key"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.APIKey != "env-key" {
		t.Errorf("expected env-key, got %s", cfg.LLM.APIKey)
	}
	if cfg.Database.Driver != "postgres" || cfg.Database.URL != "postgres://localhost/vybe" {
		t.Errorf("database = %+v", cfg.Database)
	}
	if cfg.Worker.Count != 8 || !cfg.Observer.Enabled {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestEnvOverrideInvalidNumber(t *testing.T) {
	t.Setenv("VYBE_WORKER_COUNT", "many")
	if _, err := Load("/nonexistent/path.toml"); err == nil || !strings.Contains(err.Error(), "VYBE_WORKER_COUNT") {
		t.Fatalf("err = %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"remote without url", func(c *Config) { c.Sandbox.Driver = "remote" }, "sandbox.url"},
		{"unknown sandbox driver", func(c *Config) { c.Sandbox.Driver = "vm" }, "sandbox.driver"},
		{"postgres without url", func(c *Config) { c.Database.Driver = "postgres" }, "database.url"},
		{"zero iterations", func(c *Config) { c.Agent.MaxIterations = 0 }, "max_iterations"},
		{"zero quota", func(c *Config) { c.Quota.Points = 0 }, "quota"},
		{"no workers", func(c *Config) { c.Worker.Count = 0 }, "worker.count"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info logged at warn level: %s", out)
	}
	if !strings.Contains(out, `"msg":"shown"`) || !strings.Contains(out, `"k":"v"`) {
		t.Errorf("unexpected output: %s", out)
	}
}
