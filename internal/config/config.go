package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	LLM      LLMConfig      `toml:"llm"`
	Sandbox  SandboxConfig  `toml:"sandbox"`
	Database DatabaseConfig `toml:"database"`
	Agent    AgentConfig    `toml:"agent"`
	Quota    QuotaConfig    `toml:"quota"`
	Server   ServerConfig   `toml:"server"`
	Worker   WorkerConfig   `toml:"worker"`
	Observer ObserverConfig `toml:"observer"`
	Log      LogConfig      `toml:"log"`
}

type LLMConfig struct {
	Provider    string        `toml:"provider"`
	Model       string        `toml:"model"`
	APIKey      string        `toml:"api_key"`
	BaseURL     string        `toml:"base_url"`
	MaxAttempts int           `toml:"max_attempts"`
	Timeout     time.Duration `toml:"timeout"`
	RPM         int           `toml:"rpm"`
	TPM         int           `toml:"tpm"`
}

type SandboxConfig struct {
	Driver         string            `toml:"driver"` // "docker", "local" or "remote"
	Template       string            `toml:"template"`
	Port           int               `toml:"port"`
	Domain         string            `toml:"domain"`
	URL            string            `toml:"url"`
	Root           string            `toml:"root"`
	Images         map[string]string `toml:"images"` // template -> docker image
	TTL            time.Duration     `toml:"ttl"`
	CommandTimeout time.Duration     `toml:"command_timeout"`
	MemoryMB       int64             `toml:"memory_mb"`
	CPUs           float64           `toml:"cpus"`
}

type DatabaseConfig struct {
	Driver string `toml:"driver"` // "sqlite" or "postgres"
	Path   string `toml:"path"`
	URL    string `toml:"url"`
}

// AgentConfig tunes code generation runs. The *PromptFile settings name
// files that replace the built-in system prompts.
type AgentConfig struct {
	MaxIterations      int           `toml:"max_iterations"`
	StepLease          time.Duration `toml:"step_lease"`
	CodePromptFile     string        `toml:"code_prompt_file"`
	TitlePromptFile    string        `toml:"title_prompt_file"`
	ResponsePromptFile string        `toml:"response_prompt_file"`
}

type QuotaConfig struct {
	Points int           `toml:"points"`
	Window time.Duration `toml:"window"`
	Cost   int           `toml:"cost"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type WorkerConfig struct {
	Count        int           `toml:"count"`
	PollInterval time.Duration `toml:"poll_interval"`
	Lease        time.Duration `toml:"lease"`
	MaxAttempts  int           `toml:"max_attempts"`
	Backoff      time.Duration `toml:"backoff"`
	MaxBackoff   time.Duration `toml:"max_backoff"`
	// RegenerateOnSandboxLoss retries sandbox lifecycle failures with a
	// fresh sandbox instead of failing the job.
	RegenerateOnSandboxLoss bool `toml:"regenerate_on_sandbox_loss"`
}

type ObserverConfig struct {
	Enabled     bool                       `toml:"enabled"`
	ServiceName string                     `toml:"service_name"`
	Pricing     map[string]ObserverPricing `toml:"pricing"`
}

type ObserverPricing struct {
	Input  float64 `toml:"input"`
	Output float64 `toml:"output"`
}

type LogConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // text or json
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		LLM: LLMConfig{
			Provider:    "deepseek",
			Model:       "deepseek-chat",
			MaxAttempts: 3,
			Timeout:     5 * time.Minute,
		},
		Sandbox: SandboxConfig{
			Driver:         "docker",
			Template:       "vybe-nextjs-test",
			Port:           3000,
			Domain:         "localhost",
			Root:           "/var/lib/vybe/sandboxes",
			Images:         map[string]string{"vybe-nextjs-test": "vybe/nextjs:latest"},
			TTL:            time.Hour,
			CommandTimeout: 2 * time.Minute,
		},
		Database: DatabaseConfig{Driver: "sqlite", Path: "vybe.db"},
		Agent:    AgentConfig{MaxIterations: 15, StepLease: 2 * time.Minute},
		Quota:    QuotaConfig{Points: 5, Window: 30 * 24 * time.Hour, Cost: 1},
		Server:   ServerConfig{Addr: ":8080"},
		Worker: WorkerConfig{
			Count:        2,
			PollInterval: time.Second,
			Lease:        15 * time.Minute,
			MaxAttempts:  3,
			Backoff:      5 * time.Second,
			MaxBackoff:   5 * time.Minute,
		},
		Observer: ObserverConfig{ServiceName: "vybe"},
		Log:      LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
// A missing file is not an error; a malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = "vybe.toml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config) error {
	str := map[string]*string{
		"VYBE_LLM_PROVIDER":   &cfg.LLM.Provider,
		"VYBE_LLM_MODEL":      &cfg.LLM.Model,
		"VYBE_LLM_API_KEY":    &cfg.LLM.APIKey,
		"VYBE_LLM_BASE_URL":   &cfg.LLM.BaseURL,
		"VYBE_SANDBOX_DRIVER": &cfg.Sandbox.Driver,
		"VYBE_SANDBOX_URL":    &cfg.Sandbox.URL,
		"VYBE_SANDBOX_DOMAIN": &cfg.Sandbox.Domain,
		"VYBE_DATABASE_PATH":  &cfg.Database.Path,
		"VYBE_SERVER_ADDR":    &cfg.Server.Addr,
		"VYBE_LOG_LEVEL":      &cfg.Log.Level,
		"VYBE_LOG_FORMAT":     &cfg.Log.Format,
	}
	for key, dst := range str {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	// A database URL implies postgres.
	if v := os.Getenv("VYBE_DATABASE_URL"); v != "" {
		cfg.Database.URL = v
		cfg.Database.Driver = "postgres"
	}

	ints := map[string]*int{
		"VYBE_WORKER_COUNT":         &cfg.Worker.Count,
		"VYBE_AGENT_MAX_ITERATIONS": &cfg.Agent.MaxIterations,
		"VYBE_QUOTA_POINTS":         &cfg.Quota.Points,
	}
	for key, dst := range ints {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
	}

	if v := os.Getenv("VYBE_OBSERVER_ENABLED"); v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("VYBE_OBSERVER_ENABLED: %w", err)
		}
		cfg.Observer.Enabled = on
	}
	return nil
}

// Validate reports settings the services cannot start with.
func (c Config) Validate() error {
	var errs []error
	switch c.Sandbox.Driver {
	case "docker", "local":
	case "remote":
		if c.Sandbox.URL == "" {
			errs = append(errs, errors.New("sandbox.url is required for the remote driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown sandbox.driver %q", c.Sandbox.Driver))
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			errs = append(errs, errors.New("database.path is required for sqlite"))
		}
	case "postgres":
		if c.Database.URL == "" {
			errs = append(errs, errors.New("database.url is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown database.driver %q", c.Database.Driver))
	}
	if c.Agent.MaxIterations < 1 {
		errs = append(errs, errors.New("agent.max_iterations must be positive"))
	}
	if c.Quota.Points < 1 || c.Quota.Cost < 1 || c.Quota.Window <= 0 {
		errs = append(errs, errors.New("quota points, cost and window must be positive"))
	}
	if c.Worker.Count < 1 {
		errs = append(errs, errors.New("worker.count must be positive"))
	}
	return errors.Join(errs...)
}

// NewLogger builds the process logger writing to w.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
