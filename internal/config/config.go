package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/michaelbrown/jsbox/internal/logging"
	"github.com/michaelbrown/jsbox/internal/sandbox"
	"github.com/michaelbrown/jsbox/internal/tools"
)

// Isolation modes for sandbox.isolation.
const (
	IsolationInProcess = "inprocess"
	IsolationProcess   = "process"
)

type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

type ServerConfig struct {
	Port             int             `mapstructure:"port"`
	MaxBodyBytes     int64           `mapstructure:"max_body_bytes"`
	MetricsEnabled   bool            `mapstructure:"metrics_enabled"`
	WebSocketEnabled bool            `mapstructure:"websocket_enabled"`
	RateLimit        RateLimitConfig `mapstructure:"rate_limit"`
}

type ProcessConfig struct {
	MemoryLimitMB int `mapstructure:"memory_limit_mb"`
	CPUSeconds    int `mapstructure:"cpu_seconds"`
}

type SandboxConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxCallStack int           `mapstructure:"max_call_stack"`
	Isolation    string        `mapstructure:"isolation"`
	Process      ProcessConfig `mapstructure:"process"`
}

type StorageConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DBPath  string `mapstructure:"db_path"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// SearchConfig enables the agent's search tool: SerpApi when serpapi_key is
// set, otherwise Google Custom Search.
type SearchConfig struct {
	SerpAPIKey   string `mapstructure:"serpapi_key"`
	GoogleAPIKey string `mapstructure:"google_api_key"`
	GoogleCX     string `mapstructure:"google_cx"`
	Results      int    `mapstructure:"results"`
}

// AIPipeConfig enables the agent's aipipe tool. An empty model means the
// agent's own.
type AIPipeConfig struct {
	Token     string `mapstructure:"token"`
	URL       string `mapstructure:"url"`
	Model     string `mapstructure:"model"`
	MaxTokens int    `mapstructure:"max_tokens"`
}

type AgentConfig struct {
	BaseURL       string       `mapstructure:"base_url"`
	APIKey        string       `mapstructure:"api_key"`
	Model         string       `mapstructure:"model"`
	MaxIterations int          `mapstructure:"max_iterations"`
	SandboxURL    string       `mapstructure:"sandbox_url"`
	Search        SearchConfig `mapstructure:"search"`
	AIPipe        AIPipeConfig `mapstructure:"aipipe"`
}

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Sandbox SandboxConfig `mapstructure:"sandbox"`
	Storage StorageConfig `mapstructure:"storage"`
	Log     LogConfig     `mapstructure:"log"`
	Agent   AgentConfig   `mapstructure:"agent"`
}

// Load reads jsbox.yaml from the working directory or $HOME/.jsbox, if
// present, and applies environment overrides.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file. An empty path searches the
// default locations and tolerates a missing file.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("jsbox")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.jsbox")
	}

	v.SetDefault("server.port", 8081)
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("server.metrics_enabled", false)
	v.SetDefault("server.websocket_enabled", false)
	v.SetDefault("server.rate_limit.rps", 0)
	v.SetDefault("server.rate_limit.burst", 0)
	v.SetDefault("sandbox.timeout", sandbox.DefaultPolicy().Timeout)
	v.SetDefault("sandbox.max_call_stack", sandbox.DefaultPolicy().MaxCallStackSize)
	v.SetDefault("sandbox.isolation", IsolationInProcess)
	v.SetDefault("sandbox.process.memory_limit_mb", sandbox.DefaultLimits().MemoryMB)
	v.SetDefault("sandbox.process.cpu_seconds", sandbox.DefaultLimits().CPUSeconds)
	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.db_path", filepath.Join(os.Getenv("HOME"), ".jsbox", "jsbox.db"))
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("agent.base_url", "https://api.openai.com/v1/")
	v.SetDefault("agent.api_key", "${OPENAI_API_KEY}")
	v.SetDefault("agent.model", "gpt-4o-mini")
	v.SetDefault("agent.max_iterations", 6)
	v.SetDefault("agent.sandbox_url", "")
	v.SetDefault("agent.search.serpapi_key", "${SERPAPI_API_KEY}")
	v.SetDefault("agent.search.google_api_key", "${GOOGLE_API_KEY}")
	v.SetDefault("agent.search.google_cx", "${GOOGLE_CX}")
	v.SetDefault("agent.search.results", tools.DefaultSearchResults)
	v.SetDefault("agent.aipipe.token", "${AIPIPE_TOKEN}")
	v.SetDefault("agent.aipipe.url", tools.AIPipeURL)
	v.SetDefault("agent.aipipe.model", "")
	v.SetDefault("agent.aipipe.max_tokens", tools.DefaultAIPipeMaxTokens)

	v.SetEnvPrefix("JSBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("server.port", "JS_SANDBOX_PORT"); err != nil {
		return nil, fmt.Errorf("binding env: %w", err)
	}
	if err := v.BindEnv("agent.sandbox_url", "JS_SANDBOX_URL"); err != nil {
		return nil, fmt.Errorf("binding env: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.Agent.APIKey = expandEnv(cfg.Agent.APIKey)
	cfg.Agent.Search.SerpAPIKey = expandEnv(cfg.Agent.Search.SerpAPIKey)
	cfg.Agent.Search.GoogleAPIKey = expandEnv(cfg.Agent.Search.GoogleAPIKey)
	cfg.Agent.Search.GoogleCX = expandEnv(cfg.Agent.Search.GoogleCX)
	cfg.Agent.AIPipe.Token = expandEnv(cfg.Agent.AIPipe.Token)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// expandEnv resolves values written as ${VAR}.
func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return os.Getenv(s[2 : len(s)-1])
	}
	return s
}

// Validate reports settings the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("invalid server.max_body_bytes %d", c.Server.MaxBodyBytes)
	}
	if c.Sandbox.Timeout <= 0 {
		return fmt.Errorf("invalid sandbox.timeout %s", c.Sandbox.Timeout)
	}
	switch c.Sandbox.Isolation {
	case IsolationInProcess, IsolationProcess:
	default:
		return fmt.Errorf("unknown sandbox.isolation %q (want %s or %s)",
			c.Sandbox.Isolation, IsolationInProcess, IsolationProcess)
	}
	return nil
}

// Policy returns the per-execution limits.
func (c SandboxConfig) Policy() sandbox.Policy {
	return sandbox.Policy{
		Timeout:          c.Timeout,
		MaxCallStackSize: c.MaxCallStack,
	}
}

// Limits returns the worker process limits.
func (c SandboxConfig) Limits() sandbox.Limits {
	return sandbox.Limits{
		MemoryMB:   c.Process.MemoryLimitMB,
		CPUSeconds: c.Process.CPUSeconds,
	}
}

// New builds the sandbox selected by the isolation mode.
func (c SandboxConfig) New() sandbox.Sandbox {
	if c.Isolation == IsolationProcess {
		return sandbox.NewProcessSandbox(c.Policy(), c.Limits())
	}
	return sandbox.NewEngine(c.Policy())
}

// Tools returns the agent's tools besides run_js. A tool without its
// credentials stays offered and answers that it is not configured.
func (c AgentConfig) Tools() []tools.Tool {
	model := c.AIPipe.Model
	if model == "" {
		model = c.Model
	}
	return []tools.Tool{
		tools.NewSearch(tools.SearchOptions{
			SerpAPIKey:   c.Search.SerpAPIKey,
			GoogleAPIKey: c.Search.GoogleAPIKey,
			GoogleCX:     c.Search.GoogleCX,
			Results:      c.Search.Results,
		}),
		tools.NewAIPipe(tools.AIPipeOptions{
			Token:     c.AIPipe.Token,
			URL:       c.AIPipe.URL,
			Model:     model,
			MaxTokens: c.AIPipe.MaxTokens,
		}),
	}
}

func (c LogConfig) Logging() logging.Config {
	return logging.Config{
		Level:       c.Level,
		Development: c.Development,
	}
}
