package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend names accepted as providers.* keys.
const (
	ProviderClaude     = "claude"
	ProviderOpenAI     = "openai"
	ProviderGemini     = "gemini"
	ProviderXAI        = "xai"
	ProviderMistral    = "mistral"
	ProviderCohere     = "cohere"
	ProviderPerplexity = "perplexity"
)

// Config represents the application configuration parsed from YAML and the environment.
type Config struct {
	Server ServerConfig `yaml:"server"`
	// Provider names the active backend. Unknown names fall back to claude at startup.
	Provider  string          `yaml:"provider"`
	Providers ProvidersConfig `yaml:"providers"`
}

// ServerConfig defines listener configuration.
type ServerConfig struct {
	Port           int             `yaml:"port"`
	LogLevel       string          `yaml:"log_level"`
	LogFormat      string          `yaml:"log_format"`
	DebugErrors    bool            `yaml:"debug_errors"`
	RequestTimeout time.Duration   `yaml:"request_timeout"`
	CORSOrigins    []string        `yaml:"cors_origins"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig bounds requests per client within a fixed window. Zero requests disables limiting.
type RateLimitConfig struct {
	Requests   int           `yaml:"requests"`
	Window     time.Duration `yaml:"window"`
	MaxClients int           `yaml:"max_clients"`
}

// ProvidersConfig catalogues configured upstream providers.
type ProvidersConfig struct {
	Claude     ProviderConfig `yaml:"claude"`
	OpenAI     ProviderConfig `yaml:"openai"`
	Gemini     ProviderConfig `yaml:"gemini"`
	XAI        ProviderConfig `yaml:"xai"`
	Mistral    ProviderConfig `yaml:"mistral"`
	Cohere     ProviderConfig `yaml:"cohere"`
	Perplexity ProviderConfig `yaml:"perplexity"`
}

// ProviderConfig captures authentication and routing info for a provider.
type ProviderConfig struct {
	APIKey  string  `yaml:"api_key"`
	BaseURL string  `yaml:"base_url"`
	Headers Headers `yaml:"headers"`
	// Aliases add to or override the backend's built-in model aliases.
	Aliases      map[string]string `yaml:"aliases"`
	DefaultModel string            `yaml:"default_model"`
}

// Headers contains additional HTTP headers to send with a provider request.
type Headers map[string]string

// ByName returns every provider block keyed by backend name.
func (p ProvidersConfig) ByName() map[string]ProviderConfig {
	return map[string]ProviderConfig{
		ProviderClaude:     p.Claude,
		ProviderOpenAI:     p.OpenAI,
		ProviderGemini:     p.Gemini,
		ProviderXAI:        p.XAI,
		ProviderMistral:    p.Mistral,
		ProviderCohere:     p.Cohere,
		ProviderPerplexity: p.Perplexity,
	}
}

// Defaults returns a configuration that runs with no file and no environment.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:           3000,
			LogLevel:       "info",
			LogFormat:      "text",
			RequestTimeout: 120 * time.Second,
			CORSOrigins:    []string{"*"},
			RateLimit: RateLimitConfig{
				Requests:   60,
				Window:     time.Minute,
				MaxClients: 10000,
			},
		},
		Provider: ProviderClaude,
		Providers: ProvidersConfig{
			Claude:     ProviderConfig{BaseURL: "https://api.anthropic.com"},
			OpenAI:     ProviderConfig{BaseURL: "https://api.openai.com/v1"},
			Gemini:     ProviderConfig{BaseURL: "https://generativelanguage.googleapis.com"},
			XAI:        ProviderConfig{BaseURL: "https://api.x.ai/v1"},
			Mistral:    ProviderConfig{BaseURL: "https://api.mistral.ai/v1"},
			Cohere:     ProviderConfig{BaseURL: "https://api.cohere.ai"},
			Perplexity: ProviderConfig{BaseURL: "https://api.perplexity.ai"},
		},
	}
}

// Load builds the configuration: defaults, then the YAML file when path is
// set, then environment overrides. The result is validated.
func Load(path string) (Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an explicit environment lookup.
func LoadWithEnv(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Defaults()

	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return Config{}, fmt.Errorf("resolve config path: %w", err)
		}

		data, err := os.ReadFile(absPath)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %q: %w", absPath, err)
		}

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %q: %w", absPath, err)
		}
	}

	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// envPrefixes maps each backend to the prefix of its _API_KEY and _BASE_URL variables.
var envPrefixes = []struct {
	prefix string
	target func(*ProvidersConfig) *ProviderConfig
}{
	{"ANTHROPIC", func(p *ProvidersConfig) *ProviderConfig { return &p.Claude }},
	{"OPENAI", func(p *ProvidersConfig) *ProviderConfig { return &p.OpenAI }},
	{"GOOGLE", func(p *ProvidersConfig) *ProviderConfig { return &p.Gemini }},
	{"XAI", func(p *ProvidersConfig) *ProviderConfig { return &p.XAI }},
	{"MISTRAL", func(p *ProvidersConfig) *ProviderConfig { return &p.Mistral }},
	{"COHERE", func(p *ProvidersConfig) *ProviderConfig { return &p.Cohere }},
	{"PERPLEXITY", func(p *ProvidersConfig) *ProviderConfig { return &p.Perplexity }},
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return "", false
		}
		return strings.TrimSpace(v), true
	}

	if v, ok := get("PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT must be an integer, got %q", v)
		}
		cfg.Server.Port = port
	}
	if v, ok := get("PROVIDER"); ok {
		cfg.Provider = v
	}
	if v, ok := get("LOG_LEVEL"); ok {
		cfg.Server.LogLevel = v
	}
	if v, ok := get("DEBUG_ERRORS"); ok {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("DEBUG_ERRORS must be a boolean, got %q", v)
		}
		cfg.Server.DebugErrors = debug
	}

	for _, env := range envPrefixes {
		target := env.target(&cfg.Providers)
		if v, ok := get(env.prefix + "_API_KEY"); ok {
			target.APIKey = v
		}
		if v, ok := get(env.prefix + "_BASE_URL"); ok {
			target.BaseURL = v
		}
	}
	return nil
}

// Validate performs strict sanity checks on the configuration.
// Missing API keys are allowed; the backend answers those calls with 401.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port, got %d", c.Server.Port)
	}

	switch strings.ToLower(c.Server.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("server.log_level %q must be one of debug, info, warn or error", c.Server.LogLevel)
	}

	switch strings.ToLower(c.Server.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("server.log_format %q must be text or json", c.Server.LogFormat)
	}

	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("server.request_timeout must be positive, got %s", c.Server.RequestTimeout)
	}

	rl := c.Server.RateLimit
	if rl.Requests < 0 {
		return fmt.Errorf("server.rate_limit.requests must not be negative, got %d", rl.Requests)
	}
	if rl.Requests > 0 {
		if rl.Window <= 0 {
			return fmt.Errorf("server.rate_limit.window must be positive, got %s", rl.Window)
		}
		if rl.MaxClients <= 0 {
			return fmt.Errorf("server.rate_limit.max_clients must be positive, got %d", rl.MaxClients)
		}
	}

	if strings.TrimSpace(c.Provider) == "" {
		return fmt.Errorf("provider must not be empty")
	}

	for name, provider := range c.Providers.ByName() {
		if err := validateProvider(name, provider); err != nil {
			return err
		}
	}

	return nil
}

func validateProvider(name string, provider ProviderConfig) error {
	if strings.TrimSpace(provider.BaseURL) == "" {
		return fmt.Errorf("provider %s: base_url must be provided", name)
	}

	for headerKey := range provider.Headers {
		if !isCanonicalHTTPHeader(headerKey) {
			return fmt.Errorf("provider %s: header %q is not a valid canonical HTTP header", name, headerKey)
		}
	}

	for alias, target := range provider.Aliases {
		if strings.TrimSpace(alias) == "" {
			return fmt.Errorf("provider %s: alias name must not be empty", name)
		}
		if strings.TrimSpace(target) == "" {
			return fmt.Errorf("provider %s: alias %q target must not be empty", name, alias)
		}
	}

	return nil
}

func isCanonicalHTTPHeader(header string) bool {
	if header == "" {
		return false
	}

	for _, r := range header {
		if !(r == '-' || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return true
}
