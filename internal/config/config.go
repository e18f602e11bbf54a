// Package config loads the aide configuration: a JSON5 file overlaid
// with AIDE_* environment variables. Secrets are env-only and never live
// in the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/titanous/json5"
)

// Config is the process configuration shared by every subcommand.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Postgres  PostgresConfig  `json:"postgres"`
	Redis     RedisConfig     `json:"redis"`
	Providers ProvidersConfig `json:"providers"`
	Modules   ModulesConfig   `json:"modules"`
	Agent     AgentConfig     `json:"agent"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Geofence  GeofenceConfig  `json:"geofence"`
	Delivery  DeliveryConfig  `json:"delivery"`

	// ServiceToken is the inter-service bearer secret. Empty disables the
	// auth check (development mode).
	ServiceToken string `json:"-"`
	// EncryptionKey protects stored credentials; 32 bytes, hex or raw.
	EncryptionKey string `json:"-"`
}

type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Addr is the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type ProvidersConfig struct {
	Anthropic ProviderConfig `json:"anthropic"`
	OpenAI    ProviderConfig `json:"openai"`
	// EmbeddingModel overrides the embedder's default model.
	EmbeddingModel string `json:"embedding_model"`
}

type ProviderConfig struct {
	APIKey  string `json:"-"`
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
}

type ModulesConfig struct {
	// BaseURLs maps module name to its HTTP base URL.
	BaseURLs        map[string]string `json:"base_urls"`
	RefreshInterval Duration          `json:"refresh_interval"`
}

type AgentConfig struct {
	MaxIterations     int      `json:"max_iterations"`
	RecallK           int      `json:"recall_k"`
	RecallEnabled     *bool    `json:"recall_enabled"`
	WindowTokens      int      `json:"window_tokens"`
	InactivityWindow  Duration `json:"inactivity_window"`
	SummarizeInterval Duration `json:"summarize_interval"`
}

type SchedulerConfig struct {
	TickInterval    Duration `json:"tick_interval"`
	BatchSize       int      `json:"batch_size"`
	OrchestratorURL string   `json:"orchestrator_url"`
}

type GeofenceConfig struct {
	TickInterval      Duration `json:"tick_interval"`
	LocationStaleness Duration `json:"location_staleness"`
}

type DeliveryConfig struct {
	DiscordBotToken  string `json:"-"`
	TelegramBotToken string `json:"-"`
}

// Duration unmarshals Go duration strings ("30s", "10m") from JSON5.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' {
		parsed, err := time.ParseDuration(s[1 : len(s)-1])
		if err != nil {
			return fmt.Errorf("parse duration %s: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("parse duration %s: %w", s, err)
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

// Std returns the standard library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Modules: ModulesConfig{
			RefreshInterval: Duration(5 * time.Minute),
		},
		Agent: AgentConfig{
			MaxIterations:     10,
			RecallK:           3,
			WindowTokens:      8000,
			InactivityWindow:  Duration(30 * time.Minute),
			SummarizeInterval: Duration(5 * time.Minute),
		},
		Scheduler: SchedulerConfig{
			TickInterval: Duration(15 * time.Second),
			BatchSize:    20,
		},
		Geofence: GeofenceConfig{
			TickInterval:      Duration(30 * time.Second),
			LocationStaleness: Duration(10 * time.Minute),
		},
	}
}

// Load reads the JSON5 config file, then overlays env vars. A missing
// file is not an error; env-only deployments are supported.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays AIDE_* env vars; env takes precedence over
// file values, and secrets only exist here.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("AIDE_POSTGRES_DSN", &c.Postgres.DSN)
	envStr("AIDE_REDIS_URL", &c.Redis.URL)
	envStr("AIDE_ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	envStr("AIDE_OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	envStr("AIDE_SERVICE_TOKEN", &c.ServiceToken)
	envStr("AIDE_ENCRYPTION_KEY", &c.EncryptionKey)
	envStr("AIDE_DISCORD_BOT_TOKEN", &c.Delivery.DiscordBotToken)
	envStr("AIDE_TELEGRAM_BOT_TOKEN", &c.Delivery.TelegramBotToken)
	envStr("AIDE_ORCHESTRATOR_URL", &c.Scheduler.OrchestratorURL)

	if v := os.Getenv("AIDE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
}
