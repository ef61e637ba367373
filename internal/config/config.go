package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Embedding EmbeddingConfig `yaml:"embedding" mapstructure:"embedding"`
	Crawl     CrawlConfig     `yaml:"crawl" mapstructure:"crawl"`
	Jina      JinaConfig      `yaml:"jina" mapstructure:"jina"`
	Firecrawl FirecrawlConfig `yaml:"firecrawl" mapstructure:"firecrawl"`
	Match     MatchConfig     `yaml:"match" mapstructure:"match"`
	Queue     QueueConfig     `yaml:"queue" mapstructure:"queue"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key              string `yaml:"key" mapstructure:"key"`
	BaseURL          string `yaml:"base_url" mapstructure:"base_url"`
	ExtractModel     string `yaml:"extract_model" mapstructure:"extract_model"`
	SelectModel      string `yaml:"select_model" mapstructure:"select_model"`
	MaxTokens        int    `yaml:"max_tokens" mapstructure:"max_tokens"`
	TimeoutSecs      int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxAttempts      int    `yaml:"max_attempts" mapstructure:"max_attempts"`
	FailThreshold    int    `yaml:"fail_threshold" mapstructure:"fail_threshold"`
	ResetTimeoutSecs int    `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	Provider    string `yaml:"provider" mapstructure:"provider"`
	Model       string `yaml:"model" mapstructure:"model"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	Key         string `yaml:"key" mapstructure:"key"`
	Dimensions  int    `yaml:"dimensions" mapstructure:"dimensions"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxAttempts int    `yaml:"max_attempts" mapstructure:"max_attempts"`
	Concurrency int    `yaml:"concurrency" mapstructure:"concurrency"`
}

// CrawlConfig configures the website crawler.
type CrawlConfig struct {
	MaxPages        int      `yaml:"max_pages" mapstructure:"max_pages"`
	MaxContentChars int      `yaml:"max_content_chars" mapstructure:"max_content_chars"`
	MinContentChars int      `yaml:"min_content_chars" mapstructure:"min_content_chars"`
	TimeoutSecs     int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	UserAgent       string   `yaml:"user_agent" mapstructure:"user_agent"`
	RequestsPerSec  float64  `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
	Fallback        string   `yaml:"fallback" mapstructure:"fallback"`
	ExcludePaths    []string `yaml:"exclude_paths" mapstructure:"exclude_paths"`
}

// JinaConfig holds Jina AI Reader settings.
type JinaConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// FirecrawlConfig holds Firecrawl API settings (fallback only).
type FirecrawlConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// MatchConfig configures the query path.
type MatchConfig struct {
	TopK               int     `yaml:"top_k" mapstructure:"top_k"`
	MinScore           float64 `yaml:"min_score" mapstructure:"min_score"`
	MaxRecommendations int     `yaml:"max_recommendations" mapstructure:"max_recommendations"`
}

// QueueConfig configures the background research queue.
type QueueConfig struct {
	Workers int `yaml:"workers" mapstructure:"workers"`
	Retain  int `yaml:"retain" mapstructure:"retain"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("COMPASS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "compass.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("queue.workers", 4)
	v.SetDefault("queue.retain", 1000)

	v.SetDefault("anthropic.extract_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.select_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("anthropic.timeout_secs", 60)
	v.SetDefault("anthropic.max_attempts", 3)
	v.SetDefault("anthropic.fail_threshold", 5)
	v.SetDefault("anthropic.reset_timeout_secs", 30)

	v.SetDefault("embedding.provider", "openai")
	v.SetDefault("embedding.model", "text-embedding-ada-002")
	v.SetDefault("embedding.base_url", "https://api.openai.com/v1")
	v.SetDefault("embedding.dimensions", 1536)
	v.SetDefault("embedding.timeout_secs", 30)
	v.SetDefault("embedding.max_attempts", 3)
	v.SetDefault("embedding.concurrency", 4)

	v.SetDefault("crawl.max_pages", 6)
	v.SetDefault("crawl.max_content_chars", 8000)
	v.SetDefault("crawl.min_content_chars", 500)
	v.SetDefault("crawl.timeout_secs", 10)
	v.SetDefault("crawl.user_agent", "Mozilla/5.0 (compatible; CompassBot/1.0)")
	v.SetDefault("crawl.requests_per_sec", 2.0)
	v.SetDefault("crawl.fallback", "jina")
	v.SetDefault("crawl.exclude_paths", []string{"/*.pdf", "/wp-admin/*", "/cart/*", "/login*"})

	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("firecrawl.base_url", "https://api.firecrawl.dev/v2")

	v.SetDefault("match.top_k", 10)
	v.SetDefault("match.min_score", 0.0)
	v.SetDefault("match.max_recommendations", 3)
}

// Validate checks that the settings required by a command are present.
// Mode is one of "research", "match", "serve" or "store".
func (c *Config) Validate(mode string) error {
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return eris.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if c.Store.DatabaseURL == "" {
		return eris.New("config: store.database_url is required")
	}
	if mode == "store" {
		return nil
	}

	if c.Anthropic.Key == "" {
		return eris.New("config: anthropic.key is required")
	}
	switch c.Embedding.Provider {
	case "openai":
		if c.Embedding.Key == "" {
			return eris.New("config: embedding.key is required for the openai provider")
		}
	case "ollama":
	default:
		return eris.Errorf("config: unknown embedding provider %q", c.Embedding.Provider)
	}
	if c.Embedding.Dimensions <= 0 {
		return eris.New("config: embedding.dimensions must be positive")
	}
	if c.Match.MaxRecommendations > 3 {
		return eris.Errorf("config: match.max_recommendations must be at most 3, got %d", c.Match.MaxRecommendations)
	}
	if mode == "match" {
		return nil
	}

	switch c.Crawl.Fallback {
	case "none":
	case "jina":
	case "firecrawl":
		if c.Firecrawl.Key == "" {
			return eris.New("config: firecrawl.key is required when crawl.fallback is firecrawl")
		}
	default:
		return eris.Errorf("config: unknown crawl fallback %q", c.Crawl.Fallback)
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
