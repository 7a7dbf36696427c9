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
	Jina      JinaConfig      `yaml:"jina" mapstructure:"jina"`
	Firecrawl FirecrawlConfig `yaml:"firecrawl" mapstructure:"firecrawl"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Apollo    ApolloConfig    `yaml:"apollo" mapstructure:"apollo"`
	Resend    ResendConfig    `yaml:"resend" mapstructure:"resend"`
	Notion    NotionConfig    `yaml:"notion" mapstructure:"notion"`
	Schema    SchemaConfig    `yaml:"schema" mapstructure:"schema"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Batch     BatchConfig     `yaml:"batch" mapstructure:"batch"`
	Import    ImportConfig    `yaml:"import" mapstructure:"import"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Notify    NotifyConfig    `yaml:"notify" mapstructure:"notify"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
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

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// ApolloConfig holds Apollo.io API settings.
type ApolloConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// ResendConfig holds Resend email API settings.
type ResendConfig struct {
	Key  string `yaml:"key" mapstructure:"key"`
	From string `yaml:"from" mapstructure:"from"`
}

// NotionConfig holds Notion API credentials and the queue database ID.
type NotionConfig struct {
	Token   string `yaml:"token" mapstructure:"token"`
	QueueDB string `yaml:"queue_db" mapstructure:"queue_db"`
}

// SchemaConfig points at optional entity type overrides.
type SchemaConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PipelineConfig configures acquisition and extraction behavior.
type PipelineConfig struct {
	MinContentChars    int `yaml:"min_content_chars" mapstructure:"min_content_chars"`
	TruncateChars      int `yaml:"truncate_chars" mapstructure:"truncate_chars"`
	AcquireTimeoutSecs int `yaml:"acquire_timeout_secs" mapstructure:"acquire_timeout_secs"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	DelaySecs int `yaml:"delay_secs" mapstructure:"delay_secs"`
}

// ImportConfig configures lead list import sources.
type ImportConfig struct {
	FTPHost     string `yaml:"ftp_host" mapstructure:"ftp_host"`
	FTPUser     string `yaml:"ftp_user" mapstructure:"ftp_user"`
	FTPPassword string `yaml:"ftp_password" mapstructure:"ftp_password"`
	FTPPath     string `yaml:"ftp_path" mapstructure:"ftp_path"`
	Charset     string `yaml:"charset" mapstructure:"charset"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// NotifyConfig configures batch completion notifications.
type NotifyConfig struct {
	Emails     []string `yaml:"emails" mapstructure:"emails"`
	WebhookURL string   `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Validate checks the fields required for the given mode. Modes map to
// commands: "enrich" and "batch" need the full pipeline stack, "import"
// needs only the store, "serve" additionally needs a valid port.
func (c *Config) Validate(mode string) error {
	var missing []string

	requireStore := func() {
		switch c.Store.Driver {
		case "postgres":
			if c.Store.DatabaseURL == "" {
				missing = append(missing, "store.database_url is required")
			}
		case "sqlite":
			if c.Store.SQLitePath == "" {
				missing = append(missing, "store.sqlite_path is required")
			}
		default:
			missing = append(missing, "store.driver must be postgres or sqlite")
		}
	}

	requirePipeline := func() {
		requireStore()
		if c.Jina.Key == "" {
			missing = append(missing, "jina.key is required")
		}
		if c.Anthropic.Key == "" {
			missing = append(missing, "anthropic.key is required")
		}
		if c.Batch.DelaySecs < 0 {
			missing = append(missing, "batch.delay_secs must be >= 0")
		}
		if c.Pipeline.TruncateChars < 1000 {
			missing = append(missing, "pipeline.truncate_chars must be >= 1000")
		}
	}

	switch mode {
	case "enrich", "batch":
		requirePipeline()
	case "confirm", "import", "runs":
		requireStore()
	case "serve":
		requirePipeline()
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			missing = append(missing, "server.port must be > 0 and <= 65535")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(missing) > 0 {
		return eris.New("config: " + strings.Join(missing, "; "))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ENRICH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.sqlite_path", "enrich.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("firecrawl.base_url", "https://api.firecrawl.dev/v2")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("apollo.base_url", "https://api.apollo.io/api/v1")
	v.SetDefault("pipeline.min_content_chars", 100)
	v.SetDefault("pipeline.truncate_chars", 24000)
	v.SetDefault("pipeline.acquire_timeout_secs", 60)
	v.SetDefault("batch.delay_secs", 4)
	v.SetDefault("import.charset", "utf-8")
	v.SetDefault("import.ftp_path", "/")

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
