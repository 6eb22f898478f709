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
	Backend  BackendConfig  `yaml:"backend" mapstructure:"backend"`
	SendGrid SendGridConfig `yaml:"sendgrid" mapstructure:"sendgrid"`
	Search   SearchConfig   `yaml:"search" mapstructure:"search"`
	Sanitize SanitizeConfig `yaml:"sanitize" mapstructure:"sanitize"`
	Status   StatusConfig   `yaml:"status" mapstructure:"status"`
	Trace    TraceConfig    `yaml:"trace" mapstructure:"trace"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// BackendConfig holds completion-backend (Anthropic) settings.
type BackendConfig struct {
	Key          string `yaml:"key" mapstructure:"key"`
	PlannerModel string `yaml:"planner_model" mapstructure:"planner_model"`
	SearchModel  string `yaml:"search_model" mapstructure:"search_model"`
	WriterModel  string `yaml:"writer_model" mapstructure:"writer_model"`
	GuardModel   string `yaml:"guard_model" mapstructure:"guard_model"`

	// WebToolTypes is the ordered fallback list of web-search capability
	// identifiers tried by the search executor.
	WebToolTypes []string `yaml:"web_tool_types" mapstructure:"web_tool_types"`
}

// SendGridConfig holds email delivery settings.
type SendGridConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
	FromEmail string `yaml:"from_email" mapstructure:"from_email"`
	RPS       int    `yaml:"rps" mapstructure:"rps"`
}

// SearchConfig configures the fan-out and retry behavior.
type SearchConfig struct {
	MaxConcurrency int `yaml:"max_concurrency" mapstructure:"max_concurrency"`
	TimeoutSecs    int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxAttempts    int `yaml:"max_attempts" mapstructure:"max_attempts"`
	HowManyTasks   int `yaml:"how_many_tasks" mapstructure:"how_many_tasks"`
}

// SanitizeConfig configures product URL cleanup.
type SanitizeConfig struct {
	AllowedDomains []string `yaml:"allowed_domains" mapstructure:"allowed_domains"`
	MaxProducts    int      `yaml:"max_products" mapstructure:"max_products"`
}

// StatusConfig selects the status store backend.
type StatusConfig struct {
	Driver     string `yaml:"driver" mapstructure:"driver"`
	SQLitePath string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// TraceConfig configures the append-only call trace log.
type TraceConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Dir     string `yaml:"dir" mapstructure:"dir"`
	Raw     bool   `yaml:"raw" mapstructure:"raw"`
}

// ServerConfig configures the HTTP front door.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
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
	v.SetEnvPrefix("RESEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"http://localhost:5173"})
	v.SetDefault("backend.planner_model", "claude-haiku-4-5-20251001")
	v.SetDefault("backend.search_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("backend.writer_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("backend.guard_model", "claude-haiku-4-5-20251001")
	v.SetDefault("backend.web_tool_types", []string{"web_search_20250305", "web_search_preview"})
	v.SetDefault("sendgrid.base_url", "https://api.sendgrid.com")
	v.SetDefault("sendgrid.rps", 2)
	v.SetDefault("search.max_concurrency", 5)
	v.SetDefault("search.timeout_secs", 30)
	v.SetDefault("search.max_attempts", 3)
	v.SetDefault("search.how_many_tasks", 3)
	v.SetDefault("sanitize.allowed_domains", []string{"bauhaus.info", "bauhaus.de", "bauhaus.at"})
	v.SetDefault("sanitize.max_products", 12)
	v.SetDefault("status.driver", "memory")
	v.SetDefault("status.sqlite_path", "research-status.db")
	v.SetDefault("trace.enabled", true)
	v.SetDefault("trace.dir", "logs")
	v.SetDefault("trace.raw", false)

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

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects non-positive values for the knobs the executor depends on.
func (c *Config) Validate() error {
	if c.Search.MaxConcurrency <= 0 {
		return eris.New("config: search.max_concurrency must be positive")
	}
	if c.Search.TimeoutSecs <= 0 {
		return eris.New("config: search.timeout_secs must be positive")
	}
	if c.Search.MaxAttempts <= 0 {
		return eris.New("config: search.max_attempts must be positive")
	}
	if c.Search.HowManyTasks <= 0 {
		return eris.New("config: search.how_many_tasks must be positive")
	}
	if len(c.Backend.WebToolTypes) == 0 {
		return eris.New("config: backend.web_tool_types must not be empty")
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
