package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/densimap/internal/lod"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Fetch    FetchConfig    `yaml:"fetch" mapstructure:"fetch"`
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the dataset store backend.
type StoreConfig struct {
	Driver      string     `yaml:"driver" mapstructure:"driver"`
	Path        string     `yaml:"path" mapstructure:"path"`
	DatabaseURL string     `yaml:"database_url" mapstructure:"database_url"`
	Pool        PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// PoolConfig sizes the postgres connection pool. Zero values fall back to the
// store's defaults.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port             int      `yaml:"port" mapstructure:"port"`
	CORSOrigins      []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	ReadTimeoutSecs  int      `yaml:"read_timeout_secs" mapstructure:"read_timeout_secs"`
	WriteTimeoutSecs int      `yaml:"write_timeout_secs" mapstructure:"write_timeout_secs"`
}

// FetchConfig configures the download client.
type FetchConfig struct {
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	MaxRetries  int     `yaml:"max_retries" mapstructure:"max_retries"`
}

// PipelineConfig carries the processing defaults used when flags are absent.
// An empty ZoomBands means the built-in detail schedule.
type PipelineConfig struct {
	SourceEPSG        int        `yaml:"source_epsg" mapstructure:"source_epsg"`
	JoinKey           string     `yaml:"join_key" mapstructure:"join_key"`
	ViewportBuffer    float64    `yaml:"viewport_buffer" mapstructure:"viewport_buffer"`
	ZoomBands         []lod.Band `yaml:"zoom_bands" mapstructure:"zoom_bands"`
	PaletteFile       string     `yaml:"palette_file" mapstructure:"palette_file"`
	SimplifyTolerance float64    `yaml:"simplify_tolerance" mapstructure:"simplify_tolerance"`
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
	v.SetEnvPrefix("DENSIMAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "densimap.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.read_timeout_secs", 15)
	v.SetDefault("server.write_timeout_secs", 30)
	v.SetDefault("fetch.timeout_secs", 60)
	v.SetDefault("fetch.user_agent", "densimap/1.0")
	v.SetDefault("fetch.rate_per_sec", 0)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("pipeline.source_epsg", 5514)
	v.SetDefault("pipeline.join_key", "uzemi_kod")
	v.SetDefault("pipeline.viewport_buffer", 0.10)
	v.SetDefault("pipeline.simplify_tolerance", 0)

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

// Validate checks the fields required by the given command mode.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "", "sqlite", "postgres":
	default:
		problems = append(problems, "store.driver must be sqlite or postgres")
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required for the postgres driver")
	}
	if c.Store.Driver != "postgres" && c.Store.Path == "" {
		problems = append(problems, "store.path is required for the sqlite driver")
	}

	switch mode {
	case "process":
		if c.Pipeline.SourceEPSG <= 0 {
			problems = append(problems, "pipeline.source_epsg must be > 0")
		}
		if c.Pipeline.JoinKey == "" {
			problems = append(problems, "pipeline.join_key is required")
		}
		if c.Pipeline.ViewportBuffer < 0 {
			problems = append(problems, "pipeline.viewport_buffer must be >= 0")
		}
		for _, b := range c.Pipeline.ZoomBands {
			if b.Fraction <= 0 || b.Fraction > 1 {
				problems = append(problems, "pipeline.zoom_bands fractions must be in (0, 1]")
				break
			}
		}
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			problems = append(problems, "server.port must be > 0 and <= 65535")
		}
		if c.Server.ReadTimeoutSecs <= 0 || c.Server.WriteTimeoutSecs <= 0 {
			problems = append(problems, "server timeouts must be > 0")
		}
	case "fetch":
		if c.Fetch.TimeoutSecs <= 0 {
			problems = append(problems, "fetch.timeout_secs must be > 0")
		}
		if c.Fetch.RatePerSec < 0 {
			problems = append(problems, "fetch.rate_per_sec must be >= 0")
		}
		if c.Fetch.MaxRetries < 0 {
			problems = append(problems, "fetch.max_retries must be >= 0")
		}
	case "render", "datasets":
		// Store checks above cover these.
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
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
