package config

import (
	"strings"
	"time"
	_ "time/tzdata" // listing timezones must resolve on minimal images

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	HTTP      HTTPConfig      `yaml:"http" mapstructure:"http"`
	Scrape    ScrapeConfig    `yaml:"scrape" mapstructure:"scrape"`
	Shufersal ShufersalConfig `yaml:"shufersal" mapstructure:"shufersal"`
	Upload    UploadConfig    `yaml:"upload" mapstructure:"upload"`
	Minio     MinioConfig     `yaml:"minio" mapstructure:"minio"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Kafka     KafkaConfig     `yaml:"kafka" mapstructure:"kafka"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// HTTPConfig configures the outbound HTTP client used for listings and files.
type HTTPConfig struct {
	TimeoutSecs        int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	InsecureSkipVerify bool    `yaml:"insecure_skip_verify" mapstructure:"insecure_skip_verify"`
	UserAgent          string  `yaml:"user_agent" mapstructure:"user_agent"`
	RatePerSec         float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// Timeout returns the client timeout as a duration.
func (h HTTPConfig) Timeout() time.Duration {
	return time.Duration(h.TimeoutSecs) * time.Second
}

// ScrapeConfig configures discovery windows and pipeline concurrency.
type ScrapeConfig struct {
	TimeBack   time.Duration `yaml:"time_back" mapstructure:"time_back"`
	MaxWorkers int           `yaml:"max_workers" mapstructure:"max_workers"`
	Pagination string        `yaml:"pagination" mapstructure:"pagination"`
	Timezone   string        `yaml:"timezone" mapstructure:"timezone"`
}

// Location resolves the timezone listing dates are published in.
func (s ScrapeConfig) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, eris.Wrapf(err, "config: load timezone %q", s.Timezone)
	}
	return loc, nil
}

// ShufersalConfig configures the shufersal price listing.
type ShufersalConfig struct {
	IndexURL string `yaml:"index_url" mapstructure:"index_url"`
}

// UploadConfig selects how record groups reach object storage.
type UploadConfig struct {
	Mode         string `yaml:"mode" mapstructure:"mode"`
	ServiceURL   string `yaml:"service_url" mapstructure:"service_url"`
	Token        string `yaml:"token" mapstructure:"token"`
	CreateBucket bool   `yaml:"create_bucket" mapstructure:"create_bucket"`
}

// MinioConfig holds S3-compatible object storage settings.
type MinioConfig struct {
	Endpoint  string `yaml:"endpoint" mapstructure:"endpoint"`
	AccessKey string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey string `yaml:"secret_key" mapstructure:"secret_key"`
	Bucket    string `yaml:"bucket" mapstructure:"bucket"`
	Region    string `yaml:"region" mapstructure:"region"`
	UseSSL    bool   `yaml:"use_ssl" mapstructure:"use_ssl"`
}

// ServerConfig configures the upload service.
type ServerConfig struct {
	Port   int    `yaml:"port" mapstructure:"port"`
	APIKey string `yaml:"api_key" mapstructure:"api_key"`
}

// StoreConfig configures the run log and product database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// KafkaConfig configures upload event publishing. No brokers disables it.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers" mapstructure:"brokers"`
	Topic   string   `yaml:"topic" mapstructure:"topic"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PRICEFEED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("http.timeout_secs", 30)
	v.SetDefault("http.insecure_skip_verify", false)
	v.SetDefault("http.user_agent", "pricefeed/1.0")
	v.SetDefault("http.rate_per_sec", 5)
	v.SetDefault("scrape.time_back", "2h")
	v.SetDefault("scrape.max_workers", 4)
	v.SetDefault("scrape.pagination", "stop_on_stale")
	v.SetDefault("scrape.timezone", "Asia/Jerusalem")
	v.SetDefault("shufersal.index_url", "https://prices.shufersal.co.il/")
	v.SetDefault("upload.mode", "direct")
	v.SetDefault("upload.create_bucket", true)
	v.SetDefault("minio.bucket", "prices")
	v.SetDefault("minio.region", "us-east-1")
	v.SetDefault("minio.use_ssl", true)
	v.SetDefault("server.port", 8000)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "pricefeed.db")
	v.SetDefault("kafka.topic", "pricefeed.uploads")
	v.SetDefault("kafka.brokers", []string{})

	// Keys without a useful default still need registering so that
	// AutomaticEnv overrides reach Unmarshal.
	for _, key := range []string{
		"upload.service_url", "upload.token",
		"minio.endpoint", "minio.access_key", "minio.secret_key",
		"server.api_key",
	} {
		v.SetDefault(key, "")
	}

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

// Validate checks the settings a command mode depends on. Modes are "run",
// "serve" and "store".
func (c *Config) Validate(mode string) error {
	var problems []string
	add := func(msg string) { problems = append(problems, msg) }

	checkStore := func() {
		switch c.Store.Driver {
		case "sqlite", "postgres":
		default:
			add("store.driver must be sqlite or postgres")
		}
		if c.Store.DatabaseURL == "" {
			add("store.database_url is required")
		}
	}
	checkMinio := func() {
		if c.Minio.Endpoint == "" {
			add("minio.endpoint is required")
		}
		if c.Minio.Bucket == "" {
			add("minio.bucket is required")
		}
	}

	switch mode {
	case "run":
		if c.Scrape.MaxWorkers < 1 || c.Scrape.MaxWorkers > 32 {
			add("scrape.max_workers must be between 1 and 32")
		}
		if c.Scrape.TimeBack < 0 {
			add("scrape.time_back must be >= 0")
		}
		switch c.Scrape.Pagination {
		case "", "stop_on_stale", "full_scan":
		default:
			add("scrape.pagination must be stop_on_stale or full_scan")
		}
		if _, err := c.Scrape.Location(); err != nil {
			add("scrape.timezone is invalid")
		}
		if c.HTTP.TimeoutSecs <= 0 {
			add("http.timeout_secs must be > 0")
		}
		switch c.Upload.Mode {
		case "direct":
			checkMinio()
		case "service":
			if c.Upload.ServiceURL == "" {
				add("upload.service_url is required")
			}
			if c.Upload.Token == "" {
				add("upload.token is required")
			}
		default:
			add("upload.mode must be direct or service")
		}
		checkStore()
	case "serve":
		if c.Server.Port <= 0 {
			add("server.port must be > 0")
		}
		if c.Server.APIKey == "" {
			add("server.api_key is required")
		}
		checkMinio()
		checkStore()
	case "store":
		checkStore()
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
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
