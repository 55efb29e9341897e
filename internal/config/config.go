// Package config loads and validates archiver configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage engine names accepted by storage.engine.
const (
	EngineFilesystem = "filesystem"
	EngineS3         = "s3"
	EngineGCS        = "gcs"
	EngineMemory     = "memory"
)

// Config captures all archiver configuration knobs loaded via Viper.
type Config struct {
	Storage StorageConfig `mapstructure:"storage"`
	Retry   RetryConfig   `mapstructure:"retry"`
	Crawler CrawlerConfig `mapstructure:"crawler"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// StorageConfig selects and configures the archive backend.
type StorageConfig struct {
	Engine     string           `mapstructure:"engine"`
	Filesystem FilesystemConfig `mapstructure:"filesystem"`
	S3         S3Config         `mapstructure:"s3"`
	GCS        GCSConfig        `mapstructure:"gcs"`
}

// FilesystemConfig is the local directory variant.
type FilesystemConfig struct {
	BasePath string `mapstructure:"base_path"`
}

// S3Config is the S3-compatible object store variant.
type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
	UseSSL          bool   `mapstructure:"use_ssl"`
}

// GCSConfig is the Google Cloud Storage variant.
type GCSConfig struct {
	Bucket    string `mapstructure:"bucket"`
	ProjectID string `mapstructure:"project_id"`
	Endpoint  string `mapstructure:"endpoint"`
}

// RetryConfig tunes backoff for remote storage calls.
type RetryConfig struct {
	MaxRetries   int           `mapstructure:"max_retries"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	Factor       float64       `mapstructure:"factor"`
}

// CrawlerConfig governs traversal and fetching.
type CrawlerConfig struct {
	MaxDepth          int           `mapstructure:"max_depth"`
	SameDomain        bool          `mapstructure:"same_domain"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	FetchTimeout      time.Duration `mapstructure:"fetch_timeout"`
	UserAgent         string        `mapstructure:"user_agent"`
	DomainQPS         float64       `mapstructure:"domain_qps"`
	Headless          bool          `mapstructure:"headless"`
	ChromePath        string        `mapstructure:"chrome_path"`
}

// ServerConfig controls the archive HTTP server.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Domain          string        `mapstructure:"domain"`
	ArchiveCacheTTL time.Duration `mapstructure:"archive_cache_ttl"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// legacyEnv maps config keys to the plain environment variables older
// deployments export.
var legacyEnv = map[string]string{
	"storage.engine":               "STORAGE_ENGINE",
	"storage.filesystem.base_path": "STORAGE_PATH",
	"storage.s3.endpoint":          "S3_ENDPOINT",
	"storage.s3.access_key_id":     "S3_ACCESS_KEY",
	"storage.s3.secret_access_key": "S3_SECRET_KEY",
	"storage.s3.bucket":            "S3_BUCKET",
	"storage.s3.region":            "S3_REGION",
	"storage.s3.force_path_style":  "S3_FORCE_PATH_STYLE",
	"storage.s3.use_ssl":           "S3_USE_SSL",
	"server.domain":                "DOMAIN",
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ARCHIVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	for key, env := range legacyEnv {
		// The prefixed variable wins over the legacy alias.
		prefixed := "ARCHIVER_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.engine", EngineFilesystem)
	v.SetDefault("storage.filesystem.base_path", "./mirror")
	v.SetDefault("storage.s3.endpoint", "http://localhost:9000")
	v.SetDefault("storage.s3.access_key_id", "minioadmin")
	v.SetDefault("storage.s3.secret_access_key", "minioadmin")
	v.SetDefault("storage.s3.bucket", "website-archives")
	v.SetDefault("storage.s3.region", "us-east-1")
	v.SetDefault("storage.s3.force_path_style", true)
	v.SetDefault("storage.s3.use_ssl", false)
	v.SetDefault("storage.gcs.bucket", "website-archives")
	v.SetDefault("storage.gcs.project_id", "")
	v.SetDefault("storage.gcs.endpoint", "")
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.initial_delay", time.Second)
	v.SetDefault("retry.max_delay", 30*time.Second)
	v.SetDefault("retry.factor", 2.0)
	v.SetDefault("crawler.max_depth", 2)
	v.SetDefault("crawler.same_domain", true)
	v.SetDefault("crawler.navigation_timeout", 30*time.Second)
	v.SetDefault("crawler.fetch_timeout", 15*time.Second)
	v.SetDefault("crawler.user_agent", "")
	v.SetDefault("crawler.domain_qps", 0.0)
	v.SetDefault("crawler.headless", true)
	v.SetDefault("crawler.chrome_path", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.domain", "")
	v.SetDefault("server.archive_cache_ttl", time.Minute)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("metrics.enabled", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch c.Storage.Engine {
	case EngineFilesystem:
		if strings.TrimSpace(c.Storage.Filesystem.BasePath) == "" {
			return fmt.Errorf("storage.filesystem.base_path is required for the filesystem engine")
		}
	case EngineS3:
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required for the s3 engine")
		}
	case EngineGCS:
		if c.Storage.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket is required for the gcs engine")
		}
	case EngineMemory:
	default:
		return fmt.Errorf("storage.engine must be one of filesystem, s3, gcs, memory (got %q)", c.Storage.Engine)
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be >= 0")
	}
	if c.Retry.Factor < 1 {
		return fmt.Errorf("retry.factor must be >= 1")
	}
	if c.Crawler.MaxDepth < 0 {
		return fmt.Errorf("crawler.max_depth must be >= 0")
	}
	if c.Crawler.NavigationTimeout <= 0 {
		return fmt.Errorf("crawler.navigation_timeout must be > 0")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	return nil
}
