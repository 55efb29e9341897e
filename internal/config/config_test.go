package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, EngineFilesystem, cfg.Storage.Engine)
	assert.Equal(t, "./mirror", cfg.Storage.Filesystem.BasePath)
	assert.Equal(t, "website-archives", cfg.Storage.S3.Bucket)
	assert.Equal(t, "us-east-1", cfg.Storage.S3.Region)
	assert.True(t, cfg.Storage.S3.ForcePathStyle)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, time.Second, cfg.Retry.InitialDelay)
	assert.Equal(t, 30*time.Second, cfg.Retry.MaxDelay)
	assert.InDelta(t, 2.0, cfg.Retry.Factor, 0)
	assert.Equal(t, 2, cfg.Crawler.MaxDepth)
	assert.True(t, cfg.Crawler.SameDomain)
	assert.Equal(t, 30*time.Second, cfg.Crawler.NavigationTimeout)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
storage:
  engine: s3
  s3:
    endpoint: https://account.r2.cloudflarestorage.com
    bucket: mirrors
    use_ssl: true
retry:
  max_retries: 5
  initial_delay: 250ms
crawler:
  max_depth: 0
  same_domain: false
server:
  port: 9090
  domain: example.com
logging:
  development: false
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, EngineS3, cfg.Storage.Engine)
	assert.Equal(t, "mirrors", cfg.Storage.S3.Bucket)
	assert.True(t, cfg.Storage.S3.UseSSL)
	assert.Equal(t, "us-east-1", cfg.Storage.S3.Region)
	assert.Equal(t, 5, cfg.Retry.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.InitialDelay)
	assert.Equal(t, 0, cfg.Crawler.MaxDepth)
	assert.False(t, cfg.Crawler.SameDomain)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "example.com", cfg.Server.Domain)
	assert.False(t, cfg.Logging.Development)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadLegacyEnvironment(t *testing.T) {
	t.Setenv("STORAGE_ENGINE", "s3")
	t.Setenv("S3_BUCKET", "legacy-bucket")
	t.Setenv("S3_FORCE_PATH_STYLE", "false")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, EngineS3, cfg.Storage.Engine)
	assert.Equal(t, "legacy-bucket", cfg.Storage.S3.Bucket)
	assert.False(t, cfg.Storage.S3.ForcePathStyle)

	t.Setenv("ARCHIVER_STORAGE_S3_BUCKET", "prefixed-bucket")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "prefixed-bucket", cfg.Storage.S3.Bucket)
}

func TestLoadPrefixedEnvironment(t *testing.T) {
	t.Setenv("ARCHIVER_CRAWLER_MAX_DEPTH", "4")
	t.Setenv("ARCHIVER_CRAWLER_NAVIGATION_TIMEOUT", "45s")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Crawler.MaxDepth)
	assert.Equal(t, 45*time.Second, cfg.Crawler.NavigationTimeout)
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Storage: StorageConfig{Engine: EngineFilesystem, Filesystem: FilesystemConfig{BasePath: "./mirror"}},
		Retry:   RetryConfig{MaxRetries: 3, Factor: 2},
		Crawler: CrawlerConfig{MaxDepth: 2, NavigationTimeout: time.Second},
		Server:  ServerConfig{Port: 8080},
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown engine", func(c *Config) { c.Storage.Engine = "ftp" }, "storage.engine"},
		{"empty base path", func(c *Config) { c.Storage.Filesystem.BasePath = " " }, "base_path"},
		{"s3 without bucket", func(c *Config) { c.Storage.Engine = EngineS3 }, "storage.s3.bucket"},
		{"gcs without bucket", func(c *Config) { c.Storage.Engine = EngineGCS }, "storage.gcs.bucket"},
		{"negative retries", func(c *Config) { c.Retry.MaxRetries = -1 }, "retry.max_retries"},
		{"shrinking factor", func(c *Config) { c.Retry.Factor = 0.5 }, "retry.factor"},
		{"negative depth", func(c *Config) { c.Crawler.MaxDepth = -1 }, "crawler.max_depth"},
		{"zero timeout", func(c *Config) { c.Crawler.NavigationTimeout = 0 }, "navigation_timeout"},
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.want), err.Error())
		})
	}
}
