package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the entire application configuration
type Config struct {
	HTTP     HTTPConfig     `mapstructure:"http"`
	Download DownloadConfig `mapstructure:"download"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Database DatabaseConfig `mapstructure:"database"`
}

// HTTPConfig contains HTTP client configuration
type HTTPConfig struct {
	UserAgent             string `mapstructure:"user_agent"`
	ConnectTimeout        string `mapstructure:"connect_timeout"`
	ResponseHeaderTimeout string `mapstructure:"response_header_timeout"`
	ProbeTimeout          string `mapstructure:"probe_timeout"`
	SkipTLSVerify         bool   `mapstructure:"skip_tls_verify"`
}

// DownloadConfig contains transfer settings
type DownloadConfig struct {
	Dir            string `mapstructure:"dir"`
	ChunkSizeKB    int    `mapstructure:"chunk_size_kb"`
	MaxRetries     int    `mapstructure:"max_retries"`
	RetryBaseDelay string `mapstructure:"retry_base_delay"`
	RetryMaxDelay  string `mapstructure:"retry_max_delay"`
	Workers        int    `mapstructure:"workers"`
	StagingMaxAge  string `mapstructure:"staging_max_age"`
}

// CacheConfig contains download cache settings
type CacheConfig struct {
	Enabled             bool   `mapstructure:"enabled"`
	Dir                 string `mapstructure:"dir"`
	MaxSizeGB           int    `mapstructure:"max_size_gb"`
	MaxDiskUsagePercent int    `mapstructure:"max_disk_usage_percent"`
	MaxEntryAge         string `mapstructure:"max_entry_age"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DatabaseConfig contains cache index database settings
type DatabaseConfig struct {
	Path          string `mapstructure:"path"`
	CacheSizeMB   int    `mapstructure:"cache_size_mb"`
	BusyTimeoutMs int    `mapstructure:"busy_timeout_ms"`
}

// Load loads configuration from the specified file path. An empty path
// loads defaults and environment overrides only. Environment variables
// use the QUAFF_ prefix with underscores, e.g. QUAFF_DOWNLOAD_MAX_RETRIES.
func Load(configPath string) (*Config, error) {
	viper.SetEnvPrefix("QUAFF")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("http.user_agent", "Mozilla/5.0")
	viper.SetDefault("http.connect_timeout", "10s")
	viper.SetDefault("http.response_header_timeout", "30s")
	viper.SetDefault("http.probe_timeout", "15s")
	viper.SetDefault("http.skip_tls_verify", false)
	viper.SetDefault("download.dir", ".")
	viper.SetDefault("download.chunk_size_kb", 128)
	viper.SetDefault("download.max_retries", 3)
	viper.SetDefault("download.retry_base_delay", "500ms")
	viper.SetDefault("download.retry_max_delay", "30s")
	viper.SetDefault("download.workers", 3)
	viper.SetDefault("download.staging_max_age", "24h")
	viper.SetDefault("cache.enabled", false)
	viper.SetDefault("cache.dir", filepath.Join(os.TempDir(), "quaff-cache"))
	viper.SetDefault("cache.max_size_gb", 10)
	viper.SetDefault("cache.max_disk_usage_percent", 90)
	viper.SetDefault("cache.max_entry_age", "720h")
	viper.SetDefault("logging.level", "warn")
	viper.SetDefault("logging.format", "text")
	viper.SetDefault("database.path", "")
	viper.SetDefault("database.cache_size_mb", 64)
	viper.SetDefault("database.busy_timeout_ms", 5000)

	if configPath != "" {
		viper.SetConfigFile(configPath)
		viper.SetConfigType("yaml")
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Download.ChunkSizeKB < 1 || c.Download.ChunkSizeKB > 16*1024 {
		return fmt.Errorf("download.chunk_size_kb must be between 1 and 16384")
	}
	if c.Download.MaxRetries < 0 || c.Download.MaxRetries > 20 {
		return fmt.Errorf("download.max_retries must be between 0 and 20")
	}
	if c.Download.Workers < 1 || c.Download.Workers > 10 {
		return fmt.Errorf("download.workers must be between 1 and 10")
	}

	if _, err := time.ParseDuration(c.Download.RetryBaseDelay); err != nil {
		return fmt.Errorf("invalid download.retry_base_delay: %w", err)
	}
	if _, err := time.ParseDuration(c.Download.RetryMaxDelay); err != nil {
		return fmt.Errorf("invalid download.retry_max_delay: %w", err)
	}
	if _, err := time.ParseDuration(c.Download.StagingMaxAge); err != nil {
		return fmt.Errorf("invalid download.staging_max_age: %w", err)
	}
	if _, err := time.ParseDuration(c.Cache.MaxEntryAge); err != nil {
		return fmt.Errorf("invalid cache.max_entry_age: %w", err)
	}

	if c.Cache.MaxSizeGB <= 0 {
		return fmt.Errorf("cache.max_size_gb must be positive")
	}
	if c.Cache.MaxDiskUsagePercent <= 0 || c.Cache.MaxDiskUsagePercent > 100 {
		return fmt.Errorf("cache.max_disk_usage_percent must be between 1 and 100")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "text":
		// Valid formats
	default:
		return fmt.Errorf("invalid logging.format: %s", c.Logging.Format)
	}

	return nil
}

// GetConnectTimeout returns the dial timeout as time.Duration
func (c *HTTPConfig) GetConnectTimeout() time.Duration {
	d, _ := time.ParseDuration(c.ConnectTimeout)
	if d == 0 {
		return 10 * time.Second
	}
	return d
}

// GetResponseHeaderTimeout returns the response header timeout as time.Duration
func (c *HTTPConfig) GetResponseHeaderTimeout() time.Duration {
	d, _ := time.ParseDuration(c.ResponseHeaderTimeout)
	if d == 0 {
		return 30 * time.Second
	}
	return d
}

// GetProbeTimeout returns the probe request timeout as time.Duration
func (c *HTTPConfig) GetProbeTimeout() time.Duration {
	d, _ := time.ParseDuration(c.ProbeTimeout)
	if d == 0 {
		return 15 * time.Second
	}
	return d
}

// GetChunkSize returns the chunk size in bytes
func (c *DownloadConfig) GetChunkSize() int {
	if c.ChunkSizeKB <= 0 {
		return 128 * 1024
	}
	return c.ChunkSizeKB * 1024
}

// GetRetryBaseDelay returns the first retry delay as time.Duration
func (c *DownloadConfig) GetRetryBaseDelay() time.Duration {
	d, _ := time.ParseDuration(c.RetryBaseDelay)
	if d == 0 {
		return 500 * time.Millisecond
	}
	return d
}

// GetRetryMaxDelay returns the retry delay ceiling as time.Duration
func (c *DownloadConfig) GetRetryMaxDelay() time.Duration {
	d, _ := time.ParseDuration(c.RetryMaxDelay)
	if d == 0 {
		return 30 * time.Second
	}
	return d
}

// GetStagingMaxAge returns the staging sweep threshold as time.Duration
func (c *DownloadConfig) GetStagingMaxAge() time.Duration {
	d, _ := time.ParseDuration(c.StagingMaxAge)
	if d == 0 {
		return 24 * time.Hour
	}
	return d
}

// GetMaxEntryAge returns the cache prune threshold as time.Duration
func (c *CacheConfig) GetMaxEntryAge() time.Duration {
	d, _ := time.ParseDuration(c.MaxEntryAge)
	if d == 0 {
		return 720 * time.Hour
	}
	return d
}

// GetMaxSizeBytes returns the cache size limit in bytes
func (c *CacheConfig) GetMaxSizeBytes() int64 {
	return int64(c.MaxSizeGB) * 1024 * 1024 * 1024
}

// IndexPath returns the cache index database path, derived from the
// cache directory unless set explicitly.
func (c *Config) IndexPath() string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	return filepath.Join(c.Cache.Dir, "index.db")
}
