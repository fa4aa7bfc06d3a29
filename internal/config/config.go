package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"
)

// Config represents the entire application configuration
type Config struct {
	Engine      EngineConfig      `mapstructure:"engine"`
	Progress    ProgressConfig    `mapstructure:"progress"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Bulk        BulkConfig        `mapstructure:"bulk"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// EngineConfig contains transfer engine settings
type EngineConfig struct {
	DownloadDir        string `mapstructure:"download_dir"`
	TempSuffix         string `mapstructure:"temp_suffix"`
	UserAgent          string `mapstructure:"user_agent"`
	BufferSize         string `mapstructure:"buffer_size"`     // e.g. "8KiB"
	BandwidthLimit     string `mapstructure:"bandwidth_limit"` // per second, e.g. "10MB"; empty is unlimited
	ConnectTimeout     string `mapstructure:"connect_timeout"`
	ReadTimeout        string `mapstructure:"read_timeout"`
	RedirectTimeout    string `mapstructure:"redirect_timeout"`
	MaxRedirects       int    `mapstructure:"max_redirects"`
	WorkerMaxRedirects int    `mapstructure:"worker_max_redirects"`
	CheckFreeSpace     bool   `mapstructure:"check_free_space"`
	SkipTLSVerify      bool   `mapstructure:"skip_tls_verify"`
}

// ProgressConfig contains progress batching settings
type ProgressConfig struct {
	Interval    string `mapstructure:"interval"`
	MinBytes    string `mapstructure:"min_bytes"`
	LogInterval string `mapstructure:"log_interval"`
}

// StorageConfig selects where transfer state is persisted
type StorageConfig struct {
	Driver      string `mapstructure:"driver"` // sqlite, postgres or blob
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
	BlobURL     string `mapstructure:"blob_url"`
	Namespace   string `mapstructure:"namespace"`
}

// BulkConfig contains bulk download pool settings
type BulkConfig struct {
	Workers   int `mapstructure:"workers"`
	QueueSize int `mapstructure:"queue_size"`
}

// MaintenanceConfig contains periodic maintenance settings
type MaintenanceConfig struct {
	CheckpointInterval string `mapstructure:"checkpoint_interval"`
	SweepInterval      string `mapstructure:"sweep_interval"`
	TempFileMaxAge     string `mapstructure:"temp_file_max_age"`
}

// SchedulerConfig contains keep-alive settings
type SchedulerConfig struct {
	IdleTimeout string `mapstructure:"idle_timeout"` // "0" keeps serving while idle
}

// HTTPConfig contains HTTP server configuration
type HTTPConfig struct {
	BindAddr      string `mapstructure:"bind_addr"`
	AdminUsername string `mapstructure:"admin_username"`
	AdminPassword string `mapstructure:"admin_password"`
	ReadTimeout   string `mapstructure:"read_timeout"`
	WriteTimeout  string `mapstructure:"write_timeout"`
	IdleTimeout   string `mapstructure:"idle_timeout"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// Load loads configuration from configPath, which may be empty, and RDL_
// environment overrides such as RDL_STORAGE_DRIVER.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("RDL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.download_dir", "./downloads")
	v.SetDefault("engine.temp_suffix", ".tmp")
	v.SetDefault("engine.user_agent", "resumable-downloader")
	v.SetDefault("engine.buffer_size", "8KiB")
	v.SetDefault("engine.bandwidth_limit", "")
	v.SetDefault("engine.connect_timeout", "30s")
	v.SetDefault("engine.read_timeout", "30s")
	v.SetDefault("engine.redirect_timeout", "10s")
	v.SetDefault("engine.max_redirects", 0)
	v.SetDefault("engine.worker_max_redirects", 10)
	v.SetDefault("engine.check_free_space", true)
	v.SetDefault("engine.skip_tls_verify", false)
	v.SetDefault("progress.interval", "1s")
	v.SetDefault("progress.min_bytes", "1MiB")
	v.SetDefault("progress.log_interval", "500ms")
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.sqlite_path", "")
	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("storage.blob_url", "")
	v.SetDefault("storage.namespace", "rdl")
	v.SetDefault("bulk.workers", 3)
	v.SetDefault("bulk.queue_size", 64)
	v.SetDefault("maintenance.checkpoint_interval", "1m")
	v.SetDefault("maintenance.sweep_interval", "1h")
	v.SetDefault("maintenance.temp_file_max_age", "24h")
	v.SetDefault("scheduler.idle_timeout", "0")
	v.SetDefault("http.bind_addr", "127.0.0.1:8080")
	v.SetDefault("http.admin_username", "")
	v.SetDefault("http.admin_password", "")
	v.SetDefault("http.read_timeout", "30s")
	v.SetDefault("http.write_timeout", "30s")
	v.SetDefault("http.idle_timeout", "60s")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Engine.DownloadDir == "" {
		return fmt.Errorf("engine.download_dir is required")
	}
	if c.Engine.TempSuffix == "" {
		return fmt.Errorf("engine.temp_suffix is required")
	}
	if c.Engine.MaxRedirects < 0 || c.Engine.WorkerMaxRedirects < 0 {
		return fmt.Errorf("engine redirect limits must not be negative")
	}

	sizes := map[string]string{
		"engine.buffer_size": c.Engine.BufferSize,
		"progress.min_bytes": c.Progress.MinBytes,
	}
	if c.Engine.BandwidthLimit != "" {
		sizes["engine.bandwidth_limit"] = c.Engine.BandwidthLimit
	}
	for key, value := range sizes {
		if _, err := humanize.ParseBytes(value); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}

	durations := map[string]string{
		"engine.connect_timeout":          c.Engine.ConnectTimeout,
		"engine.read_timeout":             c.Engine.ReadTimeout,
		"engine.redirect_timeout":         c.Engine.RedirectTimeout,
		"progress.interval":               c.Progress.Interval,
		"progress.log_interval":           c.Progress.LogInterval,
		"maintenance.checkpoint_interval": c.Maintenance.CheckpointInterval,
		"maintenance.sweep_interval":      c.Maintenance.SweepInterval,
		"maintenance.temp_file_max_age":   c.Maintenance.TempFileMaxAge,
		"scheduler.idle_timeout":          c.Scheduler.IdleTimeout,
	}
	for key, value := range durations {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}

	switch c.Storage.Driver {
	case "sqlite":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn is required for the postgres driver")
		}
	case "blob":
		if c.Storage.BlobURL == "" {
			return fmt.Errorf("storage.blob_url is required for the blob driver")
		}
	default:
		return fmt.Errorf("invalid storage.driver: %s", c.Storage.Driver)
	}
	if c.Storage.Namespace == "" {
		return fmt.Errorf("storage.namespace is required")
	}

	if c.Bulk.Workers < 1 || c.Bulk.Workers > 32 {
		return fmt.Errorf("bulk.workers must be between 1 and 32")
	}
	if c.Bulk.QueueSize < 1 {
		return fmt.Errorf("bulk.queue_size must be positive")
	}

	// Validate logging config
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

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func parseBytes(s string, fallback int64) int64 {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return fallback
	}
	return int64(n)
}

// GetBufferSize returns the body read buffer size in bytes
func (c *EngineConfig) GetBufferSize() int {
	n := parseBytes(c.BufferSize, 8192)
	if n <= 0 {
		return 8192
	}
	return int(n)
}

// GetBandwidthLimit returns the shared bandwidth cap in bytes per second; 0 is unlimited
func (c *EngineConfig) GetBandwidthLimit() int64 {
	if c.BandwidthLimit == "" {
		return 0
	}
	return parseBytes(c.BandwidthLimit, 0)
}

// GetConnectTimeout returns the connect timeout as time.Duration
func (c *EngineConfig) GetConnectTimeout() time.Duration {
	return parseDuration(c.ConnectTimeout, 30*time.Second)
}

// GetReadTimeout returns the read timeout as time.Duration
func (c *EngineConfig) GetReadTimeout() time.Duration {
	return parseDuration(c.ReadTimeout, 30*time.Second)
}

// GetRedirectTimeout returns the per-hop redirect resolution timeout
func (c *EngineConfig) GetRedirectTimeout() time.Duration {
	return parseDuration(c.RedirectTimeout, 10*time.Second)
}

// GetInterval returns the progress batch interval
func (c *ProgressConfig) GetInterval() time.Duration {
	return parseDuration(c.Interval, time.Second)
}

// GetMinBytes returns the progress byte threshold
func (c *ProgressConfig) GetMinBytes() int64 {
	return parseBytes(c.MinBytes, 1024*1024)
}

// GetLogInterval returns the debug progress log throttle
func (c *ProgressConfig) GetLogInterval() time.Duration {
	return parseDuration(c.LogInterval, 500*time.Millisecond)
}

// GetCheckpointInterval returns the checkpoint interval as time.Duration
func (c *MaintenanceConfig) GetCheckpointInterval() time.Duration {
	return parseDuration(c.CheckpointInterval, time.Minute)
}

// GetSweepInterval returns the temp sweep interval as time.Duration
func (c *MaintenanceConfig) GetSweepInterval() time.Duration {
	return parseDuration(c.SweepInterval, time.Hour)
}

// GetTempFileMaxAge returns the orphaned temp file age limit
func (c *MaintenanceConfig) GetTempFileMaxAge() time.Duration {
	return parseDuration(c.TempFileMaxAge, 24*time.Hour)
}

// GetIdleTimeout returns the keep-alive idle timeout; 0 disables it
func (c *SchedulerConfig) GetIdleTimeout() time.Duration {
	return parseDuration(c.IdleTimeout, 0)
}

// GetReadTimeout returns the read timeout as time.Duration
func (c *HTTPConfig) GetReadTimeout() time.Duration {
	return parseDuration(c.ReadTimeout, 30*time.Second)
}

// GetWriteTimeout returns the write timeout as time.Duration
func (c *HTTPConfig) GetWriteTimeout() time.Duration {
	return parseDuration(c.WriteTimeout, 30*time.Second)
}

// GetIdleTimeout returns the idle timeout as time.Duration
func (c *HTTPConfig) GetIdleTimeout() time.Duration {
	return parseDuration(c.IdleTimeout, 60*time.Second)
}
