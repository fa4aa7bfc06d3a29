package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Storage.Driver != "sqlite" || cfg.Storage.Namespace != "rdl" {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if got := cfg.Engine.GetBufferSize(); got != 8192 {
		t.Errorf("GetBufferSize() = %d, want 8192", got)
	}
	if got := cfg.Engine.GetBandwidthLimit(); got != 0 {
		t.Errorf("GetBandwidthLimit() = %d, want 0", got)
	}
	if got := cfg.Progress.GetMinBytes(); got != 1<<20 {
		t.Errorf("GetMinBytes() = %d, want %d", got, 1<<20)
	}
	if got := cfg.Progress.GetInterval(); got != time.Second {
		t.Errorf("GetInterval() = %v, want 1s", got)
	}
	if got := cfg.Scheduler.GetIdleTimeout(); got != 0 {
		t.Errorf("GetIdleTimeout() = %v, want 0", got)
	}
	if cfg.Logging.Output != "stderr" {
		t.Errorf("Logging.Output = %q, want stderr", cfg.Logging.Output)
	}
	if cfg.Engine.WorkerMaxRedirects != 10 || !cfg.Engine.CheckFreeSpace {
		t.Errorf("Engine = %+v", cfg.Engine)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := strings.Join([]string{
		"engine:",
		"  download_dir: /data",
		"  buffer_size: 64KiB",
		"  bandwidth_limit: 2MB",
		"progress:",
		"  interval: 250ms",
		"storage:",
		"  driver: blob",
		"  blob_url: mem://",
		"logging:",
		"  level: debug",
		"  format: text",
	}, "\n")
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RDL_BULK_WORKERS", "5")
	t.Setenv("RDL_STORAGE_NAMESPACE", "custom")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Engine.DownloadDir != "/data" {
		t.Errorf("DownloadDir = %q", cfg.Engine.DownloadDir)
	}
	if got := cfg.Engine.GetBufferSize(); got != 64*1024 {
		t.Errorf("GetBufferSize() = %d, want %d", got, 64*1024)
	}
	if got := cfg.Engine.GetBandwidthLimit(); got != 2_000_000 {
		t.Errorf("GetBandwidthLimit() = %d, want 2000000", got)
	}
	if got := cfg.Progress.GetInterval(); got != 250*time.Millisecond {
		t.Errorf("GetInterval() = %v", got)
	}
	if cfg.Storage.Driver != "blob" || cfg.Storage.BlobURL != "mem://" {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if cfg.Bulk.Workers != 5 {
		t.Errorf("Bulk.Workers = %d, want 5 from the environment", cfg.Bulk.Workers)
	}
	if cfg.Storage.Namespace != "custom" {
		t.Errorf("Namespace = %q, want custom from the environment", cfg.Storage.Namespace)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Logging.Format = %q", cfg.Logging.Format)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() should fail for a missing file")
	}
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"valid", func(*Config) {}, ""},
		{"no download dir", func(c *Config) { c.Engine.DownloadDir = "" }, "download_dir"},
		{"bad buffer size", func(c *Config) { c.Engine.BufferSize = "lots" }, "engine.buffer_size"},
		{"bad bandwidth", func(c *Config) { c.Engine.BandwidthLimit = "fast" }, "engine.bandwidth_limit"},
		{"negative redirects", func(c *Config) { c.Engine.MaxRedirects = -1 }, "redirect"},
		{"bad interval", func(c *Config) { c.Progress.Interval = "soon" }, "progress.interval"},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "redis" }, "storage.driver"},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = "postgres" }, "postgres_dsn"},
		{"blob without url", func(c *Config) { c.Storage.Driver = "blob" }, "blob_url"},
		{"no workers", func(c *Config) { c.Bulk.Workers = 0 }, "bulk.workers"},
		{"bad level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.errMsg)
			}
		})
	}
}
