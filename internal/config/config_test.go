package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Store != StoreSQLite || cfg.MaxRunning != 4 || cfg.ChunkSize != 1024 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.ProgressInterval != 500*time.Millisecond {
		t.Fatalf("progress_interval = %s", cfg.ProgressInterval)
	}
	if cfg.OBS.Enabled() {
		t.Fatal("OBS should be disabled by default")
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fetcher.yaml")
	yaml := `
store: redis
max_running: 2
read_timeout: 5s
headers:
  User-Agent: fetcher-test
redis:
  addr: file:6379
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FETCHER_MAX_RUNNING", "3")
	t.Setenv("REDIS_ADDR", "legacy:6379")
	t.Setenv("OBS_ENDPOINT", "https://obs.example.com")
	t.Setenv("OBS_BUCKET", "files")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Store != StoreRedis {
		t.Errorf("store = %q", cfg.Store)
	}
	if cfg.MaxRunning != 3 {
		t.Errorf("max_running = %d, env should win", cfg.MaxRunning)
	}
	if cfg.ReadTimeout != 5*time.Second {
		t.Errorf("read_timeout = %s", cfg.ReadTimeout)
	}
	if cfg.Redis.Addr != "legacy:6379" {
		t.Errorf("redis.addr = %q", cfg.Redis.Addr)
	}
	if !cfg.OBS.Enabled() {
		t.Error("OBS should be enabled from the legacy variables")
	}
	if got := cfg.HTTPHeaders().Get("User-Agent"); got != "fetcher-test" {
		t.Errorf("User-Agent = %q", got)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := Config{DownloadDir: "d", Store: StoreMemory, MaxRunning: 1, ChunkSize: 1}
	if err := base.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	bad := []func(*Config){
		func(c *Config) { c.Store = "mongo" },
		func(c *Config) { c.MaxRunning = 0 },
		func(c *Config) { c.ChunkSize = -1 },
		func(c *Config) { c.SpeedLimit = -5 },
		func(c *Config) { c.DownloadDir = "" },
	}
	for i, mutate := range bad {
		c := base
		mutate(&c)
		if err := c.Validate(); err == nil {
			t.Errorf("case %d: expected an error", i)
		}
	}
}
