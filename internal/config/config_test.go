package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig_ResolveAndValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Resolve()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if want := filepath.Join(cfg.DataDir, "tracklet.db"); cfg.Database.Path != want {
		t.Errorf("database path: got %q, want %q", cfg.Database.Path, want)
	}
	if want := filepath.Join(cfg.DataDir, "storage"); cfg.Storage.Path != want {
		t.Errorf("storage path: got %q, want %q", cfg.Storage.Path, want)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty addr", func(c *Config) { c.HTTP.Addr = "" }},
		{"zero read pool", func(c *Config) { c.Database.ReadPoolSize = 0 }},
		{"negative busy timeout", func(c *Config) { c.Database.BusyTimeout = -time.Second }},
		{"drain longer than shutdown", func(c *Config) { c.HTTP.DrainTimeout = time.Minute }},
		{"no cors origins", func(c *Config) { c.CORS.AllowOrigins = nil }},
		{"bad storage type", func(c *Config) { c.Storage.Type = "gcs" }},
		{"s3 without bucket", func(c *Config) { c.Storage.Type = "s3" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Resolve()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadFromFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracklet.yaml")
	content := `
data_dir: /var/lib/tracklet
http:
  addr: ":8080"
  read_timeout: 5s
database:
  read_pool_size: 8
cors:
  allow_origins: ["https://shop.example.com"]
storage:
  type: s3
  s3:
    bucket: analytics-backups
    region: eu-west-1
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if cfg.DataDir != "/var/lib/tracklet" {
		t.Errorf("data_dir: got %q", cfg.DataDir)
	}
	if cfg.HTTP.Addr != ":8080" || cfg.HTTP.ReadTimeout != 5*time.Second {
		t.Errorf("http: got %+v", cfg.HTTP)
	}
	// Unset fields keep their defaults.
	if cfg.HTTP.WriteTimeout != 30*time.Second {
		t.Errorf("write_timeout default lost: %v", cfg.HTTP.WriteTimeout)
	}
	if cfg.Database.ReadPoolSize != 8 {
		t.Errorf("read_pool_size: got %d", cfg.Database.ReadPoolSize)
	}
	if len(cfg.CORS.AllowOrigins) != 1 || cfg.CORS.AllowOrigins[0] != "https://shop.example.com" {
		t.Errorf("cors: got %v", cfg.CORS.AllowOrigins)
	}
	if cfg.Storage.Type != "s3" || cfg.Storage.S3.Bucket != "analytics-backups" {
		t.Errorf("storage: got %+v", cfg.Storage)
	}
}

func TestLoadFromFile_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracklet.json")
	if err := os.WriteFile(path, []byte(`{"http":{"addr":":9000"},"log":{"mode":"prod"}}`), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if cfg.HTTP.Addr != ":9000" || cfg.Log.Mode != "prod" {
		t.Errorf("got addr=%q mode=%q", cfg.HTTP.Addr, cfg.Log.Mode)
	}
}

func TestLoadFromFile_UnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracklet.toml")
	if err := os.WriteFile(path, []byte(""), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	if _, err := LoadFromFile(path); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("TRACKLET_HTTP_ADDR", ":7000")
	t.Setenv("TRACKLET_DB_PATH", "/tmp/events.db")
	t.Setenv("TRACKLET_DB_BUSY_TIMEOUT", "250ms")
	t.Setenv("TRACKLET_DB_READ_POOL_SIZE", "2")
	t.Setenv("TRACKLET_CORS_ALLOW_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("TRACKLET_S3_USE_PATH_STYLE", "1")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	if cfg.HTTP.Addr != ":7000" {
		t.Errorf("addr: got %q", cfg.HTTP.Addr)
	}
	if cfg.Database.Path != "/tmp/events.db" {
		t.Errorf("db path: got %q", cfg.Database.Path)
	}
	if cfg.Database.BusyTimeout != 250*time.Millisecond {
		t.Errorf("busy timeout: got %v", cfg.Database.BusyTimeout)
	}
	if cfg.Database.ReadPoolSize != 2 {
		t.Errorf("read pool: got %d", cfg.Database.ReadPoolSize)
	}
	if len(cfg.CORS.AllowOrigins) != 2 || cfg.CORS.AllowOrigins[1] != "https://b.example" {
		t.Errorf("cors: got %v", cfg.CORS.AllowOrigins)
	}
	if !cfg.Storage.S3.UsePathStyle {
		t.Error("expected path-style addressing")
	}
}

func TestEnsureDirectories(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = filepath.Join(t.TempDir(), "nested", "data")
	cfg.Resolve()

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.DataDir, cfg.Storage.Path, cfg.Snapshot.WorkDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("expected directory %s to exist", dir)
		}
	}
}
