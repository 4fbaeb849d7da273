// Package config provides configuration for the Tracklet collector and its tools.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the configuration for the collector and the snapshot tool.
type Config struct {
	// DataDir is the base directory for all data files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	HTTP     HTTPConfig     `json:"http" yaml:"http"`
	Database DatabaseConfig `json:"database" yaml:"database"`
	CORS     CORSConfig     `json:"cors" yaml:"cors"`
	Log      LogConfig      `json:"log" yaml:"log"`
	Storage  StorageConfig  `json:"storage" yaml:"storage"`
	Snapshot SnapshotConfig `json:"snapshot" yaml:"snapshot"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	// Addr is the listen address for the collector
	Addr string `json:"addr" yaml:"addr"`

	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout" yaml:"idle_timeout"`

	// ShutdownTimeout bounds graceful shutdown; DrainTimeout is the part of
	// it spent waiting for in-flight requests
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
	DrainTimeout    time.Duration `json:"drain_timeout" yaml:"drain_timeout"`
}

// DatabaseConfig holds event database configuration.
type DatabaseConfig struct {
	// Path is the SQLite file; defaults to <data_dir>/tracklet.db
	Path string `json:"path" yaml:"path"`

	// BusyTimeout is how long a writer waits on a locked database
	BusyTimeout time.Duration `json:"busy_timeout" yaml:"busy_timeout"`

	// ReadPoolSize bounds concurrent dashboard readers
	ReadPoolSize int `json:"read_pool_size" yaml:"read_pool_size"`

	// ResetSchema drops and recreates all tables at startup even if the file exists
	ResetSchema bool `json:"reset_schema" yaml:"reset_schema"`
}

// CORSConfig controls which browser origins may POST events.
type CORSConfig struct {
	AllowOrigins []string `json:"allow_origins" yaml:"allow_origins"`
}

// LogConfig selects the logger mode: dev or prod.
type LogConfig struct {
	Mode string `json:"mode" yaml:"mode"`
}

// StorageConfig holds object storage configuration for snapshots.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	Bucket       string `json:"bucket" yaml:"bucket"`
	Region       string `json:"region" yaml:"region"`
	Endpoint     string `json:"endpoint" yaml:"endpoint"`
	UsePathStyle bool   `json:"use_path_style" yaml:"use_path_style"`
}

// SnapshotConfig holds database snapshot configuration.
type SnapshotConfig struct {
	// Prefix is the object key prefix snapshots are uploaded under
	Prefix string `json:"prefix" yaml:"prefix"`

	// WorkDir holds temporary snapshot files before upload
	WorkDir string `json:"work_dir" yaml:"work_dir"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/tracklet",
		HTTP: HTTPConfig{
			Addr:         ":5000",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,

			ShutdownTimeout: 30 * time.Second,
			DrainTimeout:    15 * time.Second,
		},
		Database: DatabaseConfig{
			BusyTimeout:  5 * time.Second,
			ReadPoolSize: 4,
		},
		CORS: CORSConfig{
			AllowOrigins: []string{"*"},
		},
		Log: LogConfig{
			Mode: "dev",
		},
		Storage: StorageConfig{
			Type: "local",
		},
		Snapshot: SnapshotConfig{
			Prefix: "snapshots",
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/tracklet"
	}
	if c.Database.Path == "" {
		c.Database.Path = filepath.Join(c.DataDir, "tracklet.db")
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "storage")
	}
	if c.Snapshot.WorkDir == "" {
		c.Snapshot.WorkDir = filepath.Join(c.DataDir, "snapshots")
	}
	if c.Snapshot.Prefix == "" {
		c.Snapshot.Prefix = "snapshots"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}

	if c.HTTP.DrainTimeout > 0 && c.HTTP.ShutdownTimeout > 0 && c.HTTP.DrainTimeout > c.HTTP.ShutdownTimeout {
		return fmt.Errorf("http.drain_timeout (%v) must not exceed http.shutdown_timeout (%v)",
			c.HTTP.DrainTimeout, c.HTTP.ShutdownTimeout)
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Database.ReadPoolSize < 1 {
		return fmt.Errorf("database.read_pool_size must be at least 1, got %d", c.Database.ReadPoolSize)
	}

	if c.Database.BusyTimeout < 0 {
		return fmt.Errorf("database.busy_timeout must not be negative")
	}

	if len(c.CORS.AllowOrigins) == 0 {
		return fmt.Errorf("cors.allow_origins must not be empty")
	}

	if c.Storage.Type != "local" && c.Storage.Type != "s3" {
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}

	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the TRACKLET_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("TRACKLET_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	// HTTP configuration
	if v := os.Getenv("TRACKLET_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}

	// Database configuration
	if v := os.Getenv("TRACKLET_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("TRACKLET_DB_BUSY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Database.BusyTimeout = d
		}
	}
	if v := os.Getenv("TRACKLET_DB_READ_POOL_SIZE"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Database.ReadPoolSize)
	}

	if v := os.Getenv("TRACKLET_CORS_ALLOW_ORIGINS"); v != "" {
		cfg.CORS.AllowOrigins = splitList(v)
	}

	if v := os.Getenv("TRACKLET_LOG_MODE"); v != "" {
		cfg.Log.Mode = v
	}

	// Storage configuration
	if v := os.Getenv("TRACKLET_STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("TRACKLET_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("TRACKLET_S3_BUCKET"); v != "" {
		cfg.Storage.S3.Bucket = v
	}
	if v := os.Getenv("TRACKLET_S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := os.Getenv("TRACKLET_S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}
	if v := os.Getenv("TRACKLET_S3_USE_PATH_STYLE"); v != "" {
		cfg.Storage.S3.UsePathStyle = v == "true" || v == "1"
	}

	if v := os.Getenv("TRACKLET_SNAPSHOT_PREFIX"); v != "" {
		cfg.Snapshot.Prefix = v
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		filepath.Dir(c.Database.Path),
		c.Snapshot.WorkDir,
	}
	if c.Storage.Type == "local" {
		dirs = append(dirs, c.Storage.Path)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
