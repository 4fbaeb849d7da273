// Package main implements the tracklet collector binary: the /track endpoint,
// the dashboard and the SQLite event store in one process.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tracklet/tracklet/internal/app"
	"github.com/tracklet/tracklet/internal/config"
	"github.com/tracklet/tracklet/internal/platform/logger"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile  string
		dataDir     string
		httpAddr    string
		dbPath      string
		resetSchema bool
		showVersion bool
		showHelp    bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for all data files")
	flag.StringVar(&httpAddr, "http-addr", "", "HTTP listen address")
	flag.StringVar(&dbPath, "db-path", "", "SQLite database file")
	flag.BoolVar(&resetSchema, "reset-schema", false, "Drop and recreate all tables at startup")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showHelp, "help", false, "Show help message")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Tracklet - web analytics event collector\n\n")
		fmt.Fprintf(os.Stderr, "Usage: tracklet [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  tracklet --data-dir /var/lib/tracklet\n")
		fmt.Fprintf(os.Stderr, "  tracklet --config /etc/tracklet/config.yaml\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  TRACKLET_DATA_DIR            Base directory for data files\n")
		fmt.Fprintf(os.Stderr, "  TRACKLET_HTTP_ADDR           HTTP listen address\n")
		fmt.Fprintf(os.Stderr, "  TRACKLET_DB_PATH             SQLite database file\n")
		fmt.Fprintf(os.Stderr, "  TRACKLET_CORS_ALLOW_ORIGINS  Comma separated allowed origins\n")
		fmt.Fprintf(os.Stderr, "  TRACKLET_LOG_MODE            Logger mode (dev, prod)\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if showVersion {
		fmt.Printf("tracklet version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	cfg, err := loadConfig(configFile, dataDir, httpAddr, dbPath, resetSchema)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	lg, err := logger.New(cfg.Log.Mode)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer lg.Sync()

	if isProduction(cfg.Log.Mode) {
		gin.SetMode(gin.ReleaseMode)
	}

	application, err := app.New(cfg, lg)
	if err != nil {
		lg.Fatal("Failed to create application", "error", err)
	}

	lg.Info("Starting tracklet",
		"version", version,
		"addr", cfg.HTTP.Addr,
		"data_dir", cfg.DataDir,
		"database", cfg.Database.Path,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		lg.Fatal("Failed to start application", "error", err)
	}

	if err := application.WaitForShutdown(ctx); err != nil {
		lg.Error("Shutdown error", "error", err)
		lg.Sync()
		os.Exit(1)
	}
	lg.Info("Tracklet stopped")
}

// loadConfig layers defaults or a config file, then the environment, then flags.
func loadConfig(configFile, dataDir, httpAddr, dbPath string, resetSchema bool) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	config.LoadFromEnv(cfg)

	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if httpAddr != "" {
		cfg.HTTP.Addr = httpAddr
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if resetSchema {
		cfg.Database.ResetSchema = true
	}

	return cfg, nil
}

func isProduction(mode string) bool {
	switch strings.ToLower(mode) {
	case "prod", "production":
		return true
	}
	return false
}
