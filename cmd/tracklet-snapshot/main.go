// Package main implements tracklet-snapshot, which copies the event database
// to object storage and restores it.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tracklet/tracklet/internal/config"
	"github.com/tracklet/tracklet/internal/platform/logger"
	"github.com/tracklet/tracklet/internal/schema"
	"github.com/tracklet/tracklet/internal/snapshot"
	"github.com/tracklet/tracklet/internal/storage"
	"github.com/tracklet/tracklet/internal/store"
)

func main() {
	var (
		configFile string
		dataDir    string
		dbPath     string
		restoreID  string
		dest       string
		list       bool
		keep       int
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for all data files")
	flag.StringVar(&dbPath, "db-path", "", "SQLite database file")
	flag.StringVar(&restoreID, "restore", "", "Restore the snapshot with this id instead of creating one")
	flag.StringVar(&dest, "dest", "", "Restore target (default: the configured database path)")
	flag.BoolVar(&list, "list", false, "List snapshots, newest first")
	flag.IntVar(&keep, "keep", -1, "After creating, delete all but the newest N snapshots")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "tracklet-snapshot - snapshot the Tracklet event database\n\n")
		fmt.Fprintf(os.Stderr, "Usage: tracklet-snapshot [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  tracklet-snapshot --data-dir /var/lib/tracklet --keep 7\n")
		fmt.Fprintf(os.Stderr, "  tracklet-snapshot --list\n")
		fmt.Fprintf(os.Stderr, "  tracklet-snapshot --restore <id> --dest /tmp/tracklet.db\n")
	}
	flag.Parse()

	cfg, err := loadConfig(configFile, dataDir, dbPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	lg, err := logger.New(cfg.Log.Mode)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer lg.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	objects, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		lg.Fatal("Failed to initialize storage", "type", cfg.Storage.Type, "error", err)
	}

	switch {
	case list:
		err = runList(ctx, snapshot.NewManager(nil, objects, cfg.Snapshot.Prefix, cfg.Snapshot.WorkDir, lg))
	case restoreID != "":
		if dest == "" {
			dest = cfg.Database.Path
		}
		mgr := snapshot.NewManager(nil, objects, cfg.Snapshot.Prefix, cfg.Snapshot.WorkDir, lg)
		_, err = mgr.Restore(ctx, restoreID, dest)
	default:
		err = runCreate(ctx, cfg, objects, keep, lg)
	}
	if err != nil {
		lg.Error("Snapshot command failed", "error", err)
		lg.Sync()
		os.Exit(1)
	}
}

func runCreate(ctx context.Context, cfg *config.Config, objects storage.ObjectStorage, keep int, lg *logger.Logger) error {
	exists, err := schema.Exists(cfg.Database.Path)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("database %s does not exist", cfg.Database.Path)
	}

	st, err := store.Open(ctx, store.Config{
		Path:        cfg.Database.Path,
		BusyTimeout: cfg.Database.BusyTimeout,
	}, lg)
	if err != nil {
		return err
	}
	defer st.Close()

	mgr := snapshot.NewManager(st, objects, cfg.Snapshot.Prefix, cfg.Snapshot.WorkDir, lg)
	meta, err := mgr.Create(ctx)
	if err != nil {
		return err
	}
	fmt.Println(meta.SnapshotID)

	if keep >= 0 {
		if _, err := mgr.Prune(ctx, keep); err != nil {
			return err
		}
	}
	return nil
}

func runList(ctx context.Context, mgr *snapshot.Manager) error {
	metas, err := mgr.List(ctx)
	if err != nil {
		return err
	}
	for _, m := range metas {
		fmt.Printf("%s\t%s\t%d\t%d\n",
			m.SnapshotID,
			time.UnixMilli(m.CreatedAt).UTC().Format(time.RFC3339),
			m.SizeBytes,
			m.CompressedBytes,
		)
	}
	return nil
}

func loadConfig(configFile, dataDir, dbPath string) (*config.Config, error) {
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
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}

	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	return cfg, nil
}
