package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marcus/planforge/internal/config"
	"github.com/marcus/planforge/internal/db"
	"github.com/marcus/planforge/internal/logging"
	"github.com/marcus/planforge/internal/store"
)

// loadSnapshot finds and loads the configuration, honoring --config.
func loadSnapshot(cmd *cobra.Command) (*config.Snapshot, error) {
	explicit, _ := cmd.Flags().GetString("config")
	path, err := config.FindConfig(explicit)
	if err != nil {
		return nil, err
	}
	snap, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return snap, nil
}

// openStore opens the plan database configured in the snapshot.
// The caller owns the returned DB and must Close it.
func openStore(snap *config.Snapshot) (*store.Store, *db.DB, error) {
	path := snap.Settings.DBPath
	if path == "" {
		path = db.DefaultPath()
	}
	database, err := db.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open db: %w", err)
	}
	st, err := store.New(database)
	if err != nil {
		_ = database.Close()
		return nil, nil, err
	}
	return st, database, nil
}

// initLogging configures the global logger from the snapshot, with
// --verbose forcing debug level.
func initLogging(cmd *cobra.Command, snap *config.Snapshot) error {
	cfg := logging.DefaultConfig()
	if snap.Settings.Logging.Level != "" {
		cfg.Level = snap.Settings.Logging.Level
	}
	if snap.Settings.Logging.Path != "" {
		cfg.Path = snap.Settings.Logging.Path
	}
	if snap.Settings.Logging.Format != "" {
		cfg.Format = snap.Settings.Logging.Format
	}
	if snap.Settings.Logging.RetentionDays > 0 {
		cfg.RetentionDays = snap.Settings.Logging.RetentionDays
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.Level = "debug"
	}
	return logging.Init(cfg)
}

// resolveWorkDir returns the working directory for capability commands:
// the flag when set, the configured workdir otherwise, falling back to
// the current directory.
func resolveWorkDir(cmd *cobra.Command, snap *config.Snapshot) (string, error) {
	if dir, _ := cmd.Flags().GetString("work-dir"); dir != "" {
		return dir, nil
	}
	if snap.Settings.WorkDir != "" {
		return snap.Settings.WorkDir, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	return wd, nil
}
