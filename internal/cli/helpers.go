package cli

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/runnerr0/webchronicle/internal/config"
	"github.com/runnerr0/webchronicle/internal/storage"
)

// loadConfig reads the file named by --config, or the default config file,
// which is created with defaults on first use.
func loadConfig(globals *GlobalFlags) (*config.Config, error) {
	if globals != nil && globals.Config != "" {
		return config.Load(globals.Config)
	}
	return config.LoadOrCreate()
}

// resolveDBPath returns override when set, else the configured database path.
func resolveDBPath(cfg *config.Config, override string) (string, error) {
	if override != "" {
		return filepath.Abs(override)
	}
	return cfg.Storage.DatabasePath()
}

// openStore opens the configured database, applies migrations, and returns
// a ready-to-use store together with the underlying *sql.DB.
func openStore(ctx context.Context, cfg *config.Config, dbPath string) (*storage.SQLiteStore, *sql.DB, error) {
	db, err := storage.Open(ctx, dbPath, storage.OpenOptions{
		JournalMode:   cfg.Storage.SQLiteJournalMode,
		BusyTimeoutMS: cfg.Storage.BusyTimeoutMS,
	})
	if err != nil {
		return nil, nil, err
	}

	store, err := storage.NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("init store: %w", err)
	}
	return store, db, nil
}

// withStore loads configuration, opens the database and runs fn.
func withStore(globals *GlobalFlags, fn func(cfg *config.Config, store *storage.SQLiteStore, db *sql.DB, dbPath string) error) error {
	cfg, err := loadConfig(globals)
	if err != nil {
		return err
	}
	dbPath, err := resolveDBPath(cfg, "")
	if err != nil {
		return fmt.Errorf("resolve db path: %w", err)
	}

	store, db, err := openStore(context.Background(), cfg, dbPath)
	if err != nil {
		return err
	}
	defer db.Close()
	defer store.Close()

	return fn(cfg, store, db, dbPath)
}

// parseDuration parses a human-friendly duration string like "30d", "7d", "24h", "2w".
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("invalid duration: empty string")
	}

	if len(s) < 2 {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}

	suffix := s[len(s)-1]
	numStr := s[:len(s)-1]

	n, err := strconv.Atoi(numStr)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}

	switch suffix {
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	case 'm':
		return time.Duration(n) * time.Minute, nil
	default:
		return 0, fmt.Errorf("invalid duration: %q (use d, h, w, or m suffix)", s)
	}
}

// formatDurationHuman formats a duration into a human-readable string like "30 days".
func formatDurationHuman(d time.Duration) string {
	days := int(d.Hours() / 24)
	if days > 0 {
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}
	hours := int(d.Hours())
	if hours > 0 {
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}
	return d.String()
}

func formatLocal(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04:05")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
