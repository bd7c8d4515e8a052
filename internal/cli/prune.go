package cli

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/runnerr0/webchronicle/internal/config"
	"github.com/runnerr0/webchronicle/internal/storage"
)

// pruneJSON is the JSON output structure for the prune command.
type pruneJSON struct {
	DryRun    bool   `json:"dry_run"`
	Sessions  int64  `json:"sessions"`
	Cutoff    string `json:"cutoff"`
	Retention string `json:"retention"`
}

// Execute implements the go-flags Commander interface for PruneCommand.
func (c *PruneCommand) Execute(args []string) error {
	return withStore(c.globals, func(cfg *config.Config, store *storage.SQLiteStore, _ *sql.DB, _ string) error {
		return c.executeWithStore(store, cfg.Retention.Days)
	})
}

// executeWithStore prunes against a provided store (for testing).
func (c *PruneCommand) executeWithStore(store storage.Store, retentionDays int) error {
	retention := time.Duration(retentionDays) * 24 * time.Hour
	if c.OlderThan != "" {
		d, err := parseDuration(c.OlderThan)
		if err != nil {
			return fmt.Errorf("invalid --older-than value: %w", err)
		}
		retention = d
	}
	if retention <= 0 {
		return fmt.Errorf("retention period must be positive")
	}

	clk := c.clock
	if clk == nil {
		clk = clock.New()
	}
	cutoff := clk.Now().Add(-retention)

	ctx := context.Background()
	var n int64
	var err error
	if c.DryRun {
		n, err = store.CountPrunable(ctx, cutoff)
	} else {
		n, err = store.PruneSessions(ctx, cutoff)
	}
	if err != nil {
		return fmt.Errorf("prune failed: %w", err)
	}

	if c.globals != nil && c.globals.JSON {
		return printJSON(pruneJSON{
			DryRun:    c.DryRun,
			Sessions:  n,
			Cutoff:    cutoff.UTC().Format(time.RFC3339),
			Retention: formatDurationHuman(retention),
		})
	}

	noun := "sessions"
	if n == 1 {
		noun = "session"
	}
	if c.DryRun {
		fmt.Printf("Would prune %d %s older than %s (before %s)\n", n, noun, formatDurationHuman(retention), formatLocal(cutoff))
		return nil
	}
	fmt.Printf("Pruned %d %s older than %s\n", n, noun, formatDurationHuman(retention))
	return nil
}
