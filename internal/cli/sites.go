package cli

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/runnerr0/webchronicle/internal/config"
	"github.com/runnerr0/webchronicle/internal/storage"
)

// Execute implements the go-flags Commander interface for SitesCommand.
func (c *SitesCommand) Execute(args []string) error {
	return withStore(c.globals, func(_ *config.Config, store *storage.SQLiteStore, _ *sql.DB, _ string) error {
		return c.executeWithStore(store)
	})
}

func (c *SitesCommand) executeWithStore(store storage.Store) error {
	sites, err := store.ListVisitedSites(context.Background(), c.Limit)
	if err != nil {
		return fmt.Errorf("list sites: %w", err)
	}

	if c.globals != nil && c.globals.JSON {
		return printJSON(map[string]any{"count": len(sites), "sites": sites})
	}

	if len(sites) == 0 {
		fmt.Println("No sites visited")
		return nil
	}

	for i, s := range sites {
		fmt.Printf("%d. %s\n", i+1, s.URL)
		fmt.Printf("   %s visits · first %s · last %s\n",
			formatNumber(s.VisitCount), formatLocal(s.FirstVisit), formatLocal(s.LastVisit))
	}
	return nil
}
