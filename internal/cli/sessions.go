package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/runnerr0/webchronicle/internal/config"
	"github.com/runnerr0/webchronicle/internal/storage"
)

// Execute implements the go-flags Commander interface for SessionsCommand.
func (c *SessionsCommand) Execute(args []string) error {
	return withStore(c.globals, func(_ *config.Config, store *storage.SQLiteStore, _ *sql.DB, _ string) error {
		return c.executeWithStore(store)
	})
}

func (c *SessionsCommand) executeWithStore(store storage.Store) error {
	ctx := context.Background()

	q := storage.SessionQuery{Limit: c.Limit, Offset: c.Offset}
	if c.Site != "" {
		site, err := store.GetVisitedSite(ctx, c.Site)
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("site not visited: %s", c.Site)
		}
		if err != nil {
			return err
		}
		q.SiteID = site.ID
	}

	sessions, err := store.ListSessions(ctx, q)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	if c.globals != nil && c.globals.JSON {
		return printJSON(map[string]any{"count": len(sessions), "sessions": sessions})
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions recorded")
		return nil
	}

	fmt.Printf("%-38s %-19s  %-19s  %s\n", "SESSION", "STARTED", "ENDED", "WINDOW")
	for _, s := range sessions {
		ended := "open"
		if s.EndTime != nil {
			ended = formatLocal(*s.EndTime)
		}
		window := "-"
		if s.WindowWidth != nil && s.WindowHeight != nil {
			window = fmt.Sprintf("%dx%d", *s.WindowWidth, *s.WindowHeight)
		}
		fmt.Printf("%-38s %-19s  %-19s  %s\n", s.ID, formatLocal(s.StartTime), ended, window)
	}
	return nil
}
