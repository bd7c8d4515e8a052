package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/runnerr0/webchronicle/internal/config"
	"github.com/runnerr0/webchronicle/internal/storage"
)

// Execute implements the go-flags Commander interface for EventsCommand.
func (c *EventsCommand) Execute(args []string) error {
	if c.Session == "" && len(args) > 0 {
		c.Session = args[0]
	}
	if c.Session == "" {
		return fmt.Errorf("--session is required for events command")
	}

	return withStore(c.globals, func(_ *config.Config, store *storage.SQLiteStore, _ *sql.DB, _ string) error {
		return c.executeWithStore(store)
	})
}

func (c *EventsCommand) executeWithStore(store storage.Store) error {
	ctx := context.Background()

	sess, err := store.GetSession(ctx, c.Session)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("session not found: %s", c.Session)
	}
	if err != nil {
		return err
	}

	events, err := store.ListInteractions(ctx, sess.ID)
	if err != nil {
		return fmt.Errorf("list events: %w", err)
	}

	if c.globals != nil && c.globals.JSON {
		return printJSON(map[string]any{
			"session": sess,
			"count":   len(events),
			"events":  events,
		})
	}

	fmt.Printf("Session %s\n", sess.ID)
	fmt.Printf("Started:   %s\n", formatLocal(sess.StartTime))
	if sess.EndTime != nil {
		fmt.Printf("Ended:     %s\n", formatLocal(*sess.EndTime))
	} else {
		fmt.Println("Ended:     (open)")
	}
	fmt.Println()

	if len(events) == 0 {
		fmt.Println("No events recorded")
		return nil
	}

	for _, e := range events {
		ts := "-"
		if e.Time != nil {
			ts = formatLocal(*e.Time)
		}
		fmt.Printf("%-19s  %-20s %s\n", ts, e.Type, string(e.Details))
	}
	return nil
}
