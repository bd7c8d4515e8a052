package cli

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	goflags "github.com/jessevdk/go-flags"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/webchronicle/internal/config"
	"github.com/runnerr0/webchronicle/internal/storage"
)

var t0 = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

// captureOutput captures stdout during fn execution and returns it as a string.
func captureOutput(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	fn()

	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	return buf.String()
}

// openTestStore creates a migrated file-backed store in a temp dir.
func openTestStore(t *testing.T) (*storage.SQLiteStore, *sql.DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cli.db")
	store, db, err := openStore(context.Background(), config.DefaultConfig(), path)
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
		db.Close()
	})
	return store, db, path
}

// parseOnly builds a parser that records the matched command without
// executing it, so flag tests never touch the user's database.
func parseOnly(t *testing.T, args ...string) (*GlobalFlags, *commands, goflags.Commander) {
	t.Helper()
	parser, globals, cmds := buildParser("test")
	var matched goflags.Commander
	parser.CommandHandler = func(cmd goflags.Commander, _ []string) error {
		matched = cmd
		return nil
	}
	_, err := parser.ParseArgs(args)
	require.NoError(t, err)
	return globals, cmds, matched
}

// seedStore records two sessions with interactions and site visits.
func seedStore(t *testing.T, store *storage.SQLiteStore) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, store.CreateSession(ctx, &storage.Session{ID: "s-old", StartTime: t0}))
	require.NoError(t, store.EndSession(ctx, "s-old", t0.Add(time.Hour)))
	require.NoError(t, store.UpdateSessionWindow(ctx, "s-old", 1280, 800))
	require.NoError(t, store.CreateSession(ctx, &storage.Session{ID: "s-new", StartTime: t0.Add(24 * time.Hour)}))

	ts := t0.Add(time.Minute)
	require.NoError(t, store.InsertInteractions(ctx, []storage.Interaction{
		{Type: "click", Details: []byte(`{"x":1}`), Time: &ts, SessionID: "s-old"},
		{Type: "tab_updated", Details: []byte(`{"url":"https://a.com"}`), SessionID: "s-old"},
	}))

	for _, v := range []struct{ url, session string }{
		{"https://a.com", "s-old"},
		{"https://a.com", "s-new"},
		{"https://b.com", "s-new"},
	} {
		_, err := store.RecordVisit(ctx, v.url, v.session, ts)
		require.NoError(t, err)
	}
}
