package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/webchronicle/internal/storage"
)

// setupPruneTest records closed sessions 60 days old, closed sessions one
// hour old and one open session 60 days old, and returns a PruneCommand
// whose clock sits at "now".
func setupPruneTest(t *testing.T, oldCount, recentCount int) (*PruneCommand, *storage.SQLiteStore) {
	t.Helper()
	store, _, _ := openTestStore(t)
	ctx := context.Background()

	now := t0.Add(90 * 24 * time.Hour)
	mock := clock.NewMock()
	mock.Set(now)

	add := func(id string, start time.Time, closed bool) {
		require.NoError(t, store.CreateSession(ctx, &storage.Session{ID: id, StartTime: start}))
		require.NoError(t, store.InsertInteractions(ctx, []storage.Interaction{
			{Type: "click", Details: []byte(`{}`), SessionID: id},
		}))
		_, err := store.RecordVisit(ctx, "https://kept.example", id, start)
		require.NoError(t, err)
		if closed {
			require.NoError(t, store.EndSession(ctx, id, start.Add(time.Minute)))
		}
	}
	for i := 0; i < oldCount; i++ {
		add(fmt.Sprintf("old-%d", i), now.Add(-60*24*time.Hour), true)
	}
	for i := 0; i < recentCount; i++ {
		add(fmt.Sprintf("recent-%d", i), now.Add(-time.Hour), true)
	}
	add("old-open", now.Add(-60*24*time.Hour), false)

	cmd := &PruneCommand{globals: &GlobalFlags{}, clock: mock}
	return cmd, store
}

func sessionCount(t *testing.T, store *storage.SQLiteStore) int {
	t.Helper()
	sessions, err := store.ListSessions(context.Background(), storage.SessionQuery{Limit: 1000})
	require.NoError(t, err)
	return len(sessions)
}

func TestPrune_DeletesClosedSessionsPastRetention(t *testing.T) {
	cmd, store := setupPruneTest(t, 3, 2)

	output := captureOutput(t, func() {
		require.NoError(t, cmd.executeWithStore(store, 30))
	})

	assert.Contains(t, output, "Pruned 3 sessions older than 30 days")
	assert.Equal(t, 3, sessionCount(t, store), "recent and open sessions remain")

	_, err := store.GetSession(context.Background(), "old-open")
	assert.NoError(t, err)

	site, err := store.GetVisitedSite(context.Background(), "https://kept.example")
	require.NoError(t, err)
	assert.EqualValues(t, 6, site.VisitCount, "site aggregates survive pruning")
}

func TestPrune_DryRunDeletesNothing(t *testing.T) {
	cmd, store := setupPruneTest(t, 2, 1)
	cmd.DryRun = true

	output := captureOutput(t, func() {
		require.NoError(t, cmd.executeWithStore(store, 30))
	})

	assert.Contains(t, output, "Would prune 2 sessions older than 30 days")
	assert.Equal(t, 4, sessionCount(t, store))
}

func TestPrune_OlderThanOverridesRetention(t *testing.T) {
	cmd, store := setupPruneTest(t, 1, 2)
	cmd.OlderThan = "30m"

	output := captureOutput(t, func() {
		require.NoError(t, cmd.executeWithStore(store, 90))
	})

	assert.Contains(t, output, "Pruned 3 sessions")
	assert.Equal(t, 1, sessionCount(t, store))
}

func TestPrune_SingularNoun(t *testing.T) {
	cmd, store := setupPruneTest(t, 1, 0)

	output := captureOutput(t, func() {
		require.NoError(t, cmd.executeWithStore(store, 30))
	})
	assert.Contains(t, output, "Pruned 1 session older")
}

func TestPrune_JSONOutput(t *testing.T) {
	cmd, store := setupPruneTest(t, 2, 0)
	cmd.globals.JSON = true
	cmd.DryRun = true

	output := captureOutput(t, func() {
		require.NoError(t, cmd.executeWithStore(store, 30))
	})

	var out pruneJSON
	require.NoError(t, json.Unmarshal([]byte(output), &out))
	assert.True(t, out.DryRun)
	assert.EqualValues(t, 2, out.Sessions)
	assert.Equal(t, "30 days", out.Retention)
	assert.Equal(t, t0.Add(60*24*time.Hour).Format(time.RFC3339), out.Cutoff)
}

func TestPrune_InvalidOlderThan(t *testing.T) {
	cmd, store := setupPruneTest(t, 0, 0)
	cmd.OlderThan = "soon"

	err := cmd.executeWithStore(store, 30)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --older-than")
}

func TestPrune_ZeroRetentionRejected(t *testing.T) {
	cmd, store := setupPruneTest(t, 0, 0)
	err := cmd.executeWithStore(store, 0)
	require.Error(t, err)
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"30d", 30 * 24 * time.Hour, false},
		{"24h", 24 * time.Hour, false},
		{"2w", 14 * 24 * time.Hour, false},
		{"90m", 90 * time.Minute, false},
		{"", 0, true},
		{"d", 0, true},
		{"5x", 0, true},
		{"-3d", 0, true},
		{"abcd", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseDuration(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatDurationHuman(t *testing.T) {
	assert.Equal(t, "1 day", formatDurationHuman(24*time.Hour))
	assert.Equal(t, "30 days", formatDurationHuman(30*24*time.Hour))
	assert.Equal(t, "1 hour", formatDurationHuman(time.Hour))
	assert.Equal(t, "5 hours", formatDurationHuman(5*time.Hour))
	assert.Equal(t, "30m0s", formatDurationHuman(30*time.Minute))
}
