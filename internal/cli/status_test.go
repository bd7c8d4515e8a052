package cli

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/webchronicle/internal/config"
)

// unreachableConfig points the server address at a port nothing listens on.
func unreachableConfig(t *testing.T) *config.Config {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	cfg := config.DefaultConfig()
	cfg.Server.Port = port
	return cfg
}

func TestStatus_EmptyDB(t *testing.T) {
	store, db, path := openTestStore(t)
	cmd := &StatusCommand{globals: &GlobalFlags{}, version: "dev"}

	output := captureOutput(t, func() {
		require.NoError(t, cmd.executeWithStore(unreachableConfig(t), store, db, path))
	})

	assert.Contains(t, output, "webchronicle Status")
	assert.Contains(t, output, "Version:       dev")
	assert.Contains(t, output, "Sessions:      0 (0 open)")
	assert.Contains(t, output, "Retention:     90 days")
	assert.Contains(t, output, "Server:        not running")
	assert.NotContains(t, output, "Oldest:")
}

func TestStatus_WithData(t *testing.T) {
	store, db, path := openTestStore(t)
	seedStore(t, store)
	cmd := &StatusCommand{globals: &GlobalFlags{}, version: "dev"}

	output := captureOutput(t, func() {
		require.NoError(t, cmd.executeWithStore(unreachableConfig(t), store, db, path))
	})

	assert.Contains(t, output, "Sessions:      2 (1 open)")
	assert.Contains(t, output, "Interactions:  2")
	assert.Contains(t, output, "Sites:         2")
	assert.Contains(t, output, "Oldest:        ")
	assert.Contains(t, output, "Top Sites:")
	assert.Contains(t, output, "https://a.com")
}

func TestStatus_JSONWithRunningServer(t *testing.T) {
	store, db, path := openTestStore(t)
	seedStore(t, store)

	health := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/healthz", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"connections":3}`))
	}))
	defer health.Close()

	host, portStr, err := net.SplitHostPort(health.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.Server.Host = host
	cfg.Server.Port = port

	cmd := &StatusCommand{globals: &GlobalFlags{JSON: true}, version: "1.0.0"}
	output := captureOutput(t, func() {
		require.NoError(t, cmd.executeWithStore(cfg, store, db, path))
	})

	var out statusJSON
	require.NoError(t, json.Unmarshal([]byte(output), &out))
	assert.Equal(t, "1.0.0", out.Version)
	assert.Equal(t, path, out.DatabasePath)
	assert.Positive(t, out.DatabaseSizeBytes)
	assert.EqualValues(t, 2, out.TotalSessions)
	assert.EqualValues(t, 1, out.OpenSessions)
	assert.EqualValues(t, 2, out.TotalInteractions)
	assert.EqualValues(t, 2, out.TotalSites)
	assert.Equal(t, "2025-01-01T12:00:00Z", out.OldestSession)
	assert.True(t, out.ServerRunning)
	assert.EqualValues(t, 3, out.Connections)
	require.Len(t, out.TopSites, 2)
	assert.Equal(t, "https://a.com", out.TopSites[0].URL)
}

func TestStatus_JSONEmptyTopSitesIsArray(t *testing.T) {
	store, db, path := openTestStore(t)
	cmd := &StatusCommand{globals: &GlobalFlags{JSON: true}, version: "dev"}

	output := captureOutput(t, func() {
		require.NoError(t, cmd.executeWithStore(unreachableConfig(t), store, db, path))
	})
	assert.Contains(t, output, `"top_sites": []`)
	assert.NotContains(t, output, "oldest_session")
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{2048, "2.0 KB"},
		{5 << 20, "5.0 MB"},
		{3 << 30, "3.0 GB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatBytes(tt.in))
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{12345, "12,345"},
		{123456, "123,456"},
		{1234567, "1,234,567"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatNumber(tt.in))
	}
}
