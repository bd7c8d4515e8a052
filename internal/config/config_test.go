package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 5000, cfg.Server.Port)
	assert.Equal(t, "/ws", cfg.Server.WSPath)
	assert.Equal(t, int64(1<<20), cfg.Server.ReadLimitBytes)
	assert.Equal(t, 5, cfg.Server.ShutdownTimeoutSeconds)
	assert.Equal(t, "~/.config/webchronicle", cfg.Storage.Path)
	assert.Equal(t, "webchronicle.db", cfg.Storage.SQLiteFile)
	assert.Equal(t, "wal", cfg.Storage.SQLiteJournalMode)
	assert.Equal(t, 5000, cfg.Storage.BusyTimeoutMS)
	assert.Equal(t, 10, cfg.Ingest.FlushThreshold)
	assert.True(t, cfg.Ingest.FlushOnSessionEnd)
	assert.True(t, cfg.Ingest.FlushOnClose)
	assert.Equal(t, 480, cfg.Ingest.DefaultWindowWidth)
	assert.Equal(t, 360, cfg.Ingest.DefaultWindowHeight)
	assert.Equal(t, 3, cfg.Ingest.VisitRetries)
	assert.Equal(t, 90, cfg.Retention.Days)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Empty(t, cfg.Logging.File)

	require.NoError(t, cfg.Validate())
}

func TestServerAddr(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "127.0.0.1:5000", cfg.Server.Addr())
}

func TestDatabasePathExpandsHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	path, err := DefaultConfig().Storage.DatabasePath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".config", "webchronicle", "webchronicle.db"), path)

	abs := StorageConfig{Path: "/var/lib/wc", SQLiteFile: "x.db"}
	path, err = abs.DatabasePath()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/wc/x.db", path)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"port zero", func(c *Config) { c.Server.Port = 0 }},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }},
		{"relative ws path", func(c *Config) { c.Server.WSPath = "ws" }},
		{"empty sqlite file", func(c *Config) { c.Storage.SQLiteFile = "" }},
		{"zero flush threshold", func(c *Config) { c.Ingest.FlushThreshold = 0 }},
		{"zero visit retries", func(c *Config) { c.Ingest.VisitRetries = 0 }},
		{"unknown log format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadValidYAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yamlContent := `
server:
  port: 9999
  origin_patterns:
    - "localhost:*"
ingest:
  flush_threshold: 25
  flush_on_close: false
retention:
  days: 14
logging:
  level: "debug"
  format: "json"
`
	err := os.WriteFile(cfgPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(cfgPath)
	require.NoError(t, err)

	// Overridden values
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, []string{"localhost:*"}, cfg.Server.OriginPatterns)
	assert.Equal(t, 25, cfg.Ingest.FlushThreshold)
	assert.False(t, cfg.Ingest.FlushOnClose)
	assert.Equal(t, 14, cfg.Retention.Days)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	// Non-overridden values remain defaults
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.True(t, cfg.Ingest.FlushOnSessionEnd)
	assert.Equal(t, 480, cfg.Ingest.DefaultWindowWidth)
	assert.Equal(t, "~/.config/webchronicle", cfg.Storage.Path)
}

func TestLoadInvalidYAMLReturnsError(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	err := os.WriteFile(cfgPath, []byte(":::not valid yaml{{{"), 0644)
	require.NoError(t, err)

	_, err = Load(cfgPath)
	assert.Error(t, err)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	err := os.WriteFile(cfgPath, []byte("ingest:\n  flush_threshold: 0\n"), 0644)
	require.NoError(t, err)

	_, err = Load(cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flush_threshold")
}

func TestLoadNonExistentFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing", "config.yaml"))
	assert.Error(t, err)
}

func TestLoadOrCreateCreatesDefaultsWhenMissing(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "sub", "deep", "config.yaml")

	cfg, err := LoadOrCreateAt(cfgPath)
	require.NoError(t, err)

	// Should return defaults
	assert.Equal(t, 90, cfg.Retention.Days)
	assert.Equal(t, 10, cfg.Ingest.FlushThreshold)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)

	// File should now exist on disk
	_, statErr := os.Stat(cfgPath)
	assert.NoError(t, statErr)

	// File should be valid YAML loadable again
	cfg2, err := Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, cfg, cfg2)
}

func TestLoadOrCreateLoadsExistingFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yamlContent := `
retention:
  days: 7
`
	err := os.WriteFile(cfgPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	cfg, err := LoadOrCreateAt(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Retention.Days)
	// Other fields remain defaults
	assert.Equal(t, 5000, cfg.Server.Port)
}
