package cli

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/runnerr0/webchronicle/internal/config"
	"github.com/runnerr0/webchronicle/internal/storage"
)

// statusJSON is the JSON output structure for the status command.
type statusJSON struct {
	Version           string              `json:"version"`
	DatabasePath      string              `json:"database_path"`
	DatabaseSizeBytes int64               `json:"database_size_bytes"`
	TotalSessions     int64               `json:"total_sessions"`
	OpenSessions      int64               `json:"open_sessions"`
	TotalInteractions int64               `json:"total_interactions"`
	TotalSites        int64               `json:"total_sites"`
	OldestSession     string              `json:"oldest_session,omitempty"`
	NewestSession     string              `json:"newest_session,omitempty"`
	RetentionDays     int                 `json:"retention_days"`
	TopSites          []storage.SiteCount `json:"top_sites"`
	ServerAddr        string              `json:"server_addr"`
	ServerRunning     bool                `json:"server_running"`
	Connections       int64               `json:"connections"`
}

// serverHealth is what /healthz reports.
type serverHealth struct {
	OK          bool  `json:"ok"`
	Connections int64 `json:"connections"`
}

// Execute implements the go-flags Commander interface for StatusCommand.
func (c *StatusCommand) Execute(args []string) error {
	return withStore(c.globals, c.executeWithStore)
}

// executeWithStore runs status against a provided store and db (for testing).
func (c *StatusCommand) executeWithStore(cfg *config.Config, store *storage.SQLiteStore, db *sql.DB, dbPath string) error {
	ctx := context.Background()

	stats, err := store.GetStats(ctx)
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}

	dbSize := getDatabaseSize(db, dbPath)
	health, running := checkServer(cfg.Server.Addr())

	if c.globals != nil && c.globals.JSON {
		return c.printStatusJSON(cfg, stats, dbPath, dbSize, health, running)
	}
	return c.printStatusHuman(cfg, stats, dbPath, dbSize, health, running)
}

func (c *StatusCommand) printStatusHuman(cfg *config.Config, stats *storage.Stats, dbPath string, dbSize int64, health serverHealth, running bool) error {
	fmt.Println("webchronicle Status")
	fmt.Println("===================")
	fmt.Printf("Version:       %s\n", c.version)
	fmt.Printf("Database:      %s (%s)\n", dbPath, formatBytes(dbSize))
	fmt.Printf("Sessions:      %s (%s open)\n", formatNumber(stats.TotalSessions), formatNumber(stats.OpenSessions))
	fmt.Printf("Interactions:  %s\n", formatNumber(stats.TotalInteractions))
	fmt.Printf("Sites:         %s\n", formatNumber(stats.TotalSites))

	if stats.TotalSessions > 0 {
		fmt.Printf("Oldest:        %s\n", stats.OldestSession.Local().Format("2006-01-02"))
		fmt.Printf("Newest:        %s\n", stats.NewestSession.Local().Format("2006-01-02"))
	}

	fmt.Printf("Retention:     %d days\n", cfg.Retention.Days)

	if len(stats.TopSites) > 0 {
		fmt.Println()
		fmt.Println("Top Sites:")
		for _, s := range stats.TopSites {
			fmt.Printf("  %-40s %s\n", s.URL, formatNumber(s.Count))
		}
	}

	fmt.Println()
	if running {
		fmt.Printf("Server:        running on %s (%d connections)\n", cfg.Server.Addr(), health.Connections)
	} else {
		fmt.Printf("Server:        not running (%s)\n", cfg.Server.Addr())
	}

	return nil
}

func (c *StatusCommand) printStatusJSON(cfg *config.Config, stats *storage.Stats, dbPath string, dbSize int64, health serverHealth, running bool) error {
	out := statusJSON{
		Version:           c.version,
		DatabasePath:      dbPath,
		DatabaseSizeBytes: dbSize,
		TotalSessions:     stats.TotalSessions,
		OpenSessions:      stats.OpenSessions,
		TotalInteractions: stats.TotalInteractions,
		TotalSites:        stats.TotalSites,
		RetentionDays:     cfg.Retention.Days,
		TopSites:          stats.TopSites,
		ServerAddr:        cfg.Server.Addr(),
		ServerRunning:     running,
		Connections:       health.Connections,
	}
	if out.TopSites == nil {
		out.TopSites = []storage.SiteCount{}
	}

	if stats.TotalSessions > 0 {
		out.OldestSession = stats.OldestSession.UTC().Format(time.RFC3339)
		out.NewestSession = stats.NewestSession.UTC().Format(time.RFC3339)
	}

	return printJSON(out)
}

// getDatabaseSize returns the database file size in bytes.
// For on-disk databases, it uses os.Stat. Otherwise it queries
// page_count * page_size.
func getDatabaseSize(db *sql.DB, dbPath string) int64 {
	if info, err := os.Stat(dbPath); err == nil {
		return info.Size()
	}

	var pageCount, pageSize int64
	if err := db.QueryRow("PRAGMA page_count").Scan(&pageCount); err != nil {
		return 0
	}
	if err := db.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0
	}
	return pageCount * pageSize
}

// checkServer asks a running server for its health. It reports false when
// nothing answers within a second.
func checkServer(addr string) (serverHealth, bool) {
	client := &http.Client{Timeout: 1 * time.Second}
	resp, err := client.Get("http://" + addr + "/healthz")
	if err != nil {
		return serverHealth{}, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return serverHealth{}, false
	}

	var h serverHealth
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return serverHealth{}, false
	}
	return h, h.OK
}

// formatBytes formats a byte count into a human-readable string.
func formatBytes(b int64) string {
	switch {
	case b >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(1<<30))
	case b >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// formatNumber formats an int64 with comma separators.
func formatNumber(n int64) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}

	var result strings.Builder
	remainder := len(s) % 3
	if remainder > 0 {
		result.WriteString(s[:remainder])
	}
	for i := remainder; i < len(s); i += 3 {
		if i > 0 {
			result.WriteString(",")
		}
		result.WriteString(s[i : i+3])
	}
	return result.String()
}
