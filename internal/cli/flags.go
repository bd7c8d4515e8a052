package cli

import (
	"io"

	"github.com/benbjohnson/clock"
)

// GlobalFlags holds flags available to all subcommands.
type GlobalFlags struct {
	Config  string `long:"config" description:"Path to config file" default:""`
	JSON    bool   `long:"json" description:"Output in JSON format"`
	Verbose bool   `long:"verbose" description:"Enable verbose output"`
	Version bool   `long:"version" description:"Show version and exit"`
}

// ServeCommand — run the websocket ingestion server.
type ServeCommand struct {
	Host      string `long:"host" description:"Override listen host"`
	Port      int    `long:"port" description:"Override listen port"`
	DB        string `long:"db" description:"Override database file path"`
	LogLevel  string `long:"log-level" description:"Override log level"`
	LogFormat string `long:"log-format" description:"Override log format: console | json"`

	globals *GlobalFlags
	version string
}

// StatusCommand — show database statistics and whether the server is up.
type StatusCommand struct {
	globals *GlobalFlags
	version string
}

// SessionsCommand — list recorded sessions, newest first.
type SessionsCommand struct {
	Site   string `long:"site" description:"Only sessions that visited this URL"`
	Limit  int    `long:"limit" description:"Maximum results" default:"20"`
	Offset int    `long:"offset" description:"Skip first N results" default:"0"`

	globals *GlobalFlags
	version string
}

// EventsCommand — print the interactions of one session.
type EventsCommand struct {
	Session string `long:"session" description:"Session ID (required)"`

	globals *GlobalFlags
	version string
}

// SitesCommand — list visited sites by visit count.
type SitesCommand struct {
	Limit int `long:"limit" description:"Maximum results" default:"20"`

	globals *GlobalFlags
	version string
}

// PruneCommand — delete closed sessions past the retention period.
type PruneCommand struct {
	OlderThan string `long:"older-than" description:"Override retention period (e.g., 30d)"`
	DryRun    bool   `long:"dry-run" description:"Show what would be pruned without deleting"`

	globals *GlobalFlags
	version string
	clock   clock.Clock // nil means wall clock
}

// PurgeCommand — delete ALL recorded data with safety confirmation.
type PurgeCommand struct {
	All   bool `long:"all" description:"Required flag to confirm purge intent"`
	Force bool `long:"force" description:"Skip safety confirmation prompt"`

	globals *GlobalFlags
	version string
	input   io.Reader // confirmation source; nil means stdin
}
