package cli

import (
	"errors"
	"fmt"
	"os"

	goflags "github.com/jessevdk/go-flags"
)

// commands holds references to all subcommand structs for inspection/testing.
type commands struct {
	Serve    *ServeCommand
	Status   *StatusCommand
	Sessions *SessionsCommand
	Events   *EventsCommand
	Sites    *SitesCommand
	Prune    *PruneCommand
	Purge    *PurgeCommand
}

// buildParser constructs the go-flags parser with all subcommands registered.
func buildParser(version string) (*goflags.Parser, *GlobalFlags, *commands) {
	var globals GlobalFlags

	parser := goflags.NewParser(&globals, goflags.Default)
	parser.Name = "webchronicle"
	parser.LongDescription = "Local collector for browser session telemetry sent by the webchronicle extension."

	cmds := &commands{
		Serve:    &ServeCommand{globals: &globals, version: version},
		Status:   &StatusCommand{globals: &globals, version: version},
		Sessions: &SessionsCommand{globals: &globals, version: version},
		Events:   &EventsCommand{globals: &globals, version: version},
		Sites:    &SitesCommand{globals: &globals, version: version},
		Prune:    &PruneCommand{globals: &globals, version: version},
		Purge:    &PurgeCommand{globals: &globals, version: version},
	}

	parser.AddCommand("serve", "Run the ingestion server", "Accept extension connections over websocket and record sessions, interactions and visited sites.", cmds.Serve)
	parser.AddCommand("status", "Show database statistics", "Show database statistics, server health and configuration summary.", cmds.Status)
	parser.AddCommand("sessions", "List recorded sessions", "List recorded sessions, newest first, optionally only those that visited a site.", cmds.Sessions)
	parser.AddCommand("events", "Print the interactions of a session", "Print every recorded interaction of one session in arrival order.", cmds.Events)
	parser.AddCommand("sites", "List visited sites", "List visited sites ordered by visit count.", cmds.Sites)
	parser.AddCommand("prune", "Apply retention pruning", "Delete closed sessions older than the retention period.", cmds.Prune)
	parser.AddCommand("purge", "Delete ALL recorded data", "Delete ALL recorded data. Destructive operation with safety prompt.", cmds.Purge)

	return parser, &globals, cmds
}

// Run is the main entry point for the CLI using os.Args.
func Run(version string) error {
	return RunWithArgs(version, nil)
}

// RunWithArgs parses the given args (or os.Args if nil) and executes the matched subcommand.
func RunWithArgs(version string, args []string) error {
	// Handle --version before parser (go-flags requires a subcommand, but
	// --version is valid without one).
	checkArgs := args
	if checkArgs == nil {
		checkArgs = os.Args[1:]
	}
	for _, arg := range checkArgs {
		if arg == "--version" {
			fmt.Printf("webchronicle %s\n", version)
			return nil
		}
		if arg == "--" {
			break
		}
	}

	parser, _, _ := buildParser(version)

	var err error
	if args != nil {
		_, err = parser.ParseArgs(args)
	} else {
		_, err = parser.Parse()
	}

	if err != nil {
		var flagsErr *goflags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == goflags.ErrHelp {
			return nil
		}
		return err
	}

	return nil
}
