// Package cli implements the arbiterctl commands. Each subcommand
// lives in its own file; this one holds the root command and the
// flags shared by all of them.
package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/FairForge/arbiter/internal/client"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

type rootFlags struct {
	server string
	token  string
	json   bool
}

// NewRootCommand builds the arbiterctl command tree.
func NewRootCommand() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:   "arbiterctl",
		Short: "Control and inspect an arbiter cluster",
		Long: `arbiterctl talks to the HTTP API of any arbiter node to inspect
cluster state, tail events, and drive operator actions like manual
switchover and maintenance windows.

Point it at any node; reads work everywhere, switchover is answered
by the active node only.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&flags.server, "server", "s",
		envOr("ARBITER_SERVER", "http://localhost:8080"), "base URL of an arbiter node's API")
	root.PersistentFlags().StringVar(&flags.token,
		"token", os.Getenv("ARBITER_TOKEN"), "bearer token for control commands (from arbiterctl login)")
	root.PersistentFlags().BoolVar(&flags.json, "json", false, "print raw JSON instead of tables")

	root.AddCommand(
		newStatusCommand(flags),
		newNodesCommand(flags),
		newEventsCommand(flags),
		newFailoverCommand(flags),
		newMaintenanceCommand(flags),
		newLoginCommand(flags),
		newVersionCommand(flags),
		newInitCommand(),
	)
	return root
}

// Execute runs the command tree and returns a process exit code.
func Execute() int {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func (f *rootFlags) client() *client.Client {
	return client.New(f.server, f.token)
}

// printJSON renders v indented for --json output.
func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
