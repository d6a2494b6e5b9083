package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/FairForge/arbiter/internal/events"
)

func newEventsCommand(flags *rootFlags) *cobra.Command {
	var (
		limit       int
		typePattern string
		follow      bool
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the cluster event history, or tail it live",
		Long: `Show recent cluster events (lease changes, node state transitions,
failovers, replication warnings). With --follow the command stays
connected and prints events as they happen.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := flags.client()

			if follow {
				return c.Watch(cmd.Context(), typePattern, func(event events.Event) error {
					printEvent(flags.json, event)
					return nil
				})
			}

			list, err := c.Events(cmd.Context(), limit, typePattern)
			if err != nil {
				return err
			}
			if flags.json {
				return printJSON(list)
			}
			// History arrives newest first; print oldest first so the
			// terminal reads like a log.
			for i := len(list) - 1; i >= 0; i-- {
				printEvent(false, list[i])
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum number of events to fetch")
	cmd.Flags().StringVarP(&typePattern, "type", "t", "", `event type filter, e.g. "lease.*"`)
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "stream events live instead of reading history")
	return cmd
}

func printEvent(asJSON bool, event events.Event) {
	if asJSON {
		_ = printJSON(event)
		return
	}
	node := event.NodeID
	if node == "" {
		node = "-"
	}
	fmt.Printf("%s  %-22s %-36s %s\n",
		event.Timestamp.Format("2006-01-02 15:04:05"), event.Type, node, event.Message)
}
