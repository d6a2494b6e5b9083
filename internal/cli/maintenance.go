package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMaintenanceCommand(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "maintenance",
		Short: "Exclude a node from arbitration health checks, or include it again",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "on <node-id>",
			Short: "Put a node into maintenance",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := flags.client().SetMaintenance(cmd.Context(), args[0], true); err != nil {
					return err
				}
				fmt.Printf("node %s is in maintenance\n", args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "off <node-id>",
			Short: "Bring a node back from maintenance",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := flags.client().SetMaintenance(cmd.Context(), args[0], false); err != nil {
					return err
				}
				fmt.Printf("node %s is back in arbitration\n", args[0])
				return nil
			},
		},
	)
	return cmd
}
