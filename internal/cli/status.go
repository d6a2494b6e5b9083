package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the cluster's lease holder and node summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := flags.client().Status(cmd.Context())
			if err != nil {
				return err
			}
			if flags.json {
				return printJSON(status)
			}

			fmt.Println(status.Describe())
			if status.Lease.Live() {
				fmt.Printf("lease: holder=%s epoch=%d expires_in=%s\n",
					holderLabel(status.Lease.HolderName, status.Lease.HolderID),
					status.Lease.Epoch,
					status.Lease.TTL.Round(time.Millisecond))
			} else {
				fmt.Println("lease: none (election in progress or cluster down)")
			}
			return nil
		},
	}
}

func holderLabel(name, id string) string {
	if name != "" {
		return name
	}
	return id
}
