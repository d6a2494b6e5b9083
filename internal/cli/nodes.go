package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/FairForge/arbiter/internal/cluster"
)

func newNodesCommand(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nodes [node-id]",
		Short: "List registered nodes, or show one in detail",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				node, err := flags.client().Node(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if flags.json {
					return printJSON(node)
				}
				printNodeTable([]cluster.NodeInfo{*node})
				return nil
			}

			nodes, err := flags.client().Nodes(cmd.Context())
			if err != nil {
				return err
			}
			if flags.json {
				return printJSON(nodes)
			}
			printNodeTable(nodes)
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <node-id>",
		Short: "Drop a retired node's registration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.client().RemoveNode(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("node %s removed\n", args[0])
			return nil
		},
	})
	return cmd
}

func printNodeTable(nodes []cluster.NodeInfo) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tROLE\tSTATUS\tADDRESS\tLAST SEEN")
	for _, n := range nodes {
		status := string(n.Status)
		if n.Maintenance {
			status += " (maintenance)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			n.ID, n.Name, n.Role, status, n.Address, ago(n.LastSeen))
	}
	_ = w.Flush()
}

func ago(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return time.Since(t).Round(time.Second).String() + " ago"
}
