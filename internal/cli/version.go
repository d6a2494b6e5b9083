package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVersionCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show client and server versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := map[string]string{"client": Version}

			// A dead server should not stop us from printing the
			// client version.
			server, err := flags.client().ServerVersion(cmd.Context())
			if err != nil {
				out["server"] = "unreachable"
			} else {
				out["server"] = server["version"]
				out["server_go"] = server["go"]
			}

			if flags.json {
				return printJSON(out)
			}
			fmt.Printf("client: %s\n", out["client"])
			if err != nil {
				fmt.Printf("server: unreachable (%v)\n", err)
			} else {
				fmt.Printf("server: %s (go %s)\n", out["server"], out["server_go"])
			}
			return nil
		},
	}
}
