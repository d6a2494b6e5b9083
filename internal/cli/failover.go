package cli

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/FairForge/arbiter/internal/client"
)

func newFailoverCommand(flags *rootFlags) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "failover",
		Short: "Step the active node down so a standby takes over",
		Long: `Ask the active node to release its lease and sit out the cooldown
window. A standby wins the next election within one acquire interval.

The command must be pointed at the active node (--server); standbys
answer with a conflict.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes && !confirm("Trigger a manual switchover?") {
				fmt.Println("aborted")
				return nil
			}

			err := flags.client().Failover(cmd.Context())
			if errors.Is(err, client.ErrNotActive) {
				return fmt.Errorf("%s is a standby; point --server at the active node", flags.server)
			}
			if err != nil {
				return err
			}
			fmt.Println("stepping down, a standby will take over")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
