package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newLoginCommand(flags *rootFlags) *cobra.Command {
	var tokenStdin bool

	cmd := &cobra.Command{
		Use:   "login <operator>",
		Short: "Exchange an operator token for a session JWT",
		Long: `Exchange a configured operator token for a short-lived JWT and print
an export line for ARBITER_TOKEN. The operator token is read from a
prompt, or from stdin with --token-stdin for scripting.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := readToken(tokenStdin)
			if err != nil {
				return err
			}

			jwt, expires, err := flags.client().Login(cmd.Context(), args[0], token)
			if err != nil {
				return err
			}

			fmt.Fprintf(os.Stderr, "logged in as %s, session valid until %s\n",
				args[0], expires.Local().Format(time.RFC1123))
			fmt.Printf("export ARBITER_TOKEN=%s\n", jwt)
			return nil
		},
	}

	cmd.Flags().BoolVar(&tokenStdin, "token-stdin", false, "read the operator token from stdin instead of prompting")
	return cmd
}

func readToken(fromStdin bool) (string, error) {
	if !fromStdin {
		fmt.Fprint(os.Stderr, "operator token: ")
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	token := strings.TrimSpace(line)
	if token == "" {
		return "", fmt.Errorf("empty token")
	}
	return token, nil
}
