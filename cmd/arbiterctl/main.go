// arbiterctl is the operator CLI for an arbiter cluster.
package main

import (
	"os"

	"github.com/FairForge/arbiter/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
