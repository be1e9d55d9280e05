// Command pipewright plans and runs declarative scientific pipelines.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/pipewright/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
