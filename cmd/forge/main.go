// Command forge watches pull requests and refs on a forge, evaluates
// declarative job pipelines against them, and reports commit statuses
// back.
package main

import (
	"fmt"
	"os"

	"github.com/fenwick-ci/forge/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
