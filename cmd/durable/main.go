// Command durable runs, resumes and inspects onboarding executions on a
// durable step store.
package main

import (
	"fmt"
	"os"

	"github.com/dshills/durable-go/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
