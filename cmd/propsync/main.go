// Command propsync runs the cross-context property update scheduler, its
// deterministic scenario harness and the journal viewer.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/propsync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
