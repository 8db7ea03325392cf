// Command taskforge runs a goal file against one of the engine's three
// concurrency variants: serial, thread-hybrid, or multiprocess.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "taskforge",
		Short:         "Run goal files through the cached, concurrent build engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd())
	root.AddCommand(newWorkerCmd())
	return root
}
