// Command geosandbox serves the script execution API, runs one script from
// the command line, or acts as a subprocess sandbox worker.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// set at build time
var (
	Version   = "dev"
	Revision  = ""
	BuildDate = ""
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "geosandbox",
		Short:         "Sandboxed spatial analysis scripts",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
	}
	root.PersistentFlags().String("config", "", "optional TOML config file")
	root.AddCommand(newServeCmd(), newRunCmd(), newWorkerCmd())
	return root
}
