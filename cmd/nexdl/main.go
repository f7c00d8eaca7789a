// Command nexdl downloads every file of a Nexus Mods collection through a
// real browser session, one "Slow download" click at a time.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/mmcdole/nexdl/internal/domain"
	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags
var Version = "dev"

// Process exit codes
const (
	exitOK          = 0
	exitFailure     = 1
	exitConfig      = 2
	exitInterrupted = 130
)

var (
	// errStopped reports a run that ended on a stop request
	errStopped = errors.New("stopped by user")

	// errItemsFailed reports a run that finished with failed items
	errItemsFailed = errors.New("some items failed")
)

// cfgFile holds the path to the configuration file
var cfgFile string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "nexdl",
		Short:         "Download a Nexus Mods collection",
		Long:          `Walks a collection manifest and clicks "Slow download" for every file it has not downloaded yet.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.config/nexdl/config.yaml or ./config.yaml)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "nexdl %s\n", Version)
		},
	})
	root.AddCommand(newRunCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newResetCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newCalibrateCmd())
	return root
}

func main() {
	err := newRootCmd().ExecuteContext(context.Background())
	code := exitCode(err)
	switch {
	case err == nil:
	case code == exitInterrupted:
		fmt.Fprintln(os.Stderr, "Stopped. Progress has been saved; run again to resume.")
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(code)
}

// exitCode maps a command error to the process exit status
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case domain.IsConfigError(err):
		return exitConfig
	case errors.Is(err, errStopped):
		return exitInterrupted
	default:
		return exitFailure
	}
}
