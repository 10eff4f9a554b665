// Package cli is the command-line entrypoint for the bridge.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/thingsmcp/thingsmcp/pkg/version"
)

// RootCmd builds the root command with the shared logging flags.
func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "thingsmcp",
		Short: "MCP bridge for the Things task manager",
		Long: "thingsmcp exposes a local Things 3 installation as an MCP tool surface: " +
			"fast reads from the on-disk database, serialized writes through AppleScript " +
			"and the things:// URL scheme.",
		Version:       version.Get().Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().Bool("log-json", false, "Emit logs as JSON")
	cmd.PersistentFlags().Bool("log-source", false, "Include source locations in logs")

	cmd.AddCommand(serveCmd())
	cmd.AddCommand(versionCmd())
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := version.Get()
			cmd.Printf("thingsmcp %s (commit %s, built %s)\n", info.Version, info.CommitHash, info.BuildDate)
			return nil
		},
	}
}
