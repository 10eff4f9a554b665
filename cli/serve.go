package cli

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/thingsmcp/thingsmcp/pkg/config"
	"github.com/thingsmcp/thingsmcp/pkg/logger"
	"github.com/thingsmcp/thingsmcp/server"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP bridge",
		Long: "Starts the bridge and serves the MCP tool surface on the configured " +
			"transport (stdio by default). Configuration comes from defaults plus " +
			"THINGS_MCP_* environment variables; flags override the transport.",
		RunE: runServe,
	}
	cmd.Flags().String("transport", "", "Override the transport (stdio or http)")
	cmd.Flags().String("host", "", "Override the HTTP listen host")
	cmd.Flags().Int("port", 0, "Override the HTTP listen port")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := applyServeFlags(cmd, cfg); err != nil {
		return err
	}

	logLevel, logJSON, logSource, err := logger.GetLoggerConfig(cmd)
	if err != nil {
		return err
	}
	if logLevel == "info" && cfg.Log.Level != "" {
		logLevel = cfg.Log.Level
	}
	if err := logger.SetupLogger(logLevel, logJSON || cfg.Log.JSON, logSource || cfg.Log.Source); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.ContextWithLogger(ctx, logger.GetDefault())

	srv, err := server.New(ctx, cfg)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}

// applyServeFlags lets command-line flags override the loaded configuration.
// Only flags the user actually set are applied, so an explicit zero wins over
// the configured value.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) error {
	var flagErr error
	cmd.Flags().Visit(func(f *pflag.Flag) {
		if flagErr != nil {
			return
		}
		switch f.Name {
		case "transport":
			cfg.Server.Transport, flagErr = cmd.Flags().GetString(f.Name)
		case "host":
			cfg.Server.Host, flagErr = cmd.Flags().GetString(f.Name)
		case "port":
			cfg.Server.Port, flagErr = cmd.Flags().GetInt(f.Name)
		}
	})
	if flagErr != nil {
		return flagErr
	}
	return cfg.Validate()
}
