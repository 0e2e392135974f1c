// Package main is the entry point for the apmd CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/flemzord/apmd/internal/config"
	"github.com/flemzord/apmd/pkg/app"
	"github.com/spf13/cobra"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	dataDir    string
}

func (g *globalFlags) runParams() app.RunParams {
	return app.RunParams{
		ConfigPath: g.configPath,
		DataDir:    g.dataDir,
		Version:    version,
		Commit:     commit,
		Date:       date,
	}
}

func rootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "apmd",
		Short:         "Maintenance daemon: cache upkeep and a persistent job queue",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to configuration file")
	root.PersistentFlags().StringVar(&flags.dataDir, "data-dir", "", "Override the data directory")

	root.AddCommand(
		versionCmd(),
		startCmd(flags),
		configCmd(flags),
		jobsCmd(flags),
		serviceCmd(flags),
		mcpCmd(flags),
	)
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "apmd %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func startCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run the daemon in the foreground",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.Run(cmd.Context(), flags.runParams())
		},
	}
}

// withRuntime loads the configuration, opens the runtime and calls fn.
// Logs go to stderr so that command output stays clean.
func withRuntime(ctx context.Context, flags *globalFlags, fn func(context.Context, *app.Runtime) error) error {
	cfg, _, err := app.LoadConfig(flags.configPath, flags.dataDir)
	if err != nil {
		return err
	}
	logger, err := app.NewLogger(config.LogConfig{Level: "warn", Format: cfg.Log.Format}, os.Stderr, app.Secrets(cfg)...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := app.Open(ctx, cfg, version, logger)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	return fn(ctx, rt)
}
