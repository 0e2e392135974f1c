package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/flemzord/apmd/internal/config"
	"github.com/flemzord/apmd/pkg/app"
	"github.com/spf13/cobra"
)

func configCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(configCheckCmd(flags), configInitCmd(flags))
	return cmd
}

func configCheckCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check [path]",
		Short: "Validate configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := flags.configPath
			if len(args) == 1 {
				path = args[0]
			}
			cfg, loaded, err := app.LoadConfig(path, flags.dataDir)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration OK (%s)\n", loaded)
			fmt.Fprintf(out, "  database:   %s\n", cfg.Database.Path)
			fmt.Fprintf(out, "  pid file:   %s\n", cfg.Daemon.PIDFile)
			fmt.Fprintf(out, "  cache:      %s, %d item(s)\n", cfg.Cache.Backend, len(cfg.Cache.Items))
			fmt.Fprintf(out, "  recurring:  %d job(s)\n", len(cfg.Jobs.Recurring))
			if cfg.Gateway.Enabled() {
				fmt.Fprintf(out, "  gateway:    %s\n", cfg.Gateway.Bind)
			} else {
				fmt.Fprintln(out, "  gateway:    disabled")
			}
			return nil
		},
	}
}

func configInitCmd(flags *globalFlags) *cobra.Command {
	var (
		output         string
		force          bool
		nonInteractive bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if output == "" {
				output = defaultConfigPath()
			}
			if _, err := os.Stat(output); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", output)
			}

			opts := config.StarterOptions{
				DataDir:     flags.dataDir,
				LogFormat:   "text",
				GatewayBind: "127.0.0.1:8080",
				CacheItems:  true,
				CleanupCron: "0 3 * * *",
			}
			if !nonInteractive {
				if err := starterForm(&opts).Run(); err != nil {
					return err
				}
			}

			data, err := config.Starter(opts)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(output, data, 0o600); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination file (default: user config directory)")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")
	cmd.Flags().BoolVarP(&nonInteractive, "yes", "y", false, "Accept the defaults without prompting")
	return cmd
}

func starterForm(opts *config.StarterOptions) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Data directory").
				Description("Database and PID file location. Leave empty for the default.").
				Value(&opts.DataDir),
			huh.NewSelect[string]().
				Title("Log format").
				Options(huh.NewOption("text", "text"), huh.NewOption("json", "json")).
				Value(&opts.LogFormat),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Gateway address").
				Description("Admin HTTP server. Leave empty to disable.").
				Validate(validateBind).
				Value(&opts.GatewayBind),
			huh.NewInput().
				Title("Gateway bearer token").
				Description("Required for the job API. Leave empty to expose health and metrics only.").
				EchoMode(huh.EchoModePassword).
				Value(&opts.BearerToken),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Cache job statistics?").
				Value(&opts.CacheItems),
			huh.NewInput().
				Title("Queue cleanup schedule").
				Description("5-field cron expression. Leave empty to skip.").
				Value(&opts.CleanupCron),
		),
	)
}

func validateBind(s string) error {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(s); err != nil {
		return errors.New("expected host:port")
	}
	return nil
}

func defaultConfigPath() string {
	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		return filepath.Join(xdg, "apmd", "apmd.yaml")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "apmd", "apmd.yaml")
	}
	return "apmd.yaml"
}
