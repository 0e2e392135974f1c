package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/flemzord/apmd/pkg/app"
	"github.com/kardianos/service"
	"github.com/spf13/cobra"
)

// program adapts app.Run to the service manager's start/stop callbacks.
// When the daemon ends with an error before the manager asked it to stop,
// the error is written to stderr and the process exits through exit.
type program struct {
	params app.RunParams
	stderr io.Writer
	exit   func(code int)

	cancel context.CancelFunc
	done   chan error
}

func newProgram(params app.RunParams) *program {
	return &program{params: params, stderr: os.Stderr, exit: os.Exit}
}

func (p *program) Start(service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan error, 1)
	go func() {
		err := app.Run(ctx, p.params)
		if err != nil && ctx.Err() == nil {
			fmt.Fprintf(p.stderr, "Error: %v\n", err)
			p.exit(1)
		}
		p.done <- err
	}()
	return nil
}

func (p *program) Stop(service.Service) error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	return <-p.done
}

func newService(flags *globalFlags) (service.Service, error) {
	args := []string{"service", "run"}
	if flags.configPath != "" {
		abs, err := filepath.Abs(flags.configPath)
		if err != nil {
			return nil, err
		}
		args = append(args, "--config", abs)
	}
	if flags.dataDir != "" {
		abs, err := filepath.Abs(flags.dataDir)
		if err != nil {
			return nil, err
		}
		args = append(args, "--data-dir", abs)
	}

	return service.New(newProgram(flags.runParams()), &service.Config{
		Name:        "apmd",
		DisplayName: "apmd maintenance daemon",
		Description: "Keeps cache entries populated and processes the persistent job queue.",
		Arguments:   args,
	})
}

func serviceCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage apmd as a system service",
	}

	for _, action := range service.ControlAction {
		cmd.AddCommand(&cobra.Command{
			Use:   action,
			Short: fmt.Sprintf("%s the system service", action),
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				svc, err := newService(flags)
				if err != nil {
					return err
				}
				if err := service.Control(svc, action); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "service %s: ok\n", action)
				return nil
			},
		})
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Show the system service status",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				svc, err := newService(flags)
				if err != nil {
					return err
				}
				st, err := svc.Status()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), statusString(st))
				return nil
			},
		},
		&cobra.Command{
			Use:    "run",
			Short:  "Run under the service manager",
			Hidden: true,
			Args:   cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				svc, err := newService(flags)
				if err != nil {
					return err
				}
				return svc.Run()
			},
		},
	)
	return cmd
}

func statusString(st service.Status) string {
	switch st {
	case service.StatusRunning:
		return "running"
	case service.StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
