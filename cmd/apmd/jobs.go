package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/flemzord/apmd/internal/job"
	"github.com/flemzord/apmd/pkg/app"
	"github.com/spf13/cobra"
)

const numTestJobs = 5

func jobsCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Job queue management functions",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "info",
			Short: "Print information about the current job queue",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withRuntime(cmd.Context(), flags, func(ctx context.Context, rt *app.Runtime) error {
					counts, err := rt.Manager.CountsByState(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), queueInfo(counts))
					return nil
				})
			},
		},
		&cobra.Command{
			Use:       "list <all|waiting|running|done|error>",
			Short:     "List all jobs or jobs in the given state",
			Args:      cobra.ExactArgs(1),
			ValidArgs: []string{"all", "waiting", "running", "done", "error"},
			RunE: func(cmd *cobra.Command, args []string) error {
				states, err := statesFor(args[0])
				if err != nil {
					return err
				}
				return withRuntime(cmd.Context(), flags, func(ctx context.Context, rt *app.Runtime) error {
					for _, st := range states {
						recs, err := rt.Manager.JobsByState(ctx, st)
						if err != nil {
							return err
						}
						printJobs(cmd.OutOrStdout(), st, recs)
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "clean",
			Short: "Remove all finished jobs from the queue",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withRuntime(cmd.Context(), flags, func(ctx context.Context, rt *app.Runtime) error {
					n, err := rt.Manager.CleanQueue(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%d finished job(s) removed\n", n)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "reschedule <jobId> [<jobId2> ...]",
			Short: "Reschedule the given jobs",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withRuntime(cmd.Context(), flags, func(ctx context.Context, rt *app.Runtime) error {
					return rescheduleJobs(ctx, rt.Manager, cmd.OutOrStdout(), args)
				})
			},
		},
		&cobra.Command{
			Use:   "test",
			Short: fmt.Sprintf("Add %d test jobs to the queue", numTestJobs),
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withRuntime(cmd.Context(), flags, func(ctx context.Context, rt *app.Runtime) error {
					ids, err := scheduleTestJobs(ctx, rt.Manager)
					for _, id := range ids {
						fmt.Fprintf(cmd.OutOrStdout(), "scheduled %s\n", id)
					}
					return err
				})
			},
		},
		&cobra.Command{
			Use:   "process",
			Short: "Process the current job queue (normally done by the daemon)",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withRuntime(cmd.Context(), flags, func(ctx context.Context, rt *app.Runtime) error {
					return rt.Manager.Process(ctx)
				})
			},
		},
		scheduleCmd(flags),
	)
	return cmd
}

func scheduleCmd(flags *globalFlags) *cobra.Command {
	var (
		description string
		payload     string
		opts        job.ScheduleOptions
	)
	cmd := &cobra.Command{
		Use:   "schedule <name>",
		Short: "Schedule a registered job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p job.Payload
			if payload != "" {
				if err := json.Unmarshal([]byte(payload), &p); err != nil {
					return fmt.Errorf("invalid --payload: %w", err)
				}
			}
			return withRuntime(cmd.Context(), flags, func(ctx context.Context, rt *app.Runtime) error {
				id, err := rt.Manager.ScheduleJob(ctx, args[0], description, p, opts)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "Job description")
	cmd.Flags().StringVarP(&payload, "payload", "p", "", "JSON object passed to the handler")
	cmd.Flags().DurationVar(&opts.Delay, "delay", 0, "Delay before the first attempt")
	cmd.Flags().IntVar(&opts.MaxAttempts, "max-attempts", job.DefaultMaxAttempts, "Attempts before the job fails")
	cmd.Flags().DurationVar(&opts.RetryInterval, "retry", job.DefaultRetryInterval, "Interval between attempts")
	return cmd
}

func statesFor(arg string) ([]job.State, error) {
	if arg == "all" {
		return job.States, nil
	}
	st, err := job.ParseState(arg)
	if err != nil {
		return nil, fmt.Errorf("invalid state '%s'", arg)
	}
	return []job.State{st}, nil
}

// queueInfo summarizes the queue counts in one sentence.
func queueInfo(counts map[job.State]int) string {
	total := 0
	for _, n := range counts {
		total += n
	}
	if total == 0 {
		return "The job queue is empty"
	}

	done, failed := counts[job.StateDone], counts[job.StateError]
	if done+failed == total {
		return fmt.Sprintf("There are %d jobs in the queue, all finished: %d successfully, %d with error",
			total, done, failed)
	}
	return fmt.Sprintf("There are %d jobs in the queue: %d running, %d waiting, %d finished successfully, %d finished with error",
		total, counts[job.StateRunning], counts[job.StateWaiting], done, failed)
}

func printJobs(w io.Writer, state job.State, recs []job.Record) {
	fmt.Fprintf(w, "%s, %d job(s)", state, len(recs))
	if len(recs) == 0 {
		fmt.Fprintln(w)
		return
	}
	fmt.Fprintln(w, ":")
	for _, r := range recs {
		lastRun := "never"
		if r.LastRunAt != nil {
			lastRun = r.LastRunAt.Format(time.DateTime)
		}
		fmt.Fprintf(w, "   %s: %s\t%s, %s, scheduled at %s, attempts %d/%d, last run at %s\n",
			r.ID, r.State, r.Name, r.Description, r.ScheduledAt.Format(time.DateTime),
			r.CompletedRuns, r.MaxAttempts, lastRun)
	}
}

// jobRescheduler is the part of the job manager used by rescheduleJobs.
type jobRescheduler interface {
	RescheduleJob(ctx context.Context, id string, opts job.RescheduleOptions) error
}

// rescheduleJobs reschedules every id and reports each one. It fails when at
// least one job could not be rescheduled.
func rescheduleJobs(ctx context.Context, m jobRescheduler, w io.Writer, ids []string) error {
	var errs []error
	for _, id := range ids {
		err := m.RescheduleJob(ctx, id, job.RescheduleOptions{})
		switch {
		case errors.Is(err, job.ErrJobNotFound):
			errs = append(errs, fmt.Errorf("job %s does not exist", id))
		case err != nil:
			errs = append(errs, err)
		default:
			fmt.Fprintf(w, "Job %s rescheduled successfully\n", id)
		}
	}
	return errors.Join(errs...)
}

// scheduleTestJobs adds numTestJobs noop jobs that alternately succeed and
// fail, with growing delays, attempt limits and retry intervals.
func scheduleTestJobs(ctx context.Context, m *job.Manager) ([]string, error) {
	ids := make([]string, 0, numTestJobs)
	for i := range numTestJobs {
		id, err := m.ScheduleJob(ctx, app.JobNoop, fmt.Sprintf("No. %d", i),
			job.Payload{"returnValue": i%2 == 0},
			job.ScheduleOptions{
				Delay:         time.Duration(i) * time.Second,
				MaxAttempts:   i + 1,
				RetryInterval: time.Duration(4*(i+1)) * time.Second,
			})
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
