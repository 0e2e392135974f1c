// Package mcpserver exposes the job queue as Model Context Protocol tools
// served over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/flemzord/apmd/internal/job"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Queue is the part of the job manager the tools drive.
type Queue interface {
	ScheduleJob(ctx context.Context, name, description string, payload job.Payload, opts job.ScheduleOptions) (string, error)
	RescheduleJob(ctx context.Context, id string, opts job.RescheduleOptions) error
	CleanQueue(ctx context.Context) (int, error)
	Job(ctx context.Context, id string) (*job.Record, error)
	JobsByState(ctx context.Context, state job.State) ([]job.Record, error)
	CountsByState(ctx context.Context) (map[job.State]int, error)
}

// Server wraps an MCP server with the queue tools registered.
type Server struct {
	queue  Queue
	logger *slog.Logger
	mcp    *server.MCPServer
}

// New creates a Server for queue.
func New(queue Queue, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		queue:  queue,
		logger: logger.With("component", "mcp"),
		mcp:    server.NewMCPServer("apmd", version, server.WithToolCapabilities(false)),
	}
	s.mcp.AddTools(s.Tools()...)
	return s
}

// ServeStdio serves MCP requests on stdin/stdout until EOF or a signal.
func (s *Server) ServeStdio() error {
	s.logger.Info("mcp server listening on stdio")
	return server.ServeStdio(s.mcp)
}

// Tools returns the queue tools with their handlers.
func (s *Server) Tools() []server.ServerTool {
	states := []string{"all"}
	for _, st := range job.States {
		states = append(states, string(st))
	}

	return []server.ServerTool{
		{
			Tool: mcp.NewTool("job_counts",
				mcp.WithDescription("Number of jobs in each state of the queue."),
			),
			Handler: s.jobCounts,
		},
		{
			Tool: mcp.NewTool("list_jobs",
				mcp.WithDescription("List job records, optionally filtered by state."),
				mcp.WithString("state", mcp.Description("State to list."), mcp.Enum(states...)),
			),
			Handler: s.listJobs,
		},
		{
			Tool: mcp.NewTool("get_job",
				mcp.WithDescription("Show one job record."),
				mcp.WithString("id", mcp.Required(), mcp.Description("Job ID.")),
			),
			Handler: s.getJob,
		},
		{
			Tool: mcp.NewTool("schedule_job",
				mcp.WithDescription("Schedule a registered job."),
				mcp.WithString("name", mcp.Required(), mcp.Description("Registered job name.")),
				mcp.WithString("description", mcp.Description("Free-form description.")),
				mcp.WithObject("payload", mcp.Description("Arguments passed to the job handler.")),
				mcp.WithNumber("delay_secs", mcp.Description("Seconds before the first attempt.")),
				mcp.WithNumber("max_attempts", mcp.Description("Attempts before the job fails.")),
				mcp.WithNumber("retry_secs", mcp.Description("Seconds between attempts.")),
			),
			Handler: s.scheduleJob,
		},
		{
			Tool: mcp.NewTool("reschedule_job",
				mcp.WithDescription("Put a job back in the waiting state with a fresh attempt count."),
				mcp.WithString("id", mcp.Required(), mcp.Description("Job ID.")),
				mcp.WithNumber("delay_secs", mcp.Description("Seconds before the next attempt.")),
			),
			Handler: s.rescheduleJob,
		},
		{
			Tool: mcp.NewTool("clean_queue",
				mcp.WithDescription("Delete every finished (done or error) job."),
				mcp.WithDestructiveHintAnnotation(true),
			),
			Handler: s.cleanQueue,
		},
	}
}

func (s *Server) jobCounts(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	counts, err := s.queue.CountsByState(ctx)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("count jobs", err), nil
	}
	return jsonResult(counts)
}

func (s *Server) listJobs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	states := job.States
	if name := req.GetString("state", "all"); name != "all" {
		st, err := job.ParseState(name)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		states = []job.State{st}
	}

	jobs := []job.Record{}
	for _, st := range states {
		recs, err := s.queue.JobsByState(ctx, st)
		if err != nil {
			return mcp.NewToolResultErrorFromErr("list jobs", err), nil
		}
		jobs = append(jobs, recs...)
	}
	return jsonResult(jobs)
}

func (s *Server) getJob(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rec, err := s.queue.Job(ctx, id)
	if errors.Is(err, job.ErrJobNotFound) {
		return mcp.NewToolResultError("job not found: " + id), nil
	}
	if err != nil {
		return mcp.NewToolResultErrorFromErr("get job", err), nil
	}
	return jsonResult(rec)
}

func (s *Server) scheduleJob(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var payload job.Payload
	if raw, ok := req.GetArguments()["payload"].(map[string]any); ok {
		payload = raw
	}

	id, err := s.queue.ScheduleJob(ctx, name, req.GetString("description", ""), payload, job.ScheduleOptions{
		Delay:         seconds(req.GetFloat("delay_secs", 0)),
		MaxAttempts:   req.GetInt("max_attempts", 0),
		RetryInterval: seconds(req.GetFloat("retry_secs", 0)),
	})
	if errors.Is(err, job.ErrNotRegistered) {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err != nil {
		return mcp.NewToolResultErrorFromErr("schedule job", err), nil
	}

	s.logger.Info("job scheduled via mcp", "job", name, "id", id)
	return mcp.NewToolResultText(id), nil
}

func (s *Server) rescheduleJob(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	err = s.queue.RescheduleJob(ctx, id, job.RescheduleOptions{Delay: seconds(req.GetFloat("delay_secs", 0))})
	if errors.Is(err, job.ErrJobNotFound) {
		return mcp.NewToolResultError("job not found: " + id), nil
	}
	if err != nil {
		return mcp.NewToolResultErrorFromErr("reschedule job", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("job %s rescheduled", id)), nil
}

func (s *Server) cleanQueue(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	n, err := s.queue.CleanQueue(ctx)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("clean queue", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%d jobs deleted", n)), nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: encoding result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

func seconds(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}
