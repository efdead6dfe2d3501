package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"nanosched/internal/core"
	"nanosched/internal/store"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// MCPServer exposes scheduler operations as MCP tools over stdio.
type MCPServer struct {
	store     *store.Store
	scheduler *core.Scheduler
	logger    *slog.Logger
}

// NewMCPServer creates a new MCP server instance.
func NewMCPServer(store *store.Store, scheduler *core.Scheduler, logger *slog.Logger) *MCPServer {
	return &MCPServer{
		store:     store,
		scheduler: scheduler,
		logger:    logger,
	}
}

// Run starts the MCP server using stdio transport.
func (s *MCPServer) Run() error {
	mcpServer := server.NewMCPServer(
		"nanosched",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	s.registerTools(mcpServer)

	s.logger.Info("MCP server starting on stdio")
	return server.ServeStdio(mcpServer)
}

func (s *MCPServer) registerTools(mcpServer *server.MCPServer) {
	mcpServer.AddTool(mcp.NewTool("sched_create_task",
		mcp.WithDescription("Create a scheduled task that runs a generation payload on a cron, interval or one-shot schedule"),
		mcp.WithString("user_id",
			mcp.Required(),
			mcp.Description("Owner of the task"),
		),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Task name (1-100 characters)"),
		),
		mcp.WithString("schedule_type",
			mcp.Required(),
			mcp.Description("Schedule variant"),
			mcp.Enum("cron", "interval", "once"),
		),
		mcp.WithString("cron",
			mcp.Description("5-field cron expression, e.g. '0 9 * * 1-5' for weekdays at 9am"),
		),
		mcp.WithNumber("interval_seconds",
			mcp.Description("Interval between runs in seconds"),
			mcp.Min(1),
		),
		mcp.WithString("run_at",
			mcp.Description("RFC3339 timestamp for one-shot schedules"),
		),
		mcp.WithString("payload",
			mcp.Required(),
			mcp.Description("JSON object handed to the generation pipeline"),
		),
	), s.handleCreateTask)

	mcpServer.AddTool(mcp.NewTool("sched_list_tasks",
		mcp.WithDescription("List a user's scheduled tasks"),
		mcp.WithString("user_id",
			mcp.Required(),
			mcp.Description("Owner of the tasks"),
		),
	), s.handleListTasks)

	mcpServer.AddTool(mcp.NewTool("sched_get_task",
		mcp.WithDescription("Get details of a scheduled task"),
		mcp.WithString("user_id",
			mcp.Required(),
			mcp.Description("Owner of the task"),
		),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID"),
		),
	), s.handleGetTask)

	mcpServer.AddTool(mcp.NewTool("sched_delete_task",
		mcp.WithDescription("Delete a scheduled task"),
		mcp.WithString("user_id",
			mcp.Required(),
			mcp.Description("Owner of the task"),
		),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID"),
		),
	), s.handleDeleteTask)

	mcpServer.AddTool(mcp.NewTool("sched_run_task",
		mcp.WithDescription("Run a scheduled task immediately, bypassing its schedule"),
		mcp.WithString("user_id",
			mcp.Required(),
			mcp.Description("Owner of the task"),
		),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID"),
		),
	), s.handleRunTask)

	mcpServer.AddTool(mcp.NewTool("sched_list_runs",
		mcp.WithDescription("List recent executions of a scheduled task"),
		mcp.WithString("user_id",
			mcp.Required(),
			mcp.Description("Owner of the task"),
		),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Number of runs to return, default 20"),
			mcp.Min(1),
			mcp.Max(100),
		),
	), s.handleListRuns)

	mcpServer.AddTool(mcp.NewTool("sched_preview_schedule",
		mcp.WithDescription("Preview the upcoming execution times of a schedule"),
		mcp.WithString("schedule_type",
			mcp.Required(),
			mcp.Description("Schedule variant"),
			mcp.Enum("cron", "interval", "once"),
		),
		mcp.WithString("cron",
			mcp.Description("5-field cron expression"),
		),
		mcp.WithNumber("interval_seconds",
			mcp.Description("Interval between runs in seconds"),
			mcp.Min(1),
		),
		mcp.WithString("run_at",
			mcp.Description("RFC3339 timestamp for one-shot schedules"),
		),
		mcp.WithString("timezone",
			mcp.Description("IANA timezone for cron evaluation, default UTC"),
		),
		mcp.WithNumber("count",
			mcp.Description("Number of occurrences to return, default 5"),
			mcp.Min(1),
			mcp.Max(10),
		),
	), s.handlePreviewSchedule)

	s.logger.Info("MCP tools registered", "count", 7)
}

func (s *MCPServer) handleCreateTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := mcp.ParseString(request, "user_id", "")
	name := strings.TrimSpace(mcp.ParseString(request, "name", ""))
	payloadStr := mcp.ParseString(request, "payload", "")
	if userID == "" || name == "" {
		return mcp.NewToolResultError("user_id and name are required"), nil
	}

	var payloadObj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payloadStr), &payloadObj); err != nil || payloadObj == nil {
		return mcp.NewToolResultError("payload must be a JSON object"), nil
	}

	task := &core.ScheduledTask{
		ID:      core.NewID(),
		UserID:  userID,
		Name:    name,
		Enabled: true,
		Payload: []byte(payloadStr),
	}
	if msg, ok := parseScheduleArgs(request, task); !ok {
		return mcp.NewToolResultError(msg), nil
	}

	timezone, err := s.store.GetUserTimezone(ctx, userID)
	if err != nil {
		s.logger.Error("get user timezone", "user_id", userID, "err", err)
		timezone = "UTC"
	}
	task.NextRunAt = core.ComputeNextRunAt(task.Spec(), time.Now().UTC(), timezone)
	if task.ScheduleType != core.ScheduleOnce && task.NextRunAt == nil {
		return mcp.NewToolResultError("invalid schedule configuration"), nil
	}

	if err := s.store.InsertTask(ctx, task); err != nil {
		s.logger.Error("insert task", "err", err)
		return mcp.NewToolResultError(fmt.Sprintf("failed to create task: %v", err)), nil
	}

	s.logger.Info("task created", "task_id", task.ID, "user_id", userID, "schedule_type", task.ScheduleType)
	return mcp.NewToolResultText(fmt.Sprintf("Task created\nID: %s\nNext run: %s", task.ID, formatTimeText(task.NextRunAt))), nil
}

func (s *MCPServer) handleListTasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := mcp.ParseString(request, "user_id", "")
	tasks, err := s.store.ListUserTasks(ctx, userID)
	if err != nil {
		s.logger.Error("list tasks", "err", err)
		return mcp.NewToolResultError(fmt.Sprintf("failed to list tasks: %v", err)), nil
	}
	if len(tasks) == 0 {
		return mcp.NewToolResultText("No tasks found"), nil
	}

	result := fmt.Sprintf("Found %d tasks:\n\n", len(tasks))
	for _, t := range tasks {
		state := "enabled"
		if !t.Enabled {
			state = "disabled"
		}
		result += fmt.Sprintf("%s (%s)\n", t.ID, state)
		result += fmt.Sprintf("  Name: %s\n", t.Name)
		result += fmt.Sprintf("  Schedule: %s\n", describeSchedule(t))
		if t.NextRunAt != nil {
			result += fmt.Sprintf("  Next run: %s\n", formatTimeText(t.NextRunAt))
		}
		if t.LastRunStatus != nil {
			result += fmt.Sprintf("  Last run: %s (%s)\n", formatTimeText(t.LastRunAt), *t.LastRunStatus)
		}
		result += "\n"
	}
	return mcp.NewToolResultText(result), nil
}

func (s *MCPServer) handleGetTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := mcp.ParseString(request, "user_id", "")
	taskID := mcp.ParseString(request, "task_id", "")

	task, err := s.store.GetUserTask(ctx, taskID, userID)
	if err != nil {
		if errors.Is(err, core.ErrTaskNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("task not found: %s", taskID)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("failed to load task: %v", err)), nil
	}

	result := fmt.Sprintf("Task ID: %s\n", task.ID)
	result += fmt.Sprintf("Name: %s\n", task.Name)
	if task.Description != nil {
		result += fmt.Sprintf("Description: %s\n", *task.Description)
	}
	result += fmt.Sprintf("Enabled: %t\n", task.Enabled)
	result += fmt.Sprintf("Schedule: %s\n", describeSchedule(task))
	result += fmt.Sprintf("Payload: %s\n", truncateString(string(task.Payload), 200))
	if task.NextRunAt != nil {
		result += fmt.Sprintf("Next run: %s\n", formatTimeText(task.NextRunAt))
	}
	if task.LastRunAt != nil {
		result += fmt.Sprintf("Last run: %s\n", formatTimeText(task.LastRunAt))
	}
	if task.LastRunStatus != nil {
		result += fmt.Sprintf("Last status: %s\n", *task.LastRunStatus)
	}
	if task.LastRunError != nil {
		result += fmt.Sprintf("Last error: %s\n", *task.LastRunError)
	}
	result += fmt.Sprintf("Created: %s\n", task.CreatedAt.UTC().Format(time.RFC3339))
	return mcp.NewToolResultText(result), nil
}

func (s *MCPServer) handleDeleteTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := mcp.ParseString(request, "user_id", "")
	taskID := mcp.ParseString(request, "task_id", "")

	if err := s.store.DeleteTask(ctx, taskID, userID); err != nil {
		if errors.Is(err, core.ErrTaskNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("task not found: %s", taskID)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("failed to delete task: %v", err)), nil
	}
	return mcp.NewToolResultText("Task deleted"), nil
}

func (s *MCPServer) handleRunTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := mcp.ParseString(request, "user_id", "")
	taskID := mcp.ParseString(request, "task_id", "")

	outcome, err := s.scheduler.RunTaskNow(ctx, taskID, userID)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrTaskNotFound):
			return mcp.NewToolResultError(fmt.Sprintf("task not found: %s", taskID)), nil
		case errors.Is(err, core.ErrTaskLocked):
			return mcp.NewToolResultError("task is currently running"), nil
		default:
			return mcp.NewToolResultError(fmt.Sprintf("failed to run task: %v", err)), nil
		}
	}
	if outcome.Status == core.RunStatusError {
		return mcp.NewToolResultText(fmt.Sprintf("Run finished with error: %s", outcome.Error)), nil
	}
	return mcp.NewToolResultText("Run queued successfully"), nil
}

func (s *MCPServer) handleListRuns(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := mcp.ParseString(request, "user_id", "")
	taskID := mcp.ParseString(request, "task_id", "")
	limit := int(mcp.ParseFloat64(request, "limit", 20))

	if _, err := s.store.GetUserTask(ctx, taskID, userID); err != nil {
		if errors.Is(err, core.ErrTaskNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("task not found: %s", taskID)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("failed to load task: %v", err)), nil
	}

	runs, err := s.store.ListRuns(ctx, taskID, limit, 0)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list runs: %v", err)), nil
	}
	if len(runs) == 0 {
		return mcp.NewToolResultText("No runs recorded"), nil
	}

	result := fmt.Sprintf("Last %d runs:\n\n", len(runs))
	for _, run := range runs {
		result += fmt.Sprintf("%s  %s  %s", run.StartedAt.UTC().Format(time.RFC3339), run.Trigger, run.Status)
		if run.Error != nil {
			result += fmt.Sprintf("  (%s)", truncateString(*run.Error, 80))
		}
		result += "\n"
	}
	return mcp.NewToolResultText(result), nil
}

func (s *MCPServer) handlePreviewSchedule(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var task core.ScheduledTask
	if msg, ok := parseScheduleArgs(request, &task); !ok {
		return mcp.NewToolResultError(msg), nil
	}
	timezone := core.ResolveTimezone(mcp.ParseString(request, "timezone", ""))
	count := int(mcp.ParseFloat64(request, "count", 5))
	if count <= 0 || count > 10 {
		count = 5
	}
	if task.ScheduleType != core.ScheduleCron {
		count = 1
	}

	times := make([]string, 0, count)
	ref := time.Now().UTC()
	for i := 0; i < count; i++ {
		next := core.ComputeNextRunAt(task.Spec(), ref, timezone)
		if next == nil {
			break
		}
		times = append(times, next.UTC().Format(time.RFC3339))
		ref = *next
	}
	if len(times) == 0 {
		return mcp.NewToolResultError("schedule produces no executions"), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Upcoming executions (%s):\n%s", timezone, strings.Join(times, "\n"))), nil
}

func parseScheduleArgs(request mcp.CallToolRequest, task *core.ScheduledTask) (string, bool) {
	switch core.ScheduleType(mcp.ParseString(request, "schedule_type", "")) {
	case core.ScheduleCron:
		expr := strings.TrimSpace(mcp.ParseString(request, "cron", ""))
		if expr == "" {
			return "cron expression is required", false
		}
		if _, err := core.ParseCron(expr); err != nil {
			return err.Error(), false
		}
		task.ScheduleType = core.ScheduleCron
		task.CronExpression = &expr
	case core.ScheduleInterval:
		seconds := int(mcp.ParseFloat64(request, "interval_seconds", 0))
		if seconds <= 0 {
			return "interval_seconds must be a positive integer", false
		}
		task.ScheduleType = core.ScheduleInterval
		task.IntervalSeconds = &seconds
	case core.ScheduleOnce:
		raw := mcp.ParseString(request, "run_at", "")
		runAt, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return "run_at must be an RFC3339 timestamp", false
		}
		runAt = runAt.UTC()
		task.ScheduleType = core.ScheduleOnce
		task.RunAt = &runAt
	default:
		return "schedule_type must be cron, interval or once", false
	}
	return "", true
}

func describeSchedule(task *core.ScheduledTask) string {
	switch task.ScheduleType {
	case core.ScheduleCron:
		if task.CronExpression != nil {
			return fmt.Sprintf("cron %q", *task.CronExpression)
		}
	case core.ScheduleInterval:
		if task.IntervalSeconds != nil {
			return fmt.Sprintf("every %d seconds", *task.IntervalSeconds)
		}
	case core.ScheduleOnce:
		if task.RunAt != nil {
			return fmt.Sprintf("once at %s", task.RunAt.UTC().Format(time.RFC3339))
		}
	}
	return string(task.ScheduleType)
}

func formatTimeText(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}

func truncateString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
