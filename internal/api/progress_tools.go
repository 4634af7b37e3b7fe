package api

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/spirrowgames/prismind/internal/project"
)

func registerProgressTools(s *server.MCPServer, deps MCPDeps) {
	s.AddTool(
		mcp.NewTool("get_progress",
			mcp.WithDescription("Read the project's progress sheet, grouped by phase with rolled-up phase statuses."),
			mcp.WithString("project", mcp.Description("Project ID (defaults to the current project)")),
			mcp.WithString("phase", mcp.Description("Only this phase (omit for all phases)")),
			mcp.WithBoolean("include_completed", mcp.Description("Also list completed tasks (they always count toward phase rollups)")),
		),
		mcpGetProgress(deps),
	)

	s.AddTool(
		mcp.NewTool("update_task_status",
			mcp.WithDescription("Update one task row in the progress sheet. Completing a task stamps its completion date."),
			mcp.WithString("task_id", mcp.Description("Task ID, e.g. T01"), mcp.Required()),
			mcp.WithString("status", mcp.Description("New status: not_started, in_progress, completed, or blocked"), mcp.Required()),
			mcp.WithString("phase", mcp.Description("Phase name, required when the task ID repeats across phases")),
			mcp.WithArray("blockers", mcp.Description("Blocker list (omit to keep unchanged)")),
			mcp.WithString("notes", mcp.Description("Notes (omit to keep unchanged)")),
			mcp.WithString("project", mcp.Description("Project ID (defaults to the current project)")),
		),
		mcpUpdateTaskStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("add_task",
			mcp.WithDescription("Append a new not-started task to the progress sheet."),
			mcp.WithString("phase", mcp.Description("Phase name, e.g. Phase 4"), mcp.Required()),
			mcp.WithString("task_id", mcp.Description("Task ID, e.g. T01"), mcp.Required()),
			mcp.WithString("name", mcp.Description("Task name"), mcp.Required()),
			mcp.WithString("description", mcp.Description("Task description, stored in the notes column")),
			mcp.WithString("project", mcp.Description("Project ID (defaults to the current project)")),
		),
		mcpAddTask(deps),
	)

	s.AddTool(
		mcp.NewTool("update_summary",
			mcp.WithDescription("Update the project's summary sheet: description, current phase, task counts, and custom sections."),
			mcp.WithString("project", mcp.Description("Project ID (defaults to the current project)")),
			mcp.WithString("description", mcp.Description("Project description")),
			mcp.WithString("current_phase", mcp.Description("Current phase name")),
			mcp.WithNumber("completed_tasks", mcp.Description("Number of completed tasks")),
			mcp.WithNumber("total_tasks", mcp.Description("Total number of tasks")),
			mcp.WithObject("custom_fields", mcp.Description("Extra section/value pairs to add or update")),
		),
		mcpUpdateSummary(deps),
	)
}

func mcpGetProgress(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, errResult := resolveProject(ctx, deps, req)
		if errResult != nil {
			return errResult, nil
		}

		res, err := deps.Projects.GetProgress(ctx, id, req.GetString("phase", ""), req.GetBool("include_completed", false))
		if err != nil {
			return mcpError(fmt.Sprintf("get_progress failed: %v", err)), nil
		}
		if !res.Success {
			return mcpJSONError(res), nil
		}
		return mcpJSON(res), nil
	}
}

func mcpUpdateTaskStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID, err := req.RequireString("task_id")
		if err != nil {
			return mcpError("task_id is required"), nil
		}
		status, err := req.RequireString("status")
		if err != nil {
			return mcpError("status is required"), nil
		}
		id, errResult := resolveProject(ctx, deps, req)
		if errResult != nil {
			return errResult, nil
		}

		res, err := deps.Projects.UpdateTaskStatus(ctx, id, project.TaskUpdate{
			TaskID:   taskID,
			Status:   status,
			Phase:    req.GetString("phase", ""),
			Blockers: optStringSlice(req, "blockers"),
			Notes:    optString(req, "notes"),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("update_task_status failed: %v", err)), nil
		}
		if !res.Success {
			return mcpJSONError(res), nil
		}
		return mcpJSON(res), nil
	}
}

func mcpAddTask(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		phase, err := req.RequireString("phase")
		if err != nil {
			return mcpError("phase is required"), nil
		}
		taskID, err := req.RequireString("task_id")
		if err != nil {
			return mcpError("task_id is required"), nil
		}
		name, err := req.RequireString("name")
		if err != nil {
			return mcpError("name is required"), nil
		}
		id, errResult := resolveProject(ctx, deps, req)
		if errResult != nil {
			return errResult, nil
		}

		res, err := deps.Projects.AddTask(ctx, id, phase, taskID, name, req.GetString("description", ""))
		if err != nil {
			return mcpError(fmt.Sprintf("add_task failed: %v", err)), nil
		}
		if !res.Success {
			return mcpJSONError(res), nil
		}
		return mcpJSON(res), nil
	}
}

func mcpUpdateSummary(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, errResult := resolveProject(ctx, deps, req)
		if errResult != nil {
			return errResult, nil
		}

		fields := make(map[string]string)
		if v := optString(req, "description"); v != nil {
			fields["description"] = *v
		}
		if v := optString(req, "current_phase"); v != nil {
			fields["current_phase"] = *v
		}
		args := req.GetArguments()
		if _, ok := args["completed_tasks"]; ok {
			fields["completed_tasks"] = strconv.Itoa(req.GetInt("completed_tasks", 0))
		}
		if _, ok := args["total_tasks"]; ok {
			fields["total_tasks"] = strconv.Itoa(req.GetInt("total_tasks", 0))
		}
		if custom, ok := args["custom_fields"].(map[string]any); ok {
			for k, v := range custom {
				if s, ok := v.(string); ok {
					fields[k] = s
				}
			}
		}

		res, err := deps.Projects.UpdateSummary(ctx, id, fields)
		if err != nil {
			return mcpError(fmt.Sprintf("update_summary failed: %v", err)), nil
		}
		if !res.Success {
			return mcpJSONError(res), nil
		}
		return mcpJSON(res), nil
	}
}
