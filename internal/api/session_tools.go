package api

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/spirrowgames/prismind/internal/session"
)

func registerSessionTools(s *server.MCPServer, deps MCPDeps) {
	s.AddTool(
		mcp.NewTool("start_session",
			mcp.WithDescription("Start (or resume) a work session for a project. An ended session's handoff is carried into the new one."),
			mcp.WithString("project", mcp.Description("Project ID (defaults to the current project)")),
		),
		mcpStartSession(deps),
	)

	s.AddTool(
		mcp.NewTool("save_session",
			mcp.WithDescription("Update the active session. Omitted fields keep their values; note appends."),
			mcp.WithString("project", mcp.Description("Project ID (defaults to the current project)")),
			mcp.WithString("phase", mcp.Description("Current phase")),
			mcp.WithString("task", mcp.Description("Current task")),
			mcp.WithString("completed", mcp.Description("Last completed piece of work")),
			mcp.WithArray("blockers", mcp.Description("Replacement blockers list")),
			mcp.WithString("note", mcp.Description("Progress note to append")),
			mcp.WithString("handoff", mcp.Description("Summary for whoever continues the work")),
			mcp.WithArray("next_steps", mcp.Description("Replacement next-steps list")),
		),
		mcpSaveSession(deps),
	)

	s.AddTool(
		mcp.NewTool("get_session",
			mcp.WithDescription("Show the stored session for a project."),
			mcp.WithString("project", mcp.Description("Project ID (defaults to the current project)")),
		),
		mcpGetSession(deps),
	)

	s.AddTool(
		mcp.NewTool("end_session",
			mcp.WithDescription("End the active session, recording the final handoff for the next session."),
			mcp.WithString("project", mcp.Description("Project ID (defaults to the current project)")),
			mcp.WithString("handoff", mcp.Description("Final handoff summary")),
			mcp.WithArray("next_steps", mcp.Description("Next steps for the successor")),
		),
		mcpEndSession(deps),
	)
}

func mcpStartSession(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, errResult := resolveProject(ctx, deps, req)
		if errResult != nil {
			return errResult, nil
		}

		res, err := deps.Sessions.Start(ctx, id)
		if err != nil {
			return mcpError(fmt.Sprintf("start_session failed: %v", err)), nil
		}
		if !res.Success {
			return mcpJSONError(res), nil
		}
		return mcpJSON(res), nil
	}
}

func mcpSaveSession(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, errResult := resolveProject(ctx, deps, req)
		if errResult != nil {
			return errResult, nil
		}

		res, err := deps.Sessions.Save(ctx, id, session.SaveParams{
			Phase:     optString(req, "phase"),
			Task:      optString(req, "task"),
			Completed: optString(req, "completed"),
			Blockers:  optStringSlice(req, "blockers"),
			Note:      req.GetString("note", ""),
			Handoff:   optString(req, "handoff"),
			NextSteps: optStringSlice(req, "next_steps"),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("save_session failed: %v", err)), nil
		}
		if !res.Success {
			return mcpJSONError(res), nil
		}
		return mcpJSON(res), nil
	}
}

func mcpGetSession(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, errResult := resolveProject(ctx, deps, req)
		if errResult != nil {
			return errResult, nil
		}

		res, err := deps.Sessions.Get(ctx, id)
		if err != nil {
			return mcpError(fmt.Sprintf("get_session failed: %v", err)), nil
		}
		if !res.Success {
			return mcpJSONError(res), nil
		}
		return mcpJSON(res), nil
	}
}

func mcpEndSession(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, errResult := resolveProject(ctx, deps, req)
		if errResult != nil {
			return errResult, nil
		}

		res, err := deps.Sessions.End(ctx, id, req.GetString("handoff", ""), req.GetStringSlice("next_steps", nil))
		if err != nil {
			return mcpError(fmt.Sprintf("end_session failed: %v", err)), nil
		}
		if !res.Success {
			return mcpJSONError(res), nil
		}
		return mcpJSON(res), nil
	}
}
