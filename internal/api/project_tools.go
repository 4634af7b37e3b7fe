package api

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/spirrowgames/prismind/internal/project"
)

func registerProjectTools(s *server.MCPServer, deps MCPDeps) {
	s.AddTool(
		mcp.NewTool("setup_project",
			mcp.WithDescription("Register a new project: provisions its Drive folder and catalog spreadsheet, indexes the config, and makes it the current project. Rejects ID and name collisions; similar existing projects require force."),
			mcp.WithString("id", mcp.Description("Project ID (lowercase letters, digits, hyphens, underscores)"), mcp.Required()),
			mcp.WithString("name", mcp.Description("Human-readable project name"), mcp.Required()),
			mcp.WithString("description", mcp.Description("What the project is about")),
			mcp.WithArray("keywords", mcp.Description("Keywords for semantic matching")),
			mcp.WithString("drive_folder_id", mcp.Description("Existing Drive folder to use instead of creating one")),
			mcp.WithString("spreadsheet_id", mcp.Description("Existing catalog spreadsheet to use instead of creating one")),
			mcp.WithBoolean("force", mcp.Description("Proceed despite similar existing projects")),
		),
		mcpSetupProject(deps),
	)

	s.AddTool(
		mcp.NewTool("update_project",
			mcp.WithDescription("Partially update a project config. Omitted fields keep their values; a call that changes nothing is a successful no-op."),
			mcp.WithString("id", mcp.Description("Project ID"), mcp.Required()),
			mcp.WithString("name", mcp.Description("New name")),
			mcp.WithString("description", mcp.Description("New description")),
			mcp.WithString("status", mcp.Description("New status, e.g. active or archived")),
			mcp.WithArray("keywords", mcp.Description("Replacement keyword list")),
		),
		mcpUpdateProject(deps),
	)

	s.AddTool(
		mcp.NewTool("delete_project",
			mcp.WithDescription("Delete a project's config and indexed catalog records. Requires confirm=true. Drive folders and the spreadsheet are never touched."),
			mcp.WithString("id", mcp.Description("Project ID"), mcp.Required()),
			mcp.WithBoolean("confirm", mcp.Description("Must be true to actually delete")),
		),
		mcpDeleteProject(deps),
	)

	s.AddTool(
		mcp.NewTool("switch_project",
			mcp.WithDescription("Make an existing project the current project."),
			mcp.WithString("id", mcp.Description("Project ID"), mcp.Required()),
		),
		mcpSwitchProject(deps),
	)

	s.AddTool(
		mcp.NewTool("list_projects",
			mcp.WithDescription("List all registered projects, merging the RAG index with the local cache."),
		),
		mcpListProjects(deps),
	)

	s.AddTool(
		mcp.NewTool("get_project_config",
			mcp.WithDescription("Show a project's config. Defaults to the current project."),
			mcp.WithString("project", mcp.Description("Project ID (defaults to the current project)")),
		),
		mcpGetProjectConfig(deps),
	)

	s.AddTool(
		mcp.NewTool("sync_projects_from_drive",
			mcp.WithDescription("Compare Drive folders under the projects folder with registered projects; optionally register configs for unmatched folders."),
			mcp.WithBoolean("dry_run", mcp.Description("Only report differences, register nothing (default true)")),
		),
		mcpSyncProjectsFromDrive(deps),
	)
}

func mcpSetupProject(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}
		name, err := req.RequireString("name")
		if err != nil {
			return mcpError("name is required"), nil
		}

		res, err := deps.Projects.SetupProject(ctx, project.SetupParams{
			ID:            id,
			Name:          name,
			Description:   req.GetString("description", ""),
			Keywords:      req.GetStringSlice("keywords", nil),
			DriveFolderID: req.GetString("drive_folder_id", ""),
			SpreadsheetID: req.GetString("spreadsheet_id", ""),
			Force:         req.GetBool("force", false),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("setup_project failed: %v", err)), nil
		}
		if !res.Success {
			return mcpJSONError(res), nil
		}
		return mcpJSON(res), nil
	}
}

func mcpUpdateProject(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}

		res, err := deps.Projects.UpdateProject(ctx, project.UpdateParams{
			ID:          id,
			Name:        optString(req, "name"),
			Description: optString(req, "description"),
			Status:      optString(req, "status"),
			Keywords:    optStringSlice(req, "keywords"),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("update_project failed: %v", err)), nil
		}
		if !res.Success {
			return mcpJSONError(res), nil
		}
		return mcpJSON(res), nil
	}
}

func mcpDeleteProject(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}

		res, err := deps.Projects.DeleteProject(ctx, id, req.GetBool("confirm", false))
		if err != nil {
			return mcpError(fmt.Sprintf("delete_project failed: %v", err)), nil
		}
		if !res.Success {
			return mcpJSONError(res), nil
		}
		return mcpJSON(res), nil
	}
}

func mcpSwitchProject(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}

		res, err := deps.Projects.SwitchProject(ctx, id)
		if err != nil {
			return mcpError(fmt.Sprintf("switch_project failed: %v", err)), nil
		}
		if !res.Success {
			return mcpJSONError(res), nil
		}
		return mcpJSON(res), nil
	}
}

func mcpListProjects(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projects, err := deps.Projects.ListProjects(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("list_projects failed: %v", err)), nil
		}
		return mcpJSON(projects), nil
	}
}

func mcpGetProjectConfig(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, errResult := resolveProject(ctx, deps, req)
		if errResult != nil {
			return errResult, nil
		}

		cfg, found, err := deps.Projects.GetProject(ctx, id)
		if err != nil {
			return mcpError(fmt.Sprintf("get_project_config failed: %v", err)), nil
		}
		if !found {
			return mcpError(fmt.Sprintf("project %q not found", id)), nil
		}
		return mcpJSON(cfg), nil
	}
}

func mcpSyncProjectsFromDrive(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res, err := deps.Projects.SyncProjectsFromDrive(ctx, req.GetBool("dry_run", true))
		if err != nil {
			return mcpError(fmt.Sprintf("sync_projects_from_drive failed: %v", err)), nil
		}
		if !res.Success {
			return mcpJSONError(res), nil
		}
		return mcpJSON(res), nil
	}
}
