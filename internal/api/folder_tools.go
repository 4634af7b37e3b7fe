package api

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/spirrowgames/prismind/internal/folders"
)

func registerFolderTools(s *server.MCPServer, deps MCPDeps) {
	s.AddTool(
		mcp.NewTool("ensure_folder",
			mcp.WithDescription("Guarantee exactly one live folder with the given name under a parent. Duplicates from concurrent creation are collapsed to the oldest folder; losers are trashed, not deleted."),
			mcp.WithString("parent_id", mcp.Description("Parent folder ID"), mcp.Required()),
			mcp.WithString("name", mcp.Description("Folder name"), mcp.Required()),
		),
		mcpEnsureFolder(deps),
	)

	s.AddTool(
		mcp.NewTool("ensure_folder_path",
			mcp.WithDescription("Ensure a chain of nested folders exists under a root, returning the final folder."),
			mcp.WithString("root_id", mcp.Description("Root folder ID"), mcp.Required()),
			mcp.WithString("path", mcp.Description("Slash-separated folder names, outermost first (e.g. \"Design/Sprints\")"), mcp.Required()),
		),
		mcpEnsureFolderPath(deps),
	)

	s.AddTool(
		mcp.NewTool("find_duplicate_folders",
			mcp.WithDescription("Report same-named live folders under a parent without modifying anything."),
			mcp.WithString("parent_id", mcp.Description("Parent folder ID"), mcp.Required()),
		),
		mcpFindDuplicateFolders(deps),
	)

	s.AddTool(
		mcp.NewTool("cleanup_duplicate_folders",
			mcp.WithDescription("Collapse duplicate folders under a parent to the oldest of each name, trashing the rest. Use dry_run to preview."),
			mcp.WithString("parent_id", mcp.Description("Parent folder ID"), mcp.Required()),
			mcp.WithBoolean("dry_run", mcp.Description("Only report what would be trashed (default true)")),
		),
		mcpCleanupDuplicateFolders(deps),
	)
}

func mcpEnsureFolder(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		parentID, err := req.RequireString("parent_id")
		if err != nil {
			return mcpError("parent_id is required"), nil
		}
		name, err := req.RequireString("name")
		if err != nil {
			return mcpError("name is required"), nil
		}
		if !deps.Projects.DriveAvailable() {
			return mcpError("drive is unavailable; folder operations are disabled"), nil
		}

		res, err := deps.Projects.Engine().EnsureFolder(ctx, parentID, name)
		if err != nil {
			return mcpError(fmt.Sprintf("ensure_folder failed: %v", err)), nil
		}
		return mcpJSON(res), nil
	}
}

func mcpEnsureFolderPath(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		rootID, err := req.RequireString("root_id")
		if err != nil {
			return mcpError("root_id is required"), nil
		}
		path, err := req.RequireString("path")
		if err != nil {
			return mcpError("path is required"), nil
		}
		if !deps.Projects.DriveAvailable() {
			return mcpError("drive is unavailable; folder operations are disabled"), nil
		}

		ref, created, err := deps.Projects.Engine().EnsureFolderPath(ctx, rootID, path)
		if err != nil {
			return mcpError(fmt.Sprintf("ensure_folder_path failed: %v", err)), nil
		}
		return mcpJSON(struct {
			Folder  folders.Ref `json:"folder"`
			Created bool        `json:"created"`
		}{ref, created}), nil
	}
}

func mcpFindDuplicateFolders(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		parentID, err := req.RequireString("parent_id")
		if err != nil {
			return mcpError("parent_id is required"), nil
		}
		if !deps.Projects.DriveAvailable() {
			return mcpError("drive is unavailable; folder operations are disabled"), nil
		}

		groups, err := deps.Projects.Engine().FindDuplicates(ctx, parentID)
		if err != nil {
			return mcpError(fmt.Sprintf("find_duplicate_folders failed: %v", err)), nil
		}
		if len(groups) == 0 {
			return mcpText("[]"), nil
		}
		return mcpJSON(groups), nil
	}
}

func mcpCleanupDuplicateFolders(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		parentID, err := req.RequireString("parent_id")
		if err != nil {
			return mcpError("parent_id is required"), nil
		}
		if !deps.Projects.DriveAvailable() {
			return mcpError("drive is unavailable; folder operations are disabled"), nil
		}

		report, err := deps.Projects.Engine().CleanupDuplicates(ctx, parentID, req.GetBool("dry_run", true))
		if err != nil {
			return mcpError(fmt.Sprintf("cleanup_duplicate_folders failed: %v", err)), nil
		}
		return mcpJSON(report), nil
	}
}
