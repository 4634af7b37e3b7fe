package api

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

func registerDocTypeTools(s *server.MCPServer, deps MCPDeps) {
	s.AddTool(
		mcp.NewTool("register_doc_type",
			mcp.WithDescription("Register (or update) a document type for catalog entries."),
			mcp.WithString("name", mcp.Description("Type name, lowercased"), mcp.Required()),
			mcp.WithString("description", mcp.Description("What documents of this type contain")),
		),
		mcpRegisterDocType(deps),
	)

	s.AddTool(
		mcp.NewTool("list_doc_types",
			mcp.WithDescription("List all registered document types."),
		),
		mcpListDocTypes(deps),
	)

	s.AddTool(
		mcp.NewTool("delete_doc_type",
			mcp.WithDescription("Delete a user-defined document type. Builtin types cannot be deleted."),
			mcp.WithString("name", mcp.Description("Type name"), mcp.Required()),
		),
		mcpDeleteDocType(deps),
	)

	s.AddTool(
		mcp.NewTool("match_doc_type",
			mcp.WithDescription("Resolve a free-form document type string against the registry, semantically when possible."),
			mcp.WithString("input", mcp.Description("The type string to resolve"), mcp.Required()),
		),
		mcpMatchDocType(deps),
	)
}

func mcpRegisterDocType(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("name")
		if err != nil {
			return mcpError("name is required"), nil
		}

		dt, err := deps.DocTypes.Register(ctx, name, req.GetString("description", ""))
		if err != nil {
			return mcpError(fmt.Sprintf("register_doc_type failed: %v", err)), nil
		}
		return mcpJSON(dt), nil
	}
}

func mcpListDocTypes(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		types, err := deps.DocTypes.List()
		if err != nil {
			return mcpError(fmt.Sprintf("list_doc_types failed: %v", err)), nil
		}
		return mcpJSON(types), nil
	}
}

func mcpDeleteDocType(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("name")
		if err != nil {
			return mcpError("name is required"), nil
		}

		if err := deps.DocTypes.Delete(ctx, name); err != nil {
			return mcpError(fmt.Sprintf("delete_doc_type failed: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("doc type %q deleted", name)), nil
	}
}

func mcpMatchDocType(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		input, err := req.RequireString("input")
		if err != nil {
			return mcpError("input is required"), nil
		}

		res, err := deps.DocTypes.Match(ctx, input)
		if err != nil {
			return mcpError(fmt.Sprintf("match_doc_type failed: %v", err)), nil
		}
		return mcpJSON(res), nil
	}
}
