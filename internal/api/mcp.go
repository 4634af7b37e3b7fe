// Package api exposes the prismind operations as MCP tools. Handlers return
// tool errors for expected failures (guard rejections, missing projects,
// degraded backends) and reserve Go errors for protocol-level problems.
package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/spirrowgames/prismind/internal/doctypes"
	"github.com/spirrowgames/prismind/internal/project"
	"github.com/spirrowgames/prismind/internal/rag"
	"github.com/spirrowgames/prismind/internal/session"
)

// BackendStatus reports which backends answered their startup probes.
type BackendStatus struct {
	Drive  bool `json:"drive"`
	Sheets bool `json:"sheets"`
	RAG    bool `json:"rag"`
	Memory bool `json:"memory"`
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Projects *project.Service
	Sessions *session.Manager
	DocTypes *doctypes.Registry
	Records  *rag.Records
	Status   func() BackendStatus
}

// NewMCPServer creates an MCP server with all prismind tools registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"prismind",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("prismind: project knowledge manager over Drive, Sheets, RAG, and Memory backends."),
		server.WithRecovery(),
	)

	registerProjectTools(s, deps)
	registerCatalogTools(s, deps)
	registerFolderTools(s, deps)
	registerProgressTools(s, deps)
	registerSessionTools(s, deps)
	registerDocTypeTools(s, deps)

	s.AddResource(
		mcp.NewResource(
			"prismind://status",
			"Backend Status",
			mcp.WithResourceDescription("Availability of the Drive, Sheets, RAG, and Memory backends"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceStatus(deps),
	)

	return s
}

func mcpResourceStatus(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.Status())
		if err != nil {
			return nil, fmt.Errorf("marshaling status: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

// resolveProject applies the project precedence for tools with an optional
// "project" argument: explicit wins, then the current-project pointer.
func resolveProject(ctx context.Context, deps MCPDeps, req mcp.CallToolRequest) (string, *mcp.CallToolResult) {
	id, err := deps.Projects.ResolveProject(ctx, req.GetString("project", ""))
	if err != nil {
		return "", mcpError(fmt.Sprintf("resolving project: %v", err))
	}
	if id == "" {
		return "", mcpError("no project given and no current project set; call switch_project first")
	}
	return id, nil
}

// optString returns a pointer to the argument's value when it was provided,
// nil otherwise. Used by partial-update tools where absence means keep.
func optString(req mcp.CallToolRequest, key string) *string {
	if _, ok := req.GetArguments()[key]; !ok {
		return nil
	}
	v := req.GetString(key, "")
	return &v
}

func optStringSlice(req mcp.CallToolRequest, key string) *[]string {
	if _, ok := req.GetArguments()[key]; !ok {
		return nil
	}
	v := req.GetStringSlice(key, nil)
	return &v
}

// mcpJSONError marshals a rejected result payload into a tool error so the
// caller still sees the structured details (similar projects, messages).
func mcpJSONError(v any) *mcp.CallToolResult {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err))
	}
	return mcpError(string(b))
}

// mcpJSON marshals a result payload into a text response.
func mcpJSON(v any) *mcp.CallToolResult {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err))
	}
	return mcpText(string(b))
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
