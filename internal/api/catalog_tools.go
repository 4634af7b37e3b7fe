package api

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/spirrowgames/prismind/internal/project"
	"github.com/spirrowgames/prismind/internal/rag"
	"github.com/spirrowgames/prismind/internal/tabular"
)

func registerCatalogTools(s *server.MCPServer, deps MCPDeps) {
	s.AddTool(
		mcp.NewTool("sync_catalog",
			mcp.WithDescription("Rebuild the project's RAG catalog index from its catalog sheet. The sheet is the source of truth; removed rows disappear from the index."),
			mcp.WithString("project", mcp.Description("Project ID (defaults to the current project)")),
		),
		mcpSyncCatalog(deps),
	)

	s.AddTool(
		mcp.NewTool("upsert_catalog_entry",
			mcp.WithDescription("Add or update a catalog entry. Writes the catalog sheet first, then the RAG index."),
			mcp.WithString("name", mcp.Description("Document name"), mcp.Required()),
			mcp.WithString("doc_id", mcp.Description("Document ID, the catalog key"), mcp.Required()),
			mcp.WithString("project", mcp.Description("Project ID (defaults to the current project)")),
			mcp.WithString("type", mcp.Description("Document type, e.g. design or ops")),
			mcp.WithString("source", mcp.Description("Where the document lives, e.g. drive")),
			mcp.WithString("phase_task", mcp.Description("Phase or task the document belongs to")),
			mcp.WithString("feature", mcp.Description("Feature the document covers")),
			mcp.WithString("reference_timing", mcp.Description("When the document should be consulted")),
			mcp.WithString("related_docs", mcp.Description("Related document IDs")),
			mcp.WithArray("keywords", mcp.Description("Keywords for semantic search")),
			mcp.WithString("status", mcp.Description("Entry status, e.g. active")),
		),
		mcpUpsertCatalogEntry(deps),
	)

	s.AddTool(
		mcp.NewTool("search_catalog",
			mcp.WithDescription("Semantically search the project's catalog, with optional exact-match filters."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithString("project", mcp.Description("Project ID (defaults to the current project)")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
			mcp.WithString("doc_type", mcp.Description("Only entries of this document type")),
			mcp.WithString("phase_task", mcp.Description("Only entries for this phase or task")),
			mcp.WithString("feature", mcp.Description("Only entries covering this feature")),
			mcp.WithString("reference_timing", mcp.Description("Only entries consulted at this timing")),
			mcp.WithString("status", mcp.Description("Only entries with this status (default \"active\"; pass \"all\" for every status)")),
		),
		mcpSearchCatalog(deps),
	)

	s.AddTool(
		mcp.NewTool("add_knowledge",
			mcp.WithDescription("Store a free-form knowledge note for later semantic recall."),
			mcp.WithString("content", mcp.Description("The note to store"), mcp.Required()),
			mcp.WithString("project", mcp.Description("Project ID (defaults to the current project)")),
			mcp.WithArray("tags", mcp.Description("Optional tags")),
		),
		mcpAddKnowledge(deps),
	)

	s.AddTool(
		mcp.NewTool("update_knowledge",
			mcp.WithDescription("Update an existing knowledge note. Omitted fields keep their stored values."),
			mcp.WithString("knowledge_id", mcp.Description("ID of the note to update"), mcp.Required()),
			mcp.WithString("content", mcp.Description("New content (omit to keep unchanged)")),
			mcp.WithArray("tags", mcp.Description("New tags (omit to keep unchanged)")),
		),
		mcpUpdateKnowledge(deps),
	)

	s.AddTool(
		mcp.NewTool("search_knowledge",
			mcp.WithDescription("Semantically search stored knowledge notes."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithString("project", mcp.Description("Restrict to one project (defaults to the current project; pass \"*\" for all projects)")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpSearchKnowledge(deps),
	)
}

func mcpSyncCatalog(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, errResult := resolveProject(ctx, deps, req)
		if errResult != nil {
			return errResult, nil
		}

		res, err := deps.Projects.SyncCatalog(ctx, id)
		if err != nil {
			return mcpError(fmt.Sprintf("sync_catalog failed: %v", err)), nil
		}
		if !res.Success {
			return mcpJSONError(res), nil
		}
		return mcpJSON(res), nil
	}
}

func mcpUpsertCatalogEntry(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("name")
		if err != nil {
			return mcpError("name is required"), nil
		}
		docID, err := req.RequireString("doc_id")
		if err != nil {
			return mcpError("doc_id is required"), nil
		}
		id, errResult := resolveProject(ctx, deps, req)
		if errResult != nil {
			return errResult, nil
		}

		res, err := deps.Projects.UpsertCatalogEntry(ctx, id, tabular.CatalogEntry{
			Name:            name,
			DocID:           docID,
			Source:          req.GetString("source", "drive"),
			Type:            req.GetString("type", ""),
			PhaseTask:       req.GetString("phase_task", ""),
			Feature:         req.GetString("feature", ""),
			ReferenceTiming: req.GetString("reference_timing", ""),
			RelatedDocs:     req.GetString("related_docs", ""),
			Keywords:        req.GetStringSlice("keywords", nil),
			Status:          req.GetString("status", "active"),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("upsert_catalog_entry failed: %v", err)), nil
		}
		if !res.Success {
			return mcpJSONError(res), nil
		}
		return mcpJSON(res), nil
	}
}

func mcpSearchCatalog(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		id, errResult := resolveProject(ctx, deps, req)
		if errResult != nil {
			return errResult, nil
		}

		limit := req.GetInt("limit", 10)
		if limit > 50 {
			limit = 50
		}

		hits, err := deps.Projects.SearchCatalog(ctx, project.SearchParams{
			ProjectID:       id,
			Query:           query,
			Limit:           limit,
			DocType:         req.GetString("doc_type", ""),
			PhaseTask:       req.GetString("phase_task", ""),
			Feature:         req.GetString("feature", ""),
			ReferenceTiming: req.GetString("reference_timing", ""),
			Status:          req.GetString("status", ""),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("search_catalog failed: %v", err)), nil
		}
		if len(hits) == 0 {
			return mcpText("[]"), nil
		}
		return mcpJSON(hits), nil
	}
}

func mcpAddKnowledge(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		content, err := req.RequireString("content")
		if err != nil {
			return mcpError("content is required"), nil
		}
		if !deps.Records.Available() {
			return mcpError("rag is unavailable; knowledge cannot be stored right now"), nil
		}
		id, errResult := resolveProject(ctx, deps, req)
		if errResult != nil {
			return errResult, nil
		}

		entry, err := deps.Records.AddKnowledge(ctx, rag.KnowledgeEntry{
			Project: id,
			Content: content,
			Tags:    req.GetStringSlice("tags", nil),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("add_knowledge failed: %v", err)), nil
		}
		return mcpJSON(entry), nil
	}
}

func mcpUpdateKnowledge(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		knowledgeID, err := req.RequireString("knowledge_id")
		if err != nil {
			return mcpError("knowledge_id is required"), nil
		}
		if !deps.Records.Available() {
			return mcpError("rag is unavailable; knowledge cannot be updated right now"), nil
		}

		entry, found, err := deps.Records.UpdateKnowledge(ctx, knowledgeID, rag.KnowledgeUpdate{
			Content: optString(req, "content"),
			Tags:    optStringSlice(req, "tags"),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("update_knowledge failed: %v", err)), nil
		}
		if !found {
			return mcpError(fmt.Sprintf("knowledge entry %q not found", knowledgeID)), nil
		}
		return mcpJSON(entry), nil
	}
}

func mcpSearchKnowledge(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		if !deps.Records.Available() {
			return mcpError("rag is unavailable; knowledge search is disabled"), nil
		}

		projectID := req.GetString("project", "")
		if projectID == "*" {
			projectID = ""
		} else {
			id, errResult := resolveProject(ctx, deps, req)
			if errResult != nil {
				return errResult, nil
			}
			projectID = id
		}

		limit := req.GetInt("limit", 5)
		if limit > 50 {
			limit = 50
		}

		hits, err := deps.Records.SearchKnowledge(ctx, projectID, query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search_knowledge failed: %v", err)), nil
		}
		if len(hits) == 0 {
			return mcpText("[]"), nil
		}
		return mcpJSON(hits), nil
	}
}
