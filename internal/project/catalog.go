package project

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spirrowgames/prismind/internal/rag"
	"github.com/spirrowgames/prismind/internal/tabular"
)

// CatalogSyncResult reports the outcome of SyncCatalog.
type CatalogSyncResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Synced  int    `json:"synced"`
	Skipped int    `json:"skipped"`
}

// SyncCatalog rebuilds a project's RAG catalog records from its catalog
// sheet. The sheet is the source of truth: the project's existing records
// are deleted wholesale and reinserted from the current rows, so records for
// rows removed from the sheet disappear from the index.
func (s *Service) SyncCatalog(ctx context.Context, projectID string) (CatalogSyncResult, error) {
	cfg, found, err := s.GetProject(ctx, projectID)
	if err != nil {
		return CatalogSyncResult{}, err
	}
	if !found {
		return CatalogSyncResult{Message: fmt.Sprintf("project %q not found", projectID)}, nil
	}
	if cfg.SpreadsheetID == "" {
		return CatalogSyncResult{Message: fmt.Sprintf("project %q has no spreadsheet", projectID)}, nil
	}
	if !s.sheets.Available() {
		return CatalogSyncResult{Message: "sheets is unavailable; cannot read the catalog"}, nil
	}
	if !s.records.Available() {
		return CatalogSyncResult{Message: "rag is unavailable; cannot rebuild the index"}, nil
	}

	entries, skipped, err := s.sheets.ReadCatalog(ctx, cfg.SpreadsheetID)
	if err != nil {
		return CatalogSyncResult{}, fmt.Errorf("reading catalog sheet: %w", err)
	}
	for i := range entries {
		entries[i].Project = projectID
	}

	if err := s.records.DeleteCatalogEntriesByProject(ctx, projectID); err != nil {
		return CatalogSyncResult{}, fmt.Errorf("clearing catalog records: %w", err)
	}
	if err := s.records.AddCatalogEntries(ctx, entries); err != nil {
		return CatalogSyncResult{}, fmt.Errorf("indexing catalog records: %w", err)
	}

	return CatalogSyncResult{
		Success: true,
		Message: fmt.Sprintf("synced %d catalog entries for project %q (%d malformed rows skipped)", len(entries), projectID, skipped),
		Synced:  len(entries),
		Skipped: skipped,
	}, nil
}

// UpsertResult reports the outcome of UpsertCatalogEntry.
type UpsertResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Updated bool   `json:"updated"`
	Indexed bool   `json:"indexed"`
}

// UpsertCatalogEntry writes a catalog entry to the project's sheet and then
// indexes it. The sheet write comes first: if indexing fails the sheet still
// holds the truth and the next sync repairs the index.
func (s *Service) UpsertCatalogEntry(ctx context.Context, projectID string, e tabular.CatalogEntry) (UpsertResult, error) {
	if e.DocID == "" {
		return UpsertResult{Message: "doc_id is required"}, nil
	}
	if e.Name == "" {
		return UpsertResult{Message: "name is required"}, nil
	}

	cfg, found, err := s.GetProject(ctx, projectID)
	if err != nil {
		return UpsertResult{}, err
	}
	if !found {
		return UpsertResult{Message: fmt.Sprintf("project %q not found", projectID)}, nil
	}
	if cfg.SpreadsheetID == "" {
		return UpsertResult{Message: fmt.Sprintf("project %q has no spreadsheet", projectID)}, nil
	}
	if !s.sheets.Available() {
		return UpsertResult{Message: "sheets is unavailable; the catalog sheet is the source of truth and must be written first"}, nil
	}

	e.Project = projectID
	if e.UpdatedAt == "" {
		e.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	if e.Creator == "" {
		e.Creator = s.opts.User
	}

	// doc_id lives in column C of the catalog sheet.
	row, err := s.sheets.FindRowByValue(ctx, cfg.SpreadsheetID, tabular.SheetCatalog, "C", e.DocID)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("locating catalog row: %w", err)
	}

	updated := row > 0
	if updated {
		rng := fmt.Sprintf("%s!A%d:M%d", tabular.SheetCatalog, row, row)
		if err := s.sheets.UpdateRange(ctx, cfg.SpreadsheetID, rng, [][]string{e.Row()}); err != nil {
			return UpsertResult{}, fmt.Errorf("updating catalog row: %w", err)
		}
	} else {
		if err := s.sheets.AppendCatalogEntry(ctx, cfg.SpreadsheetID, e); err != nil {
			return UpsertResult{}, fmt.Errorf("appending catalog row: %w", err)
		}
	}

	indexed := false
	if s.records.Available() {
		if err := s.records.UpsertCatalogEntry(ctx, e); err != nil {
			// Sheet write succeeded; the next sync repairs the index.
			slog.Warn("indexing catalog entry failed", "doc_id", e.DocID, "error", err)
		} else {
			indexed = true
		}
	}

	verb := "added"
	if updated {
		verb = "updated"
	}
	return UpsertResult{
		Success: true,
		Message: fmt.Sprintf("catalog entry %q %s", e.DocID, verb),
		Updated: updated,
		Indexed: indexed,
	}, nil
}

// SearchParams are the inputs to SearchCatalog. All filter fields are
// optional exact matches. Status defaults to "active"; pass "all" to match
// every status.
type SearchParams struct {
	ProjectID       string
	Query           string
	Limit           int
	DocType         string
	PhaseTask       string
	Feature         string
	ReferenceTiming string
	Status          string
}

// SearchCatalog runs a semantic search over a project's catalog. DocType and
// PhaseTask are indexed as metadata and filter inside the vector store. The
// remaining fields only live in the entry payload, so the search over-fetches
// twice the requested limit and filters client-side before trimming.
func (s *Service) SearchCatalog(ctx context.Context, p SearchParams) ([]rag.ScoredCatalogEntry, error) {
	if !s.records.Available() {
		return nil, fmt.Errorf("rag is unavailable")
	}
	if p.Limit <= 0 {
		p.Limit = 10
	}
	status := p.Status
	if status == "" {
		status = "active"
	}

	var extra rag.Where
	switch {
	case p.DocType != "" && p.PhaseTask != "":
		extra = rag.And(rag.Eq("doc_type", p.DocType), rag.Eq("phase_task", p.PhaseTask))
	case p.DocType != "":
		extra = rag.Eq("doc_type", p.DocType)
	case p.PhaseTask != "":
		extra = rag.Eq("phase_task", p.PhaseTask)
	}

	hits, err := s.records.SearchCatalog(ctx, p.ProjectID, p.Query, p.Limit*2, extra)
	if err != nil {
		return nil, err
	}

	out := make([]rag.ScoredCatalogEntry, 0, p.Limit)
	for _, h := range hits {
		if p.Feature != "" && h.Feature != p.Feature {
			continue
		}
		if p.ReferenceTiming != "" && h.ReferenceTiming != p.ReferenceTiming {
			continue
		}
		if status != "all" && h.Status != status {
			continue
		}
		out = append(out, h)
		if len(out) == p.Limit {
			break
		}
	}
	return out, nil
}
