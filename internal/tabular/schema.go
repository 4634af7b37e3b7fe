package tabular

import (
	"context"
	"fmt"
	"strings"
)

// Sheet names used within a project spreadsheet.
const (
	SheetCatalog  = "Catalog"
	SheetSummary  = "Summary"
	SheetProgress = "Progress"
)

// CatalogHeader is the fixed column layout of the Catalog sheet. Column
// order is load-bearing: rows are positional, not keyed.
var CatalogHeader = []string{
	"name", "source", "doc_id", "type", "project", "phase_task",
	"feature", "reference_timing", "related_docs", "keywords",
	"updated_at", "creator", "status",
}

var summaryHeader = []string{"section", "content", "updated_at"}

// CatalogRange covers all data rows of the Catalog sheet, header excluded.
const CatalogRange = SheetCatalog + "!A2:M"

// CatalogEntry is one row of the Catalog sheet. The sheet is the source of
// truth for catalog contents; the RAG index is a derived copy.
type CatalogEntry struct {
	Name            string   `json:"name"`
	Source          string   `json:"source"`
	DocID           string   `json:"doc_id"`
	Type            string   `json:"type"`
	Project         string   `json:"project"`
	PhaseTask       string   `json:"phase_task"`
	Feature         string   `json:"feature"`
	ReferenceTiming string   `json:"reference_timing"`
	RelatedDocs     string   `json:"related_docs"`
	Keywords        []string `json:"keywords"`
	UpdatedAt       string   `json:"updated_at"`
	Creator         string   `json:"creator"`
	Status          string   `json:"status"`
}

// Row converts the entry to its positional sheet representation. Keywords
// are joined with commas.
func (e CatalogEntry) Row() []string {
	return []string{
		e.Name, e.Source, e.DocID, e.Type, e.Project, e.PhaseTask,
		e.Feature, e.ReferenceTiming, e.RelatedDocs, strings.Join(e.Keywords, ","),
		e.UpdatedAt, e.Creator, e.Status,
	}
}

// ParseCatalogRow converts a sheet row back to a CatalogEntry. Short rows are
// accepted; missing trailing cells read as empty. A row with no doc_id is
// rejected since doc_id is the catalog key.
func ParseCatalogRow(row []string) (CatalogEntry, error) {
	cell := func(i int) string {
		if i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}

	e := CatalogEntry{
		Name:            cell(0),
		Source:          cell(1),
		DocID:           cell(2),
		Type:            cell(3),
		Project:         cell(4),
		PhaseTask:       cell(5),
		Feature:         cell(6),
		ReferenceTiming: cell(7),
		RelatedDocs:     cell(8),
		UpdatedAt:       cell(10),
		Creator:         cell(11),
		Status:          cell(12),
	}
	if kw := cell(9); kw != "" {
		for _, k := range strings.Split(kw, ",") {
			if k = strings.TrimSpace(k); k != "" {
				e.Keywords = append(e.Keywords, k)
			}
		}
	}
	if e.DocID == "" {
		return CatalogEntry{}, fmt.Errorf("catalog row has no doc_id: %v", row)
	}
	return e, nil
}

// ReadCatalog reads and parses all catalog rows of a project spreadsheet.
// Malformed rows are skipped and counted rather than failing the whole read.
func (c *Client) ReadCatalog(ctx context.Context, spreadsheetID string) ([]CatalogEntry, int, error) {
	rows, err := c.ReadRange(ctx, spreadsheetID, CatalogRange)
	if err != nil {
		return nil, 0, err
	}

	var (
		entries []CatalogEntry
		skipped int
	)
	for _, row := range rows {
		e, err := ParseCatalogRow(row)
		if err != nil {
			skipped++
			continue
		}
		entries = append(entries, e)
	}
	return entries, skipped, nil
}

// AppendCatalogEntry appends one catalog row.
func (c *Client) AppendCatalogEntry(ctx context.Context, spreadsheetID string, e CatalogEntry) error {
	return c.AppendRows(ctx, spreadsheetID, CatalogRange, [][]string{e.Row()})
}

// InitializeProjectSheets creates the Catalog, Summary, and Progress sheets
// in a fresh project spreadsheet and writes their header rows. Sheets that
// already exist are left untouched.
func (c *Client) InitializeProjectSheets(ctx context.Context, spreadsheetID string) error {
	templates := []struct {
		title  string
		header []string
	}{
		{SheetCatalog, CatalogHeader},
		{SheetSummary, summaryHeader},
		{SheetProgress, progressHeader},
	}

	existing, err := c.SheetNames(ctx, spreadsheetID)
	if err != nil {
		return fmt.Errorf("listing sheets: %w", err)
	}
	has := make(map[string]bool, len(existing))
	for _, n := range existing {
		has[n] = true
	}

	for _, tpl := range templates {
		if has[tpl.title] {
			continue
		}
		if err := c.AddSheet(ctx, spreadsheetID, tpl.title); err != nil {
			return err
		}
		headerRange := fmt.Sprintf("%s!A1:%c1", tpl.title, 'A'+len(tpl.header)-1)
		if err := c.UpdateRange(ctx, spreadsheetID, headerRange, [][]string{tpl.header}); err != nil {
			return fmt.Errorf("writing %s header: %w", tpl.title, err)
		}
	}
	return nil
}
