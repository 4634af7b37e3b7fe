// Package doctypes manages the registry of document classifications used by
// catalog entries. The registry of record is the local SQLite store; when
// the RAG server is up the types are also indexed there so free-form type
// strings can be matched semantically.
package doctypes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spirrowgames/prismind/internal/rag"
	"github.com/spirrowgames/prismind/internal/storage"
)

// Defaults are the builtin document types seeded on startup.
var Defaults = []storage.DocType{
	{Name: "design", Description: "design documents and architecture notes", Builtin: true},
	{Name: "spec", Description: "feature and API specifications", Builtin: true},
	{Name: "meeting_notes", Description: "meeting minutes and decisions", Builtin: true},
	{Name: "retrospective", Description: "sprint retrospectives and postmortems", Builtin: true},
	{Name: "ops", Description: "runbooks, deployment and operations guides", Builtin: true},
	{Name: "reference", Description: "external references and research material", Builtin: true},
	{Name: "report", Description: "status reports and progress summaries", Builtin: true},
}

func docTypeRecordID(name string) string { return "doctype:" + name }

// Registry implements the document type operations.
type Registry struct {
	local     *storage.Store
	store     rag.Store
	threshold float64
}

// NewRegistry builds a Registry. threshold gates Match; store may be
// unavailable, in which case matching falls back to local token overlap.
func NewRegistry(local *storage.Store, store rag.Store, threshold float64) *Registry {
	return &Registry{local: local, store: store, threshold: threshold}
}

// EnsureDefaults seeds the builtin types and indexes every registered type.
// Indexing failures are logged; the local registry is authoritative.
func (r *Registry) EnsureDefaults(ctx context.Context) error {
	for _, dt := range Defaults {
		if err := r.local.SaveDocType(dt); err != nil {
			return fmt.Errorf("seeding doc type %q: %w", dt.Name, err)
		}
	}
	if r.store.Available() {
		types, err := r.local.ListDocTypes()
		if err != nil {
			return err
		}
		for _, dt := range types {
			if err := r.index(ctx, dt); err != nil {
				slog.Warn("indexing doc type failed", "name", dt.Name, "error", err)
			}
		}
	}
	return nil
}

func (r *Registry) index(ctx context.Context, dt storage.DocType) error {
	doc := rag.Document{
		ID:      docTypeRecordID(dt.Name),
		Content: dt.Name + " " + dt.Description,
		Metadata: map[string]any{
			"type": "doc_type",
			"name": dt.Name,
		},
	}
	existing, err := r.store.Get(ctx, doc.ID)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return r.store.Update(ctx, doc)
	}
	return r.store.Add(ctx, doc)
}

// Register adds or updates a user-defined document type.
func (r *Registry) Register(ctx context.Context, name, description string) (storage.DocType, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return storage.DocType{}, fmt.Errorf("doc type name is required")
	}

	dt := storage.DocType{Name: name, Description: description}
	if err := r.local.SaveDocType(dt); err != nil {
		return storage.DocType{}, err
	}
	saved, err := r.local.GetDocType(name)
	if err != nil {
		return storage.DocType{}, err
	}

	if r.store.Available() {
		if err := r.index(ctx, saved); err != nil {
			slog.Warn("indexing doc type failed", "name", name, "error", err)
		}
	}
	return saved, nil
}

// List returns all registered document types.
func (r *Registry) List() ([]storage.DocType, error) {
	return r.local.ListDocTypes()
}

// Delete removes a user-defined type and its index record. Builtin types
// cannot be deleted.
func (r *Registry) Delete(ctx context.Context, name string) error {
	if err := r.local.DeleteDocType(name); err != nil {
		return err
	}
	if r.store.Available() {
		if err := r.store.Delete(ctx, docTypeRecordID(name)); err != nil {
			slog.Warn("removing doc type index record failed", "name", name, "error", err)
		}
	}
	return nil
}

// MatchResult reports how an input string mapped onto the registry.
type MatchResult struct {
	Matched bool            `json:"matched"`
	Type    storage.DocType `json:"type,omitempty"`
	Score   float64         `json:"score,omitempty"`
	// Suggestion is set when nothing matched, hinting at registering the
	// input as a new type.
	Suggestion string `json:"suggestion,omitempty"`
}

// Match resolves a free-form document type string against the registry. An
// exact name match wins outright; otherwise the registered types are scored
// semantically (or by token overlap when RAG is down) and the best score at
// or above the threshold is taken.
func (r *Registry) Match(ctx context.Context, input string) (MatchResult, error) {
	input = strings.ToLower(strings.TrimSpace(input))
	if input == "" {
		return MatchResult{}, fmt.Errorf("doc type input is required")
	}

	if dt, err := r.local.GetDocType(input); err == nil {
		return MatchResult{Matched: true, Type: dt, Score: 1}, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return MatchResult{}, err
	}

	var (
		bestName  string
		bestScore float64
	)
	if r.store.Available() {
		hits, err := r.store.Query(ctx, input, 3, rag.Eq("type", "doc_type"))
		if err != nil {
			return MatchResult{}, err
		}
		for _, h := range hits {
			if name, _ := h.Metadata["name"].(string); name != "" && h.Score > bestScore {
				bestName, bestScore = name, h.Score
			}
		}
	} else {
		types, err := r.local.ListDocTypes()
		if err != nil {
			return MatchResult{}, err
		}
		for _, dt := range types {
			score := overlapScore(input, dt.Name+" "+dt.Description)
			if score > bestScore {
				bestName, bestScore = dt.Name, score
			}
		}
	}

	if bestName == "" || bestScore < r.threshold {
		return MatchResult{
			Suggestion: fmt.Sprintf("no registered doc type matches %q; register it with register_doc_type", input),
		}, nil
	}

	dt, err := r.local.GetDocType(bestName)
	if err != nil {
		return MatchResult{}, err
	}
	return MatchResult{Matched: true, Type: dt, Score: bestScore}, nil
}

// overlapScore is the fraction of input tokens found in the candidate text.
func overlapScore(input, text string) float64 {
	inputTokens := strings.Fields(strings.ToLower(strings.ReplaceAll(input, "_", " ")))
	if len(inputTokens) == 0 {
		return 0
	}
	candidate := make(map[string]bool)
	for _, t := range strings.Fields(strings.ToLower(strings.ReplaceAll(text, "_", " "))) {
		candidate[t] = true
	}
	matched := 0
	for _, t := range inputTokens {
		if candidate[t] {
			matched++
		}
	}
	return float64(matched) / float64(len(inputTokens))
}
