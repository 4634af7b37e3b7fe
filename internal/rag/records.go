package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/spirrowgames/prismind/internal/tabular"
)

// Record types stored in the shared collection, distinguished by the
// "type" metadata field.
const (
	TypeProjectConfig = "project_config"
	TypeCatalog       = "catalog"
	TypeKnowledge     = "knowledge"
)

// Document ID schemas. Every record's ID is derived from its keys so writes
// are naturally idempotent.
func ProjectDocID(projectID string) string { return "project:" + projectID }

func CatalogDocID(projectID, docID string) string {
	return "catalog:" + projectID + ":" + docID
}

// Knowledge notes have no natural key, so they get a random one. A
// timestamp would collide under concurrent writers.
func KnowledgeDocID() string {
	return "knowledge:" + uuid.NewString()
}

// ProjectConfig is the canonical description of a project, indexed in the
// vector store and mirrored to the local fallback store.
type ProjectConfig struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	DriveFolderID string    `json:"drive_folder_id"`
	SpreadsheetID string    `json:"spreadsheet_id"`
	Keywords      []string  `json:"keywords,omitempty"`
	Creator       string    `json:"creator,omitempty"`
	Status        string    `json:"status,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (p ProjectConfig) searchText() string {
	parts := []string{p.Name, p.Description}
	parts = append(parts, p.Keywords...)
	return strings.Join(parts, " ")
}

// KnowledgeEntry is a free-form note indexed for later semantic recall.
type KnowledgeEntry struct {
	ID        string    `json:"id"`
	Project   string    `json:"project"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags,omitempty"`
	Author    string    `json:"author,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Records layers the prismind record schemas over a generic Store.
type Records struct {
	store Store
}

// NewRecords wraps a store.
func NewRecords(store Store) *Records {
	return &Records{store: store}
}

// Store exposes the underlying store for callers needing raw access.
func (r *Records) Store() Store { return r.store }

// Available reports the underlying store's availability.
func (r *Records) Available() bool { return r.store.Available() }

func projectDoc(p ProjectConfig) (Document, error) {
	cfg, err := json.Marshal(p)
	if err != nil {
		return Document{}, fmt.Errorf("encoding project config: %w", err)
	}
	return Document{
		ID:      ProjectDocID(p.ID),
		Content: p.searchText(),
		Metadata: map[string]any{
			"type":       TypeProjectConfig,
			"project_id": p.ID,
			"name":       p.Name,
			"config":     string(cfg),
		},
	}, nil
}

func decodeProject(d Document) (ProjectConfig, error) {
	raw, _ := d.Metadata["config"].(string)
	if raw == "" {
		return ProjectConfig{}, fmt.Errorf("record %s has no config payload", d.ID)
	}
	var p ProjectConfig
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return ProjectConfig{}, fmt.Errorf("decoding project config %s: %w", d.ID, err)
	}
	return p, nil
}

// SaveProjectConfig upserts a project config record.
func (r *Records) SaveProjectConfig(ctx context.Context, p ProjectConfig) error {
	doc, err := projectDoc(p)
	if err != nil {
		return err
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

// GetProjectConfig loads a project config by project ID. The second return
// is false when no record exists.
func (r *Records) GetProjectConfig(ctx context.Context, projectID string) (ProjectConfig, bool, error) {
	docs, err := r.store.Get(ctx, ProjectDocID(projectID))
	if err != nil {
		return ProjectConfig{}, false, err
	}
	if len(docs) == 0 {
		return ProjectConfig{}, false, nil
	}
	p, err := decodeProject(docs[0])
	if err != nil {
		return ProjectConfig{}, false, err
	}
	return p, true, nil
}

// ListProjects returns all project configs.
func (r *Records) ListProjects(ctx context.Context) ([]ProjectConfig, error) {
	docs, err := r.store.GetByMetadata(ctx, Eq("type", TypeProjectConfig), 0)
	if err != nil {
		return nil, err
	}
	projects := make([]ProjectConfig, 0, len(docs))
	for _, d := range docs {
		p, err := decodeProject(d)
		if err != nil {
			// A corrupt record should not hide the rest.
			continue
		}
		projects = append(projects, p)
	}
	return projects, nil
}

// ScoredProject is a similarity hit from FindSimilarProjects.
type ScoredProject struct {
	ProjectConfig
	Score float64
}

// FindSimilarProjects searches existing project configs semantically and
// returns those scoring at or above threshold, best first.
func (r *Records) FindSimilarProjects(ctx context.Context, name, description string, threshold float64) ([]ScoredProject, error) {
	query := strings.TrimSpace(name + " " + description)
	hits, err := r.store.Query(ctx, query, 5, Eq("type", TypeProjectConfig))
	if err != nil {
		return nil, err
	}

	var out []ScoredProject
	for _, h := range hits {
		if h.Score < threshold {
			continue
		}
		p, err := decodeProject(h.Document)
		if err != nil {
			continue
		}
		out = append(out, ScoredProject{ProjectConfig: p, Score: h.Score})
	}
	return out, nil
}

// DeleteProjectConfig removes a project config record.
func (r *Records) DeleteProjectConfig(ctx context.Context, projectID string) error {
	return r.store.Delete(ctx, ProjectDocID(projectID))
}

func catalogDoc(e tabular.CatalogEntry) Document {
	content := strings.Join([]string{
		e.Name, e.Feature, e.PhaseTask, e.ReferenceTiming,
		strings.Join(e.Keywords, " "),
	}, " ")
	entry, _ := json.Marshal(e)
	return Document{
		ID:      CatalogDocID(e.Project, e.DocID),
		Content: content,
		Metadata: map[string]any{
			"type":       TypeCatalog,
			"project":    e.Project,
			"doc_id":     e.DocID,
			"name":       e.Name,
			"doc_type":   e.Type,
			"phase_task": e.PhaseTask,
			"status":     e.Status,
			"entry":      string(entry),
		},
	}
}

// DecodeCatalogHit recovers the full catalog entry from a query hit.
func DecodeCatalogHit(d Document) (tabular.CatalogEntry, error) {
	raw, _ := d.Metadata["entry"].(string)
	if raw == "" {
		return tabular.CatalogEntry{}, fmt.Errorf("record %s has no entry payload", d.ID)
	}
	var e tabular.CatalogEntry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return tabular.CatalogEntry{}, fmt.Errorf("decoding catalog entry %s: %w", d.ID, err)
	}
	return e, nil
}

// AddCatalogEntries indexes catalog entries, assuming their IDs are absent.
func (r *Records) AddCatalogEntries(ctx context.Context, entries []tabular.CatalogEntry) error {
	docs := make([]Document, len(entries))
	for i, e := range entries {
		docs[i] = catalogDoc(e)
	}
	return r.store.Add(ctx, docs...)
}

// UpsertCatalogEntry indexes or re-indexes a single catalog entry.
func (r *Records) UpsertCatalogEntry(ctx context.Context, e tabular.CatalogEntry) error {
	doc := catalogDoc(e)
	existing, err := r.store.Get(ctx, doc.ID)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return r.store.Update(ctx, doc)
	}
	return r.store.Add(ctx, doc)
}

// DeleteCatalogEntriesByProject removes every catalog record of a project.
func (r *Records) DeleteCatalogEntriesByProject(ctx context.Context, projectID string) error {
	return r.store.DeleteWhere(ctx, And(Eq("type", TypeCatalog), Eq("project", projectID)))
}

// ScoredCatalogEntry is a catalog search hit.
type ScoredCatalogEntry struct {
	tabular.CatalogEntry
	Score float64
}

// SearchCatalog runs a semantic search over a project's catalog records.
// extra narrows the search with additional metadata conditions evaluated by
// the backend; nil means none.
func (r *Records) SearchCatalog(ctx context.Context, projectID, query string, n int, extra Where) ([]ScoredCatalogEntry, error) {
	where := And(Eq("type", TypeCatalog), Eq("project", projectID))
	if extra != nil {
		where = And(where, extra)
	}
	hits, err := r.store.Query(ctx, query, n, where)
	if err != nil {
		return nil, err
	}

	out := make([]ScoredCatalogEntry, 0, len(hits))
	for _, h := range hits {
		e, err := DecodeCatalogHit(h.Document)
		if err != nil {
			continue
		}
		out = append(out, ScoredCatalogEntry{CatalogEntry: e, Score: h.Score})
	}
	return out, nil
}

// AddKnowledge indexes a knowledge note and returns it with its assigned ID.
func (r *Records) AddKnowledge(ctx context.Context, entry KnowledgeEntry) (KnowledgeEntry, error) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	entry.ID = KnowledgeDocID()

	if err := r.store.Add(ctx, knowledgeDoc(entry)); err != nil {
		return KnowledgeEntry{}, err
	}
	return entry, nil
}

func knowledgeDoc(e KnowledgeEntry) Document {
	return Document{
		ID:      e.ID,
		Content: e.Content,
		Metadata: map[string]any{
			"type":       TypeKnowledge,
			"project":    e.Project,
			"tags":       strings.Join(e.Tags, ","),
			"author":     e.Author,
			"created_at": e.CreatedAt.Format(time.RFC3339),
		},
	}
}

func decodeKnowledge(d Document) KnowledgeEntry {
	e := KnowledgeEntry{ID: d.ID, Content: d.Content}
	e.Project, _ = d.Metadata["project"].(string)
	e.Author, _ = d.Metadata["author"].(string)
	if tags, _ := d.Metadata["tags"].(string); tags != "" {
		for _, t := range strings.Split(tags, ",") {
			if t = strings.TrimSpace(t); t != "" {
				e.Tags = append(e.Tags, t)
			}
		}
	}
	if ts, _ := d.Metadata["created_at"].(string); ts != "" {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			e.CreatedAt = parsed
		}
	}
	return e
}

// KnowledgeUpdate are the partial inputs to UpdateKnowledge. Nil fields keep
// their stored values.
type KnowledgeUpdate struct {
	Content *string
	Tags    *[]string
}

// UpdateKnowledge rewrites a stored note in place. The second return is
// false when no note with that ID exists.
func (r *Records) UpdateKnowledge(ctx context.Context, id string, u KnowledgeUpdate) (KnowledgeEntry, bool, error) {
	docs, err := r.store.Get(ctx, id)
	if err != nil {
		return KnowledgeEntry{}, false, err
	}
	if len(docs) == 0 {
		return KnowledgeEntry{}, false, nil
	}

	entry := decodeKnowledge(docs[0])
	if u.Content != nil {
		entry.Content = *u.Content
	}
	if u.Tags != nil {
		entry.Tags = *u.Tags
	}
	if err := r.store.Update(ctx, knowledgeDoc(entry)); err != nil {
		return KnowledgeEntry{}, false, err
	}
	return entry, true, nil
}

// ScoredKnowledge is a knowledge search hit.
type ScoredKnowledge struct {
	KnowledgeEntry
	Score float64
}

// SearchKnowledge runs a semantic search over knowledge notes, optionally
// restricted to one project.
func (r *Records) SearchKnowledge(ctx context.Context, projectID, query string, n int) ([]ScoredKnowledge, error) {
	where := Eq("type", TypeKnowledge)
	if projectID != "" {
		where = And(where, Eq("project", projectID))
	}
	hits, err := r.store.Query(ctx, query, n, where)
	if err != nil {
		return nil, err
	}

	out := make([]ScoredKnowledge, 0, len(hits))
	for _, h := range hits {
		out = append(out, ScoredKnowledge{KnowledgeEntry: decodeKnowledge(h.Document), Score: h.Score})
	}
	return out, nil
}
