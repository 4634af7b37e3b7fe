package project

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/spirrowgames/prismind/internal/folders"
	"github.com/spirrowgames/prismind/internal/rag"
	"github.com/spirrowgames/prismind/internal/storage"
	"github.com/spirrowgames/prismind/internal/tabular"
)

// --- fakes ---

type fakeMemory struct {
	down    bool
	current map[string]string
}

func newFakeMemory() *fakeMemory {
	return &fakeMemory{current: make(map[string]string)}
}

func (m *fakeMemory) Available() bool { return !m.down }

func (m *fakeMemory) CurrentProject(_ context.Context, user string) (string, error) {
	return m.current[user], nil
}

func (m *fakeMemory) SetCurrentProject(_ context.Context, user, projectID string) error {
	m.current[user] = projectID
	return nil
}

func (m *fakeMemory) ClearCurrentProject(_ context.Context, user string) error {
	delete(m.current, user)
	return nil
}

type fakeDrive struct {
	down    bool
	seq     int
	folders map[string]*folders.Ref
	sheets  []string
}

func newFakeDrive() *fakeDrive {
	return &fakeDrive{folders: make(map[string]*folders.Ref)}
}

func (d *fakeDrive) Available() bool { return !d.down }

func (d *fakeDrive) nextID(prefix string) string {
	d.seq++
	return fmt.Sprintf("%s%03d", prefix, d.seq)
}

func (d *fakeDrive) seed(parentID, name string) folders.Ref {
	id := d.nextID("folder-")
	ref := &folders.Ref{
		ID: id, Name: name, MimeType: folders.MimeFolder,
		Parents:   []string{parentID},
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(d.seq) * time.Minute),
	}
	d.folders[id] = ref
	return *ref
}

func (d *fakeDrive) ListFolders(_ context.Context, parentID, name string) ([]folders.Ref, error) {
	var out []folders.Ref
	for _, f := range d.folders {
		if f.Trashed || f.Parents[0] != parentID {
			continue
		}
		if name != "" && f.Name != name {
			continue
		}
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (d *fakeDrive) CreateFolder(_ context.Context, parentID, name string) (folders.Ref, error) {
	return d.seed(parentID, name), nil
}

func (d *fakeDrive) Trash(_ context.Context, id string) error {
	f, ok := d.folders[id]
	if !ok {
		return fmt.Errorf("folder %s not found", id)
	}
	f.Trashed = true
	return nil
}

func (d *fakeDrive) CreateSpreadsheet(_ context.Context, parentID, name string) (folders.Ref, error) {
	id := d.nextID("sheet-")
	d.sheets = append(d.sheets, id)
	return folders.Ref{ID: id, Name: name, MimeType: folders.MimeSpreadsheet, Parents: []string{parentID}}, nil
}

type fakeSheets struct {
	down        bool
	catalogs    map[string][]tabular.CatalogEntry
	grids       map[string]map[string][][]string // spreadsheet -> sheet -> data rows (row 2 onward)
	initialized []string
}

func newFakeSheets() *fakeSheets {
	return &fakeSheets{
		catalogs: make(map[string][]tabular.CatalogEntry),
		grids:    make(map[string]map[string][][]string),
	}
}

func (s *fakeSheets) Available() bool { return !s.down }

func (s *fakeSheets) grid(spreadsheetID, sheet string) [][]string {
	return s.grids[spreadsheetID][sheet]
}

func (s *fakeSheets) setGrid(spreadsheetID, sheet string, rows [][]string) {
	if s.grids[spreadsheetID] == nil {
		s.grids[spreadsheetID] = make(map[string][][]string)
	}
	s.grids[spreadsheetID][sheet] = rows
}

func (s *fakeSheets) ReadCatalog(_ context.Context, spreadsheetID string) ([]tabular.CatalogEntry, int, error) {
	return s.catalogs[spreadsheetID], 0, nil
}

func (s *fakeSheets) AppendCatalogEntry(_ context.Context, spreadsheetID string, e tabular.CatalogEntry) error {
	s.catalogs[spreadsheetID] = append(s.catalogs[spreadsheetID], e)
	return nil
}

func (s *fakeSheets) ReadRange(_ context.Context, spreadsheetID, rng string) ([][]string, error) {
	sheet, _, _ := strings.Cut(rng, "!")
	return s.grid(spreadsheetID, sheet), nil
}

func (s *fakeSheets) UpdateRange(_ context.Context, spreadsheetID, rng string, rows [][]string) error {
	sheet, _, _ := strings.Cut(rng, "!")
	var row int
	if _, err := fmt.Sscanf(rng, sheet+"!A%d:", &row); err != nil {
		return fmt.Errorf("unexpected range %q", rng)
	}
	if sheet == tabular.SheetCatalog {
		e, err := tabular.ParseCatalogRow(rows[0])
		if err != nil {
			return err
		}
		s.catalogs[spreadsheetID][row-2] = e
		return nil
	}
	grid := s.grid(spreadsheetID, sheet)
	if row-2 >= len(grid) {
		return fmt.Errorf("update past end of %s: row %d", sheet, row)
	}
	grid[row-2] = rows[0]
	return nil
}

func (s *fakeSheets) AppendRows(_ context.Context, spreadsheetID, rng string, rows [][]string) error {
	sheet, _, _ := strings.Cut(rng, "!")
	s.setGrid(spreadsheetID, sheet, append(s.grid(spreadsheetID, sheet), rows...))
	return nil
}

func (s *fakeSheets) FindRowByValue(_ context.Context, spreadsheetID, sheet, column, value string) (int, error) {
	for i, e := range s.catalogs[spreadsheetID] {
		if e.DocID == value {
			return i + 2, nil
		}
	}
	return 0, nil
}

func (s *fakeSheets) InitializeProjectSheets(_ context.Context, spreadsheetID string) error {
	s.initialized = append(s.initialized, spreadsheetID)
	return nil
}

// --- harness ---

type harness struct {
	svc    *Service
	rag    *rag.Records
	memory *fakeMemory
	drive  *fakeDrive
	sheets *fakeSheets
	local  *storage.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	local, err := storage.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { local.Close() })

	h := &harness{
		rag:    rag.NewRecords(rag.NewMemStore()),
		memory: newFakeMemory(),
		drive:  newFakeDrive(),
		sheets: newFakeSheets(),
		local:  local,
	}
	h.svc = NewService(h.rag, h.memory, h.sheets, h.drive, h.local, Options{
		User:                "alice",
		ProjectsFolderID:    "projects-root",
		SimilarityThreshold: 0.7,
	})
	return h
}

func (h *harness) mustSetup(t *testing.T, p SetupParams) rag.ProjectConfig {
	t.Helper()
	res, err := h.svc.SetupProject(context.Background(), p)
	if err != nil {
		t.Fatalf("SetupProject(%s): %v", p.ID, err)
	}
	if !res.Success {
		t.Fatalf("SetupProject(%s) rejected: %s", p.ID, res.Message)
	}
	return res.Project
}

// --- tests ---

func TestSetupProject_ProvisionsAndActivates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.svc.SetupProject(ctx, SetupParams{
		ID: "atlas", Name: "Atlas", Description: "game backend", Keywords: []string{"game"},
	})
	if err != nil {
		t.Fatalf("SetupProject: %v", err)
	}
	if !res.Success {
		t.Fatalf("rejected: %s", res.Message)
	}
	if res.Project.DriveFolderID == "" || res.Project.SpreadsheetID == "" {
		t.Errorf("project not provisioned: %+v", res.Project)
	}
	if !res.FolderCreated {
		t.Error("FolderCreated = false for fresh folder")
	}
	if len(h.sheets.initialized) != 1 {
		t.Errorf("sheets initialized = %v", h.sheets.initialized)
	}

	// Indexed in RAG and mirrored locally.
	if _, found, _ := h.rag.GetProjectConfig(ctx, "atlas"); !found {
		t.Error("config not in RAG")
	}
	if _, err := h.local.GetProject("atlas"); err != nil {
		t.Errorf("config not in local cache: %v", err)
	}

	// Becomes the current project in both pointer stores.
	if h.memory.current["alice"] != "atlas" {
		t.Errorf("memory pointer = %q", h.memory.current["alice"])
	}
	if got, _ := h.local.CurrentProject("alice"); got != "atlas" {
		t.Errorf("local pointer = %q", got)
	}
}

func TestSetupProject_IDCollisionIsAlwaysFatal(t *testing.T) {
	h := newHarness(t)
	h.mustSetup(t, SetupParams{ID: "atlas", Name: "Atlas"})

	res, err := h.svc.SetupProject(context.Background(), SetupParams{
		ID: "atlas", Name: "Different Name", Force: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Error("ID collision accepted despite force")
	}
	if !res.DuplicateID {
		t.Errorf("result = %+v, want DuplicateID", res)
	}
}

func TestSetupProject_NameCollisionIsFatalEvenWithForce(t *testing.T) {
	h := newHarness(t)
	h.mustSetup(t, SetupParams{ID: "atlas", Name: "Atlas"})

	res, err := h.svc.SetupProject(context.Background(), SetupParams{
		ID: "atlas-two", Name: "atlas", Force: true, // case-insensitive match
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Error("name collision accepted despite force")
	}
	if res.DuplicateName != "atlas" {
		t.Errorf("DuplicateName = %q, want the colliding project's ID", res.DuplicateName)
	}
}

func TestSetupProject_SimilarProjectNeedsForce(t *testing.T) {
	h := newHarness(t)
	h.mustSetup(t, SetupParams{ID: "atlas", Name: "Atlas", Description: "multiplayer game backend server"})

	params := SetupParams{ID: "atlas-two", Name: "Atlas Next", Description: "multiplayer game backend server"}
	res, err := h.svc.SetupProject(context.Background(), params)
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Fatal("similar project accepted without force")
	}
	if !res.NeedsConfirmation || len(res.SimilarProjects) == 0 {
		t.Errorf("result = %+v, want similarity rejection", res)
	}

	params.Force = true
	res, err = h.svc.SetupProject(context.Background(), params)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Errorf("force did not bypass similarity guard: %s", res.Message)
	}
}

func TestSetupProject_InvalidID(t *testing.T) {
	h := newHarness(t)
	res, err := h.svc.SetupProject(context.Background(), SetupParams{ID: "Bad ID!", Name: "X"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Error("invalid ID accepted")
	}
}

func TestSetupProject_RAGDownStillCreatesLocally(t *testing.T) {
	h := newHarness(t)
	downRecords := rag.NewRecords(unavailableStore{})
	h.svc = NewService(downRecords, h.memory, h.sheets, h.drive, h.local, Options{
		User: "alice", ProjectsFolderID: "projects-root", SimilarityThreshold: 0.7,
	})

	res, err := h.svc.SetupProject(context.Background(), SetupParams{ID: "atlas", Name: "Atlas"})
	if err != nil {
		t.Fatalf("SetupProject: %v", err)
	}
	if !res.Success {
		t.Fatalf("rejected: %s", res.Message)
	}
	if len(res.Degraded) == 0 || res.Degraded[0] != "rag" {
		t.Errorf("degraded = %v", res.Degraded)
	}
	if _, err := h.local.GetProject("atlas"); err != nil {
		t.Errorf("local cache missing project: %v", err)
	}
}

func TestSetupProject_DriveDownDegradesProvisioning(t *testing.T) {
	h := newHarness(t)
	h.drive.down = true

	res, err := h.svc.SetupProject(context.Background(), SetupParams{ID: "atlas", Name: "Atlas"})
	if err != nil {
		t.Fatalf("SetupProject: %v", err)
	}
	if !res.Success {
		t.Fatalf("rejected: %s", res.Message)
	}
	if res.Project.DriveFolderID != "" || res.Project.SpreadsheetID != "" {
		t.Errorf("provisioned despite drive being down: %+v", res.Project)
	}
	for _, want := range []string{"folder", "spreadsheet"} {
		found := false
		for _, d := range res.Degraded {
			if d == want {
				found = true
			}
		}
		if !found {
			t.Errorf("degraded = %v, missing %q", res.Degraded, want)
		}
	}
}

// unavailableStore reports Available() == false; every call on it would be a
// bug, so all methods panic.
type unavailableStore struct{}

func (unavailableStore) Available() bool { return false }
func (unavailableStore) Add(context.Context, ...rag.Document) error {
	panic("store is unavailable")
}
func (unavailableStore) Update(context.Context, ...rag.Document) error {
	panic("store is unavailable")
}
func (unavailableStore) Delete(context.Context, ...string) error { panic("store is unavailable") }
func (unavailableStore) DeleteWhere(context.Context, rag.Where) error {
	panic("store is unavailable")
}
func (unavailableStore) Get(context.Context, ...string) ([]rag.Document, error) {
	panic("store is unavailable")
}
func (unavailableStore) GetByMetadata(context.Context, rag.Where, int) ([]rag.Document, error) {
	panic("store is unavailable")
}
func (unavailableStore) Query(context.Context, string, int, rag.Where) ([]rag.Scored, error) {
	panic("store is unavailable")
}

func TestUpdateProject_PartialAndNoOp(t *testing.T) {
	h := newHarness(t)
	h.mustSetup(t, SetupParams{ID: "atlas", Name: "Atlas", Description: "original"})
	ctx := context.Background()

	desc := "revised"
	res, err := h.svc.UpdateProject(ctx, UpdateParams{ID: "atlas", Description: &desc})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || len(res.UpdatedFields) != 1 || res.UpdatedFields[0] != "description" {
		t.Errorf("result = %+v", res)
	}
	if res.Project.Name != "Atlas" {
		t.Errorf("nil field was not kept: %+v", res.Project)
	}

	// Same value again: a no-op that writes nothing.
	before := res.Project.UpdatedAt
	res, err = h.svc.UpdateProject(ctx, UpdateParams{ID: "atlas", Description: &desc})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || len(res.UpdatedFields) != 0 {
		t.Errorf("no-op result = %+v", res)
	}
	if !res.Project.UpdatedAt.Equal(before) {
		t.Error("no-op bumped UpdatedAt")
	}
}

func TestUpdateProject_Unknown(t *testing.T) {
	h := newHarness(t)
	res, err := h.svc.UpdateProject(context.Background(), UpdateParams{ID: "ghost"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Error("update of unknown project succeeded")
	}
}

func TestDeleteProject_RequiresConfirmAndCascades(t *testing.T) {
	h := newHarness(t)
	cfg := h.mustSetup(t, SetupParams{ID: "atlas", Name: "Atlas"})
	ctx := context.Background()

	// Index some catalog records for the project.
	if err := h.rag.AddCatalogEntries(ctx, []tabular.CatalogEntry{
		{Name: "Doc", DocID: "d1", Project: "atlas"},
	}); err != nil {
		t.Fatal(err)
	}

	res, err := h.svc.DeleteProject(ctx, "atlas", false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Fatal("delete succeeded without confirm")
	}

	res, err = h.svc.DeleteProject(ctx, "atlas", true)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || !res.CatalogCleared {
		t.Fatalf("result = %+v", res)
	}

	if _, found, _ := h.rag.GetProjectConfig(ctx, "atlas"); found {
		t.Error("config still in RAG")
	}
	hits, _ := h.rag.SearchCatalog(ctx, "atlas", "doc", 10, nil)
	if len(hits) != 0 {
		t.Error("catalog records survived the cascade")
	}
	if got, _ := h.local.CurrentProject("alice"); got != "" {
		t.Errorf("local pointer = %q after delete", got)
	}
	if h.memory.current["alice"] != "" {
		t.Errorf("memory pointer = %q after delete", h.memory.current["alice"])
	}

	// Drive content stays untouched: folder still live.
	live, _ := h.drive.ListFolders(ctx, "projects-root", "Atlas")
	if len(live) != 1 || live[0].ID != cfg.DriveFolderID {
		t.Errorf("drive folder was modified: %v", live)
	}
}

func TestSwitchProject(t *testing.T) {
	h := newHarness(t)
	h.mustSetup(t, SetupParams{ID: "atlas", Name: "Atlas"})
	h.mustSetup(t, SetupParams{ID: "zeus", Name: "Zeus"})
	ctx := context.Background()

	res, err := h.svc.SwitchProject(ctx, "atlas")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("rejected: %s", res.Message)
	}
	if h.memory.current["alice"] != "atlas" {
		t.Errorf("memory pointer = %q", h.memory.current["alice"])
	}

	res, err = h.svc.SwitchProject(ctx, "ghost")
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Error("switch to unknown project succeeded")
	}
}

func TestResolveProject_Precedence(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.memory.current["alice"] = "from-memory"
	if err := h.local.SetCurrentProject("alice", "from-local"); err != nil {
		t.Fatal(err)
	}

	got, err := h.svc.ResolveProject(ctx, "explicit")
	if err != nil || got != "explicit" {
		t.Errorf("explicit: got %q, %v", got, err)
	}

	got, err = h.svc.ResolveProject(ctx, "")
	if err != nil || got != "from-memory" {
		t.Errorf("memory: got %q, %v", got, err)
	}

	h.memory.down = true
	got, err = h.svc.ResolveProject(ctx, "")
	if err != nil || got != "from-local" {
		t.Errorf("local fallback: got %q, %v", got, err)
	}
}

func TestGetProject_FallsBackToLocalCache(t *testing.T) {
	h := newHarness(t)
	h.mustSetup(t, SetupParams{ID: "atlas", Name: "Atlas"})

	// Swap in a dead RAG store; the local mirror still answers.
	h.svc = NewService(rag.NewRecords(unavailableStore{}), h.memory, h.sheets, h.drive, h.local, Options{User: "alice"})

	cfg, found, err := h.svc.GetProject(context.Background(), "atlas")
	if err != nil || !found {
		t.Fatalf("GetProject: found=%v err=%v", found, err)
	}
	if cfg.Name != "Atlas" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestListProjects_MergesRAGAndCache(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// One project only in the local cache, one in both with diverged names.
	if err := h.local.SaveProject(rag.ProjectConfig{ID: "cached-only", Name: "Cached"}); err != nil {
		t.Fatal(err)
	}
	if err := h.local.SaveProject(rag.ProjectConfig{ID: "both", Name: "Stale"}); err != nil {
		t.Fatal(err)
	}
	if err := h.rag.SaveProjectConfig(ctx, rag.ProjectConfig{ID: "both", Name: "Fresh"}); err != nil {
		t.Fatal(err)
	}

	list, err := h.svc.ListProjects(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("list = %+v", list)
	}
	if list[0].ID != "both" || list[0].Name != "Fresh" {
		t.Errorf("RAG did not win the merge: %+v", list[0])
	}
	if list[1].ID != "cached-only" {
		t.Errorf("list = %+v", list)
	}
}

func TestSyncProjectsFromDrive(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	registered := h.mustSetup(t, SetupParams{ID: "atlas", Name: "Atlas"})
	h.drive.seed("projects-root", "New Initiative")
	// Orphan: registered project whose folder disappears.
	h.drive.folders[registered.DriveFolderID].Trashed = true

	res, err := h.svc.SyncProjectsFromDrive(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Unregistered) != 1 || res.Unregistered[0] != "New Initiative" {
		t.Errorf("unregistered = %v", res.Unregistered)
	}
	if len(res.Orphaned) != 1 || res.Orphaned[0] != "atlas" {
		t.Errorf("orphaned = %v", res.Orphaned)
	}
	if len(res.Created) != 0 {
		t.Errorf("dry run created %v", res.Created)
	}

	res, err = h.svc.SyncProjectsFromDrive(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Created) != 1 || res.Created[0] != "new-initiative" {
		t.Errorf("created = %v", res.Created)
	}
	if _, found, _ := h.svc.GetProject(ctx, "new-initiative"); !found {
		t.Error("registered project not readable")
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct{ in, want string }{
		{"New Initiative", "new-initiative"},
		{"  Atlas 2.0  ", "atlas-20"},
		{"___", ""},
		{"Ops/Infra", "opsinfra"},
	}
	for _, tt := range tests {
		if got := slugify(tt.in); got != tt.want {
			t.Errorf("slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidProjectID(t *testing.T) {
	for id, want := range map[string]bool{
		"atlas":     true,
		"atlas-2":   true,
		"a_b":       true,
		"9lives":    true,
		"":          false,
		"Atlas":     false,
		"-lead":     false,
		"has space": false,
	} {
		if got := ValidProjectID(id); got != want {
			t.Errorf("ValidProjectID(%q) = %v, want %v", id, got, want)
		}
	}
}

func TestSyncCatalog_FullReplace(t *testing.T) {
	h := newHarness(t)
	cfg := h.mustSetup(t, SetupParams{ID: "atlas", Name: "Atlas"})
	ctx := context.Background()

	// Stale record that is not in the sheet anymore.
	if err := h.rag.AddCatalogEntries(ctx, []tabular.CatalogEntry{
		{Name: "Removed Doc", DocID: "gone", Project: "atlas"},
	}); err != nil {
		t.Fatal(err)
	}

	h.sheets.catalogs[cfg.SpreadsheetID] = []tabular.CatalogEntry{
		{Name: "API Design", DocID: "d1", Type: "design"},
		{Name: "Deploy Guide", DocID: "d2", Type: "ops"},
	}

	res, err := h.svc.SyncCatalog(ctx, "atlas")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.Synced != 2 {
		t.Fatalf("result = %+v", res)
	}

	hits, _ := h.rag.SearchCatalog(ctx, "atlas", "removed doc", 10, nil)
	for _, hit := range hits {
		if hit.DocID == "gone" {
			t.Error("stale record survived the full replace")
		}
	}
	hits, _ = h.rag.SearchCatalog(ctx, "atlas", "api design", 10, nil)
	if len(hits) == 0 || hits[0].DocID != "d1" {
		t.Errorf("hits = %+v", hits)
	}
	// Project is stamped onto every indexed entry.
	if hits[0].Project != "atlas" {
		t.Errorf("project = %q", hits[0].Project)
	}
}

func TestUpsertCatalogEntry_AppendThenUpdate(t *testing.T) {
	h := newHarness(t)
	cfg := h.mustSetup(t, SetupParams{ID: "atlas", Name: "Atlas"})
	ctx := context.Background()

	res, err := h.svc.UpsertCatalogEntry(ctx, "atlas", tabular.CatalogEntry{
		Name: "API Design", DocID: "d1", Type: "design",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.Updated {
		t.Fatalf("first upsert = %+v", res)
	}
	if !res.Indexed {
		t.Error("entry not indexed")
	}
	if len(h.sheets.catalogs[cfg.SpreadsheetID]) != 1 {
		t.Fatalf("sheet rows = %v", h.sheets.catalogs[cfg.SpreadsheetID])
	}
	if got := h.sheets.catalogs[cfg.SpreadsheetID][0]; got.Creator != "alice" || got.UpdatedAt == "" {
		t.Errorf("entry not stamped: %+v", got)
	}

	res, err = h.svc.UpsertCatalogEntry(ctx, "atlas", tabular.CatalogEntry{
		Name: "API Design v2", DocID: "d1", Type: "design",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || !res.Updated {
		t.Fatalf("second upsert = %+v", res)
	}
	rows := h.sheets.catalogs[cfg.SpreadsheetID]
	if len(rows) != 1 || rows[0].Name != "API Design v2" {
		t.Errorf("sheet rows = %+v", rows)
	}
}

func TestUpsertCatalogEntry_SheetDownRefusesWrite(t *testing.T) {
	h := newHarness(t)
	h.mustSetup(t, SetupParams{ID: "atlas", Name: "Atlas"})
	h.sheets.down = true

	res, err := h.svc.UpsertCatalogEntry(context.Background(), "atlas", tabular.CatalogEntry{
		Name: "Doc", DocID: "d1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Error("upsert succeeded with sheets down; the sheet must be written first")
	}
	// The index must not have been touched either.
	hits, _ := h.rag.SearchCatalog(context.Background(), "atlas", "doc", 10, nil)
	if len(hits) != 0 {
		t.Errorf("index written despite sheet failure: %+v", hits)
	}
}

func TestSearchCatalog_FiltersAndLimit(t *testing.T) {
	h := newHarness(t)
	h.mustSetup(t, SetupParams{ID: "atlas", Name: "Atlas"})
	ctx := context.Background()

	var entries []tabular.CatalogEntry
	for i := 0; i < 6; i++ {
		docType := "design"
		if i%2 == 1 {
			docType = "ops"
		}
		entries = append(entries, tabular.CatalogEntry{
			Name:    fmt.Sprintf("auth design doc %d", i),
			DocID:   fmt.Sprintf("d%d", i),
			Project: "atlas",
			Type:    docType,
			Feature: "auth",
			Status:  "active",
		})
	}
	entries = append(entries, tabular.CatalogEntry{
		Name:    "auth design doc retired",
		DocID:   "old",
		Project: "atlas",
		Type:    "design",
		Feature: "auth",
		Status:  "archived",
	})
	if err := h.rag.AddCatalogEntries(ctx, entries); err != nil {
		t.Fatal(err)
	}

	hits, err := h.svc.SearchCatalog(ctx, SearchParams{
		ProjectID: "atlas", Query: "auth design doc", Limit: 2, DocType: "design",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("hits = %d, want limit 2", len(hits))
	}
	for _, hit := range hits {
		if hit.Type != "design" {
			t.Errorf("filter leak: %+v", hit)
		}
	}

	// Archived entries are hidden unless status is widened.
	hits, err = h.svc.SearchCatalog(ctx, SearchParams{
		ProjectID: "atlas", Query: "auth design doc retired", Limit: 20,
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, hit := range hits {
		if hit.Status != "active" {
			t.Errorf("archived entry leaked through default status: %+v", hit)
		}
	}
	hits, err = h.svc.SearchCatalog(ctx, SearchParams{
		ProjectID: "atlas", Query: "auth design doc retired", Limit: 20, Status: "all",
	})
	if err != nil {
		t.Fatal(err)
	}
	foundArchived := false
	for _, hit := range hits {
		if hit.DocID == "old" {
			foundArchived = true
		}
	}
	if !foundArchived {
		t.Error("status \"all\" did not surface the archived entry")
	}

	// Feature is a post-filter; a non-matching value empties the result.
	hits, err = h.svc.SearchCatalog(ctx, SearchParams{
		ProjectID: "atlas", Query: "auth design doc", Limit: 20, Feature: "billing",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Errorf("feature filter leak: %+v", hits)
	}
}

func TestSyncCatalog_UnknownProject(t *testing.T) {
	h := newHarness(t)
	res, err := h.svc.SyncCatalog(context.Background(), "ghost")
	if err != nil {
		t.Fatal(err)
	}
	if res.Success || !strings.Contains(res.Message, "not found") {
		t.Errorf("result = %+v", res)
	}
}
