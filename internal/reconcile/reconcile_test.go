package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/spirrowgames/prismind/internal/folders"
)

// fakeStore is an in-memory folder store safe for concurrent use. Creation
// timestamps come from a logical clock so ordering is deterministic.
type fakeStore struct {
	mu       sync.Mutex
	seq      int
	folders  map[string]*folders.Ref
	trashErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{folders: make(map[string]*folders.Ref)}
}

func (s *fakeStore) seed(parentID, name string, createdAt time.Time) folders.Ref {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	id := fmt.Sprintf("f%03d", s.seq)
	ref := &folders.Ref{
		ID:        id,
		Name:      name,
		MimeType:  folders.MimeFolder,
		Parents:   []string{parentID},
		CreatedAt: createdAt,
	}
	s.folders[id] = ref
	return *ref
}

func (s *fakeStore) ListFolders(_ context.Context, parentID, name string) ([]folders.Ref, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []folders.Ref
	for _, f := range s.folders {
		if f.Trashed || f.Parents[0] != parentID {
			continue
		}
		if name != "" && f.Name != name {
			continue
		}
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *fakeStore) CreateFolder(_ context.Context, parentID, name string) (folders.Ref, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	id := fmt.Sprintf("f%03d", s.seq)
	ref := &folders.Ref{
		ID:        id,
		Name:      name,
		MimeType:  folders.MimeFolder,
		Parents:   []string{parentID},
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(s.seq) * time.Second),
	}
	s.folders[id] = ref
	return *ref, nil
}

func (s *fakeStore) Trash(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.trashErr != nil {
		return s.trashErr
	}
	f, ok := s.folders[id]
	if !ok {
		return fmt.Errorf("folder %s not found", id)
	}
	f.Trashed = true
	return nil
}

func (s *fakeStore) live(parentID, name string) []folders.Ref {
	refs, _ := s.ListFolders(context.Background(), parentID, name)
	return refs
}

func TestEnsureFolder_CreatesWhenAbsent(t *testing.T) {
	store := newFakeStore()
	e := New(store)

	res, err := e.EnsureFolder(context.Background(), "root", "Design Docs")
	if err != nil {
		t.Fatalf("EnsureFolder: %v", err)
	}
	if !res.Created {
		t.Error("Created = false, want true")
	}
	if res.Folder.Name != "Design Docs" {
		t.Errorf("folder = %+v", res.Folder)
	}
	if len(store.live("root", "Design Docs")) != 1 {
		t.Error("expected exactly one live folder")
	}
}

func TestEnsureFolder_ReturnsExisting(t *testing.T) {
	store := newFakeStore()
	existing := store.seed("root", "Design Docs", time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	e := New(store)

	res, err := e.EnsureFolder(context.Background(), "root", "Design Docs")
	if err != nil {
		t.Fatalf("EnsureFolder: %v", err)
	}
	if res.Created {
		t.Error("Created = true for preexisting folder")
	}
	if res.Folder.ID != existing.ID {
		t.Errorf("folder = %s, want %s", res.Folder.ID, existing.ID)
	}
}

func TestEnsureFolder_CollapsesExistingDuplicates(t *testing.T) {
	store := newFakeStore()
	oldest := store.seed("root", "Sprint Reports", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	dup1 := store.seed("root", "Sprint Reports", time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
	dup2 := store.seed("root", "Sprint Reports", time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	e := New(store)

	res, err := e.EnsureFolder(context.Background(), "root", "Sprint Reports")
	if err != nil {
		t.Fatalf("EnsureFolder: %v", err)
	}
	if res.Folder.ID != oldest.ID {
		t.Errorf("canonical = %s, want oldest %s", res.Folder.ID, oldest.ID)
	}
	if res.Created {
		t.Error("Created = true, want false")
	}
	if len(res.Trashed) != 2 {
		t.Errorf("trashed = %v, want 2 IDs", res.Trashed)
	}
	live := store.live("root", "Sprint Reports")
	if len(live) != 1 || live[0].ID != oldest.ID {
		t.Errorf("live folders = %v", live)
	}
	_ = dup1
	_ = dup2
}

func TestEnsureFolder_ConcurrentCreatorsConverge(t *testing.T) {
	store := newFakeStore()
	e := New(store)
	ctx := context.Background()

	const workers = 8
	results := make([]Result, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = e.EnsureFolder(ctx, "root", "Shared")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("worker %d: %v", i, err)
		}
	}

	live := store.live("root", "Shared")
	if len(live) != 1 {
		t.Fatalf("live folders = %d, want exactly 1", len(live))
	}

	createdCount := 0
	for i, res := range results {
		if res.Folder.ID != live[0].ID {
			t.Errorf("worker %d canonical = %s, want %s", i, res.Folder.ID, live[0].ID)
		}
		if res.Created {
			createdCount++
		}
	}
	if createdCount > 1 {
		t.Errorf("%d workers claim Created, want at most 1", createdCount)
	}
}

// gatedStore simulates listing lag for two racing creators: every listing
// comes back empty until both folders exist, so both callers create before
// either one reconciles.
type gatedStore struct {
	*fakeStore
	gateMu  sync.Mutex
	creates int
}

func newGatedStore() *gatedStore {
	return &gatedStore{fakeStore: newFakeStore()}
}

func (s *gatedStore) ListFolders(ctx context.Context, parentID, name string) ([]folders.Ref, error) {
	s.gateMu.Lock()
	lagging := s.creates < 2
	s.gateMu.Unlock()
	if lagging {
		return nil, nil
	}
	return s.fakeStore.ListFolders(ctx, parentID, name)
}

func (s *gatedStore) CreateFolder(ctx context.Context, parentID, name string) (folders.Ref, error) {
	ref, err := s.fakeStore.CreateFolder(ctx, parentID, name)
	s.gateMu.Lock()
	s.creates++
	s.gateMu.Unlock()
	return ref, err
}

func TestEnsureFolder_BothCreateBeforeReconciling(t *testing.T) {
	store := newGatedStore()
	e := New(store)
	ctx := context.Background()

	// Both callers list before either folder is visible, so both create.
	// The first caller's folder is older and must win.
	first, err := e.EnsureFolder(ctx, "root", "Shared")
	if err != nil {
		t.Fatalf("first caller: %v", err)
	}
	second, err := e.EnsureFolder(ctx, "root", "Shared")
	if err != nil {
		t.Fatalf("second caller: %v", err)
	}

	if !first.Created {
		t.Error("winner reports Created = false")
	}
	if second.Created {
		t.Error("loser reports Created = true despite losing its folder")
	}
	if second.Folder.ID != first.Folder.ID {
		t.Errorf("callers diverged: %s vs %s", first.Folder.ID, second.Folder.ID)
	}
	if len(second.Trashed) != 1 || second.Trashed[0] == first.Folder.ID {
		t.Errorf("loser trashed = %v, want only its own folder", second.Trashed)
	}

	live := store.fakeStore.live("root", "Shared")
	if len(live) != 1 || live[0].ID != first.Folder.ID {
		t.Errorf("live folders = %v", live)
	}
}

func TestEnsureFolder_TrashFailureIsSwallowed(t *testing.T) {
	store := newFakeStore()
	oldest := store.seed("root", "Docs", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	store.seed("root", "Docs", time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
	store.trashErr = errors.New("backend unavailable")
	e := New(store)

	res, err := e.EnsureFolder(context.Background(), "root", "Docs")
	if err != nil {
		t.Fatalf("EnsureFolder should not fail on trash errors: %v", err)
	}
	if res.Folder.ID != oldest.ID {
		t.Errorf("canonical = %s, want %s", res.Folder.ID, oldest.ID)
	}
	if len(res.Trashed) != 0 {
		t.Errorf("trashed = %v, want none recorded", res.Trashed)
	}
}

func TestEnsureFolderPath(t *testing.T) {
	store := newFakeStore()
	e := New(store)

	leaf, created, err := e.EnsureFolderPath(context.Background(), "root", "Projects/Atlas/Design")
	if err != nil {
		t.Fatalf("EnsureFolderPath: %v", err)
	}
	if leaf.Name != "Design" {
		t.Errorf("leaf = %+v", leaf)
	}
	if !created {
		t.Error("created = false on first walk, want true")
	}

	// Walk the chain: each level has exactly one live folder.
	projects := store.live("root", "Projects")
	if len(projects) != 1 {
		t.Fatalf("Projects level = %v", projects)
	}
	atlas := store.live(projects[0].ID, "Atlas")
	if len(atlas) != 1 {
		t.Fatalf("Atlas level = %v", atlas)
	}
	design := store.live(atlas[0].ID, "Design")
	if len(design) != 1 || design[0].ID != leaf.ID {
		t.Fatalf("Design level = %v, leaf = %s", design, leaf.ID)
	}

	// Repeating the walk creates nothing new.
	leaf2, created, err := e.EnsureFolderPath(context.Background(), "root", "/Projects//Atlas/Design/")
	if err != nil {
		t.Fatalf("EnsureFolderPath repeat: %v", err)
	}
	if created {
		t.Error("created = true on repeat walk, want false")
	}
	if leaf2.ID != leaf.ID {
		t.Errorf("repeat leaf = %s, want %s", leaf2.ID, leaf.ID)
	}

	if _, _, err := e.EnsureFolderPath(context.Background(), "root", " // "); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestFindDuplicates(t *testing.T) {
	store := newFakeStore()
	oldest := store.seed("root", "Reports", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	store.seed("root", "Reports", time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
	store.seed("root", "Unique", time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	e := New(store)

	groups, err := e.FindDuplicates(context.Background(), "root")
	if err != nil {
		t.Fatalf("FindDuplicates: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("groups = %+v, want 1", groups)
	}
	if groups[0].Name != "Reports" || groups[0].Canonical.ID != oldest.ID {
		t.Errorf("group = %+v", groups[0])
	}
	if len(groups[0].Extras) != 1 {
		t.Errorf("extras = %v", groups[0].Extras)
	}

	// FindDuplicates never modifies anything.
	if len(store.live("root", "Reports")) != 2 {
		t.Error("FindDuplicates trashed a folder")
	}
}

func TestCleanupDuplicates(t *testing.T) {
	store := newFakeStore()
	oldest := store.seed("root", "Reports", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	store.seed("root", "Reports", time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
	e := New(store)
	ctx := context.Background()

	report, err := e.CleanupDuplicates(ctx, "root", true)
	if err != nil {
		t.Fatalf("CleanupDuplicates dry run: %v", err)
	}
	if !report.DryRun || len(report.Trashed) != 0 {
		t.Errorf("dry run report = %+v", report)
	}
	if len(store.live("root", "Reports")) != 2 {
		t.Error("dry run modified the store")
	}

	report, err = e.CleanupDuplicates(ctx, "root", false)
	if err != nil {
		t.Fatalf("CleanupDuplicates: %v", err)
	}
	if len(report.Trashed) != 1 {
		t.Errorf("trashed = %v", report.Trashed)
	}
	live := store.live("root", "Reports")
	if len(live) != 1 || live[0].ID != oldest.ID {
		t.Errorf("live = %v", live)
	}
}
