// Package reconcile implements exactly-one folder semantics on top of the
// folder store's eventually consistent listings. Concurrent creators of the
// same folder name converge on a single canonical folder: everyone re-lists
// after creating, the oldest folder wins, and losers are trashed.
//
// Canonical selection orders by creation timestamp with ID as the tie
// breaker. Timestamps are assigned by the backend, so skew between backend
// nodes can in principle flip the winner; the ID tie breaker at least makes
// the choice deterministic for equal stamps.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spirrowgames/prismind/internal/folders"
)

// FolderStore is the slice of the folder store the engine needs.
type FolderStore interface {
	ListFolders(ctx context.Context, parentID, name string) ([]folders.Ref, error)
	CreateFolder(ctx context.Context, parentID, name string) (folders.Ref, error)
	Trash(ctx context.Context, id string) error
}

// Engine runs the ensure and cleanup protocols against a folder store.
type Engine struct {
	store FolderStore
}

// New builds an Engine.
func New(store FolderStore) *Engine {
	return &Engine{store: store}
}

// Result reports the outcome of an EnsureFolder call.
type Result struct {
	// Folder is the canonical folder, guaranteed to exist.
	Folder folders.Ref
	// Created is true only when the folder this call created won the race
	// and became canonical. A call that created a folder which then lost
	// to an older duplicate reports Created == false.
	Created bool
	// Trashed lists duplicate folder IDs this call soft-deleted.
	Trashed []string
}

// EnsureFolder guarantees exactly one live folder named name under parentID
// and returns it. Existing duplicates are collapsed to the oldest; when no
// folder exists one is created and the create race is resolved by a second
// listing. Cleanup failures are logged and swallowed: a missed trash leaves
// a duplicate for the next call, which is preferable to failing an
// operation whose folder does exist.
func (e *Engine) EnsureFolder(ctx context.Context, parentID, name string) (Result, error) {
	existing, err := e.store.ListFolders(ctx, parentID, name)
	if err != nil {
		return Result{}, fmt.Errorf("listing folders %q: %w", name, err)
	}
	if len(existing) > 0 {
		canonical, trashed := e.collapse(ctx, existing)
		return Result{Folder: canonical, Trashed: trashed}, nil
	}

	created, err := e.store.CreateFolder(ctx, parentID, name)
	if err != nil {
		return Result{}, fmt.Errorf("creating folder %q: %w", name, err)
	}

	// Re-list to observe concurrent creators. The listing may lag and miss
	// our own folder, so merge it in before picking a winner.
	after, err := e.store.ListFolders(ctx, parentID, name)
	if err != nil {
		slog.Warn("re-list after create failed, keeping created folder",
			"name", name, "id", created.ID, "error", err)
		return Result{Folder: created, Created: true}, nil
	}
	candidates := mergeRef(after, created)

	canonical, trashed := e.collapse(ctx, candidates)
	return Result{
		Folder:  canonical,
		Created: canonical.ID == created.ID,
		Trashed: trashed,
	}, nil
}

// EnsureFolderPath ensures a chain of nested folders under rootID, one
// slash-separated segment at a time, and returns the ref of the final
// segment. Empty segments are skipped. The created flag is true when any
// segment was newly created.
func (e *Engine) EnsureFolderPath(ctx context.Context, rootID, path string) (folders.Ref, bool, error) {
	parent := rootID
	var last folders.Ref
	var created, any bool
	for _, segment := range strings.Split(path, "/") {
		if segment = strings.TrimSpace(segment); segment == "" {
			continue
		}
		any = true
		res, err := e.EnsureFolder(ctx, parent, segment)
		if err != nil {
			return folders.Ref{}, false, fmt.Errorf("ensuring path segment %q: %w", segment, err)
		}
		created = created || res.Created
		last = res.Folder
		parent = res.Folder.ID
	}
	if !any {
		return folders.Ref{}, false, fmt.Errorf("empty folder path %q", path)
	}
	return last, created, nil
}

// collapse picks the canonical ref from a non-empty candidate list and
// trashes the rest, swallowing trash failures.
func (e *Engine) collapse(ctx context.Context, candidates []folders.Ref) (folders.Ref, []string) {
	canonical := candidates[0]
	for _, c := range candidates[1:] {
		if older(c, canonical) {
			canonical = c
		}
	}

	var trashed []string
	for _, c := range candidates {
		if c.ID == canonical.ID {
			continue
		}
		if err := e.store.Trash(ctx, c.ID); err != nil {
			slog.Warn("trashing duplicate folder failed",
				"name", c.Name, "id", c.ID, "canonical", canonical.ID, "error", err)
			continue
		}
		slog.Info("trashed duplicate folder",
			"name", c.Name, "id", c.ID, "canonical", canonical.ID)
		trashed = append(trashed, c.ID)
	}
	return canonical, trashed
}

func older(a, b folders.Ref) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID < b.ID
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func mergeRef(refs []folders.Ref, extra folders.Ref) []folders.Ref {
	for _, r := range refs {
		if r.ID == extra.ID {
			return refs
		}
	}
	return append(refs, extra)
}

// DuplicateGroup is a set of same-named folders under one parent.
type DuplicateGroup struct {
	Name      string        `json:"name"`
	Canonical folders.Ref   `json:"canonical"`
	Extras    []folders.Ref `json:"extras"`
}

// FindDuplicates scans the live folders under parentID and reports every
// name that appears more than once. Nothing is modified.
func (e *Engine) FindDuplicates(ctx context.Context, parentID string) ([]DuplicateGroup, error) {
	all, err := e.store.ListFolders(ctx, parentID, "")
	if err != nil {
		return nil, fmt.Errorf("listing folders under %s: %w", parentID, err)
	}

	byName := make(map[string][]folders.Ref)
	var order []string
	for _, f := range all {
		if len(byName[f.Name]) == 0 {
			order = append(order, f.Name)
		}
		byName[f.Name] = append(byName[f.Name], f)
	}

	var groups []DuplicateGroup
	for _, name := range order {
		refs := byName[name]
		if len(refs) < 2 {
			continue
		}
		canonical := refs[0]
		for _, r := range refs[1:] {
			if older(r, canonical) {
				canonical = r
			}
		}
		g := DuplicateGroup{Name: name, Canonical: canonical}
		for _, r := range refs {
			if r.ID != canonical.ID {
				g.Extras = append(g.Extras, r)
			}
		}
		groups = append(groups, g)
	}
	return groups, nil
}

// CleanupReport summarizes a CleanupDuplicates run.
type CleanupReport struct {
	Groups  []DuplicateGroup `json:"groups"`
	Trashed []string         `json:"trashed,omitempty"`
	DryRun  bool             `json:"dry_run"`
}

// CleanupDuplicates finds duplicate groups under parentID and, unless
// dryRun is set, trashes every non-canonical folder. Trash failures are
// logged and skipped.
func (e *Engine) CleanupDuplicates(ctx context.Context, parentID string, dryRun bool) (CleanupReport, error) {
	groups, err := e.FindDuplicates(ctx, parentID)
	if err != nil {
		return CleanupReport{}, err
	}

	report := CleanupReport{Groups: groups, DryRun: dryRun}
	if dryRun {
		return report, nil
	}

	for _, g := range groups {
		for _, extra := range g.Extras {
			if err := e.store.Trash(ctx, extra.ID); err != nil {
				slog.Warn("trashing duplicate folder failed",
					"name", extra.Name, "id", extra.ID, "error", err)
				continue
			}
			report.Trashed = append(report.Trashed, extra.ID)
		}
	}
	return report, nil
}
