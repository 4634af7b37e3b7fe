package project

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/spirrowgames/prismind/internal/rag"
	"github.com/spirrowgames/prismind/internal/storage"
)

// SetupParams are the inputs to SetupProject. DriveFolderID and
// SpreadsheetID may be left empty to have the service provision them under
// the configured projects folder.
type SetupParams struct {
	ID            string
	Name          string
	Description   string
	Keywords      []string
	DriveFolderID string
	SpreadsheetID string
	// Force bypasses the similarity guard. It never bypasses the ID or
	// name collision guards.
	Force bool
}

// SetupResult reports the outcome of SetupProject. Guard rejections set
// Success to false with an explanatory message; infrastructure failures are
// returned as errors instead.
type SetupResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	// DuplicateID marks an ID-collision rejection; DuplicateName carries the
	// ID of the project already holding the requested name.
	DuplicateID       bool                `json:"duplicate_id,omitempty"`
	DuplicateName     string              `json:"duplicate_name,omitempty"`
	Project           rag.ProjectConfig   `json:"project,omitempty"`
	SimilarProjects   []rag.ScoredProject `json:"similar_projects,omitempty"`
	NeedsConfirmation bool                `json:"needs_confirmation,omitempty"`
	FolderCreated     bool                `json:"folder_created,omitempty"`
	Degraded          []string            `json:"degraded,omitempty"`
}

// SetupProject registers a new project after running three guards in order:
// an ID collision is always fatal, a name collision is fatal even with
// Force, and a similar existing project requires Force to proceed. On
// success the config is indexed in RAG, mirrored to the local cache, and
// the project becomes the user's current project.
func (s *Service) SetupProject(ctx context.Context, p SetupParams) (SetupResult, error) {
	p.ID = strings.TrimSpace(p.ID)
	p.Name = strings.TrimSpace(p.Name)
	if !ValidProjectID(p.ID) {
		return SetupResult{Message: fmt.Sprintf("invalid project ID %q: use lowercase letters, digits, hyphens, and underscores", p.ID)}, nil
	}
	if p.Name == "" {
		return SetupResult{Message: "project name is required"}, nil
	}

	existing, err := s.ListProjects(ctx)
	if err != nil {
		return SetupResult{}, fmt.Errorf("listing existing projects: %w", err)
	}
	for _, ex := range existing {
		if ex.ID == p.ID {
			return SetupResult{
				Message:     fmt.Sprintf("project %q already exists; use update_project to change it", p.ID),
				DuplicateID: true,
			}, nil
		}
	}
	for _, ex := range existing {
		if strings.EqualFold(ex.Name, p.Name) {
			return SetupResult{
				Message:       fmt.Sprintf("project name %q is already used by project %q", p.Name, ex.ID),
				DuplicateName: ex.ID,
			}, nil
		}
	}

	var degraded []string
	if s.records.Available() {
		similar, err := s.records.FindSimilarProjects(ctx, p.Name, p.Description, s.opts.SimilarityThreshold)
		if err != nil {
			return SetupResult{}, fmt.Errorf("checking similar projects: %w", err)
		}
		if len(similar) > 0 && !p.Force {
			return SetupResult{
				Message:           fmt.Sprintf("%d similar project(s) found; pass force to create anyway", len(similar)),
				SimilarProjects:   similar,
				NeedsConfirmation: true,
			}, nil
		}
	} else {
		degraded = append(degraded, "rag")
	}

	// Folder and spreadsheet provisioning is best effort: a failure here
	// leaves the project usable with the field empty, and is reported in
	// Degraded rather than failing the setup.
	folderCreated := false
	if p.DriveFolderID == "" {
		switch {
		case !s.drive.Available():
			slog.Warn("drive unavailable, creating project without a folder", "project", p.ID)
			degraded = append(degraded, "folder")
		case s.opts.ProjectsFolderID == "":
			slog.Warn("no projects folder configured, creating project without a folder", "project", p.ID)
			degraded = append(degraded, "folder")
		default:
			res, err := s.engine.EnsureFolder(ctx, s.opts.ProjectsFolderID, p.Name)
			if err != nil {
				slog.Warn("provisioning project folder failed", "project", p.ID, "error", err)
				degraded = append(degraded, "folder")
			} else {
				p.DriveFolderID = res.Folder.ID
				folderCreated = res.Created
			}
		}
	}

	if p.SpreadsheetID == "" {
		if p.DriveFolderID == "" || !s.drive.Available() || !s.sheets.Available() {
			degraded = append(degraded, "spreadsheet")
		} else {
			sheet, err := s.drive.CreateSpreadsheet(ctx, p.DriveFolderID, p.Name+" Catalog")
			if err != nil {
				slog.Warn("creating project spreadsheet failed", "project", p.ID, "error", err)
				degraded = append(degraded, "spreadsheet")
			} else {
				if err := s.sheets.InitializeProjectSheets(ctx, sheet.ID); err != nil {
					slog.Warn("initializing project sheets failed", "project", p.ID, "sheet", sheet.ID, "error", err)
				}
				p.SpreadsheetID = sheet.ID
			}
		}
	}

	now := time.Now().UTC()
	cfg := rag.ProjectConfig{
		ID:            p.ID,
		Name:          p.Name,
		Description:   p.Description,
		DriveFolderID: p.DriveFolderID,
		SpreadsheetID: p.SpreadsheetID,
		Keywords:      p.Keywords,
		Creator:       s.opts.User,
		Status:        "active",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.saveConfig(ctx, cfg); err != nil {
		return SetupResult{}, err
	}
	degraded = append(degraded, s.setCurrentPointer(ctx, cfg.ID)...)

	return SetupResult{
		Success:       true,
		Message:       fmt.Sprintf("project %q created and set as current", cfg.ID),
		Project:       cfg,
		FolderCreated: folderCreated,
		Degraded:      degraded,
	}, nil
}

// saveConfig writes a project config to the RAG index when available and
// always mirrors it to the local cache.
func (s *Service) saveConfig(ctx context.Context, cfg rag.ProjectConfig) error {
	if s.records.Available() {
		if err := s.records.SaveProjectConfig(ctx, cfg); err != nil {
			return fmt.Errorf("saving project config: %w", err)
		}
	}
	if err := s.local.SaveProject(cfg); err != nil {
		return fmt.Errorf("caching project config: %w", err)
	}
	return nil
}

// setCurrentPointer points the user at a project in both Memory and the
// local mirror, reporting which backends were skipped.
func (s *Service) setCurrentPointer(ctx context.Context, projectID string) []string {
	var degraded []string
	if s.memory.Available() {
		if err := s.memory.SetCurrentProject(ctx, s.opts.User, projectID); err != nil {
			slog.Warn("setting current project in memory failed", "project", projectID, "error", err)
			degraded = append(degraded, "memory")
		}
	} else {
		degraded = append(degraded, "memory")
	}
	if err := s.local.SetCurrentProject(s.opts.User, projectID); err != nil {
		slog.Warn("setting current project locally failed", "project", projectID, "error", err)
	}
	return degraded
}

// UpdateParams are the inputs to UpdateProject. Nil pointer fields keep
// their current values.
type UpdateParams struct {
	ID          string
	Name        *string
	Description *string
	Status      *string
	Keywords    *[]string
}

// UpdateResult reports what changed.
type UpdateResult struct {
	Success       bool              `json:"success"`
	Message       string            `json:"message"`
	Project       rag.ProjectConfig `json:"project,omitempty"`
	UpdatedFields []string          `json:"updated_fields,omitempty"`
}

// UpdateProject applies partial changes to an existing project config. A
// call that changes nothing succeeds with an empty updated_fields list and
// writes nothing.
func (s *Service) UpdateProject(ctx context.Context, p UpdateParams) (UpdateResult, error) {
	cfg, found, err := s.GetProject(ctx, p.ID)
	if err != nil {
		return UpdateResult{}, err
	}
	if !found {
		return UpdateResult{Message: fmt.Sprintf("project %q not found", p.ID)}, nil
	}

	var updated []string
	if p.Name != nil && *p.Name != cfg.Name {
		cfg.Name = *p.Name
		updated = append(updated, "name")
	}
	if p.Description != nil && *p.Description != cfg.Description {
		cfg.Description = *p.Description
		updated = append(updated, "description")
	}
	if p.Status != nil && *p.Status != cfg.Status {
		cfg.Status = *p.Status
		updated = append(updated, "status")
	}
	if p.Keywords != nil && !equalStrings(*p.Keywords, cfg.Keywords) {
		cfg.Keywords = *p.Keywords
		updated = append(updated, "keywords")
	}

	if len(updated) == 0 {
		return UpdateResult{
			Success: true,
			Message: "no changes",
			Project: cfg,
		}, nil
	}

	cfg.UpdatedAt = time.Now().UTC()
	if err := s.saveConfig(ctx, cfg); err != nil {
		return UpdateResult{}, err
	}
	return UpdateResult{
		Success:       true,
		Message:       fmt.Sprintf("project %q updated", cfg.ID),
		Project:       cfg,
		UpdatedFields: updated,
	}, nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// DeleteResult reports the outcome of DeleteProject.
type DeleteResult struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	CatalogCleared bool   `json:"catalog_cleared,omitempty"`
}

// DeleteProject removes a project's config and its indexed catalog records.
// It requires explicit confirmation and never touches Drive folders or the
// spreadsheet: those hold the actual documents and stay recoverable.
func (s *Service) DeleteProject(ctx context.Context, id string, confirm bool) (DeleteResult, error) {
	if !confirm {
		return DeleteResult{Message: fmt.Sprintf("deleting project %q requires confirm=true; Drive and Sheets content is kept either way", id)}, nil
	}

	_, found, err := s.GetProject(ctx, id)
	if err != nil {
		return DeleteResult{}, err
	}
	if !found {
		return DeleteResult{Message: fmt.Sprintf("project %q not found", id)}, nil
	}

	catalogCleared := false
	if s.records.Available() {
		if err := s.records.DeleteCatalogEntriesByProject(ctx, id); err != nil {
			return DeleteResult{}, fmt.Errorf("deleting catalog records: %w", err)
		}
		catalogCleared = true
		if err := s.records.DeleteProjectConfig(ctx, id); err != nil {
			return DeleteResult{}, fmt.Errorf("deleting project config: %w", err)
		}
	}
	if err := s.local.DeleteProject(id); err != nil {
		return DeleteResult{}, fmt.Errorf("deleting cached project: %w", err)
	}

	// Drop the current-project pointer if it referenced the deleted project.
	if current, _ := s.local.CurrentProject(s.opts.User); current == id {
		if err := s.local.ClearCurrentProject(s.opts.User); err != nil {
			slog.Warn("clearing local current project failed", "project", id, "error", err)
		}
	}
	if s.memory.Available() {
		if current, err := s.memory.CurrentProject(ctx, s.opts.User); err == nil && current == id {
			if err := s.memory.ClearCurrentProject(ctx, s.opts.User); err != nil {
				slog.Warn("clearing current project in memory failed", "project", id, "error", err)
			}
		}
	}

	return DeleteResult{
		Success:        true,
		Message:        fmt.Sprintf("project %q deleted; Drive folder and spreadsheet were kept", id),
		CatalogCleared: catalogCleared,
	}, nil
}

// SwitchResult reports the outcome of SwitchProject.
type SwitchResult struct {
	Success  bool              `json:"success"`
	Message  string            `json:"message"`
	Project  rag.ProjectConfig `json:"project,omitempty"`
	Degraded []string          `json:"degraded,omitempty"`
}

// SwitchProject makes an existing project the user's current project.
func (s *Service) SwitchProject(ctx context.Context, id string) (SwitchResult, error) {
	cfg, found, err := s.GetProject(ctx, id)
	if err != nil {
		return SwitchResult{}, err
	}
	if !found {
		return SwitchResult{Message: fmt.Sprintf("project %q not found", id)}, nil
	}

	degraded := s.setCurrentPointer(ctx, id)
	return SwitchResult{
		Success:  true,
		Message:  fmt.Sprintf("switched to project %q", id),
		Project:  cfg,
		Degraded: degraded,
	}, nil
}

// GetProject loads a project config, preferring the RAG index and falling
// back to the local cache when RAG is down or missing the record.
func (s *Service) GetProject(ctx context.Context, id string) (rag.ProjectConfig, bool, error) {
	if s.records.Available() {
		cfg, found, err := s.records.GetProjectConfig(ctx, id)
		if err != nil {
			return rag.ProjectConfig{}, false, err
		}
		if found {
			return cfg, true, nil
		}
	}

	cfg, err := s.local.GetProject(id)
	if errors.Is(err, storage.ErrNotFound) {
		return rag.ProjectConfig{}, false, nil
	}
	if err != nil {
		return rag.ProjectConfig{}, false, err
	}
	return cfg, true, nil
}

// ListProjects merges the RAG index with the local cache, RAG winning on
// conflicts, sorted by ID.
func (s *Service) ListProjects(ctx context.Context) ([]rag.ProjectConfig, error) {
	byID := make(map[string]rag.ProjectConfig)

	cached, err := s.local.ListProjects()
	if err != nil {
		return nil, fmt.Errorf("listing cached projects: %w", err)
	}
	for _, p := range cached {
		byID[p.ID] = p
	}

	if s.records.Available() {
		indexed, err := s.records.ListProjects(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing indexed projects: %w", err)
		}
		for _, p := range indexed {
			byID[p.ID] = p
		}
	}

	out := make([]rag.ProjectConfig, 0, len(byID))
	for _, p := range byID {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ResolveProject decides which project an operation targets: an explicit ID
// wins, then the Memory server's current-project pointer, then the local
// mirror. Returns "" when nothing is set.
func (s *Service) ResolveProject(ctx context.Context, explicit string) (string, error) {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		return explicit, nil
	}

	if s.memory.Available() {
		current, err := s.memory.CurrentProject(ctx, s.opts.User)
		if err != nil {
			slog.Warn("reading current project from memory failed", "error", err)
		} else if current != "" {
			return current, nil
		}
	}

	return s.local.CurrentProject(s.opts.User)
}

// FolderSyncResult reports the outcome of SyncProjectsFromDrive.
type FolderSyncResult struct {
	Success bool `json:"success"`
	// Unregistered lists Drive folders with no matching project config.
	Unregistered []string `json:"unregistered,omitempty"`
	// Orphaned lists project IDs whose Drive folder no longer exists.
	Orphaned []string `json:"orphaned,omitempty"`
	// Created lists project IDs registered by this run.
	Created []string `json:"created,omitempty"`
	DryRun  bool     `json:"dry_run"`
	Message string   `json:"message"`
}

// SyncProjectsFromDrive compares the folders under the projects folder with
// the registered projects. In dry-run mode it only reports the differences;
// otherwise it registers a config for every unmatched folder, deriving the
// project ID from the folder name.
func (s *Service) SyncProjectsFromDrive(ctx context.Context, dryRun bool) (FolderSyncResult, error) {
	if !s.drive.Available() {
		return FolderSyncResult{Message: "drive is unavailable", DryRun: dryRun}, nil
	}
	if s.opts.ProjectsFolderID == "" {
		return FolderSyncResult{Message: "no projects folder configured; set google.projects_folder_id", DryRun: dryRun}, nil
	}

	driveFolders, err := s.drive.ListFolders(ctx, s.opts.ProjectsFolderID, "")
	if err != nil {
		return FolderSyncResult{}, fmt.Errorf("listing project folders: %w", err)
	}
	projects, err := s.ListProjects(ctx)
	if err != nil {
		return FolderSyncResult{}, err
	}

	byFolderID := make(map[string]rag.ProjectConfig, len(projects))
	for _, p := range projects {
		byFolderID[p.DriveFolderID] = p
	}
	liveFolders := make(map[string]bool, len(driveFolders))

	result := FolderSyncResult{Success: true, DryRun: dryRun}
	for _, f := range driveFolders {
		liveFolders[f.ID] = true
		if _, ok := byFolderID[f.ID]; ok {
			continue
		}
		result.Unregistered = append(result.Unregistered, f.Name)
		if dryRun {
			continue
		}

		id := slugify(f.Name)
		if id == "" {
			slog.Warn("skipping folder with unusable name", "name", f.Name, "id", f.ID)
			continue
		}
		now := time.Now().UTC()
		cfg := rag.ProjectConfig{
			ID:            id,
			Name:          f.Name,
			DriveFolderID: f.ID,
			Creator:       s.opts.User,
			Status:        "active",
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.saveConfig(ctx, cfg); err != nil {
			return FolderSyncResult{}, err
		}
		result.Created = append(result.Created, id)
	}

	for _, p := range projects {
		if p.DriveFolderID != "" && !liveFolders[p.DriveFolderID] {
			result.Orphaned = append(result.Orphaned, p.ID)
		}
	}

	result.Message = fmt.Sprintf("%d unregistered folder(s), %d orphaned project(s), %d registered",
		len(result.Unregistered), len(result.Orphaned), len(result.Created))
	return result, nil
}

// slugify derives a project ID from a folder name.
func slugify(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_':
			b.WriteByte('-')
		}
	}
	return strings.Trim(b.String(), "-")
}
