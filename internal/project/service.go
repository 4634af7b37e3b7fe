// Package project is the consistency layer tying the four backends
// together: project configs live in the RAG index and are mirrored to the
// local SQLite cache, the current-project pointer lives in the Memory server
// with a local mirror, folders live in Drive, and the catalog sheet is the
// source of truth the RAG index is rebuilt from.
package project

import (
	"context"
	"regexp"

	"github.com/spirrowgames/prismind/internal/folders"
	"github.com/spirrowgames/prismind/internal/rag"
	"github.com/spirrowgames/prismind/internal/reconcile"
	"github.com/spirrowgames/prismind/internal/storage"
	"github.com/spirrowgames/prismind/internal/tabular"
)

// DriveStore is the slice of the Drive bridge the service needs.
type DriveStore interface {
	reconcile.FolderStore
	Available() bool
	CreateSpreadsheet(ctx context.Context, parentID, name string) (folders.Ref, error)
}

// SheetStore is the slice of the Sheets bridge the service needs.
type SheetStore interface {
	Available() bool
	ReadCatalog(ctx context.Context, spreadsheetID string) ([]tabular.CatalogEntry, int, error)
	AppendCatalogEntry(ctx context.Context, spreadsheetID string, e tabular.CatalogEntry) error
	ReadRange(ctx context.Context, spreadsheetID, rng string) ([][]string, error)
	UpdateRange(ctx context.Context, spreadsheetID, rng string, rows [][]string) error
	AppendRows(ctx context.Context, spreadsheetID, rng string, rows [][]string) error
	FindRowByValue(ctx context.Context, spreadsheetID, sheet, column, value string) (int, error)
	InitializeProjectSheets(ctx context.Context, spreadsheetID string) error
}

// MemoryStore is the slice of the Memory server the service needs.
type MemoryStore interface {
	Available() bool
	CurrentProject(ctx context.Context, user string) (string, error)
	SetCurrentProject(ctx context.Context, user, projectID string) error
	ClearCurrentProject(ctx context.Context, user string) error
}

// Options carries the tunables the service needs from config.
type Options struct {
	// User is the identity current-project pointers are keyed by.
	User string
	// ProjectsFolderID is the Drive parent for auto-created project folders.
	ProjectsFolderID string
	// SimilarityThreshold gates the near-duplicate guard in SetupProject.
	SimilarityThreshold float64
}

// Service implements the project and catalog operations.
type Service struct {
	records *rag.Records
	memory  MemoryStore
	sheets  SheetStore
	drive   DriveStore
	engine  *reconcile.Engine
	local   *storage.Store
	opts    Options
}

// NewService wires a Service. local is required; the other backends may be
// degraded (unavailable) and the service works around them where it can.
func NewService(records *rag.Records, memory MemoryStore, sheets SheetStore, drive DriveStore, local *storage.Store, opts Options) *Service {
	return &Service{
		records: records,
		memory:  memory,
		sheets:  sheets,
		drive:   drive,
		engine:  reconcile.New(drive),
		local:   local,
		opts:    opts,
	}
}

// Engine exposes the folder reconciliation engine for callers that operate
// on folders directly.
func (s *Service) Engine() *reconcile.Engine { return s.engine }

// DriveAvailable reports whether the Drive bridge answered its probe. Callers
// operating on folders directly check this before touching the engine.
func (s *Service) DriveAvailable() bool { return s.drive.Available() }

var projectIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// ValidProjectID reports whether id is a usable project identifier:
// lowercase letters, digits, hyphens, and underscores, starting with a
// letter or digit.
func ValidProjectID(id string) bool {
	return projectIDPattern.MatchString(id)
}
