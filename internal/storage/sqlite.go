// Package storage is the local SQLite cache. It mirrors project configs and
// the current-project pointer so project resolution keeps working when the
// RAG and Memory servers are down, and it is the system of record for the
// document type registry.
package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/spirrowgames/prismind/internal/rag"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used by
// tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "prismind.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			return fmt.Errorf("parsing migration version from %q: %w", entry.Name(), err)
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

// --- Project cache ---

// SaveProject upserts a cached project config.
func (s *Store) SaveProject(p rag.ProjectConfig) error {
	cfg, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding project %s: %w", p.ID, err)
	}
	_, err = s.db.Exec(`
		INSERT INTO projects (id, config, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET config = excluded.config, updated_at = excluded.updated_at`,
		p.ID, string(cfg), time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// GetProject loads a cached project config by ID.
func (s *Store) GetProject(id string) (rag.ProjectConfig, error) {
	var cfg string
	err := s.db.QueryRow("SELECT config FROM projects WHERE id = ?", id).Scan(&cfg)
	if err == sql.ErrNoRows {
		return rag.ProjectConfig{}, ErrNotFound
	}
	if err != nil {
		return rag.ProjectConfig{}, err
	}

	var p rag.ProjectConfig
	if err := json.Unmarshal([]byte(cfg), &p); err != nil {
		return rag.ProjectConfig{}, fmt.Errorf("decoding project %s: %w", id, err)
	}
	return p, nil
}

// ListProjects returns all cached project configs ordered by ID.
func (s *Store) ListProjects() ([]rag.ProjectConfig, error) {
	rows, err := s.db.Query("SELECT config FROM projects ORDER BY id ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []rag.ProjectConfig
	for rows.Next() {
		var cfg string
		if err := rows.Scan(&cfg); err != nil {
			return nil, err
		}
		var p rag.ProjectConfig
		if err := json.Unmarshal([]byte(cfg), &p); err != nil {
			return nil, fmt.Errorf("decoding cached project: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeleteProject removes a cached project config. Deleting an absent project
// is not an error.
func (s *Store) DeleteProject(id string) error {
	_, err := s.db.Exec("DELETE FROM projects WHERE id = ?", id)
	return err
}

// --- Current project pointer ---

// SetCurrentProject records the user's active project locally.
func (s *Store) SetCurrentProject(user, projectID string) error {
	_, err := s.db.Exec(`
		INSERT INTO current_project (user, project_id, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user) DO UPDATE SET project_id = excluded.project_id, updated_at = excluded.updated_at`,
		user, projectID, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// CurrentProject returns the user's active project ID, or "" when none is
// set.
func (s *Store) CurrentProject(user string) (string, error) {
	var projectID string
	err := s.db.QueryRow("SELECT project_id FROM current_project WHERE user = ?", user).Scan(&projectID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return projectID, nil
}

// ClearCurrentProject removes the user's active project pointer.
func (s *Store) ClearCurrentProject(user string) error {
	_, err := s.db.Exec("DELETE FROM current_project WHERE user = ?", user)
	return err
}

// --- Document type registry ---

// DocType is a registered document classification.
type DocType struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Builtin     bool      `json:"builtin"`
	CreatedAt   time.Time `json:"created_at"`
}

// SaveDocType upserts a document type. Upserting never demotes a builtin
// type to user-defined.
func (s *Store) SaveDocType(dt DocType) error {
	if dt.CreatedAt.IsZero() {
		dt.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO doc_types (name, description, builtin, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			description = excluded.description,
			builtin = MAX(doc_types.builtin, excluded.builtin)`,
		dt.Name, dt.Description, boolToInt(dt.Builtin), dt.CreatedAt.Format(time.RFC3339),
	)
	return err
}

// GetDocType loads a document type by name.
func (s *Store) GetDocType(name string) (DocType, error) {
	var dt DocType
	var builtin int
	var createdAt string
	err := s.db.QueryRow(
		"SELECT name, description, builtin, created_at FROM doc_types WHERE name = ?", name,
	).Scan(&dt.Name, &dt.Description, &builtin, &createdAt)
	if err == sql.ErrNoRows {
		return DocType{}, ErrNotFound
	}
	if err != nil {
		return DocType{}, err
	}
	dt.Builtin = builtin != 0
	if dt.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return DocType{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return dt, nil
}

// ListDocTypes returns all document types ordered by name.
func (s *Store) ListDocTypes() ([]DocType, error) {
	rows, err := s.db.Query("SELECT name, description, builtin, created_at FROM doc_types ORDER BY name ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DocType
	for rows.Next() {
		var dt DocType
		var builtin int
		var createdAt string
		if err := rows.Scan(&dt.Name, &dt.Description, &builtin, &createdAt); err != nil {
			return nil, err
		}
		dt.Builtin = builtin != 0
		if dt.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		out = append(out, dt)
	}
	return out, rows.Err()
}

// DeleteDocType removes a user-defined document type. Builtin types are
// protected.
func (s *Store) DeleteDocType(name string) error {
	res, err := s.db.Exec("DELETE FROM doc_types WHERE name = ? AND builtin = 0", name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Either absent or builtin; distinguish for the caller.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM doc_types WHERE name = ?", name).Scan(&exists); err != nil {
			return err
		}
		if exists > 0 {
			return fmt.Errorf("doc type %q is builtin and cannot be deleted", name)
		}
		return ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
