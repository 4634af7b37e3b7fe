// Package rag talks to the vector store used for semantic search over
// project configs, catalog entries, and knowledge notes. The production
// implementation is a ChromaDB server; MemStore is the in-process stand-in
// for tests and degraded operation.
package rag

import "context"

// Document is one indexed record. Metadata values are strings, numbers, or
// booleans; nested structures are not supported by the backend.
type Document struct {
	ID       string
	Content  string
	Metadata map[string]any
}

// Scored is a query hit with its similarity score, higher is more similar,
// normalized to [0, 1].
type Scored struct {
	Document
	Score float64
}

// Where is a metadata filter in the backend's filter language. Supported
// forms:
//
//	{"field": value}                  shorthand equality
//	{"field": {"$eq": value}}         explicit equality
//	{"$and": [f1, f2, ...]}           conjunction
//	{"$or":  [f1, f2, ...]}           disjunction
type Where map[string]any

// Eq builds a single-field equality filter.
func Eq(field string, value any) Where {
	return Where{field: map[string]any{"$eq": value}}
}

// And combines filters conjunctively.
func And(filters ...Where) Where {
	parts := make([]any, len(filters))
	for i, f := range filters {
		parts[i] = map[string]any(f)
	}
	return Where{"$and": parts}
}

// Or combines filters disjunctively.
func Or(filters ...Where) Where {
	parts := make([]any, len(filters))
	for i, f := range filters {
		parts[i] = map[string]any(f)
	}
	return Where{"$or": parts}
}

// Store is the vector store surface the rest of the server depends on.
type Store interface {
	// Available reports whether the backend answered its startup probe.
	Available() bool

	// Add indexes documents. Adding an existing ID is an error; use Update.
	Add(ctx context.Context, docs ...Document) error

	// Update re-indexes existing documents by ID.
	Update(ctx context.Context, docs ...Document) error

	// Delete removes documents by ID. Unknown IDs are ignored.
	Delete(ctx context.Context, ids ...string) error

	// DeleteWhere removes all documents matching the filter.
	DeleteWhere(ctx context.Context, where Where) error

	// Get fetches documents by ID. Unknown IDs are omitted from the result.
	Get(ctx context.Context, ids ...string) ([]Document, error)

	// GetByMetadata fetches up to limit documents matching the filter,
	// without ranking. limit <= 0 means no limit.
	GetByMetadata(ctx context.Context, where Where, limit int) ([]Document, error)

	// Query runs a semantic search for text, returning up to n hits ranked
	// by similarity, optionally restricted by a metadata filter.
	Query(ctx context.Context, text string, n int, where Where) ([]Scored, error)
}
