package rag

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemStore is an in-process Store. It ranks by token overlap rather than
// embeddings, which is good enough for tests and for degraded operation when
// the RAG server is down.
type MemStore struct {
	mu   sync.RWMutex
	docs map[string]Document
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{docs: make(map[string]Document)}
}

// Available always reports true.
func (s *MemStore) Available() bool { return true }

// Add indexes documents, rejecting duplicate IDs.
func (s *MemStore) Add(_ context.Context, docs ...Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range docs {
		if _, ok := s.docs[d.ID]; ok {
			return fmt.Errorf("document %s already exists", d.ID)
		}
	}
	for _, d := range docs {
		s.docs[d.ID] = d
	}
	return nil
}

// Update replaces existing documents by ID.
func (s *MemStore) Update(_ context.Context, docs ...Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range docs {
		if _, ok := s.docs[d.ID]; !ok {
			return fmt.Errorf("document %s does not exist", d.ID)
		}
		s.docs[d.ID] = d
	}
	return nil
}

// Delete removes documents by ID, ignoring unknown IDs.
func (s *MemStore) Delete(_ context.Context, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.docs, id)
	}
	return nil
}

// DeleteWhere removes all documents matching the filter.
func (s *MemStore) DeleteWhere(_ context.Context, where Where) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, d := range s.docs {
		if matchWhere(where, d.Metadata) {
			delete(s.docs, id)
		}
	}
	return nil
}

// Get fetches documents by ID, omitting unknown IDs.
func (s *MemStore) Get(_ context.Context, ids ...string) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Document
	for _, id := range ids {
		if d, ok := s.docs[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// GetByMetadata fetches up to limit matching documents in ID order.
func (s *MemStore) GetByMetadata(_ context.Context, where Where, limit int) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Document
	for _, d := range s.docs {
		if matchWhere(where, d.Metadata) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Query ranks matching documents by token overlap with the query text.
func (s *MemStore) Query(_ context.Context, text string, n int, where Where) ([]Scored, error) {
	if n <= 0 {
		n = 10
	}
	queryTokens := tokenize(text)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []Scored
	for _, d := range s.docs {
		if len(where) > 0 && !matchWhere(where, d.Metadata) {
			continue
		}
		score := overlap(queryTokens, tokenize(d.Content))
		if score == 0 {
			continue
		}
		hits = append(hits, Scored{Document: d, Score: score})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score == hits[j].Score {
			return hits[i].ID < hits[j].ID
		}
		return hits[i].Score > hits[j].Score
	})
	if len(hits) > n {
		hits = hits[:n]
	}
	return hits, nil
}

func tokenize(text string) map[string]bool {
	tokens := make(map[string]bool)
	for _, f := range strings.Fields(strings.ToLower(text)) {
		f = strings.Trim(f, ".,;:!?\"'()[]{}")
		if f != "" {
			tokens[f] = true
		}
	}
	return tokens
}

// overlap is the fraction of query tokens present in the document.
func overlap(query, doc map[string]bool) float64 {
	if len(query) == 0 {
		return 0
	}
	matched := 0
	for t := range query {
		if doc[t] {
			matched++
		}
	}
	return float64(matched) / float64(len(query))
}

// matchWhere evaluates the filter against a document's metadata. Unknown
// operators fail the match rather than erroring; the backend would have
// rejected them anyway.
func matchWhere(where map[string]any, meta map[string]any) bool {
	if len(where) == 0 {
		return true
	}
	for key, cond := range where {
		switch key {
		case "$and":
			for _, sub := range asFilterList(cond) {
				if !matchWhere(sub, meta) {
					return false
				}
			}
		case "$or":
			subs := asFilterList(cond)
			matched := false
			for _, sub := range subs {
				if matchWhere(sub, meta) {
					matched = true
					break
				}
			}
			if len(subs) > 0 && !matched {
				return false
			}
		default:
			got, ok := meta[key]
			if !ok {
				return false
			}
			if opMap, isOp := cond.(map[string]any); isOp {
				want, hasEq := opMap["$eq"]
				if !hasEq || !valueEq(got, want) {
					return false
				}
			} else if !valueEq(got, cond) {
				return false
			}
		}
	}
	return true
}

func asFilterList(v any) []map[string]any {
	var out []map[string]any
	switch list := v.(type) {
	case []any:
		for _, item := range list {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			} else if w, ok := item.(Where); ok {
				out = append(out, map[string]any(w))
			}
		}
	case []map[string]any:
		out = list
	case []Where:
		for _, w := range list {
			out = append(out, map[string]any(w))
		}
	}
	return out
}

// valueEq compares metadata values loosely: numeric types compare by value
// since JSON decoding turns everything into float64.
func valueEq(a, b any) bool {
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			return af == bf
		}
		return false
	}
	return a == b
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
