package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spirrowgames/prismind/internal/retry"
)

// StatusError is a non-2xx response from the RAG server. It is an
// application error and is never retried.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("rag server: unexpected status %d: %s", e.Code, e.Body)
}

// ChromaStore is a Store backed by a ChromaDB server's v1 REST API. All
// documents live in a single named collection.
type ChromaStore struct {
	baseURL    string
	collection string
	httpClient *http.Client
	policy     retry.Policy
	available  bool
}

var _ Store = (*ChromaStore)(nil)

// NewChromaStore builds a store for the given server and collection, probes
// the server's heartbeat with a short timeout, and ensures the collection
// exists when the server is up. Availability is cached for the store's
// lifetime.
func NewChromaStore(baseURL, collection string, policy retry.Policy) *ChromaStore {
	s := &ChromaStore{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		policy:     policy,
	}
	s.available = s.probe(3 * time.Second)
	if !s.available {
		slog.Warn("rag server not available", "url", s.baseURL)
		return s
	}
	if err := s.ensureCollection(context.Background()); err != nil {
		slog.Warn("rag collection setup failed", "collection", collection, "error", err)
		s.available = false
	}
	return s
}

func (s *ChromaStore) probe(timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/api/v1/heartbeat", nil)
	if err != nil {
		return false
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (s *ChromaStore) ensureCollection(ctx context.Context) error {
	body := map[string]any{"name": s.collection, "get_or_create": true}
	return s.do(ctx, http.MethodPost, "/api/v1/collections", body, nil)
}

// Available reports the connectivity state observed at construction.
func (s *ChromaStore) Available() bool { return s.available }

func (s *ChromaStore) collectionPath(op string) string {
	return "/api/v1/collections/" + url.PathEscape(s.collection) + "/" + op
}

type chromaBatch struct {
	IDs       []string         `json:"ids"`
	Documents []string         `json:"documents,omitempty"`
	Metadatas []map[string]any `json:"metadatas,omitempty"`
}

func toBatch(docs []Document) chromaBatch {
	b := chromaBatch{
		IDs:       make([]string, len(docs)),
		Documents: make([]string, len(docs)),
		Metadatas: make([]map[string]any, len(docs)),
	}
	for i, d := range docs {
		b.IDs[i] = d.ID
		b.Documents[i] = d.Content
		b.Metadatas[i] = d.Metadata
	}
	return b
}

// Add indexes documents in the collection.
func (s *ChromaStore) Add(ctx context.Context, docs ...Document) error {
	if len(docs) == 0 {
		return nil
	}
	return s.do(ctx, http.MethodPost, s.collectionPath("add"), toBatch(docs), nil)
}

// Update re-indexes existing documents.
func (s *ChromaStore) Update(ctx context.Context, docs ...Document) error {
	if len(docs) == 0 {
		return nil
	}
	return s.do(ctx, http.MethodPost, s.collectionPath("update"), toBatch(docs), nil)
}

// Delete removes documents by ID.
func (s *ChromaStore) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.do(ctx, http.MethodPost, s.collectionPath("delete"), map[string]any{"ids": ids}, nil)
}

// DeleteWhere removes all documents matching the filter.
func (s *ChromaStore) DeleteWhere(ctx context.Context, where Where) error {
	return s.do(ctx, http.MethodPost, s.collectionPath("delete"), map[string]any{"where": where}, nil)
}

type chromaGetResponse struct {
	IDs       []string         `json:"ids"`
	Documents []string         `json:"documents"`
	Metadatas []map[string]any `json:"metadatas"`
}

func (r chromaGetResponse) toDocuments() []Document {
	docs := make([]Document, len(r.IDs))
	for i, id := range r.IDs {
		docs[i] = Document{ID: id}
		if i < len(r.Documents) {
			docs[i].Content = r.Documents[i]
		}
		if i < len(r.Metadatas) {
			docs[i].Metadata = r.Metadatas[i]
		}
	}
	return docs
}

// Get fetches documents by ID.
func (s *ChromaStore) Get(ctx context.Context, ids ...string) ([]Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	body := map[string]any{
		"ids":     ids,
		"include": []string{"documents", "metadatas"},
	}
	var out chromaGetResponse
	if err := s.do(ctx, http.MethodPost, s.collectionPath("get"), body, &out); err != nil {
		return nil, err
	}
	return out.toDocuments(), nil
}

// GetByMetadata fetches documents matching the filter without ranking.
func (s *ChromaStore) GetByMetadata(ctx context.Context, where Where, limit int) ([]Document, error) {
	body := map[string]any{
		"include": []string{"documents", "metadatas"},
	}
	if len(where) > 0 {
		body["where"] = where
	}
	if limit > 0 {
		body["limit"] = limit
	}
	var out chromaGetResponse
	if err := s.do(ctx, http.MethodPost, s.collectionPath("get"), body, &out); err != nil {
		return nil, err
	}
	return out.toDocuments(), nil
}

type chromaQueryResponse struct {
	IDs       [][]string         `json:"ids"`
	Documents [][]string         `json:"documents"`
	Metadatas [][]map[string]any `json:"metadatas"`
	Distances [][]float64        `json:"distances"`
}

// Query runs a semantic search. Chroma returns distances; they are converted
// to similarity scores, clamped to [0, 1].
func (s *ChromaStore) Query(ctx context.Context, text string, n int, where Where) ([]Scored, error) {
	if n <= 0 {
		n = 10
	}
	body := map[string]any{
		"query_texts": []string{text},
		"n_results":   n,
		"include":     []string{"documents", "metadatas", "distances"},
	}
	if len(where) > 0 {
		body["where"] = where
	}

	var out chromaQueryResponse
	if err := s.do(ctx, http.MethodPost, s.collectionPath("query"), body, &out); err != nil {
		return nil, err
	}
	if len(out.IDs) == 0 {
		return nil, nil
	}

	hits := make([]Scored, 0, len(out.IDs[0]))
	for i, id := range out.IDs[0] {
		h := Scored{Document: Document{ID: id}}
		if len(out.Documents) > 0 && i < len(out.Documents[0]) {
			h.Content = out.Documents[0][i]
		}
		if len(out.Metadatas) > 0 && i < len(out.Metadatas[0]) {
			h.Metadata = out.Metadatas[0][i]
		}
		if len(out.Distances) > 0 && i < len(out.Distances[0]) {
			score := 1 - out.Distances[0][i]
			if score < 0 {
				score = 0
			} else if score > 1 {
				score = 1
			}
			h.Score = score
		}
		hits = append(hits, h)
	}
	return hits, nil
}

func (s *ChromaStore) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = b
	}

	op := method + " " + path
	return s.policy.Do(ctx, op, func() error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("rag server %s: %w", op, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
		}
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("decoding response: %w", err)
			}
		}
		return nil
	})
}
