// Package folders is the client for the Drive bridge, the REST service
// fronting the Google Drive folder/file store. Listings are only eventually
// consistent; callers that need exactly-one semantics must go through the
// reconcile package.
package folders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

// MIME types the bridge passes through from Drive.
const (
	MimeFolder      = "application/vnd.google-apps.folder"
	MimeDocument    = "application/vnd.google-apps.document"
	MimeSpreadsheet = "application/vnd.google-apps.spreadsheet"
)

// Ref identifies a file or folder in the folder store.
type Ref struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	MimeType    string    `json:"mimeType"`
	Parents     []string  `json:"parents"`
	WebViewLink string    `json:"webViewLink,omitempty"`
	CreatedAt   time.Time `json:"createdTime"`
	ModifiedAt  time.Time `json:"modifiedTime"`
	Trashed     bool      `json:"trashed,omitempty"`
}

// IsFolder reports whether the ref is a folder.
func (r Ref) IsFolder() bool { return r.MimeType == MimeFolder }

// StatusError is a non-2xx response from the bridge. It is an application
// error, never retried.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("drive bridge: unexpected status %d: %s", e.Code, e.Body)
}

// Client communicates with the Drive bridge over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	available  bool
}

// New creates a Client for the given bridge base URL and probes connectivity
// once with a short timeout. The result is cached for the client's lifetime.
func New(baseURL string) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	c.available = c.probe(3 * time.Second)
	if !c.available {
		slog.Warn("drive bridge not available", "url", c.baseURL)
	}
	return c
}

func (c *Client) probe(timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Available reports the connectivity state observed at construction.
func (c *Client) Available() bool { return c.available }

type listResponse struct {
	Files []Ref `json:"files"`
}

// ListFolders returns the live (non-trashed) folders under parentID. When
// name is non-empty, only folders with that exact name are returned. Results
// are ordered by creation time ascending, ties broken by ID so the ordering
// is deterministic.
func (c *Client) ListFolders(ctx context.Context, parentID, name string) ([]Ref, error) {
	q := url.Values{}
	q.Set("parent", parentID)
	q.Set("mimeType", MimeFolder)
	q.Set("trashed", "false")
	if name != "" {
		q.Set("name", name)
	}

	var out listResponse
	if err := c.do(ctx, http.MethodGet, "/files?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}

	refs := out.Files
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].CreatedAt.Equal(refs[j].CreatedAt) {
			return refs[i].ID < refs[j].ID
		}
		return refs[i].CreatedAt.Before(refs[j].CreatedAt)
	})
	return refs, nil
}

// ListChildren returns all live children of parentID, files and folders.
func (c *Client) ListChildren(ctx context.Context, parentID string) ([]Ref, error) {
	q := url.Values{}
	q.Set("parent", parentID)
	q.Set("trashed", "false")

	var out listResponse
	if err := c.do(ctx, http.MethodGet, "/files?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Files, nil
}

type createRequest struct {
	Name     string   `json:"name"`
	MimeType string   `json:"mimeType"`
	Parents  []string `json:"parents,omitempty"`
}

// CreateFolder creates a folder named name under parentID.
func (c *Client) CreateFolder(ctx context.Context, parentID, name string) (Ref, error) {
	return c.create(ctx, parentID, name, MimeFolder)
}

// CreateSpreadsheet creates a spreadsheet file under parentID.
func (c *Client) CreateSpreadsheet(ctx context.Context, parentID, name string) (Ref, error) {
	return c.create(ctx, parentID, name, MimeSpreadsheet)
}

// CreateDocument creates a document file under parentID.
func (c *Client) CreateDocument(ctx context.Context, parentID, name string) (Ref, error) {
	return c.create(ctx, parentID, name, MimeDocument)
}

func (c *Client) create(ctx context.Context, parentID, name, mimeType string) (Ref, error) {
	req := createRequest{Name: name, MimeType: mimeType}
	if parentID != "" {
		req.Parents = []string{parentID}
	}

	var out Ref
	if err := c.do(ctx, http.MethodPost, "/files", req, &out); err != nil {
		return Ref{}, fmt.Errorf("creating %q: %w", name, err)
	}
	return out, nil
}

// Get returns the ref for a single file or folder.
func (c *Client) Get(ctx context.Context, id string) (Ref, error) {
	var out Ref
	if err := c.do(ctx, http.MethodGet, "/files/"+url.PathEscape(id), nil, &out); err != nil {
		return Ref{}, err
	}
	return out, nil
}

// Trash soft-deletes a file or folder. Trashed items can be restored from
// the Drive UI, which is why reconciliation cleanup uses this and never
// Delete.
func (c *Client) Trash(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/files/"+url.PathEscape(id)+"/trash", nil, nil)
}

// Delete permanently removes a file or folder.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/files/"+url.PathEscape(id), nil, nil)
}

type updateRequest struct {
	Name          string `json:"name,omitempty"`
	AddParents    string `json:"addParents,omitempty"`
	RemoveParents string `json:"removeParents,omitempty"`
}

// Move reparents a file or folder under newParentID.
func (c *Client) Move(ctx context.Context, id, newParentID string) (Ref, error) {
	current, err := c.Get(ctx, id)
	if err != nil {
		return Ref{}, fmt.Errorf("reading parents of %s: %w", id, err)
	}

	req := updateRequest{AddParents: newParentID}
	if len(current.Parents) > 0 {
		req.RemoveParents = strings.Join(current.Parents, ",")
	}

	var out Ref
	if err := c.do(ctx, http.MethodPatch, "/files/"+url.PathEscape(id), req, &out); err != nil {
		return Ref{}, fmt.Errorf("moving %s: %w", id, err)
	}
	return out, nil
}

// Rename changes the display name of a file or folder.
func (c *Client) Rename(ctx context.Context, id, newName string) (Ref, error) {
	var out Ref
	if err := c.do(ctx, http.MethodPatch, "/files/"+url.PathEscape(id), updateRequest{Name: newName}, &out); err != nil {
		return Ref{}, fmt.Errorf("renaming %s: %w", id, err)
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("drive bridge %s %s: %w", method, path, err)
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
}
