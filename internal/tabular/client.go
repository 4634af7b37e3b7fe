// Package tabular is the client for the Sheets bridge, the REST service
// fronting Google Sheets. Values travel as rows of strings; the catalog
// schema lives in schema.go.
package tabular

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
)

// StatusError is a non-2xx response from the bridge.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("sheets bridge: unexpected status %d: %s", e.Code, e.Body)
}

// Client communicates with the Sheets bridge over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	available  bool
}

// New creates a Client and probes connectivity once. The result is cached
// for the client's lifetime.
func New(baseURL string) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	c.available = c.probe(3 * time.Second)
	if !c.available {
		slog.Warn("sheets bridge not available", "url", c.baseURL)
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

type valuesPayload struct {
	Values [][]string `json:"values"`
}

type spreadsheetInfo struct {
	Sheets []struct {
		Title string `json:"title"`
	} `json:"sheets"`
}

func (c *Client) valuesPath(spreadsheetID, rng string) string {
	return "/spreadsheets/" + url.PathEscape(spreadsheetID) + "/values/" + url.PathEscape(rng)
}

// ReadRange returns the cell values in an A1-notation range, e.g.
// "Catalog!A2:M". Empty trailing rows are omitted by the bridge.
func (c *Client) ReadRange(ctx context.Context, spreadsheetID, rng string) ([][]string, error) {
	var out valuesPayload
	if err := c.do(ctx, http.MethodGet, c.valuesPath(spreadsheetID, rng), nil, &out); err != nil {
		return nil, fmt.Errorf("reading %s: %w", rng, err)
	}
	return out.Values, nil
}

// UpdateRange overwrites the cells in a range with the given rows.
func (c *Client) UpdateRange(ctx context.Context, spreadsheetID, rng string, rows [][]string) error {
	if err := c.do(ctx, http.MethodPut, c.valuesPath(spreadsheetID, rng), valuesPayload{Values: rows}, nil); err != nil {
		return fmt.Errorf("updating %s: %w", rng, err)
	}
	return nil
}

// AppendRows appends rows after the last non-empty row of the range's sheet.
func (c *Client) AppendRows(ctx context.Context, spreadsheetID, rng string, rows [][]string) error {
	if err := c.do(ctx, http.MethodPost, c.valuesPath(spreadsheetID, rng)+":append", valuesPayload{Values: rows}, nil); err != nil {
		return fmt.Errorf("appending to %s: %w", rng, err)
	}
	return nil
}

// ClearRange blanks all cells in the range without removing the rows.
func (c *Client) ClearRange(ctx context.Context, spreadsheetID, rng string) error {
	if err := c.do(ctx, http.MethodPost, c.valuesPath(spreadsheetID, rng)+":clear", nil, nil); err != nil {
		return fmt.Errorf("clearing %s: %w", rng, err)
	}
	return nil
}

// SheetNames returns the titles of all sheets in the spreadsheet.
func (c *Client) SheetNames(ctx context.Context, spreadsheetID string) ([]string, error) {
	var out spreadsheetInfo
	if err := c.do(ctx, http.MethodGet, "/spreadsheets/"+url.PathEscape(spreadsheetID), nil, &out); err != nil {
		return nil, err
	}
	names := make([]string, len(out.Sheets))
	for i, s := range out.Sheets {
		names[i] = s.Title
	}
	return names, nil
}

// SheetExists reports whether the spreadsheet contains a sheet with the
// given title.
func (c *Client) SheetExists(ctx context.Context, spreadsheetID, title string) (bool, error) {
	names, err := c.SheetNames(ctx, spreadsheetID)
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if n == title {
			return true, nil
		}
	}
	return false, nil
}

type addSheetRequest struct {
	Title string `json:"title"`
}

// AddSheet creates a new sheet tab with the given title.
func (c *Client) AddSheet(ctx context.Context, spreadsheetID, title string) error {
	path := "/spreadsheets/" + url.PathEscape(spreadsheetID) + "/sheets"
	if err := c.do(ctx, http.MethodPost, path, addSheetRequest{Title: title}, nil); err != nil {
		return fmt.Errorf("adding sheet %q: %w", title, err)
	}
	return nil
}

// FindRowByValue scans a single column in a sheet for an exact cell match and
// returns the 1-based row number, or 0 if not found. column is a letter like
// "C"; scanning starts after the header row.
func (c *Client) FindRowByValue(ctx context.Context, spreadsheetID, sheet, column, value string) (int, error) {
	rng := fmt.Sprintf("%s!%s2:%s", sheet, column, column)
	rows, err := c.ReadRange(ctx, spreadsheetID, rng)
	if err != nil {
		return 0, err
	}
	for i, row := range rows {
		if len(row) > 0 && row[0] == value {
			return i + 2, nil
		}
	}
	return 0, nil
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
		return fmt.Errorf("sheets bridge %s %s: %w", method, path, err)
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
