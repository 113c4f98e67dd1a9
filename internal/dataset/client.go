// Package dataset fetches rows from a paginated remote dataset endpoint
// (Hugging Face datasets-server style). The server caps page size at 100
// rows per request; FetchRows pages internally to honor larger limits.
package dataset

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// MaxPageSize is the largest number of rows the remote source returns per page.
const MaxPageSize = 100

// Row is one raw dataset record.
type Row map[string]any

// rowsResponse mirrors the JSON returned by the rows endpoint.
type rowsResponse struct {
	Rows []struct {
		RowIdx int `json:"row_idx"`
		Row    Row `json:"row"`
	} `json:"rows"`
	NumRowsTotal int `json:"num_rows_total"`
}

// Client fetches pages of rows from a remote dataset endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient creates a Client for the given rows endpoint URL. Query
// parameters already present on the endpoint (dataset, config, split)
// are preserved; offset and length are appended per request.
func NewClient(endpoint string) *Client {
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// FetchRows returns up to limit rows starting at offset. A result shorter
// than limit means the end of the dataset was reached.
func (c *Client) FetchRows(ctx context.Context, offset, limit int) ([]Row, error) {
	if limit <= 0 {
		return nil, nil
	}

	var rows []Row
	for len(rows) < limit {
		page := limit - len(rows)
		if page > MaxPageSize {
			page = MaxPageSize
		}

		got, err := c.fetchPage(ctx, offset+len(rows), page)
		if err != nil {
			return nil, err
		}
		rows = append(rows, got...)
		if len(got) < page {
			// End of dataset.
			break
		}
	}
	return rows, nil
}

func (c *Client) fetchPage(ctx context.Context, offset, length int) ([]Row, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parsing endpoint: %w", err)
	}
	q := u.Query()
	q.Set("offset", strconv.Itoa(offset))
	q.Set("length", strconv.Itoa(length))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating rows request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching rows at offset %d: %w", offset, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rows endpoint: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading rows response: %w", err)
	}
	return decodeRows(data)
}

// decodeRows accepts both wire shapes: the wrapped
// {"rows":[{"row":{...}}]} form and a bare array of row objects.
func decodeRows(data []byte) ([]Row, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var rows []Row
		if err := json.Unmarshal(trimmed, &rows); err != nil {
			return nil, fmt.Errorf("decoding rows array: %w", err)
		}
		return rows, nil
	}

	var parsed rowsResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("decoding rows response: %w", err)
	}
	rows := make([]Row, len(parsed.Rows))
	for i, r := range parsed.Rows {
		rows[i] = r.Row
	}
	return rows, nil
}
