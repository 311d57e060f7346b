package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"armory/api/internal/normalize"
)

// HTTPError carries the protocol-level failure of a fetch.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// Client is the bearer-authenticated REST fetcher a controller uses in
// production.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Fetcher returns the whole-collection fetch function for one view.
func (c *Client) Fetcher(collection string) Fetcher {
	return func(ctx context.Context) ([]normalize.Record, error) {
		return c.FetchCollection(ctx, collection)
	}
}

func (c *Client) FetchCollection(ctx context.Context, collection string) ([]normalize.Record, error) {
	var payload struct {
		Records []normalize.Record `json:"records"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/collection/"+collection, nil, &payload); err != nil {
		return nil, err
	}
	if payload.Records == nil {
		payload.Records = []normalize.Record{}
	}
	return payload.Records, nil
}

// CreateRecord posts one record; the server answers with the canonical row
// it stored, so no second read is needed.
func (c *Client) CreateRecord(ctx context.Context, collection string, record normalize.RawRow) (normalize.Record, error) {
	var payload struct {
		Record normalize.Record `json:"record"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/collection/"+collection, record, &payload); err != nil {
		return nil, err
	}
	return payload.Record, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var failure struct {
			Code  string `json:"code"`
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&failure)
		return &HTTPError{StatusCode: resp.StatusCode, Code: failure.Code, Message: failure.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
