// Package postgrest talks to the hosted REST API in front of the database.
package postgrest

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

const restPrefix = "/rest/v1/"

// APIError is an error response from the REST API.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Code != "" {
		return fmt.Sprintf("api %d (%s): %s", e.Status, e.Code, msg)
	}
	return fmt.Sprintf("api %d: %s", e.Status, msg)
}

// SQLState returns the Postgres error code carried by the response, if any.
func (e *APIError) SQLState() string {
	return e.Code
}

// Client is a minimal REST client authenticated with a service-role key.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

// NewClient returns a client for baseURL. A nil httpClient gets a client
// with a 30 second timeout.
func NewClient(baseURL, apiKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTP:    httpClient,
	}
}

// TableExists probes table with a one-row select.
func (c *Client) TableExists(ctx context.Context, table string) (bool, error) {
	resp, err := c.do(ctx, http.MethodGet, table, url.Values{"limit": {"1"}}, nil, nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return true, nil
	}
	apiErr := decodeError(resp)
	// 42P01 undefined_table; PGRST205 is returned when the schema cache has no such table
	if resp.StatusCode == http.StatusNotFound || apiErr.Code == "42P01" || apiErr.Code == "PGRST205" {
		return false, nil
	}
	return false, apiErr
}

// Insert posts one row to table without asking for it back.
func (c *Client) Insert(ctx context.Context, table string, row any) error {
	body, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("encode row: %w", err)
	}
	hdr := http.Header{"Prefer": {"return=minimal"}}
	resp, err := c.do(ctx, http.MethodPost, table, nil, hdr, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return decodeError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Select returns up to limit rows of table. A limit of zero means no limit.
func (c *Client) Select(ctx context.Context, table string, limit int) ([]map[string]any, error) {
	q := url.Values{"select": {"*"}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	resp, err := c.do(ctx, http.MethodGet, table, q, nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}
	var rows []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode rows: %w", err)
	}
	return rows, nil
}

// RPC calls a database function exposed under /rest/v1/rpc/.
func (c *Client) RPC(ctx context.Context, fn string, args any) error {
	body, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode args: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, "rpc/"+fn, nil, nil, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) do(ctx context.Context, method, resource string, q url.Values, hdr http.Header, body []byte) (*http.Response, error) {
	u := c.BaseURL + restPrefix + resource
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", c.APIKey)
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, resource, err)
	}
	return resp, nil
}

func decodeError(resp *http.Response) *APIError {
	apiErr := &APIError{Status: resp.StatusCode}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil || len(data) == 0 {
		return apiErr
	}
	if json.Unmarshal(data, apiErr) != nil {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}
