// Package servicenow provides HTTP access to the ServiceNow table API.
//
// The pipeline consumes this client through the narrow interfaces declared in
// the collector and pipeline packages; only the handful of operations the
// validation flow needs are implemented (fetch by sys_id, query, work notes).
package servicenow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// StatusError is returned when ServiceNow responds with a 4xx/5xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("servicenow request failed (%d): %s", e.StatusCode, e.Body)
}

// Client provides HTTP access to a ServiceNow instance.
type Client struct {
	URL        string
	Username   string
	Password   string
	HTTPClient *http.Client
}

// NewClient creates a new ServiceNow client with basic auth and a bounded
// request timeout.
func NewClient(instanceURL, username, password string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		URL:      strings.TrimSuffix(instanceURL, "/"),
		Username: username,
		Password: password,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// GetRecord fetches a single record from a table by sys_id. Returns nil
// without error when the record does not exist (404): the collector treats
// missing records as fail-safe nulls, not errors.
func (c *Client) GetRecord(ctx context.Context, table, sysID string, fields []string) (Record, error) {
	params := url.Values{}
	if len(fields) > 0 {
		params.Set("sysparm_fields", strings.Join(fields, ","))
	}
	apiURL := fmt.Sprintf("%s/api/now/table/%s/%s", c.URL, url.PathEscape(table), url.PathEscape(sysID))
	if len(params) > 0 {
		apiURL += "?" + params.Encode()
	}

	body, err := c.doRequest(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get %s/%s: %w", table, sysID, err)
	}
	return extractResult(body)
}

// QueryTable executes a sysparm_query against a table and returns up to
// limit records.
func (c *Client) QueryTable(ctx context.Context, table, query string, limit int, fields []string) ([]Record, error) {
	if limit <= 0 {
		limit = 10
	}
	params := url.Values{
		"sysparm_query": {query},
		"sysparm_limit": {fmt.Sprintf("%d", limit)},
	}
	if len(fields) > 0 {
		params.Set("sysparm_fields", strings.Join(fields, ","))
	}
	apiURL := fmt.Sprintf("%s/api/now/table/%s?%s", c.URL, url.PathEscape(table), params.Encode())

	body, err := c.doRequest(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}

	var envelope struct {
		Result []Record `json:"result"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("parse query response: %w", err)
	}
	return envelope.Result, nil
}

// PostWorkNote appends a work note to a change request.
func (c *Client) PostWorkNote(ctx context.Context, changeSysID, note string) error {
	payload, err := json.Marshal(map[string]string{"work_notes": note})
	if err != nil {
		return fmt.Errorf("marshal work note: %w", err)
	}

	apiURL := fmt.Sprintf("%s/api/now/table/change_request/%s", c.URL, url.PathEscape(changeSysID))
	if _, err := c.doRequest(ctx, http.MethodPatch, apiURL, payload); err != nil {
		return fmt.Errorf("post work note to %s: %w", changeSysID, err)
	}
	return nil
}

// doRequest executes an authenticated HTTP request and returns the response body.
func (c *Client) doRequest(ctx context.Context, method, apiURL string, body []byte) ([]byte, error) {
	if c.URL == "" {
		return nil, fmt.Errorf("servicenow URL not configured")
	}

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, apiURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.SetBasicAuth(c.Username, c.Password)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "changegate/1.0")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(respBody), 512)}
	}
	return respBody, nil
}

// extractResult unwraps the table API's {"result": {...}} envelope.
func extractResult(body []byte) (Record, error) {
	var envelope struct {
		Result Record `json:"result"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if envelope.Result == nil {
		return nil, fmt.Errorf("servicenow response missing result")
	}
	return envelope.Result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
