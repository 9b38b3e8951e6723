// Package store is the client for the remote message-store service.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/user/mirrorchat/internal/types"
)

var _ types.MessageStore = (*Client)(nil)

// Client implements types.MessageStore over the service's JSON API.
// Every request carries the bearer credential.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a client. A zero timeout leaves the transport default in place.
func New(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// sessionsResponse is the body of GET /api/messages/sessions.
type sessionsResponse struct {
	Data *[]types.SessionID `json:"data"`
}

// recordsResponse is the body of GET /api/messages.
type recordsResponse struct {
	Data *[]types.Record `json:"data"`
}

// recordResponse is the body of POST /api/messages.
type recordResponse struct {
	Data *types.Record `json:"data"`
}

// createRequest is the body of POST /api/messages.
type createRequest struct {
	Data types.Record `json:"data"`
}

// Sessions returns the distinct sessions used by author.
func (c *Client) Sessions(ctx context.Context, author string) ([]types.SessionID, error) {
	var resp sessionsResponse
	q := url.Values{"author": {author}}
	if err := c.do(ctx, http.MethodGet, "/api/messages/sessions", q, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return nil, schemaError("sessions response has no data")
	}
	for _, id := range *resp.Data {
		if id == "" {
			return nil, schemaError("sessions response contains an empty id")
		}
	}
	return *resp.Data, nil
}

// Messages returns the session's records, oldest first.
func (c *Client) Messages(ctx context.Context, session types.SessionID) ([]types.Record, error) {
	q := url.Values{"session": {string(session)}, "sort": {"asc"}}
	return c.list(ctx, q)
}

// Latest returns the most recent record of the session, or nil.
func (c *Client) Latest(ctx context.Context, session types.SessionID) (*types.Record, error) {
	q := url.Values{"session": {string(session)}, "sort": {"desc"}, "limit": {"1"}}
	records, err := c.list(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

// Create persists rec and returns the stored record.
func (c *Client) Create(ctx context.Context, rec types.Record) (*types.Record, error) {
	var resp recordResponse
	if err := c.do(ctx, http.MethodPost, "/api/messages", nil, createRequest{Data: rec}, &resp); err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return nil, schemaError("create response has no data")
	}
	if err := resp.Data.Validate(); err != nil {
		return nil, schemaError(err.Error())
	}
	return resp.Data, nil
}

func (c *Client) list(ctx context.Context, q url.Values) ([]types.Record, error) {
	var resp recordsResponse
	if err := c.do(ctx, http.MethodGet, "/api/messages", q, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return nil, schemaError("messages response has no data")
	}
	for i := range *resp.Data {
		if err := (*resp.Data)[i].Validate(); err != nil {
			return nil, schemaError(err.Error())
		}
	}
	return *resp.Data, nil
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, payload, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", types.ErrTransport, method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading response: %w", types.ErrTransport, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s %s: status %d", types.ErrAuth, method, path, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("%w: %s %s: status %d: %s", types.ErrTransport, method, path, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: parsing response: %w", types.ErrTransport, err)
	}
	return nil
}

func schemaError(msg string) error {
	return fmt.Errorf("%w: unexpected response shape: %s", types.ErrTransport, msg)
}
