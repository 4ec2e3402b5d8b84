package api

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

	"aisio/internal/wire"
)

// ErrUnavailable is returned when the status API cannot be reached.
var ErrUnavailable = errors.New("status api unavailable")

// Client talks to a running process's status API.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// NewClient targets bind (host:port or a full URL).
func NewClient(bind, token string) (*Client, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, fmt.Errorf("%w: api_bind is empty", ErrUnavailable)
	}
	if !strings.Contains(bind, "://") {
		bind = "http://" + bind
	}
	u, err := url.Parse(bind)
	if err != nil {
		return nil, fmt.Errorf("parse api address: %w", err)
	}
	return &Client{
		base:  strings.TrimRight(u.String(), "/"),
		token: strings.TrimSpace(token),
		http:  &http.Client{Timeout: 5 * time.Second},
	}, nil
}

// Status fetches /api/status.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var status Status
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &status)
	return status, err
}

// Connections fetches /api/connections.
func (c *Client) Connections(ctx context.Context) ([]Connection, error) {
	var conns []Connection
	err := c.do(ctx, http.MethodGet, "/api/connections", nil, &conns)
	return conns, err
}

// Emit sends an event to one connection. An empty connID targets the client
// role's only session.
func (c *Client) Emit(ctx context.Context, connID, event string, args ...wire.Value) (EmitResponse, error) {
	path := "/api/emit"
	if connID != "" {
		path = "/api/connections/" + url.PathEscape(connID) + "/emit"
	}
	return c.post(ctx, path, event, args)
}

// Broadcast sends an event to every connection.
func (c *Client) Broadcast(ctx context.Context, event string, args ...wire.Value) (EmitResponse, error) {
	return c.post(ctx, "/api/broadcast", event, args)
}

func (c *Client) post(ctx context.Context, path, event string, args []wire.Value) (EmitResponse, error) {
	rawArgs, err := json.Marshal(wire.Array(args...))
	if err != nil {
		return EmitResponse{}, fmt.Errorf("encode args: %w", err)
	}
	var resp EmitResponse
	err = c.do(ctx, http.MethodPost, path, EmitRequest{Event: event, Args: rawArgs}, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr ErrorResponse
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (%d)", method, path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
