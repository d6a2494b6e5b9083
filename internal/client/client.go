// Package client is the Go client for the arbiter HTTP API, used by
// arbiterctl and by anything else that wants the cluster state without
// a database connection.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/FairForge/arbiter/internal/cluster"
	"github.com/FairForge/arbiter/internal/events"
)

var (
	// ErrUnauthorized means the server rejected the bearer token.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotActive means a control operation was sent to a standby.
	ErrNotActive = errors.New("node is not the active node")
)

// Client talks to one arbiter node's API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a client for baseURL. token may be empty for read-only
// use; control calls will fail with ErrUnauthorized.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// SetToken replaces the bearer token, e.g. after Login.
func (c *Client) SetToken(token string) { c.token = token }

// Status fetches the cluster snapshot.
func (c *Client) Status(ctx context.Context) (*cluster.Status, error) {
	var status cluster.Status
	if err := c.get(ctx, "/api/v1/cluster/status", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Nodes fetches the registry view.
func (c *Client) Nodes(ctx context.Context) ([]cluster.NodeInfo, error) {
	var resp struct {
		Nodes []cluster.NodeInfo `json:"nodes"`
	}
	if err := c.get(ctx, "/api/v1/nodes", &resp); err != nil {
		return nil, err
	}
	return resp.Nodes, nil
}

// Node fetches one registry row.
func (c *Client) Node(ctx context.Context, nodeID string) (*cluster.NodeInfo, error) {
	var node cluster.NodeInfo
	if err := c.get(ctx, "/api/v1/nodes/"+url.PathEscape(nodeID), &node); err != nil {
		return nil, err
	}
	return &node, nil
}

// Events fetches up to limit events from the history, newest first. An
// empty typePattern returns everything.
func (c *Client) Events(ctx context.Context, limit int, typePattern string) ([]events.Event, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if typePattern != "" {
		q.Set("type", typePattern)
	}
	path := "/api/v1/events"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp struct {
		Events []events.Event `json:"events"`
	}
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

// Watch streams live events over a websocket, calling fn for each one
// until ctx is cancelled, fn returns an error, or the connection drops.
func (c *Client) Watch(ctx context.Context, typePattern string, fn func(events.Event) error) error {
	u, err := url.Parse(c.baseURL + "/api/v1/events/watch")
	if err != nil {
		return fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	if typePattern != "" {
		u.RawQuery = url.Values{"type": {typePattern}}.Encode()
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return ErrUnauthorized
		}
		return fmt.Errorf("connect event stream: %w", err)
	}
	defer func() { _ = conn.Close() }()

	// Unblock ReadJSON when the caller gives up.
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		var event events.Event
		if err := conn.ReadJSON(&event); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("event stream closed: %w", err)
		}
		if err := fn(event); err != nil {
			return err
		}
	}
}

// Login exchanges an operator name and token for a JWT. The client
// starts using the new token immediately.
func (c *Client) Login(ctx context.Context, name, token string) (string, time.Time, error) {
	req := map[string]string{"name": name, "token": token}
	var resp struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := c.post(ctx, "/api/v1/auth/token", req, &resp); err != nil {
		return "", time.Time{}, err
	}
	c.token = resp.Token
	return resp.Token, resp.ExpiresAt, nil
}

// Failover asks the active node to step down.
func (c *Client) Failover(ctx context.Context) error {
	return c.post(ctx, "/api/v1/failover", nil, nil)
}

// SetMaintenance flips a node's maintenance flag.
func (c *Client) SetMaintenance(ctx context.Context, nodeID string, on bool) error {
	path := "/api/v1/nodes/" + url.PathEscape(nodeID) + "/maintenance"
	if on {
		return c.do(ctx, http.MethodPut, path, nil, nil)
	}
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// RemoveNode drops a node's registration.
func (c *Client) RemoveNode(ctx context.Context, nodeID string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/nodes/"+url.PathEscape(nodeID), nil, nil)
}

// ServerVersion fetches the daemon's version info.
func (c *Client) ServerVersion(ctx context.Context) (map[string]string, error) {
	var v map[string]string
	if err := c.get(ctx, "/version", &v); err != nil {
		return nil, err
	}
	return v, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, in, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, in, out)
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return c.apiError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// apiError maps the server's error envelope onto client sentinels.
func (c *Client) apiError(resp *http.Response) error {
	var envelope struct {
		Error string `json:"error"`
	}
	msg := resp.Status
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil && envelope.Error != "" {
		msg = envelope.Error
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrNotActive, msg)
	}
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, msg)
}
