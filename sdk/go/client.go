package starbridgesdk

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
)

// Client is a minimal Starbridge HTTP API client scoped to one ship.
type Client struct {
	BaseURL     string
	BasePath    string
	ShipID      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, shipID string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/api",
		ShipID:   shipID,
		Timeout:  10 * time.Second,
	}
}

// Parent names the dependency capping an entity.
type Parent struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// Entity is a system or asset with its derived effective status.
type Entity struct {
	ID              string   `json:"id"`
	ShipID          string   `json:"ship_id"`
	Kind            string   `json:"kind"`
	Name            string   `json:"name"`
	Category        string   `json:"category"`
	Status          string   `json:"status"`
	Value           float64  `json:"value"`
	MaxValue        float64  `json:"max_value"`
	DependsOn       []string `json:"depends_on"`
	EffectiveStatus string   `json:"effective_status"`
	LimitingParent  *Parent  `json:"limiting_parent,omitempty"`
}

// Action is one scenario step in wire form.
type Action struct {
	Type   string         `json:"type"`
	Target string         `json:"target,omitempty"`
	Value  any            `json:"value,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
}

// Event is an entry of the ship's event feed.
type Event struct {
	ID          int64          `json:"id"`
	ShipID      string         `json:"ship_id"`
	Type        string         `json:"type"`
	Severity    string         `json:"severity"`
	Message     string         `json:"message"`
	Data        map[string]any `json:"data"`
	Transmitted bool           `json:"transmitted"`
	CreatedAt   string         `json:"created_at"`
}

// EventPage is one poll of the feed. LastID feeds the next poll.
type EventPage struct {
	Items  []Event `json:"items"`
	LastID int64   `json:"last_id"`
}

// ExecutionResult reports a scenario run.
type ExecutionResult struct {
	Success         bool     `json:"success"`
	ActionsExecuted int      `json:"actions_executed"`
	Events          []int64  `json:"events"`
	Errors          []string `json:"errors"`
}

// Rehearsal reports a dry run. Changes and events are left undecoded.
type Rehearsal struct {
	CanExecute  bool              `json:"can_execute"`
	ActionCount int               `json:"action_count"`
	Changes     []json.RawMessage `json:"changes"`
	Events      []json.RawMessage `json:"events"`
	Warnings    []string          `json:"warnings"`
	Errors      []string          `json:"errors"`
}

// Posture is the ship's alert posture and rules of engagement.
type Posture struct {
	ShipID  string         `json:"ship_id"`
	Posture string         `json:"posture"`
	ROE     map[string]any `json:"roe"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Systems lists the ship's systems.
func (c *Client) Systems(ctx context.Context) ([]Entity, error) {
	var resp struct {
		Items []Entity `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, c.shipPath("systems"), nil, &resp)
	return resp.Items, err
}

// SetSystemStatus sets a system's status and lets the server derive the value.
func (c *Client) SetSystemStatus(ctx context.Context, id, status string) (Entity, error) {
	var resp Entity
	endpoint := c.shipPath("systems/" + url.PathEscape(id))
	err := c.do(ctx, http.MethodPatch, endpoint, map[string]any{"status": status}, &resp)
	return resp, err
}

// ExecuteScenario runs a stored scenario.
func (c *Client) ExecuteScenario(ctx context.Context, id string) (ExecutionResult, error) {
	var resp ExecutionResult
	endpoint := c.shipPath(fmt.Sprintf("scenarios/%s/execute", url.PathEscape(id)))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// ExecuteActions runs an unsaved action list. Game master only.
func (c *Client) ExecuteActions(ctx context.Context, actions []Action) (ExecutionResult, error) {
	var resp ExecutionResult
	err := c.do(ctx, http.MethodPost, c.shipPath("execute"), map[string]any{"actions": actions}, &resp)
	return resp, err
}

// Rehearse dry-runs an unsaved action list.
func (c *Client) Rehearse(ctx context.Context, actions []Action) (Rehearsal, error) {
	var resp Rehearsal
	err := c.do(ctx, http.MethodPost, c.shipPath("rehearse"), map[string]any{"actions": actions}, &resp)
	return resp, err
}

// SetPosture switches the ship posture.
func (c *Client) SetPosture(ctx context.Context, posture string) (Posture, error) {
	var resp Posture
	err := c.do(ctx, http.MethodPut, c.shipPath("posture"), map[string]any{"posture": posture}, &resp)
	return resp, err
}

// Events polls events with id greater than afterID.
func (c *Client) Events(ctx context.Context, afterID int64, limit int) (EventPage, error) {
	q := url.Values{}
	if afterID > 0 {
		q.Set("after_id", fmt.Sprint(afterID))
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	endpoint := c.shipPath("events")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp EventPage
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) shipPath(p string) string {
	prefix := strings.Trim(c.BasePath, "/")
	if prefix == "" {
		prefix = "api"
	}
	return fmt.Sprintf("%s/ships/%s/%s", prefix, url.PathEscape(c.ShipID), strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
