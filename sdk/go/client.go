// Package warroomsdk is a minimal typed client for the Warroom HTTP API.
package warroomsdk

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

// Client talks to a Warroom server.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Proposal represents the API proposal model.
type Proposal struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Domain      string `json:"domain"`
	Status      string `json:"status"`
	RequestedBy string `json:"requested_by"`
	CreatedAt   string `json:"created_at"`
}

// Step represents one unit of mission work (partial).
type Step struct {
	ID         string `json:"id"`
	MissionID  string `json:"mission_id"`
	Title      string `json:"title"`
	Kind       string `json:"kind"`
	AssignedTo string `json:"assigned_to"`
	Status     string `json:"status"`
	Output     string `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Mission represents the API mission model.
type Mission struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	AssignedTo string `json:"assigned_to"`
	Status     string `json:"status"`
	Steps      []Step `json:"steps,omitempty"`
	CreatedAt  string `json:"created_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}

// DispatchResult reports the outcome of a dispatch call.
type DispatchResult struct {
	Executed bool  `json:"executed"`
	Step     *Step `json:"step,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateProposal submits a proposal for approval.
func (c *Client) CreateProposal(ctx context.Context, title, description, domain string) (Proposal, error) {
	body := map[string]any{
		"title":       title,
		"description": description,
		"domain":      domain,
	}
	var resp Proposal
	err := c.do(ctx, http.MethodPost, "v0/proposals", body, &resp)
	return resp, err
}

// ApproveProposal approves a pending proposal.
func (c *Client) ApproveProposal(ctx context.Context, id string) (Proposal, error) {
	var resp Proposal
	endpoint := fmt.Sprintf("v0/proposals/%s/approve", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{}, &resp)
	return resp, err
}

// RejectProposal rejects a pending proposal.
func (c *Client) RejectProposal(ctx context.Context, id, reason string) (Proposal, error) {
	var resp Proposal
	endpoint := fmt.Sprintf("v0/proposals/%s/reject", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"reason": reason}, &resp)
	return resp, err
}

// Missions lists missions, optionally filtered by status.
func (c *Client) Missions(ctx context.Context, status string) ([]Mission, error) {
	endpoint := "v0/missions"
	if status != "" {
		endpoint = fmt.Sprintf("%s?status=%s", endpoint, url.QueryEscape(status))
	}
	var resp []Mission
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Mission fetches a mission with its steps.
func (c *Client) Mission(ctx context.Context, id string) (Mission, error) {
	var resp Mission
	endpoint := fmt.Sprintf("v0/missions/%s", url.PathEscape(id))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// DispatchNext asks the server to claim and execute the next queued step.
func (c *Client) DispatchNext(ctx context.Context) (DispatchResult, error) {
	var resp DispatchResult
	err := c.do(ctx, http.MethodPost, "v0/dispatch/next", map[string]any{}, &resp)
	return resp, err
}

// Events returns recent events, newest first.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Status returns the war room status summary.
func (c *Client) Status(ctx context.Context) (map[string]any, error) {
	var resp map[string]any
	err := c.do(ctx, http.MethodGet, "v0/status", nil, &resp)
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
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
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

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
