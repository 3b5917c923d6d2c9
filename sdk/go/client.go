// Package evrsdk is a small Go client for the eventreservoir server API.
// Kiosks use it for pulls, queue replays, and pass-through scans; it has no
// dependency on the server internals and can be vendored by third parties.
package evrsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const DefaultTimeout = 10 * time.Second

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: DefaultTimeout},
	}
}

// APIError is a non-2xx response decoded from the server's error body.
type APIError struct {
	StatusCode int    `json:"-"`
	Status     string `json:"status,omitempty"`
	Message    string `json:"error,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Detail
	}
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, msg)
}

// IsConflict reports whether err is the server refusing a repeat transition.
func IsConflict(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.StatusCode == http.StatusConflict
}

// IsNotFound reports whether err is an unknown QR code.
func IsNotFound(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.StatusCode == http.StatusNotFound
}

// Snapshot is one attendee's sync state as served to kiosks.
type Snapshot struct {
	Code             string `json:"qr_code"`
	CheckedIn        bool   `json:"checked_in"`
	LunchDistributed bool   `json:"lunch_distributed"`
	KitDistributed   bool   `json:"kit_distributed"`
}

// QueueAction is one kiosk outbox entry submitted for replay.
type QueueAction struct {
	Code       string `json:"qr_code"`
	ActionType string `json:"action_type"`
	Timestamp  string `json:"timestamp,omitempty"`
}

// QueueResult is the server's verdict on one replayed action.
type QueueResult struct {
	Code       string `json:"qr_code"`
	ActionType string `json:"action_type"`
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
	Synced     bool   `json:"synced"`
}

// Attendee is the server's full attendee record.
type Attendee struct {
	ID               string `json:"id"`
	Code             string `json:"qr_code"`
	Name             string `json:"name"`
	Email            string `json:"email"`
	Phone            string `json:"phone,omitempty"`
	CheckedIn        bool   `json:"checked_in"`
	LunchDistributed bool   `json:"lunch_distributed"`
	KitDistributed   bool   `json:"kit_distributed"`
}

// Stats mirrors the dashboard counters.
type Stats struct {
	Total            int `json:"total"`
	CheckedIn        int `json:"checked_in"`
	LunchDistributed int `json:"lunch_distributed"`
	KitDistributed   int `json:"kit_distributed"`
	PendingEmails    int `json:"pending_emails"`
}

// Health probes the server. A nil error means reachable and healthy.
func (c *Client) Health(ctx context.Context) error {
	var out struct {
		Status string `json:"status"`
	}
	return c.do(ctx, http.MethodGet, "/health", nil, &out)
}

// OfflineSnapshot pulls the full attendee sync state.
func (c *Client) OfflineSnapshot(ctx context.Context) ([]Snapshot, error) {
	var out struct {
		Status    string     `json:"status"`
		Data      []Snapshot `json:"data"`
		Timestamp string     `json:"timestamp"`
	}
	if err := c.do(ctx, http.MethodGet, "/offline/sync", nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// AttendeeSnapshot fetches one attendee's sync state by code.
func (c *Client) AttendeeSnapshot(ctx context.Context, code string) (Snapshot, error) {
	var out struct {
		Status string   `json:"status"`
		Data   Snapshot `json:"data"`
	}
	err := c.do(ctx, http.MethodGet, "/offline/attendee/"+code, nil, &out)
	return out.Data, err
}

// ProcessQueue replays queued actions. The server resolves each entry
// independently and returns one result per action, in order.
func (c *Client) ProcessQueue(ctx context.Context, actions []QueueAction) ([]QueueResult, error) {
	in := struct {
		Actions []QueueAction `json:"actions"`
	}{Actions: actions}
	var out struct {
		Status  string        `json:"status"`
		Results []QueueResult `json:"results"`
	}
	if err := c.do(ctx, http.MethodPost, "/offline/process-queue", in, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// CheckIn marks an attendee checked in.
func (c *Client) CheckIn(ctx context.Context, code string) (Attendee, error) {
	return c.scan(ctx, "/checkin", code)
}

// DistributeLunch marks lunch collected.
func (c *Client) DistributeLunch(ctx context.Context, code string) (Attendee, error) {
	return c.scan(ctx, "/distribute/lunch", code)
}

// DistributeKit marks the kit collected.
func (c *Client) DistributeKit(ctx context.Context, code string) (Attendee, error) {
	return c.scan(ctx, "/distribute/kit", code)
}

func (c *Client) scan(ctx context.Context, path, code string) (Attendee, error) {
	in := struct {
		Code string `json:"qr_code"`
	}{Code: code}
	var out struct {
		Status   string   `json:"status"`
		Attendee Attendee `json:"attendee"`
	}
	err := c.do(ctx, http.MethodPost, path, in, &out)
	return out.Attendee, err
}

// DashboardStats fetches server counters.
func (c *Client) DashboardStats(ctx context.Context) (Stats, error) {
	var out struct {
		Status string `json:"status"`
		Stats  Stats  `json:"stats"`
	}
	err := c.do(ctx, http.MethodGet, "/dashboard/stats", nil, &out)
	return out.Stats, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	client := c.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(data, apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
