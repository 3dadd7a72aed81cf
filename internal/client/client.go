// Package client provides an HTTP client for a running pfsense-toggle
// daemon. The CLI subcommands talk to the API exclusively through it.
//
// Response types are mirrored here rather than imported from the
// server packages so the wire contract stays explicit.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/waveworm/pfsense-toggle/internal/schedule"
)

// SubjectState mirrors the API subject status response.
type SubjectState struct {
	Name            string     `json:"name" yaml:"name"`
	DisplayName     string     `json:"display_name" yaml:"display_name"`
	Allowed         bool       `json:"allowed" yaml:"allowed"`
	RuleFound       bool       `json:"rule_found" yaml:"rule_found"`
	RuleTracker     int        `json:"rule_tracker" yaml:"rule_tracker"`
	ScheduleEnabled bool       `json:"schedule_enabled" yaml:"schedule_enabled"`
	ScheduleActive  bool       `json:"schedule_active" yaml:"schedule_active"`
	WindowEndsAt    *time.Time `json:"window_ends_at,omitempty" yaml:"window_ends_at,omitempty"`
	NextWindowStart *time.Time `json:"next_window_start,omitempty" yaml:"next_window_start,omitempty"`
	NextWindowEnd   *time.Time `json:"next_window_end,omitempty" yaml:"next_window_end,omitempty"`
	TimerUntil      *time.Time `json:"timer_until,omitempty" yaml:"timer_until,omitempty"`
	SkipUntil       *time.Time `json:"skip_until,omitempty" yaml:"skip_until,omitempty"`
	KnownDevices    int        `json:"known_devices" yaml:"known_devices"`
	BlockedDevices  int        `json:"blocked_devices" yaml:"blocked_devices"`
}

// CollaboratorStatus mirrors the monitor's reachability report.
type CollaboratorStatus struct {
	Name      string    `json:"name" yaml:"name"`
	Reachable bool      `json:"reachable" yaml:"reachable"`
	LatencyMS int64     `json:"latency_ms" yaml:"latency_ms"`
	CheckedAt time.Time `json:"checked_at" yaml:"checked_at"`
	Error     string    `json:"error,omitempty" yaml:"error,omitempty"`
}

// TaskStatus mirrors the scheduler's task report.
type TaskStatus struct {
	ID           string        `json:"id" yaml:"id"`
	Name         string        `json:"name" yaml:"name"`
	Description  string        `json:"description" yaml:"description"`
	Enabled      bool          `json:"enabled" yaml:"enabled"`
	LastRun      time.Time     `json:"last_run,omitempty" yaml:"last_run,omitempty"`
	LastDuration time.Duration `json:"last_duration,omitempty" yaml:"last_duration,omitempty"`
	LastError    string        `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	NextRun      time.Time     `json:"next_run,omitempty" yaml:"next_run,omitempty"`
	RunCount     int64         `json:"run_count" yaml:"run_count"`
	ErrorCount   int64         `json:"error_count" yaml:"error_count"`
}

// AuditEntry mirrors one audit trail row.
type AuditEntry struct {
	ID        string    `json:"id" yaml:"id"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Subject   string    `json:"subject,omitempty" yaml:"subject,omitempty"`
	Action    string    `json:"action" yaml:"action"`
	Detail    string    `json:"detail,omitempty" yaml:"detail,omitempty"`
	Source    string    `json:"source" yaml:"source"`
	IP        string    `json:"ip,omitempty" yaml:"ip,omitempty"`
}

// EventCounters mirrors the hub's publish statistics.
type EventCounters struct {
	Published uint64 `json:"published" yaml:"published"`
	Dropped   uint64 `json:"dropped" yaml:"dropped"`
}

// StatusInfo mirrors the API status response.
type StatusInfo struct {
	Status        string               `json:"status" yaml:"status"`
	Version       string               `json:"version" yaml:"version"`
	Commit        string               `json:"commit,omitempty" yaml:"commit,omitempty"`
	Uptime        string               `json:"uptime" yaml:"uptime"`
	Subjects      int                  `json:"subjects" yaml:"subjects"`
	Events        EventCounters        `json:"events" yaml:"events"`
	Collaborators []CollaboratorStatus `json:"collaborators,omitempty" yaml:"collaborators,omitempty"`
	Tasks         []TaskStatus         `json:"tasks,omitempty" yaml:"tasks,omitempty"`
	AuditEntries  int64                `json:"audit_entries,omitempty" yaml:"audit_entries,omitempty"`
}

// ToggleResult is the response to a manual toggle.
type ToggleResult struct {
	Subject string `json:"subject"`
	Allowed bool   `json:"allowed"`
}

// TimerResult is the response to starting a timed allow.
type TimerResult struct {
	Subject string    `json:"subject"`
	Minutes int       `json:"minutes"`
	Until   time.Time `json:"until"`
}

// SkipResult is the response to starting a skip.
type SkipResult struct {
	Subject string    `json:"subject"`
	Until   time.Time `json:"until"`
}

// StreamEvent is one event from the websocket stream. Data stays raw
// so callers can decode the payload for the types they care about.
type StreamEvent struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source"`
	Data      json.RawMessage `json:"data"`
}

// APIError carries the server's error body alongside the status code.
type APIError struct {
	StatusCode int
	Message    string
	Details    string
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s (status %d): %s", e.Message, e.StatusCode, e.Details)
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.StatusCode)
}

// Client talks to the daemon's HTTP API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option configures the Client.
type Option func(*Client)

// WithAPIKey sets the key sent in the X-API-Key header.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// New creates a client for the daemon at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// doRequest performs an HTTP request and decodes the JSON response.
func (c *Client) doRequest(method, path string, body interface{}, result interface{}) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		var er struct {
			Error   string `json:"error"`
			Details string `json:"details"`
		}
		if json.Unmarshal(respBody, &er) == nil && er.Error != "" {
			apiErr.Message = er.Error
			apiErr.Details = er.Details
		}
		return apiErr
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func subjectPath(name string) string {
	return "/api/subjects/" + url.PathEscape(name)
}

// Ping checks the daemon's liveness endpoint.
func (c *Client) Ping() error {
	return c.doRequest(http.MethodGet, "/healthz", nil, nil)
}

// Status retrieves the daemon status summary.
func (c *Client) Status() (*StatusInfo, error) {
	var info StatusInfo
	if err := c.doRequest(http.MethodGet, "/api/status", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Subjects retrieves the resolved state of every subject.
func (c *Client) Subjects() ([]SubjectState, error) {
	var states []SubjectState
	if err := c.doRequest(http.MethodGet, "/api/subjects", nil, &states); err != nil {
		return nil, err
	}
	return states, nil
}

// Subject retrieves one subject's resolved state.
func (c *Client) Subject(name string) (*SubjectState, error) {
	var st SubjectState
	if err := c.doRequest(http.MethodGet, subjectPath(name), nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Toggle flips a subject's access.
func (c *Client) Toggle(name string) (*ToggleResult, error) {
	var res ToggleResult
	if err := c.doRequest(http.MethodPost, subjectPath(name)+"/toggle", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// StartTimer grants access for the given number of minutes.
func (c *Client) StartTimer(name string, minutes int) (*TimerResult, error) {
	var res TimerResult
	path := subjectPath(name) + "/allow?minutes=" + strconv.Itoa(minutes)
	if err := c.doRequest(http.MethodPost, path, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// CancelTimer stops a running timed allow.
func (c *Client) CancelTimer(name string) error {
	return c.doRequest(http.MethodDelete, subjectPath(name)+"/allow", nil, nil)
}

// StartSkip suspends the subject's schedule until the window ends.
func (c *Client) StartSkip(name string) (*SkipResult, error) {
	var res SkipResult
	if err := c.doRequest(http.MethodPost, subjectPath(name)+"/skip", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// CancelSkip lifts an active skip.
func (c *Client) CancelSkip(name string) error {
	return c.doRequest(http.MethodDelete, subjectPath(name)+"/skip", nil, nil)
}

// SetScheduleEnabled turns a subject's weekly schedule on or off.
func (c *Client) SetScheduleEnabled(name string, enabled bool) error {
	action := "/schedule/disable"
	if enabled {
		action = "/schedule/enable"
	}
	return c.doRequest(http.MethodPost, subjectPath(name)+action, nil, nil)
}

// Schedules retrieves every subject's weekly schedule.
func (c *Client) Schedules() (map[string]*schedule.Weekly, error) {
	var schedules map[string]*schedule.Weekly
	if err := c.doRequest(http.MethodGet, "/api/schedules", nil, &schedules); err != nil {
		return nil, err
	}
	return schedules, nil
}

// SaveSchedules replaces schedules for the named subjects.
func (c *Client) SaveSchedules(schedules map[string]*schedule.Weekly) error {
	return c.doRequest(http.MethodPut, "/api/schedules", schedules, nil)
}

// AllowAll force-allows every subject.
func (c *Client) AllowAll() error {
	return c.doRequest(http.MethodPost, "/api/all/allow", nil, nil)
}

// BlockAll force-blocks every subject.
func (c *Client) BlockAll() error {
	return c.doRequest(http.MethodPost, "/api/all/block", nil, nil)
}

// Reconcile asks the daemon for an immediate reconcile pass.
func (c *Client) Reconcile() error {
	return c.doRequest(http.MethodPost, "/api/reconcile", nil, nil)
}

// Audit retrieves recent audit entries, newest first. Empty filter
// strings match everything.
func (c *Client) Audit(subject, action string, limit int) ([]AuditEntry, error) {
	q := url.Values{}
	if subject != "" {
		q.Set("subject", subject)
	}
	if action != "" {
		q.Set("action", action)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/audit"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var res struct {
		Count   int          `json:"count"`
		Entries []AuditEntry `json:"entries"`
	}
	if err := c.doRequest(http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}
	return res.Entries, nil
}

// Watch connects to the event stream and calls onEvent for each
// received event. types narrows the stream; nil subscribes to
// everything. Watch blocks until the connection drops.
func (c *Client) Watch(types []string, onEvent func(StreamEvent)) error {
	wsURL := strings.Replace(c.baseURL, "http", "ws", 1) + "/api/events"
	if len(types) > 0 {
		wsURL += "?types=" + url.QueryEscape(strings.Join(types, ","))
	}

	headers := http.Header{}
	if c.apiKey != "" {
		headers.Set("X-API-Key", c.apiKey)
	}

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 45 * time.Second,
	}
	conn, resp, err := dialer.Dial(wsURL, headers)
	if err != nil {
		return fmt.Errorf("dial event stream: %w", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	for {
		var evt StreamEvent
		if err := conn.ReadJSON(&evt); err != nil {
			return fmt.Errorf("event stream closed: %w", err)
		}
		onEvent(evt)
	}
}
