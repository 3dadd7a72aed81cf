// Package unifi drives the wireless controller: listing stations and
// blocking or unblocking them by MAC. The controller uses a cookie session,
// so the client logs in lazily and repeats a request once after a 401.
package unifi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"

	"github.com/waveworm/pfsense-toggle/internal/buildinfo"
	"github.com/waveworm/pfsense-toggle/internal/config"
	"github.com/waveworm/pfsense-toggle/internal/logging"
	"github.com/waveworm/pfsense-toggle/internal/metrics"
	"github.com/waveworm/pfsense-toggle/internal/validation"
)

// CollaboratorName labels this client in metrics and health output.
const CollaboratorName = "unifi"

// Client is a wireless station known to the controller.
type Client struct {
	MAC      string `json:"mac"`
	IP       string `json:"ip"`
	Hostname string `json:"hostname"`
	Name     string `json:"name"`
	Blocked  bool   `json:"blocked"`
	Wired    bool   `json:"is_wired"`
}

// Label returns the friendliest available identifier for logs.
func (c Client) Label() string {
	if c.Name != "" {
		return c.Name
	}
	if c.Hostname != "" {
		return c.Hostname
	}
	return c.MAC
}

// APIError is a controller response with a non-ok result code.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("controller API error (status %d): %s", e.StatusCode, e.Message)
}

// Controller is the wireless controller client.
type Controller struct {
	baseURL    string
	username   string
	password   string
	site       string
	httpClient *http.Client
	logger     *logging.Logger

	mu       sync.Mutex
	loggedIn bool
}

// New creates a controller client from config.
func New(cfg *config.UniFiConfig, logger *logging.Logger) *Controller {
	if logger == nil {
		logger = logging.Default().WithComponent("unifi")
	}

	jar, _ := cookiejar.New(nil)
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	site := cfg.Site
	if site == "" {
		site = config.DefaultUniFiSite
	}

	return &Controller{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		site:     site,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout(),
			Jar:       jar,
			Transport: transport,
		},
		logger: logger,
	}
}

type apiMeta struct {
	RC      string `json:"rc"`
	Message string `json:"msg"`
}

type apiResponse struct {
	Meta apiMeta         `json:"meta"`
	Data json.RawMessage `json:"data"`
}

// login opens a controller session. The session cookie lands in the jar.
func (c *Controller) login(ctx context.Context) error {
	body, _ := json.Marshal(map[string]string{
		"username": c.username,
		"password": c.password,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/login", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("controller login: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Message: "login rejected"}
	}

	c.loggedIn = true
	c.logger.Debug("controller session established", "site", c.site)
	return nil
}

// do performs one authenticated request, logging in first if needed and
// once more after a 401 (expired session).
func (c *Controller) do(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loggedIn {
		if err := c.login(ctx); err != nil {
			return err
		}
	}

	status, err := c.roundTrip(ctx, method, path, body, result)
	if status == http.StatusUnauthorized {
		c.loggedIn = false
		if err := c.login(ctx); err != nil {
			return err
		}
		_, err = c.roundTrip(ctx, method, path, body, result)
	}
	return err
}

func (c *Controller) roundTrip(ctx context.Context, method, path string, body interface{}, result interface{}) (int, error) {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := string(respBody)
		var envelope apiResponse
		if json.Unmarshal(respBody, &envelope) == nil && envelope.Meta.Message != "" {
			msg = envelope.Meta.Message
		}
		return resp.StatusCode, &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	var envelope apiResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	if envelope.Meta.RC != "" && envelope.Meta.RC != "ok" {
		return resp.StatusCode, &APIError{StatusCode: resp.StatusCode, Message: envelope.Meta.Message}
	}

	if result != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, result); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response data: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func (c *Controller) recordErr(op string, err error) error {
	if err != nil {
		metrics.Get().RecordCollaboratorError(CollaboratorName, op)
	}
	return err
}

// ListClients returns every station the controller knows on the site, with
// MACs normalized to lowercase.
func (c *Controller) ListClients(ctx context.Context) ([]Client, error) {
	var clients []Client
	err := c.do(ctx, http.MethodGet, "/api/s/"+c.site+"/stat/sta", nil, &clients)
	if err != nil {
		return nil, c.recordErr("list_clients", err)
	}
	for i := range clients {
		clients[i].MAC = validation.NormalizeMAC(clients[i].MAC)
	}
	return clients, nil
}

// ClientsAtAddresses filters the station list to those whose IP matches one
// of the given addresses. Entries may be exact IPs or CIDRs.
func (c *Controller) ClientsAtAddresses(ctx context.Context, addrs []string) ([]Client, error) {
	if len(addrs) == 0 {
		return nil, nil
	}

	clients, err := c.ListClients(ctx)
	if err != nil {
		return nil, err
	}

	var matched []Client
	for _, cl := range clients {
		if cl.IP == "" {
			continue
		}
		for _, addr := range addrs {
			if matchesAddress(cl.IP, addr) {
				matched = append(matched, cl)
				break
			}
		}
	}
	return matched, nil
}

func matchesAddress(ip, addr string) bool {
	if ip == addr {
		return true
	}
	if !strings.Contains(addr, "/") {
		return false
	}
	_, network, err := net.ParseCIDR(addr)
	if err != nil {
		return false
	}
	parsed := net.ParseIP(ip)
	return parsed != nil && network.Contains(parsed)
}

// BlockClient blocks a station by MAC. Blocking an already-blocked station
// is a no-op on the controller.
func (c *Controller) BlockClient(ctx context.Context, mac string) error {
	return c.recordErr("block_client", c.stationCommand(ctx, "block-sta", mac))
}

// UnblockClient unblocks a station by MAC.
func (c *Controller) UnblockClient(ctx context.Context, mac string) error {
	return c.recordErr("unblock_client", c.stationCommand(ctx, "unblock-sta", mac))
}

func (c *Controller) stationCommand(ctx context.Context, cmd, mac string) error {
	mac = validation.NormalizeMAC(mac)
	if err := validation.ValidateMAC(mac); err != nil {
		return err
	}
	body := map[string]string{"cmd": cmd, "mac": mac}
	return c.do(ctx, http.MethodPost, "/api/s/"+c.site+"/cmd/stamgr", body, nil)
}

// Ping checks controller reachability via the unauthenticated status
// endpoint.
func (c *Controller) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", buildinfo.UserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Message: "status endpoint unhealthy"}
	}
	return nil
}
