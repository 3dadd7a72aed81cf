// Package pfsense talks to the packet filter's REST API. All wire-shape
// quirks (tracker types, presence flags, alias membership lists) are
// normalized here so the engine only ever sees clean types.
package pfsense

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/waveworm/pfsense-toggle/internal/buildinfo"
	"github.com/waveworm/pfsense-toggle/internal/config"
	"github.com/waveworm/pfsense-toggle/internal/logging"
	"github.com/waveworm/pfsense-toggle/internal/metrics"
	"github.com/waveworm/pfsense-toggle/internal/validation"
)

// CollaboratorName labels this client in metrics and health output.
const CollaboratorName = "pfsense"

// APIError is a non-2xx response from the firewall API. It is never
// retried; only transport failures are.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("firewall API error (status %d): %s", e.StatusCode, e.Message)
}

// Client is the firewall API client.
type Client struct {
	baseURL    string
	clientID   string
	token      string
	httpClient *http.Client
	logger     *logging.Logger
	retry      RetryConfig
}

// New creates a firewall client from config.
func New(cfg *config.PfSenseConfig, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Default().WithComponent("pfsense")
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Client{
		baseURL:  cfg.BaseURL,
		clientID: cfg.ClientID,
		token:    cfg.Token,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout(),
			Transport: transport,
		},
		logger: logger,
		retry:  DefaultRetryConfig(),
	}
}

// apiResponse is the envelope every endpoint wraps its payload in.
type apiResponse struct {
	Status  string          `json:"status"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// doRequest performs one HTTP round trip and decodes the envelope. Transport
// failures come back wrapped as ErrTransport for the retry layer.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	url := c.baseURL + path

	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent())
	req.Header.Set("Authorization", c.clientID+" "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return wrapTransport(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return wrapTransport(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := string(respBody)
		var envelope apiResponse
		if json.Unmarshal(respBody, &envelope) == nil && envelope.Message != "" {
			msg = envelope.Message
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if result == nil || len(respBody) == 0 {
		return nil
	}

	var envelope apiResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if len(envelope.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, result); err != nil {
		return fmt.Errorf("failed to decode response data: %w", err)
	}
	return nil
}

func (c *Client) recordErr(op string, err error) error {
	if err != nil {
		metrics.Get().RecordCollaboratorError(CollaboratorName, op)
	}
	return err
}

// ListRules fetches every firewall rule.
func (c *Client) ListRules(ctx context.Context) ([]Rule, error) {
	rules, err := RetryWithResult(ctx, c.retry, func() ([]Rule, error) {
		var rules []Rule
		if err := c.doRequest(ctx, http.MethodGet, "/api/v1/firewall/rule", nil, &rules); err != nil {
			return nil, err
		}
		return rules, nil
	})
	return rules, c.recordErr("list_rules", err)
}

// RuleByTracker fetches a single rule by tracker ID.
func (c *Client) RuleByTracker(ctx context.Context, tracker int) (*Rule, error) {
	rules, err := c.ListRules(ctx)
	if err != nil {
		return nil, err
	}
	for i := range rules {
		if rules[i].Tracker == tracker {
			return &rules[i], nil
		}
	}
	return nil, fmt.Errorf("no rule with tracker %d", tracker)
}

// PatchRuleDisabled sets a rule's disabled flag without applying. Batch
// several patches, then call Apply once.
func (c *Client) PatchRuleDisabled(ctx context.Context, tracker int, disabled bool) error {
	body := map[string]interface{}{
		"tracker":  tracker,
		"disabled": disabled,
		"apply":    false,
	}
	err := Retry(ctx, c.retry, func() error {
		return c.doRequest(ctx, http.MethodPut, "/api/v1/firewall/rule", body, nil)
	})
	return c.recordErr("patch_rule", err)
}

// Apply commits pending rule changes.
func (c *Client) Apply(ctx context.Context) error {
	body := map[string]interface{}{"async": false}
	err := Retry(ctx, c.retry, func() error {
		return c.doRequest(ctx, http.MethodPost, "/api/v1/firewall/apply", body, nil)
	})
	return c.recordErr("apply", err)
}

// ListAliases fetches every alias with normalized membership lists.
func (c *Client) ListAliases(ctx context.Context) ([]Alias, error) {
	aliases, err := RetryWithResult(ctx, c.retry, func() ([]Alias, error) {
		var aliases []Alias
		if err := c.doRequest(ctx, http.MethodGet, "/api/v1/firewall/alias", nil, &aliases); err != nil {
			return nil, err
		}
		return aliases, nil
	})
	return aliases, c.recordErr("list_aliases", err)
}

// PatchAliasAddresses replaces an alias's membership list.
func (c *Client) PatchAliasAddresses(ctx context.Context, name string, addrs []string) error {
	body := map[string]interface{}{
		"id":      name,
		"address": addrs,
		"apply":   true,
	}
	err := Retry(ctx, c.retry, func() error {
		return c.doRequest(ctx, http.MethodPut, "/api/v1/firewall/alias", body, nil)
	})
	return c.recordErr("patch_alias", err)
}

// KillStatesForAddress drops connection state entries whose source matches
// addr. Without this an already-established flow keeps passing traffic
// after its rule starts blocking.
func (c *Client) KillStatesForAddress(ctx context.Context, addr string) error {
	body := map[string]interface{}{"source": addr}
	err := Retry(ctx, c.retry, func() error {
		return c.doRequest(ctx, http.MethodDelete, "/api/v1/firewall/states", body, nil)
	})
	return c.recordErr("kill_states", err)
}

// ResolveSource expands a rule source into concrete addresses: an alias
// reference becomes its member list, a literal IP/CIDR passes through, and
// "any" resolves to nothing.
func (c *Client) ResolveSource(ctx context.Context, spec AddressSpec) ([]string, error) {
	if spec.Any || spec.Address == "" {
		return nil, nil
	}

	aliases, err := c.ListAliases(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range aliases {
		if a.Name == spec.Address {
			return a.Addresses, nil
		}
	}

	if err := validation.ValidateIPOrCIDR(spec.Address); err == nil {
		return []string{spec.Address}, nil
	}

	return nil, fmt.Errorf("cannot resolve rule source %q: no such alias and not an address", spec.Address)
}

// Ping checks API reachability with a cheap authenticated request.
func (c *Client) Ping(ctx context.Context) error {
	return c.doRequest(ctx, http.MethodGet, "/api/v1/system/version", nil, nil)
}
