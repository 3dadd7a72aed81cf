package config

import (
	"time"

	"github.com/waveworm/pfsense-toggle/internal/buildinfo"
)

// CurrentSchemaVersion defines the current schema version of the configuration.
const CurrentSchemaVersion = "1.0"

// Defaults applied by ApplyDefaults when the config leaves a knob unset.
const (
	DefaultListenAddr               = "127.0.0.1:8787"
	DefaultReconcileIntervalSeconds = 15
	DefaultTimeoutSeconds           = 15
	DefaultUniFiSite                = "default"
	DefaultMonitorIntervalSeconds   = 30
	DefaultAuditMaxEntries          = 500
)

// Config is the top-level structure for the daemon configuration.
type Config struct {
	// Schema version for backward compatibility. If empty, defaults to "1.0".
	SchemaVersion string `hcl:"schema_version,optional" json:"schema_version,omitempty"`

	ListenAddr               string `hcl:"listen_addr,optional" json:"listen_addr,omitempty"`
	StateDir                 string `hcl:"state_dir,optional" json:"state_dir,omitempty"`
	ReconcileIntervalSeconds int    `hcl:"reconcile_interval_seconds,optional" json:"reconcile_interval_seconds,omitempty"`
	LogLevel                 string `hcl:"log_level,optional" json:"log_level,omitempty"`
	LogJSON                  bool   `hcl:"log_json,optional" json:"log_json,omitempty"`

	// MACs never blocked on the wireless controller, regardless of subject
	// state (parents' phones, infrastructure).
	ExcludeMACs []string `hcl:"exclude_macs,optional" json:"exclude_macs,omitempty"`

	PfSense  *PfSenseConfig  `hcl:"pfsense,block" json:"pfsense,omitempty"`
	UniFi    *UniFiConfig    `hcl:"unifi,block" json:"unifi,omitempty"`
	Subjects []SubjectConfig `hcl:"subject,block" json:"subjects"`

	API           *APIConfig           `hcl:"api,block" json:"api,omitempty"`
	Notifications *NotificationsConfig `hcl:"notifications,block" json:"notifications,omitempty"`
	Monitor       *MonitorConfig       `hcl:"monitor,block" json:"monitor,omitempty"`
	Audit         *AuditConfig         `hcl:"audit,block" json:"audit,omitempty"`
}

// SubjectConfig binds a subject name to its packet filter rules. RuleTracker
// identifies the block rule toggled for manual/timer/schedule access;
// ScheduleRuleTracker optionally names a companion rule flipped together with
// the schedule's enabled state.
type SubjectConfig struct {
	Name                string `hcl:"name,label" json:"name"`
	DisplayName         string `hcl:"display_name,optional" json:"display_name,omitempty"`
	RuleTracker         int    `hcl:"rule_tracker" json:"rule_tracker"`
	ScheduleRuleTracker int    `hcl:"schedule_rule_tracker,optional" json:"schedule_rule_tracker,omitempty"`
}

// Label returns the display name, falling back to the subject name.
func (s *SubjectConfig) Label() string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	return s.Name
}

// PfSenseConfig describes the packet filter API endpoint.
type PfSenseConfig struct {
	BaseURL            string `hcl:"base_url" json:"base_url"`
	ClientID           string `hcl:"client_id" json:"client_id"`
	Token              string `hcl:"token" json:"token"`
	InsecureSkipVerify bool   `hcl:"insecure_skip_verify,optional" json:"insecure_skip_verify,omitempty"`
	TimeoutSeconds     int    `hcl:"timeout_seconds,optional" json:"timeout_seconds,omitempty"`
}

// Timeout returns the request timeout as a duration.
func (p *PfSenseConfig) Timeout() time.Duration {
	if p.TimeoutSeconds <= 0 {
		return DefaultTimeoutSeconds * time.Second
	}
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// UniFiConfig describes the wireless controller endpoint. The block is
// optional; without it wireless enforcement is skipped.
type UniFiConfig struct {
	BaseURL            string `hcl:"base_url" json:"base_url"`
	Username           string `hcl:"username" json:"username"`
	Password           string `hcl:"password" json:"password"`
	Site               string `hcl:"site,optional" json:"site,omitempty"`
	InsecureSkipVerify bool   `hcl:"insecure_skip_verify,optional" json:"insecure_skip_verify,omitempty"`
	TimeoutSeconds     int    `hcl:"timeout_seconds,optional" json:"timeout_seconds,omitempty"`
}

// Timeout returns the request timeout as a duration.
func (u *UniFiConfig) Timeout() time.Duration {
	if u.TimeoutSeconds <= 0 {
		return DefaultTimeoutSeconds * time.Second
	}
	return time.Duration(u.TimeoutSeconds) * time.Second
}

// APIConfig controls the local HTTP API.
type APIConfig struct {
	// RequireAuth demands the X-API-Key header on state-changing routes.
	RequireAuth bool `hcl:"require_auth,optional" json:"require_auth,omitempty"`

	// APIKeyHash is the bcrypt hash of the API key (generate with the
	// apikey subcommand). The plaintext key never appears in the config.
	APIKeyHash string `hcl:"api_key_hash,optional" json:"api_key_hash,omitempty"`

	// RateLimitPerMinute caps requests per client IP. 0 uses the built-in
	// default.
	RateLimitPerMinute int `hcl:"rate_limit_per_minute,optional" json:"rate_limit_per_minute,omitempty"`
}

// MonitorConfig controls collaborator reachability probing.
type MonitorConfig struct {
	Enabled         bool `hcl:"enabled,optional" json:"enabled"`
	IntervalSeconds int  `hcl:"interval_seconds,optional" json:"interval_seconds,omitempty"`
}

// Interval returns the probe interval as a duration.
func (m *MonitorConfig) Interval() time.Duration {
	if m.IntervalSeconds <= 0 {
		return DefaultMonitorIntervalSeconds * time.Second
	}
	return time.Duration(m.IntervalSeconds) * time.Second
}

// AuditConfig controls the audit trail database.
type AuditConfig struct {
	// MaxEntries caps the number of retained audit events. Older events are
	// pruned. Default: 500.
	MaxEntries int `hcl:"max_entries,optional" json:"max_entries,omitempty"`

	// DatabasePath overrides the default audit database location.
	DatabasePath string `hcl:"database_path,optional" json:"database_path,omitempty"`
}

// ApplyDefaults fills unset fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.SchemaVersion == "" {
		c.SchemaVersion = CurrentSchemaVersion
	}
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.StateDir == "" {
		c.StateDir = buildinfo.StateDir()
	}
	if c.ReconcileIntervalSeconds <= 0 {
		c.ReconcileIntervalSeconds = DefaultReconcileIntervalSeconds
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.UniFi != nil && c.UniFi.Site == "" {
		c.UniFi.Site = DefaultUniFiSite
	}
	if c.Audit == nil {
		c.Audit = &AuditConfig{}
	}
	if c.Audit.MaxEntries <= 0 {
		c.Audit.MaxEntries = DefaultAuditMaxEntries
	}
}

// ReconcileInterval returns the reconciliation loop interval as a duration.
func (c *Config) ReconcileInterval() time.Duration {
	if c.ReconcileIntervalSeconds <= 0 {
		return DefaultReconcileIntervalSeconds * time.Second
	}
	return time.Duration(c.ReconcileIntervalSeconds) * time.Second
}

// Subject returns the subject with the given name, or nil.
func (c *Config) Subject(name string) *SubjectConfig {
	for i := range c.Subjects {
		if c.Subjects[i].Name == name {
			return &c.Subjects[i]
		}
	}
	return nil
}

// SubjectNames returns subject names in config order.
func (c *Config) SubjectNames() []string {
	names := make([]string, 0, len(c.Subjects))
	for i := range c.Subjects {
		names = append(names, c.Subjects[i].Name)
	}
	return names
}
