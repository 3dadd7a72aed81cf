package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadHCL_FullConfig(t *testing.T) {
	hcl := `
schema_version = "1.0"
listen_addr = "0.0.0.0:9900"
reconcile_interval_seconds = 30
log_level = "debug"

pfsense {
  base_url  = "https://192.168.1.1"
  client_id = "api"
  token     = "secret"
  insecure_skip_verify = true
}

unifi {
  base_url = "https://192.168.1.2:8443"
  username = "api"
  password = "secret"
}

subject "kid1" {
  display_name = "First Kid"
  rule_tracker = 1700000001
  schedule_rule_tracker = 1700000002
}

subject "kid2" {
  rule_tracker = 1700000003
}

exclude_macs = ["aa:bb:cc:dd:ee:ff"]

notifications {
  enabled = true
  channel "phone" {
    type      = "pushover"
    enabled   = true
    api_token = "tok"
    user_key  = "usr"
    level     = "warning"
    rate_limit_per_minute = 6
  }
}

monitor {
  enabled = true
  interval_seconds = 15
}

audit {
  max_entries = 200
}
`
	cfg, err := LoadHCL([]byte(hcl), "test.hcl")
	if err != nil {
		t.Fatalf("LoadHCL() error = %v", err)
	}

	if cfg.ListenAddr != "0.0.0.0:9900" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, "0.0.0.0:9900")
	}
	if cfg.ReconcileInterval() != 30*time.Second {
		t.Errorf("ReconcileInterval() = %v, want 30s", cfg.ReconcileInterval())
	}
	if len(cfg.Subjects) != 2 {
		t.Fatalf("len(Subjects) = %d, want 2", len(cfg.Subjects))
	}
	if cfg.Subjects[0].Name != "kid1" || cfg.Subjects[0].RuleTracker != 1700000001 {
		t.Errorf("Subjects[0] = %+v", cfg.Subjects[0])
	}
	if cfg.Subjects[0].ScheduleRuleTracker != 1700000002 {
		t.Errorf("ScheduleRuleTracker = %d, want 1700000002", cfg.Subjects[0].ScheduleRuleTracker)
	}
	if cfg.Subjects[1].Label() != "kid2" {
		t.Errorf("Label() = %q, want fallback to name", cfg.Subjects[1].Label())
	}
	if cfg.PfSense == nil || cfg.PfSense.Token != "secret" {
		t.Errorf("PfSense = %+v", cfg.PfSense)
	}
	if cfg.UniFi.Site != DefaultUniFiSite {
		t.Errorf("UniFi.Site = %q, want default %q", cfg.UniFi.Site, DefaultUniFiSite)
	}
	if len(cfg.Notifications.Channels) != 1 {
		t.Fatalf("len(Channels) = %d, want 1", len(cfg.Notifications.Channels))
	}
	ch := cfg.Notifications.Channels[0]
	if ch.Name != "phone" || ch.Type != "pushover" || ch.RateLimitPerMinute != 6 {
		t.Errorf("Channel = %+v", ch)
	}
	if cfg.Monitor.Interval() != 15*time.Second {
		t.Errorf("Monitor.Interval() = %v, want 15s", cfg.Monitor.Interval())
	}
	if cfg.Audit.MaxEntries != 200 {
		t.Errorf("Audit.MaxEntries = %d, want 200", cfg.Audit.MaxEntries)
	}
}

func TestLoadHCL_Defaults(t *testing.T) {
	hcl := `
pfsense {
  base_url  = "https://fw.local"
  client_id = "api"
  token     = "secret"
}

subject "kid1" {
  rule_tracker = 1
}
`
	cfg, err := LoadHCL([]byte(hcl), "test.hcl")
	if err != nil {
		t.Fatalf("LoadHCL() error = %v", err)
	}

	if cfg.SchemaVersion != CurrentSchemaVersion {
		t.Errorf("SchemaVersion = %q, want %q (default)", cfg.SchemaVersion, CurrentSchemaVersion)
	}
	if cfg.ListenAddr != DefaultListenAddr {
		t.Errorf("ListenAddr = %q, want default %q", cfg.ListenAddr, DefaultListenAddr)
	}
	if cfg.ReconcileIntervalSeconds != DefaultReconcileIntervalSeconds {
		t.Errorf("ReconcileIntervalSeconds = %d, want %d", cfg.ReconcileIntervalSeconds, DefaultReconcileIntervalSeconds)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.Audit == nil || cfg.Audit.MaxEntries != DefaultAuditMaxEntries {
		t.Errorf("Audit = %+v, want default max entries %d", cfg.Audit, DefaultAuditMaxEntries)
	}
	if cfg.PfSense.Timeout() != DefaultTimeoutSeconds*time.Second {
		t.Errorf("PfSense.Timeout() = %v, want %ds", cfg.PfSense.Timeout(), DefaultTimeoutSeconds)
	}
}

func TestLoadHCL_ParseError(t *testing.T) {
	if _, err := LoadHCL([]byte(`subject "x" {`), "broken.hcl"); err == nil {
		t.Error("expected parse error for unterminated block")
	}
}

func TestLoadHCL_FutureSchemaVersion(t *testing.T) {
	hcl := `
schema_version = "2.0"
pfsense {
  base_url  = "https://fw.local"
  client_id = "api"
  token     = "secret"
}
`
	if _, err := LoadHCL([]byte(hcl), "future.hcl"); err == nil {
		t.Error("expected error for schema version 2.0")
	}
}

func TestLoadFile_JSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	data := `{
  "pfsense": {"base_url": "https://fw.local", "client_id": "api", "token": "secret"},
  "subjects": [{"name": "kid1", "rule_tracker": 42}]
}`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if got := cfg.Subject("kid1"); got == nil || got.RuleTracker != 42 {
		t.Errorf("Subject(kid1) = %+v", got)
	}
	if cfg.Subject("nobody") != nil {
		t.Error("Subject(nobody) should be nil")
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.hcl")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestGenerateStarter_RoundTrips(t *testing.T) {
	data := GenerateStarter()

	cfg, err := LoadHCL(data, "starter.hcl")
	if err != nil {
		t.Fatalf("starter config does not parse: %v", err)
	}
	if cfg.PfSense == nil {
		t.Fatal("starter config has no pfsense block")
	}
	if len(cfg.Subjects) != 1 {
		t.Errorf("len(Subjects) = %d, want 1", len(cfg.Subjects))
	}
}

func TestWriteStarter_RefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.hcl")
	if err := WriteStarter(path); err != nil {
		t.Fatalf("WriteStarter() error = %v", err)
	}
	if err := WriteStarter(path); err == nil {
		t.Error("expected error overwriting existing config")
	}
}
