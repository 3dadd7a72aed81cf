package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"
)

// GenerateStarter produces a commented-out-of-the-box HCL config to edit by
// hand. It is what the init subcommand writes.
func GenerateStarter() []byte {
	f := hclwrite.NewEmptyFile()
	body := f.Body()

	body.SetAttributeValue("schema_version", cty.StringVal(CurrentSchemaVersion))
	body.SetAttributeValue("listen_addr", cty.StringVal(DefaultListenAddr))
	body.SetAttributeValue("reconcile_interval_seconds", cty.NumberIntVal(DefaultReconcileIntervalSeconds))
	body.SetAttributeValue("log_level", cty.StringVal("info"))
	body.AppendNewline()

	pf := body.AppendNewBlock("pfsense", nil).Body()
	pf.SetAttributeValue("base_url", cty.StringVal("https://192.168.1.1"))
	pf.SetAttributeValue("client_id", cty.StringVal("CHANGE_ME"))
	pf.SetAttributeValue("token", cty.StringVal("CHANGE_ME"))
	pf.SetAttributeValue("insecure_skip_verify", cty.BoolVal(true))
	body.AppendNewline()

	un := body.AppendNewBlock("unifi", nil).Body()
	un.SetAttributeValue("base_url", cty.StringVal("https://192.168.1.2:8443"))
	un.SetAttributeValue("username", cty.StringVal("CHANGE_ME"))
	un.SetAttributeValue("password", cty.StringVal("CHANGE_ME"))
	un.SetAttributeValue("site", cty.StringVal(DefaultUniFiSite))
	un.SetAttributeValue("insecure_skip_verify", cty.BoolVal(true))
	body.AppendNewline()

	subj := body.AppendNewBlock("subject", []string{"kid1"}).Body()
	subj.SetAttributeValue("display_name", cty.StringVal("First Kid"))
	subj.SetAttributeValue("rule_tracker", cty.NumberIntVal(1700000001))
	body.AppendNewline()

	body.SetAttributeValue("exclude_macs", cty.ListVal([]cty.Value{
		cty.StringVal("aa:bb:cc:dd:ee:ff"),
	}))
	body.AppendNewline()

	api := body.AppendNewBlock("api", nil).Body()
	api.SetAttributeValue("require_auth", cty.BoolVal(false))
	body.AppendNewline()

	mon := body.AppendNewBlock("monitor", nil).Body()
	mon.SetAttributeValue("enabled", cty.BoolVal(true))
	mon.SetAttributeValue("interval_seconds", cty.NumberIntVal(DefaultMonitorIntervalSeconds))

	return f.Bytes()
}

// WriteStarter writes the starter config to path, refusing to overwrite an
// existing file.
func WriteStarter(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, GenerateStarter(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
