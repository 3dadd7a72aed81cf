package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/waveworm/pfsense-toggle/internal/buildinfo"
	"github.com/waveworm/pfsense-toggle/internal/config"
	"github.com/waveworm/pfsense-toggle/internal/pfsense"
	"github.com/waveworm/pfsense-toggle/internal/unifi"
)

// RunCheck validates the configuration file syntax and semantics.
func RunCheck(configFile string, verbose bool) error {
	if len(configFile) == 0 {
		return fmt.Errorf("usage: %s check [-v] <config-file>\nExample: %s check -v %s",
			buildinfo.Name, buildinfo.Name, buildinfo.DefaultConfigPath)
	}

	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	if errs := cfg.Validate(); errs.HasErrors() {
		fmt.Printf("Configuration has %d problem(s):\n", len(errs))
		for _, e := range errs {
			fmt.Printf("  - %s\n", e)
		}
		return fmt.Errorf("validation failed")
	}

	fmt.Printf("Configuration valid!\n")
	fmt.Printf("Schema Version: %s\n", cfg.SchemaVersion)
	fmt.Printf("Subjects: %d\n", len(cfg.Subjects))
	fmt.Printf("Reconcile Interval: %s\n", cfg.ReconcileInterval())
	fmt.Printf("Listen Address: %s\n", cfg.ListenAddr)

	if verbose {
		fmt.Println()
		printConfigSummary(cfg)
		fmt.Println()
		if err := probeCollaborators(cfg); err != nil {
			return err
		}
	}

	return nil
}

// probeCollaborators reaches out to both endpoints and verifies that every
// configured rule tracker exists on the firewall.
func probeCollaborators(cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	failed := false
	fmt.Println("Probing collaborators...")

	fw := pfsense.New(cfg.PfSense, nil)
	if err := fw.Ping(ctx); err != nil {
		fmt.Printf("  pfsense: UNREACHABLE (%v)\n", err)
		failed = true
	} else {
		fmt.Println("  pfsense: ok")
		rules, err := fw.ListRules(ctx)
		if err != nil {
			fmt.Printf("  pfsense: rule fetch failed (%v)\n", err)
			failed = true
		} else {
			byTracker := make(map[int]pfsense.Rule, len(rules))
			for _, r := range rules {
				byTracker[r.Tracker] = r
			}
			for i := range cfg.Subjects {
				s := &cfg.Subjects[i]
				if !reportTracker(byTracker, s.Name, s.RuleTracker) {
					failed = true
				}
				if s.ScheduleRuleTracker != 0 {
					if !reportTracker(byTracker, s.Name+" schedule rule", s.ScheduleRuleTracker) {
						failed = true
					}
				}
			}
		}
	}

	if cfg.UniFi != nil {
		controller := unifi.New(cfg.UniFi, nil)
		if err := controller.Ping(ctx); err != nil {
			fmt.Printf("  unifi: UNREACHABLE (%v)\n", err)
			failed = true
		} else {
			fmt.Println("  unifi: ok")
		}
	}

	if failed {
		return fmt.Errorf("collaborator probe failed")
	}
	return nil
}

func reportTracker(rules map[int]pfsense.Rule, label string, tracker int) bool {
	r, ok := rules[tracker]
	if !ok {
		fmt.Printf("  rule %d (%s): NOT FOUND on the firewall\n", tracker, label)
		return false
	}
	state := "blocking"
	if pfsense.RuleAllows(r) {
		state = "allowing"
	}
	fmt.Printf("  rule %d (%s): found, currently %s\n", tracker, label, state)
	return true
}

func printConfigSummary(cfg *config.Config) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)

	fmt.Fprintln(w, "SUBJECT\tDISPLAY\tRULE\tSCHEDULE RULE")
	for i := range cfg.Subjects {
		s := &cfg.Subjects[i]
		schedRule := "-"
		if s.ScheduleRuleTracker != 0 {
			schedRule = fmt.Sprintf("%d", s.ScheduleRuleTracker)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", s.Name, s.Label(), s.RuleTracker, schedRule)
	}
	fmt.Fprintln(w)
	w.Flush()

	fmt.Fprintln(w, "COLLABORATOR\tENDPOINT")
	if cfg.PfSense != nil {
		fmt.Fprintf(w, "pfsense\t%s\n", cfg.PfSense.BaseURL)
	}
	if cfg.UniFi != nil {
		site := cfg.UniFi.Site
		if site == "" {
			site = config.DefaultUniFiSite
		}
		fmt.Fprintf(w, "unifi\t%s (site %s)\n", cfg.UniFi.BaseURL, site)
	} else {
		fmt.Fprintf(w, "unifi\t- (wireless enforcement disabled)\n")
	}
	w.Flush()

	fmt.Println()
	auth := "off"
	if cfg.API != nil && cfg.API.RequireAuth {
		auth = "on"
	}
	fmt.Printf("API auth: %s\n", auth)

	if len(cfg.ExcludeMACs) > 0 {
		fmt.Printf("Excluded MACs: %d\n", len(cfg.ExcludeMACs))
	}
	if cfg.Notifications != nil && cfg.Notifications.Enabled {
		fmt.Printf("Notification channels: %d\n", len(cfg.Notifications.Channels))
	}
	if cfg.Monitor != nil && cfg.Monitor.Enabled {
		fmt.Printf("Collaborator monitor: every %s\n", cfg.Monitor.Interval())
	}
}
