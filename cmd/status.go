package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	yaml "gopkg.in/yaml.v2"

	"github.com/waveworm/pfsense-toggle/internal/client"
)

// statusReport is the combined view printed by the status command.
type statusReport struct {
	Daemon   *client.StatusInfo    `yaml:"daemon"`
	Subjects []client.SubjectState `yaml:"subjects"`
}

// RunStatus shows the daemon summary and the resolved state of every
// subject.
func RunStatus(remote, apiKey string, asYAML bool) error {
	c := newClient(remote, apiKey)

	info, err := c.Status()
	if err != nil {
		return fmt.Errorf("daemon unreachable at %s: %w", remote, err)
	}
	subjects, err := c.Subjects()
	if err != nil {
		return fmt.Errorf("fetch subjects: %w", err)
	}

	if asYAML {
		out, err := yaml.Marshal(statusReport{Daemon: info, Subjects: subjects})
		if err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		os.Stdout.Write(out)
		return nil
	}

	fmt.Printf("Daemon:   %s (version %s, up %s)\n", info.Status, info.Version, info.Uptime)
	fmt.Printf("Events:   %d published, %d dropped\n", info.Events.Published, info.Events.Dropped)
	if info.AuditEntries > 0 {
		fmt.Printf("Audit:    %d entries\n", info.AuditEntries)
	}

	for _, col := range info.Collaborators {
		state := "unreachable"
		if col.Reachable {
			state = fmt.Sprintf("reachable (%dms)", col.LatencyMS)
		}
		fmt.Printf("%-9s %s\n", col.Name+":", state)
	}

	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "SUBJECT\tACCESS\tSCHEDULE\tTIMER\tSKIP\tWINDOW")
	for _, s := range subjects {
		access := "blocked"
		if s.Allowed {
			access = "allowed"
		}
		if !s.RuleFound {
			access = "rule missing"
		}

		sched := "off"
		if s.ScheduleEnabled {
			if s.ScheduleActive {
				sched = "active"
			} else {
				sched = "idle"
			}
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			s.Name, access, sched,
			formatUntil(s.TimerUntil),
			formatUntil(s.SkipUntil),
			formatWindow(s))
	}
	w.Flush()

	return nil
}

func formatUntil(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return "until " + t.Local().Format("15:04")
}

func formatWindow(s client.SubjectState) string {
	if s.ScheduleActive && s.WindowEndsAt != nil {
		return "ends " + s.WindowEndsAt.Local().Format("Mon 15:04")
	}
	if s.NextWindowStart != nil {
		return "next " + s.NextWindowStart.Local().Format("Mon 15:04")
	}
	return "-"
}
