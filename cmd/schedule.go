package cmd

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/waveworm/pfsense-toggle/internal/buildinfo"
	"github.com/waveworm/pfsense-toggle/internal/schedule"
)

// RunSchedule dispatches the schedule subcommands.
func RunSchedule(args []string) error {
	if len(args) == 0 {
		return scheduleUsage()
	}

	switch args[0] {
	case "show", "list", "ls":
		return scheduleShow(args[1:])
	case "enable":
		return scheduleSetEnabled(args[1:], true)
	case "disable":
		return scheduleSetEnabled(args[1:], false)
	case "import":
		return scheduleImport(args[1:])
	case "export":
		return scheduleExport(args[1:])
	case "help":
		return scheduleUsage()
	default:
		return fmt.Errorf("unknown subcommand: %s", args[0])
	}
}

func scheduleUsage() error {
	fmt.Printf(`%s Schedule Management

Usage:
  %s schedule <command> [options]

Commands:
  show        Show every subject's weekly schedule
  enable      Turn a subject's schedule on       enable <subject>
  disable     Turn a subject's schedule off      disable <subject>
  import      Replace schedules from a JSON file import <file>
  export      Dump schedules as JSON             export [file]
  help        Show this help

Import file format (days use 0=Sunday .. 6=Saturday):
  {
    "kid1": {
      "enabled": true,
      "windows": [
        {"days": [1,2,3,4,5], "start": "16:00", "end": "20:00"},
        {"days": [0,6], "start": "09:00", "end": "21:00"}
      ]
    }
  }

All commands accept --remote (-r) and --api-key (-k).
`, buildinfo.Name, buildinfo.Name)
	return nil
}

func scheduleShow(args []string) error {
	fs := flag.NewFlagSet("schedule show", flag.ExitOnError)
	remote, apiKey := ClientFlags(fs)
	fs.Parse(args)

	c := newClient(*remote, *apiKey)
	schedules, err := c.Schedules()
	if err != nil {
		return err
	}

	if len(schedules) == 0 {
		fmt.Println("No schedules stored.")
		return nil
	}

	names := make([]string, 0, len(schedules))
	for name := range schedules {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "SUBJECT\tENABLED\tWINDOWS")
	for _, name := range names {
		s := schedules[name]
		if s == nil {
			continue
		}
		enabled := "no"
		if s.Enabled {
			enabled = "yes"
		}
		if len(s.Windows) == 0 {
			fmt.Fprintf(w, "%s\t%s\t-\n", name, enabled)
			continue
		}
		for i, win := range s.Windows {
			label, en := name, enabled
			if i > 0 {
				label, en = "", ""
			}
			fmt.Fprintf(w, "%s\t%s\t%s %s-%s\n", label, en, formatDays(win.Days), win.Start, win.End)
		}
	}
	w.Flush()
	return nil
}

func scheduleSetEnabled(args []string, enabled bool) error {
	verb := "disable"
	if enabled {
		verb = "enable"
	}

	fs := flag.NewFlagSet("schedule "+verb, flag.ExitOnError)
	remote, apiKey := ClientFlags(fs)
	fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("usage: %s schedule %s <subject>", buildinfo.Name, verb)
	}
	subject := fs.Arg(0)

	c := newClient(*remote, *apiKey)
	if err := c.SetScheduleEnabled(subject, enabled); err != nil {
		return err
	}
	fmt.Printf("Schedule for %s %sd\n", subject, verb)
	return nil
}

func scheduleImport(args []string) error {
	fs := flag.NewFlagSet("schedule import", flag.ExitOnError)
	remote, apiKey := ClientFlags(fs)
	fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("usage: %s schedule import <file>", buildinfo.Name)
	}

	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("read schedule file: %w", err)
	}

	var schedules map[string]*schedule.Weekly
	if err := json.Unmarshal(data, &schedules); err != nil {
		return fmt.Errorf("parse schedule file: %w", err)
	}
	if len(schedules) == 0 {
		return fmt.Errorf("schedule file is empty")
	}
	for name, s := range schedules {
		if s == nil {
			return fmt.Errorf("subject %s: schedule is null", name)
		}
		if err := s.Validate(); err != nil {
			return fmt.Errorf("subject %s: %w", name, err)
		}
	}

	c := newClient(*remote, *apiKey)
	if err := c.SaveSchedules(schedules); err != nil {
		return err
	}
	fmt.Printf("Imported schedules for %d subject(s)\n", len(schedules))
	return nil
}

func scheduleExport(args []string) error {
	fs := flag.NewFlagSet("schedule export", flag.ExitOnError)
	remote, apiKey := ClientFlags(fs)
	fs.Parse(args)

	c := newClient(*remote, *apiKey)
	schedules, err := c.Schedules()
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(schedules, "", "  ")
	if err != nil {
		return fmt.Errorf("encode schedules: %w", err)
	}
	data = append(data, '\n')

	if fs.NArg() == 1 {
		if err := os.WriteFile(fs.Arg(0), data, 0644); err != nil {
			return fmt.Errorf("write schedule file: %w", err)
		}
		fmt.Printf("Schedules written to %s\n", fs.Arg(0))
		return nil
	}

	os.Stdout.Write(data)
	return nil
}

// formatDays renders a weekday list compactly, collapsing the common
// cases.
func formatDays(days []int) string {
	if len(days) == 0 {
		return "-"
	}

	sorted := append([]int(nil), days...)
	sort.Ints(sorted)

	switch {
	case equalDays(sorted, []int{0, 1, 2, 3, 4, 5, 6}):
		return "daily"
	case equalDays(sorted, []int{1, 2, 3, 4, 5}):
		return "weekdays"
	case equalDays(sorted, []int{0, 6}):
		return "weekends"
	}

	names := make([]string, 0, len(sorted))
	for _, d := range sorted {
		if d >= 0 && d <= 6 {
			names = append(names, time.Weekday(d).String()[:3])
		}
	}
	return strings.Join(names, ",")
}

func equalDays(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
