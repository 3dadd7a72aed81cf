package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/waveworm/pfsense-toggle/cmd"
	"github.com/waveworm/pfsense-toggle/internal/buildinfo"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		serveFlags := flag.NewFlagSet("serve", flag.ExitOnError)
		configFile := serveFlags.String("config", buildinfo.ConfigPath(), "Configuration file")
		serveFlags.StringVar(configFile, "c", buildinfo.ConfigPath(), "Configuration file (short)")
		serveFlags.Parse(os.Args[2:])

		if err := cmd.RunServe(*configFile); err != nil {
			fmt.Fprintf(os.Stderr, "Serve failed: %v\n", err)
			os.Exit(1)
		}

	case "check":
		checkFlags := flag.NewFlagSet("check", flag.ExitOnError)
		verbose := checkFlags.Bool("verbose", false, "Verbose output")
		checkFlags.BoolVar(verbose, "v", false, "Verbose output (short)")
		checkFlags.Parse(os.Args[2:])

		configFile := buildinfo.ConfigPath()
		if len(checkFlags.Args()) > 0 {
			configFile = checkFlags.Arg(0)
		}

		if err := cmd.RunCheck(configFile, *verbose); err != nil {
			fmt.Fprintf(os.Stderr, "Check failed: %v\n", err)
			os.Exit(1)
		}

	case "init":
		initFlags := flag.NewFlagSet("init", flag.ExitOnError)
		configFile := initFlags.String("config", buildinfo.ConfigPath(), "Where to write the starter config")
		initFlags.StringVar(configFile, "c", buildinfo.ConfigPath(), "Where to write the starter config (short)")
		initFlags.Parse(os.Args[2:])

		if err := cmd.RunInit(*configFile); err != nil {
			fmt.Fprintf(os.Stderr, "Init failed: %v\n", err)
			os.Exit(1)
		}

	case "status":
		statusFlags := flag.NewFlagSet("status", flag.ExitOnError)
		remote, apiKey := cmd.ClientFlags(statusFlags)
		asYAML := statusFlags.Bool("yaml", false, "Output as YAML")
		statusFlags.BoolVar(asYAML, "y", false, "Output as YAML (short)")
		statusFlags.Parse(os.Args[2:])

		if err := cmd.RunStatus(*remote, *apiKey, *asYAML); err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}

	case "toggle":
		toggleFlags := flag.NewFlagSet("toggle", flag.ExitOnError)
		remote, apiKey := cmd.ClientFlags(toggleFlags)
		toggleFlags.Parse(os.Args[2:])

		if toggleFlags.NArg() != 1 {
			fmt.Fprintln(os.Stderr, "Usage: "+buildinfo.Name+" toggle <subject>")
			os.Exit(1)
		}
		if err := cmd.RunToggle(*remote, *apiKey, toggleFlags.Arg(0)); err != nil {
			fmt.Fprintf(os.Stderr, "Toggle failed: %v\n", err)
			os.Exit(1)
		}

	case "timer":
		timerFlags := flag.NewFlagSet("timer", flag.ExitOnError)
		remote, apiKey := cmd.ClientFlags(timerFlags)
		cancel := timerFlags.Bool("cancel", false, "Cancel the subject's running timer")
		timerFlags.Parse(os.Args[2:])

		args := timerFlags.Args()
		switch {
		case *cancel && len(args) == 1:
			if err := cmd.RunCancelTimer(*remote, *apiKey, args[0]); err != nil {
				fmt.Fprintf(os.Stderr, "Timer cancel failed: %v\n", err)
				os.Exit(1)
			}
		case !*cancel && len(args) == 2:
			if err := cmd.RunTimer(*remote, *apiKey, args[0], args[1]); err != nil {
				fmt.Fprintf(os.Stderr, "Timer failed: %v\n", err)
				os.Exit(1)
			}
		default:
			fmt.Fprintln(os.Stderr, "Usage: "+buildinfo.Name+" timer <subject> <minutes>")
			fmt.Fprintln(os.Stderr, "       "+buildinfo.Name+" timer --cancel <subject>")
			os.Exit(1)
		}

	case "skip":
		skipFlags := flag.NewFlagSet("skip", flag.ExitOnError)
		remote, apiKey := cmd.ClientFlags(skipFlags)
		cancel := skipFlags.Bool("cancel", false, "Cancel the subject's active skip")
		skipFlags.Parse(os.Args[2:])

		if skipFlags.NArg() != 1 {
			fmt.Fprintln(os.Stderr, "Usage: "+buildinfo.Name+" skip [--cancel] <subject>")
			os.Exit(1)
		}
		if err := cmd.RunSkip(*remote, *apiKey, skipFlags.Arg(0), *cancel); err != nil {
			fmt.Fprintf(os.Stderr, "Skip failed: %v\n", err)
			os.Exit(1)
		}

	case "schedule":
		if err := cmd.RunSchedule(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Schedule failed: %v\n", err)
			os.Exit(1)
		}

	case "reconcile":
		recFlags := flag.NewFlagSet("reconcile", flag.ExitOnError)
		remote, apiKey := cmd.ClientFlags(recFlags)
		recFlags.Parse(os.Args[2:])

		if err := cmd.RunReconcile(*remote, *apiKey); err != nil {
			fmt.Fprintf(os.Stderr, "Reconcile failed: %v\n", err)
			os.Exit(1)
		}

	case "allow-all", "block-all":
		allFlags := flag.NewFlagSet(os.Args[1], flag.ExitOnError)
		remote, apiKey := cmd.ClientFlags(allFlags)
		allFlags.Parse(os.Args[2:])

		if err := cmd.RunAll(*remote, *apiKey, os.Args[1] == "allow-all"); err != nil {
			fmt.Fprintf(os.Stderr, "%s failed: %v\n", os.Args[1], err)
			os.Exit(1)
		}

	case "audit":
		auditFlags := flag.NewFlagSet("audit", flag.ExitOnError)
		remote, apiKey := cmd.ClientFlags(auditFlags)
		subject := auditFlags.String("subject", "", "Filter by subject")
		action := auditFlags.String("action", "", "Filter by action")
		limit := auditFlags.Int("limit", 25, "Maximum entries to show")
		auditFlags.IntVar(limit, "n", 25, "Maximum entries to show (short)")
		asYAML := auditFlags.Bool("yaml", false, "Output as YAML")
		auditFlags.Parse(os.Args[2:])

		if err := cmd.RunAudit(*remote, *apiKey, *subject, *action, *limit, *asYAML); err != nil {
			fmt.Fprintf(os.Stderr, "Audit failed: %v\n", err)
			os.Exit(1)
		}

	case "watch":
		watchFlags := flag.NewFlagSet("watch", flag.ExitOnError)
		remote, apiKey := cmd.ClientFlags(watchFlags)
		types := watchFlags.String("types", "", "Comma-separated event types to watch (default: all)")
		watchFlags.Parse(os.Args[2:])

		var typeList []string
		if *types != "" {
			typeList = strings.Split(*types, ",")
		}
		if err := cmd.RunWatch(*remote, *apiKey, typeList); err != nil {
			fmt.Fprintf(os.Stderr, "Watch failed: %v\n", err)
			os.Exit(1)
		}

	case "apikey":
		if err := cmd.RunAPIKey(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}

	case "version":
		fmt.Printf("%s version %s\n", buildinfo.Name, buildinfo.Version)
		fmt.Printf("Commit: %s\n", buildinfo.GitCommit)
		fmt.Printf("Build:  %s\n", buildinfo.BuildTime)

	case "help", "-h", "--help":
		printUsage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`%s - schedule-driven network access control for pfSense + UniFi

Usage:
  %s <command> [options]

Daemon:
  serve       Run the reconciliation daemon in the foreground
              Options: --config (-c) <file>
  check       Validate a configuration file
              Options: --verbose (-v); config path as argument
  init        Write a starter configuration file
              Options: --config (-c) <file>

Control (talk to a running daemon):
  status      Show daemon and subject states
  toggle      Flip a subject's access            toggle <subject>
  timer       Timed allow                        timer <subject> <minutes>
              Cancel with: timer --cancel <subject>
  skip        Skip the current/next window       skip [--cancel] <subject>
  schedule    Manage weekly schedules
              Subcommands: show, enable, disable, import, export
  reconcile   Trigger an immediate reconcile pass
  allow-all   Force-allow every subject
  block-all   Force-block every subject
  audit       Show the audit trail
              Options: --subject, --action, --limit (-n), --yaml
  watch       Stream live daemon events
              Options: --types <t1,t2,...>

Control commands accept --remote (-r) <url> and --api-key (-k) <key>;
defaults come from %s_REMOTE and %s_API_KEY.

Other:
  apikey      Generate an API key and its config hash
  version     Print version information

Examples:
  %s init -c /etc/pfsense-toggle/config.hcl
  %s serve -c /etc/pfsense-toggle/config.hcl
  %s status --yaml
  %s timer kid1 30
  %s schedule show
  %s audit -n 50 --subject kid1
`,
		buildinfo.Name,
		buildinfo.Name,
		buildinfo.EnvPrefix, buildinfo.EnvPrefix,
		buildinfo.Name, buildinfo.Name, buildinfo.Name,
		buildinfo.Name, buildinfo.Name, buildinfo.Name)
}
