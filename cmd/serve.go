package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/waveworm/pfsense-toggle/internal/api"
	"github.com/waveworm/pfsense-toggle/internal/audit"
	"github.com/waveworm/pfsense-toggle/internal/buildinfo"
	"github.com/waveworm/pfsense-toggle/internal/config"
	"github.com/waveworm/pfsense-toggle/internal/engine"
	"github.com/waveworm/pfsense-toggle/internal/events"
	"github.com/waveworm/pfsense-toggle/internal/logging"
	"github.com/waveworm/pfsense-toggle/internal/metrics"
	"github.com/waveworm/pfsense-toggle/internal/monitor"
	"github.com/waveworm/pfsense-toggle/internal/notification"
	"github.com/waveworm/pfsense-toggle/internal/pfsense"
	"github.com/waveworm/pfsense-toggle/internal/scheduler"
	"github.com/waveworm/pfsense-toggle/internal/state"
	"github.com/waveworm/pfsense-toggle/internal/unifi"
)

// RunServe runs the reconciliation daemon in the foreground until it
// receives SIGINT or SIGTERM.
func RunServe(configFile string) error {
	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if errs := cfg.Validate(); errs.HasErrors() {
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "  - %s\n", e)
		}
		return fmt.Errorf("configuration invalid (%d errors)", len(errs))
	}

	logger := logging.New(logging.Config{
		Level: logging.ParseLevel(cfg.LogLevel),
		JSON:  cfg.LogJSON,
	})
	logging.SetDefault(logger)

	logger.Info("starting daemon",
		"version", buildinfo.Version,
		"config", configFile,
		"subjects", len(cfg.Subjects),
		"interval", cfg.ReconcileInterval())

	stateDir := cfg.StateDir
	if stateDir == "" {
		stateDir = buildinfo.StateDir()
	}
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	store, err := state.NewSQLiteStore(state.DefaultOptions(filepath.Join(stateDir, "state.db")))
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer store.Close()

	auditPath := filepath.Join(stateDir, "audit.db")
	auditMax := config.DefaultAuditMaxEntries
	if cfg.Audit != nil {
		if cfg.Audit.DatabasePath != "" {
			auditPath = cfg.Audit.DatabasePath
		}
		if cfg.Audit.MaxEntries > 0 {
			auditMax = cfg.Audit.MaxEntries
		}
	}
	auditor, err := audit.NewStore(auditPath, auditMax, nil)
	if err != nil {
		return fmt.Errorf("open audit store: %w", err)
	}
	defer auditor.Close()

	hub := events.NewHub()
	notifier := notification.NewDispatcher(cfg.Notifications, logger)

	fw := pfsense.New(cfg.PfSense, logger.WithComponent("pfsense"))

	var controller *unifi.Controller
	if cfg.UniFi != nil {
		controller = unifi.New(cfg.UniFi, logger.WithComponent("unifi"))
	} else {
		logger.Warn("no unifi block configured, wireless enforcement disabled")
	}

	engOpts := engine.Options{
		Config:   cfg,
		Firewall: fw,
		Store:    store,
		Audit:    auditor,
		Hub:      hub,
		Notifier: notifier,
		Logger:   logger.WithComponent("engine"),
	}
	if controller != nil {
		engOpts.Wireless = controller
	}
	eng, err := engine.New(engOpts)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	defer eng.Close()

	sched := scheduler.New(logger)
	if err := sched.AddTask(scheduler.NewReconcileTask(eng.Reconcile, cfg.ReconcileInterval())); err != nil {
		return fmt.Errorf("register reconcile task: %w", err)
	}
	if err := sched.AddTask(scheduler.NewAuditPruneTask(auditor.Prune)); err != nil {
		return fmt.Errorf("register audit prune task: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var mon *monitor.Service
	if cfg.Monitor != nil && cfg.Monitor.Enabled {
		targets := []monitor.Target{{
			Name:  "pfsense",
			Host:  monitor.HostFromURL(cfg.PfSense.BaseURL),
			Check: fw.Ping,
		}}
		if controller != nil {
			targets = append(targets, monitor.Target{
				Name:  "unifi",
				Host:  monitor.HostFromURL(cfg.UniFi.BaseURL),
				Check: controller.Ping,
			})
		}
		mon = monitor.New(targets, cfg.Monitor.Interval(), store, hub, notifier, logger, nil)
		mon.Start(ctx)
	}

	sched.Start()
	defer sched.Stop()

	go trackUptime(ctx)

	srv, err := api.NewServer(api.ServerOptions{
		Config:    cfg,
		Engine:    eng,
		Audit:     auditor,
		Monitor:   mon,
		Scheduler: sched,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("create api server: %w", err)
	}

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- srv.Start(cfg.ListenAddr)
	}()

	select {
	case err := <-srvErr:
		if err != nil {
			return fmt.Errorf("api server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("api server shutdown", "error", err)
		}
	}

	logger.Info("daemon stopped")
	return nil
}

// trackUptime keeps the uptime gauge current for scrapes.
func trackUptime(ctx context.Context) {
	start := time.Now()
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.Get().Uptime.Set(time.Since(start).Seconds())
		}
	}
}
