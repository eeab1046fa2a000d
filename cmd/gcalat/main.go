// Command gcalat keeps one-shot at(1) jobs synchronized with the timed
// commands embedded in a calendar's event descriptions.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"gcalat/internal/atq"
	"gcalat/internal/calendar"
	"gcalat/internal/command"
	"gcalat/internal/config"
	appLog "gcalat/internal/log"
	"gcalat/internal/reconcile"
	"gcalat/internal/state"
	appSync "gcalat/internal/sync"
)

type flagConfig struct {
	configPath string
	once       bool
	reset      bool
	logLevel   string
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	level := conf.LogLevel
	if flags.logLevel != "" {
		level = flags.logLevel
	}
	appLog.SetLevel(appLog.ParseLevel(level))
	if conf.LogFile != "" {
		if err := appLog.TeeToFile(conf.LogFile); err != nil {
			appLog.Error("failed to open log file", err, "path", conf.LogFile)
		}
	}

	appLog.Info("gcalat starting", "source", conf.Source, "horizon_days", conf.HorizonDays)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	orch, err := buildOrchestrator(ctx, conf, flags.configPath)
	if err != nil {
		appLog.Error("setup failed", err)
		os.Exit(1)
	}

	switch {
	case flags.reset:
		if err := orch.Reset(ctx); err != nil {
			appLog.Error("reset failed", err)
			os.Exit(1)
		}
		appLog.Info("reset complete")
	case flags.once:
		if err := runCycle(ctx, orch); err != nil {
			os.Exit(1)
		}
	default:
		runDaemon(ctx, orch, conf.SyncCron)
	}
}

func parseFlags() flagConfig {
	var cfg flagConfig
	flag.StringVar(&cfg.configPath, "config", "/etc/gcalat/config.yaml", "Path to config file")
	flag.BoolVar(&cfg.once, "once", false, "Run a single sync cycle and exit")
	flag.BoolVar(&cfg.reset, "reset", false, "Cancel all synchronized jobs and clear state")
	flag.StringVar(&cfg.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	flag.Parse()
	return cfg
}

func buildOrchestrator(ctx context.Context, conf *config.Config, configPath string) (*appSync.Orchestrator, error) {
	store, err := state.Load(conf.StatePath)
	if err != nil {
		return nil, fmt.Errorf("load state %s: %w", conf.StatePath, err)
	}

	var source calendar.Source
	switch conf.Source {
	case config.SourceICS:
		if conf.ICSURL == "" {
			return nil, fmt.Errorf("source is %q but ics_url is empty", conf.Source)
		}
		source = calendar.NewICSSource(conf.ICSURL, conf.CacheDir)
	default:
		if conf.CalendarID == "" {
			id, err := promptCalendarID()
			if err != nil {
				return nil, err
			}
			conf.CalendarID = id
			if err := conf.Save(configPath); err != nil {
				appLog.Warn("could not persist calendar id", "detail", err)
			}
		}
		ts, err := calendar.TokenSource(ctx, conf.CredentialsFile, conf.TokenFile)
		if err != nil {
			return nil, fmt.Errorf("obtain credentials: %w", err)
		}
		source = calendar.NewGoogleSource(ctx, conf.CalendarID, ts)
	}
	store.CalendarID = conf.CalendarID

	return &appSync.Orchestrator{
		Source: source,
		Scheduler: &atq.Runner{
			Command: conf.AtCommand,
			Timeout: time.Duration(conf.SchedulerTimeoutSec) * time.Second,
		},
		Store:       store,
		HorizonDays: conf.HorizonDays,
		Planner: &reconcile.Planner{
			Parser: &command.Parser{Runner: conf.RunnerScript},
		},
	}, nil
}

// runCycle runs one cycle, converting panics and errors into log
// output so a periodic trigger is never aborted by one bad cycle.
func runCycle(ctx context.Context, orch *appSync.Orchestrator) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			appLog.Error("sync failed", err)
		}
	}()
	if err = orch.Run(ctx); err != nil {
		appLog.Error("sync failed", err)
		return err
	}
	appLog.Info("sync succeeded")
	return nil
}

func runDaemon(ctx context.Context, orch *appSync.Orchestrator, schedule string) {
	// One immediate cycle, then the cron schedule.
	_ = runCycle(ctx, orch)

	// Ticks that fire while a cycle is still running are dropped; the
	// orchestrator additionally refuses to run cycles concurrently.
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(schedule, func() { _ = runCycle(ctx, orch) }); err != nil {
		appLog.Error("invalid sync_cron schedule", err, "schedule", schedule)
		os.Exit(1)
	}
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	appLog.Info("gcalat exiting")
}

func promptCalendarID() (string, error) {
	fmt.Fprint(os.Stderr, "Calendar id (XXXX@group.calendar.google.com, or your Google email for the main calendar): ")
	id, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read calendar id: %w", err)
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("calendar id is empty")
	}
	return id, nil
}
