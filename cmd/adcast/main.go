package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"adcast/internal/broadcast"
	"adcast/internal/clock"
	"adcast/internal/config"
	"adcast/internal/maintenance"
	"adcast/internal/platform"
	"adcast/internal/platform/telegram"
	"adcast/internal/publisher"
	"adcast/internal/storage"
	logx "adcast/pkg/logx"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config file (yaml or json)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfgPath); err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string) error {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Parse()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	mgr.Commit(cfg)

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	defer logSvc.Close()
	mgr.SetLogger(log.With(logx.String("comp", "config")))

	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return err
	}
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	dialer := telegram.NewDialer(telegram.Config{ChatIDs: cfg.Platform.Chats},
		log.With(logx.String("comp", "telegram")))
	registry := platform.NewRegistry(dialer,
		platform.RegistryConfig{Retries: cfg.Platform.ConnectionRetries},
		log.With(logx.String("comp", "registry")))
	defer registry.Close()

	opts, err := engineOptions(cfg.Engine)
	if err != nil {
		return err
	}
	clk := clock.System{}
	engine := broadcast.New(store, registry, clk, opts, log.With(logx.String("comp", "engine")))
	engine.Start(ctx)
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer stopCancel()
		engine.Stop(stopCtx)
	}()

	cr := clock.NewCron(log.With(logx.String("comp", "cron")))
	pub := publisher.New(store, engine, clk, log.With(logx.String("comp", "publisher")))
	if err := pub.Register(cr); err != nil {
		return err
	}
	maint := maintenance.New(store, clk, maintenance.Config{PriorityTopN: cfg.Engine.PriorityTopN},
		log.With(logx.String("comp", "maintenance")))
	if err := maint.Register(cr); err != nil {
		return err
	}
	cr.Start(ctx)
	defer cr.Stop()

	// Hot reload: logging and engine options follow the file.
	go func() {
		if err := mgr.Watch(ctx); err != nil && ctx.Err() == nil {
			log.Warn("config watch exited", logx.Err(err))
		}
	}()
	go func() {
		sub := mgr.Subscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case next := <-sub:
				if next == nil {
					continue
				}
				logSvc.Apply(logx.Config{
					Level:   next.Logging.Level,
					Console: next.Logging.Console,
					File:    logx.FileConfig{Enabled: next.Logging.File.Enabled, Path: next.Logging.File.Path},
				})
				if o, err := engineOptions(next.Engine); err != nil {
					log.Warn("engine options rejected", logx.Err(err))
				} else {
					engine.Apply(o)
				}
			}
		}
	}()

	// systemd integration: readiness plus watchdog heartbeats when enabled.
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	if interval, err := daemon.SdWatchdogEnabled(false); err == nil && interval > 0 {
		go func() {
			t := time.NewTicker(interval / 2)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
				}
			}
		}()
	}

	log.Info("adcast running", logx.String("config", cfgPath), logx.String("storage", cfg.Storage.Driver))
	<-ctx.Done()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	log.Info("shutting down")
	return nil
}

func engineOptions(ec config.EngineConfig) (broadcast.Options, error) {
	var o broadcast.Options
	var err error
	fields := []struct {
		dst  *time.Duration
		path string
		raw  string
	}{
		{&o.MinGroupDelay, "engine.min_group_delay", ec.MinGroupDelay},
		{&o.MaxGroupDelay, "engine.max_group_delay", ec.MaxGroupDelay},
		{&o.RoundPause, "engine.round_pause", ec.RoundPause},
		{&o.RoundPauseJitter, "engine.round_pause_jitter", ec.RoundPauseJitter},
		{&o.SessionCooldown, "engine.session_cooldown", ec.SessionCooldown},
		{&o.FloodFreeze, "engine.flood_freeze", ec.FloodFreeze},
		{&o.ErrorCooldown, "engine.error_cooldown", ec.ErrorCooldown},
		{&o.GroupCooldown, "engine.group_cooldown", ec.GroupCooldown},
		{&o.LongPauseMin, "engine.long_pause_min", ec.LongPauseMin},
		{&o.LongPauseMax, "engine.long_pause_max", ec.LongPauseMax},
	}
	for _, f := range fields {
		if *f.dst, err = config.ParseDurationField(f.path, f.raw); err != nil {
			return o, err
		}
	}
	o.SessionMessageLimit = ec.SessionMessageLimit
	o.MaxFloodPerSession = ec.MaxFloodPerSession
	o.MaxConsecutiveErrors = ec.MaxConsecutiveErrors
	o.LongPauseInterval = ec.LongPauseInterval
	o.MaxLogEntries = ec.MaxJobLogEntries
	o.PriorityTopN = ec.PriorityTopN
	return o, nil
}
