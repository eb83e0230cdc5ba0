package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roelfdiedericks/wabridge/internal/activity"
	"github.com/roelfdiedericks/wabridge/internal/automation"
	"github.com/roelfdiedericks/wabridge/internal/browser"
	"github.com/roelfdiedericks/wabridge/internal/config"
	"github.com/roelfdiedericks/wabridge/internal/http"
	"github.com/roelfdiedericks/wabridge/internal/journal"
	. "github.com/roelfdiedericks/wabridge/internal/logging"
	"github.com/roelfdiedericks/wabridge/internal/sessions"
)

type ServeCmd struct {
	Listen   string `help:"Override server.listen." placeholder:"ADDR"`
	Recovery bool   `help:"Journal sessions and restore them at startup."`
}

type browserPaths struct {
	bin      string
	profiles string
}

func browserDirs(cfg *config.Config) (browserPaths, error) {
	root, err := cfg.ResolveBrowserDir()
	if err != nil {
		return browserPaths{}, err
	}
	return browserPaths{bin: filepath.Join(root, "bin"), profiles: filepath.Join(root, "profiles")}, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// engineTimeouts resolves automation.* durations. Settle accepts "0s" to skip
// the pause; the other values fall back to their defaults.
func engineTimeouts(c config.AutomationConfig) automation.Timeouts {
	def := automation.DefaultTimeouts()
	t := automation.Timeouts{
		Reload:                def.Reload,
		Settle:                def.Settle,
		ClickAttempt:          config.ResolveDuration(c.ClickAttempt, def.ClickAttempt),
		Poll:                  config.ResolveDuration(c.Poll, def.Poll),
		OpenCompose:           config.ResolveDuration(c.OpenCompose, def.OpenCompose),
		SelectNewConversation: config.ResolveDuration(c.SelectNewConversation, def.SelectNewConversation),
		ChooseCountryCode:     config.ResolveDuration(c.ChooseCountryCode, def.ChooseCountryCode),
		FillPhoneNumber:       config.ResolveDuration(c.FillPhoneNumber, def.FillPhoneNumber),
		FillMessage:           config.ResolveDuration(c.FillMessage, def.FillMessage),
		Submit:                config.ResolveDuration(c.Submit, def.Submit),
	}
	if d, err := time.ParseDuration(c.Settle); err == nil && d >= 0 {
		t.Settle = d
	}
	return t
}

func (c *ServeCmd) Run(g *Globals) error {
	cfg, cfgPath, err := g.load()
	if err != nil {
		return err
	}
	if c.Listen != "" {
		cfg.Server.Listen = c.Listen
	}
	if c.Recovery {
		cfg.Recovery = true
	}
	L_info("wabridge starting", "version", version, "config", cfgPath, "recovery", cfg.Recovery)
	L_object("config", cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dirs, err := browserDirs(cfg)
	if err != nil {
		return err
	}
	bins := browser.NewDownloader(dirs.bin, cfg.Browser.Bin, !cfg.Browser.NoDownload)
	factory := browser.NewFactory(browser.FactoryConfig{
		LandingURL:        cfg.Target.LandingURL,
		CookieDomains:     cfg.Target.CookieDomains,
		NavigationTimeout: config.ResolveDuration(cfg.Target.NavigationTimeout, 60*time.Second),
		IdleWait:          config.ResolveDuration(cfg.Target.IdleWait, 15*time.Second),
		Headed:            cfg.Browser.Headed,
		NoSandbox:         cfg.Browser.NoSandbox,
		DisableStealth:    cfg.Browser.DisableStealth,
		ExtraFlags:        cfg.Browser.ExtraFlags,
	}, bins, browser.NewProfileStore(dirs.profiles))

	scheduler := activity.NewScheduler(nil)
	scheduler.Start()

	var store journal.Store
	if cfg.Recovery {
		path, err := cfg.ResolveJournalPath()
		if err != nil {
			return err
		}
		store, err = journal.Open(journal.StoreConfig{Backend: cfg.Journal.Backend, Path: path})
		if err != nil {
			return err
		}
		defer store.Close()
		L_info("journal: opened", "backend", cfg.Journal.Backend, "path", path)
	}

	registry, err := sessions.New(sessions.Options{
		Factory:            factory,
		Engine:             automation.NewEngine(engineTimeouts(cfg.Automation)),
		Activity:           scheduler,
		Journal:            store,
		MaxSessions:        cfg.Sessions.Max,
		RemoveProfiles:     !cfg.Sessions.KeepProfiles,
		DestroyTimeout:     config.ResolveDuration(cfg.Sessions.DestroyTimeout, 15*time.Second),
		RestoreParallelism: cfg.Sessions.RestoreParallelism,
		Registerer:         prometheus.DefaultRegisterer,
	})
	if err != nil {
		return err
	}

	if registry.Recovery() {
		report := registry.RestoreAll(ctx)
		L_info("sessions: restore finished", "restored", len(report.Restored), "dropped", len(report.Dropped))
		for id, reason := range report.Dropped {
			L_warn("sessions: dropped journal entry", "session", id, "reason", reason)
		}
	}

	server, err := http.NewServer(&http.ServerConfig{
		Listen:       cfg.Server.Listen,
		ReadTimeout:  config.ResolveDuration(cfg.Server.ReadTimeout, 30*time.Second),
		WriteTimeout: config.ResolveDuration(cfg.Server.WriteTimeout, 180*time.Second),
		APIKeys:      cfg.Auth.APIKeys,
		AuthDisabled: cfg.Auth.Disabled,
		SendRate:     cfg.Server.SendRate,
		SendBurst:    cfg.Server.SendBurst,
	}, registry)
	if err != nil {
		return err
	}
	if err := server.Start(); err != nil {
		return err
	}

	go func() {
		err := config.Watch(ctx, cfgPath, func(next *config.Config) {
			if g.LogLevel != "" {
				return
			}
			SetLevel(next.LogLevel())
			L_info("config: log level applied", "level", next.Log.Level)
		})
		if err != nil {
			L_warn("config: watch failed", "error", err)
		}
	}()

	L_info("wabridge ready", "listen", cfg.Server.Listen)
	<-ctx.Done()
	stop()
	SetShuttingDown()
	L_info("wabridge shutting down")

	grace := config.ResolveDuration(cfg.Sessions.ShutdownGrace, 30*time.Second)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if err := server.Stop(shutdownCtx); err != nil {
		L_warn("http: stop", "error", err)
	}
	registry.Close()

	if registry.Recovery() {
		L_info("sessions: left running for recovery", "count", registry.Len())
	} else {
		n := registry.DestroyAll(shutdownCtx)
		L_info("sessions: destroyed", "count", n)
	}

	if err := scheduler.Stop(shutdownCtx); err != nil {
		L_warn("activity: stop", "error", err)
	}
	L_info("wabridge stopped")
	return nil
}
