// Package app wires the services and check-in plugins together and owns
// their lifecycle and config hot reload.
package app

import (
	"context"
	"fmt"
	"time"

	"forumsign/internal/api"
	"forumsign/internal/config"
	"forumsign/internal/eventbus"
	"forumsign/internal/httpx"
	"forumsign/internal/notifier"
	"forumsign/internal/plugin"
	"forumsign/internal/plugin/builtin/deepflood"
	"forumsign/internal/plugin/builtin/enshan"
	rtsup "forumsign/internal/runtime/supervisor"
	"forumsign/internal/storage"
	"forumsign/internal/task/engine"
	"forumsign/internal/task/scheduler"
	kit "forumsign/internal/transport"
	"forumsign/internal/transport/telegram"
	logx "forumsign/pkg/logx"
)

// Options select how much of the app runs.
type Options struct {
	// Daemon enables triggers, retries, bot commands, the API and config
	// watching. One-shot CLI commands leave it off.
	Daemon bool
}

type App struct {
	opt  Options
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store   storage.Store
	tg      *telegram.Adapter
	browser *httpx.Browser

	engine *engine.Service
	sched  *scheduler.Service
	notif  *notifier.Service
	api    *api.Server

	pm *plugin.Manager
}

// New loads cfgPath and builds every service. Nothing runs until Start.
func New(cfgPath string, opt Options) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	return build(cfgm, cfg, opt)
}

func build(cfgm *config.ConfigManager, cfg *config.Config, opt Options) (*App, error) {
	a := &App{opt: opt, cfgm: cfgm}

	if cfg.Telegram.Token != "" {
		pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		a.tg, err = telegram.New(telegram.Config{
			Token:        cfg.Telegram.Token,
			PollTimeout:  pollTimeout,
			Commands:     opt.Daemon && cfg.Telegram.Commands,
			OwnerUserIDs: cfg.Telegram.OwnerUserIDs,
		}, logx.NewConsole("INFO").With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
	}

	// Set the Telegram log target before enabling the sink so Apply does
	// not warn about a missing chat.
	logCfg := mapLogConfig(cfg)
	boot := logCfg
	boot.Telegram.Enabled = false
	var sender kit.Sender
	if a.tg != nil {
		sender = a.tg
	}
	a.logs, a.log = logx.New(boot, sender)
	target, err := chatTarget(cfg)
	if err != nil {
		return nil, err
	}
	a.logs.SetTelegramTarget(target.ChatID, cfg.Logging.Telegram.ThreadID)
	a.logs.Apply(logCfg)
	log := a.log
	a.log = log.With(logx.String("comp", "app"))

	a.bus = eventbus.New()

	sc, persistent, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	if a.store, err = storage.Open(sc, log); err != nil {
		return nil, err
	}
	if persistent {
		a.log.Info("storage enabled", logx.String("driver", sc.Driver))
	} else {
		a.log.Warn("storage disabled; history is kept in memory only")
	}

	deps := plugin.Deps{
		Logger: log,
		Store:  a.store,
		Bus:    a.bus,
	}

	if opt.Daemon {
		engCfg, err := mapTaskEngineConfig(cfg)
		if err != nil {
			return nil, err
		}
		a.engine = engine.New(engCfg, log.With(logx.String("comp", "taskengine")), a.bus)
		a.sched = scheduler.New(scheduler.Config{
			Enabled:  cfg.Scheduler.Enabled,
			Timezone: cfg.Scheduler.Timezone,
		}, a.engine, log.With(logx.String("comp", "scheduler")), a.bus)
		deps.Scheduler = a.sched
	}

	ncfg, err := mapNotifierConfig(cfg, a.tg != nil)
	if err != nil {
		return nil, err
	}
	a.notif = notifier.New(ncfg, log.With(logx.String("comp", "notifier")), a.bus, a.store)
	a.notif.Register(channelLog, notifier.LogSender{Log: log.With(logx.String("comp", "notify.log"))})
	if a.tg != nil {
		a.notif.Register(channelTelegram, a.tg)
	}
	deps.Notifier = a.notif

	if deps.HTTP, a.browser, err = mapHTTPDefaults(cfg, log.With(logx.String("comp", "browser"))); err != nil {
		return nil, err
	}

	a.pm = plugin.NewManager(log.With(logx.String("comp", "plugins")), cfgm, deps)
	a.pm.Register(deepflood.New(), enshan.New())

	if opt.Daemon {
		a.api = api.New(mapAPIConfig(cfg), log, a.pm, a.sched, a.store)
		if a.tg != nil && cfg.Telegram.Commands {
			a.registerCommands(a.tg)
		}
	}
	return a, nil
}

func (a *App) Plugins() *plugin.Manager { return a.pm }

func (a *App) Logger() logx.Logger { return a.log }

// Done is closed when the app supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	c := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(a.validate)

	a.notif.Start(c)
	if a.opt.Daemon {
		if a.engine.Enabled() {
			a.engine.Start(c)
		}
		a.sched.Start(c)
	}

	if err := a.pm.StartAll(c); err != nil {
		return err
	}
	if !a.opt.Daemon {
		return nil
	}

	if a.tg != nil {
		if err := a.tg.Start(c); err != nil {
			return err
		}
	}
	if a.api.Enabled() {
		a.api.Start(c)
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started", logx.Strings("plugins", a.RunningPlugins()))
	return nil
}

// Stop shuts everything down in dependency order. Each step is bounded so
// one stuck component cannot stall the rest.
func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		// Built but never started.
		if a.browser != nil {
			_ = a.browser.Close()
		}
		_ = a.store.Close()
		return a.logs.Close()
	}
	a.log.Info("stopping")
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			max = min(max, time.Until(dl))
		}
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("plugins", 4*time.Second, func(c context.Context) error { a.pm.StopAll(c, plugin.StopAppStop); return nil })
	if a.opt.Daemon {
		step("api", time.Second, func(c context.Context) error { a.api.Stop(c); return nil })
		step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
		step("taskengine", 2*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	}
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	if a.tg != nil {
		step("telegram", 2*time.Second, a.tg.Stop)
	}
	if a.browser != nil {
		step("browser", 3*time.Second, func(context.Context) error { return a.browser.Close() })
	}
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	return a.logs.Close()
}
