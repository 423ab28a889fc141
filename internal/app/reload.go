package app

import (
	"context"
	"slices"
	"strings"
	"time"

	"forumsign/internal/config"
	"forumsign/internal/eventbus"
	"forumsign/internal/task/scheduler"
	logx "forumsign/pkg/logx"
)

// restartOnly sections are read once at startup.
var restartOnly = []string{"storage", "http", "telegram"}

// validate is the config manager's pre-commit hook; a bad reload is
// rejected and the running config stays.
func (a *App) validate(ctx context.Context, cfg *config.Config) error {
	if _, err := mapTaskEngineConfig(cfg); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg, true); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapHTTPDefaults(cfg, logx.Nop()); err != nil {
		return err
	}
	return a.pm.ValidateConfig(ctx, cfg)
}

// reloadLoop applies committed configs. Bursts coalesce to the newest.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	last := a.cfgm.Get()
	for {
		var next *config.Config
		select {
		case <-ctx.Done():
			return
		case c, ok := <-sub:
			if !ok {
				return
			}
			next = c
		}
	drain:
		for {
			select {
			case newer := <-sub:
				if newer != nil {
					next = newer
				}
			default:
				break drain
			}
		}
		a.apply(ctx, last, next)
		last = next
	}
}

func (a *App) apply(ctx context.Context, prev, cfg *config.Config) {
	sections, attrs, pluginChanged := config.SummarizeConfigChange(prev, cfg)
	if len(pluginChanged) > 0 {
		a.log.Debug("plugin config changes detected", logx.Strings("plugins", pluginChanged))
	}
	for _, s := range restartOnly {
		if slices.Contains(sections, s) {
			a.log.Warn("config section changed; restart required for it to take effect", logx.String("section", s))
		}
	}

	if target, err := chatTarget(cfg); err == nil {
		a.logs.SetTelegramTarget(target.ChatID, cfg.Logging.Telegram.ThreadID)
	}
	a.logs.Apply(mapLogConfig(cfg))

	if ecfg, err := mapTaskEngineConfig(cfg); err != nil {
		a.log.Warn("invalid task_engine config; keeping previous", logx.Err(err))
	} else {
		wasOn := a.engine.Enabled()
		a.engine.Apply(ctx, ecfg)
		switch {
		case wasOn && !ecfg.Enabled:
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.engine.Stop(stopCtx)
			cancel()
			a.log.Info("task engine disabled via config")
		case !wasOn && ecfg.Enabled:
			a.engine.Start(ctx)
			a.log.Info("task engine enabled via config")
		}
	}
	a.sched.Apply(scheduler.Config{Enabled: cfg.Scheduler.Enabled, Timezone: cfg.Scheduler.Timezone})

	if ncfg, err := mapNotifierConfig(cfg, a.tg != nil); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		wasOn := a.notif.Enabled()
		a.notif.Apply(ncfg)
		switch {
		case wasOn && !ncfg.Enabled:
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		case !wasOn && ncfg.Enabled:
			a.notif.Start(ctx)
		}
	}

	a.api.Reconfigure(ctx, mapAPIConfig(cfg))
	a.pm.OnConfigUpdate(ctx, cfg)

	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Time: time.Now(), Data: sections})
	if len(sections) > 0 {
		fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
		a.log.Info("config reloaded", fields...)
	} else {
		a.log.Info("config reloaded (no changes)")
	}
}

// Validate runs the reload validator against the loaded config.
func (a *App) Validate(ctx context.Context) error {
	return a.validate(ctx, a.cfgm.Get())
}
